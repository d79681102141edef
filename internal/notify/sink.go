package notify

import (
	"log/slog"
	"sync"
	"time"
)

// BadgeState is what a client polling the badge sees.
type BadgeState struct {
	Label   string    `json:"label"`
	Visible bool      `json:"visible"`
	Since   time.Time `json:"since"`
}

// Badge keeps the current badge state in memory.
type Badge struct {
	mu    sync.RWMutex
	state BadgeState
	now   func() time.Time
}

// NewBadge creates a hidden badge.
func NewBadge() *Badge {
	return &Badge{now: time.Now}
}

// Show makes label visible.
func (b *Badge) Show(label string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BadgeState{Label: label, Visible: true, Since: b.now()}
}

// Hide hides the badge and keeps the last label.
func (b *Badge) Hide() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.Visible = false
	b.state.Since = b.now()
}

// State returns a copy of the badge state.
func (b *Badge) State() BadgeState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// LogSink writes show and hide events to a logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Show(label string) { s.Logger.Info("video quality", "label", label) }
func (s LogSink) Hide()             {}

// MultiSink fans out to several sinks in order.
func MultiSink(sinks ...Sink) Sink {
	return multiSink(sinks)
}

type multiSink []Sink

func (m multiSink) Show(label string) {
	for _, s := range m {
		s.Show(label)
	}
}

func (m multiSink) Hide() {
	for _, s := range m {
		s.Hide()
	}
}
