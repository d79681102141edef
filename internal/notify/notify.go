// Package notify shows the selected quality label for a while after each selection.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/agleyzer/qualityfix/internal/quality"
	"github.com/agleyzer/qualityfix/internal/selection"
)

// Notifier receives newly selected labels. Notify must not block.
type Notifier interface {
	Notify(label string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(label string)

// Notify calls f(label).
func (f NotifierFunc) Notify(label string) { f(label) }

// Discard ignores every notification.
var Discard Notifier = NotifierFunc(func(string) {})

// Sink renders the label.
type Sink interface {
	Show(label string)
	Hide()
}

// Display schedules a show after showDelay and a hide hideAfter later.
// Every Notify bumps a version; scheduled tasks from older versions do nothing,
// so a newer label is never hidden by an older timer.
type Display struct {
	mu        sync.Mutex
	version   uint64
	sink      Sink
	showDelay time.Duration
	hideAfter time.Duration
	logger    *slog.Logger
}

// NewDisplay creates a Display writing to sink.
func NewDisplay(sink Sink, showDelay, hideAfter time.Duration, logger *slog.Logger) *Display {
	return &Display{
		sink:      sink,
		showDelay: showDelay,
		hideAfter: hideAfter,
		logger:    logger,
	}
}

// Notify schedules label for display and returns immediately.
func (d *Display) Notify(label string) {
	d.mu.Lock()
	d.version++
	v := d.version
	d.mu.Unlock()

	time.AfterFunc(d.showDelay, func() { d.show(v, label) })
}

func (d *Display) show(v uint64, label string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if v != d.version {
		return
	}
	d.sink.Show(label)
	d.logger.Debug("quality shown", "label", label, "version", v)

	time.AfterFunc(d.hideAfter, func() { d.hide(v) })
}

func (d *Display) hide(v uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if v != d.version {
		return
	}
	d.sink.Hide()
	d.logger.Debug("quality hidden", "version", v)
}

// Watcher re-displays the last known label when playback becomes ready.
// It only reads the selection state.
type Watcher struct {
	state    selection.Reader
	notifier Notifier
}

// NewWatcher creates a Watcher.
func NewWatcher(state selection.Reader, notifier Notifier) *Watcher {
	return &Watcher{state: state, notifier: notifier}
}

// Ready signals that a player can play. Returns the label that was
// re-displayed, or "" if nothing is known yet.
func (w *Watcher) Ready() string {
	label := w.state.Get().Label
	if label == "" || label == quality.Unknown {
		return ""
	}
	w.notifier.Notify(label)
	return label
}
