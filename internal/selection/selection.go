// Package selection holds the most recently selected quality label.
package selection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agleyzer/qualityfix/internal/quality"
)

// Selection is a point-in-time view of the selection state.
type Selection struct {
	// Label is the quality label of the last selected variant
	Label string `json:"label"`

	// At is when the selection was recorded (zero before the first one)
	At time.Time `json:"at"`

	// Version increases with every recorded selection
	Version uint64 `json:"version"`
}

// Reader exposes the current selection.
type Reader interface {
	Get() Selection
}

// Store records selections. The last Set wins.
type Store interface {
	Reader
	Set(label string, at time.Time) (Selection, error)
}

// Memory is an in-process Store.
type Memory struct {
	mu  sync.RWMutex
	cur Selection
}

// NewMemory creates a store whose label starts as "Unknown".
func NewMemory() *Memory {
	return &Memory{cur: Selection{Label: quality.Unknown}}
}

// Get returns the current selection.
func (m *Memory) Get() Selection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

// Set records a selection. It never fails.
func (m *Memory) Set(label string, at time.Time) (Selection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cur = Selection{
		Label:   label,
		At:      at,
		Version: m.cur.Version + 1,
	}
	return m.cur, nil
}

// Mirror keeps selections in a local Memory and copies each one to a remote
// Store in the background. Remote failures are only logged.
//
// The local and remote stores count versions independently, so Mirror keeps
// its own counter. It advances each time the visible selection changes.
type Mirror struct {
	local  *Memory
	remote Store
	logger *slog.Logger
	wg     sync.WaitGroup

	mu      sync.Mutex
	last    Selection
	version uint64
}

// NewMirror creates a Mirror over remote.
func NewMirror(remote Store, logger *slog.Logger) *Mirror {
	local := NewMemory()
	return &Mirror{
		local:  local,
		remote: remote,
		logger: logger,
		last:   local.Get(),
	}
}

// Get returns whichever of the local and remote selections was recorded last.
func (m *Mirror) Get() Selection {
	local := m.local.Get()
	remote := m.remote.Get()
	if remote.At.After(local.At) {
		return m.observe(remote, false)
	}
	return m.observe(local, false)
}

// observe stamps sel with the mirror's own version. A recorded selection
// always advances it.
func (m *Mirror) observe(sel Selection, recorded bool) Selection {
	m.mu.Lock()
	defer m.mu.Unlock()

	if recorded || sel.Label != m.last.Label || !sel.At.Equal(m.last.At) {
		m.version++
		m.last = sel
	}
	sel.Version = m.version
	return sel
}

// Set records locally and forwards to the remote store asynchronously.
func (m *Mirror) Set(label string, at time.Time) (Selection, error) {
	sel, _ := m.local.Set(label, at)
	sel = m.observe(sel, true)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if _, err := m.remote.Set(label, at); err != nil {
			m.logger.Debug("selection not replicated", "label", label, "error", err)
		}
	}()

	return sel, nil
}

// Flush waits for pending remote writes or until ctx is done.
func (m *Mirror) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
