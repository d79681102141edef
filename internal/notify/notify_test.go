package notify

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/agleyzer/qualityfix/internal/selection"
)

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// recordingSink remembers every call.
type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSink) Show(label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "show:"+label)
}

func (r *recordingSink) Hide() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "hide")
}

func (r *recordingSink) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func waitFor(t *testing.T, cond func() bool, timeout time.Duration, description string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for condition: %s", description)
}

func TestDisplay_ShowThenHide(t *testing.T) {
	sink := &recordingSink{}
	d := NewDisplay(sink, 10*time.Millisecond, 30*time.Millisecond, createTestLogger())

	d.Notify("1080p")

	if events := sink.Events(); len(events) != 0 {
		t.Fatalf("Notify() must not show synchronously, got %v", events)
	}

	waitFor(t, func() bool { return len(sink.Events()) == 2 }, time.Second, "show and hide")

	events := sink.Events()
	if events[0] != "show:1080p" || events[1] != "hide" {
		t.Errorf("events = %v, want [show:1080p hide]", events)
	}
}

func TestDisplay_NewerNotificationSupersedes(t *testing.T) {
	sink := &recordingSink{}
	d := NewDisplay(sink, 10*time.Millisecond, 100*time.Millisecond, createTestLogger())

	d.Notify("360p")
	d.Notify("1080p")

	waitFor(t, func() bool { return len(sink.Events()) >= 1 }, time.Second, "first show")
	time.Sleep(20 * time.Millisecond)

	events := sink.Events()
	if len(events) != 1 || events[0] != "show:1080p" {
		t.Fatalf("events = %v, want only [show:1080p]", events)
	}
}

func TestDisplay_OldHideDoesNotHideNewLabel(t *testing.T) {
	sink := &recordingSink{}
	d := NewDisplay(sink, 5*time.Millisecond, 60*time.Millisecond, createTestLogger())

	d.Notify("720p")
	waitFor(t, func() bool { return len(sink.Events()) == 1 }, time.Second, "first show")

	// Second notification lands while the first hide is pending
	time.Sleep(30 * time.Millisecond)
	d.Notify("4K")
	waitFor(t, func() bool { return len(sink.Events()) == 2 }, time.Second, "second show")

	// The first hide would have fired at ~65ms; give it time to (not) fire
	time.Sleep(40 * time.Millisecond)
	events := sink.Events()
	if len(events) != 2 || events[1] != "show:4K" {
		t.Fatalf("events = %v, want [show:720p show:4K]", events)
	}

	waitFor(t, func() bool { return len(sink.Events()) == 3 }, time.Second, "second hide")
	if last := sink.Events()[2]; last != "hide" {
		t.Errorf("last event = %q, want hide", last)
	}
}

func TestBadge(t *testing.T) {
	b := NewBadge()
	if st := b.State(); st.Visible || st.Label != "" {
		t.Fatalf("new badge should be hidden and empty, got %+v", st)
	}

	b.Show("1440p")
	st := b.State()
	if !st.Visible || st.Label != "1440p" {
		t.Errorf("after Show: %+v", st)
	}
	if st.Since.IsZero() {
		t.Error("Since should be set")
	}

	b.Hide()
	st = b.State()
	if st.Visible {
		t.Error("badge should be hidden")
	}
	if st.Label != "1440p" {
		t.Errorf("Hide() should keep the last label, got %q", st.Label)
	}
}

func TestMultiSink(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	s := MultiSink(a, b)

	s.Show("480p")
	s.Hide()

	for i, r := range []*recordingSink{a, b} {
		events := r.Events()
		if len(events) != 2 || events[0] != "show:480p" || events[1] != "hide" {
			t.Errorf("sink %d events = %v", i, events)
		}
	}
}

func TestWatcher_Ready(t *testing.T) {
	state := selection.NewMemory()
	var got []string
	w := NewWatcher(state, NotifierFunc(func(label string) { got = append(got, label) }))

	if label := w.Ready(); label != "" {
		t.Errorf("Ready() before any selection = %q, want empty", label)
	}
	if len(got) != 0 {
		t.Errorf("notifier called with unknown label: %v", got)
	}

	state.Set("1080p", time.Now())
	if label := w.Ready(); label != "1080p" {
		t.Errorf("Ready() = %q, want 1080p", label)
	}
	if len(got) != 1 || got[0] != "1080p" {
		t.Errorf("notified labels = %v, want [1080p]", got)
	}

	// Ready never alters the selection
	if sel := state.Get(); sel.Version != 1 {
		t.Errorf("selection version changed to %d", sel.Version)
	}
}
