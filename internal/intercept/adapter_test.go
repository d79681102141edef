package intercept

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agleyzer/qualityfix/internal/notify"
	"github.com/agleyzer/qualityfix/internal/quality"
	"github.com/agleyzer/qualityfix/internal/selection"
)

const masterManifest = `#EXTM3U
#EXT-X-VERSION:6
#EXT-X-STREAM-INF:BANDWIDTH=288000,RESOLUTION=480x270
/v/270.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2176000,RESOLUTION=1280x720
/v/720.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=832000,RESOLUTION=640x360
/v/360.m3u8
`

const mediaManifest = `#EXTM3U
#EXT-X-TARGETDURATION:4
#EXTINF:4.0,
seg0.ts
`

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// fakeResponse is an in-memory Response.
type fakeResponse struct {
	url        string
	text       string
	readErr    error
	replaceErr error
	replaced   *string
}

func (r *fakeResponse) URL() string { return r.url }

func (r *fakeResponse) Text() (string, error) {
	if r.readErr != nil {
		return "", r.readErr
	}
	return r.text, nil
}

func (r *fakeResponse) Replace(text string) error {
	if r.replaceErr != nil {
		return r.replaceErr
	}
	r.replaced = &text
	return nil
}

// fakeSource delivers responses to registered handlers.
type fakeSource struct {
	handlers []Handler
}

func (s *fakeSource) Matches(url string) bool { return strings.HasSuffix(url, ".m3u8") }
func (s *fakeSource) OnComplete(h Handler)    { s.handlers = append(s.handlers, h) }

func (s *fakeSource) deliver(resp Response) {
	for _, h := range s.handlers {
		h(resp)
	}
}

// labelRecorder collects notified labels.
type labelRecorder struct {
	mu     sync.Mutex
	labels []string
}

func (l *labelRecorder) Notify(label string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.labels = append(l.labels, label)
}

func (l *labelRecorder) Labels() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.labels...)
}

type failingStore struct {
	*selection.Memory
}

func (failingStore) Set(string, time.Time) (selection.Selection, error) {
	return selection.Selection{}, errors.New("store unavailable")
}

func TestAdapter_RewritesMasterManifest(t *testing.T) {
	store := selection.NewMemory()
	rec := &labelRecorder{}
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	a := New(store, rec, createTestLogger(), WithClock(func() time.Time { return at }))

	src := &fakeSource{}
	a.Attach(src)

	resp := &fakeResponse{url: "https://video.twimg.com/a/master.m3u8", text: masterManifest}
	src.deliver(resp)

	if resp.replaced == nil {
		t.Fatal("expected response text to be replaced")
	}
	want := "#EXTM3U\n#EXT-X-VERSION:6\n#EXT-X-STREAM-INF:BANDWIDTH=2176000,RESOLUTION=1280x720\n/v/720.m3u8\n"
	if *resp.replaced != want {
		t.Errorf("replaced text =\n%q\nwant\n%q", *resp.replaced, want)
	}

	sel := store.Get()
	if sel.Label != "720p" {
		t.Errorf("selection label = %q, want 720p", sel.Label)
	}
	if !sel.At.Equal(at) {
		t.Errorf("selection time = %v, want %v", sel.At, at)
	}

	if labels := rec.Labels(); len(labels) != 1 || labels[0] != "720p" {
		t.Errorf("notified labels = %v, want [720p]", labels)
	}

	stats := a.Stats()
	if stats["handled"].(uint64) != 1 || stats["rewritten"].(uint64) != 1 || stats["failed"].(uint64) != 0 {
		t.Errorf("unexpected stats: %v", stats)
	}
}

func TestAdapter_PassThrough(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "media playlist", text: mediaManifest},
		{name: "unrecognized", text: "hello world\n"},
		{name: "master with only dangling markers", text: "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1\n#EXT-X-ENDLIST\n"},
		{name: "empty", text: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := selection.NewMemory()
			rec := &labelRecorder{}
			a := New(store, rec, createTestLogger())

			resp := &fakeResponse{url: "https://video.twimg.com/x.m3u8", text: tt.text}
			a.Handle(resp)

			if resp.replaced != nil {
				t.Errorf("response should not be replaced, got %q", *resp.replaced)
			}
			if sel := store.Get(); sel.Label != quality.Unknown || sel.Version != 0 {
				t.Errorf("selection changed: %+v", sel)
			}
			if len(rec.Labels()) != 0 {
				t.Errorf("notifier should not be called, got %v", rec.Labels())
			}
		})
	}
}

func TestAdapter_ReadFailureLeavesResponse(t *testing.T) {
	store := selection.NewMemory()
	a := New(store, notify.Discard, createTestLogger())

	resp := &fakeResponse{url: "https://video.twimg.com/x.m3u8", readErr: errors.New("body gone")}
	a.Handle(resp)

	if resp.replaced != nil {
		t.Error("response should not be replaced")
	}
	if store.Get().Version != 0 {
		t.Error("selection should not change on read failure")
	}
	if a.Stats()["failed"].(uint64) != 1 {
		t.Errorf("failed = %v, want 1", a.Stats()["failed"])
	}
}

func TestAdapter_ReplaceFailureSkipsState(t *testing.T) {
	store := selection.NewMemory()
	rec := &labelRecorder{}
	a := New(store, rec, createTestLogger())

	resp := &fakeResponse{
		url:        "https://video.twimg.com/x.m3u8",
		text:       masterManifest,
		replaceErr: errors.New("response already consumed"),
	}
	a.Handle(resp)

	if store.Get().Version != 0 {
		t.Error("selection should not be recorded when replace fails")
	}
	if len(rec.Labels()) != 0 {
		t.Error("notifier should not be called when replace fails")
	}
}

func TestAdapter_StoreFailureKeepsRewrite(t *testing.T) {
	rec := &labelRecorder{}
	a := New(failingStore{selection.NewMemory()}, rec, createTestLogger())

	resp := &fakeResponse{url: "https://video.twimg.com/x.m3u8", text: masterManifest}
	a.Handle(resp)

	if resp.replaced == nil {
		t.Fatal("rewritten text should remain committed")
	}
	if labels := rec.Labels(); len(labels) != 1 || labels[0] != "720p" {
		t.Errorf("notified labels = %v, want [720p]", labels)
	}
}

func TestAdapter_Disabled(t *testing.T) {
	store := selection.NewMemory()
	a := New(store, notify.Discard, createTestLogger(), WithEnabled(false))

	resp := &fakeResponse{url: "https://video.twimg.com/x.m3u8", text: masterManifest}
	a.Handle(resp)

	if resp.replaced != nil {
		t.Error("disabled adapter must not rewrite")
	}
	if a.Stats()["handled"].(uint64) != 0 {
		t.Error("disabled adapter must not count responses")
	}
}

func TestAdapter_Verify(t *testing.T) {
	store := selection.NewMemory()
	a := New(store, notify.Discard, createTestLogger(), WithVerify(true))

	resp := &fakeResponse{url: "https://video.twimg.com/x.m3u8", text: masterManifest}
	a.Handle(resp)

	if resp.replaced == nil {
		t.Fatal("verified rewrite should be committed")
	}
	if store.Get().Label != "720p" {
		t.Errorf("label = %q, want 720p", store.Get().Label)
	}
}

func TestAdapter_RecoversFromPanic(t *testing.T) {
	store := selection.NewMemory()
	a := New(store, notify.NotifierFunc(func(string) { panic("boom") }), createTestLogger())

	resp := &fakeResponse{url: "https://video.twimg.com/x.m3u8", text: masterManifest}
	a.Handle(resp)

	if a.Stats()["failed"].(uint64) != 1 {
		t.Errorf("failed = %v, want 1", a.Stats()["failed"])
	}
}

func TestAdapter_LastCompletionWins(t *testing.T) {
	store := selection.NewMemory()
	a := New(store, notify.Discard, createTestLogger())

	low := "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=400000\nlow.m3u8\n"
	a.Handle(&fakeResponse{url: "https://video.twimg.com/a.m3u8", text: masterManifest})
	a.Handle(&fakeResponse{url: "https://video.twimg.com/b.m3u8", text: low})

	sel := store.Get()
	if sel.Label != "240p" {
		t.Errorf("label = %q, want 240p", sel.Label)
	}
	if sel.Version != 2 {
		t.Errorf("version = %d, want 2", sel.Version)
	}
}

func TestMatcher(t *testing.T) {
	m, err := NewMatcher("video.twimg.com")
	if err != nil {
		t.Fatalf("NewMatcher() error = %v", err)
	}

	tests := []struct {
		url  string
		want bool
	}{
		{"https://video.twimg.com/ext_tw_video/1/pu/pl/abc.m3u8", true},
		{"https://video.twimg.com/a.m3u8?tag=12&container=fmp4", true},
		{"HTTPS://VIDEO.TWIMG.COM/A.M3U8", true},
		{"http://video.twimg.com/a.m3u8", false},
		{"https://video.twimg.com/a.mp4", false},
		{"https://video.twimg.com/.m3u8", false},
		{"https://videoXtwimg.com/a.m3u8", false},
		{"https://evil.example/video.twimg.com/a.m3u8", false},
		{"https://video.twimg.com/a.m3u8x", false},
	}

	for _, tt := range tests {
		if got := m.Matches(tt.url); got != tt.want {
			t.Errorf("Matches(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestNewMatcher_Invalid(t *testing.T) {
	for _, host := range []string{"", "  ", "host/path", "host?q"} {
		if _, err := NewMatcher(host); err == nil {
			t.Errorf("NewMatcher(%q) should fail", host)
		}
	}
}
