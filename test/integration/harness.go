// Package integration runs the rewriting proxy end to end, in process.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agleyzer/qualityfix/internal/cluster"
	"github.com/agleyzer/qualityfix/internal/intercept"
	"github.com/agleyzer/qualityfix/internal/notify"
	"github.com/agleyzer/qualityfix/internal/proxy"
	"github.com/agleyzer/qualityfix/internal/selection"
	"github.com/agleyzer/qualityfix/internal/server"
)

// TestHarness manages an upstream manifest host and qualityfix instances.
type TestHarness struct {
	t         *testing.T
	logger    *slog.Logger
	upstream  *httptest.Server
	mu        sync.RWMutex
	files     map[string]string
	instances []*Instance
}

// Instance is one running qualityfix stack.
type Instance struct {
	ID       string
	HTTPPort int
	Store    selection.Store
	Cluster  *cluster.Manager
	Adapter  *intercept.Adapter
	Badge    *notify.Badge

	cancel context.CancelFunc
	done   chan error
}

// InstanceOptions configures StartInstance.
type InstanceOptions struct {
	Disabled  bool
	NoBadge   bool
	ShowDelay time.Duration
	HideAfter time.Duration
	Cluster   *cluster.Config
}

// NewTestHarness creates a harness with a TLS upstream serving added playlists.
func NewTestHarness(t *testing.T) *TestHarness {
	t.Helper()

	h := &TestHarness{
		t: t,
		logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		})),
		files: make(map[string]string),
	}

	h.upstream = httptest.NewTLSServer(http.HandlerFunc(h.serveFile))
	return h
}

func (h *TestHarness) serveFile(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	content, ok := h.files[r.URL.Path]
	h.mu.RUnlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	io.WriteString(w, content)
}

// AddPlaylist serves content at path on the upstream.
func (h *TestHarness) AddPlaylist(path, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.files[path] = content
}

// StartInstance wires and starts a qualityfix stack on a free port.
func (h *TestHarness) StartInstance(opts InstanceOptions) *Instance {
	h.t.Helper()

	upstreamURL, err := url.Parse(h.upstream.URL)
	if err != nil {
		h.t.Fatalf("failed to parse upstream URL: %v", err)
	}

	matcher, err := intercept.NewMatcher(upstreamURL.Host)
	if err != nil {
		h.t.Fatalf("failed to build matcher: %v", err)
	}

	inst := &Instance{
		ID:       fmt.Sprintf("instance-%d", len(h.instances)),
		HTTPPort: findAvailablePort(h.t),
		done:     make(chan error, 1),
	}

	var serverOpts []server.Option
	var store selection.Store = selection.NewMemory()

	if opts.Cluster != nil {
		manager, err := cluster.NewManager(*opts.Cluster, h.logger)
		if err != nil {
			h.t.Fatalf("failed to create cluster manager: %v", err)
		}
		if err := manager.Start(context.Background()); err != nil {
			h.t.Fatalf("failed to start cluster manager: %v", err)
		}
		inst.ID = opts.Cluster.RaftID
		inst.Cluster = manager
		store = selection.NewMirror(manager, h.logger)
		serverOpts = append(serverOpts, server.WithStats("cluster", manager.Stats))
	}
	inst.Store = store

	notifier := notify.Discard
	if !opts.NoBadge {
		inst.Badge = notify.NewBadge()
		notifier = notify.NewDisplay(inst.Badge, opts.ShowDelay, opts.HideAfter, h.logger)
		serverOpts = append(serverOpts, server.WithBadge(inst.Badge))
	}

	inst.Adapter = intercept.New(store, notifier, h.logger,
		intercept.WithEnabled(!opts.Disabled),
		intercept.WithVerify(true),
	)

	p := proxy.New(upstreamURL, matcher, h.logger, proxy.WithTransport(h.upstream.Client().Transport))
	inst.Adapter.Attach(p)

	serverOpts = append(serverOpts,
		server.WithStats("adapter", inst.Adapter.Stats),
		server.WithWatcher(notify.NewWatcher(store, notifier)),
	)
	srv := server.New(p, store, inst.HTTPPort, h.logger, serverOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	inst.cancel = cancel
	go func() {
		inst.done <- srv.Start(ctx)
	}()

	h.instances = append(h.instances, inst)
	waitForServer(h.t, fmt.Sprintf("http://localhost:%d/health", inst.HTTPPort), 5*time.Second)
	return inst
}

// StartCluster starts nodeCount clustered instances and waits for a leader.
func (h *TestHarness) StartCluster(nodeCount int) []*Instance {
	h.t.Helper()

	peers := make([]string, nodeCount)
	for i := range peers {
		peers[i] = fmt.Sprintf("127.0.0.1:%d", findAvailablePort(h.t))
	}

	instances := make([]*Instance, nodeCount)
	for i := range instances {
		instances[i] = h.StartInstance(InstanceOptions{
			NoBadge: true,
			Cluster: &cluster.Config{
				RaftID:            fmt.Sprintf("node%d", i),
				BindAddr:          peers[i],
				Peers:             peers,
				HeartbeatTimeout:  100 * time.Millisecond,
				ElectionTimeout:   100 * time.Millisecond,
				SnapshotInterval:  time.Hour,
				SnapshotThreshold: 10000,
			},
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, inst := range instances {
		if err := inst.Cluster.WaitForLeader(ctx); err != nil {
			h.t.Fatalf("no leader elected for %s: %v", inst.ID, err)
		}
	}

	return instances
}

// Leader returns the instance whose raft node currently leads.
func (h *TestHarness) Leader(instances []*Instance) *Instance {
	h.t.Helper()

	var leader *Instance
	h.WaitForCondition(func() bool {
		for _, inst := range instances {
			if inst.Cluster.IsLeader() {
				leader = inst
				return true
			}
		}
		return false
	}, 10*time.Second, "raft leader")
	return leader
}

// Fetch requests path from inst through its proxy and returns status and body.
func (h *TestHarness) Fetch(inst *Instance, path string) (int, string) {
	h.t.Helper()

	resp, err := http.Get(fmt.Sprintf("http://localhost:%d%s", inst.HTTPPort, path))
	if err != nil {
		h.t.Fatalf("failed to fetch %s: %v", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("failed to read %s body: %v", path, err)
	}
	return resp.StatusCode, string(body)
}

// QualityResponse is the body of GET /quality.
type QualityResponse struct {
	Selection selection.Selection `json:"selection"`
	Badge     *notify.BadgeState  `json:"badge"`
}

// FetchQuality reads /quality from inst.
func (h *TestHarness) FetchQuality(inst *Instance) QualityResponse {
	h.t.Helper()

	status, body := h.Fetch(inst, "/quality")
	if status != http.StatusOK {
		h.t.Fatalf("unexpected /quality status: %d", status)
	}

	var q QualityResponse
	if err := json.Unmarshal([]byte(body), &q); err != nil {
		h.t.Fatalf("failed to decode /quality: %v", err)
	}
	return q
}

// Replay posts to /quality/replay on inst.
func (h *TestHarness) Replay(inst *Instance) string {
	h.t.Helper()

	resp, err := http.Post(fmt.Sprintf("http://localhost:%d/quality/replay", inst.HTTPPort), "application/json", nil)
	if err != nil {
		h.t.Fatalf("failed to post replay: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Label string `json:"label"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		h.t.Fatalf("failed to decode replay response: %v", err)
	}
	return body.Label
}

// Cleanup stops every instance and the upstream.
func (h *TestHarness) Cleanup() {
	h.t.Helper()

	for _, inst := range h.instances {
		inst.cancel()
		select {
		case <-inst.done:
		case <-time.After(5 * time.Second):
			h.t.Logf("%s did not stop in time", inst.ID)
		}
		if inst.Cluster != nil {
			inst.Cluster.Shutdown()
		}
	}

	h.upstream.Close()
}

// WaitForCondition polls until a condition is met or timeout occurs.
func (h *TestHarness) WaitForCondition(condition func() bool, timeout time.Duration, description string) {
	h.t.Helper()

	deadline := time.Now().Add(timeout)
	for !condition() {
		if time.Now().After(deadline) {
			h.t.Fatalf("timeout waiting for condition: %s", description)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// CountVariants counts variant markers in manifest text.
func CountVariants(content string) int {
	return strings.Count(content, "#EXT-X-STREAM-INF:")
}

// waitForServer waits for a server to become available.
func waitForServer(t *testing.T, url string, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(50 * time.Millisecond)
	}

	t.Fatalf("server at %s did not become available within %v", url, timeout)
}

// findAvailablePort finds an available TCP port.
func findAvailablePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available port: %v", err)
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port
}
