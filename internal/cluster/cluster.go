package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"

	"github.com/agleyzer/qualityfix/internal/selection"
)

var (
	// ErrNotLeader is returned by Set on a node that cannot accept writes.
	ErrNotLeader = errors.New("node is not the raft leader")

	// ErrNotRunning is returned by Set before Start or after Shutdown.
	ErrNotRunning = errors.New("cluster is not running")
)

const (
	applyTimeout  = 5 * time.Second
	leaderPoll    = 100 * time.Millisecond
	maxTCPPool    = 3
	transportWait = 10 * time.Second
)

// Manager replicates the selection state over raft. It satisfies
// selection.Store; every node reads, only the leader writes.
type Manager struct {
	config Config
	fsm    *SelectionFSM
	logger *slog.Logger

	mu        sync.RWMutex
	raft      *raft.Raft
	transport *raft.NetworkTransport
	stopped   bool
}

var _ selection.Store = (*Manager)(nil)

// NewManager validates config and returns a Manager that has not joined
// the cluster yet.
func NewManager(config Config, logger *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Manager{
		config: config,
		fsm:    NewSelectionFSM(logger),
		logger: logger,
	}, nil
}

func (m *Manager) raftConfig(logger hclog.Logger) *raft.Config {
	rc := raft.DefaultConfig()
	// Node IDs are bind addresses so the bootstrap peer list needs no ID mapping
	rc.LocalID = raft.ServerID(m.config.BindAddr)
	rc.HeartbeatTimeout = m.config.HeartbeatTimeout
	rc.ElectionTimeout = m.config.ElectionTimeout
	rc.LeaderLeaseTimeout = m.config.HeartbeatTimeout
	rc.SnapshotInterval = m.config.SnapshotInterval
	rc.SnapshotThreshold = m.config.SnapshotThreshold
	rc.Logger = logger
	return rc
}

func peerServers(peers []string) []raft.Server {
	servers := make([]raft.Server, 0, len(peers))
	for _, peer := range peers {
		servers = append(servers, raft.Server{
			ID:       raft.ServerID(peer),
			Address:  raft.ServerAddress(peer),
			Suffrage: raft.Voter,
		})
	}
	return servers
}

// Start opens the raft transport and bootstraps the peer set.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.raft != nil || m.stopped {
		return fmt.Errorf("cluster already started")
	}

	logger := newRaftLogger(m.logger, m.config.LogLevel)

	addr, err := net.ResolveTCPAddr("tcp", m.config.BindAddr)
	if err != nil {
		return fmt.Errorf("resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransportWithLogger(m.config.BindAddr, addr, maxTCPPool, transportWait, logger)
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}

	// Selections only matter while the process runs, so nothing touches disk
	store := raft.NewInmemStore()
	r, err := raft.NewRaft(m.raftConfig(logger), m.fsm, store, store, raft.NewInmemSnapshotStore(), transport)
	if err != nil {
		transport.Close()
		return fmt.Errorf("create raft: %w", err)
	}

	err = r.BootstrapCluster(raft.Configuration{Servers: peerServers(m.config.Peers)}).Error()
	if err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
		// A node rejoining an existing cluster cannot bootstrap; raft still runs
		m.logger.Warn("cluster bootstrap failed", "error", err)
	}

	m.raft = r
	m.transport = transport

	m.logger.Info("cluster started",
		"node_id", m.config.RaftID,
		"bind", m.config.BindAddr,
		"peers", len(m.config.Peers))
	return nil
}

// node returns the running raft instance, or nil.
func (m *Manager) node() *raft.Raft {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.stopped {
		return nil
	}
	return m.raft
}

// Set appends a selection to the raft log and returns it once applied here.
func (m *Manager) Set(label string, at time.Time) (selection.Selection, error) {
	r := m.node()
	if r == nil {
		return selection.Selection{}, ErrNotRunning
	}
	if r.State() != raft.Leader {
		return selection.Selection{}, ErrNotLeader
	}

	data, err := EncodeCommand(Command{
		Type: CommandRecordSelection,
		Data: RecordSelectionCommand{Label: label, At: at},
	})
	if err != nil {
		return selection.Selection{}, fmt.Errorf("encode command: %w", err)
	}

	future := r.Apply(data, applyTimeout)
	if err := future.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) {
			return selection.Selection{}, ErrNotLeader
		}
		return selection.Selection{}, fmt.Errorf("apply command: %w", err)
	}
	if err, ok := future.Response().(error); ok && err != nil {
		return selection.Selection{}, fmt.Errorf("apply command: %w", err)
	}

	return m.fsm.Selection(), nil
}

// Get returns the replicated selection as applied on this node.
func (m *Manager) Get() selection.Selection {
	return m.fsm.Selection()
}

// IsLeader reports whether this node accepts writes.
func (m *Manager) IsLeader() bool {
	r := m.node()
	return r != nil && r.State() == raft.Leader
}

// LeaderAddr returns the current leader's address, or "" when none is known.
func (m *Manager) LeaderAddr() string {
	r := m.node()
	if r == nil {
		return ""
	}
	addr, _ := r.LeaderWithID()
	return string(addr)
}

// State returns the raft role of this node.
func (m *Manager) State() string {
	m.mu.RLock()
	r := m.raft
	m.mu.RUnlock()

	if r == nil {
		return "NotStarted"
	}
	return r.State().String()
}

// Stats summarizes the node for the health endpoint.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"node_id": m.config.RaftID,
		"state":   m.State(),
		"leader":  m.LeaderAddr(),
		"peers":   len(m.config.Peers),
	}
}

// Shutdown stops raft and closes the transport. Later calls are no-ops.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}
	m.stopped = true

	var errs []error
	if m.raft != nil {
		if err := m.raft.Shutdown().Error(); err != nil {
			errs = append(errs, fmt.Errorf("shutdown raft: %w", err))
		}
	}
	if m.transport != nil {
		if err := m.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		m.logger.Error("cluster shutdown failed", "error", err)
		return err
	}
	m.logger.Info("cluster shut down")
	return nil
}

// WaitForLeader blocks until some node is known as leader or ctx is done.
func (m *Manager) WaitForLeader(ctx context.Context) error {
	ticker := time.NewTicker(leaderPoll)
	defer ticker.Stop()

	for m.LeaderAddr() == "" {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
