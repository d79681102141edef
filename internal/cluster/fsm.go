// Package cluster replicates the quality selection state across proxy
// instances with Raft.
package cluster

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/raft"

	"github.com/agleyzer/qualityfix/internal/quality"
	"github.com/agleyzer/qualityfix/internal/selection"
)

func init() {
	// Register types for gob encoding/decoding
	gob.Register(RecordSelectionCommand{})
}

// ClusterState represents the shared state across all cluster nodes.
type ClusterState struct {
	// Label is the last selected quality label.
	Label string
	// At is when the selection was made on the node that recorded it.
	At time.Time
	// Index is the Raft log index that produced this state.
	Index uint64
}

// CommandType identifies the type of Raft command.
type CommandType uint8

const (
	// CommandRecordSelection stores a new selection.
	CommandRecordSelection CommandType = 1
)

// Command represents a Raft log command.
type Command struct {
	Type CommandType
	Data any
}

// RecordSelectionCommand carries one selection.
type RecordSelectionCommand struct {
	Label string
	At    time.Time
}

// SelectionFSM implements the raft.FSM interface for selection state.
type SelectionFSM struct {
	mu     sync.RWMutex
	state  ClusterState
	logger *slog.Logger
}

// NewSelectionFSM creates a new SelectionFSM.
func NewSelectionFSM(logger *slog.Logger) *SelectionFSM {
	return &SelectionFSM{
		state:  ClusterState{Label: quality.Unknown},
		logger: logger,
	}
}

// Apply applies a Raft log entry to the FSM.
func (f *SelectionFSM) Apply(log *raft.Log) any {
	var cmd Command
	if err := gob.NewDecoder(bytes.NewReader(log.Data)).Decode(&cmd); err != nil {
		f.logger.Error("failed to decode command", "error", err)
		return fmt.Errorf("decode command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Type {
	case CommandRecordSelection:
		return f.applyRecordSelection(log.Index, cmd.Data)
	default:
		f.logger.Error("unknown command type", "type", cmd.Type)
		return fmt.Errorf("unknown command type: %d", cmd.Type)
	}
}

// applyRecordSelection overwrites the state. Log order decides; the last entry wins.
func (f *SelectionFSM) applyRecordSelection(index uint64, data any) any {
	rec, ok := data.(RecordSelectionCommand)
	if !ok {
		return fmt.Errorf("invalid record selection command data")
	}

	f.state = ClusterState{
		Label: rec.Label,
		At:    rec.At,
		Index: index,
	}
	f.logger.Debug("recorded selection", "label", rec.Label, "index", index)
	return nil
}

// Snapshot returns an FSMSnapshot for creating a point-in-time snapshot.
func (f *SelectionFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return &fsmSnapshot{state: f.state}, nil
}

// Restore restores the FSM state from a snapshot.
func (f *SelectionFSM) Restore(snapshot io.ReadCloser) error {
	defer snapshot.Close()

	var state ClusterState
	if err := gob.NewDecoder(snapshot).Decode(&state); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	f.mu.Lock()
	f.state = state
	f.mu.Unlock()

	f.logger.Info("restored FSM state from snapshot", "label", state.Label, "index", state.Index)
	return nil
}

// GetState returns a copy of the current FSM state.
func (f *SelectionFSM) GetState() ClusterState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// Selection converts the FSM state to a selection.Selection.
func (f *SelectionFSM) Selection() selection.Selection {
	s := f.GetState()
	return selection.Selection{Label: s.Label, At: s.At, Version: s.Index}
}

// fsmSnapshot implements raft.FSMSnapshot.
type fsmSnapshot struct {
	state ClusterState
}

// Persist writes the snapshot to the given sink.
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s.state); err != nil {
		sink.Cancel()
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if _, err := sink.Write(buf.Bytes()); err != nil {
		sink.Cancel()
		return fmt.Errorf("write snapshot: %w", err)
	}

	return sink.Close()
}

// Release releases any resources held by the snapshot.
func (s *fsmSnapshot) Release() {}

// EncodeCommand encodes a command for Raft submission.
func EncodeCommand(cmd Command) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cmd); err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	return buf.Bytes(), nil
}
