package pipeline

import (
	"context"
	"sort"
	"sync"

	"github.com/isdmx/agentbox/sandbox"
)

// Store is the persistence collaborator for log entries and artifact records.
type Store interface {
	// SaveLogEntries appends entries. Sequence numbers are assigned by the caller.
	SaveLogEntries(ctx context.Context, entries []LogEntry) error
	// ListLogEntries returns entries with SequenceNumber > afterSeq in sequence
	// order. A limit <= 0 means no limit.
	ListLogEntries(ctx context.Context, executionID string, afterSeq int64, limit int) ([]LogEntry, error)
	// LastSequence returns the highest sequence number stored for the
	// execution, or 0 when there is none.
	LastSequence(ctx context.Context, executionID string) (int64, error)

	SaveArtifact(ctx context.Context, artifact Artifact) error
	ListArtifacts(ctx context.Context, executionID string) ([]Artifact, error)
	GetArtifact(ctx context.Context, id string) (Artifact, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu        sync.RWMutex
	logs      map[string][]LogEntry
	artifacts map[string]Artifact
	byExec    map[string][]string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		logs:      make(map[string][]LogEntry),
		artifacts: make(map[string]Artifact),
		byExec:    make(map[string][]string),
	}
}

func (m *MemoryStore) SaveLogEntries(_ context.Context, entries []LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		m.logs[e.ExecutionID] = append(m.logs[e.ExecutionID], e)
	}
	return nil
}

func (m *MemoryStore) ListLogEntries(_ context.Context, executionID string, afterSeq int64, limit int) ([]LogEntry, error) {
	m.mu.RLock()
	all := m.logs[executionID]
	out := make([]LogEntry, 0, len(all))
	for _, e := range all {
		if e.SequenceNumber > afterSeq {
			out = append(out, e)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) LastSequence(_ context.Context, executionID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var last int64
	for _, e := range m.logs[executionID] {
		last = max(last, e.SequenceNumber)
	}
	return last, nil
}

func (m *MemoryStore) SaveArtifact(_ context.Context, a Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.artifacts[a.ID]; exists {
		return sandbox.NewError(sandbox.KindInvalidRequest, "save_artifact", "artifact "+a.ID+" already recorded", nil)
	}
	m.artifacts[a.ID] = a
	m.byExec[a.ExecutionID] = append(m.byExec[a.ExecutionID], a.ID)
	return nil
}

func (m *MemoryStore) ListArtifacts(_ context.Context, executionID string) ([]Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byExec[executionID]
	out := make([]Artifact, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.artifacts[id])
	}
	return out, nil
}

func (m *MemoryStore) GetArtifact(_ context.Context, id string) (Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.artifacts[id]
	if !ok {
		return Artifact{}, sandbox.NewError(sandbox.KindArtifactNotFound, "get_artifact", "artifact "+id+" not found", nil)
	}
	return a, nil
}
