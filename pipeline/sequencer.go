package pipeline

import (
	"context"
	"fmt"
	"sync"
)

// Sequencer hands out per-execution sequence numbers. The first reservation
// for an execution is seeded from Store.LastSequence so numbers continue
// where a previous process left off.
type Sequencer struct {
	store Store

	mu   sync.Mutex
	last map[string]int64
}

func NewSequencer(store Store) *Sequencer {
	return &Sequencer{store: store, last: make(map[string]int64)}
}

// Seed loads the persisted counter for executionID unless it is already known.
func (s *Sequencer) Seed(ctx context.Context, executionID string) error {
	s.mu.Lock()
	_, seeded := s.last[executionID]
	s.mu.Unlock()
	if seeded {
		return nil
	}

	seed, err := s.store.LastSequence(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to seed sequence for %s: %w", executionID, err)
	}

	s.mu.Lock()
	// Another caller may have seeded while the store was queried.
	if _, seeded := s.last[executionID]; !seeded {
		s.last[executionID] = seed
	}
	s.mu.Unlock()
	return nil
}

// Reserve reserves n consecutive numbers and returns the first one.
func (s *Sequencer) Reserve(ctx context.Context, executionID string, n int) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("invalid reservation size %d", n)
	}

	if err := s.Seed(ctx, executionID); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	first := s.last[executionID] + 1
	s.last[executionID] += int64(n)
	return first, nil
}

// Last returns the last number reserved for executionID in this process.
func (s *Sequencer) Last(executionID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[executionID]
}

// Forget drops the counter for executionID. A later reservation seeds it
// from the store again.
func (s *Sequencer) Forget(executionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.last, executionID)
}
