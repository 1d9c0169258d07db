package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lastSeqErrStore struct {
	*MemoryStore
	err error
}

func (s *lastSeqErrStore) LastSequence(context.Context, string) (int64, error) {
	return 0, s.err
}

func TestSequencerStartsAtOne(t *testing.T) {
	seq := NewSequencer(NewMemoryStore())

	first, err := seq.Reserve(context.Background(), "exec-1", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)

	next, err := seq.Reserve(context.Background(), "exec-1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), next)
	assert.Equal(t, int64(4), seq.Last("exec-1"))

	other, err := seq.Reserve(context.Background(), "exec-2", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), other)
}

func TestSequencerContinuesFromStore(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.SaveLogEntries(context.Background(), []LogEntry{
		{ExecutionID: "exec-1", SequenceNumber: 1},
		{ExecutionID: "exec-1", SequenceNumber: 7},
	}))

	seq := NewSequencer(store)
	first, err := seq.Reserve(context.Background(), "exec-1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(8), first)
}

func TestSequencerForget(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seq := NewSequencer(store)

	first, err := seq.Reserve(ctx, "exec-1", 2)
	require.NoError(t, err)
	require.NoError(t, store.SaveLogEntries(ctx, []LogEntry{
		{ExecutionID: "exec-1", SequenceNumber: first},
		{ExecutionID: "exec-1", SequenceNumber: first + 1},
	}))

	seq.Forget("exec-1")
	assert.Zero(t, seq.Last("exec-1"))

	// The counter is reloaded from what was persisted.
	next, err := seq.Reserve(ctx, "exec-1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), next)

	seq.Forget("never-seen")
}

func TestSequencerRejectsInvalidSize(t *testing.T) {
	seq := NewSequencer(NewMemoryStore())
	_, err := seq.Reserve(context.Background(), "exec-1", 0)
	assert.Error(t, err)
}

func TestSequencerSeedError(t *testing.T) {
	boom := errors.New("db down")
	seq := NewSequencer(&lastSeqErrStore{MemoryStore: NewMemoryStore(), err: boom})

	_, err := seq.Reserve(context.Background(), "exec-1", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestSequencerConcurrentReservationsAreUnique(t *testing.T) {
	seq := NewSequencer(NewMemoryStore())

	const workers, perWorker = 8, 50
	var (
		mu   sync.Mutex
		seen = make(map[int64]bool)
		wg   sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				n, err := seq.Reserve(context.Background(), "exec-1", 2)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				seen[n] = true
				seen[n+1] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*perWorker*2)
	for i := int64(1); i <= workers*perWorker*2; i++ {
		assert.True(t, seen[i], "missing sequence %d", i)
	}
}
