package pipeline

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/agentbox/sandbox"
)

const (
	defaultBatchSize     = 64
	defaultReorderWindow = 50 * time.Millisecond
	minFlushInterval     = 10 * time.Millisecond
	inputBuffer          = 1024
	subscriberBuffer     = 256
	storeWriteTimeout    = 10 * time.Second
)

// LogPipeline sequences and persists the log of one execution.
type LogPipeline struct {
	logger      *zap.Logger
	executionID string
	store       Store
	seq         *Sequencer
	window      time.Duration
	batchSize   int

	mu        sync.RWMutex
	closed    bool
	in        chan LogEntry
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	// owned by the run goroutine
	reorder *Reorderer
	batch   []LogEntry

	subMu      sync.Mutex
	subs       map[int]*subscriber
	nextSubID  int
	subsClosed bool

	lastSeq atomic.Int64
}

type subscriber struct {
	ctx context.Context
	ch  chan LogEntry
}

// LogPipelineOption defines a functional option for LogPipeline
type LogPipelineOption func(*LogPipeline)

// WithReorderWindow sets how long an entry is held back for cross-stream ordering
func WithReorderWindow(d time.Duration) LogPipelineOption {
	return func(p *LogPipeline) {
		if d >= 0 {
			p.window = d
		}
	}
}

// WithBatchSize sets how many entries are written to the store at once
func WithBatchSize(n int) LogPipelineOption {
	return func(p *LogPipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// NewLogPipeline seeds the sequence counter for executionID and starts the
// pipeline goroutine. Close must be called to flush and release it.
func NewLogPipeline(ctx context.Context, logger *zap.Logger, executionID string, store Store, seq *Sequencer, opts ...LogPipelineOption) (*LogPipeline, error) {
	if err := seq.Seed(ctx, executionID); err != nil {
		return nil, err
	}

	p := &LogPipeline{
		logger:      logger.Named("pipeline").With(zap.String("execution_id", executionID)),
		executionID: executionID,
		store:       store,
		seq:         seq,
		window:      defaultReorderWindow,
		batchSize:   defaultBatchSize,
		in:          make(chan LogEntry, inputBuffer),
		closing:     make(chan struct{}),
		done:        make(chan struct{}),
		subs:        make(map[int]*subscriber),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.reorder = NewReorderer(p.window)
	p.lastSeq.Store(seq.Last(executionID))

	go p.run()
	return p, nil
}

// Ingest queues one chunk of container output.
func (p *LogPipeline) Ingest(chunk sandbox.OutputChunk) {
	level, source := LevelInfo, SourceStdout
	if chunk.Stream == sandbox.Stderr {
		level, source = LevelError, SourceStderr
	}
	ts := chunk.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	p.push(LogEntry{
		Timestamp: ts,
		Level:     level,
		Message:   strings.TrimRight(chunk.Data, "\r\n"),
		Source:    source,
	})
}

// Emit records a lifecycle event.
func (p *LogPipeline) Emit(level Level, message string, metadata map[string]any) {
	p.push(LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Source:    SourceOrchestrator,
		Metadata:  metadata,
	})
}

func (p *LogPipeline) push(e LogEntry) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	// Close must be able to take the write lock while the queue is full.
	select {
	case p.in <- e:
	case <-p.closing:
	}
}

// Subscribe returns a channel receiving every entry persisted after the call.
// The channel is closed when ctx is done or the pipeline is closed. A
// subscriber that falls a full buffer behind is dropped and its channel
// closed early; it can resume from the store after the last sequence number
// it received.
func (p *LogPipeline) Subscribe(ctx context.Context) <-chan LogEntry {
	ch := make(chan LogEntry, subscriberBuffer)

	p.subMu.Lock()
	defer p.subMu.Unlock()
	if p.subsClosed {
		close(ch)
		return ch
	}
	p.subs[p.nextSubID] = &subscriber{ctx: ctx, ch: ch}
	p.nextSubID++
	return ch
}

// LastSequence returns the highest sequence number persisted so far.
func (p *LogPipeline) LastSequence() int64 {
	return p.lastSeq.Load()
}

// Done is closed once the pipeline has flushed everything after Close.
func (p *LogPipeline) Done() <-chan struct{} {
	return p.done
}

// Close stops intake, flushes every queued entry and closes subscriber
// channels. It is safe to call more than once.
func (p *LogPipeline) Close() {
	p.closeOnce.Do(func() { close(p.closing) })

	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.in)
	}
	p.mu.Unlock()
	<-p.done
}

func (p *LogPipeline) run() {
	defer close(p.done)

	ticker := time.NewTicker(max(p.window, minFlushInterval))
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-p.in:
			if !ok {
				p.release(true)
				p.flush()
				p.closeSubscribers()
				return
			}
			p.reorder.Push(e)
			p.release(false)
			if len(p.batch) >= p.batchSize {
				p.flush()
			}
		case <-ticker.C:
			p.release(false)
			p.flush()
		}
	}
}

// release moves ready entries from the reorder buffer into the batch,
// assigning sequence numbers in release order.
func (p *LogPipeline) release(force bool) {
	ready := p.reorder.Pop(force)
	if len(ready) == 0 {
		return
	}

	first, err := p.seq.Reserve(context.Background(), p.executionID, len(ready))
	if err != nil {
		// The counter is seeded at construction, so this only fails on misuse.
		p.logger.Error("failed to reserve sequence numbers", zap.Error(err))
		return
	}

	for i := range ready {
		ready[i].ID = uuid.NewString()
		ready[i].ExecutionID = p.executionID
		ready[i].SequenceNumber = first + int64(i)
	}
	p.batch = append(p.batch, ready...)
}

// flush persists the batch and only then publishes it.
func (p *LogPipeline) flush() {
	if len(p.batch) == 0 {
		return
	}
	batch := p.batch
	p.batch = nil

	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	err := p.store.SaveLogEntries(ctx, batch)
	cancel()
	if err != nil {
		p.logger.Warn("failed to persist log entries",
			zap.Int("count", len(batch)),
			zap.Int64("first_sequence", batch[0].SequenceNumber),
			zap.Error(err),
		)
	}

	p.lastSeq.Store(batch[len(batch)-1].SequenceNumber)
	p.publish(batch)
}

// publish never blocks: the run goroutine must keep draining intake no
// matter how slowly subscribers read.
func (p *LogPipeline) publish(batch []LogEntry) {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	for id, s := range p.subs {
		if s.ctx.Err() != nil {
			close(s.ch)
			delete(p.subs, id)
			continue
		}
	entries:
		for _, e := range batch {
			select {
			case s.ch <- e:
			default:
				p.logger.Warn("dropping lagging log subscriber",
					zap.Int("subscriber", id),
					zap.Int64("sequence", e.SequenceNumber),
				)
				close(s.ch)
				delete(p.subs, id)
				break entries
			}
		}
	}
}

func (p *LogPipeline) closeSubscribers() {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	p.subsClosed = true
	for id, s := range p.subs {
		close(s.ch)
		delete(p.subs, id)
	}
}
