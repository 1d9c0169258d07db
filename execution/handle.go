package execution

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/isdmx/agentbox/pipeline"
	"github.com/isdmx/agentbox/sandbox"
)

// handle is the orchestrator's bookkeeping for one execution. The response
// snapshot is swapped atomically; every other field is either immutable after
// construction or guarded by a sync.Once.
type handle struct {
	id       string
	req      Request
	provider sandbox.Provider

	resp atomic.Pointer[Response]
	logs atomic.Pointer[pipeline.LogPipeline]

	// logsReady is closed once logs is set or the execution ended without it.
	logsOnce  sync.Once
	logsReady chan struct{}

	// abort cancels provider calls still running in Submit.
	abort context.CancelFunc

	cancelOnce   sync.Once
	cancelled    chan struct{}
	cancelActor  string
	cancelReason string

	completeOnce sync.Once
	completed    chan struct{}

	done chan struct{}
}

func newHandle(req Request, provider sandbox.Provider, abort context.CancelFunc, now time.Time) *handle {
	h := &handle{
		id:        req.ExecutionID,
		req:       req,
		provider:  provider,
		abort:     abort,
		logsReady: make(chan struct{}),
		cancelled: make(chan struct{}),
		completed: make(chan struct{}),
		done:      make(chan struct{}),
	}
	h.resp.Store(&Response{
		ExecutionID: req.ExecutionID,
		Provider:    req.Provider,
		Status:      StatusPending,
		SubmittedAt: now,
	})
	return h
}

func (h *handle) snapshot() Response {
	return h.resp.Load().clone()
}

// update applies fn to a copy of the current snapshot and publishes it. It
// reports false without applying fn once the snapshot is terminal.
func (h *handle) update(fn func(*Response)) (Response, bool) {
	for {
		cur := h.resp.Load()
		if cur.Status.IsTerminal() {
			return cur.clone(), false
		}
		next := cur.clone()
		fn(&next)
		if h.resp.CompareAndSwap(cur, &next) {
			return next.clone(), true
		}
	}
}

func (h *handle) attachLogs(p *pipeline.LogPipeline) {
	h.logs.Store(p)
	h.releaseLogWaiters()
}

func (h *handle) releaseLogWaiters() {
	h.logsOnce.Do(func() { close(h.logsReady) })
}

func (h *handle) requestCancel(actor, reason string) {
	h.cancelOnce.Do(func() {
		h.cancelActor = actor
		h.cancelReason = reason
		close(h.cancelled)
		h.abort()
	})
}

func (h *handle) cancelRequested() bool {
	select {
	case <-h.cancelled:
		return true
	default:
		return false
	}
}

// cancelError must only be called after cancelled is closed.
func (h *handle) cancelError(op string) *sandbox.Error {
	return sandbox.Cancelled(op, h.cancelActor, h.cancelReason)
}

func (h *handle) signalComplete() {
	h.completeOnce.Do(func() { close(h.completed) })
}
