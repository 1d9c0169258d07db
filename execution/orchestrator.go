package execution

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/isdmx/agentbox/pipeline"
	"github.com/isdmx/agentbox/sandbox"
)

// Labels set on every execution container in addition to the provider's own.
const (
	LabelExecutionID = "io.agentbox.execution-id"
	LabelTaskID      = "io.agentbox.task-id"
)

const (
	actorAPI      = "api"
	actorShutdown = "shutdown"

	cleanupTimeout = 30 * time.Second
	replayPageSize = 500
	liveBuffer     = 64
)

// Providers resolves a provider by its registry name. *sandbox.Manager
// satisfies it.
type Providers interface {
	Get(name string) (sandbox.Provider, error)
}

// Recorder persists execution snapshots so they outlive the process.
type Recorder interface {
	SaveExecution(ctx context.Context, resp Response) error
	GetExecution(ctx context.Context, id string) (Response, error)
}

// Orchestrator turns execution requests into supervised container
// lifecycles. It alone owns the mapping from execution id to container id
// and cancellation handle.
type Orchestrator struct {
	logger    *zap.Logger
	providers Providers
	store     pipeline.Store
	seq       *pipeline.Sequencer
	collector *pipeline.ArtifactCollector
	recorder  Recorder
	metrics   *Metrics
	tracer    trace.Tracer
	settings  Settings
	now       func() time.Time

	mu         sync.Mutex
	executions map[string]*handle
	finished   []*handle // oldest first, at most settings.RetainFinished
	closed     bool

	drivers conc.WaitGroup
}

// Option defines a functional option for Orchestrator
type Option func(*Orchestrator)

// WithSettings replaces the default settings
func WithSettings(s Settings) Option {
	return func(o *Orchestrator) {
		o.settings = s
	}
}

// WithArtifactCollector enables collection of declared output paths
func WithArtifactCollector(c *pipeline.ArtifactCollector) Option {
	return func(o *Orchestrator) {
		o.collector = c
	}
}

// WithRecorder persists every snapshot change
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// WithMetrics sets the Prometheus metrics to update
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracer sets the tracer used for execution spans
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// NewOrchestrator creates an orchestrator resolving providers through
// providers and persisting logs and artifacts to store.
func NewOrchestrator(logger *zap.Logger, providers Providers, store pipeline.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger:     logger.Named("orchestrator"),
		providers:  providers,
		store:      store,
		seq:        pipeline.NewSequencer(store),
		tracer:     otel.Tracer("github.com/isdmx/agentbox/execution"),
		settings:   DefaultSettings(),
		now:        func() time.Time { return time.Now().UTC() },
		executions: make(map[string]*handle),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.settings.PollInterval <= 0 {
		o.settings.PollInterval = time.Second
	}
	if o.settings.LogDrainTimeout <= 0 {
		o.settings.LogDrainTimeout = DefaultSettings().LogDrainTimeout
	}
	o.settings.RetainFinished = max(o.settings.RetainFinished, 0)
	return o
}

// Submit validates req, creates and starts its container and returns the
// running snapshot. The workload is then supervised in the background until
// it completes, fails, times out or is cancelled.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (Response, error) {
	req = o.normalize(req)
	if err := req.Validate(); err != nil {
		return Response{}, err
	}

	ctx, span := o.tracer.Start(ctx, "execution.submit", trace.WithAttributes(
		attribute.String("execution.id", req.ExecutionID),
		attribute.String("execution.provider", string(req.Provider)),
		attribute.String("execution.image", req.Image),
	))
	defer span.End()

	resp, err := o.submit(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}

func (o *Orchestrator) submit(ctx context.Context, req Request) (Response, error) {
	// No fallback to another provider: a missing one is a setup problem.
	provider, err := o.providers.Get(string(req.Provider))
	if err != nil {
		return Response{}, err
	}

	setupCtx, abort := context.WithCancel(ctx)
	defer abort()

	h, err := o.reserve(req, provider, abort)
	if err != nil {
		return Response{}, err
	}

	logger := o.logger.With(zap.String("execution_id", h.id), zap.String("provider", string(req.Provider)))
	logger.Info("execution submitted", zap.String("image", req.Image))

	logs, err := pipeline.NewLogPipeline(setupCtx, o.logger, h.id, o.store, o.seq,
		pipeline.WithReorderWindow(o.settings.ReorderWindow),
		pipeline.WithBatchSize(o.settings.LogBatchSize),
	)
	if err != nil {
		return o.abortSetup(h, "", classify("open_log", err))
	}
	h.attachLogs(logs)

	if err := o.ensureImage(setupCtx, h); err != nil {
		return o.abortSetup(h, "", err)
	}

	info, err := retryOp(setupCtx, o, h, "create_container", func(ctx context.Context) (sandbox.ContainerInfo, error) {
		return provider.CreateContainer(ctx, o.containerConfig(req))
	})
	if err != nil {
		return o.abortSetup(h, info.ID, err)
	}
	h.update(func(r *Response) {
		r.ContainerID = info.ID
		r.ContainerStatus = info.Status
	})
	logger.Debug("container created", zap.String("container_id", info.ID))

	_, err = retryOp(setupCtx, o, h, "start_container", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, provider.StartContainer(ctx, info.ID)
	})
	if err != nil {
		return o.abortSetup(h, info.ID, err)
	}

	o.mu.Lock()
	if o.closed || h.cancelRequested() {
		o.mu.Unlock()
		if !h.cancelRequested() {
			h.requestCancel(actorShutdown, "orchestrator shutting down")
		}
		return o.abortSetup(h, info.ID, h.cancelError("submit"))
	}
	started := o.now()
	resp, _ := h.update(func(r *Response) {
		r.Status = StatusRunning
		r.ContainerStatus = sandbox.StatusRunning
		r.StartedAt = &started
	})
	o.drivers.Go(func() { o.drive(h) })
	o.mu.Unlock()

	o.record(resp)
	logger.Info("execution running",
		zap.String("container_id", info.ID),
		zap.Int("timeout_seconds", req.Limits.TimeoutSeconds),
	)
	return resp, nil
}

func (o *Orchestrator) normalize(req Request) Request {
	if req.ExecutionID == "" {
		req.ExecutionID = uuid.NewString()
	}
	if req.Provider == "" {
		req.Provider = o.settings.DefaultProvider
	}
	if req.Image == "" {
		req.Image = o.settings.DefaultImage
	}
	req.Limits = req.Limits.withDefaults(o.settings.DefaultLimits)
	req.Env = maps.Clone(req.Env)
	req.Labels = maps.Clone(req.Labels)
	req.Command = slices.Clone(req.Command)
	req.OutputPaths = slices.Clone(req.OutputPaths)
	return req
}

// reserve registers a pending handle, rejecting an id that is still in flight.
func (o *Orchestrator) reserve(req Request, provider sandbox.Provider, abort context.CancelFunc) (*handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, sandbox.NewError(sandbox.KindNotAvailable, "submit", "orchestrator is shutting down", nil)
	}
	if existing, ok := o.executions[req.ExecutionID]; ok && !existing.snapshot().Status.IsTerminal() {
		return nil, &sandbox.Error{
			Kind:    sandbox.KindDuplicateExecution,
			Op:      "submit",
			Message: fmt.Sprintf("execution %s is already in flight", req.ExecutionID),
		}
	}

	h := newHandle(req, provider, abort, o.now())
	o.executions[req.ExecutionID] = h
	o.metrics.started()
	return h, nil
}

// abortSetup cleans up after a failed or cancelled Submit and finishes the
// execution.
func (o *Orchestrator) abortSetup(h *handle, containerID string, err error) (Response, error) {
	if containerID != "" {
		o.removeContainer(h, containerID)
	} else {
		o.removePartial(h)
	}

	status := StatusFailed
	if h.cancelRequested() {
		status = StatusCancelled
		err = h.cancelError("submit")
	}
	resp := o.finish(h, status, err, func(r *Response) {
		if containerID != "" {
			r.ContainerStatus = sandbox.StatusRemoved
		}
	})
	return resp, err
}

func (o *Orchestrator) containerConfig(req Request) sandbox.ContainerConfig {
	env := maps.Clone(req.Env)
	if env == nil {
		env = make(map[string]string)
	}
	for k, v := range map[string]string{
		"AGENTBOX_EXECUTION_ID": req.ExecutionID,
		"AGENTBOX_TASK_ID":      req.TaskID,
		"AGENTBOX_AGENT_ID":     req.AgentID,
		"AGENTBOX_MODEL":        req.Model,
		"AGENTBOX_PROMPT":       req.Prompt,
	} {
		if _, set := env[k]; !set && v != "" {
			env[k] = v
		}
	}

	labels := maps.Clone(req.Labels)
	if labels == nil {
		labels = make(map[string]string)
	}
	labels[LabelExecutionID] = req.ExecutionID
	if req.TaskID != "" {
		labels[LabelTaskID] = req.TaskID
	}

	cfg := sandbox.ContainerConfig{
		Image:      req.Image,
		Name:       containerName(req.ExecutionID),
		Env:        env,
		CPUCores:   req.Limits.CPUCores,
		MemoryMB:   req.Limits.MemoryMB,
		Command:    slices.Clone(req.Command),
		WorkingDir: req.WorkspacePath,
		Labels:     labels,
	}
	if req.WorkspacePath != "" {
		cfg.Volumes = []sandbox.VolumeMount{{HostPath: req.WorkspacePath, ContainerPath: req.WorkspacePath}}
	}
	for _, spec := range req.Volumes {
		// Validate already rejected malformed specs.
		if m, err := sandbox.ParseVolumeSpec(spec); err == nil {
			cfg.Volumes = append(cfg.Volumes, m)
		}
	}
	return cfg
}

// containerName derives a name the engines accept from an arbitrary id.
func containerName(id string) string {
	b := []byte("agentbox-" + id)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '.', c == '-':
		default:
			b[i] = '-'
		}
	}
	return string(b)
}

func (o *Orchestrator) ensureImage(ctx context.Context, h *handle) error {
	image := h.req.Image
	switch o.settings.PullPolicy {
	case PullNever:
		return nil
	case PullAlways:
		_, err := retryOp(ctx, o, h, "pull_image", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, h.provider.PullImage(ctx, image, true)
		})
		return err
	}

	exists, err := retryOp(ctx, o, h, "image_exists", func(ctx context.Context) (bool, error) {
		return h.provider.ImageExists(ctx, image)
	})
	if err != nil || exists {
		return err
	}
	o.logger.Info("pulling image", zap.String("execution_id", h.id), zap.String("image", image))
	_, err = retryOp(ctx, o, h, "pull_image", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h.provider.PullImage(ctx, image, false)
	})
	return err
}

// finish moves the execution to a terminal status exactly once. The log
// pipeline is flushed before the terminal snapshot is published, so a caller
// woken by Wait sees the complete log.
func (o *Orchestrator) finish(h *handle, status Status, err error, mutate func(*Response)) Response {
	if logs := h.logs.Load(); logs != nil {
		if err != nil {
			logs.Emit(pipeline.LevelError, err.Error(), map[string]any{
				"kind":   string(sandbox.KindOf(err)),
				"status": string(status),
			})
		}
		logs.Close()
	}
	h.releaseLogWaiters()
	if !h.snapshot().Status.IsTerminal() {
		// Nothing reserves numbers for this id again until it is resubmitted.
		o.seq.Forget(h.id)
	}

	finished := o.now()
	resp, ok := h.update(func(r *Response) {
		r.Status = status
		r.FinishedAt = &finished
		if err != nil {
			r.Error = err.Error()
			r.ErrorKind = sandbox.KindOf(err)
		}
		if mutate != nil {
			mutate(r)
		}
	})
	if !ok {
		return resp
	}

	o.metrics.finished(h.req.Provider, status, resp.Duration().Seconds())
	o.record(resp)

	fields := []zap.Field{
		zap.String("execution_id", h.id),
		zap.String("status", string(status)),
		zap.Duration("duration", resp.Duration()),
	}
	if err != nil {
		fields = append(fields, zap.String("kind", string(sandbox.KindOf(err))), zap.Error(err))
	}
	o.logger.Info("execution finished", fields...)

	close(h.done)
	o.retire(h)
	return resp
}

// retire keeps the most recently finished handles and evicts older ones.
func (o *Orchestrator) retire(h *handle) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.finished = append(o.finished, h)
	for len(o.finished) > o.settings.RetainFinished {
		old := o.finished[0]
		o.finished[0] = nil
		o.finished = o.finished[1:]
		// A resubmission may have replaced it already.
		if o.executions[old.id] == old {
			delete(o.executions, old.id)
		}
	}
}

func (o *Orchestrator) record(resp Response) {
	if o.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := o.recorder.SaveExecution(ctx, resp); err != nil {
		o.logger.Warn("failed to record execution",
			zap.String("execution_id", resp.ExecutionID),
			zap.String("status", string(resp.Status)),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) lookup(id string) (*handle, error) {
	o.mu.Lock()
	h, ok := o.executions[id]
	o.mu.Unlock()
	if !ok {
		return nil, &sandbox.Error{Kind: sandbox.KindExecutionNotFound, Message: fmt.Sprintf("execution %s not found", id)}
	}
	return h, nil
}

// Cancel stops an in-flight execution and waits until its container has been
// stopped and removed or ctx is done.
func (o *Orchestrator) Cancel(ctx context.Context, id, reason string) error {
	return o.cancel(ctx, id, actorAPI, reason)
}

func (o *Orchestrator) cancel(ctx context.Context, id, actor, reason string) error {
	h, err := o.lookup(id)
	if err != nil {
		return err
	}
	if s := h.snapshot().Status; s.IsTerminal() {
		return sandbox.InvalidRequest("cancel", fmt.Sprintf("execution %s already %s", id, s))
	}

	o.logger.Info("cancelling execution",
		zap.String("execution_id", id),
		zap.String("actor", actor),
		zap.String("reason", reason),
	)
	h.requestCancel(actor, reason)

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Complete signals that the workload is done even though its primary
// process may still be running.
func (o *Orchestrator) Complete(id string) error {
	h, err := o.lookup(id)
	if err != nil {
		return err
	}
	if s := h.snapshot().Status; s.IsTerminal() {
		return sandbox.InvalidRequest("complete", fmt.Sprintf("execution %s already %s", id, s))
	}
	h.signalComplete()
	return nil
}

// Status returns the current snapshot of an execution. Executions unknown to
// this process, or finished long enough ago to have been evicted, are looked
// up in the recorder.
func (o *Orchestrator) Status(ctx context.Context, id string) (Response, error) {
	h, err := o.lookup(id)
	if err == nil {
		return h.snapshot(), nil
	}
	if o.recorder != nil {
		if resp, rerr := o.recorder.GetExecution(ctx, id); rerr == nil {
			return resp, nil
		}
	}
	return Response{}, err
}

// Wait blocks until the execution is terminal or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, id string) (Response, error) {
	h, err := o.lookup(id)
	if err != nil {
		return o.Status(ctx, id)
	}
	select {
	case <-h.done:
		return h.snapshot(), nil
	case <-ctx.Done():
		return h.snapshot(), ctx.Err()
	}
}

// List returns snapshots of the executions in flight and the most recently
// finished ones, oldest first.
func (o *Orchestrator) List() []Response {
	o.mu.Lock()
	handles := make([]*handle, 0, len(o.executions))
	for _, h := range o.executions {
		handles = append(handles, h)
	}
	o.mu.Unlock()

	out := make([]Response, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ExecutionID < out[j].ExecutionID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// StreamLogs replays the persisted log of an execution in sequence order.
// With follow and an execution still in flight, the channel then carries
// live entries until the execution ends or ctx is done; otherwise it is
// closed after the replay. A follower that stops reading is cut off once
// its buffers are full and can resume with ListLogEntries.
func (o *Orchestrator) StreamLogs(ctx context.Context, id string, follow bool) (<-chan pipeline.LogEntry, error) {
	h, err := o.lookup(id)
	if err != nil && !o.known(ctx, id) {
		return nil, err
	}

	out := make(chan pipeline.LogEntry, liveBuffer)
	go func() {
		defer close(out)

		var live <-chan pipeline.LogEntry
		if follow && h != nil {
			// Subscribe before replaying so nothing falls between the two.
			live = o.subscribe(ctx, h)
		}

		send := func(e pipeline.LogEntry) bool {
			select {
			case out <- e:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var last int64
		for {
			page, err := o.store.ListLogEntries(ctx, id, last, replayPageSize)
			if err != nil {
				o.logger.Warn("failed to replay logs", zap.String("execution_id", id), zap.Error(err))
				break
			}
			for _, e := range page {
				if !send(e) {
					return
				}
				last = e.SequenceNumber
			}
			if len(page) < replayPageSize {
				break
			}
		}

		if live == nil {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-live:
				if !ok {
					return
				}
				if e.SequenceNumber <= last {
					continue
				}
				if !send(e) {
					return
				}
				last = e.SequenceNumber
			}
		}
	}()
	return out, nil
}

// subscribe waits until the log pipeline of an execution in setup exists and
// subscribes to it. It returns nil when the execution ended without one.
func (o *Orchestrator) subscribe(ctx context.Context, h *handle) <-chan pipeline.LogEntry {
	select {
	case <-h.logsReady:
	case <-ctx.Done():
		return nil
	}
	if logs := h.logs.Load(); logs != nil {
		return logs.Subscribe(ctx)
	}
	return nil
}

// known reports whether an execution that is not in memory left a trace.
func (o *Orchestrator) known(ctx context.Context, id string) bool {
	if o.recorder != nil {
		if _, err := o.recorder.GetExecution(ctx, id); err == nil {
			return true
		}
	}
	last, err := o.store.LastSequence(ctx, id)
	return err == nil && last > 0
}

// Artifacts returns the artifacts recorded for an execution.
func (o *Orchestrator) Artifacts(ctx context.Context, id string) ([]pipeline.Artifact, error) {
	arts, err := o.store.ListArtifacts(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(arts) == 0 {
		if _, lerr := o.lookup(id); lerr != nil && !o.known(ctx, id) {
			return nil, lerr
		}
	}
	return arts, nil
}

// running returns the handle and container id of an execution in the
// running state.
func (o *Orchestrator) running(id, op string) (*handle, string, error) {
	h, err := o.lookup(id)
	if err != nil {
		return nil, "", err
	}
	resp := h.snapshot()
	if resp.Status != StatusRunning {
		return nil, "", sandbox.InvalidRequest(op, fmt.Sprintf("execution %s is %s", id, resp.Status))
	}
	return h, resp.ContainerID, nil
}

// Metrics samples the resource usage of a running execution.
func (o *Orchestrator) Metrics(ctx context.Context, id string) (sandbox.ContainerMetrics, error) {
	h, containerID, err := o.running(id, "metrics")
	if err != nil {
		return sandbox.ContainerMetrics{}, err
	}
	return h.provider.GetMetrics(ctx, containerID)
}

// Exec runs an additional command inside a running execution's container.
func (o *Orchestrator) Exec(ctx context.Context, id string, command []string, env map[string]string) (sandbox.ExecResult, error) {
	if len(command) == 0 {
		return sandbox.ExecResult{}, sandbox.InvalidRequest("exec", "command is required")
	}
	h, containerID, err := o.running(id, "exec")
	if err != nil {
		return sandbox.ExecResult{}, err
	}
	return h.provider.ExecCommand(ctx, containerID, command, env)
}

// Shutdown rejects new submissions, cancels every execution in flight and
// waits for their containers to be cleaned up or for ctx to be done.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	handles := make([]*handle, 0, len(o.executions))
	for _, h := range o.executions {
		handles = append(handles, h)
	}
	o.mu.Unlock()

	for _, h := range handles {
		if !h.snapshot().Status.IsTerminal() {
			h.requestCancel(actorShutdown, "orchestrator shutting down")
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if r := o.drivers.WaitAndRecover(); r != nil {
			o.logger.Error("execution driver panicked", zap.String("panic", r.String()))
		}
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
