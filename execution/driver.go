package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/isdmx/agentbox/pipeline"
	"github.com/isdmx/agentbox/sandbox"
)

// outcome is what ended the running phase of an execution.
type outcome struct {
	status   Status
	err      error
	exit     *sandbox.ContainerInfo
	explicit bool // Complete was called
	forced   bool // timeout or cancellation
}

type exitResult struct {
	info sandbox.ContainerInfo
	err  error
}

// drive supervises a started execution until it is terminal. A panic in the
// supervision code still ends the execution and removes its container.
func (o *Orchestrator) drive(h *handle) {
	var pc panics.Catcher
	pc.Try(func() { o.run(h) })
	if r := pc.Recovered(); r != nil {
		o.logger.Error("execution driver panicked",
			zap.String("execution_id", h.id),
			zap.String("panic", r.String()),
		)
		if id := h.snapshot().ContainerID; id != "" {
			o.removeContainer(h, id)
		}
		o.finish(h, StatusFailed, sandbox.NewError(sandbox.KindBackendProtocol, "execute", "execution supervisor panicked", r.AsError()), nil)
	}
}

func (o *Orchestrator) run(h *handle) {
	ctx, span := o.tracer.Start(context.Background(), "execution.run", trace.WithAttributes(
		attribute.String("execution.id", h.id),
		attribute.String("execution.provider", string(h.req.Provider)),
		attribute.Int("execution.timeout_seconds", h.req.Limits.TimeoutSeconds),
	))
	defer span.End()

	containerID := h.snapshot().ContainerID
	logs := h.logs.Load()
	logger := o.logger.With(zap.String("execution_id", h.id), zap.String("container_id", containerID))

	logCtx, stopLogs := context.WithCancel(ctx)
	defer stopLogs()
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()

	exited := make(chan exitResult, 1)
	var children conc.WaitGroup
	children.Go(func() { o.consumeLogs(logCtx, h, containerID, logs) })
	children.Go(func() { o.watchCompletion(watchCtx, h, containerID, exited) })

	timer := time.NewTimer(h.req.Limits.Timeout())
	defer timer.Stop()

	var out outcome
	select {
	case <-timer.C:
		out = outcome{status: StatusFailed, err: sandbox.Timeout("execute", h.req.Limits.TimeoutSeconds), forced: true}
		logger.Warn("execution timed out", zap.Int("timeout_seconds", h.req.Limits.TimeoutSeconds))
	case <-h.cancelled:
		out = outcome{status: StatusCancelled, err: h.cancelError("execute"), forced: true}
	case res := <-exited:
		out = o.exitOutcome(h, res)
	case <-h.completed:
		out = outcome{status: StatusCompleted, explicit: true}
		logger.Debug("completion signalled")
	}
	stopWatch()

	var (
		exitCode  *int
		artifacts []pipeline.Artifact
	)
	if out.exit != nil {
		exitCode = out.exit.ExitCode
	} else if out.explicit {
		// Only a process that ended on its own has a meaningful exit code;
		// after the stop below it would be the signal's.
		if info, err := h.provider.GetContainerInfo(ctx, containerID); err == nil && !info.Status.IsActive() {
			exitCode = info.ExitCode
		}
	}

	o.stopContainer(h, containerID)
	if !out.forced {
		var err error
		artifacts, err = o.collectArtifacts(ctx, h, containerID)
		if err != nil {
			logger.Warn("artifact collection incomplete", zap.Error(err))
			if logs != nil {
				logs.Emit(pipeline.LevelWarn, "artifact collection incomplete: "+err.Error(), nil)
			}
		}
	}

	o.drainLogs(&children, stopLogs, logger)

	containerStatus := sandbox.StatusStopped
	if out.forced || !o.settings.KeepContainers {
		o.removeContainer(h, containerID)
		containerStatus = sandbox.StatusRemoved
	}

	if out.err != nil {
		span.RecordError(out.err)
		span.SetStatus(codes.Error, out.err.Error())
	}
	span.SetAttributes(attribute.String("execution.status", string(out.status)))

	o.finish(h, out.status, out.err, func(r *Response) {
		r.ContainerStatus = containerStatus
		r.ExitCode = exitCode
		r.Artifacts = artifacts
	})
}

// exitOutcome classifies the end of the primary process.
func (o *Orchestrator) exitOutcome(h *handle, res exitResult) outcome {
	if res.err != nil {
		return outcome{status: StatusFailed, err: res.err}
	}

	info := res.info
	out := outcome{exit: &info}
	switch {
	case info.Status == sandbox.StatusError && strings.Contains(info.Error, "out of memory"):
		out.status = StatusFailed
		out.err = sandbox.ResourceLimitExceeded("execute", "memory", fmt.Sprintf("killed at the %d MB limit", h.req.Limits.MemoryMB))
	case info.Status == sandbox.StatusError:
		out.status = StatusFailed
		out.err = sandbox.NewError(sandbox.KindProcessCrashed, "execute", info.Error, nil)
	case info.ExitCode != nil && *info.ExitCode != 0:
		out.status = StatusFailed
		out.err = sandbox.NewError(sandbox.KindWorkloadFailed, "execute", fmt.Sprintf("workload exited with code %d", *info.ExitCode), nil)
	default:
		out.status = StatusCompleted
	}
	return out
}

// consumeLogs feeds the provider's output stream into the log pipeline. An
// interrupted stream is reopened from the last timestamp seen.
func (o *Orchestrator) consumeLogs(ctx context.Context, h *handle, containerID string, logs *pipeline.LogPipeline) {
	if logs == nil {
		return
	}

	var since time.Time
	for attempt := uint(0); ; {
		chunks, errs, err := h.provider.StreamLogs(ctx, containerID, true, since)
		if err == nil {
			for c := range chunks {
				logs.Ingest(c)
				if !c.Timestamp.IsZero() {
					since = c.Timestamp.Add(time.Nanosecond)
				}
			}
			err = <-errs
		}
		if err == nil || ctx.Err() != nil {
			return
		}
		if !sandbox.IsRetryable(err) || attempt >= o.settings.RetryAttempts {
			o.logger.Warn("log stream ended with error",
				zap.String("execution_id", h.id),
				zap.String("kind", string(sandbox.KindOf(err))),
				zap.Error(err),
			)
			return
		}

		attempt++
		o.metrics.retried(h.req.Provider, "stream_logs")
		select {
		case <-ctx.Done():
			return
		case <-time.After(o.settings.RetryInterval):
		}
	}
}

// watchCompletion polls the container until its primary process is no
// longer active and reports the final container info.
func (o *Orchestrator) watchCompletion(ctx context.Context, h *handle, containerID string, exited chan<- exitResult) {
	var pc panics.Catcher
	pc.Try(func() { o.pollContainer(ctx, h, containerID, exited) })
	if r := pc.Recovered(); r != nil {
		exited <- exitResult{err: sandbox.NewError(sandbox.KindBackendProtocol, "watch", "panic while polling container", r.AsError())}
	}
}

func (o *Orchestrator) pollContainer(ctx context.Context, h *handle, containerID string, exited chan<- exitResult) {
	ticker := time.NewTicker(o.settings.PollInterval)
	defer ticker.Stop()

	var failures uint
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		info, err := h.provider.GetContainerInfo(ctx, containerID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if sandbox.IsRetryable(err) && failures < o.settings.RetryAttempts {
				failures++
				o.metrics.retried(h.req.Provider, "get_container_info")
				continue
			}
			o.metrics.providerError(h.req.Provider, "get_container_info", string(sandbox.KindOf(err)))
			exited <- exitResult{err: err}
			return
		}
		failures = 0

		h.update(func(r *Response) { r.ContainerStatus = info.Status })
		if !info.Status.IsActive() {
			exited <- exitResult{info: info}
			return
		}
	}
}

// drainLogs gives the log stream a bounded time to end on its own after the
// container stopped, then cuts it.
func (o *Orchestrator) drainLogs(children *conc.WaitGroup, stopLogs context.CancelFunc, logger *zap.Logger) {
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		if r := children.WaitAndRecover(); r != nil {
			logger.Error("execution worker panicked", zap.String("panic", r.String()))
		}
	}()

	select {
	case <-drained:
	case <-time.After(o.settings.LogDrainTimeout):
		logger.Debug("log stream did not end after stop, closing it")
		stopLogs()
		<-drained
	}
}

func (o *Orchestrator) stopContainer(h *handle, containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.settings.StopGrace+cleanupTimeout)
	defer cancel()

	h.update(func(r *Response) { r.ContainerStatus = sandbox.StatusStopping })
	err := h.provider.StopContainer(ctx, containerID, o.settings.stopGraceSeconds())
	if err != nil && sandbox.KindOf(err) != sandbox.KindContainerNotFound {
		o.metrics.providerError(h.req.Provider, "stop_container", string(sandbox.KindOf(err)))
		o.logger.Warn("failed to stop container",
			zap.String("execution_id", h.id),
			zap.String("container_id", containerID),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) removeContainer(h *handle, containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	_, err := retryOp(ctx, o, h, "remove_container", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h.provider.RemoveContainer(ctx, containerID, true)
	})
	if err != nil && sandbox.KindOf(err) != sandbox.KindContainerNotFound {
		o.logger.Error("failed to remove container",
			zap.String("execution_id", h.id),
			zap.String("container_id", containerID),
			zap.Error(err),
		)
	}
}

// removePartial removes containers labelled with the execution id when
// create failed without reporting an id.
func (o *Orchestrator) removePartial(h *handle) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	infos, err := h.provider.ListContainers(ctx, true)
	if err != nil {
		return
	}
	for _, info := range infos {
		if info.Labels[LabelExecutionID] == h.id {
			o.removeContainer(h, info.ID)
		}
	}
}

// collectArtifacts copies every declared output path out of the container.
// A path containing glob characters is copied from its static prefix and
// filtered by the full pattern.
func (o *Orchestrator) collectArtifacts(ctx context.Context, h *handle, containerID string) ([]pipeline.Artifact, error) {
	if o.collector == nil || len(h.req.OutputPaths) == 0 {
		return nil, nil
	}

	var (
		all  []pipeline.Artifact
		errs error
	)
	for _, p := range h.req.OutputPaths {
		root, pattern := p, ""
		if strings.ContainsAny(p, "*?[{") {
			root, _ = doublestar.SplitPattern(p)
			pattern = p
		}

		rc, err := h.provider.CopyFromContainer(ctx, containerID, root)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		arts, err := o.collector.Collect(ctx, h.id, root, rc, pattern)
		rc.Close()
		all = append(all, arts...)
		errs = multierr.Append(errs, err)
	}
	return all, errs
}
