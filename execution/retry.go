package execution

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/isdmx/agentbox/sandbox"
)

// retryOp runs fn with exponential backoff while it fails with a retryable
// kind. Other failures are returned on the first attempt.
func retryOp[T any](ctx context.Context, o *Orchestrator, h *handle, op string, fn func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.settings.RetryInterval
	b.MaxInterval = max(o.settings.RetryInterval*8, time.Second)

	attempt := func() (T, error) {
		v, err := fn(ctx)
		if err != nil && !sandbox.IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	v, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(o.settings.RetryAttempts+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			o.metrics.retried(h.req.Provider, op)
			o.logger.Warn("retrying provider operation",
				zap.String("execution_id", h.id),
				zap.String("operation", op),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		err = classify(op, err)
		o.metrics.providerError(h.req.Provider, op, string(sandbox.KindOf(err)))
	}
	return v, err
}

// classify makes sure every error leaving the orchestrator carries a kind.
func classify(op string, err error) error {
	var se *sandbox.Error
	switch {
	case errors.As(err, &se):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return sandbox.NewError(sandbox.KindTimeout, op, "deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return sandbox.NewError(sandbox.KindCancelled, op, "", err)
	default:
		return sandbox.NewError(sandbox.KindUnknown, op, "", err)
	}
}
