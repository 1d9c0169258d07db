package sandbox

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind is the stable classification of a failure. Callers map it to status
// codes and retry decisions without knowing which provider produced it.
type Kind string

const (
	KindUnknown            Kind = "unknown"
	KindConnection         Kind = "connection"
	KindContainerNotFound  Kind = "container_not_found"
	KindImage              Kind = "image"
	KindContainerStart     Kind = "container_start"
	KindResourceLimit      Kind = "resource_limit_exceeded"
	KindBackendProtocol    Kind = "backend_protocol"
	KindCommunication      Kind = "communication"
	KindProcessCrashed     Kind = "process_crashed"
	KindTimeout            Kind = "timeout"
	KindCancelled          Kind = "cancelled"
	KindInvalidConfig      Kind = "invalid_config"
	KindInvalidRequest     Kind = "invalid_request"
	KindNotSupported       Kind = "not_supported"
	KindNotAvailable       Kind = "not_available"
	KindArtifactNotFound   Kind = "artifact_not_found"
	KindArtifactTransfer   Kind = "artifact_transfer"
	KindWorkspace          Kind = "workspace"
	KindProviderNotFound   Kind = "provider_not_found"
	KindDuplicateExecution Kind = "duplicate_execution"
	KindExecutionNotFound  Kind = "execution_not_found"
	KindWorkloadFailed     Kind = "workload_failed"
)

// Retryable reports whether an operation failing with this kind may succeed
// when attempted again.
func (k Kind) Retryable() bool {
	return k == KindConnection || k == KindCommunication
}

// HTTPStatus maps the kind to the status code an HTTP intake layer should use.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidConfig, KindInvalidRequest:
		return http.StatusBadRequest
	case KindContainerNotFound, KindArtifactNotFound, KindProviderNotFound, KindExecutionNotFound:
		return http.StatusNotFound
	case KindDuplicateExecution:
		return http.StatusConflict
	case KindNotSupported:
		return http.StatusNotImplemented
	case KindNotAvailable, KindConnection:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindResourceLimit:
		return http.StatusInsufficientStorage
	case KindCancelled:
		return 499
	case KindCommunication, KindBackendProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is the typed error returned by providers, the registry and the
// orchestrator.
type Error struct {
	Kind     Kind
	Op       string
	Provider string
	Message  string

	// Resource and Observed are set for KindResourceLimit.
	Resource string
	Observed string
	// Seconds is the configured limit for KindTimeout.
	Seconds int
	// Actor is who requested a KindCancelled stop.
	Actor string

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Message != "":
		b.WriteString(e.Message)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString(string(e.Kind))
	}
	if e.Message != "" && e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so sentinels such as
// ErrNotSupported work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrNotSupported       = &Error{Kind: KindNotSupported}
	ErrNotAvailable       = &Error{Kind: KindNotAvailable}
	ErrContainerNotFound  = &Error{Kind: KindContainerNotFound}
	ErrProviderNotFound   = &Error{Kind: KindProviderNotFound}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrCancelled          = &Error{Kind: KindCancelled}
	ErrDuplicateExecution = &Error{Kind: KindDuplicateExecution}
	ErrExecutionNotFound  = &Error{Kind: KindExecutionNotFound}
)

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err carries a retryable kind.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

// NewError builds an *Error of the given kind.
func NewError(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// NotSupported is returned by providers for operations they do not implement.
func NotSupported(provider, op string) *Error {
	return &Error{Kind: KindNotSupported, Provider: provider, Op: op, Message: "operation not supported by this provider"}
}

// NotAvailable is returned when a provider exists but its backend is down.
func NotAvailable(provider, op string, err error) *Error {
	return &Error{Kind: KindNotAvailable, Provider: provider, Op: op, Message: "provider is not available", Err: err}
}

// ProviderNotFound is returned by the registry for unknown provider names.
func ProviderNotFound(name string) *Error {
	return &Error{Kind: KindProviderNotFound, Op: "get_provider", Message: fmt.Sprintf("no provider registered under %q", name)}
}

// Timeout reports that a configured time limit expired.
func Timeout(op string, seconds int) *Error {
	return &Error{Kind: KindTimeout, Op: op, Seconds: seconds, Message: fmt.Sprintf("timed out after %ds", seconds)}
}

// Cancelled reports an explicit stop requested by actor.
func Cancelled(op, actor, reason string) *Error {
	msg := "cancelled by " + actor
	if reason != "" {
		msg += ": " + reason
	}
	return &Error{Kind: KindCancelled, Op: op, Actor: actor, Message: msg}
}

// ResourceLimitExceeded reports which resource was exhausted and the value observed.
func ResourceLimitExceeded(op, resource, observed string) *Error {
	return &Error{
		Kind:     KindResourceLimit,
		Op:       op,
		Resource: resource,
		Observed: observed,
		Message:  fmt.Sprintf("%s limit exceeded (observed %s)", resource, observed),
	}
}

// InvalidRequest reports a caller error that must not be retried.
func InvalidRequest(op, message string) *Error {
	return &Error{Kind: KindInvalidRequest, Op: op, Message: message}
}
