package execution

import (
	"fmt"
	"slices"
	"time"

	"github.com/isdmx/agentbox/pipeline"
	"github.com/isdmx/agentbox/sandbox"
)

// ProviderKind selects the backend that runs an execution. The value is the
// provider's registry name, so new backends need no change here.
type ProviderKind string

const (
	ProviderLocal       ProviderKind = sandbox.ProviderLocal
	ProviderPodman      ProviderKind = sandbox.ProviderPodman
	ProviderE2B         ProviderKind = sandbox.ProviderE2B
	ProviderModal       ProviderKind = sandbox.ProviderModal
	ProviderDaytona     ProviderKind = sandbox.ProviderDaytona
	ProviderFly         ProviderKind = sandbox.ProviderFly
	ProviderKubernetes  ProviderKind = sandbox.ProviderKubernetes
	ProviderFirecracker ProviderKind = sandbox.ProviderFirecracker
)

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether s is final.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ResourceLimits are passed through to the provider. Zero values are
// replaced by defaults before submission.
type ResourceLimits struct {
	MemoryMB       int64   `json:"memory_mb" mapstructure:"memory_mb"`
	CPUCores       float64 `json:"cpu_cores" mapstructure:"cpu_cores"`
	TimeoutSeconds int     `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// DefaultResourceLimits returns 2048 MB, 2 cores and a one hour timeout.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{MemoryMB: 2048, CPUCores: 2.0, TimeoutSeconds: 3600}
}

func (l ResourceLimits) withDefaults(def ResourceLimits) ResourceLimits {
	if l.MemoryMB == 0 {
		l.MemoryMB = def.MemoryMB
	}
	if l.CPUCores == 0 {
		l.CPUCores = def.CPUCores
	}
	if l.TimeoutSeconds == 0 {
		l.TimeoutSeconds = def.TimeoutSeconds
	}
	return l
}

// Timeout returns the hard ceiling on the execution's running time.
func (l ResourceLimits) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// Request asks for one workload to run in one fresh container.
type Request struct {
	ExecutionID   string            `json:"execution_id,omitempty"`
	TaskID        string            `json:"task_id,omitempty"`
	AgentID       string            `json:"agent_id,omitempty"`
	Model         string            `json:"model,omitempty"`
	Prompt        string            `json:"prompt,omitempty"`
	Provider      ProviderKind      `json:"provider,omitempty"`
	Image         string            `json:"image,omitempty"`
	Limits        ResourceLimits    `json:"resource_limits"`
	WorkspacePath string            `json:"workspace_path,omitempty"`
	Volumes       []string          `json:"volumes,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
	Command       []string          `json:"command,omitempty"`
	OutputPaths   []string          `json:"output_paths,omitempty"`
	Labels        map[string]string `json:"labels,omitempty"`
}

// Validate checks the request structurally. Limits are not compared against
// what a provider can honor; that is reported by the provider itself.
func (r Request) Validate() error {
	const op = "submit"
	switch {
	case r.Image == "":
		return sandbox.InvalidRequest(op, "image is required")
	case r.Provider == "":
		return sandbox.InvalidRequest(op, "provider is required")
	case r.Limits.MemoryMB < 0:
		return sandbox.InvalidRequest(op, fmt.Sprintf("memory_mb must not be negative, got %d", r.Limits.MemoryMB))
	case r.Limits.CPUCores < 0:
		return sandbox.InvalidRequest(op, fmt.Sprintf("cpu_cores must not be negative, got %g", r.Limits.CPUCores))
	case r.Limits.TimeoutSeconds < 0:
		return sandbox.InvalidRequest(op, fmt.Sprintf("timeout_seconds must not be negative, got %d", r.Limits.TimeoutSeconds))
	}
	for name := range r.Env {
		if !sandbox.IsValidEnvVarName(name) {
			return sandbox.InvalidRequest(op, fmt.Sprintf("invalid environment variable name %q", name))
		}
	}
	for _, v := range r.Volumes {
		if _, err := sandbox.ParseVolumeSpec(v); err != nil {
			return err
		}
	}
	for _, p := range r.OutputPaths {
		if p == "" {
			return sandbox.InvalidRequest(op, "output paths must not be empty")
		}
	}
	return nil
}

// Response is a snapshot of an execution. Once Status is terminal the
// snapshot never changes again.
type Response struct {
	ExecutionID     string                  `json:"execution_id"`
	ContainerID     string                  `json:"container_id,omitempty"`
	Provider        ProviderKind            `json:"provider"`
	Status          Status                  `json:"status"`
	ContainerStatus sandbox.ContainerStatus `json:"container_status,omitempty"`
	SessionID       string                  `json:"session_id,omitempty"`
	Error           string                  `json:"error,omitempty"`
	ErrorKind       sandbox.Kind            `json:"error_kind,omitempty"`
	ExitCode        *int                    `json:"exit_code,omitempty"`
	SubmittedAt     time.Time               `json:"submitted_at"`
	StartedAt       *time.Time              `json:"started_at,omitempty"`
	FinishedAt      *time.Time              `json:"finished_at,omitempty"`
	Artifacts       []pipeline.Artifact     `json:"artifacts,omitempty"`
}

// Duration is the time between start and finish, or zero if either is unset.
func (r Response) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

func (r Response) clone() Response {
	r.Artifacts = slices.Clone(r.Artifacts)
	if r.ExitCode != nil {
		code := *r.ExitCode
		r.ExitCode = &code
	}
	return r
}
