package sandbox

import (
	"time"
)

// ContainerStatus is the lifecycle state of a container as seen by a provider.
type ContainerStatus string

const (
	StatusCreating ContainerStatus = "creating"
	StatusCreated  ContainerStatus = "created"
	StatusRunning  ContainerStatus = "running"
	StatusPaused   ContainerStatus = "paused"
	StatusStopping ContainerStatus = "stopping"
	StatusStopped  ContainerStatus = "stopped"
	StatusRemoving ContainerStatus = "removing"
	StatusRemoved  ContainerStatus = "removed"
	StatusDead     ContainerStatus = "dead"
	StatusError    ContainerStatus = "error"
)

// transitions lists the states reachable from each state. Removing and Error
// are reachable from every live state and are handled in CanTransition.
var transitions = map[ContainerStatus][]ContainerStatus{
	StatusCreating: {StatusCreated},
	StatusCreated:  {StatusRunning},
	StatusRunning:  {StatusPaused, StatusStopping, StatusStopped},
	StatusPaused:   {StatusRunning, StatusStopping},
	StatusStopping: {StatusStopped},
	StatusRemoving: {StatusRemoved, StatusDead},
	StatusError:    {StatusStopping, StatusStopped},
}

// IsTerminal reports whether no further transition is possible.
func (s ContainerStatus) IsTerminal() bool {
	return s == StatusDead || s == StatusRemoved
}

// IsActive reports whether the primary process may still be executing.
func (s ContainerStatus) IsActive() bool {
	switch s {
	case StatusCreating, StatusCreated, StatusRunning, StatusPaused, StatusStopping:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a valid lifecycle step.
func (s ContainerStatus) CanTransition(next ContainerStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusRemoving || next == StatusError {
		return s != StatusRemoving || next == StatusError
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// VolumeMount binds a host path into the container.
type VolumeMount struct {
	HostPath      string `json:"host_path" mapstructure:"host_path"`
	ContainerPath string `json:"container_path" mapstructure:"container_path"`
	ReadOnly      bool   `json:"read_only" mapstructure:"read_only"`
}

// PortMapping publishes a container port on the host. A zero HostPort lets
// the engine pick a free port.
type PortMapping struct {
	HostPort      int    `json:"host_port"`
	ContainerPort int    `json:"container_port"`
	Protocol      string `json:"protocol"`
}

// ContainerConfig describes the container a provider should create.
// Providers treat it as read-only.
type ContainerConfig struct {
	Image      string            `json:"image"`
	Name       string            `json:"name,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	Volumes    []VolumeMount     `json:"volumes,omitempty"`
	Ports      []PortMapping     `json:"ports,omitempty"`
	CPUCores   float64           `json:"cpu_cores"`
	MemoryMB   int64             `json:"memory_mb"`
	StorageGB  int64             `json:"storage_gb,omitempty"`
	Command    []string          `json:"command,omitempty"`
	WorkingDir string            `json:"working_dir,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
}

// ContainerInfo is a provider's view of one container.
type ContainerInfo struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Image     string            `json:"image,omitempty"`
	Status    ContainerStatus   `json:"status"`
	Error     string            `json:"error,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Ports     map[int]int       `json:"ports,omitempty"` // container port -> host port
	Labels    map[string]string `json:"labels,omitempty"`
	ExitCode  *int              `json:"exit_code,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	StartedAt *time.Time        `json:"started_at,omitempty"`
	Metrics   *ContainerMetrics `json:"metrics,omitempty"`
}

// StreamType identifies which output stream a chunk came from.
type StreamType string

const (
	Stdout StreamType = "stdout"
	Stderr StreamType = "stderr"
)

// OutputChunk is one piece of container output.
type OutputChunk struct {
	Timestamp time.Time  `json:"timestamp"`
	Stream    StreamType `json:"stream"`
	Data      string     `json:"data"`
}

// ExecResult is the outcome of a command executed inside a running container.
type ExecResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// ContainerMetrics is a point-in-time resource sample. CPUPercent is relative
// to a single core and may exceed 100 on multi-core limits.
type ContainerMetrics struct {
	MemoryMB       float64   `json:"memory_mb"`
	MemoryLimitMB  float64   `json:"memory_limit_mb"`
	CPUPercent     float64   `json:"cpu_percent"`
	NetworkRxBytes uint64    `json:"network_rx_bytes"`
	NetworkTxBytes uint64    `json:"network_tx_bytes"`
	SampledAt      time.Time `json:"sampled_at"`
}
