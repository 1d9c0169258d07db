package sandbox

import (
	"context"
	"io"
	"time"
)

// Provider is an execution backend. Every backend, real or stub, satisfies
// the same lifecycle contract so the orchestrator never needs to know which
// one it is talking to.
//
// CreateContainer never starts the container. StopContainer gives the
// primary process timeoutSecs to exit before it is killed. All failures are
// returned as *Error.
type Provider interface {
	// Name is the registry key of the provider, e.g. "local".
	Name() string
	// IsAvailable reports whether the backend can accept work right now.
	IsAvailable(ctx context.Context) bool
	// Info returns static capability and status metadata.
	Info(ctx context.Context) ProviderInfo

	CreateContainer(ctx context.Context, cfg ContainerConfig) (ContainerInfo, error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string, timeoutSecs int) error
	RemoveContainer(ctx context.Context, id string, force bool) error
	GetContainerInfo(ctx context.Context, id string) (ContainerInfo, error)
	ListContainers(ctx context.Context, includeStopped bool) ([]ContainerInfo, error)

	// ExecCommand runs command inside a running container and blocks until
	// it exits or ctx is done.
	ExecCommand(ctx context.Context, id string, command []string, env map[string]string) (ExecResult, error)
	// StreamLogs starts a fresh stream of container output since the given
	// time (zero means from the beginning). With follow the stream ends only
	// when ctx is cancelled or the container exits; without it the stream
	// ends after the historical output. The error channel receives at most
	// one value and is closed together with the chunk channel.
	StreamLogs(ctx context.Context, id string, follow bool, since time.Time) (<-chan OutputChunk, <-chan error, error)
	// CopyToContainer copies a host file or directory into dstDir.
	CopyToContainer(ctx context.Context, id, srcPath, dstDir string) error
	// CopyFromContainer returns srcPath as an uncompressed tar stream.
	CopyFromContainer(ctx context.Context, id, srcPath string) (io.ReadCloser, error)

	GetMetrics(ctx context.Context, id string) (ContainerMetrics, error)

	PullImage(ctx context.Context, image string, force bool) error
	ImageExists(ctx context.Context, image string) (bool, error)
}

// ProviderKind distinguishes engines on this host from hosted services.
type ProviderKind string

const (
	ProviderKindLocal  ProviderKind = "local"
	ProviderKindRemote ProviderKind = "remote"
)

// ProviderStatus is the coarse health reported in ProviderInfo.
type ProviderStatus string

const (
	ProviderStatusAvailable      ProviderStatus = "available"
	ProviderStatusUnavailable    ProviderStatus = "unavailable"
	ProviderStatusNotImplemented ProviderStatus = "not_implemented"
)

// Capabilities advertises which parts of the contract a provider honors.
// Limits a provider cannot enforce are reported here rather than ignored.
type Capabilities struct {
	Exec         bool    `json:"exec"`
	Logs         bool    `json:"logs"`
	FileTransfer bool    `json:"file_transfer"`
	Metrics      bool    `json:"metrics"`
	Images       bool    `json:"images"`
	CPULimit     bool    `json:"cpu_limit"`
	MemoryLimit  bool    `json:"memory_limit"`
	StorageLimit bool    `json:"storage_limit"`
	MaxCPUCores  float64 `json:"max_cpu_cores,omitempty"`
	MaxMemoryMB  int64   `json:"max_memory_mb,omitempty"`
}

// ProviderInfo describes a provider for listings and health checks.
type ProviderInfo struct {
	Name         string         `json:"name"`
	Kind         ProviderKind   `json:"kind"`
	Description  string         `json:"description"`
	Endpoint     string         `json:"endpoint,omitempty"`
	Version      string         `json:"version,omitempty"`
	Available    bool           `json:"available"`
	Status       ProviderStatus `json:"status"`
	Capabilities Capabilities   `json:"capabilities"`
}
