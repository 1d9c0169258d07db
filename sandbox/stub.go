package sandbox

import (
	"context"
	"io"
	"time"
)

// StubProvider stands in for a hosted sandbox service whose transport has not
// been implemented. It reports itself unavailable and answers every lifecycle
// or interaction call with KindNotSupported, which lets callers tell "never
// implemented" apart from "currently down".
type StubProvider struct {
	name        string
	description string
	endpoint    string
}

var _ Provider = (*StubProvider)(nil)

// NewStubProvider creates a stub registered under name.
func NewStubProvider(name, description, endpoint string) *StubProvider {
	return &StubProvider{name: name, description: description, endpoint: endpoint}
}

// Remote backends known to the registry. None of them has a transport yet.
const (
	ProviderE2B         = "e2b"
	ProviderModal       = "modal"
	ProviderDaytona     = "daytona"
	ProviderFly         = "fly"
	ProviderKubernetes  = "kubernetes"
	ProviderFirecracker = "firecracker"
)

// stubDescriptions is the static metadata reported by each stub.
var stubDescriptions = map[string]string{
	ProviderE2B:         "E2B cloud sandboxes",
	ProviderModal:       "Modal serverless sandboxes",
	ProviderDaytona:     "Daytona development environments",
	ProviderFly:         "Fly.io machines",
	ProviderKubernetes:  "Kubernetes pods",
	ProviderFirecracker: "Firecracker microVMs",
}

// NewRemoteStub returns the stub for one of the known remote backends.
func NewRemoteStub(name, endpoint string) *StubProvider {
	desc, ok := stubDescriptions[name]
	if !ok {
		desc = name + " sandboxes"
	}
	return NewStubProvider(name, desc, endpoint)
}

func (s *StubProvider) Name() string { return s.name }

func (*StubProvider) IsAvailable(context.Context) bool { return false }

func (s *StubProvider) Info(context.Context) ProviderInfo {
	return ProviderInfo{
		Name:        s.name,
		Kind:        ProviderKindRemote,
		Description: s.description,
		Endpoint:    s.endpoint,
		Available:   false,
		Status:      ProviderStatusNotImplemented,
	}
}

func (s *StubProvider) CreateContainer(context.Context, ContainerConfig) (ContainerInfo, error) {
	return ContainerInfo{}, NotSupported(s.name, "create_container")
}

func (s *StubProvider) StartContainer(context.Context, string) error {
	return NotSupported(s.name, "start_container")
}

func (s *StubProvider) StopContainer(context.Context, string, int) error {
	return NotSupported(s.name, "stop_container")
}

func (s *StubProvider) RemoveContainer(context.Context, string, bool) error {
	return NotSupported(s.name, "remove_container")
}

func (s *StubProvider) GetContainerInfo(context.Context, string) (ContainerInfo, error) {
	return ContainerInfo{}, NotSupported(s.name, "get_container_info")
}

func (s *StubProvider) ListContainers(context.Context, bool) ([]ContainerInfo, error) {
	return nil, NotSupported(s.name, "list_containers")
}

func (s *StubProvider) ExecCommand(context.Context, string, []string, map[string]string) (ExecResult, error) {
	return ExecResult{}, NotSupported(s.name, "exec_command")
}

func (s *StubProvider) StreamLogs(context.Context, string, bool, time.Time) (<-chan OutputChunk, <-chan error, error) {
	return nil, nil, NotSupported(s.name, "stream_logs")
}

func (s *StubProvider) CopyToContainer(context.Context, string, string, string) error {
	return NotSupported(s.name, "copy_to_container")
}

func (s *StubProvider) CopyFromContainer(context.Context, string, string) (io.ReadCloser, error) {
	return nil, NotSupported(s.name, "copy_from_container")
}

func (s *StubProvider) GetMetrics(context.Context, string) (ContainerMetrics, error) {
	return ContainerMetrics{}, NotSupported(s.name, "get_metrics")
}

func (s *StubProvider) PullImage(context.Context, string, bool) error {
	return NotSupported(s.name, "pull_image")
}

func (s *StubProvider) ImageExists(context.Context, string) (bool, error) {
	return false, NotSupported(s.name, "image_exists")
}
