package sandbox

import (
	"cmp"
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// ProviderPodman is the registry name of the Podman engine.
const ProviderPodman = "podman"

// PodmanProvider runs containers through Podman's Docker-compatible API
// service (`podman system service`). It shares its implementation with
// DockerProvider and differs only in name and default socket.
type PodmanProvider struct {
	*DockerProvider
}

var _ Provider = (*PodmanProvider)(nil)

// NewPodmanProvider connects to the Podman socket. When cfg.Host is empty the
// rootless socket under XDG_RUNTIME_DIR is tried first, then the system one.
func NewPodmanProvider(ctx context.Context, logger *zap.Logger, cfg DockerConfig, opts ...DockerProviderOption) (*PodmanProvider, error) {
	cfg.Name = cmp.Or(cfg.Name, ProviderPodman)
	cfg.Description = cmp.Or(cfg.Description, "Local Podman engine")
	if cfg.Host == "" {
		cfg.Host = defaultPodmanHost()
	}

	p, err := NewDockerProvider(ctx, logger, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &PodmanProvider{DockerProvider: p}, nil
}

func defaultPodmanHost() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		sock := fmt.Sprintf("%s/podman/podman.sock", dir)
		if _, err := os.Stat(sock); err == nil {
			return "unix://" + sock
		}
	}
	return "unix:///run/podman/podman.sock"
}
