package sandbox

import (
	"context"

	"go.uber.org/zap"

	"github.com/isdmx/agentbox/config"
)

// NewManagerFromConfig builds the registry from configuration. A backend
// whose construction fails (an unreachable daemon, say) is logged and left
// unregistered; lookups for it then fail with KindProviderNotFound while the
// other backends keep working.
func NewManagerFromConfig(ctx context.Context, logger *zap.Logger, cfg *config.Config) *Manager {
	manager := NewManager(logger)

	engines := []struct {
		name string
		cfg  config.EngineConfig
		new  func(context.Context, *zap.Logger, DockerConfig, ...DockerProviderOption) (Provider, error)
	}{
		{
			name: ProviderLocal,
			cfg:  cfg.Providers.Local,
			new: func(ctx context.Context, l *zap.Logger, c DockerConfig, opts ...DockerProviderOption) (Provider, error) {
				return NewDockerProvider(ctx, l, c, opts...)
			},
		},
		{
			name: ProviderPodman,
			cfg:  cfg.Providers.Podman,
			new: func(ctx context.Context, l *zap.Logger, c DockerConfig, opts ...DockerProviderOption) (Provider, error) {
				return NewPodmanProvider(ctx, l, c, opts...)
			},
		},
	}

	for _, e := range engines {
		if !e.cfg.Enabled {
			logger.Debug("provider disabled", zap.String("provider", e.name))
			continue
		}
		p, err := e.new(ctx, logger, engineConfig(e.name, e.cfg))
		if err != nil {
			logger.Warn("provider unavailable, skipping registration",
				zap.String("provider", e.name),
				zap.String("kind", string(KindOf(err))),
				zap.Error(err),
			)
			continue
		}
		manager.Register(e.name, p)
	}

	remotes := []struct {
		name string
		cfg  config.RemoteConfig
	}{
		{ProviderE2B, cfg.Providers.E2B},
		{ProviderModal, cfg.Providers.Modal},
		{ProviderDaytona, cfg.Providers.Daytona},
		{ProviderFly, cfg.Providers.Fly},
		{ProviderKubernetes, cfg.Providers.Kubernetes},
		{ProviderFirecracker, cfg.Providers.Firecracker},
	}
	for _, r := range remotes {
		if !r.cfg.Enabled {
			continue
		}
		manager.Register(r.name, NewRemoteStub(r.name, r.cfg.Endpoint))
	}

	return manager
}

func engineConfig(name string, c config.EngineConfig) DockerConfig {
	return DockerConfig{
		Name:                name,
		Host:                c.Host,
		NetworkMode:         c.NetworkMode,
		EnforceStorageLimit: c.EnforceStorageLimit,
		CleanupOrphans:      c.CleanupOrphans,
		PingTimeout:         c.PingTimeout,
		MaxCPUCores:         c.MaxCPUCores,
		MaxMemoryMB:         c.MaxMemoryMB,
	}
}
