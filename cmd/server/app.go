package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/agentbox/config"
	"github.com/isdmx/agentbox/execution"
	"github.com/isdmx/agentbox/logger"
	"github.com/isdmx/agentbox/mcpserver"
	"github.com/isdmx/agentbox/pipeline"
	"github.com/isdmx/agentbox/sandbox"
	"github.com/isdmx/agentbox/store"
)

const providerSetupTimeout = 30 * time.Second

// persistence bundles the log/artifact store with the optional execution
// recorder. Recorder is nil with the in-memory driver.
type persistence struct {
	Store    pipeline.Store
	Recorder execution.Recorder
}

// coreModule wires everything an execution needs, without a transport.
var coreModule = fx.Options(
	fx.Provide(
		// Config
		config.New,

		// Logger with configuration
		logger.NewFromConfig,

		// Providers, storage and metrics
		newManager,
		newPersistence,
		newArtifactStorage,
		newRegistry,
		func(reg *prometheus.Registry) *execution.Metrics { return execution.NewMetrics(reg) },

		// Orchestrator
		newOrchestrator,
	),

	// Use the application logger for fx logs
	fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: log}
	}),
)

// serverModule adds the MCP server and starts the configured transport.
var serverModule = fx.Options(
	coreModule,
	fx.Provide(
		func(o *execution.Orchestrator) mcpserver.Executions { return o },
		func(m *sandbox.Manager) mcpserver.Catalog { return m },
		mcpserver.New,
	),
	fx.Invoke(startTransport),
)

func newManager(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) *sandbox.Manager {
	ctx, cancel := context.WithTimeout(context.Background(), providerSetupTimeout)
	defer cancel()

	manager := sandbox.NewManagerFromConfig(ctx, log, cfg)
	lc.Append(fx.StopHook(manager.Close))
	return manager
}

func newPersistence(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (persistence, error) {
	if cfg.Storage.Driver == "memory" {
		log.Warn("using in-memory storage, logs and artifacts are lost on restart")
		return persistence{Store: pipeline.NewMemoryStore()}, nil
	}

	s, err := store.Open(cfg.Storage, log)
	if err != nil {
		return persistence{}, err
	}
	lc.Append(fx.StopHook(s.Close))
	return persistence{Store: s, Recorder: s}, nil
}

func newArtifactStorage(cfg *config.Config) (pipeline.ArtifactStorage, error) {
	switch cfg.Storage.ArtifactBackend {
	case "s3":
		ctx, cancel := context.WithTimeout(context.Background(), providerSetupTimeout)
		defer cancel()
		return pipeline.NewS3StorageFromConfig(ctx, cfg.Storage.S3)
	case "local":
		return pipeline.NewLocalStorage(afero.NewOsFs(), cfg.Storage.ArtifactDir), nil
	default:
		return nil, fmt.Errorf("unsupported artifact backend: %s", cfg.Storage.ArtifactBackend)
	}
}

// newRegistry returns the metrics registry and, when enabled, serves it on
// its own listener.
func newRegistry(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if !cfg.Metrics.Enabled {
		return reg
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				log.Info("serving metrics", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: srv.Shutdown,
	})
	return reg
}

func newOrchestrator(
	lc fx.Lifecycle,
	cfg *config.Config,
	log *zap.Logger,
	manager *sandbox.Manager,
	p persistence,
	storage pipeline.ArtifactStorage,
	metrics *execution.Metrics,
) *execution.Orchestrator {
	collector := pipeline.NewArtifactCollector(log, storage, p.Store, cfg.Sandbox.MaxArtifactSizeMB<<20)

	opts := []execution.Option{
		execution.WithSettings(execution.SettingsFromConfig(cfg.Sandbox)),
		execution.WithArtifactCollector(collector),
		execution.WithMetrics(metrics),
	}
	if p.Recorder != nil {
		opts = append(opts, execution.WithRecorder(p.Recorder))
	}

	orch := execution.NewOrchestrator(log, manager, p.Store, opts...)
	lc.Append(fx.StopHook(orch.Shutdown))
	return orch
}

// startTransport runs the MCP server in the background for the app's lifetime.
func startTransport(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg *config.Config, log *zap.Logger, server *mcpserver.MCPServer) error {
	var serve func() error
	switch cfg.Server.Transport {
	case "stdio":
		serve = server.ServeStdio
	case "http":
		serve = server.ServeHTTP
	default:
		return fmt.Errorf("unsupported transport: %s", cfg.Server.Transport)
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				err := serve()
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("transport stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
					return
				}
				// stdio returns once the client closes the stream
				_ = shutdowner.Shutdown()
			}()
			return nil
		},
		OnStop: server.Shutdown,
	})
	return nil
}
