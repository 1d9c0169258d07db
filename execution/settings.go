package execution

import (
	"time"

	"github.com/isdmx/agentbox/config"
)

// PullPolicy decides when the image of a request is pulled before create.
type PullPolicy string

const (
	PullAlways  PullPolicy = "always"
	PullMissing PullPolicy = "missing"
	PullNever   PullPolicy = "never"
)

// Settings are the orchestrator's defaults and tuning knobs.
type Settings struct {
	DefaultProvider ProviderKind
	DefaultImage    string
	DefaultLimits   ResourceLimits
	// StopGrace is how long a stopped workload gets to exit before it is
	// killed. A workload ignoring SIGTERM reaches its terminal state up to
	// StopGrace after its timeout.
	StopGrace       time.Duration
	PollInterval    time.Duration
	RetryAttempts   uint
	RetryInterval   time.Duration
	PullPolicy      PullPolicy
	KeepContainers  bool
	ReorderWindow   time.Duration
	LogBatchSize    int
	// LogDrainTimeout bounds how long a finished execution waits for the
	// provider's log stream to end on its own.
	LogDrainTimeout time.Duration
	// RetainFinished is how many finished executions stay in memory for
	// List and Status. Older ones are answered by the recorder, if any.
	RetainFinished  int
}

// DefaultSettings matches the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		DefaultProvider: ProviderLocal,
		DefaultImage:    "ubuntu:22.04",
		DefaultLimits:   DefaultResourceLimits(),
		StopGrace:       2 * time.Second,
		PollInterval:    time.Second,
		RetryAttempts:   3,
		RetryInterval:   500 * time.Millisecond,
		PullPolicy:      PullMissing,
		ReorderWindow:   50 * time.Millisecond,
		LogBatchSize:    64,
		LogDrainTimeout: 5 * time.Second,
		RetainFinished:  256,
	}
}

// SettingsFromConfig converts the sandbox section of the configuration.
func SettingsFromConfig(cfg config.SandboxConfig) Settings {
	s := DefaultSettings()
	s.DefaultProvider = ProviderKind(cfg.DefaultProvider)
	s.DefaultImage = cfg.DefaultImage
	s.DefaultLimits = ResourceLimits{
		MemoryMB:       cfg.MemoryMB,
		CPUCores:       cfg.CPUCores,
		TimeoutSeconds: cfg.TimeoutSec,
	}.withDefaults(DefaultResourceLimits())
	s.StopGrace = time.Duration(cfg.StopGraceSec) * time.Second
	s.PollInterval = cfg.PollInterval
	s.RetryAttempts = cfg.RetryAttempts
	s.RetryInterval = cfg.RetryInterval
	s.PullPolicy = PullPolicy(cfg.PullPolicy)
	s.KeepContainers = cfg.KeepContainers
	s.ReorderWindow = cfg.ReorderWindow
	s.LogBatchSize = cfg.LogBatchSize
	s.RetainFinished = cfg.RetainFinished
	return s
}

func (s Settings) stopGraceSeconds() int {
	return int(s.StopGrace / time.Second)
}
