package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// SandboxConfig holds execution defaults applied by the orchestrator
type SandboxConfig struct {
	DefaultProvider   string        `mapstructure:"default_provider"`
	DefaultImage      string        `mapstructure:"default_image"`
	MemoryMB          int64         `mapstructure:"memory_mb"`
	CPUCores          float64       `mapstructure:"cpu_cores"`
	TimeoutSec        int           `mapstructure:"timeout_sec"`
	StopGraceSec      int           `mapstructure:"stop_grace_sec"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	RetryAttempts     uint          `mapstructure:"retry_attempts"`
	RetryInterval     time.Duration `mapstructure:"retry_interval"`
	PullPolicy        string        `mapstructure:"pull_policy"`
	KeepContainers    bool          `mapstructure:"keep_containers"`
	ReorderWindow     time.Duration `mapstructure:"reorder_window"`
	LogBatchSize      int           `mapstructure:"log_batch_size"`
	MaxArtifactSizeMB int64         `mapstructure:"max_artifact_size_mb"`
	RetainFinished    int           `mapstructure:"retain_finished"`
}

// ProvidersConfig holds per-backend settings. A backend that is disabled or
// fails to initialize is skipped without affecting the others.
type ProvidersConfig struct {
	Local       EngineConfig `mapstructure:"local"`
	Podman      EngineConfig `mapstructure:"podman"`
	E2B         RemoteConfig `mapstructure:"e2b"`
	Modal       RemoteConfig `mapstructure:"modal"`
	Daytona     RemoteConfig `mapstructure:"daytona"`
	Fly         RemoteConfig `mapstructure:"fly"`
	Kubernetes  RemoteConfig `mapstructure:"kubernetes"`
	Firecracker RemoteConfig `mapstructure:"firecracker"`
}

// EngineConfig configures a backend reached through the Docker Engine API
type EngineConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	Host                string        `mapstructure:"host"`
	NetworkMode         string        `mapstructure:"network_mode"`
	EnforceStorageLimit bool          `mapstructure:"enforce_storage_limit"`
	CleanupOrphans      bool          `mapstructure:"cleanup_orphans"`
	PingTimeout         time.Duration `mapstructure:"ping_timeout"`
	MaxCPUCores         float64       `mapstructure:"max_cpu_cores"`
	MaxMemoryMB         int64         `mapstructure:"max_memory_mb"`
}

// RemoteConfig configures a hosted sandbox service
type RemoteConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
}

// StorageConfig selects the persistence collaborator and artifact backend
type StorageConfig struct {
	Driver          string   `mapstructure:"driver"`
	DSN             string   `mapstructure:"dsn"`
	ArtifactBackend string   `mapstructure:"artifact_backend"`
	ArtifactDir     string   `mapstructure:"artifact_dir"`
	S3              S3Config `mapstructure:"s3"`
}

// S3Config holds S3 artifact storage settings
type S3Config struct {
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	Prefix       string `mapstructure:"prefix"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

// MetricsConfig holds Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	// A missing .env file is normal outside development
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	v := NewViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	return Load(v)
}

// NewViper returns a viper instance with defaults and AGENTBOX_* environment
// overrides registered
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("AGENTBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load unmarshals and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// SetDefaults registers every default value on v. Keys without a default are
// invisible to environment overrides, so every field gets one.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.http_port", 8080)

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")

	v.SetDefault("sandbox.default_provider", "local")
	v.SetDefault("sandbox.default_image", "ubuntu:22.04")
	v.SetDefault("sandbox.memory_mb", 2048)
	v.SetDefault("sandbox.cpu_cores", 2.0)
	v.SetDefault("sandbox.timeout_sec", 3600)
	v.SetDefault("sandbox.stop_grace_sec", 2)
	v.SetDefault("sandbox.poll_interval", time.Second)
	v.SetDefault("sandbox.retry_attempts", 3)
	v.SetDefault("sandbox.retry_interval", 500*time.Millisecond)
	v.SetDefault("sandbox.pull_policy", "missing")
	v.SetDefault("sandbox.keep_containers", false)
	v.SetDefault("sandbox.reorder_window", 50*time.Millisecond)
	v.SetDefault("sandbox.log_batch_size", 64)
	v.SetDefault("sandbox.max_artifact_size_mb", 100)
	v.SetDefault("sandbox.retain_finished", 256)

	v.SetDefault("providers.local.enabled", true)
	v.SetDefault("providers.local.host", "")
	v.SetDefault("providers.local.network_mode", "")
	v.SetDefault("providers.local.enforce_storage_limit", false)
	v.SetDefault("providers.local.cleanup_orphans", true)
	v.SetDefault("providers.local.ping_timeout", 5*time.Second)
	v.SetDefault("providers.local.max_cpu_cores", 0)
	v.SetDefault("providers.local.max_memory_mb", 0)

	v.SetDefault("providers.podman.enabled", false)
	v.SetDefault("providers.podman.host", "")
	v.SetDefault("providers.podman.network_mode", "")
	v.SetDefault("providers.podman.enforce_storage_limit", false)
	v.SetDefault("providers.podman.cleanup_orphans", true)
	v.SetDefault("providers.podman.ping_timeout", 5*time.Second)
	v.SetDefault("providers.podman.max_cpu_cores", 0)
	v.SetDefault("providers.podman.max_memory_mb", 0)

	for _, name := range []string{"e2b", "modal", "daytona", "fly", "kubernetes", "firecracker"} {
		v.SetDefault("providers."+name+".enabled", true)
		v.SetDefault("providers."+name+".endpoint", "")
		v.SetDefault("providers."+name+".api_key", "")
	}

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "agentbox.db")
	v.SetDefault("storage.artifact_backend", "local")
	v.SetDefault("storage.artifact_dir", "./artifacts")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.prefix", "artifacts")
	v.SetDefault("storage.s3.use_path_style", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Server.Transport == "http" && (c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535) {
		return fmt.Errorf("server.http_port must be between 1 and 65535, got: %d", c.Server.HTTPPort)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	if c.Sandbox.DefaultProvider == "" {
		return errors.New("sandbox.default_provider is required")
	}

	if c.Sandbox.TimeoutSec <= 0 {
		return fmt.Errorf("sandbox.timeout_sec must be positive, got: %d", c.Sandbox.TimeoutSec)
	}

	if c.Sandbox.MemoryMB <= 0 {
		return fmt.Errorf("sandbox.memory_mb must be positive, got: %d", c.Sandbox.MemoryMB)
	}

	if c.Sandbox.CPUCores <= 0 {
		return fmt.Errorf("sandbox.cpu_cores must be positive, got: %g", c.Sandbox.CPUCores)
	}

	if c.Sandbox.StopGraceSec < 0 {
		return fmt.Errorf("sandbox.stop_grace_sec must not be negative, got: %d", c.Sandbox.StopGraceSec)
	}

	if c.Sandbox.RetainFinished < 0 {
		return fmt.Errorf("sandbox.retain_finished must not be negative, got: %d", c.Sandbox.RetainFinished)
	}

	if c.Sandbox.PollInterval <= 0 {
		return fmt.Errorf("sandbox.poll_interval must be positive, got: %s", c.Sandbox.PollInterval)
	}

	if c.Sandbox.MaxArtifactSizeMB <= 0 {
		return fmt.Errorf("sandbox.max_artifact_size_mb must be positive, got: %d", c.Sandbox.MaxArtifactSizeMB)
	}

	switch c.Sandbox.PullPolicy {
	case "always", "missing", "never":
	default:
		return fmt.Errorf("invalid sandbox.pull_policy: %s, must be 'always', 'missing' or 'never'", c.Sandbox.PullPolicy)
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for driver %s", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unsupported storage.driver: %s", c.Storage.Driver)
	}

	switch c.Storage.ArtifactBackend {
	case "local":
		if c.Storage.ArtifactDir == "" {
			return errors.New("storage.artifact_dir is required for the local artifact backend")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return errors.New("storage.s3.bucket is required for the s3 artifact backend")
		}
	default:
		return fmt.Errorf("unsupported storage.artifact_backend: %s", c.Storage.ArtifactBackend)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return errors.New("metrics.addr is required when metrics are enabled")
	}

	return nil
}

// GetTimeout returns the default execution timeout as a duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSec) * time.Second
}
