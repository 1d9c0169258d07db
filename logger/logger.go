package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/isdmx/agentbox/config"
)

// Option adjusts the zap configuration before the logger is built
type Option func(*zap.Config)

// WithOutputPaths replaces the sinks log lines are written to
func WithOutputPaths(paths ...string) Option {
	return func(cfg *zap.Config) {
		cfg.OutputPaths = paths
	}
}

// WithInitialFields adds fields to every log line
func WithInitialFields(fields map[string]any) Option {
	return func(cfg *zap.Config) {
		if cfg.InitialFields == nil {
			cfg.InitialFields = make(map[string]any, len(fields))
		}
		for k, v := range fields {
			cfg.InitialFields[k] = v
		}
	}
}

// NewFromConfig builds the logger for cfg. With the stdio transport stdout
// carries the protocol, so logs go to stderr.
func NewFromConfig(cfg *config.Config) (*zap.Logger, error) {
	var opts []Option
	if cfg.Server.Transport == "stdio" {
		opts = append(opts, WithOutputPaths("stderr"))
	}
	return New(cfg.Logging.Mode, cfg.Logging.Level, opts...)
}

// New creates a new logger instance based on configuration
func New(mode, level string, opts ...Option) (*zap.Logger, error) {
	var cfg zap.Config

	switch mode {
	case "development":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "production":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("invalid logging mode: %s, must be 'production' or 'development'", mode)
	}

	// Set the log level
	logLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid logging level: %s, must be one of 'debug', 'info', 'warn', 'error', 'dpanic', 'panic', 'fatal'", level)
	}
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg.Build()
}
