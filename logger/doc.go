// Package logger provides structured logging capabilities.
//
// The logger package sets up and configures the application's logging
// system using zap. Components receive a *zap.Logger and derive named
// children from it (orchestrator, pipeline, store, sandbox), attaching the
// execution id as a field wherever one is in scope.
//
// Usage:
//
//	logger, err := logger.NewFromConfig(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	logger.Info("Application started")
//	logger.Error("An error occurred", zap.Error(err))
package logger
