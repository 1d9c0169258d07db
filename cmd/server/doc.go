// Package main is the entry point for the agentbox server.
//
// agentbox runs AI agent workloads in one sandbox container per execution,
// supervises them until they complete, fail, time out or are cancelled, and
// keeps their ordered logs and collected artifacts in durable storage. The
// serve command exposes this as MCP tools over stdio or HTTP; run executes a
// single workload in the foreground and providers lists the configured
// backends.
//
// The application uses cobra for commands, Uber's fx framework for dependency
// injection and lifecycle management, zap for structured logging and viper
// for configuration.
package main
