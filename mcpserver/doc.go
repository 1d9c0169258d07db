// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package exposes the execution orchestrator as MCP tools using
// the mark3labs/mcp-go library: submit_execution, cancel_execution,
// complete_execution, get_execution_status, get_execution_logs,
// list_executions, list_artifacts, exec_command and list_providers. Tool
// results are JSON documents; failures carry the error kind so clients can
// tell a missing provider from a timed out workload.
//
// The server supports both stdio and HTTP transports as configured by the
// application configuration.
//
// Usage:
//
//	server, err := mcpserver.New(config, logger, orchestrator, manager)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
