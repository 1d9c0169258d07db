package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/agentbox/config"
	"github.com/isdmx/agentbox/execution"
	"github.com/isdmx/agentbox/pipeline"
	"github.com/isdmx/agentbox/sandbox"
)

const (
	defaultLogLimit = 1000

	// maxWait bounds blocking tool calls unless the default timeout is longer
	maxWait = 10 * time.Minute
)

// Executions is the part of the orchestrator the tools drive.
// *execution.Orchestrator satisfies it.
type Executions interface {
	Submit(ctx context.Context, req execution.Request) (execution.Response, error)
	Cancel(ctx context.Context, id, reason string) error
	Complete(id string) error
	Status(ctx context.Context, id string) (execution.Response, error)
	Wait(ctx context.Context, id string) (execution.Response, error)
	List() []execution.Response
	StreamLogs(ctx context.Context, id string, follow bool) (<-chan pipeline.LogEntry, error)
	Artifacts(ctx context.Context, id string) ([]pipeline.Artifact, error)
	Exec(ctx context.Context, id string, command []string, env map[string]string) (sandbox.ExecResult, error)
}

// Catalog lists the registered providers. *sandbox.Manager satisfies it.
type Catalog interface {
	Names() []string
	Get(name string) (sandbox.Provider, error)
}

// MCPServer represents the MCP server
type MCPServer struct {
	config     *config.Config
	logger     *zap.Logger
	executions Executions
	catalog    Catalog
	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, executions Executions, catalog Catalog) (*MCPServer, error) {
	s := &MCPServer{
		config:     cfg,
		logger:     logger.Named("mcp"),
		executions: executions,
		catalog:    catalog,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.String("sandbox.default_provider", cfg.Sandbox.DefaultProvider),
		zap.String("sandbox.default_image", cfg.Sandbox.DefaultImage),
		zap.Int("sandbox.timeout_sec", cfg.Sandbox.TimeoutSec),
		zap.Int64("sandbox.memory_mb", cfg.Sandbox.MemoryMB),
		zap.Float64("sandbox.cpu_cores", cfg.Sandbox.CPUCores),
		zap.String("sandbox.pull_policy", cfg.Sandbox.PullPolicy),
		zap.String("storage.driver", cfg.Storage.Driver),
		zap.String("storage.artifact_backend", cfg.Storage.ArtifactBackend),
		zap.Strings("providers", catalog.Names()),
	)

	s.mcpServer = server.NewMCPServer("agentbox", "Sandboxed execution of AI agent workloads")

	s.registerTools()

	return s, nil
}

func (s *MCPServer) registerTools() {
	idProp := map[string]any{
		"type":        "string",
		"description": "Execution id returned by submit_execution",
	}

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "submit_execution",
		Description: "Run an agent workload in a fresh sandbox container",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"prompt":          map[string]any{"type": "string", "description": "Task prompt, passed to the workload as AGENTBOX_PROMPT"},
				"execution_id":    map[string]any{"type": "string", "description": "Caller chosen id (optional, generated when empty)"},
				"task_id":         map[string]any{"type": "string", "description": "Task the execution belongs to"},
				"agent_id":        map[string]any{"type": "string", "description": "Agent running the task"},
				"model":           map[string]any{"type": "string", "description": "Model the agent uses"},
				"provider":        map[string]any{"type": "string", "description": "Provider name (defaults to the configured provider)"},
				"image":           map[string]any{"type": "string", "description": "Container image (defaults to the configured image)"},
				"command":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Command overriding the image default"},
				"env":             map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string"}, "description": "Environment variables"},
				"workspace_path":  map[string]any{"type": "string", "description": "Host directory mounted at the same path and used as working directory"},
				"volumes":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Extra mounts as host:container[:ro]"},
				"output_paths":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Container paths or glob patterns collected as artifacts"},
				"memory_mb":       map[string]any{"type": "integer", "description": "Memory limit in MB"},
				"cpu_cores":       map[string]any{"type": "number", "description": "CPU limit in cores"},
				"timeout_seconds": map[string]any{"type": "integer", "description": "Hard limit on running time"},
				"wait":            map[string]any{"type": "boolean", "description": "Block until the execution ends and return the final status"},
			},
		},
	}, s.handleSubmit)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "cancel_execution",
		Description: "Stop an in-flight execution and remove its container",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"execution_id": idProp,
				"reason":       map[string]any{"type": "string", "description": "Why the execution is cancelled"},
			},
			Required: []string{"execution_id"},
		},
	}, s.handleCancel)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "complete_execution",
		Description: "Mark an execution as done even if its process is still running",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{"execution_id": idProp},
			Required:   []string{"execution_id"},
		},
	}, s.handleComplete)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "get_execution_status",
		Description: "Return the current status of an execution",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"execution_id": idProp,
				"wait":         map[string]any{"type": "boolean", "description": "Block until the execution ends"},
			},
			Required: []string{"execution_id"},
		},
	}, s.handleStatus)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "get_execution_logs",
		Description: "Return persisted log entries of an execution in sequence order",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"execution_id":   idProp,
				"after_sequence": map[string]any{"type": "integer", "description": "Only entries with a higher sequence number"},
				"limit":          map[string]any{"type": "integer", "description": "Maximum number of entries (default 1000)"},
			},
			Required: []string{"execution_id"},
		},
	}, s.handleLogs)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_executions",
		Description: "List executions known to this server",
		InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]any{}},
	}, s.handleList)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_artifacts",
		Description: "List the artifacts collected from an execution",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{"execution_id": idProp},
			Required:   []string{"execution_id"},
		},
	}, s.handleArtifacts)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "exec_command",
		Description: "Run an additional command inside a running execution's container",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"execution_id": idProp,
				"command":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Command and arguments"},
				"env":          map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string"}, "description": "Extra environment variables"},
			},
			Required: []string{"execution_id", "command"},
		},
	}, s.handleExec)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_providers",
		Description: "List registered sandbox providers with their capabilities and availability",
		InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]any{}},
	}, s.handleProviders)
}

func (s *MCPServer) handleSubmit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req := execution.Request{
		ExecutionID:   request.GetString("execution_id", ""),
		TaskID:        request.GetString("task_id", ""),
		AgentID:       request.GetString("agent_id", ""),
		Model:         request.GetString("model", ""),
		Prompt:        request.GetString("prompt", ""),
		Provider:      execution.ProviderKind(request.GetString("provider", "")),
		Image:         request.GetString("image", ""),
		WorkspacePath: request.GetString("workspace_path", ""),
		Command:       request.GetStringSlice("command", nil),
		Volumes:       request.GetStringSlice("volumes", nil),
		OutputPaths:   request.GetStringSlice("output_paths", nil),
		Env:           stringMap(request.GetArguments()["env"]),
		Limits: execution.ResourceLimits{
			MemoryMB:       int64(request.GetInt("memory_mb", 0)),
			CPUCores:       request.GetFloat("cpu_cores", 0),
			TimeoutSeconds: request.GetInt("timeout_seconds", 0),
		},
	}

	s.logger.Info("execution requested",
		zap.String("execution_id", req.ExecutionID),
		zap.String("provider", string(req.Provider)),
		zap.String("image", req.Image),
	)

	resp, err := s.executions.Submit(ctx, req)
	if err != nil {
		s.logger.Warn("submission failed", zap.String("kind", string(sandbox.KindOf(err))), zap.Error(err))
		return errorResult(err), nil
	}

	if request.GetBool("wait", false) {
		return s.wait(ctx, resp.ExecutionID)
	}
	return jsonResult(resp)
}

func (s *MCPServer) handleCancel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("execution_id")
	if err != nil {
		return errorResult(sandbox.InvalidRequest("cancel", err.Error())), nil
	}
	if err := s.executions.Cancel(ctx, id, request.GetString("reason", "")); err != nil {
		return errorResult(err), nil
	}
	return s.status(ctx, id)
}

func (s *MCPServer) handleComplete(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("execution_id")
	if err != nil {
		return errorResult(sandbox.InvalidRequest("complete", err.Error())), nil
	}
	if err := s.executions.Complete(id); err != nil {
		return errorResult(err), nil
	}
	return s.wait(ctx, id)
}

func (s *MCPServer) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("execution_id")
	if err != nil {
		return errorResult(sandbox.InvalidRequest("status", err.Error())), nil
	}
	if request.GetBool("wait", false) {
		return s.wait(ctx, id)
	}
	return s.status(ctx, id)
}

func (s *MCPServer) handleLogs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("execution_id")
	if err != nil {
		return errorResult(sandbox.InvalidRequest("logs", err.Error())), nil
	}
	after := int64(request.GetInt("after_sequence", 0))
	limit := request.GetInt("limit", defaultLogLimit)
	if limit <= 0 {
		limit = defaultLogLimit
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, err := s.executions.StreamLogs(ctx, id, false)
	if err != nil {
		return errorResult(err), nil
	}

	entries := make([]pipeline.LogEntry, 0, min(limit, 64))
	for e := range ch {
		if e.SequenceNumber <= after {
			continue
		}
		entries = append(entries, e)
		if len(entries) == limit {
			break
		}
	}
	return jsonResult(map[string]any{
		"execution_id": id,
		"entries":      entries,
	})
}

func (s *MCPServer) handleList(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.executions.List())
}

func (s *MCPServer) handleArtifacts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("execution_id")
	if err != nil {
		return errorResult(sandbox.InvalidRequest("artifacts", err.Error())), nil
	}
	arts, err := s.executions.Artifacts(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(arts)
}

func (s *MCPServer) handleExec(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("execution_id")
	if err != nil {
		return errorResult(sandbox.InvalidRequest("exec", err.Error())), nil
	}
	command, err := request.RequireStringSlice("command")
	if err != nil {
		return errorResult(sandbox.InvalidRequest("exec", err.Error())), nil
	}

	res, err := s.executions.Exec(ctx, id, command, stringMap(request.GetArguments()["env"]))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

func (s *MCPServer) handleProviders(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	infos := make([]sandbox.ProviderInfo, 0)
	for _, name := range s.catalog.Names() {
		p, err := s.catalog.Get(name)
		if err != nil {
			continue
		}
		infos = append(infos, p.Info(ctx))
	}
	return jsonResult(infos)
}

func (s *MCPServer) status(ctx context.Context, id string) (*mcp.CallToolResult, error) {
	resp, err := s.executions.Status(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(resp)
}

func (s *MCPServer) wait(ctx context.Context, id string) (*mcp.CallToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, max(maxWait, s.config.GetTimeout()))
	defer cancel()

	resp, err := s.executions.Wait(ctx, id)
	if err != nil && resp.ExecutionID == "" {
		return errorResult(err), nil
	}
	return jsonResult(resp)
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	s.httpServer = server.NewStreamableHTTPServer(s.mcpServer)
	return s.httpServer.Start(fmt.Sprintf(":%d", port))
}

// Shutdown stops the HTTP transport if it is running
func (s *MCPServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

// toolError is the body of a failed tool call.
type toolError struct {
	Error string       `json:"error"`
	Kind  sandbox.Kind `json:"kind"`
}

func errorResult(err error) *mcp.CallToolResult {
	body, _ := json.Marshal(toolError{Error: err.Error(), Kind: sandbox.KindOf(err)})
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(body),
			},
		},
		IsError: true,
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(body),
			},
		},
	}, nil
}

// stringMap converts a decoded JSON object into string values, skipping
// anything that is not a string.
func stringMap(v any) map[string]string {
	obj, ok := v.(map[string]any)
	if !ok || len(obj) == 0 {
		return nil
	}
	out := make(map[string]string, len(obj))
	for k, val := range obj {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}
