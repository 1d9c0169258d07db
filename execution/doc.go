// Package execution orchestrates agent workloads on sandbox providers.
//
// An Orchestrator accepts a Request, resolves its provider, pulls the image
// according to the pull policy, then creates and starts one fresh container.
// Submit returns as soon as the container is running; a background driver
// then consumes the container's output into a pipeline.LogPipeline, polls
// for the exit of the primary process and enforces the timeout. The
// execution ends exactly once, as completed, failed or cancelled, and its
// container is stopped and removed on every path.
//
// Transient provider failures (connection and communication kinds) are
// retried with exponential backoff; everything else fails fast with a typed
// *sandbox.Error.
//
// Usage:
//
//	orch := execution.NewOrchestrator(logger, manager, store,
//	    execution.WithSettings(execution.SettingsFromConfig(cfg.Sandbox)),
//	)
//	resp, err := orch.Submit(ctx, execution.Request{Prompt: "fix the tests"})
//	logs, err := orch.StreamLogs(ctx, resp.ExecutionID, true)
//	final, err := orch.Wait(ctx, resp.ExecutionID)
package execution
