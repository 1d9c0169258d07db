package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/isdmx/agentbox/execution"
	"github.com/isdmx/agentbox/pipeline"
	"github.com/isdmx/agentbox/sandbox"
)

const appTimeout = time.Minute

var runOpts struct {
	id        string
	provider  string
	image     string
	prompt    string
	workspace string
	env       map[string]string
	volumes   []string
	outputs   []string
	memoryMB  int64
	cpuCores  float64
	timeout   time.Duration
}

var runCmd = &cobra.Command{
	Use:   "run [flags] [-- command...]",
	Short: "Run one execution in the foreground and stream its logs",
	Long: `Run submits a single execution, prints its log entries as they arrive and
exits with the final status as JSON on stderr. Interrupting the command
cancels the execution.`,
	RunE: runOnce,
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List the registered sandbox providers",
	Args:  cobra.NoArgs,
	RunE:  listProviders,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runOpts.id, "id", "", "execution id (generated when empty)")
	f.StringVar(&runOpts.provider, "provider", "", "provider name (defaults to the configured provider)")
	f.StringVar(&runOpts.image, "image", "", "container image (defaults to the configured image)")
	f.StringVar(&runOpts.prompt, "prompt", "", "task prompt passed as AGENTBOX_PROMPT")
	f.StringVar(&runOpts.workspace, "workspace", "", "host directory mounted as the working directory")
	f.StringToStringVarP(&runOpts.env, "env", "e", nil, "environment variables (KEY=VALUE)")
	f.StringArrayVarP(&runOpts.volumes, "volume", "v", nil, "extra mount as host:container[:ro]")
	f.StringSliceVarP(&runOpts.outputs, "output", "o", nil, "container paths or globs collected as artifacts")
	f.Int64Var(&runOpts.memoryMB, "memory", 0, "memory limit in MB")
	f.Float64Var(&runOpts.cpuCores, "cpus", 0, "CPU limit in cores")
	f.DurationVar(&runOpts.timeout, "timeout", 0, "hard limit on running time")
}

// withCore starts the execution graph, hands the populated targets to fn and
// stops the graph afterwards.
func withCore(fn func(ctx context.Context) error, targets ...any) error {
	app := fx.New(coreModule, fx.Populate(targets...))
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(context.Background(), appTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runErr := fn(ctx)

	stopCtx, cancelStop := context.WithTimeout(context.Background(), appTimeout)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func runOnce(cmd *cobra.Command, args []string) error {
	var orch *execution.Orchestrator

	req := execution.Request{
		ExecutionID:   runOpts.id,
		Provider:      execution.ProviderKind(runOpts.provider),
		Image:         runOpts.image,
		Prompt:        runOpts.prompt,
		WorkspacePath: runOpts.workspace,
		Env:           runOpts.env,
		Volumes:       runOpts.volumes,
		OutputPaths:   runOpts.outputs,
		Command:       args,
		Limits: execution.ResourceLimits{
			MemoryMB:       runOpts.memoryMB,
			CPUCores:       runOpts.cpuCores,
			TimeoutSeconds: int(runOpts.timeout / time.Second),
		},
	}

	var final execution.Response
	err := withCore(func(ctx context.Context) error {
		resp, err := orch.Submit(ctx, req)
		if err != nil {
			return err
		}

		entries, err := orch.StreamLogs(context.WithoutCancel(ctx), resp.ExecutionID, true)
		if err != nil {
			return err
		}

		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				// Terminal executions reject cancellation; nothing to do then.
				_ = orch.Cancel(context.Background(), resp.ExecutionID, "interrupted")
			case <-done:
			}
		}()

		for e := range entries {
			printEntry(cmd.OutOrStdout(), e)
		}

		final, err = orch.Wait(context.Background(), resp.ExecutionID)
		return err
	}, &orch)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.ErrOrStderr())
	enc.SetIndent("", "  ")
	if err := enc.Encode(final); err != nil {
		return err
	}
	if final.Status != execution.StatusCompleted {
		return fmt.Errorf("execution %s %s: %s", final.ExecutionID, final.Status, final.Error)
	}
	return nil
}

func printEntry(w io.Writer, e pipeline.LogEntry) {
	if e.Source == pipeline.SourceOrchestrator {
		fmt.Fprintf(w, "%6d %s [%s] %s\n", e.SequenceNumber, e.Timestamp.Format(time.RFC3339), e.Level, e.Message)
		return
	}
	fmt.Fprintf(w, "%6d %s %s\n", e.SequenceNumber, e.Timestamp.Format(time.RFC3339), e.Message)
}

func listProviders(cmd *cobra.Command, _ []string) error {
	var manager *sandbox.Manager

	return withCore(func(ctx context.Context) error {
		infos := make([]sandbox.ProviderInfo, 0)
		for _, name := range manager.Names() {
			p, err := manager.Get(name)
			if err != nil {
				continue
			}
			infos = append(infos, p.Info(ctx))
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}, &manager)
}
