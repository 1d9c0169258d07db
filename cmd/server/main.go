package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var (
	version = "dev"
	commit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "agentbox",
	Short: "Run AI agent workloads in supervised sandbox containers",
	Long: `agentbox creates an isolated container per agent execution, streams its
output into an ordered log, collects the files it produces and exposes the
whole lifecycle as Model Context Protocol tools.`,
	RunE:          runServe, // Default to serving MCP.
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the MCP tools over the configured transport",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "agentbox %s (commit: %s)\n", version, commit)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, runCmd, providersCmd, versionCmd)
}

func runServe(*cobra.Command, []string) error {
	app := fx.New(serverModule)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
