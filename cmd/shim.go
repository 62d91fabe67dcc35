package cmd

import (
	"context"

	"corral/internal/app"

	"github.com/spf13/cobra"
)

// shimListen is the address the shim's SSE endpoint binds inside the pod.
var shimListen string

// shimDebug enables verbose logging for the shim.
var shimDebug bool

// shimCmd defines the shim command structure.
// The shim is the entrypoint of pool instances with the stdio transport:
// it wraps a stdio MCP server and serves it over the bridge's SSE surface
// so the main bridge can reach it like any HTTP backend.
var shimCmd = &cobra.Command{
	Use:   "shim --listen <addr> -- <command> [args...]",
	Short: "Expose a stdio MCP server over SSE",
	Long: `Wraps a stdio MCP server so it can be reached over the network.

The shim listens on --listen and serves the same per-server SSE surface
as the main bridge. Every session that opens spawns one child process
running the wrapped command, matching stdio MCP semantics where a
process serves exactly one client. The child inherits the shim's
environment.

corral injects this command as the pod entrypoint for stdio pools; it is
rarely run by hand. Everything after -- is the wrapped command line:

  corral shim --listen :8080 -- npx -y @modelcontextprotocol/server-filesystem /data`,
	Args: cobra.MinimumNArgs(1),
	RunE: runShim,
}

// runShim is the main entry point for the shim command
func runShim(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return app.RunShim(ctx, app.ShimConfig{
		Listen:  shimListen,
		Command: args,
		Debug:   shimDebug,
	})
}

// init registers the shim command and its flags with the root command.
// This is called automatically when the package is imported.
func init() {
	rootCmd.AddCommand(shimCmd)

	// Register command flags
	shimCmd.Flags().StringVar(&shimListen, "listen", ":8080", "Address the SSE endpoint binds to")
	shimCmd.Flags().BoolVar(&shimDebug, "debug", false, "Enable debug logging")
}
