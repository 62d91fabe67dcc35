package cmd

import (
	"context"
	"fmt"

	"corral/internal/app"

	"github.com/spf13/cobra"
)

// serveDebug enables verbose logging across the application.
// This helps troubleshoot reconcile decisions and bridge session handling.
var serveDebug bool

// serveSilent suppresses all log output.
// Useful when corral runs under a supervisor that only inspects exit codes.
var serveSilent bool

// serveOffline forces the in-memory store and local process workloads.
// When enabled, no Kubernetes cluster is contacted at all.
var serveOffline bool

// serveConfigPath specifies a custom configuration directory path.
// When set, config.yaml is loaded from this directory instead of ~/.config/corral.
var serveConfigPath string

// serveCmd defines the serve command structure.
// This is the main command of corral that starts the reconciliation
// controller and the transport bridge.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the corral controller and transport bridge",
	Long: `Starts the two halves of corral in one process:

1. The reconciliation controller:
   - Watches MCPServerPool and MCPServer resources and drives every
     instance toward its desired lifecycle phase.
   - Starts workloads for admitted instances, marks them Idle when no
     session has touched them for the pool's idle timeout, and evicts
     the longest-idle instances under capacity pressure.
   - Reaps stopped instances once their retention expires.

2. The transport bridge:
   - Exposes GET /servers/{name}/sse and POST /servers/{name}/message
     for MCP clients.
   - Relays JSON-RPC to the backing instance over SSE, streamable HTTP
     or, via the in-pod shim, stdio.
   - Reports session activity back to the controller so instance
     lifecycles follow real usage.

Against a cluster, records live as CRDs and instances run as Pods. With
--offline (or when no cluster is reachable) records are kept in memory
and instances run as local child processes, which is handy for trying
out pool definitions without a cluster.

Configuration:
  corral loads config.yaml from ~/.config/corral by default. Use
  --config-path to load from a different directory. A missing file means
  built-in defaults. The CORRAL_NAMESPACE environment variable overrides
  the configured namespace.`,
	Args: cobra.NoArgs, // No arguments required
	RunE: runServe,
}

// runServe is the main entry point for the serve command
func runServe(cmd *cobra.Command, args []string) error {
	// Create application configuration from the CLI flags
	cfg := app.NewConfig(serveDebug, serveSilent, serveOffline, serveConfigPath)

	// Create and initialize the application
	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	// Run the application
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

// init registers the serve command and its flags with the root command.
// This is called automatically when the package is imported.
func init() {
	rootCmd.AddCommand(serveCmd)

	// Register command flags
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable general debug logging")
	serveCmd.Flags().BoolVar(&serveSilent, "silent", false, "Suppress all log output")
	serveCmd.Flags().BoolVar(&serveOffline, "offline", false, "Run with the in-memory store and local process workloads")
	serveCmd.Flags().StringVar(&serveConfigPath, "config-path", "", "Custom configuration directory path (default ~/.config/corral)")
}
