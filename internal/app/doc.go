// Package app provides application bootstrap, lifecycle management, and
// service wiring for corral.
//
// This package implements the central application lifecycle control following
// the API Service Locator Pattern and clean separation of concerns. It
// handles configuration loading, service construction, API adapter
// registration, and graceful startup and shutdown of the two halves of
// corral: the reconcile controller and the transport bridge.
//
// # Architecture Overview
//
// The app package is the composition root, with six core components:
//
// 1. **Bootstrap (`bootstrap.go`)**: Application initialization and lifecycle management
// 2. **Configuration (`config.go`)**: Application runtime configuration structure
// 3. **Services (`services.go`)**: Service initialization, registration, and dependency wiring
// 4. **Run loop (`run.go`)**: Signal handling and ordered shutdown
// 5. **Resolver (`resolver.go`)**: Store-backed backend resolution for the bridge
// 6. **Shim (`shim.go`)**: In-pod entrypoint wrapping stdio MCP servers
//
// # Core Components
//
// ## Bootstrap (bootstrap.go)
//
// The bootstrap component handles the complete application initialization
// sequence:
//
//   - **Logging Configuration**: Sets up logging based on the debug and silent flags
//   - **Configuration Loading**: Loads config.yaml from the configuration directory
//   - **Service Initialization**: Creates and registers all services and API adapters
//
// ## Service Wiring (services.go)
//
// InitializeServices constructs the components in dependency order:
//
//  1. **Store**: Kubernetes-backed when a cluster with the corral CRDs is
//     reachable, in-memory otherwise. The --offline flag forces in-memory.
//  2. **Workload manager**: Pods and Services in Kubernetes mode, host
//     processes offline. Always matches the store mode.
//  3. **Bridge**: the SSE endpoint clients connect to, resolving servers
//     through the store-backed resolver. Its API adapter registers first
//     because the controller's activity detector depends on it.
//  4. **Controller**: the reconcile manager with the MCPServer and
//     MCPServerPool reconcilers and the change detectors.
//  5. **API adapters**: reconcile triggers and pool management.
//
// Components never import each other directly. They communicate through the
// handler interfaces in internal/api, which this package wires up by
// registering each adapter during initialization.
//
// ## Change Detection
//
// Two detector kinds feed the controller, depending on the mode:
//
//   - **Kubernetes watches**: informer events for MCPServer, MCPServerPool
//     and Pods, fanned out to the affected records. Only in Kubernetes mode.
//   - **Bridge activity**: session opens, closes and relayed requests,
//     debounced per server. Always on; in offline mode it is the only
//     event-driven detector, with the periodic resync as the safety net.
//
// ## Run Loop and Shutdown (run.go)
//
// Run blocks until SIGINT, SIGTERM or context cancellation, then shuts down
// in reverse dependency order: the controller first (no lifecycle decision
// may race a draining session), then the bridge drains its sessions with a
// timeout, then local workloads and the store are released. Kubernetes
// workloads are deliberately left running so a controller restart re-adopts
// them instead of restarting every instance.
//
// ## Stdio Shim (shim.go)
//
// Pool instances with the stdio transport cannot be dialed over the
// network. Their pods run this same binary as `corral shim -- <command>`,
// which serves the bridge's SSE surface on a local port and spawns one
// child process per session. The main bridge then treats the pod like any
// SSE backend. RunShim is the implementation behind the `corral shim`
// command.
//
// # Usage Patterns
//
// ## Standard Application Startup
//
//	cfg := app.NewConfig(debug, silent, offline, configPath)
//	application, err := app.NewApplication(cfg)
//	if err != nil {
//	    return fmt.Errorf("failed to initialize application: %w", err)
//	}
//	return application.Run(ctx)
//
// ## Stdio Shim Startup
//
//	return app.RunShim(ctx, app.ShimConfig{
//	    Listen:  ":8080",
//	    Command: []string{"npx", "-y", "@modelcontextprotocol/server-filesystem", "/data"},
//	})
//
// # Error Handling
//
// Initialization uses a fail-fast approach: any component that cannot be
// constructed aborts the bootstrap with a wrapped error. During shutdown
// every step runs regardless of earlier failures and the errors are joined,
// so a failing store close cannot leak local child processes.
package app
