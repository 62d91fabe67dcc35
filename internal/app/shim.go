package app

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"corral/internal/bridge"
	corralv1alpha1 "corral/pkg/apis/corral/v1alpha1"
	"corral/pkg/logging"
)

// ShimConfig carries the settings for the stdio shim, assembled from the
// shim command flags.
type ShimConfig struct {
	// Listen is the host:port the shim binds, typically ":8080" inside an
	// instance pod.
	Listen string

	// Command is the stdio MCP server argv the shim wraps. Each session
	// spawns its own child process.
	Command []string

	// Debug enables verbose logging.
	Debug bool
}

// shimResolver hands every session the same stdio backend: the wrapped
// command, inheriting the shim's environment. One child process per session
// matches stdio MCP semantics, where a process serves exactly one client.
type shimResolver struct {
	command []string
}

func (r *shimResolver) ResolveBackend(ctx context.Context, name string) (*bridge.Backend, error) {
	return &bridge.Backend{
		Key:       "shim/" + name,
		Transport: string(corralv1alpha1.TransportStdio),
		Command:   r.command,
		Env:       os.Environ(),
	}, nil
}

// RunShim serves a stdio MCP server over the bridge's SSE surface. It is
// the entrypoint of pool instances with the stdio transport: the pod runs
// `corral shim --listen :8080 -- <command>` and the main bridge connects to
// it like any other SSE backend.
//
// The shim blocks until the context is cancelled or a termination signal
// arrives, then drains its open sessions.
func RunShim(ctx context.Context, cfg ShimConfig) error {
	level := logging.LevelInfo
	if cfg.Debug {
		level = logging.LevelDebug
	}
	// Stderr, so nothing interferes when the shim is run by hand in a
	// pipeline.
	logging.InitForCLI(level, os.Stderr)

	if len(cfg.Command) == 0 {
		return fmt.Errorf("no command to wrap, pass it after --")
	}

	host, port, err := splitListenAddr(cfg.Listen)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", cfg.Listen, err)
	}

	server := bridge.NewServer(bridge.Config{
		Host: host,
		Port: port,
	}, &shimResolver{command: cfg.Command})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start shim listener: %w", err)
	}
	logging.Info("Shim", "Wrapping %v on %s", cfg.Command, server.Addr())

	<-ctx.Done()

	logging.Info("Shim", "Shutting down")
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(drainCtx)
}

// splitListenAddr splits host:port, accepting the bare ":8080" form.
func splitListenAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("port must be numeric: %w", err)
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return host, port, nil
}
