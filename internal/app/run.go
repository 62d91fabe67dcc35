package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"corral/pkg/logging"
)

// shutdownTimeout bounds the drain of open bridge sessions on exit.
const shutdownTimeout = 15 * time.Second

// runServices starts the controller and the bridge and blocks until the
// context is cancelled or a termination signal arrives.
//
// Signal Handling:
//   - SIGINT (Ctrl+C): triggers graceful shutdown
//   - SIGTERM: triggers graceful shutdown (container environments)
//
// Shutdown is ordered: the controller stops first (detectors, then the
// queue, then the workers drain) so no lifecycle decision races the
// draining bridge, then the bridge closes its sessions, then local
// workloads and the store are released.
func runServices(ctx context.Context, services *Services) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start both halves; the first failure wins and everything already
	// running is torn down.
	g := new(errgroup.Group)
	g.Go(func() error {
		if err := services.Controller.Start(ctx); err != nil {
			return fmt.Errorf("failed to start controller: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := services.Bridge.Start(ctx); err != nil {
			return fmt.Errorf("failed to start bridge: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		logging.Error("App", err, "Startup failed")
		if stopErr := shutdownServices(services); stopErr != nil {
			logging.Error("App", stopErr, "Cleanup after failed startup")
		}
		return err
	}

	mode := "offline"
	if services.Store.IsKubernetesMode() {
		mode = "kubernetes"
	}
	logging.Info("App", "corral is up: bridge on %s, %s mode, namespace %s",
		services.Bridge.Addr(), mode, services.Namespace)
	logging.Info("App", "Press Ctrl+C to stop.")

	<-ctx.Done()

	logging.Info("App", "Shutting down")
	return shutdownServices(services)
}

// shutdownServices tears the services down in reverse dependency order.
// Every step runs even if an earlier one fails; the errors are joined.
func shutdownServices(services *Services) error {
	var errs []error

	if err := services.Controller.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("controller stop: %w", err))
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := services.Bridge.Shutdown(drainCtx); err != nil {
		errs = append(errs, fmt.Errorf("bridge shutdown: %w", err))
	}

	// Local workloads die with this process, so stop them cleanly.
	// Kubernetes workloads stay up and are re-adopted on restart.
	if closer, ok := services.Workloads.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("workload close: %w", err))
		}
	}

	if err := services.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	return errors.Join(errs...)
}
