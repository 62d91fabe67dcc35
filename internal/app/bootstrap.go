package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"corral/internal/config"
	"corral/pkg/logging"
)

// Application represents the main application structure that bootstraps and
// runs corral. It encapsulates the configuration and services required for
// the application's lifecycle, from initialization through graceful
// shutdown.
//
// The Application follows a two-phase initialization pattern:
//  1. Bootstrap phase: load configuration, initialize logging, wire services
//  2. Execution phase: start the controller and the bridge, block until
//     shutdown
//
// Example usage:
//
//	cfg := app.NewConfig(true, false, false, "")  // debug enabled
//	application, err := app.NewApplication(cfg)
//	if err != nil {
//	    return fmt.Errorf("failed to create application: %w", err)
//	}
//	return application.Run(ctx)
type Application struct {
	config   *Config
	services *Services
}

// NewApplication creates and initializes a new application instance with the
// provided configuration. This function performs the complete bootstrap
// sequence:
//
//  1. Configures logging based on the debug and silent settings
//  2. Loads corral configuration from the configured directory
//  3. Initializes all services and registers their API handlers
//
// Configuration Loading Behavior:
//   - If cfg.ConfigPath is set: loads from the specified directory only
//   - If cfg.ConfigPath is empty: loads from ~/.config/corral
//   - A missing config.yaml falls back to built-in defaults
//
// The function returns an error if any critical initialization step fails,
// including configuration loading or service initialization failures.
func NewApplication(cfg *Config) (*Application, error) {
	// Configure logging based on debug flag
	appLogLevel := logging.LevelInfo
	if cfg.Debug {
		appLogLevel = logging.LevelDebug
	}

	var logOutput io.Writer = os.Stdout
	if cfg.Silent {
		// If silent mode is enabled, suppress all output
		logOutput = io.Discard
	}
	logging.InitForCLI(appLogLevel, logOutput)

	// Load file configuration
	configPath := cfg.ConfigPath
	if configPath == "" {
		configPath = config.GetDefaultConfigPathOrPanic()
	}

	corralCfg, err := config.LoadConfig(configPath)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to load corral configuration from path: %s", configPath)
		return nil, fmt.Errorf("failed to load corral configuration from path %s: %w", configPath, err)
	}
	cfg.CorralConfig = &corralCfg

	// Initialize services
	services, err := InitializeServices(cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

// Run executes the application.
//
// Handles graceful shutdown via context cancellation and system signals.
// The method blocks until the application is terminated or encounters an
// error.
func (a *Application) Run(ctx context.Context) error {
	return runServices(ctx, a.services)
}
