// Package logging provides a structured logging system for corral with unified
// log handling and flexible output formatting.
//
// This package implements a logging system built on Go's standard slog package,
// providing consistent logging behavior with structured output and level filtering.
//
// # Architecture
//
// The logging system is built around these core concepts:
//
// ## Log Levels
//   - **Debug**: Detailed information for debugging and development
//   - **Info**: General informational messages about application operation
//   - **Warn**: Warning messages that indicate potential issues
//   - **Error**: Error messages for failures and exceptional conditions
//
// ## Structured Logging
// All log entries include:
//   - Timestamp with nanosecond precision
//   - Log level (Debug, Info, Warn, Error)
//   - Subsystem identifier for categorization
//   - Message content with optional formatting
//   - Optional error information
//
// # Usage Examples
//
// ## Initialization
//
//	import "corral/pkg/logging"
//
//	// Initialize with Info level logging to stdout
//	logging.InitForCLI(logging.LevelInfo, os.Stdout)
//
//	// Log messages
//	logging.Info("Bootstrap", "Application starting up")
//	logging.Debug("Config", "Loaded configuration from %s", configPath)
//	logging.Warn("Bridge", "Session limit reached")
//	logging.Error("Store", err, "Failed to update server status")
//
// ## Custom Output Writer
//
//	logFile, _ := os.OpenFile("app.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
//	logging.InitForCLI(logging.LevelDebug, logFile)
//
// # Subsystem Organization
//
// Logs are organized by subsystem to enable filtering and categorization:
//
//   - **Bootstrap**: Application initialization and startup
//   - **Config**: Configuration loading and validation
//   - **Store**: Resource store access and status updates
//   - **Workload**: Pod and Service management on the substrate
//   - **Controller**: Reconciliation loop and lifecycle decisions
//   - **Queue**: Work queue and requeue scheduling
//   - **Bridge**: SSE sessions and JSON-RPC relay
//   - **Shim**: In-pod stdio bridging
//   - **API**: API layer operations and handler management
//
// # Controller-Runtime Integration
//
// The logging system automatically initializes the controller-runtime logger
// when InitForCLI is called. This ensures that Kubernetes controller-runtime
// operations (informers, caches, etc.) log through the corral logging
// infrastructure without warnings about uninitialized loggers.
//
// # Performance Characteristics
//
//   - Direct write to output with minimal overhead
//   - Level filtering at handler level for efficiency
//   - No memory allocation for filtered-out messages
//
// # Thread Safety
//
// The logging system is fully thread-safe:
//   - Safe concurrent logging from multiple goroutines
//   - Protected access to shared logging state
//   - No data races in configuration
package logging
