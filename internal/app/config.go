package app

import (
	"corral/internal/config"
)

// Config holds the application configuration assembled from CLI flags.
type Config struct {
	// Debug enables verbose logging across all subsystems.
	Debug bool

	// Silent suppresses all log output. Useful when corral runs under a
	// supervisor that only cares about the exit code.
	Silent bool

	// Offline forces the in-memory store and local process workloads even
	// when a Kubernetes cluster is reachable.
	Offline bool

	// Custom configuration directory path (optional).
	// When empty, the default ~/.config/corral is used.
	ConfigPath string

	// CorralConfig is the loaded file configuration. Populated during
	// bootstrap, nil before.
	CorralConfig *config.CorralConfig
}

// NewConfig creates a new application configuration
func NewConfig(debug, silent, offline bool, configPath string) *Config {
	return &Config{
		Debug:      debug,
		Silent:     silent,
		Offline:    offline,
		ConfigPath: configPath,
	}
}
