package config

// CorralConfig is the top-level configuration structure for corral.
type CorralConfig struct {
	// Namespace is the Kubernetes namespace corral operates in (default: default).
	// The CORRAL_NAMESPACE environment variable overrides it.
	Namespace string `yaml:"namespace,omitempty"`

	Controller ControllerConfig `yaml:"controller,omitempty"`
	Bridge     BridgeConfig     `yaml:"bridge,omitempty"`
}

// ControllerConfig defines the configuration for the reconciliation controller.
type ControllerConfig struct {
	Workers          int `yaml:"workers,omitempty"`          // Number of reconcile workers (default: 2)
	MaxRetries       int `yaml:"maxRetries,omitempty"`       // Attempts before a resource is marked failed (default: 5)
	InitialBackoff   int `yaml:"initialBackoff,omitempty"`   // First retry delay in seconds (default: 1)
	MaxBackoff       int `yaml:"maxBackoff,omitempty"`       // Retry delay cap in seconds (default: 300)
	ReconcileTimeout int `yaml:"reconcileTimeout,omitempty"` // Per-pass timeout in seconds (default: 30)
	ResyncInterval   int `yaml:"resyncInterval,omitempty"`   // Periodic status resync in seconds (default: 60)
}

// BridgeConfig defines the configuration for the transport bridge.
type BridgeConfig struct {
	Port           int    `yaml:"port,omitempty"`           // Port for the bridge SSE endpoint (default: 8090)
	Host           string `yaml:"host,omitempty"`           // Host to bind to (default: 0.0.0.0)
	KeepAlive      int    `yaml:"keepAlive,omitempty"`      // SSE keep-alive interval in seconds (default: 30)
	MaxSessions    int    `yaml:"maxSessions,omitempty"`    // Cap on concurrently open sessions (default: 1000)
	SessionTimeout int    `yaml:"sessionTimeout,omitempty"` // Stale session sweep threshold in seconds (default: 1800)
	DialTimeout    int    `yaml:"dialTimeout,omitempty"`    // Backing channel dial timeout in seconds (default: 15)
}

// GetDefaultConfig returns the default configuration for corral.
func GetDefaultConfig() CorralConfig {
	return CorralConfig{
		Namespace: "default",
		Controller: ControllerConfig{
			Workers:          2,
			MaxRetries:       5,
			InitialBackoff:   1,
			MaxBackoff:       300,
			ReconcileTimeout: 30,
			ResyncInterval:   60,
		},
		Bridge: BridgeConfig{
			Port:           8090,
			Host:           "0.0.0.0",
			KeepAlive:      30,
			MaxSessions:    1000,
			SessionTimeout: 1800,
			DialTimeout:    15,
		},
	}
}
