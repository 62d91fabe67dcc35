package config

import "fmt"

// Validate checks the loaded configuration for values the runtime cannot work
// with. Zero values are legal everywhere because defaults fill them in before
// use.
func (c *CorralConfig) Validate() error {
	if c.Controller.Workers < 0 {
		return fmt.Errorf("controller.workers must not be negative, got %d", c.Controller.Workers)
	}
	if c.Controller.MaxRetries < 0 {
		return fmt.Errorf("controller.maxRetries must not be negative, got %d", c.Controller.MaxRetries)
	}
	if c.Controller.InitialBackoff < 0 || c.Controller.MaxBackoff < 0 {
		return fmt.Errorf("controller backoff values must not be negative")
	}
	if c.Controller.MaxBackoff > 0 && c.Controller.InitialBackoff > c.Controller.MaxBackoff {
		return fmt.Errorf("controller.initialBackoff (%ds) exceeds controller.maxBackoff (%ds)",
			c.Controller.InitialBackoff, c.Controller.MaxBackoff)
	}
	if c.Bridge.Port < 0 || c.Bridge.Port > 65535 {
		return fmt.Errorf("bridge.port must be between 0 and 65535, got %d", c.Bridge.Port)
	}
	if c.Bridge.MaxSessions < 0 {
		return fmt.Errorf("bridge.maxSessions must not be negative, got %d", c.Bridge.MaxSessions)
	}
	return nil
}
