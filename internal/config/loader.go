package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"corral/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/corral"
	configFileName = "config.yaml"

	// namespaceEnvVar overrides the configured namespace when set.
	namespaceEnvVar = "CORRAL_NAMESPACE"
)

func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig loads configuration from the specified directory.
// The directory should contain config.yaml; missing files fall back to
// defaults. The CORRAL_NAMESPACE environment variable overrides the
// configured namespace either way.
func LoadConfig(configPath string) (CorralConfig, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig() // Start with default config

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("Config", "No config.yaml found at %s, using defaults", configFilePath)
			return applyEnvOverrides(config), nil
		}
		logging.Info("Config", "Error loading config.yaml from %s: %s", configFilePath, err)
		return CorralConfig{}, err
	}
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		// config malformed
		return CorralConfig{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
	}
	if err := config.Validate(); err != nil {
		return CorralConfig{}, fmt.Errorf("invalid config in %s: %w", configFilePath, err)
	}
	logging.Info("Config", "Loaded configuration from %s", configFilePath)
	return applyEnvOverrides(config), nil
}

func applyEnvOverrides(config CorralConfig) CorralConfig {
	if ns := os.Getenv(namespaceEnvVar); ns != "" {
		config.Namespace = ns
	}
	return config
}
