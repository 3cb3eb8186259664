package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - PQI_CONFIG_PATH: config file location (default: ~/.config/pqi.toml)
//   - PQI_HOME: base directory for pqi data (default: ~/.local/share/pqi)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// getConfigPath returns the config file path, checking PQI_CONFIG_PATH env var first,
// then falling back to the default ~/.config/pqi.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("PQI_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "pqi.toml"), nil
}

// getBaseDir returns the base directory for pqi data, checking PQI_HOME env var first,
// then falling back to the XDG default ~/.local/share/pqi.
func getBaseDir() (string, error) {
	if path := os.Getenv("PQI_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "pqi"), nil
}
