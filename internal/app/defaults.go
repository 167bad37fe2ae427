package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - REX_CONFIG_PATH: config file location (default: ~/.config/rex.toml)
//   - REX_HOME: base directory for rex data (default: ~/.local/share/rex)
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
		"cache_dir":   filepath.Join(baseDir, "cache"),
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// getConfigPath returns the config file path, checking REX_CONFIG_PATH env var first,
// then falling back to the default ~/.config/rex.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("REX_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "rex.toml"), nil
}

// getBaseDir returns the base directory for rex data, checking REX_HOME env var first,
// then falling back to the XDG default ~/.local/share/rex.
func getBaseDir() (string, error) {
	if path := os.Getenv("REX_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "rex"), nil
}
