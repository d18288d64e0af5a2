package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - CHECKIN_CONFIG_PATH: config file location (default: ~/.config/checkin.toml)
//   - CHECKIN_HOME: data directory for checkin (default: ~/.local/share/checkin)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	dataDir, err := getDataDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"data_dir":    dataDir,
		"log_dir":     filepath.Join(dataDir, "log"),
	}, nil
}

// getConfigPath returns the config file path, checking CHECKIN_CONFIG_PATH first,
// then falling back to the default ~/.config/checkin.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("CHECKIN_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "checkin.toml"), nil
}

// getDataDir returns the data directory, checking CHECKIN_HOME first,
// then falling back to the XDG default ~/.local/share/checkin.
func getDataDir() (string, error) {
	if path := os.Getenv("CHECKIN_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "checkin"), nil
}
