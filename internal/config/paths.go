package config

import (
	"os"
	"path/filepath"
)

// DroverPath returns the root directory for Drover data.
// It uses $DROVER_PATH if set, otherwise defaults to ~/.drover.
func DroverPath() string {
	if v := os.Getenv("DROVER_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".drover")
	}
	return filepath.Join(home, ".drover")
}

// DataPath returns the directory holding persisted state files.
func DataPath() string {
	return filepath.Join(DroverPath(), "data")
}

// ConfigPath returns the path to the Drover config file.
func ConfigPath() string {
	return filepath.Join(DroverPath(), "config.jsonc")
}

// DotenvPath returns the path to the Drover .env file.
func DotenvPath() string {
	return filepath.Join(DroverPath(), ".env")
}
