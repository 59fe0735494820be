package config

import (
	"os"
	"path/filepath"
)

// NeorixPath returns the root directory for Neorix data.
// It uses $NEORIX_PATH if set, otherwise defaults to ~/.neorix.
func NeorixPath() string {
	if v := os.Getenv("NEORIX_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".neorix")
	}
	return filepath.Join(home, ".neorix")
}

// ConfigPath returns the path to the config file.
func ConfigPath() string {
	return filepath.Join(NeorixPath(), "config.jsonc")
}

// DotenvPath returns the path to the .env file.
func DotenvPath() string {
	return filepath.Join(NeorixPath(), ".env")
}

// HeartbeatPath returns the path of the gateway heartbeat file.
func HeartbeatPath() string {
	return filepath.Join(NeorixPath(), "heartbeat.json")
}

// LogsPath returns the directory of the JSONL event logs.
func LogsPath() string {
	return filepath.Join(NeorixPath(), "logs")
}
