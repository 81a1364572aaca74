// Package config implements the CLI's persisted JSON configuration
// (spec.md §6): load/merge of the user config, local defaults, and
// environment variable overrides.
package config

import (
	"os"
	"path/filepath"
)

const dirName = ".always-coder"

// UserConfigDir returns <home>/.always-coder, creating it with 0700
// permissions if absent.
func UserConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, dirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// UserConfigPath returns <home>/.always-coder/config.json.
func UserConfigPath() (string, error) {
	dir, err := UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// LocalConfigPath returns config.local.json next to the running
// executable, providing development defaults distinct from the user's
// own persisted config.
func LocalConfigPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(exe), "config.local.json"), nil
}
