// Package defaults locates the pagerelay data directory and writes the
// starter user configuration into it.
//
// The directory is ~/.pagerelay unless PAGERELAY_DATA_DIR is set.
package defaults

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

//go:embed dotpagerelay/*
var defaultFiles embed.FS

// ConfigFile is the name of the user config inside the data directory.
const ConfigFile = "pagerelay.yaml"

// ErrExists is returned by WriteConfig when the file is already there.
var ErrExists = errors.New("defaults: config already exists")

// DataDir returns the data directory. It does not create it.
func DataDir() (string, error) {
	if dir := os.Getenv("PAGERELAY_DATA_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".pagerelay"), nil
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

// ConfigPath returns the user config path when the file exists, and ""
// otherwise.
func ConfigPath() string {
	dir, err := DataDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(dir, ConfigFile)
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// StarterConfig returns the embedded starter config with origin filled in.
func StarterConfig(origin string) ([]byte, error) {
	data, err := defaultFiles.ReadFile("dotpagerelay/" + ConfigFile)
	if err != nil {
		return nil, err
	}
	if origin == "" {
		origin = `""`
	}
	return []byte(strings.ReplaceAll(string(data), "{{ORIGIN}}", origin)), nil
}

// WriteConfig writes the starter config into dir and returns its path. An
// existing file is only replaced when overwrite is true.
func WriteConfig(dir, origin string, overwrite bool) (string, error) {
	path := filepath.Join(dir, ConfigFile)
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return path, ErrExists
		}
	}
	data, err := StarterConfig(origin)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
