package cli

import (
	"github.com/neboloop/pagerelay/internal/config"
	"github.com/neboloop/pagerelay/internal/defaults"
)

// Version is set at build time with -ldflags "-X".
var Version = "dev"

// Shared CLI flags (used across multiple command files)
var (
	cfgFile string
	verbose bool
)

// defaultConfig holds the embedded defaults (set by SetupRootCmd)
var defaultConfig []byte

// configPath returns --config, or the user config in the data directory
// when it exists.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return defaults.ConfigPath()
}

// loadConfig loads and validates the full configuration.
func loadConfig() (config.Config, error) {
	return config.Load(defaultConfig, configPath())
}

// loadClientConfig loads the configuration without requiring a trusted
// origin; client commands only need the server address.
func loadClientConfig() (config.Config, error) {
	return config.Parse(defaultConfig, configPath())
}
