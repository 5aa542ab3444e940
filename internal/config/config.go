// Package config loads pagerelay's configuration: embedded YAML defaults,
// an optional user file, then PAGERELAY_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/neboloop/pagerelay/internal/protocol"
)

// EnvPrefix prefixes every environment override, e.g.
// PAGERELAY_RELAY_TRUSTED_ORIGIN.
const EnvPrefix = "PAGERELAY"

type Config struct {
	Server  ServerConfig  `yaml:"server" envconfig:"SERVER"`
	Relay   RelayConfig   `yaml:"relay" envconfig:"RELAY"`
	Bridge  BridgeConfig  `yaml:"bridge" envconfig:"BRIDGE"`
	Capture CaptureConfig `yaml:"capture" envconfig:"CAPTURE"`
	Store   StoreConfig   `yaml:"store" envconfig:"STORE"`
	Monitor MonitorConfig `yaml:"monitor" envconfig:"MONITOR"`
	Log     LogConfig     `yaml:"log" envconfig:"LOG"`
}

type ServerConfig struct {
	Host               string `yaml:"host" envconfig:"HOST"`
	Port               int    `yaml:"port" envconfig:"PORT"`
	AllowRemoteBridges bool   `yaml:"allowRemoteBridges" envconfig:"ALLOW_REMOTE_BRIDGES"`
}

type RelayConfig struct {
	TrustedOrigin string        `yaml:"trustedOrigin" envconfig:"TRUSTED_ORIGIN"`
	PingTimeout   time.Duration `yaml:"pingTimeout" envconfig:"PING_TIMEOUT"`
	FetchTimeout  time.Duration `yaml:"fetchTimeout" envconfig:"FETCH_TIMEOUT"`
	PingAttempts  int           `yaml:"pingAttempts" envconfig:"PING_ATTEMPTS"`
	RetryWaitMin  time.Duration `yaml:"retryWaitMin" envconfig:"RETRY_WAIT_MIN"`
	RetryWaitMax  time.Duration `yaml:"retryWaitMax" envconfig:"RETRY_WAIT_MAX"`
}

type BridgeConfig struct {
	Executor        string        `yaml:"executor" envconfig:"EXECUTOR"` // http or chrome
	Origin          string        `yaml:"origin" envconfig:"ORIGIN"`     // defaults to relay.trustedOrigin
	OrchestratorURL string        `yaml:"orchestratorURL" envconfig:"ORCHESTRATOR_URL"`
	Cookies         string        `yaml:"cookies" envconfig:"COOKIES"` // Cookie header seeding the http executor
	RateLimit       float64       `yaml:"rateLimit" envconfig:"RATE_LIMIT"`
	RateBurst       int           `yaml:"rateBurst" envconfig:"RATE_BURST"`
	RequestTimeout  time.Duration `yaml:"requestTimeout" envconfig:"REQUEST_TIMEOUT"`
	Headless        bool          `yaml:"headless" envconfig:"HEADLESS"`
	UserAgent       string        `yaml:"userAgent" envconfig:"USER_AGENT"`
}

type CaptureConfig struct {
	Enabled bool `yaml:"enabled" envconfig:"ENABLED"`
}

type StoreConfig struct {
	Driver         string `yaml:"driver" envconfig:"DRIVER"`
	SQLitePath     string `yaml:"sqlitePath" envconfig:"SQLITE_PATH"`
	RedisURL       string `yaml:"redisURL" envconfig:"REDIS_URL"`
	KeyringService string `yaml:"keyringService" envconfig:"KEYRING_SERVICE"`
	Encrypt        bool   `yaml:"encrypt" envconfig:"ENCRYPT"`
	KeyFile        string `yaml:"keyFile" envconfig:"KEY_FILE"`
}

type MonitorConfig struct {
	ProbeSchedule string `yaml:"probeSchedule" envconfig:"PROBE_SCHEDULE"`
	PruneSchedule string `yaml:"pruneSchedule" envconfig:"PRUNE_SCHEDULE"`
}

type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"` // console, text or json
}

// LoadFromBytes loads configuration from YAML bytes with environment variable expansion
func LoadFromBytes(data []byte) (Config, error) {
	var c Config
	if err := c.merge(data); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Config) merge(data []byte) error {
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// Load parses the layers with Parse and validates the result.
func Load(defaults []byte, path string) (Config, error) {
	c, err := Parse(defaults, path)
	if err != nil {
		return c, err
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Parse reads defaults, overlays the file at path when path is not empty
// and applies environment overrides. Client commands that only need the
// server address use it directly.
func Parse(defaults []byte, path string) (Config, error) {
	c, err := LoadFromBytes(defaults)
	if err != nil {
		return c, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("read config: %w", err)
		}
		if err := c.merge(data); err != nil {
			return c, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &c); err != nil {
		return c, fmt.Errorf("environment: %w", err)
	}
	return c, nil
}

// Validate checks the settings every command relies on and normalizes
// origins.
func (c *Config) Validate() error {
	if c.Relay.TrustedOrigin == "" {
		return errors.New("config: relay.trustedOrigin is required")
	}
	origin, err := protocol.NormalizeOrigin(c.Relay.TrustedOrigin)
	if err != nil {
		return fmt.Errorf("config: relay.trustedOrigin: %w", err)
	}
	c.Relay.TrustedOrigin = origin

	if c.Bridge.Origin == "" {
		c.Bridge.Origin = origin
	}
	if c.Relay.PingTimeout <= 0 || c.Relay.FetchTimeout <= 0 {
		return errors.New("config: relay timeouts must be positive")
	}
	if c.Relay.PingAttempts < 1 {
		c.Relay.PingAttempts = 1
	}
	switch c.Bridge.Executor {
	case "", "http", "chrome":
	default:
		return fmt.Errorf("config: unknown bridge.executor %q", c.Bridge.Executor)
	}
	return nil
}

// Addr is the listen address of the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// BaseURL is the URL clients use to reach the server.
func (c Config) BaseURL() string {
	host := c.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Server.Port)
}
