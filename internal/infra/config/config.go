// Package config loads the helix-client configuration: a YAML file with
// HELIX_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level client configuration.
type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`
	Logger  LoggerConfig  `yaml:"logger"`
	Tracer  TracerConfig  `yaml:"tracer"`
	Monitor MonitorConfig `yaml:"monitor"`
}

// GatewayConfig holds gateway connection settings.
type GatewayConfig struct {
	URL          string          `yaml:"url"`
	Token        string          `yaml:"token,omitempty"`
	Password     string          `yaml:"password,omitempty"`
	Role         string          `yaml:"role"` // operator | node | dual
	Capabilities []string        `yaml:"capabilities,omitempty"`
	Locale       string          `yaml:"locale,omitempty"`
	Reconnect    ReconnectConfig `yaml:"reconnect"`
	RequestRate  float64         `yaml:"request_rate,omitempty"`  // requests/sec, 0 = unlimited
	RequestBurst int             `yaml:"request_burst,omitempty"` // burst size when rate-limited
}

// ReconnectConfig tunes the reconnect backoff.
type ReconnectConfig struct {
	Base   time.Duration `yaml:"base"`
	Factor float64       `yaml:"factor"`
	Max    time.Duration `yaml:"max"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
	Output string `yaml:"output"` // stdout | stderr | file path
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout | noop
}

// MonitorConfig holds health-monitor settings.
type MonitorConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	Threshold uint32        `yaml:"threshold"`
}

// Defaults returns a configuration with sensible defaults applied.
func Defaults() *Config {
	return &Config{
		Gateway: GatewayConfig{
			URL:  "ws://127.0.0.1:9876/ws",
			Role: "dual",
			Reconnect: ReconnectConfig{
				Base:   800 * time.Millisecond,
				Factor: 1.7,
				Max:    15 * time.Second,
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Monitor: MonitorConfig{
			Interval:  30 * time.Second,
			Threshold: 3,
		},
	}
}

// Load reads the config file at path, applies environment overrides, and
// validates the result. A missing file is not an error; defaults plus the
// environment are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies HELIX_* environment variables over cfg.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HELIX_GATEWAY_URL"); v != "" {
		cfg.Gateway.URL = v
	}
	if v := os.Getenv("HELIX_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Token = v
	}
	if v := os.Getenv("HELIX_GATEWAY_PASSWORD"); v != "" {
		cfg.Gateway.Password = v
	}
	if v := os.Getenv("HELIX_GATEWAY_ROLE"); v != "" {
		cfg.Gateway.Role = v
	}
	if v := os.Getenv("HELIX_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("HELIX_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("HELIX_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("HELIX_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("HELIX_MONITOR_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Monitor.Enabled = b
		}
	}
}

// Validate checks cfg for inconsistencies.
func Validate(cfg *Config) error {
	if cfg.Gateway.URL == "" {
		return fmt.Errorf("gateway.url must not be empty")
	}
	switch cfg.Gateway.Role {
	case "operator", "node", "dual":
	default:
		return fmt.Errorf("gateway.role must be operator, node, or dual (got %q)", cfg.Gateway.Role)
	}
	if cfg.Gateway.Reconnect.Factor != 0 && cfg.Gateway.Reconnect.Factor <= 1 {
		return fmt.Errorf("gateway.reconnect.factor must be > 1")
	}
	if cfg.Gateway.Reconnect.Base < 0 || cfg.Gateway.Reconnect.Max < 0 {
		return fmt.Errorf("gateway.reconnect delays must not be negative")
	}
	if cfg.Gateway.RequestRate < 0 {
		return fmt.Errorf("gateway.request_rate must not be negative")
	}
	return nil
}
