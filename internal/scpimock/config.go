package scpimock

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Config is the simulator configuration loaded for the scpimock binary.
type Config struct {
	// Listen is the TCP address the simulator binds.
	Listen string `yaml:"listen"`

	// Identity is the four-field *IDN? response.
	Identity IdentityConfig `yaml:"identity"`

	// ResponseDelayMs is slept before every reply; nonzero values provoke
	// client timeouts.
	ResponseDelayMs int `yaml:"responseDelayMs"`

	// IdleTimeoutSec closes a connection with no traffic.
	IdleTimeoutSec int `yaml:"idleTimeoutSec"`
}

// IdentityConfig mirrors Identity with YAML tags. Empty fields fall back to
// the server defaults.
type IdentityConfig struct {
	Manufacturer string `yaml:"manufacturer"`
	Model        string `yaml:"model"`
	Serial       string `yaml:"serial"`
	Firmware     string `yaml:"firmware"`
}

// DefaultConfig returns the compiled-in simulator configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:         "127.0.0.1:5025",
		IdleTimeoutSec: 30,
	}
}

// LoadConfig merges defaults, an optional YAML file, and SCPIMOCK_*
// environment overrides, then validates the result. An empty path falls back
// to SCPIMOCK_CONFIG; no file at all runs on defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("SCPIMOCK_CONFIG")
	}
	if path != "" {
		if err := loadConfigFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	if err := applyConfigEnv(cfg); err != nil {
		return nil, err
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// loadConfigFile overlays a YAML file onto cfg. Keys absent from the file
// keep their current values.
func loadConfigFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyConfigEnv applies SCPIMOCK_* environment variables to the config.
func applyConfigEnv(cfg *Config) error {
	if val := os.Getenv("SCPIMOCK_LISTEN"); val != "" {
		cfg.Listen = val
	}
	if val := os.Getenv("SCPIMOCK_IDN"); val != "" {
		identity, err := ParseIdentity(val)
		if err != nil {
			return fmt.Errorf("SCPIMOCK_IDN: %w", err)
		}
		cfg.Identity = IdentityConfig(identity)
	}
	if val := os.Getenv("SCPIMOCK_DELAY_MS"); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			cfg.ResponseDelayMs = ms
		}
	}
	return nil
}

// validateConfig rejects configurations the server could not bind or serve.
func validateConfig(cfg *Config) error {
	if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", cfg.Listen, err)
	}
	if cfg.ResponseDelayMs < 0 {
		return fmt.Errorf("response delay must be nonnegative, got %dms", cfg.ResponseDelayMs)
	}
	if cfg.IdleTimeoutSec <= 0 {
		return fmt.Errorf("idle timeout must be positive, got %ds", cfg.IdleTimeoutSec)
	}
	return nil
}

// ServerOptions translates the configuration into server options.
func (c *Config) ServerOptions(logger *zap.Logger) Options {
	return Options{
		Listen:        c.Listen,
		Identity:      Identity(c.Identity),
		ResponseDelay: time.Duration(c.ResponseDelayMs) * time.Millisecond,
		IdleTimeout:   time.Duration(c.IdleTimeoutSec) * time.Second,
		Logger:        logger,
	}
}

// ParseIdentity parses a "manufacturer,model,serial,firmware" string into an
// identity, the format instruments answer *IDN? with.
func ParseIdentity(s string) (Identity, error) {
	fields := strings.Split(s, ",")
	if len(fields) != 4 {
		return Identity{}, fmt.Errorf("identification %q must have exactly 4 comma-separated fields", s)
	}
	for i, field := range fields {
		fields[i] = strings.TrimSpace(field)
		if fields[i] == "" {
			return Identity{}, fmt.Errorf("identification %q has an empty field", s)
		}
	}
	return Identity{
		Manufacturer: fields[0],
		Model:        fields[1],
		Serial:       fields[2],
		Firmware:     fields[3],
	}, nil
}
