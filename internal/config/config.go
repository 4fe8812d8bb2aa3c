// Package config loads tool configuration from compiled defaults, an
// optional YAML file, and GPIBTOOL_* environment overrides, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/jakeogh/gpibtool/internal/visa"
)

// Config is the complete tool configuration.
type Config struct {
	Serial   SerialConfig   `yaml:"serial"`
	GPIB     GPIBConfig     `yaml:"gpib"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
	Audit    AuditConfig    `yaml:"audit"`

	// Resources declares addresses discovery cannot probe for, such as
	// socket instruments and GPIB devices behind a controller.
	Resources []string `yaml:"resources"`

	// Exclusions lists addresses removed from enumeration unless the
	// caller asks to keep them. Matching is exact.
	Exclusions []string `yaml:"exclusions"`

	// Path records where the file layer was loaded from, if anywhere.
	Path string `yaml:"-"`
}

// SerialConfig holds line settings for ASRL resources.
type SerialConfig struct {
	BaudRate int    `yaml:"baudRate"`
	DataBits int    `yaml:"dataBits"`
	Parity   string `yaml:"parity"`   // none, odd, even, mark, space
	StopBits int    `yaml:"stopBits"` // 1 or 2

	ReadTermination  string `yaml:"readTermination"`
	WriteTermination string `yaml:"writeTermination"`
}

// GPIBConfig maps board indexes to Prologix controllers.
type GPIBConfig struct {
	Controllers map[int]GPIBController `yaml:"controllers"`
}

// GPIBController describes one Prologix USB controller.
type GPIBController struct {
	SerialPort string `yaml:"serialPort"`
}

// TimeoutsConfig holds per-operation ceilings in milliseconds.
type TimeoutsConfig struct {
	DialMs  int `yaml:"dialMs"`
	WriteMs int `yaml:"writeMs"`
	QueryMs int `yaml:"queryMs"`
}

// Dial returns the connection establishment ceiling.
func (t TimeoutsConfig) Dial() time.Duration { return time.Duration(t.DialMs) * time.Millisecond }

// Write returns the write operation ceiling.
func (t TimeoutsConfig) Write() time.Duration { return time.Duration(t.WriteMs) * time.Millisecond }

// Query returns the query round-trip ceiling.
func (t TimeoutsConfig) Query() time.Duration { return time.Duration(t.QueryMs) * time.Millisecond }

// AuditConfig holds audit trail settings.
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// DefaultExclusions returns the addresses filtered from enumeration by
// default: the stock serial device nodes a Linux host exposes whether or not
// an instrument sits behind them.
func DefaultExclusions() []string {
	return []string{
		"ASRL/dev/ttyS0::INSTR",
		"ASRL/dev/ttyUSB0::INSTR",
	}
}

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			BaudRate:         9600,
			DataBits:         8,
			Parity:           "none",
			StopBits:         1,
			ReadTermination:  "\n",
			WriteTermination: "\n",
		},
		GPIB: GPIBConfig{
			Controllers: map[int]GPIBController{},
		},
		Timeouts: TimeoutsConfig{
			DialMs:  2000,
			WriteMs: 2000,
			QueryMs: 5000,
		},
		Audit: AuditConfig{
			Enabled:    true,
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 90,
		},
		Exclusions: DefaultExclusions(),
	}
}

// Load merges defaults, the YAML file layer, and environment overrides, then
// validates the result. An explicit path (flag or GPIBTOOL_CONFIG) must
// load; the per-user default path is skipped silently when absent.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("GPIBTOOL_CONFIG")
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
		cfg.Path = path
	} else if defaultFile, err := defaultPath(); err == nil {
		switch err := loadFromFile(cfg, defaultFile); {
		case err == nil:
			cfg.Path = defaultFile
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to load config from %s: %w", defaultFile, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// defaultPath is the per-user config file location.
func defaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "gpibtool", "config.yaml"), nil
}

// AuditDir resolves the audit trail directory, defaulting to the per-user
// cache directory.
func (c *Config) AuditDir() (string, error) {
	if c.Audit.Dir != "" {
		return c.Audit.Dir, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "gpibtool"), nil
}

// loadFromFile overlays a YAML file onto cfg. Keys absent from the file keep
// their current values.
func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides applies GPIBTOOL_* environment variables to the config.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("GPIBTOOL_SERIAL_BAUD"); val != "" {
		if baud, err := strconv.Atoi(val); err == nil {
			cfg.Serial.BaudRate = baud
		}
	}

	if val := os.Getenv("GPIBTOOL_DIAL_TIMEOUT_MS"); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			cfg.Timeouts.DialMs = ms
		}
	}
	if val := os.Getenv("GPIBTOOL_WRITE_TIMEOUT_MS"); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			cfg.Timeouts.WriteMs = ms
		}
	}
	if val := os.Getenv("GPIBTOOL_QUERY_TIMEOUT_MS"); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			cfg.Timeouts.QueryMs = ms
		}
	}

	if val := os.Getenv("GPIBTOOL_EXCLUSIONS"); val != "" {
		var exclusions []string
		for _, entry := range strings.Split(val, ",") {
			if entry = strings.TrimSpace(entry); entry != "" {
				exclusions = append(exclusions, entry)
			}
		}
		cfg.Exclusions = exclusions
	}

	if val := os.Getenv("GPIBTOOL_AUDIT_DIR"); val != "" {
		cfg.Audit.Dir = val
	}
	if val := os.Getenv("GPIBTOOL_AUDIT_DISABLED"); val == "1" || strings.EqualFold(val, "true") {
		cfg.Audit.Enabled = false
	}
}

// validate rejects configurations no transport could act on.
func validate(cfg *Config) error {
	if cfg.Serial.BaudRate <= 0 {
		return fmt.Errorf("invalid baud rate %d", cfg.Serial.BaudRate)
	}
	if cfg.Serial.DataBits < 5 || cfg.Serial.DataBits > 8 {
		return fmt.Errorf("data bits %d outside valid range [5, 8]", cfg.Serial.DataBits)
	}
	if !contains(validParities, cfg.Serial.Parity) {
		return fmt.Errorf("invalid parity %q, must be one of: %v", cfg.Serial.Parity, validParities)
	}
	if cfg.Serial.StopBits != 1 && cfg.Serial.StopBits != 2 {
		return fmt.Errorf("stop bits must be 1 or 2, got %d", cfg.Serial.StopBits)
	}

	if cfg.Timeouts.DialMs <= 0 || cfg.Timeouts.WriteMs <= 0 || cfg.Timeouts.QueryMs <= 0 {
		return fmt.Errorf("timeouts must be positive: dial=%dms write=%dms query=%dms",
			cfg.Timeouts.DialMs, cfg.Timeouts.WriteMs, cfg.Timeouts.QueryMs)
	}

	if cfg.Audit.MaxSizeMB < 0 || cfg.Audit.MaxBackups < 0 || cfg.Audit.MaxAgeDays < 0 {
		return fmt.Errorf("audit rotation settings must be nonnegative")
	}

	for board, controller := range cfg.GPIB.Controllers {
		if board < 0 {
			return fmt.Errorf("invalid GPIB board index %d", board)
		}
		if controller.SerialPort == "" {
			return fmt.Errorf("GPIB controller %d has no serial port", board)
		}
	}

	for _, addr := range cfg.Exclusions {
		if _, err := visa.ParseAddress(addr); err != nil {
			return fmt.Errorf("invalid exclusion address %q: %w", addr, err)
		}
	}
	for _, addr := range cfg.Resources {
		if _, err := visa.ParseAddress(addr); err != nil {
			return fmt.Errorf("invalid static resource address %q: %w", addr, err)
		}
	}

	return nil
}

var validParities = []string{"none", "odd", "even", "mark", "space"}

// contains checks if a string slice contains a specific string.
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
