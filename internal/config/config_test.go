package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9600, cfg.Serial.BaudRate)
	assert.Equal(t, 8, cfg.Serial.DataBits)
	assert.Equal(t, "none", cfg.Serial.Parity)
	assert.Equal(t, "\n", cfg.Serial.ReadTermination)
	assert.Equal(t, 5000, cfg.Timeouts.QueryMs)
	assert.True(t, cfg.Audit.Enabled)
	assert.Empty(t, cfg.Path)
	assert.Equal(t, []string{
		"ASRL/dev/ttyS0::INSTR",
		"ASRL/dev/ttyUSB0::INSTR",
	}, cfg.Exclusions)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
serial:
  baudRate: 115200
timeouts:
  queryMs: 250
gpib:
  controllers:
    0:
      serialPort: /dev/ttyUSB2
resources:
  - TCPIP0::192.168.1.5::5025::SOCKET
  - GPIB0::5::INSTR
exclusions:
  - ASRL/dev/ttyS0::INSTR
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	// File values win, untouched keys keep their defaults.
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Equal(t, 8, cfg.Serial.DataBits)
	assert.Equal(t, 250, cfg.Timeouts.QueryMs)
	assert.Equal(t, 2000, cfg.Timeouts.WriteMs)
	assert.Equal(t, "/dev/ttyUSB2", cfg.GPIB.Controllers[0].SerialPort)
	assert.Equal(t, []string{"TCPIP0::192.168.1.5::5025::SOCKET", "GPIB0::5::INSTR"}, cfg.Resources)
	assert.Equal(t, []string{"ASRL/dev/ttyS0::INSTR"}, cfg.Exclusions)
	assert.Equal(t, path, cfg.Path)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("GPIBTOOL_SERIAL_BAUD", "19200")
	t.Setenv("GPIBTOOL_QUERY_TIMEOUT_MS", "750")
	t.Setenv("GPIBTOOL_EXCLUSIONS", "ASRL/dev/ttyS1::INSTR, ASRL/dev/ttyUSB3::INSTR")
	t.Setenv("GPIBTOOL_AUDIT_DISABLED", "1")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 19200, cfg.Serial.BaudRate)
	assert.Equal(t, 750, cfg.Timeouts.QueryMs)
	assert.Equal(t, []string{"ASRL/dev/ttyS1::INSTR", "ASRL/dev/ttyUSB3::INSTR"}, cfg.Exclusions)
	assert.False(t, cfg.Audit.Enabled)
}

func TestLoadEnvConfigPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "env.yaml")
	require.NoError(t, os.WriteFile(path, []byte("serial:\n  baudRate: 38400\n"), 0o644))
	t.Setenv("GPIBTOOL_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 38400, cfg.Serial.BaudRate)
	assert.Equal(t, path, cfg.Path)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "zero baud", mutate: func(c *Config) { c.Serial.BaudRate = 0 }},
		{name: "bad data bits", mutate: func(c *Config) { c.Serial.DataBits = 9 }},
		{name: "bad parity", mutate: func(c *Config) { c.Serial.Parity = "sometimes" }},
		{name: "bad stop bits", mutate: func(c *Config) { c.Serial.StopBits = 3 }},
		{name: "zero query timeout", mutate: func(c *Config) { c.Timeouts.QueryMs = 0 }},
		{name: "negative rotation", mutate: func(c *Config) { c.Audit.MaxBackups = -1 }},
		{name: "controller without port", mutate: func(c *Config) {
			c.GPIB.Controllers[0] = GPIBController{}
		}},
		{name: "malformed exclusion", mutate: func(c *Config) {
			c.Exclusions = append(c.Exclusions, "NOT::AN::ADDRESS")
		}},
		{name: "malformed static resource", mutate: func(c *Config) {
			c.Resources = []string{"GPIB0::77::INSTR"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, validate(cfg))
		})
	}
}

func TestTimeoutAccessors(t *testing.T) {
	cfg := Default()
	assert.Equal(t, cfg.Timeouts.Query().Milliseconds(), int64(cfg.Timeouts.QueryMs))
	assert.Equal(t, cfg.Timeouts.Write().Milliseconds(), int64(cfg.Timeouts.WriteMs))
	assert.Equal(t, cfg.Timeouts.Dial().Milliseconds(), int64(cfg.Timeouts.DialMs))
}

func TestAuditDirExplicit(t *testing.T) {
	cfg := Default()
	cfg.Audit.Dir = "/var/log/gpibtool"

	dir, err := cfg.AuditDir()
	require.NoError(t, err)
	assert.Equal(t, "/var/log/gpibtool", dir)
}
