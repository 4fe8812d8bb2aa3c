package diag

import (
	"bytes"
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunToolMissingBinaryIsNotFatal(t *testing.T) {
	var stdout, stderr bytes.Buffer

	err := runTool(context.Background(), &stdout, &stderr, "no-such-diagnostic-binary")
	require.NoError(t, err)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "no-such-diagnostic-binary not found in PATH")
}

func TestRunToolAnnouncesResolvedPath(t *testing.T) {
	var stdout, stderr bytes.Buffer

	err := runTool(context.Background(), &stdout, &stderr, "sh", "-c", "echo widget")
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "widget")
	assert.Contains(t, stderr.String(), "Output of ")
	assert.Contains(t, stderr.String(), "sh:")
}

func TestRunToolFailureIsFatal(t *testing.T) {
	var stdout, stderr bytes.Buffer

	err := runTool(context.Background(), &stdout, &stderr, "sh", "-c", "exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
}

func TestEnvironmentReport(t *testing.T) {
	var stdout, stderr bytes.Buffer

	writeEnvironment(context.Background(), Options{
		Version:    "1.2.3",
		ConfigPath: "/etc/gpibtool/config.yaml",
		Stdout:     &stdout,
		Stderr:     &stderr,
	})

	out := stdout.String()
	assert.Contains(t, out, "gpibtool 1.2.3")
	assert.Contains(t, out, runtime.Version())
	assert.Contains(t, out, "Config: /etc/gpibtool/config.yaml")
	assert.Contains(t, out, "TCPIP SOCKET")
	assert.Contains(t, out, "Serial ports:")
}

func TestEnvironmentReportDefaultsLine(t *testing.T) {
	var stdout, stderr bytes.Buffer

	writeEnvironment(context.Background(), Options{
		Version: "dev",
		Stdout:  &stdout,
		Stderr:  &stderr,
	})

	assert.Contains(t, stdout.String(), "Config: built-in defaults")
}
