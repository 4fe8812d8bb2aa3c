// Package diag produces the environment and driver report behind the info
// command.
package diag

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"

	"github.com/jakeogh/gpibtool/internal/transport/asrl"
)

// Options selects what the report covers and where it goes.
type Options struct {
	// Version is the tool version printed at the top of the report.
	Version string

	// ConfigPath is the loaded configuration file, empty when running on
	// defaults.
	ConfigPath string

	Stdout io.Writer
	Stderr io.Writer
}

// serialByIDDir exists only when a USB serial adapter is attached.
const serialByIDDir = "/dev/serial/by-id"

type diagTool struct {
	name string
	args []string

	// skipUnless names a path that must exist for the tool's output to
	// mean anything.
	skipUnless string
}

// externalTools are the diagnostic subprocesses run after the native
// report, in order.
var externalTools = []diagTool{
	{name: "lsusb"},
	{name: "ls", args: []string{"-l", serialByIDDir}, skipUnless: serialByIDDir},
}

// Run prints the native environment report followed by the output of each
// external diagnostic tool. A tool missing from PATH is reported on stderr
// and skipped; a tool that runs and fails is fatal.
func Run(ctx context.Context, opts Options) error {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	writeEnvironment(ctx, opts)

	for _, tool := range externalTools {
		if tool.skipUnless != "" {
			if _, err := os.Stat(tool.skipUnless); err != nil {
				fmt.Fprintf(opts.Stderr, "skipping %s: %s not present\n", tool.name, tool.skipUnless)
				continue
			}
		}
		if err := runTool(ctx, opts.Stdout, opts.Stderr, tool.name, tool.args...); err != nil {
			return err
		}
	}
	return nil
}

// writeEnvironment reports the tool build, runtime, configuration source,
// supported transports, and visible serial ports.
func writeEnvironment(ctx context.Context, opts Options) {
	fmt.Fprintf(opts.Stdout, "gpibtool %s\n", opts.Version)
	fmt.Fprintf(opts.Stdout, "Runtime: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)

	if opts.ConfigPath != "" {
		fmt.Fprintf(opts.Stdout, "Config: %s\n", opts.ConfigPath)
	} else {
		fmt.Fprintln(opts.Stdout, "Config: built-in defaults")
	}

	fmt.Fprintln(opts.Stdout, "Transports:")
	fmt.Fprintln(opts.Stdout, "  ASRL          local serial ports")
	fmt.Fprintln(opts.Stdout, "  TCPIP SOCKET  raw TCP instruments")
	fmt.Fprintln(opts.Stdout, "  GPIB          Prologix GPIB-USB controllers")
	fmt.Fprintln(opts.Stdout, "  USB           USBTMC instruments")

	fmt.Fprintln(opts.Stdout, "Serial ports:")
	ports, err := asrl.Details(ctx)
	switch {
	case err != nil:
		fmt.Fprintf(opts.Stderr, "serial port enumeration failed: %v\n", err)
	case len(ports) == 0:
		fmt.Fprintln(opts.Stdout, "  none found")
	default:
		for _, port := range ports {
			if port.IsUSB {
				fmt.Fprintf(opts.Stdout, "  %s (USB %s:%s serial %s)\n",
					port.Name, port.VID, port.PID, port.SerialNumber)
				continue
			}
			fmt.Fprintf(opts.Stdout, "  %s\n", port.Name)
		}
	}
}

// runTool resolves and runs one external diagnostic, announcing the
// resolved path on stderr before its output.
func runTool(ctx context.Context, stdout, stderr io.Writer, name string, args ...string) error {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Fprintf(stderr, "%s not found in PATH\n", name)
		return nil
	}

	fmt.Fprintf(stderr, "Output of %s:\n", path)

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w", path, err)
	}
	return nil
}
