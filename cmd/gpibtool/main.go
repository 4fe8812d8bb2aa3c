package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jakeogh/gpibtool/internal/audit"
	"github.com/jakeogh/gpibtool/internal/config"
	"github.com/jakeogh/gpibtool/internal/diag"
	"github.com/jakeogh/gpibtool/internal/dispatch"
	"github.com/jakeogh/gpibtool/internal/scpi"
	"github.com/jakeogh/gpibtool/internal/transport/asrl"
	"github.com/jakeogh/gpibtool/internal/transport/gpib"
	"github.com/jakeogh/gpibtool/internal/transport/socket"
	"github.com/jakeogh/gpibtool/internal/transport/usbtmc"
	"github.com/jakeogh/gpibtool/internal/visa"
)

// version is overridden at release time with -ldflags "-X main.version=...".
var version = "0.1.0"

// Process exit statuses. Scripts dispatch on these, so the mapping is part
// of the tool's interface.
const (
	exitFailure      = 1 // protocol and unclassified failures
	exitUsage        = 2
	exitTimeout      = 3
	exitConnectivity = 4
	exitNoResources  = 5
)

var (
	cfgPath string
	verbose bool

	listAddressesASRL bool
	listIDNsASRL      bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "gpibtool",
	Short: "Control laboratory instruments over VISA resource addresses",
	Long: `gpibtool sends SCPI commands to laboratory instruments addressed by VISA
resource strings, without a vendor VISA installation.

Supported address forms:
  ASRL<device>::INSTR                        local serial port
  TCPIP[board]::<host>::<port>::SOCKET       raw TCP socket
  GPIB[board]::<pad>::INSTR                  Prologix USB-GPIB controller
  USB[board]::<vid>::<pid>::<serial>::INSTR  USBTMC device

Every command opens a fresh connection, performs one operation, and closes
it. Nothing is pooled and nothing is retried.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapConfig := zap.NewProductionConfig()
		if verbose {
			zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapConfig.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var idnCmd = &cobra.Command{
	Use:   "idn <address>...",
	Short: "Query instrument identification",
	Long: `Sends *IDN? to each address in turn and prints one identification line
per instrument. Any failure, including a timeout, stops the run.`,
	Args: minimumArgs(1),
	RunE: runIDN,
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print environment diagnostics",
	Long: `Prints tool, runtime, and transport information, then runs the external
diagnostic commands (lsusb and a listing of /dev/serial/by-id). Each external
command is announced on standard error with its resolved path.`,
	Args: noArgs,
	RunE: runInfo,
}

var syntaxCmd = &cobra.Command{
	Use:   "syntax",
	Short: "Print the SCPI command grammar reference",
	Args:  noArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		writeSyntax(cmd.OutOrStdout())
		return nil
	},
}

var commandWriteCmd = &cobra.Command{
	Use:   "command-write <address> <command>",
	Short: "Send a command that expects no response",
	Args:  exactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := buildDispatcher()
		if err != nil {
			return err
		}
		defer cleanup()
		return d.Write(cmd.Context(), args[0], args[1])
	},
}

var commandQueryCmd = &cobra.Command{
	Use:   "command-query <address> <command>",
	Short: "Send a command and print the instrument's reply",
	Args:  exactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := buildDispatcher()
		if err != nil {
			return err
		}
		defer cleanup()

		response, err := d.Query(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), response)
		return nil
	},
}

var listAddressesCmd = &cobra.Command{
	Use:     "list-addresses",
	Aliases: []string{"addresses"},
	Short:   "Print discoverable resource addresses",
	Long: `Prints the address of every discoverable resource, one per line, in the
order the resource layer reports them: configured static resources first,
then serial ports, then USBTMC devices.`,
	Args: noArgs,
	RunE: runListAddresses,
}

var listIDNsCmd = &cobra.Command{
	Use:     "list-idns",
	Aliases: []string{"idns", "list"},
	Short:   "Identify every discoverable instrument",
	Long: `Enumerates resources and queries each one with *IDN?. Results print as
one JSON object per line mapping the address to its identification string.
Resources that time out are reported on standard error and skipped; any
other failure aborts the run.`,
	Args: noArgs,
	RunE: runListIDNs,
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default is <user config dir>/gpibtool/config.yaml)")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})

	listAddressesCmd.Flags().BoolVar(&listAddressesASRL, "asrl", false, "keep the stock serial port addresses normally filtered out")
	listIDNsCmd.Flags().BoolVar(&listIDNsASRL, "asrl", false, "keep the stock serial port addresses normally filtered out")

	rootCmd.AddCommand(idnCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(syntaxCmd)
	rootCmd.AddCommand(commandWriteCmd)
	rootCmd.AddCommand(commandQueryCmd)
	rootCmd.AddCommand(listAddressesCmd)
	rootCmd.AddCommand(listIDNsCmd)
}

func runIDN(cmd *cobra.Command, args []string) error {
	d, cleanup, err := buildDispatcher()
	if err != nil {
		return err
	}
	defer cleanup()

	for _, address := range args {
		idn, err := d.Identify(cmd.Context(), address)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), idn)
	}
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	return diag.Run(cmd.Context(), diag.Options{
		Version:    version,
		ConfigPath: cfg.Path,
		Stdout:     cmd.OutOrStdout(),
		Stderr:     cmd.ErrOrStderr(),
	})
}

func runListAddresses(cmd *cobra.Command, args []string) error {
	d, cleanup, err := buildDispatcher()
	if err != nil {
		return err
	}
	defer cleanup()

	addresses, err := d.Enumerate(cmd.Context(), listAddressesASRL)
	if err != nil {
		return err
	}
	for _, address := range addresses {
		fmt.Fprintln(cmd.OutOrStdout(), address)
	}
	return nil
}

func runListIDNs(cmd *cobra.Command, args []string) error {
	d, cleanup, err := buildDispatcher()
	if err != nil {
		return err
	}
	defer cleanup()

	results, err := d.BatchIdentify(cmd.Context(), listIDNsASRL)
	if err != nil {
		return err
	}

	for _, result := range results {
		if result.Err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "no response from %s\n", result.Address)
			continue
		}
		line, err := idnLine(result.Address, result.IDN)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}

// buildDispatcher loads configuration and assembles the resource manager,
// transports, discovery sources, and audit trail behind a dispatcher. The
// returned cleanup closes the audit trail.
func buildDispatcher() (*dispatch.Dispatcher, func(), error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}

	manager := visa.NewManager(logger)
	manager.RegisterOpener(visa.ClassASRL, asrl.New(asrl.Options{
		BaudRate:         cfg.Serial.BaudRate,
		DataBits:         cfg.Serial.DataBits,
		Parity:           cfg.Serial.Parity,
		StopBits:         cfg.Serial.StopBits,
		ReadTermination:  cfg.Serial.ReadTermination,
		WriteTermination: cfg.Serial.WriteTermination,
	}).Open)
	manager.RegisterOpener(visa.ClassTCPIPSocket, socket.New(socket.Options{
		DialTimeout:      cfg.Timeouts.Dial(),
		ReadTermination:  cfg.Serial.ReadTermination,
		WriteTermination: cfg.Serial.WriteTermination,
	}).Open)

	controllers := make(map[int]string, len(cfg.GPIB.Controllers))
	for board, controller := range cfg.GPIB.Controllers {
		controllers[board] = controller.SerialPort
	}
	manager.RegisterOpener(visa.ClassGPIB, gpib.New(gpib.Options{
		Controllers: controllers,
	}).Open)
	manager.RegisterOpener(visa.ClassUSB, usbtmc.New(usbtmc.Options{
		WriteTermination: cfg.Serial.WriteTermination,
	}).Open)

	manager.AddStatic(cfg.Resources...)
	manager.RegisterLister("serial", asrl.Discover)
	manager.RegisterLister("usbtmc", usbtmc.Discover)

	d := dispatch.New(manager, cfg, logger)

	cleanup := func() {}
	if !cfg.Audit.Enabled {
		return d, cleanup, nil
	}
	dir, err := cfg.AuditDir()
	if err != nil {
		logger.Warn("audit trail disabled", zap.Error(err))
		return d, cleanup, nil
	}
	trail, err := audit.NewLogger(dir, audit.Options{
		MaxSizeMB:  cfg.Audit.MaxSizeMB,
		MaxBackups: cfg.Audit.MaxBackups,
		MaxAgeDays: cfg.Audit.MaxAgeDays,
	})
	if err != nil {
		logger.Warn("audit trail disabled", zap.Error(err))
		return d, cleanup, nil
	}
	d.SetAuditLogger(trail)
	cleanup = func() {
		if err := trail.Close(); err != nil {
			logger.Warn("audit trail close failed", zap.Error(err))
		}
	}
	return d, cleanup, nil
}

// idnLine renders one identification result as a single-key JSON object
// mapping the address to its identification string.
func idnLine(address, idn string) (string, error) {
	data, err := json.Marshal(map[string]string{address: idn})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// writeSyntax prints the grammar reference for SCPI command messages.
func writeSyntax(w io.Writer) {
	fmt.Fprintln(w, "BNF symbols:")
	for _, element := range scpi.BNFSymbols() {
		fmt.Fprintf(w, "  %-4s %s\n", element.Symbol, element.Description)
	}

	fmt.Fprintln(w, "\nCommand message elements:")
	for _, element := range scpi.CommandMessageElements() {
		fmt.Fprintf(w, "  %s\n      %s\n", element.Symbol, element.Description)
	}

	fmt.Fprintln(w, "\nCommand form:")
	fmt.Fprintf(w, "  %s\n", scpi.CommandForm)

	fmt.Fprintln(w, "\nQuery forms:")
	for _, form := range scpi.QueryForms() {
		fmt.Fprintf(w, "  %s\n", form)
	}
}

// usageError marks command line misuse so the exit status reflects a usage
// problem instead of a runtime failure.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return usageError{err}
	}
	return nil
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

func minimumArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.MinimumNArgs(n)(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case visa.IsTimeout(err):
		return exitTimeout
	case visa.IsConnectivity(err):
		return exitConnectivity
	case errors.Is(err, visa.ErrNoResourcesFound):
		return exitNoResources
	}
	var usage usageError
	if errors.As(err, &usage) || strings.HasPrefix(err.Error(), "unknown command ") {
		return exitUsage
	}
	return exitFailure
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		code := exitCode(err)
		fmt.Fprintln(os.Stderr, "Error:", err)
		if code == exitUsage {
			fmt.Fprintf(os.Stderr, "Run '%s --help' for usage.\n", rootCmd.CommandPath())
		}
		os.Exit(code)
	}
}
