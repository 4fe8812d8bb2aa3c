// Command scpimock runs a simulated SCPI instrument on a TCP socket so
// gpibtool can be exercised without laboratory hardware.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jakeogh/gpibtool/internal/scpimock"
)

// version is overridden at release time with -ldflags "-X main.version=...".
var version = "0.1.0"

var (
	cfgPath string
	listen  string
	idn     string
	delay   time.Duration
	verbose bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "scpimock",
	Short: "Simulate a SCPI instrument on a TCP socket",
	Long: `scpimock serves a newline-framed SCPI instrument over TCP. Point gpibtool
at it with a socket resource address:

  scpimock --listen 127.0.0.1:5025
  gpibtool idn "TCPIP::127.0.0.1::5025::SOCKET"

The simulator answers *IDN?, *RST, *CLS, *OPC?, and SYST:ERR?, and keeps a
settable VOLT/FREQ register. Unknown commands queue a SCPI error and stay
silent, so a misdirected query times out the way it would on real hardware.
A response delay can be configured to provoke client timeouts.`,
	Args:          cobra.NoArgs,
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
	RunE: run,
}

func init() {
	rootCmd.Version = version
	rootCmd.Flags().StringVar(&cfgPath, "config", "", "config file (YAML; SCPIMOCK_CONFIG is honored when unset)")
	rootCmd.Flags().StringVar(&listen, "listen", "", "TCP listen address, e.g. 127.0.0.1:5025 (port 0 picks a free port)")
	rootCmd.Flags().StringVar(&idn, "idn", "", `identification to report, as "manufacturer,model,serial,firmware"`)
	rootCmd.Flags().DurationVar(&delay, "delay", 0, "delay before every reply, to provoke client timeouts")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	srv := scpimock.NewServer(cfg.ServerOptions(logger))
	if err := srv.Start(); err != nil {
		return err
	}

	// The resource address goes to stdout so scripts can wire the two
	// binaries together.
	fmt.Fprintln(cmd.OutOrStdout(), srv.ResourceAddress())

	<-cmd.Context().Done()
	logger.Info("shutting down")
	return srv.Close()
}

// loadConfig merges the config chain with the command line, flags winning.
func loadConfig(cmd *cobra.Command) (*scpimock.Config, error) {
	cfg, err := scpimock.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("listen") {
		cfg.Listen = listen
	}
	if cmd.Flags().Changed("idn") {
		identity, err := scpimock.ParseIdentity(idn)
		if err != nil {
			return nil, err
		}
		cfg.Identity = scpimock.IdentityConfig(identity)
	}
	if cmd.Flags().Changed("delay") {
		cfg.ResponseDelayMs = int(delay.Milliseconds())
	}
	return cfg, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
