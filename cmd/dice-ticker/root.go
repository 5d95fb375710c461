package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dice-ticker/dice-net/device"
	"github.com/dice-ticker/dice-net/logger"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Version information, set by build
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var logLevels = map[string]logger.LogLevel{
	"debug": logger.DebugLevel,
	"info":  logger.InfoLevel,
	"warn":  logger.WarnLevel,
	"error": logger.ErrorLevel,
}

type rootFlags struct {
	configFile string
	logLevel   string
	logSource  bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "dice-ticker",
		Short: "Price ticker transport stack",
		Long: `Runs the transport stack of the DICE price ticker.

The ticker polls a host-backed TCP/IP interface, opens a TLS session to the price API
and keeps the current and the opening prices of the configured symbols.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "Path to configuration file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	root.PersistentFlags().BoolVar(&flags.logSource, "log-source", false, "Add source locations to log records")

	root.AddCommand(newRunCmd(flags), newConfigCmd(flags), newVersionCmd())

	return root
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the ticker until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			level, ok := logLevels[strings.ToLower(flags.logLevel)]
			if !ok {
				return fmt.Errorf("unknown log level %q", flags.logLevel)
			}
			l := logger.NewSlog(level, flags.logSource)

			cfg, err := loadConfig(newViper(), flags.configFile)
			if err != nil {
				return err
			}

			d, err := device.New(cfg, device.WithLogger(l))
			if err != nil {
				l.Fatal("cannot initialize device", "error", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return d.Run(ctx)
		},
	}
}

func newConfigCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := newViper()
			if _, err := loadConfig(v, flags.configFile); err != nil {
				return err
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()

			return enc.Encode(v.AllSettings())
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "dice-ticker version %s\n", version)
			fmt.Fprintf(out, "  Commit: %s\n", commit)
			fmt.Fprintf(out, "  Built:  %s\n", buildDate)
		},
	}
}
