package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/importance-shift/internal/config"
	"github.com/danielpatrickdp/importance-shift/internal/logging"
	"github.com/danielpatrickdp/importance-shift/internal/metrics"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Set up by PersistentPreRunE
	logger   *zap.Logger
	cfg      config.Config
	recorder *metrics.Recorder
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "shiftctl",
	Short: "Recover attribution vectors for shifted environments",
	Long: `shiftctl estimates how feature importance changes when an operating
environment shifts. Measured attribution vectors of reference environments are
rescaled with per-feature factors asserted by a reasoning oracle, renormalized
to the metric ratio between environments, and evaluated against ground truth.

Typical run:
  shiftctl import --bundle refs.json
  shiftctl recover --bundle refs.json
  shiftctl extrapolate --bundle refs.json
  shiftctl evaluate ORAN_embb_9`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.NewLogger(verbose)
		if err != nil {
			return err
		}
		if cmd.Name() == "init" {
			return nil
		}
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		recorder = metrics.NewRecorder()
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logger != nil {
			_ = logger.Sync()
		}
		if err := recorder.WriteTextfile(cfg.MetricsFile); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "shift.yaml", "Config file (missing file uses defaults)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(extrapolateCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(summarizeCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(serveOracleCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("%s already exists", configPath)
		}
		if err := config.WriteDefault(configPath); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", configPath)
		return nil
	},
}
