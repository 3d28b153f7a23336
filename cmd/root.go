// Package cmd implements the ragforge command line.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Zeeeepa/ragforge-sub003/pkg/config"
	"github.com/Zeeeepa/ragforge-sub003/pkg/engine"
	"github.com/Zeeeepa/ragforge-sub003/pkg/logging"
)

var (
	// cfgFile is the path to the configuration file.
	cfgFile string
	// logLevel overrides logging.level from the config.
	logLevel string
	// metricsFile receives the Prometheus metrics of the run in text format.
	metricsFile string
	// version is set by Execute.
	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "ragforge",
	Short: "Resolve entities and tags across documents and search the registry.",
	Long: `ragforge maintains a registry of canonical entities and tags extracted from
documents. It merges mentions that refer to the same thing, keeps embeddings
current, searches the registry, and tracks per-document processing state.

Every command prints its result as JSON on stdout; logs go to stderr.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if metricsFile == "" {
			return nil
		}
		if err := prometheus.WriteToTextfile(metricsFile, prometheus.DefaultGatherer); err != nil {
			return fmt.Errorf("failed to write metrics to %s: %w", metricsFile, err)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute(v string) error {
	version = v
	rootCmd.Version = v
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", config.DefaultPath, "config file (missing file means defaults plus environment)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics of this run to the given file")
}

// loadConfig reads the configuration and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFrom(cfgFile, version)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// withEngine loads config, builds the logger and engine, runs fn, and
// releases everything afterwards.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *engine.Engine) (any, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	eng, err := engine.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Warn("Failed to close engine", zap.String("error", logging.SanitizeError(err)))
		}
	}()

	result, err := fn(ctx, eng)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return nil
}

// Main runs the CLI and exits non-zero on failure.
func Main(v string) {
	if err := Execute(v); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", logging.SanitizeError(err))
		os.Exit(1)
	}
}
