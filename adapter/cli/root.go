// Package cli implements the imagery command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/imagery/internal/app"
	"github.com/felixgeelhaar/imagery/pkg/config"
	"github.com/felixgeelhaar/imagery/pkg/observability"
)

var (
	cfgFile string
	verbose bool

	cfg    *config.Config
	logger *slog.Logger
)

// startedAtKey holds the start time of the running command.
type startedAtKey struct{}

var rootCmd = &cobra.Command{
	Use:   "imagery",
	Short: "Upload, transform and report on images",
	Long: `imagery stores uploaded images, rotates, resizes and gray-scales
them on request and keeps statistics about every transformation.

Configuration comes from an optional YAML file, a .env file and the
environment, in increasing order of precedence.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	PersistentPostRun: func(cmd *cobra.Command, _ []string) {
		started, ok := cmd.Context().Value(startedAtKey{}).(time.Time)
		if !ok {
			return
		}
		Logger().DebugContext(cmd.Context(), "command finished",
			"command", cmd.CommandPath(),
			observability.DurationKey, time.Since(started).Milliseconds(),
		)
	},
}

// loadConfig reads the configuration, builds the logger on first use and
// gives the command a correlation id.
func loadConfig(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if verbose {
		loaded.LogLevel = "debug"
	}
	cfg = loaded
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfigFor(cfg.AppEnv, cfg.LogLevel, cfg.LogFormat, cfg.ServiceVersion))
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = observability.WithCorrelationID(ctx, "")
	ctx = context.WithValue(ctx, startedAtKey{}, time.Now())
	cmd.SetContext(ctx)

	logger.DebugContext(ctx, "command started", "command", cmd.CommandPath())
	return nil
}

// Execute runs the command line and exits non-zero on failure.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// AddCommand attaches a command group defined outside this package.
func AddCommand(cmd *cobra.Command) {
	rootCmd.AddCommand(cmd)
}

// SetLogger replaces the logger built from the configuration.
func SetLogger(l *slog.Logger) {
	logger = l
}

// Logger returns the command logger, or the slog default before one is built.
func Logger() *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// WithContainer runs fn with a container built for the running command.
func WithContainer(cmd *cobra.Command, fn func(*app.Container) error) error {
	if cfg == nil {
		return errors.New("configuration not loaded")
	}
	c, err := app.NewContainer(cmd.Context(), cfg, Logger())
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "YAML config file (defaults to $IMAGERY_CONFIG)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
}
