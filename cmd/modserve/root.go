package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/modserve/internal/app"
	"github.com/dmitrymomot/modserve/pkg/config"
	"github.com/dmitrymomot/modserve/pkg/dispatch"
	"github.com/dmitrymomot/modserve/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "modserve",
	Short: "Serve HTTP requests with reloadable Lua handler modules",
	Long: `modserve maps URL locations to chains of Lua handlers. Modules are cached
and reloaded when they or anything they import changes on disk, and handlers
get cookie-backed sessions over a pluggable store.

Configuration comes from the environment (and an optional .env file).`,
	SilenceUsage: true,
}

// Execute runs the command line and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("locations", "l", "", "locations file (overrides MODSERVE_LOCATIONS)")
}

// loadConfig reads the environment and applies persistent flags.
func loadConfig(cmd *cobra.Command) (app.Config, error) {
	var cfg app.Config
	if err := config.Load(&cfg); err != nil {
		return cfg, err
	}
	if path, _ := cmd.Flags().GetString("locations"); path != "" {
		cfg.Locations = path
	}
	return cfg, nil
}

func newLogger(cfg app.Config) *slog.Logger {
	opts := append(logger.FromConfig(cfg.Log),
		logger.WithOutput(os.Stderr),
		logger.WithContextExtractors(dispatch.LogExtractor()),
	)
	log := logger.New(opts...)
	logger.SetAsDefault(log)
	return log
}

func newApp(cmd *cobra.Command) (*app.App, *slog.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	log := newLogger(cfg)
	a, err := newAppFromConfig(cmd, cfg, log)
	return a, log, err
}

func newAppFromConfig(cmd *cobra.Command, cfg app.Config, log *slog.Logger) (*app.App, error) {
	a, err := app.New(cmdContext(cmd), cfg, log)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", cfg.Locations, err)
	}
	return a, nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
