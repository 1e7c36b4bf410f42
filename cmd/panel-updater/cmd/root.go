package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/panel-updater/internal/config"
	"github.com/oshokin/panel-updater/internal/logger"
	"github.com/oshokin/panel-updater/internal/service/orchestrator"
	"github.com/oshokin/panel-updater/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string

	// assumeYes applies the update plan without asking for confirmation.
	assumeYes bool

	// logLevel overrides the default info level.
	logLevel string

	// rootCmd represents the base command that runs one update pass.
	rootCmd = &cobra.Command{
		Use:   "panel-updater",
		Short: "Check for and apply appliance subsystem updates",
		Long: "Run one update pass over the appliance: resolve the published version of " +
			"every subsystem, and update each outdated one while preserving durable settings. " +
			"Exits zero when everything is up to date or updated successfully.",
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if level, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(level)
			}

			options := &orchestrator.Options{
				ConfigPath: configPath,
				AssumeYes:  assumeYes,
			}

			return orchestrator.Run(ctx, options)
		},
	}

	// initConfigCmd writes a starting configuration for a typical appliance.
	initConfigCmd = &cobra.Command{
		Use:   "init-config",
		Short: "Write a default configuration file",
		RunE: func(_ *cobra.Command, _ []string) error {
			return config.Save(configPath, config.Default())
		},
	}
)

// Execute runs the panel-updater CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)
	rootCmd.AddCommand(initConfigCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c",
		config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false,
		"apply the update plan without asking for confirmation")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"logging level (debug, info, warn, error)")
}
