package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reportmail/internal/app"
	"github.com/reportmail/internal/config"
	"github.com/reportmail/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		catalogPath string
		outputDir   string
		logLevel    string
		logFormat   string
	)

	cmd := &cobra.Command{
		Use:   "reporter",
		Short: "Run the scheduled SQL reports and mail them as CSV",
		Long: `reporter performs one scheduling pass: it connects to the database named in
the [mysql] section of the config file, runs every DAILY report in the catalog,
and on the weekly day also every WEEKLY report. Each non-empty result is written
to a CSV file, mailed through the SMTP account in the [email] section, and deleted.

All flags are optional; they override the REPORTER_* environment variables.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			flags := cmd.Flags()
			if flags.Changed("config") {
				settings.ConfigPath = configPath
			}
			if flags.Changed("catalog") {
				settings.CatalogPath = catalogPath
			}
			if flags.Changed("output-dir") {
				settings.OutputDir = outputDir
			}
			if flags.Changed("log-level") {
				settings.LogLevel = logLevel
			}
			if flags.Changed("log-format") {
				settings.LogFormat = logFormat
			}
			if err := settings.Validate(); err != nil {
				return err
			}

			logger := logging.Setup(settings.LogLevel, settings.LogFormat)
			logger.Debug("settings", "value", settings.String())

			a, err := app.New(settings, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.Run(ctx)
		},
	}

	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "INI file with [mysql] and [email] sections (env REPORTER_CONFIG)")
	f.StringVar(&catalogPath, "catalog", "", "JSON or YAML report catalog (env REPORTER_CATALOG)")
	f.StringVar(&outputDir, "output-dir", "", "directory for CSV files (env REPORTER_OUTPUT_DIR)")
	f.StringVar(&logLevel, "log-level", "", "debug, info, warn or error (env LOG_LEVEL)")
	f.StringVar(&logFormat, "log-format", "", "text or json (env LOG_FORMAT)")

	return cmd
}
