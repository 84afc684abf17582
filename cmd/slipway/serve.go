package main

import (
	"fmt"
	"os"
	"strings"

	"slipway/internal/app"
	"slipway/internal/ledger"
	"slipway/internal/server"
	"slipway/pkg/fileutil"

	"github.com/spf13/cobra"
)

var (
	serveConfigFile string
	serveLogFile    string
	serveDBPath     string
	serveHost       string
	servePort       int
	serveTestMode   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long: `Start the HTTP server to receive GitHub webhook requests.

The server listens for push events and triggers deployments based on
your app configuration.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigFile, "config", "c", getEnvOrDefault("SLIPWAY_CONFIG_FILE", ""), "Path to apps.yaml configuration file")
	serveCmd.Flags().StringVar(&serveLogFile, "log", getEnvOrDefault("SLIPWAY_LOG_FILE", "./deployments.log"), "Path to log file")
	serveCmd.Flags().StringVar(&serveDBPath, "db", getEnvOrDefault("SLIPWAY_DB_PATH", "./deployments.db"), "Path to SQLite deployment ledger")
	serveCmd.Flags().StringVar(&serveHost, "host", getEnvOrDefault("SLIPWAY_HOST", "127.0.0.1"), "Host to bind to")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", getEnvOrDefaultInt("SLIPWAY_PORT", 5000), "Port to listen on")
	serveCmd.Flags().BoolVar(&serveTestMode, "test-mode", os.Getenv("SLIPWAY_SKIP_VALIDATION") == "1", "Enable test mode (skip validation)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveConfigFile == "" {
		searchPaths := fileutil.DefaultConfigPaths("apps.yaml")
		serveConfigFile = fileutil.SearchPathsOptional(searchPaths)
		if serveConfigFile == "" {
			fmt.Fprintf(os.Stderr, "Error: No configuration file found in default locations:\n")
			for _, path := range searchPaths {
				fmt.Fprintf(os.Stderr, "  - %s\n", path)
			}
			fmt.Fprintf(os.Stderr, "Use --config flag to specify a custom location\n")
			return fmt.Errorf("configuration file not found")
		}
	}

	logger, logFileHandle, err := setupLogging(serveLogFile)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logFileHandle.Close()

	logger.Info("Starting slipway")

	logger.Info("Loading configuration", "config", serveConfigFile)
	_, apps, err := app.LoadConfig(serveConfigFile)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// CLI deploys may omit secrets, but the webhook surface requires them.
	if !serveTestMode {
		if problems := app.ValidateServeSecrets(apps); len(problems) > 0 {
			logger.Error("Webhook secret validation failed", "count", len(problems))
			return fmt.Errorf("webhook secret validation failed:\n%s", strings.Join(problems, "\n"))
		}
	}

	logger.Info("Configuration validated successfully", "count", len(apps))

	if len(apps) == 0 {
		logger.Warn("No apps configured in config file", "config", serveConfigFile)
		logger.Warn("The server will start but won't handle any deployments until apps are added")
	}

	registry := app.NewRegistry(apps)

	var led *ledger.Ledger
	if !serveTestMode {
		logger.Info("Opening deployment ledger", "db", serveDBPath)
		led, err = ledger.Open(serveDBPath)
		if err != nil {
			logger.Error("Failed to open deployment ledger", "error", err)
			return fmt.Errorf("failed to open deployment ledger: %w", err)
		}
		defer led.Close()
	}

	srv := server.NewServer(registry, led, logger, serveTestMode)

	logger.Info("Starting HTTP server", "host", serveHost, "port", servePort)
	if err := srv.Start(serveHost, servePort); err != nil {
		logger.Error("Server failed", "error", err)
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}
