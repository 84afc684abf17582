package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"slipway/internal/app"
	"slipway/internal/ledger"
	"slipway/internal/pipeline"
	"slipway/pkg/fileutil"

	"github.com/spf13/cobra"
)

var (
	deployConfigFile string
	deployBranch     string
	deployRef        string
	deployHealthURL  string
	deployKeep       int
	deployDBPath     string
	deployLogFile    string
)

var deployCmd = &cobra.Command{
	Use:   "deploy APP",
	Short: "Deploy an app as a new symlinked release",
	Long: `Deploy an application: materialize a new timestamped release, link
shared state, build, migrate per policy, health-check, then atomically
promote it by repointing the current symlink.

Any stage failure rolls back automatically. Exit codes: 0 success,
1 deploy failed and rollback restored the previous release, 3 rollback
also failed (operator intervention required).

Example:
  slipway deploy myapp --ref v2.4.1`,
	Args: cobra.ExactArgs(1),
	RunE: runDeploy,
}

func init() {
	registerDeployFlags(deployCmd)
}

func registerDeployFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&deployConfigFile, "config", "c", getEnvOrDefault("SLIPWAY_CONFIG_FILE", ""), "Path to apps.yaml configuration file")
	cmd.Flags().StringVar(&deployBranch, "branch", "", "Override the configured branch")
	cmd.Flags().StringVar(&deployRef, "ref", "", "Deploy a specific ref instead of the branch head")
	cmd.Flags().StringVar(&deployHealthURL, "health-url", "", "Override the configured health check URL")
	cmd.Flags().IntVar(&deployKeep, "keep", 0, "Override the configured retention count")
	cmd.Flags().StringVar(&deployDBPath, "db", getEnvOrDefault("SLIPWAY_DB_PATH", "./deployments.db"), "Path to SQLite deployment ledger")
	cmd.Flags().StringVar(&deployLogFile, "log", getEnvOrDefault("SLIPWAY_LOG_FILE", "./deployments.log"), "Path to log file")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	return deployWith(args[0], app.StrategySymlink)
}

func deployWith(appName string, strategy app.Strategy) error {
	a, err := loadApp(appName)
	if err != nil {
		return err
	}
	a.Strategy = strategy
	applyOverrides(a)

	logger, logFile, err := setupLogging(deployLogFile)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logFile.Close()

	runner, err := pipeline.NewRunner(a, logger)
	if err != nil {
		return err
	}

	led, err := ledger.Open(deployDBPath)
	if err != nil {
		return fmt.Errorf("failed to open deployment ledger: %w", err)
	}
	defer led.Close()
	runner.Ledger = led

	// An operator abort behaves like a stage failure and rolls back.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if strategy == app.StrategyInplace {
		err = runner.DeployInplace(ctx, deployRef)
	} else {
		err = runner.Deploy(ctx, deployRef)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Deployment of '%s' succeeded\n", appName)
	return nil
}

// loadApp resolves the config file and returns the named app.
func loadApp(appName string) (*app.App, error) {
	configFile := deployConfigFile
	if configFile == "" {
		searchPaths := fileutil.DefaultConfigPaths("apps.yaml")
		configFile = fileutil.SearchPathsOptional(searchPaths)
		if configFile == "" {
			fmt.Fprintf(os.Stderr, "Error: No configuration file found in default locations:\n")
			for _, path := range searchPaths {
				fmt.Fprintf(os.Stderr, "  - %s\n", path)
			}
			fmt.Fprintf(os.Stderr, "Use --config flag to specify a custom location\n")
			return nil, fmt.Errorf("configuration file not found")
		}
	}

	_, apps, err := app.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configFile, err)
	}

	a, exists := apps[appName]
	if !exists {
		return nil, fmt.Errorf("app '%s' not found in config file %s", appName, configFile)
	}

	return a, nil
}

func applyOverrides(a *app.App) {
	if deployBranch != "" {
		a.Branch = deployBranch
	}
	if deployHealthURL != "" {
		a.HealthURL = deployHealthURL
	}
	if deployKeep > 0 {
		a.KeepReleases = deployKeep
	}
}
