package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"slipway/internal/release"
	"slipway/internal/svc"

	"github.com/spf13/cobra"
)

var rollbackConfigFile string

var rollbackCmd = &cobra.Command{
	Use:   "rollback APP",
	Short: "Roll an app back to its previous release",
	Long: `Roll an application back to the release immediately preceding the
serving one by atomically repointing the current symlink, then reload
its services.

Example:
  slipway rollback myapp`,
	Args: cobra.ExactArgs(1),
	RunE: runRollback,
}

func init() {
	rollbackCmd.Flags().StringVarP(&rollbackConfigFile, "config", "c", getEnvOrDefault("SLIPWAY_CONFIG_FILE", ""), "Path to apps.yaml configuration file")
}

func runRollback(cmd *cobra.Command, args []string) error {
	appName := args[0]

	deployConfigFile = rollbackConfigFile
	a, err := loadApp(appName)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	store := release.NewStore(a.Path, logger)

	currentID, previousID, err := store.Previous()
	if err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}

	fmt.Printf("Rolling back '%s' from %s to %s...\n", appName, currentID, previousID)

	if _, err := store.Switch(store.ReleasePath(previousID)); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}

	manager := svc.NewManager(logger)
	manager.ReloadApp(context.Background(), a.Service)
	manager.RestartWorkers(context.Background(), a.WorkerServices)
	if a.ReloadNginx {
		manager.ReloadNginx(context.Background())
	}

	fmt.Printf("\nRollback successful!\n")
	fmt.Printf("  Was serving: %s\n", currentID)
	fmt.Printf("  Now serving: %s\n", previousID)

	return nil
}
