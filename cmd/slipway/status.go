package main

import (
	"context"
	"fmt"
	"sort"

	"slipway/internal/ledger"

	"github.com/spf13/cobra"
)

var statusDBPath string

var statusCmd = &cobra.Command{
	Use:   "status [APP]",
	Short: "Show deployment status from the ledger",
	Long: `Show the latest deployment for every app, or the latest plus recent
history for one app.

Example:
  slipway status
  slipway status myapp`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusDBPath, "db", getEnvOrDefault("SLIPWAY_DB_PATH", "./deployments.db"), "Path to SQLite deployment ledger")
}

func runStatus(cmd *cobra.Command, args []string) error {
	led, err := ledger.Open(statusDBPath)
	if err != nil {
		return fmt.Errorf("failed to open deployment ledger: %w", err)
	}
	defer led.Close()

	ctx := context.Background()

	if len(args) == 1 {
		return printAppStatus(ctx, led, args[0])
	}
	return printAllStatus(ctx, led)
}

func printAppStatus(ctx context.Context, led *ledger.Ledger, appName string) error {
	latest, err := led.Latest(ctx, appName)
	if err != nil {
		return err
	}
	if latest == nil {
		fmt.Printf("No deployments recorded for '%s'\n", appName)
		return nil
	}

	fmt.Printf("Latest deployment of '%s':\n", appName)
	printRecord(latest)

	recent, err := led.History(ctx, appName, 10)
	if err != nil {
		return err
	}
	if len(recent) > 1 {
		fmt.Printf("\nRecent history:\n")
		for _, r := range recent {
			printRecord(&r)
		}
	}

	return nil
}

func printAllStatus(ctx context.Context, led *ledger.Ledger) error {
	status, err := led.AllAppsStatus(ctx)
	if err != nil {
		return err
	}
	if len(status) == 0 {
		fmt.Println("No deployments recorded")
		return nil
	}

	names := make([]string, 0, len(status))
	for name := range status {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Printf("%s:\n", name)
		printRecord(status[name])
	}

	return nil
}

func printRecord(r *ledger.Record) {
	line := fmt.Sprintf("  %s  %-16s %s", r.StartedAt.Format("2006-01-02 15:04:05"), r.Status, r.Ref)
	if r.ReleaseID != "" {
		line += fmt.Sprintf("  release=%s", r.ReleaseID)
	}
	if r.CommitHash != nil {
		commit := *r.CommitHash
		if len(commit) > 12 {
			commit = commit[:12]
		}
		line += fmt.Sprintf("  commit=%s", commit)
	}
	if r.DurationSeconds != nil {
		line += fmt.Sprintf("  %.1fs", *r.DurationSeconds)
	}
	fmt.Println(line)
	if r.ErrorMessage != nil {
		fmt.Printf("    error: %s\n", *r.ErrorMessage)
	}
}
