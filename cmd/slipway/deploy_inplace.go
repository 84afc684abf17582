package main

import (
	"slipway/internal/app"

	"github.com/spf13/cobra"
)

var deployInplaceCmd = &cobra.Command{
	Use:   "deploy-inplace APP",
	Short: "Deploy an app in place, with a backup snapshot",
	Long: `Deploy an application by updating its serving directory in place.

The serving tree is snapshotted into backups/<id> first; any stage
failure restores it from that snapshot. Suited to hosts without
symlink-based routing. Exit codes match 'deploy'.

Example:
  slipway deploy-inplace myapp`,
	Args: cobra.ExactArgs(1),
	RunE: runDeployInplace,
}

func init() {
	registerDeployFlags(deployInplaceCmd)
}

func runDeployInplace(cmd *cobra.Command, args []string) error {
	return deployWith(args[0], app.StrategyInplace)
}
