package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"slipway/pkg/cmdutil"
	"slipway/pkg/fileutil"
)

// runHook executes one configured hook command inside dir, logging its
// output. The command goes through the sandboxed executor, so hooks
// outside the allowlist never start. Non-zero exit is the sole failure
// signal; no retries.
func (r *Runner) runHook(ctx context.Context, dir string, command []string, timeout time.Duration) error {
	r.Logger.Info("Running command", "command", cmdutil.FormatCommand(command), "dir", dir)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sandbox := *r.Exec
	sandbox.WorkDir = dir

	start := time.Now()
	output, err := sandbox.Execute(ctx, command)
	if err != nil {
		if len(output) > 0 {
			r.Logger.Error("Command failed", "command", cmdutil.FormatCommand(command), "output", string(output))
		}
		return fmt.Errorf("%s: %w", cmdutil.FormatCommand(command), err)
	}

	r.Logger.Info("Command finished", "command", command[0], "duration", time.Since(start))
	return nil
}

// buildCommands returns the build steps for a release tree: the
// configured commands when present, otherwise steps autodetected from
// lockfiles (production mode, no dev dependencies).
func (r *Runner) buildCommands(dir string) ([][]string, error) {
	if len(r.App.BuildCommands) > 0 {
		commands := make([][]string, 0, len(r.App.BuildCommands))
		for i, raw := range r.App.BuildCommands {
			parts, err := cmdutil.ParseCommandList(raw)
			if err != nil {
				return nil, fmt.Errorf("failed to parse build command %d: %w", i, err)
			}
			commands = append(commands, parts)
		}
		return commands, nil
	}
	return detectBuildCommands(dir), nil
}

// detectBuildCommands inspects lockfiles to decide which toolchains a
// release needs. The presence of the artifact decides, not config.
func detectBuildCommands(dir string) [][]string {
	var commands [][]string

	if fileutil.FileExists(filepath.Join(dir, "composer.lock")) {
		commands = append(commands, []string{"composer", "install", "--no-dev", "--no-interaction", "--optimize-autoloader"})
	}
	if fileutil.FileExists(filepath.Join(dir, "package-lock.json")) {
		commands = append(commands,
			[]string{"npm", "ci", "--omit=dev"},
			[]string{"npm", "run", "build"},
		)
	}

	return commands
}

// build runs all build steps for a release tree.
func (r *Runner) build(ctx context.Context, dir string) error {
	commands, err := r.buildCommands(dir)
	if err != nil {
		return err
	}
	if len(commands) == 0 {
		r.Logger.Info("No build steps detected, skipping build", "dir", dir)
		return nil
	}

	for _, command := range commands {
		if err := r.runHook(ctx, dir, command, r.buildTimeout()); err != nil {
			return err
		}
	}
	return nil
}

// migrate applies pending schema changes for the release. The migrate
// collaborator is required to be idempotent (apply-all-pending), so
// re-invoking it against an up-to-date schema is a no-op.
func (r *Runner) migrate(ctx context.Context, dir string) error {
	parts, err := cmdutil.ParseCommandList(r.App.MigrateCommand)
	if err != nil {
		return fmt.Errorf("failed to parse migrate command: %w", err)
	}
	return r.runHook(ctx, dir, parts, time.Duration(r.App.MigrateTimeout)*time.Second)
}

func (r *Runner) buildTimeout() time.Duration {
	return time.Duration(r.App.BuildTimeout) * time.Second
}

func (r *Runner) hookTimeout() time.Duration {
	return time.Duration(r.App.HookTimeout) * time.Second
}
