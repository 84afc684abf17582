package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"slipway/internal/release"
	"slipway/pkg/cmdutil"
	"slipway/pkg/fileutil"
)

// rollback restores the last known-good state after a stage failure.
// The switched flag decides the branch:
//
//   - not switched: the half-built release is deleted and the current
//     pointer stays byte-identical to its pre-deployment value. No
//     service disruption.
//   - switched: current is re-pointed to the previous target and
//     services are reloaded. The failed release stays on disk as a
//     historical record; pruning handles it later.
//
// On success the stage error is returned unchanged. A rollback that
// cannot restore the invariant returns the stage error joined with
// ErrRollbackRestore, which maps to a distinct exit code.
func (r *Runner) rollback(ctx context.Context, rel *release.Release, switched bool, previous string, stageError error) error {
	// Rollback runs even when the deployment was aborted.
	ctx = context.WithoutCancel(ctx)

	if !switched {
		r.Logger.Warn("Rolling back before switch, deleting half-built release", "release", rel.ID, "cause", stageError)

		if err := r.Store.Remove(rel.ID); err != nil {
			return errors.Join(stageError, fmt.Errorf("%w: %v", ErrRollbackRestore, err))
		}
		r.Logger.Info("Rollback complete, serving release unchanged")
		return stageError
	}

	r.Logger.Warn("Rolling back after switch", "release", rel.ID, "previous", previous, "cause", stageError)

	if err := r.restorePointer(previous); err != nil {
		return errors.Join(stageError, fmt.Errorf("%w: %v", ErrRollbackRestore, err))
	}

	r.reloadServices(ctx)

	if previous == "" {
		r.Logger.Warn("Rollback complete, no release is live (first deployment undone)")
	} else {
		r.Logger.Info("Rollback complete, previous release is live",
			"restored", previous, "status", string(release.StatusRollbackTarget))
	}
	return stageError
}

// restorePointer returns current to the target captured immediately
// before the switch. An empty previous means this was the very first
// deployment; removing the pointer restores the pre-deploy state.
func (r *Runner) restorePointer(previous string) error {
	if previous == "" {
		if err := os.Remove(r.Store.CurrentLink()); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove current symlink: %w", err)
		}
		return nil
	}

	if !fileutil.DirExists(previous) {
		return fmt.Errorf("previous release missing: %s", previous)
	}

	if _, err := r.Store.Switch(previous); err != nil {
		return err
	}
	return nil
}

// rollbackInplace restores the serving tree from its backup snapshot.
// Used by the in-place strategy once the serving directory has been
// mutated.
func (r *Runner) rollbackInplace(ctx context.Context, backupPath, servingDir string, stageError error) error {
	ctx = context.WithoutCancel(ctx)

	r.Logger.Warn("Rolling back in-place deployment from backup", "backup", backupPath, "cause", stageError)

	if err := r.restoreBackup(ctx, backupPath, servingDir); err != nil {
		return errors.Join(stageError, fmt.Errorf("%w: %v", ErrRollbackRestore, err))
	}

	// A backup may have excluded generated directories; reinstall when
	// the build artifacts did not survive the round trip.
	if r.vendorMissing(servingDir) {
		r.Logger.Info("Build artifacts missing after restore, reinstalling dependencies")
		if err := r.build(ctx, servingDir); err != nil {
			r.Logger.Warn("Dependency reinstall after restore failed", "error", err)
		}
	}

	r.reloadServices(ctx)

	r.Logger.Info("Rollback complete", "restored", servingDir)
	return stageError
}

func (r *Runner) restoreBackup(ctx context.Context, backupPath, servingDir string) error {
	if !fileutil.DirExists(backupPath) {
		return fmt.Errorf("backup snapshot missing: %s", backupPath)
	}

	if err := os.RemoveAll(servingDir); err != nil {
		return fmt.Errorf("failed to clear serving directory: %w", err)
	}

	timeout := time.Duration(r.App.CloneTimeout) * time.Second
	if _, err := cmdutil.RunWithTimeout(ctx, r.App.Path, timeout, []string{"cp", "-a", backupPath, servingDir}); err != nil {
		return fmt.Errorf("failed to restore backup: %w", err)
	}

	return nil
}

// vendorMissing reports whether a tree that should have build
// artifacts lacks them.
func (r *Runner) vendorMissing(dir string) bool {
	if fileutil.FileExists(filepath.Join(dir, "composer.lock")) && !fileutil.DirExists(filepath.Join(dir, "vendor")) {
		return true
	}
	if fileutil.FileExists(filepath.Join(dir, "package-lock.json")) && !fileutil.DirExists(filepath.Join(dir, "node_modules")) {
		return true
	}
	return false
}
