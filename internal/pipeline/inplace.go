package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"slipway/internal/app"
	"slipway/internal/release"
	"slipway/pkg/cmdutil"
	"slipway/pkg/fileutil"
)

// DeployInplace runs the in-place strategy: snapshot the serving
// directory into backups/<id>, then update that same directory to the
// target revision. Simpler for hosts without symlink-based routing, at
// the cost of a window where the serving tree is neither the old nor
// fully the new release.
//
// The rollback discriminator here is whether the serving tree has been
// mutated: before that point a failure just discards the snapshot,
// after it the tree is restored from the snapshot.
func (r *Runner) DeployInplace(ctx context.Context, ref string) error {
	if ref == "" {
		ref = r.App.Branch
	}

	if err := r.preflight(ctx, ref); err != nil {
		return err
	}

	lock, err := AcquireLock(r.App.Path)
	if err != nil {
		return err
	}
	defer lock.Release()

	rel, err := r.Store.Allocate(time.Now())
	if err != nil {
		return fmt.Errorf("failed to allocate release: %w", err)
	}
	rel.Ref = ref

	ledgerID := r.ledgerBegin(ctx, rel.ID, ref)

	r.Logger.Info("Starting deployment", "release", rel.ID, "ref", ref, "strategy", string(app.StrategyInplace))

	commit, err := r.deployInplace(ctx, rel, ref)
	r.ledgerFinish(ctx, ledgerID, commit, err)

	if err != nil {
		r.Logger.Error("Deployment failed", "release", rel.ID, "error", err)
		return err
	}

	r.Logger.Info("Deployment succeeded", "release", rel.ID, "commit", commit)
	return nil
}

func (r *Runner) deployInplace(ctx context.Context, rel *release.Release, ref string) (commit string, err error) {
	servingDir := r.Store.CurrentLink()
	backupPath := r.Store.BackupPath(rel.ID)
	firstDeploy := !fileutil.DirExists(servingDir)
	mutated := false

	fail := func(stageError error) (string, error) {
		r.setStatus(rel, release.StatusFailed)
		if !mutated {
			// Serving tree untouched; just discard the snapshot.
			if removeErr := r.Store.RemoveBackup(rel.ID); removeErr != nil {
				r.Logger.Warn("Failed to discard backup snapshot", "backup", rel.ID, "error", removeErr)
			}
			if firstDeploy {
				if removeErr := os.RemoveAll(servingDir); removeErr != nil {
					r.Logger.Warn("Failed to remove partial serving tree", "error", removeErr)
				}
			}
			return commit, stageError
		}
		return commit, r.rollbackInplace(ctx, backupPath, servingDir, stageError)
	}

	if err := r.Linker.EnsureShared(); err != nil {
		return "", &StageError{Stage: "link", Err: err}
	}

	if firstDeploy {
		// Nothing to snapshot and nothing to restore; any failure from
		// here just removes the partial tree.
		if output, err := r.Source.Clone(ctx, servingDir, r.App.Branch); err != nil {
			return fail(stageErr("sync", ErrSourceSync, fmt.Errorf("clone failed: %w (output: %s)", err, output)))
		}
	} else {
		if err := r.snapshot(ctx, servingDir, backupPath); err != nil {
			return fail(stageErr("sync", ErrSourceSync, err))
		}
		// The serving tree mutates from here on; failures restore it
		// from the snapshot.
		mutated = true
	}

	if output, err := r.Source.Sync(ctx, servingDir, ref); err != nil {
		return fail(stageErr("sync", ErrSourceSync, fmt.Errorf("sync to %s failed: %w (output: %s)", ref, err, output)))
	}
	r.setStatus(rel, release.StatusStaged)

	if commit, err = r.Source.Head(ctx, servingDir); err != nil {
		return fail(stageErr("sync", ErrSourceSync, err))
	}
	rel.Commit = commit

	if err := r.Linker.Link(servingDir); err != nil {
		return fail(&StageError{Stage: "link", Err: err})
	}

	if err := r.build(ctx, servingDir); err != nil {
		return fail(stageErr("build", ErrBuild, err))
	}
	r.setStatus(rel, release.StatusBuilt)

	// In-place has no separate pre-switch tree to migrate against; the
	// policy only decides whether migrations run at all.
	if r.App.MigrationPolicy != app.MigrateOff {
		if err := r.migrate(ctx, servingDir); err != nil {
			return fail(stageErr("migrate", ErrMigration, err))
		}
		r.setStatus(rel, release.StatusMigrated)
	}

	if err := r.selfCheck(ctx, servingDir); err != nil {
		return fail(&StageError{Stage: "self-check", Err: err})
	}
	r.setStatus(rel, release.StatusChecked)

	r.reloadServices(ctx)

	if r.Prober != nil {
		if err := r.Prober.Probe(ctx); err != nil {
			return fail(&StageError{Stage: "probe", Err: err})
		}
	}
	r.setStatus(rel, release.StatusLive)

	if err := r.Store.PruneBackups(r.App.KeepReleases); err != nil {
		r.Logger.Warn("Failed to prune backups", "error", err)
	}

	return commit, nil
}

// snapshot copies the serving tree into the backup namespace and takes
// an optional database dump next to it.
func (r *Runner) snapshot(ctx context.Context, servingDir, backupPath string) error {
	timeout := time.Duration(r.App.CloneTimeout) * time.Second
	if _, err := cmdutil.RunWithTimeout(ctx, r.App.Path, timeout, []string{"cp", "-a", servingDir, backupPath}); err != nil {
		return fmt.Errorf("failed to snapshot serving tree: %w", err)
	}

	if r.App.DumpCommand != nil {
		parts, err := cmdutil.ParseCommandList(r.App.DumpCommand)
		if err != nil {
			return fmt.Errorf("failed to parse db dump command: %w", err)
		}
		if err := r.runHook(ctx, backupPath, parts, r.hookTimeout()); err != nil {
			return fmt.Errorf("db dump failed: %w", err)
		}
	}

	return nil
}
