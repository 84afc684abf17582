// Package pipeline runs a deployment from source sync to promotion as
// one strictly sequential pipeline with a single failure handler. Every
// stage failure, including cancellation, routes to the rollback manager
// with a flag for whether the switch had already happened.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"slipway/internal/app"
	"slipway/internal/health"
	"slipway/internal/ledger"
	"slipway/internal/release"
	"slipway/internal/security"
	"slipway/internal/source"
	"slipway/internal/svc"
	"slipway/pkg/cmdutil"
)

// Source is the source-control collaborator: fetch-by-revision and
// reset-to-revision against a named branch or ref.
type Source interface {
	Clone(ctx context.Context, dest, branch string) ([]byte, error)
	Sync(ctx context.Context, dir, ref string) ([]byte, error)
	Head(ctx context.Context, dir string) (string, error)
}

// Prober gates a freshly switched release from the outside.
type Prober interface {
	Probe(ctx context.Context) error
}

// Runner executes deployments for one application.
type Runner struct {
	App      *app.App
	Store    *release.Store
	Linker   *release.Linker
	Source   Source
	Services *svc.Manager
	Logger   *slog.Logger

	// Exec screens and runs every configured hook command. Hooks come
	// from apps.yaml, which an operator may not fully trust; commands
	// outside the allowlist or with shell metacharacters in their
	// arguments are refused before anything executes.
	Exec *security.SandboxedExecutor

	// Prober is nil when the app has no health URL; the external
	// probe stage is skipped then.
	Prober Prober

	// Ledger is optional; a nil ledger disables history recording.
	Ledger *ledger.Ledger

	// Resolver is optional; when set, the target branch is resolved to
	// a commit SHA via the GitHub API before any filesystem work.
	Resolver *source.RefResolver

	// LookPath is swappable for tests.
	LookPath func(string) (string, error)
}

// NewRunner wires a runner from an application config.
func NewRunner(a *app.App, logger *slog.Logger) (*Runner, error) {
	git, err := source.NewGit(a.Repo, time.Duration(a.CloneTimeout)*time.Second)
	if err != nil {
		return nil, err
	}

	store := release.NewStore(a.Path, logger)

	r := &Runner{
		App:      a,
		Store:    store,
		Linker:   release.NewLinker(store),
		Source:   git,
		Services: svc.NewManager(logger),
		Logger:   logger.With("app", a.Name),
		Exec:     security.NewSandboxedExecutor(a.Path),
		LookPath: exec.LookPath,
	}

	if a.HealthURL != "" {
		r.Prober = health.NewProber(a.HealthURL, r.Logger)
	}
	if a.GitHubToken != "" {
		r.Resolver = source.NewRefResolver(context.Background(), a.GitHubToken)
	}

	return r, nil
}

// Deploy runs the symlinked-release pipeline for the given ref (empty
// means the app's configured branch). On any stage failure it rolls
// back and returns the stage error joined with the rollback outcome.
func (r *Runner) Deploy(ctx context.Context, ref string) error {
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

	r.Logger.Info("Starting deployment", "release", rel.ID, "ref", ref, "strategy", string(r.App.Strategy))

	commit, err := r.deploySymlink(ctx, rel, ref)
	r.ledgerFinish(ctx, ledgerID, commit, err)

	if err != nil {
		r.Logger.Error("Deployment failed", "release", rel.ID, "error", err)
		return err
	}

	r.Logger.Info("Deployment succeeded", "release", rel.ID, "commit", commit)
	return nil
}

// setStatus advances the release through its lifecycle and surfaces
// the transition in the log stream, where operators can reconstruct
// how far a deployment got.
func (r *Runner) setStatus(rel *release.Release, status release.Status) {
	rel.Status = status
	r.Logger.Debug("Release status", "release", rel.ID, "status", string(status))
}

// deploySymlink runs the pre-switch stages against the new release
// tree, promotes it, then runs the post-switch stages. The switched
// flag is the explicit rollback discriminator; it is never inferred
// from pointer state.
func (r *Runner) deploySymlink(ctx context.Context, rel *release.Release, ref string) (commit string, err error) {
	switched := false
	previous := ""

	fail := func(stageError error) (string, error) {
		r.setStatus(rel, release.StatusFailed)
		return commit, r.rollback(ctx, rel, switched, previous, stageError)
	}

	if err := r.Linker.EnsureShared(); err != nil {
		// Nothing materialized yet, nothing to roll back
		return "", &StageError{Stage: "link", Err: err}
	}

	if err := r.materialize(ctx, rel, ref); err != nil {
		return fail(stageErr("sync", ErrSourceSync, err))
	}
	r.setStatus(rel, release.StatusStaged)

	if commit, err = r.Source.Head(ctx, rel.Path); err != nil {
		return fail(stageErr("sync", ErrSourceSync, err))
	}
	rel.Commit = commit

	if err := r.Linker.Link(rel.Path); err != nil {
		return fail(&StageError{Stage: "link", Err: err})
	}

	if err := r.build(ctx, rel.Path); err != nil {
		return fail(stageErr("build", ErrBuild, err))
	}
	r.setStatus(rel, release.StatusBuilt)

	if r.App.MigrationPolicy == app.MigrateBeforeSwitch {
		if err := r.migrate(ctx, rel.Path); err != nil {
			return fail(stageErr("migrate", ErrMigration, err))
		}
		r.setStatus(rel, release.StatusMigrated)
	}

	if err := r.selfCheck(ctx, rel.Path); err != nil {
		return fail(&StageError{Stage: "self-check", Err: err})
	}
	r.setStatus(rel, release.StatusChecked)

	previous, err = r.Store.Switch(rel.Path)
	if err != nil {
		return fail(stageErr("switch", ErrSwitch, err))
	}
	switched = true

	r.reloadServices(ctx)

	if r.App.MigrationPolicy == app.MigrateAfterSwitch {
		if err := r.migrate(ctx, r.Store.CurrentLink()); err != nil {
			return fail(stageErr("migrate", ErrMigration, err))
		}
		r.setStatus(rel, release.StatusMigrated)
	}

	if r.Prober != nil {
		if err := r.Prober.Probe(ctx); err != nil {
			return fail(&StageError{Stage: "probe", Err: err})
		}
	}
	r.setStatus(rel, release.StatusLive)

	// Housekeeping, never a deployment blocker
	if err := r.Store.Prune(r.App.KeepReleases); err != nil {
		r.Logger.Warn("Failed to prune releases", "error", err)
	}
	if err := r.Store.PruneBackups(r.App.KeepReleases); err != nil {
		r.Logger.Warn("Failed to prune backups", "error", err)
	}

	return commit, nil
}

// preflight fails fast before any filesystem work: required binaries
// on PATH, optionally the branch resolvable via the GitHub API, and
// the on-disk layout in place.
func (r *Runner) preflight(ctx context.Context, ref string) error {
	for _, tool := range r.requiredTools() {
		if _, err := r.LookPath(tool); err != nil {
			return &StageError{Stage: "preflight", Err: fmt.Errorf("%w: %s", ErrMissingTool, tool)}
		}
	}

	if r.Resolver != nil && ref == r.App.Branch {
		sha, err := r.Resolver.ResolveBranch(ctx, r.App.Repo, r.App.Branch)
		if err != nil {
			return &StageError{Stage: "preflight", Err: fmt.Errorf("%w: %v", ErrSourceSync, err)}
		}
		r.Logger.Info("Resolved branch", "branch", r.App.Branch, "commit", sha)
	}

	if err := r.Store.Init(); err != nil {
		return &StageError{Stage: "preflight", Err: err}
	}

	return nil
}

// requiredTools collects the binaries every configured hook needs,
// plus git for source sync.
func (r *Runner) requiredTools() []string {
	seen := map[string]bool{"git": true}
	tools := []string{"git"}

	add := func(raw interface{}) {
		if raw == nil {
			return
		}
		parts, err := cmdutil.ParseCommandList(raw)
		if err != nil || seen[parts[0]] {
			return
		}
		seen[parts[0]] = true
		tools = append(tools, parts[0])
	}

	for _, c := range r.App.BuildCommands {
		add(c)
	}
	add(r.App.MigrateCommand)
	add(r.App.SelfCheckCommand)
	// The dump hook only runs while snapshotting, which the symlink
	// strategy never does.
	if r.App.Strategy == app.StrategyInplace {
		add(r.App.DumpCommand)
	}

	return tools
}

// materialize produces an independent tree at releases/<id> on the
// target revision. When a serving release exists its tree is copied
// and fast-forwarded, avoiding a full network clone per deploy;
// otherwise the repository is cloned fresh.
func (r *Runner) materialize(ctx context.Context, rel *release.Release, ref string) error {
	current, err := r.Store.Current()
	if err != nil {
		return err
	}

	if current == "" {
		if output, err := r.Source.Clone(ctx, rel.Path, r.App.Branch); err != nil {
			return fmt.Errorf("clone failed: %w (output: %s)", err, output)
		}
	} else {
		copyTimeout := time.Duration(r.App.CloneTimeout) * time.Second
		if _, err := cmdutil.RunWithTimeout(ctx, r.App.Path, copyTimeout, []string{"cp", "-a", current, rel.Path}); err != nil {
			return fmt.Errorf("failed to copy serving tree: %w", err)
		}
	}

	if output, err := r.Source.Sync(ctx, rel.Path, ref); err != nil {
		return fmt.Errorf("sync to %s failed: %w (output: %s)", ref, err, output)
	}

	return nil
}

// selfCheck runs the app's introspection command, when configured.
func (r *Runner) selfCheck(ctx context.Context, dir string) error {
	if r.App.SelfCheckCommand == nil {
		return nil
	}
	parts, err := cmdutil.ParseCommandList(r.App.SelfCheckCommand)
	if err != nil {
		return fmt.Errorf("%w: invalid self-check command: %v", ErrSelfCheck, err)
	}
	if err := r.Exec.ValidateCommandParts(parts); err != nil {
		return fmt.Errorf("%w: %v", ErrSelfCheck, err)
	}
	return health.SelfCheck(ctx, r.Logger, dir, parts, r.hookTimeout())
}

// reloadServices signals the serving runtime, workers and nginx. All
// best-effort: the pointer is already correct and a missed reload is
// recoverable by hand.
func (r *Runner) reloadServices(ctx context.Context) {
	r.Services.ReloadApp(ctx, r.App.Service)
	r.Services.RestartWorkers(ctx, r.App.WorkerServices)
	if r.App.ReloadNginx {
		r.Services.ReloadNginx(ctx)
	}
}

func (r *Runner) ledgerBegin(ctx context.Context, releaseID, ref string) int64 {
	if r.Ledger == nil {
		return 0
	}
	id, err := r.Ledger.Begin(ctx, r.App.Name, releaseID, string(r.App.Strategy), r.App.Branch, ref)
	if err != nil {
		r.Logger.Warn("Failed to record deployment start", "error", err)
		return 0
	}
	return id
}

func (r *Runner) ledgerFinish(ctx context.Context, id int64, commit string, deployErr error) {
	if r.Ledger == nil || id == 0 {
		return
	}

	status := ledger.StatusSuccess
	errMsg := ""
	if deployErr != nil {
		errMsg = deployErr.Error()
		status = ledger.StatusFailed
		if errors.Is(deployErr, ErrRollbackRestore) {
			status = ledger.StatusRollbackFailed
		}
	}

	// Finishing the ledger must not mask the deployment outcome; use a
	// fresh context in case the deployment one was cancelled.
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := r.Ledger.Finish(ctx, id, status, commit, errMsg); err != nil {
		r.Logger.Warn("Failed to record deployment outcome", "error", err)
	}
}
