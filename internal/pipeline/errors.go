package pipeline

import (
	"errors"
	"fmt"

	"slipway/internal/health"
	"slipway/internal/release"
)

// Failure classes surfaced by the deployment pipeline. ErrConfigMissing
// belongs to the shared-state linker and ErrSelfCheck/ErrProbeExhausted
// to the health gate; they are re-exported here so callers can match
// every deployment failure against one package.
var (
	// ErrMissingTool indicates a required external binary was not found
	// before any work started.
	ErrMissingTool = errors.New("required tool not found")

	// ErrSourceSync indicates the source collaborator could not bring
	// the release tree to the target revision.
	ErrSourceSync = errors.New("source synchronization failed")

	// ErrBuild indicates a dependency or asset build command failed.
	ErrBuild = errors.New("build failed")

	// ErrMigration indicates a schema migration failed. Never skipped
	// silently; always fatal to the attempt.
	ErrMigration = errors.New("migration failed")

	// ErrSwitch indicates the atomic pointer update itself failed.
	ErrSwitch = errors.New("switch failed")

	// ErrRollbackRestore indicates rollback could not restore the
	// previous state. The system cannot self-heal from this; an
	// operator has to intervene.
	ErrRollbackRestore = errors.New("rollback restore failed")

	// ErrLocked indicates another deployment holds the app's lock.
	ErrLocked = errors.New("deployment already in progress")

	ErrConfigMissing  = release.ErrConfigMissing
	ErrSelfCheck      = health.ErrSelfCheck
	ErrProbeExhausted = health.ErrProbeExhausted
)

// Exit codes for the deploy commands. Monitoring distinguishes "deploy
// failed, rollback succeeded" from "deploy failed, rollback also
// failed" by exit code alone.
const (
	ExitSuccess        = 0
	ExitFailed         = 1
	ExitRollbackFailed = 3
)

// ExitCode maps a pipeline error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, ErrRollbackRestore):
		return ExitRollbackFailed
	default:
		return ExitFailed
	}
}

// StageError records which pipeline stage failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage string, sentinel, err error) *StageError {
	if errors.Is(err, sentinel) {
		return &StageError{Stage: stage, Err: err}
	}
	return &StageError{Stage: stage, Err: fmt.Errorf("%w: %v", sentinel, err)}
}
