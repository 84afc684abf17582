package release

import (
	"fmt"
	"os"
	"time"
)

// Status is the lifecycle state of a release, as recorded in the ledger.
type Status string

const (
	StatusStaged   Status = "staged"
	StatusBuilt    Status = "built"
	StatusMigrated Status = "migrated"
	StatusChecked  Status = "health-checked"
	StatusLive     Status = "live"
	StatusRetired  Status = "retired"
	StatusFailed   Status = "failed"

	// StatusRollbackTarget marks the release a failed deployment fell
	// back to.
	StatusRollbackTarget Status = "rolled-back-target"
)

// IDFormat is the timestamp layout for release identifiers.
// Lexicographic order equals chronological order, so directory listings
// sort newest-first with a plain string sort.
const IDFormat = "2006-01-02-15-04-05"

// Release is one immutable, versioned deployment of the application.
// It is owned exclusively by the orchestrator; the application process
// never mutates it.
type Release struct {
	ID        string
	Path      string
	Ref       string
	Commit    string
	Status    Status
	CreatedAt time.Time
}

// NewID generates a release identifier from the given time.
func NewID(now time.Time) string {
	return now.Format(IDFormat)
}

// ensureAbsent rejects identifier collisions: a second deployment within
// the same second, or a stale directory left behind, must fail loudly
// rather than share a directory.
func ensureAbsent(path, id string) error {
	if _, err := os.Lstat(path); err == nil {
		return fmt.Errorf("release %s already exists at %s", id, path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check release %s: %w", id, err)
	}
	return nil
}
