package ledger

import "time"

// Deployment outcome statuses. A row starts as in_progress and is
// finalized exactly once.
const (
	StatusInProgress     = "in_progress"
	StatusSuccess        = "success"
	StatusFailed         = "failed"          // deploy failed, rollback restored the previous release
	StatusRollbackFailed = "rollback_failed" // deploy failed AND rollback failed; operator intervention
	StatusRejected       = "rejected"        // webhook rejected (bad signature, rate limit, lock busy)
	StatusSkipped        = "skipped"         // push to a non-deployed branch
)

// Record represents a single deployment attempt.
type Record struct {
	ID              int64
	App             string
	ReleaseID       string // empty for rejected/skipped attempts
	Strategy        string
	Branch          string
	Ref             string
	Status          string
	StartedAt       time.Time
	CompletedAt     *time.Time // nullable
	DurationSeconds *float64   // nullable
	CommitHash      *string    // nullable
	ErrorMessage    *string    // nullable
}

// AppStatus represents the latest state of an app for the status
// command and the HTTP status endpoint.
type AppStatus struct {
	App              string   `json:"app"`
	LatestDeployment *Record  `json:"latest_deployment,omitempty"`
	RecentHistory    []Record `json:"recent_history"`
}
