// Package ledger persists deployment attempts in SQLite so operators
// can answer "what is running where, and what happened to the last
// deploy" without grepping logs.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Ledger records deployment attempts in a SQLite database.
type Ledger struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger database at dbPath.
func Open(dbPath string) (*Ledger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	l := &Ledger{db: db}

	if err := l.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return l, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) initSchema() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS deployments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			app TEXT NOT NULL,
			release_id TEXT NOT NULL DEFAULT '',
			strategy TEXT NOT NULL DEFAULT '',
			branch TEXT NOT NULL,
			ref TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			duration_seconds REAL,
			commit_hash TEXT,
			error_message TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	_, err = l.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_app_started
		ON deployments(app, started_at DESC)
	`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// Begin records the start of a deployment attempt and returns the row
// ID to finalize later with Finish.
func (l *Ledger) Begin(ctx context.Context, app, releaseID, strategy, branch, ref string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := l.db.ExecContext(ctx, `
		INSERT INTO deployments
		(app, release_id, strategy, branch, ref, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, app, releaseID, strategy, branch, ref, StatusInProgress, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert deployment record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

// Finish finalizes a deployment attempt started with Begin. commitHash
// and errMsg may be empty.
func (l *Ledger) Finish(ctx context.Context, id int64, status, commitHash, errMsg string) error {
	row := l.db.QueryRowContext(ctx, `SELECT started_at FROM deployments WHERE id = ?`, id)

	var startedAtStr string
	if err := row.Scan(&startedAtStr); err != nil {
		return fmt.Errorf("failed to load deployment record %d: %w", id, err)
	}

	startedAt, err := time.Parse(time.RFC3339, startedAtStr)
	if err != nil {
		return fmt.Errorf("failed to parse started_at timestamp: %w", err)
	}

	now := time.Now().UTC()
	duration := now.Sub(startedAt).Seconds()

	var commit, message *string
	if commitHash != "" {
		commit = &commitHash
	}
	if errMsg != "" {
		message = &errMsg
	}

	_, err = l.db.ExecContext(ctx, `
		UPDATE deployments
		SET status = ?, completed_at = ?, duration_seconds = ?,
		    commit_hash = ?, error_message = ?
		WHERE id = ?
	`, status, now.Format(time.RFC3339), duration, commit, message, id)
	if err != nil {
		return fmt.Errorf("failed to finalize deployment record: %w", err)
	}

	return nil
}

// RecordOutcome inserts an already-completed attempt in one shot. Used
// for rejected and skipped webhook deliveries that never start a
// pipeline.
func (l *Ledger) RecordOutcome(ctx context.Context, app, branch, ref, status, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	var message *string
	if errMsg != "" {
		message = &errMsg
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO deployments
		(app, branch, ref, status, started_at, completed_at, duration_seconds, error_message)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
	`, app, branch, ref, status, now, now, message)
	if err != nil {
		return fmt.Errorf("failed to insert deployment record: %w", err)
	}

	return nil
}

// Latest returns the most recent deployment for an app, or nil when
// the app has never been deployed.
func (l *Ledger) Latest(ctx context.Context, app string) (*Record, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, app, release_id, strategy, branch, ref, status, started_at,
		       completed_at, duration_seconds, commit_hash, error_message
		FROM deployments
		WHERE app = ?
		ORDER BY id DESC
		LIMIT 1
	`, app)

	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest deployment: %w", err)
	}

	return record, nil
}

// History returns the most recent deployment attempts for an app,
// newest first.
func (l *Ledger) History(ctx context.Context, app string, limit int) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, app, release_id, strategy, branch, ref, status, started_at,
		       completed_at, duration_seconds, commit_hash, error_message
		FROM deployments
		WHERE app = ?
		ORDER BY id DESC
		LIMIT ?
	`, app, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query deployment history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment record: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// AllAppsStatus returns the latest deployment per app.
func (l *Ledger) AllAppsStatus(ctx context.Context) (map[string]*Record, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT d1.id, d1.app, d1.release_id, d1.strategy, d1.branch, d1.ref,
		       d1.status, d1.started_at, d1.completed_at, d1.duration_seconds,
		       d1.commit_hash, d1.error_message
		FROM deployments d1
		INNER JOIN (
			SELECT app, MAX(id) as max_id
			FROM deployments
			GROUP BY app
		) d2
		ON d1.id = d2.max_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query all apps status: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*Record)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment record: %w", err)
		}
		result[record.App] = record
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return result, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*Record, error) {
	var record Record
	var startedAtStr string
	var completedAtStr sql.NullString

	err := s.Scan(
		&record.ID,
		&record.App,
		&record.ReleaseID,
		&record.Strategy,
		&record.Branch,
		&record.Ref,
		&record.Status,
		&startedAtStr,
		&completedAtStr,
		&record.DurationSeconds,
		&record.CommitHash,
		&record.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	startedAt, err := time.Parse(time.RFC3339, startedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at timestamp: %w", err)
	}
	record.StartedAt = startedAt

	if completedAtStr.Valid {
		completedAt, err := time.Parse(time.RFC3339, completedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse completed_at timestamp: %w", err)
		}
		record.CompletedAt = &completedAt
	}

	return &record, nil
}
