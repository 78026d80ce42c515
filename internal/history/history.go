package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"jardeploy/internal/security"

	_ "modernc.org/sqlite"
)

const recordColumns = `id, run_id, project, artifact, destination, version_index, status,
	triggered_by, started_at, completed_at, duration_seconds, error_message`

// History manages the deployment ledger in SQLite. It is informational:
// version indexes always come from the deployed directory listing.
type History struct {
	db *sql.DB
}

// NewHistory creates a new history tracker
func NewHistory(dbPath string) (*History, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for SQLite (single writer)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	h := &History{db: db}

	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// The ledger records error output; keep it off world-readable.
	if err := os.Chmod(dbPath, security.PermDBFile); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set database permissions: %w", err)
	}

	return h, nil
}

// Close closes the database connection
func (h *History) Close() error {
	return h.db.Close()
}

func (h *History) initSchema() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS deployments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			project TEXT NOT NULL,
			artifact TEXT NOT NULL DEFAULT '',
			destination TEXT NOT NULL DEFAULT '',
			version_index INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			triggered_by TEXT NOT NULL DEFAULT 'cli',
			started_at TEXT NOT NULL,
			completed_at TEXT,
			duration_seconds REAL,
			error_message TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_project_started ON deployments(project, started_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_run ON deployments(run_id)`,
	} {
		if _, err := h.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// RecordDeployment records one ledger entry. A zero StartedAt is set to
// now; completed_at is filled for every status except in_progress.
func (h *History) RecordDeployment(ctx context.Context, record *DeploymentRecord) (int64, error) {
	if record.RunID == "" {
		return 0, errors.New("record has no run id")
	}
	now := time.Now().UTC()

	started := record.StartedAt
	if started.IsZero() {
		started = now
	}

	var completedAt *string
	if record.CompletedAt != nil {
		formatted := record.CompletedAt.UTC().Format(time.RFC3339Nano)
		completedAt = &formatted
	} else if record.Status != StatusInProgress {
		formatted := now.Format(time.RFC3339Nano)
		completedAt = &formatted
	}

	trigger := record.Trigger
	if trigger == "" {
		trigger = TriggerCLI
	}

	result, err := h.db.ExecContext(ctx, `
		INSERT INTO deployments
		(run_id, project, artifact, destination, version_index, status, triggered_by,
		 started_at, completed_at, duration_seconds, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.RunID,
		record.Project,
		record.Artifact,
		record.Destination,
		record.VersionIndex,
		record.Status,
		trigger,
		started.UTC().Format(time.RFC3339Nano),
		completedAt,
		record.DurationSeconds,
		record.ErrorMessage,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert deployment record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

// GetLatestDeployment returns the most recent entry for a project, or nil.
func (h *History) GetLatestDeployment(ctx context.Context, project string) (*DeploymentRecord, error) {
	row := h.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM deployments
		WHERE project = ?
		ORDER BY id DESC
		LIMIT 1
	`, project)

	record, err := scanDeploymentRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest deployment: %w", err)
	}

	return record, nil
}

// GetDeploymentHistory returns deployment history for a project, newest first
func (h *History) GetDeploymentHistory(ctx context.Context, project string, limit int) ([]DeploymentRecord, error) {
	return h.query(ctx, `
		SELECT `+recordColumns+`
		FROM deployments
		WHERE project = ?
		ORDER BY id DESC
		LIMIT ?
	`, project, limit)
}

// GetRun returns every entry of one run in the order they were recorded.
func (h *History) GetRun(ctx context.Context, runID string) ([]DeploymentRecord, error) {
	return h.query(ctx, `
		SELECT `+recordColumns+`
		FROM deployments
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
}

// GetAllProjectsStatus returns the latest entry for each project
func (h *History) GetAllProjectsStatus(ctx context.Context) (map[string]*DeploymentRecord, error) {
	records, err := h.query(ctx, `
		SELECT `+recordColumns+`
		FROM deployments
		WHERE id IN (SELECT MAX(id) FROM deployments GROUP BY project)
	`)
	if err != nil {
		return nil, err
	}

	result := make(map[string]*DeploymentRecord, len(records))
	for i := range records {
		result[records[i].Project] = &records[i]
	}
	return result, nil
}

func (h *History) query(ctx context.Context, q string, args ...interface{}) ([]DeploymentRecord, error) {
	rows, err := h.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query deployments: %w", err)
	}
	defer rows.Close()

	var records []DeploymentRecord
	for rows.Next() {
		record, err := scanDeploymentRecord(rows)
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

// scanner is an interface that both *sql.Row and *sql.Rows implement
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDeploymentRecord(s scanner) (*DeploymentRecord, error) {
	var record DeploymentRecord
	var startedAtStr string
	var completedAtStr sql.NullString

	err := s.Scan(
		&record.ID,
		&record.RunID,
		&record.Project,
		&record.Artifact,
		&record.Destination,
		&record.VersionIndex,
		&record.Status,
		&record.Trigger,
		&startedAtStr,
		&completedAtStr,
		&record.DurationSeconds,
		&record.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	startedAt, err := time.Parse(time.RFC3339Nano, startedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at timestamp: %w", err)
	}
	record.StartedAt = startedAt

	if completedAtStr.Valid {
		completedAt, err := time.Parse(time.RFC3339Nano, completedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse completed_at timestamp: %w", err)
		}
		record.CompletedAt = &completedAt
	}

	return &record, nil
}
