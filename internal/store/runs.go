package store

import (
	"context"
	"fmt"
	"time"
)

// Run statuses.
const (
	RunComplete = "complete"
	RunFailed   = "failed"
)

// ExportRun is one recorded export attempt.
type ExportRun struct {
	RunID      string        `json:"run_id"`
	ProjectID  int64         `json:"-"`
	UserID     int64         `json:"user_id"`
	Format     string        `json:"format"`
	MapIndex   int           `json:"map_index"`
	Status     string        `json:"status"`
	Files      int           `json:"files"`
	Rows       int64         `json:"rows"`
	Skipped    int64         `json:"skipped"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
	Error      string        `json:"error,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Runs records export history.
type Runs struct {
	db DBTX
}

// Record stores a finished run.
func (r *Runs) Record(ctx context.Context, run ExportRun) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO export_runs
			(run_id, project_id, user_id, format, map_index, status, files, rows_written, rows_skipped, duration_ms, error)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.RunID, run.ProjectID, run.UserID, run.Format, run.MapIndex, run.Status,
		run.Files, run.Rows, run.Skipped, run.Duration.Milliseconds(), run.Error)
	if err != nil {
		return fmt.Errorf("record export run: %w", err)
	}
	return nil
}

// Recent returns the latest runs of a project, newest first.
func (r *Runs) Recent(ctx context.Context, projectID int64, limit int) ([]ExportRun, error) {
	rows, err := r.db.Query(ctx, `
		SELECT run_id::text, user_id, format, map_index, status, files,
		       rows_written, rows_skipped, duration_ms, error, created_at
		FROM export_runs
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list export runs: %w", err)
	}
	defer rows.Close()

	var runs []ExportRun
	for rows.Next() {
		run := ExportRun{ProjectID: projectID}
		var ms int64
		if err := rows.Scan(&run.RunID, &run.UserID, &run.Format, &run.MapIndex, &run.Status,
			&run.Files, &run.Rows, &run.Skipped, &ms, &run.Error, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan export run: %w", err)
		}
		run.Duration = time.Duration(ms) * time.Millisecond
		run.DurationMS = ms
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list export runs: %w", err)
	}
	return runs, nil
}
