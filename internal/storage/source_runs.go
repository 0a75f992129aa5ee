package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vpetreski/zapply/internal/model"
)

const sourceRunColumns = `id, run_id, source_name, status, jobs_found, jobs_new,
	jobs_duplicate, jobs_failed, logs, error_message, started_at, completed_at,
	duration_seconds`

// CreateSourceRun inserts one pending source-run row under a parent run.
func (db *DB) CreateSourceRun(ctx context.Context, runID uuid.UUID, sourceName string) (model.SourceRun, error) {
	sr := model.SourceRun{
		ID:         uuid.New(),
		RunID:      runID,
		SourceName: sourceName,
		Status:     model.SourceRunPending,
		Logs:       []model.LogEntry{},
		StartedAt:  time.Now().UTC(),
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO source_runs (id, run_id, source_name, status, logs, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sr.ID, sr.RunID, sr.SourceName, string(sr.Status), sr.Logs, sr.StartedAt)
	if err != nil {
		return model.SourceRun{}, fmt.Errorf("storage: create source run: %w", err)
	}
	return sr, nil
}

// ListSourceRuns returns the source runs for one run, ordered by source name.
func (db *DB) ListSourceRuns(ctx context.Context, runID uuid.UUID) ([]model.SourceRun, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+sourceRunColumns+` FROM source_runs
		 WHERE run_id = $1 ORDER BY source_name`, runID)
	if err != nil {
		return nil, fmt.Errorf("storage: list source runs: %w", err)
	}
	defer rows.Close()

	sourceRuns := []model.SourceRun{}
	for rows.Next() {
		var sr model.SourceRun
		if err := rows.Scan(
			&sr.ID, &sr.RunID, &sr.SourceName, &sr.Status, &sr.JobsFound,
			&sr.JobsNew, &sr.JobsDuplicate, &sr.JobsFailed, &sr.Logs,
			&sr.ErrorMessage, &sr.StartedAt, &sr.CompletedAt, &sr.DurationSeconds,
		); err != nil {
			return nil, fmt.Errorf("storage: scan source run: %w", err)
		}
		sourceRuns = append(sourceRuns, sr)
	}
	return sourceRuns, rows.Err()
}

// StartSourceRun marks a pending source run as running and stamps its
// actual start time.
func (db *DB) StartSourceRun(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE source_runs SET status = $1, started_at = $2
		 WHERE id = $3 AND status = 'pending'`,
		string(model.SourceRunRunning), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("storage: start source run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SourceRunCounts carries the per-source tallies stamped at completion.
type SourceRunCounts struct {
	Found     int
	New       int
	Duplicate int
	Failed    int
}

// CompleteSourceRun transitions a source run to a terminal status with
// its final counts and optional error message.
func (db *DB) CompleteSourceRun(ctx context.Context, id uuid.UUID, status model.SourceRunStatus, counts SourceRunCounts, errMsg *string) error {
	now := time.Now().UTC()
	tag, err := db.pool.Exec(ctx,
		`UPDATE source_runs
		 SET status = $1, jobs_found = $2, jobs_new = $3, jobs_duplicate = $4,
		     jobs_failed = $5, error_message = $6, completed_at = $7,
		     duration_seconds = EXTRACT(EPOCH FROM ($7 - started_at))
		 WHERE id = $8`,
		string(status), counts.Found, counts.New, counts.Duplicate,
		counts.Failed, errMsg, now, id)
	if err != nil {
		return fmt.Errorf("storage: complete source run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendSourceRunLog appends one entry to a source run's log. Same
// JSONB-append mechanism as AppendRunLog: safe under concurrent fetch
// tasks, ordered per row.
func (db *DB) AppendSourceRunLog(ctx context.Context, id uuid.UUID, entry model.LogEntry) error {
	err := WithRetry(ctx, 3, 10*time.Millisecond, func() error {
		_, err := db.pool.Exec(ctx,
			`UPDATE source_runs SET logs = logs || $2::jsonb WHERE id = $1`,
			id, []model.LogEntry{entry})
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: append source run log: %w", err)
	}
	return nil
}
