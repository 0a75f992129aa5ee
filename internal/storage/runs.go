package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vpetreski/zapply/internal/model"
)

const runColumns = `id, status, phase, trigger_type, stats, logs, error_message,
	started_at, completed_at, duration_seconds`

// CreateRun inserts a new run in the running state. At most one run may
// be running at a time; a second insert loses to the partial unique
// index on status and is surfaced as ErrRunInProgress.
func (db *DB) CreateRun(ctx context.Context, trigger model.TriggerType, params map[string]any) (model.Run, error) {
	run := model.Run{
		ID:          uuid.New(),
		Status:      model.RunStatusRunning,
		Phase:       model.PhaseFetching,
		TriggerType: trigger,
		Stats:       model.RunStats{Params: params},
		Logs:        []model.LogEntry{},
		StartedAt:   time.Now().UTC(),
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO runs (id, status, phase, trigger_type, stats, logs, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, string(run.Status), run.Phase, string(run.TriggerType),
		run.Stats, run.Logs, run.StartedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "uq_runs_single_running") {
			return model.Run{}, ErrRunInProgress
		}
		return model.Run{}, fmt.Errorf("storage: create run: %w", err)
	}
	return run, nil
}

// GetRun retrieves a run by ID.
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (model.Run, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Run{}, ErrNotFound
		}
		return model.Run{}, fmt.Errorf("storage: get run: %w", err)
	}
	return run, nil
}

// GetRunDetail retrieves a run together with its source runs.
func (db *DB) GetRunDetail(ctx context.Context, id uuid.UUID) (model.RunDetail, error) {
	run, err := db.GetRun(ctx, id)
	if err != nil {
		return model.RunDetail{}, err
	}
	sourceRuns, err := db.ListSourceRuns(ctx, id)
	if err != nil {
		return model.RunDetail{}, err
	}
	return model.RunDetail{Run: run, SourceRuns: sourceRuns}, nil
}

// LatestRun returns the running run if one exists, otherwise the most
// recently started run. ErrNotFound when no runs exist at all.
func (db *DB) LatestRun(ctx context.Context) (model.Run, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs
		 ORDER BY (status = 'running') DESC, started_at DESC
		 LIMIT 1`)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Run{}, ErrNotFound
		}
		return model.Run{}, fmt.Errorf("storage: latest run: %w", err)
	}
	return run, nil
}

// ListRuns returns one page of runs ordered by started_at DESC.
// Empty status/phase filters match everything.
func (db *DB) ListRuns(ctx context.Context, page, pageSize int, status, phase string) (model.RunListPage, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	var total int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM runs
		 WHERE ($1 = '' OR status = $1) AND ($2 = '' OR phase = $2)`,
		status, phase,
	).Scan(&total)
	if err != nil {
		return model.RunListPage{}, fmt.Errorf("storage: count runs: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE ($1 = '' OR status = $1) AND ($2 = '' OR phase = $2)
		 ORDER BY started_at DESC
		 LIMIT $3 OFFSET $4`,
		status, phase, pageSize, (page-1)*pageSize,
	)
	if err != nil {
		return model.RunListPage{}, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close()

	runs := []model.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return model.RunListPage{}, fmt.Errorf("storage: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return model.RunListPage{}, fmt.Errorf("storage: list runs: %w", err)
	}

	return model.RunListPage{Runs: runs, Total: total, Page: page, PageSize: pageSize}, nil
}

// SetRunPhase updates the free-form phase label on a running run.
func (db *DB) SetRunPhase(ctx context.Context, id uuid.UUID, phase string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE runs SET phase = $1 WHERE id = $2 AND status = 'running'`, phase, id)
	if err != nil {
		return fmt.Errorf("storage: set run phase: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendRunLog appends one entry to the run's log. The append happens
// inside Postgres (JSONB concatenation), so concurrent callers preserve
// per-row insertion order without client-side locking.
func (db *DB) AppendRunLog(ctx context.Context, id uuid.UUID, entry model.LogEntry) error {
	err := WithRetry(ctx, 3, 10*time.Millisecond, func() error {
		_, err := db.pool.Exec(ctx,
			`UPDATE runs SET logs = logs || $2::jsonb WHERE id = $1`,
			id, []model.LogEntry{entry})
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: append run log: %w", err)
	}
	return nil
}

// FinalizeRun transitions a running run to a terminal status and stamps
// aggregate statistics. The running-status guard makes finalize
// idempotent: a second call is a no-op reported as ErrNotFound.
func (db *DB) FinalizeRun(ctx context.Context, id uuid.UUID, status model.RunStatus, stats model.RunStats, errMsg *string) error {
	now := time.Now().UTC()
	tag, err := db.pool.Exec(ctx,
		`UPDATE runs
		 SET status = $1, phase = $2, stats = $3, error_message = $4,
		     completed_at = $5,
		     duration_seconds = EXTRACT(EPOCH FROM ($5 - started_at))
		 WHERE id = $6 AND status = 'running'`,
		string(status), model.PhaseDone, stats, errMsg, now, id)
	if err != nil {
		return fmt.Errorf("storage: finalize run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRun(row pgx.Row) (model.Run, error) {
	var run model.Run
	err := row.Scan(
		&run.ID, &run.Status, &run.Phase, &run.TriggerType, &run.Stats,
		&run.Logs, &run.ErrorMessage, &run.StartedAt, &run.CompletedAt,
		&run.DurationSeconds,
	)
	return run, err
}
