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

// CreateJob persists one job. An insert that loses to either uniqueness
// constraint, (source, source_id) or the partial resolved_url index,
// returns ErrDuplicate so reconciliation can count it as a duplicate
// rather than a failure.
func (db *DB) CreateJob(ctx context.Context, job model.Job) (model.Job, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.CreatedAt = time.Now().UTC()
	if job.Tags == nil {
		job.Tags = []string{}
	}
	if job.Raw == nil {
		job.Raw = map[string]any{}
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO jobs (id, source, source_id, url, resolved_url, title,
		                   company, description, requirements, location, salary,
		                   tags, raw, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		job.ID, job.Source, job.SourceID, job.URL, job.ResolvedURL, job.Title,
		job.Company, job.Description, job.Requirements, job.Location, job.Salary,
		job.Tags, job.Raw, job.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return model.Job{}, ErrDuplicate
		}
		return model.Job{}, fmt.Errorf("storage: create job: %w", err)
	}
	return job, nil
}

// JobExists reports whether a job with the given same-source identity is
// already persisted.
func (db *DB) JobExists(ctx context.Context, source, sourceID string) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM jobs WHERE source = $1 AND source_id = $2)`,
		source, sourceID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage: job exists: %w", err)
	}
	return exists, nil
}

// ListSourceIDs returns the set of source_ids already persisted for one
// source. Handed to fetchers as a skip hint.
func (db *DB) ListSourceIDs(ctx context.Context, source string) (map[string]struct{}, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT source_id FROM jobs WHERE source = $1`, source)
	if err != nil {
		return nil, fmt.Errorf("storage: list source ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan source id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// ListResolvedURLs returns the set of non-null resolved URLs across all
// persisted jobs. Loaded once before reconciliation begins.
func (db *DB) ListResolvedURLs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT resolved_url FROM jobs WHERE resolved_url IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("storage: list resolved urls: %w", err)
	}
	defer rows.Close()

	urls := make(map[string]struct{})
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("storage: scan resolved url: %w", err)
		}
		urls[u] = struct{}{}
	}
	return urls, rows.Err()
}

// GetJob retrieves a job by its same-source identity.
func (db *DB) GetJob(ctx context.Context, source, sourceID string) (model.Job, error) {
	var job model.Job
	err := db.pool.QueryRow(ctx,
		`SELECT id, source, source_id, url, resolved_url, title, company,
		        description, requirements, location, salary, tags, raw, created_at
		 FROM jobs WHERE source = $1 AND source_id = $2`,
		source, sourceID,
	).Scan(
		&job.ID, &job.Source, &job.SourceID, &job.URL, &job.ResolvedURL,
		&job.Title, &job.Company, &job.Description, &job.Requirements,
		&job.Location, &job.Salary, &job.Tags, &job.Raw, &job.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Job{}, ErrNotFound
		}
		return model.Job{}, fmt.Errorf("storage: get job: %w", err)
	}
	return job, nil
}

// CountJobs returns the total number of persisted jobs.
func (db *DB) CountJobs(ctx context.Context) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count jobs: %w", err)
	}
	return n, nil
}
