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

const sourceColumns = `id, name, label, description, enabled, priority,
	credentials_env_prefix, settings, created_at, updated_at`

// ListSources returns all source configs ordered by (priority, name).
func (db *DB) ListSources(ctx context.Context) ([]model.SourceConfig, error) {
	return db.listSources(ctx, false)
}

// ListEnabledSources returns enabled source configs ordered by (priority, name).
func (db *DB) ListEnabledSources(ctx context.Context) ([]model.SourceConfig, error) {
	return db.listSources(ctx, true)
}

func (db *DB) listSources(ctx context.Context, enabledOnly bool) ([]model.SourceConfig, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+sourceColumns+` FROM scraper_sources
		 WHERE NOT $1 OR enabled
		 ORDER BY priority, name`, enabledOnly)
	if err != nil {
		return nil, fmt.Errorf("storage: list sources: %w", err)
	}
	defer rows.Close()

	sources := []model.SourceConfig{}
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan source: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// GetSource retrieves one source config by name.
func (db *DB) GetSource(ctx context.Context, name string) (model.SourceConfig, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM scraper_sources WHERE name = $1`, name)
	src, err := scanSource(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.SourceConfig{}, ErrNotFound
		}
		return model.SourceConfig{}, fmt.Errorf("storage: get source: %w", err)
	}
	return src, nil
}

// UpdateSource applies the non-nil fields of upd to a source config and
// returns the updated row.
func (db *DB) UpdateSource(ctx context.Context, name string, upd model.SourceConfigUpdate) (model.SourceConfig, error) {
	src, err := db.GetSource(ctx, name)
	if err != nil {
		return model.SourceConfig{}, err
	}

	if upd.Enabled != nil {
		src.Enabled = *upd.Enabled
	}
	if upd.Priority != nil {
		src.Priority = *upd.Priority
	}
	if upd.Settings != nil {
		src.Settings = *upd.Settings
	}
	src.UpdatedAt = time.Now().UTC()

	_, err = db.pool.Exec(ctx,
		`UPDATE scraper_sources
		 SET enabled = $1, priority = $2, settings = $3, updated_at = $4
		 WHERE name = $5`,
		src.Enabled, src.Priority, src.Settings, src.UpdatedAt, name)
	if err != nil {
		return model.SourceConfig{}, fmt.Errorf("storage: update source: %w", err)
	}
	return src, nil
}

// EnsureSource inserts a source config row if none exists for the name.
// Used by the startup sync to seed rows for newly registered fetchers.
// Returns true when a row was inserted.
func (db *DB) EnsureSource(ctx context.Context, src model.SourceConfig) (bool, error) {
	if src.ID == uuid.Nil {
		src.ID = uuid.New()
	}
	if src.Settings == nil {
		src.Settings = map[string]any{}
	}
	now := time.Now().UTC()

	tag, err := db.pool.Exec(ctx,
		`INSERT INTO scraper_sources
		     (id, name, label, description, enabled, priority,
		      credentials_env_prefix, settings, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		 ON CONFLICT (name) DO NOTHING`,
		src.ID, src.Name, src.Label, src.Description, src.Enabled,
		src.Priority, src.CredentialsEnvPrefix, src.Settings, now)
	if err != nil {
		return false, fmt.Errorf("storage: ensure source: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanSource(row pgx.Row) (model.SourceConfig, error) {
	var src model.SourceConfig
	err := row.Scan(
		&src.ID, &src.Name, &src.Label, &src.Description, &src.Enabled,
		&src.Priority, &src.CredentialsEnvPrefix, &src.Settings,
		&src.CreatedAt, &src.UpdatedAt,
	)
	return src, err
}
