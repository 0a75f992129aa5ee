package model

import (
	"time"

	"github.com/google/uuid"
)

// SourceConfig is one row of the scraper_sources table: per-source
// enablement, ordering, and the opaque settings bag handed to the
// fetcher unmodified. The engine consumes these rows; editing them is
// owned by the admin surface.
type SourceConfig struct {
	ID                   uuid.UUID      `json:"id"`
	Name                 string         `json:"name"`
	Label                string         `json:"label"`
	Description          string         `json:"description"`
	Enabled              bool           `json:"enabled"`
	Priority             int            `json:"priority"`
	CredentialsEnvPrefix string         `json:"credentials_env_prefix"`
	Settings             map[string]any `json:"settings"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// SourceConfigUpdate carries the mutable fields of a source config.
// Nil fields are left unchanged.
type SourceConfigUpdate struct {
	Enabled  *bool           `json:"enabled,omitempty"`
	Priority *int            `json:"priority,omitempty"`
	Settings *map[string]any `json:"settings,omitempty"`
}
