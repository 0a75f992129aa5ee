package model

import (
	"time"

	"github.com/google/uuid"
)

// Job is a persisted job posting. Two uniqueness invariants hold in
// storage: (source, source_id) is globally unique, and resolved_url is
// unique among rows where it is non-null. Jobs are created only by the
// reconciliation phase and never mutated by the fetch phase.
type Job struct {
	ID           uuid.UUID      `json:"id"`
	Source       string         `json:"source"`
	SourceID     string         `json:"source_id"`
	URL          string         `json:"url"`
	ResolvedURL  *string        `json:"resolved_url,omitempty"`
	Title        string         `json:"title"`
	Company      string         `json:"company"`
	Description  string         `json:"description"`
	Requirements *string        `json:"requirements,omitempty"`
	Location     *string        `json:"location,omitempty"`
	Salary       *string        `json:"salary,omitempty"`
	Tags         []string       `json:"tags"`
	Raw          map[string]any `json:"raw,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
