// Package model defines the core domain types for Zapply.
//
// All types correspond directly to database tables and API payloads.
// Types use strong typing (UUIDs, time.Time, enums) and avoid
// interface{} wherever possible.
package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of a scraping run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusPartial   RunStatus = "partial"
)

// Run phases, stored as free-form labels on the run row.
const (
	PhaseFetching    = "fetching"
	PhaseReconciling = "reconciling"
	PhaseDone        = "done"
)

// TriggerType records why a run was started.
type TriggerType string

const (
	TriggerManual          TriggerType = "manual"
	TriggerScheduledDaily  TriggerType = "scheduled_daily"
	TriggerScheduledHourly TriggerType = "scheduled_hourly"
)

// Run is one end-to-end orchestration attempt spanning all enabled sources.
// Mutated only by the orchestrator; external callers poll it read-only.
type Run struct {
	ID              uuid.UUID   `json:"id"`
	Status          RunStatus   `json:"status"`
	Phase           string      `json:"phase"`
	TriggerType     TriggerType `json:"trigger_type"`
	Stats           RunStats    `json:"stats"`
	Logs            []LogEntry  `json:"logs"`
	ErrorMessage    *string     `json:"error_message,omitempty"`
	StartedAt       time.Time   `json:"started_at"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	DurationSeconds *float64    `json:"duration_seconds,omitempty"`
}

// SourceRunStatus represents the lifecycle state of one source within a run.
type SourceRunStatus string

const (
	SourceRunPending   SourceRunStatus = "pending"
	SourceRunRunning   SourceRunStatus = "running"
	SourceRunCompleted SourceRunStatus = "completed"
	SourceRunFailed    SourceRunStatus = "failed"
	SourceRunSkipped   SourceRunStatus = "skipped"
)

// SourceRun is one source's contribution to one run. Owned by its parent
// run (cascade delete); exactly one row per enabled source per run.
type SourceRun struct {
	ID              uuid.UUID       `json:"id"`
	RunID           uuid.UUID       `json:"run_id"`
	SourceName      string          `json:"source_name"`
	Status          SourceRunStatus `json:"status"`
	JobsFound       int             `json:"jobs_found"`
	JobsNew         int             `json:"jobs_new"`
	JobsDuplicate   int             `json:"jobs_duplicate"`
	JobsFailed      int             `json:"jobs_failed"`
	Logs            []LogEntry      `json:"logs"`
	ErrorMessage    *string         `json:"error_message,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	DurationSeconds *float64        `json:"duration_seconds,omitempty"`
}

// LogEntry is one timestamped, leveled line in a run or source-run log.
type LogEntry struct {
	Timestamp time.Time `json:"ts"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// NewLogEntry builds a log entry stamped with the current UTC time.
func NewLogEntry(level, message string) LogEntry {
	return LogEntry{Timestamp: time.Now().UTC(), Level: level, Message: message}
}

// RunStats is the aggregate statistics blob stamped onto a run.
// Params echoes the filter parameters the run was started with.
type RunStats struct {
	JobsFound     int            `json:"jobs_found"`
	JobsNew       int            `json:"jobs_new"`
	JobsDuplicate int            `json:"jobs_duplicate"`
	JobsFailed    int            `json:"jobs_failed"`
	Sources       map[string]any `json:"sources,omitempty"`
	Params        map[string]any `json:"params,omitempty"`
}
