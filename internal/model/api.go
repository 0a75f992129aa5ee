package model

import (
	"fmt"
	"time"
)

// Limits on run request parameters.
const (
	MaxWindowDays = 90
	MaxJobLimit   = 1000
)

// StartRunRequest is the body of POST /api/scraper/run. All fields are
// optional; zero values mean "engine defaults, all enabled sources".
type StartRunRequest struct {
	WindowDays int         `json:"window_days,omitempty"`
	Limit      int         `json:"limit,omitempty"`
	Sources    []string    `json:"sources,omitempty"`
	Trigger    TriggerType `json:"trigger,omitempty"`
}

// Validate checks bounds on the run parameters.
func (r StartRunRequest) Validate() error {
	if r.WindowDays < 0 || r.WindowDays > MaxWindowDays {
		return fmt.Errorf("window_days must be between 0 and %d", MaxWindowDays)
	}
	if r.Limit < 0 || r.Limit > MaxJobLimit {
		return fmt.Errorf("limit must be between 0 and %d", MaxJobLimit)
	}
	switch r.Trigger {
	case "", TriggerManual, TriggerScheduledDaily, TriggerScheduledHourly:
	default:
		return fmt.Errorf("unknown trigger type %q", r.Trigger)
	}
	return nil
}

// RunDetail is a run together with its per-source breakdown.
type RunDetail struct {
	Run
	SourceRuns []SourceRun `json:"source_runs"`
}

// RunListPage is one page of the runs listing, newest first.
type RunListPage struct {
	Runs     []Run `json:"runs"`
	Total    int   `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
}

// SourceStatus is one source as reported by GET /api/sources: the stored
// config joined with registry metadata and credential presence.
type SourceStatus struct {
	SourceConfig
	Registered          bool            `json:"registered"`
	RequiresCredentials bool            `json:"requires_credentials"`
	Credentials         map[string]bool `json:"credentials,omitempty"`
}

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
)
