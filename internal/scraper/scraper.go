// Package scraper implements the scraping engine: the source registry,
// the fetcher contract every source implements, and the orchestrator
// that fans fetches out concurrently and reconciles their results into
// exactly-once persisted jobs.
package scraper

import (
	"context"
	"errors"
)

// ErrSourceNotFound is returned when a source name has no registered fetcher.
var ErrSourceNotFound = errors.New("scraper: source not found")

// ProgressFunc receives human-readable status text from a fetcher.
// Messages are forwarded verbatim into the source run's log.
type ProgressFunc func(level, message string)

// Candidate is an in-memory, not-yet-persisted item returned by one
// source's fetch. SourceID is unique within the source's namespace only;
// ResolvedURL, when present, is the canonical cross-source identity.
type Candidate struct {
	Source       string
	SourceID     string
	URL          string
	ResolvedURL  *string
	Title        string
	Company      string
	Description  string
	Requirements *string
	Location     *string
	Salary       *string
	Tags         []string
	Raw          map[string]any
}

// FetchStats reports what a fetcher saw before filtering.
type FetchStats struct {
	Scanned int `json:"scanned"`
	Skipped int `json:"skipped"`
}

// FetchRequest carries the parameters of one fetch.
type FetchRequest struct {
	// WindowDays bounds recency: only items from the last N days.
	WindowDays int
	// Limit caps the number of candidates returned; 0 means no cap.
	Limit int
	// KnownIDs is the set of source_ids already persisted for this
	// source. A well-behaved fetcher may skip re-deriving items it
	// would discard anyway; this is a hint, not a correctness
	// requirement, since reconciliation re-checks regardless.
	KnownIDs map[string]struct{}
	// Progress may be nil.
	Progress ProgressFunc
}

// Fetcher is the contract every source implements. A fetcher returns
// partial candidates plus an error for recoverable per-item failures;
// it returns an error (with whatever partial candidates exist) for
// fatal whole-source failures such as a rejected login.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) ([]Candidate, FetchStats, error)
}

// Metadata describes a registered source.
type Metadata struct {
	Name                 string   `json:"name"`
	Label                string   `json:"label"`
	Description          string   `json:"description"`
	RequiresCredentials  bool     `json:"requires_credentials"`
	CredentialKeys       []string `json:"credential_keys,omitempty"`
	CredentialsEnvPrefix string   `json:"credentials_env_prefix,omitempty"`
}

// Factory builds a fetcher from credentials and the source's opaque
// settings bag. Credential values are handed through unmodified; the
// engine never inspects them.
type Factory func(credentials map[string]string, settings map[string]any) (Fetcher, error)
