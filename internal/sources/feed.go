// Package sources registers the fetchers compiled into this build.
//
// Every source is served by the generic feed fetcher: each job board
// exposes (directly or through a proxy) a JSON feed of postings, and
// the per-source differences live entirely in the source's settings
// bag (feed URL, auth scheme, redirect resolution). Site-specific
// extraction stays out of the engine.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vpetreski/zapply/internal/scraper"
)

// feedDocument is the wire shape of a source feed.
type feedDocument struct {
	Jobs []feedItem `json:"jobs"`
}

type feedItem struct {
	ID          string   `json:"id"`
	URL         string   `json:"url"`
	ResolvedURL *string  `json:"resolved_url,omitempty"`
	Title       string   `json:"title"`
	Company     string   `json:"company"`
	Description string   `json:"description"`
	Location    *string  `json:"location,omitempty"`
	Salary      *string  `json:"salary,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	PublishedAt string   `json:"published_at,omitempty"`
}

// FeedFetcher fetches candidates from a JSON feed URL.
type FeedFetcher struct {
	source           string
	feedURL          string
	token            string
	resolveRedirects bool
	client           *http.Client
}

// feedSettings are the recognized keys of a feed source's settings bag.
// Unknown keys are ignored, preserving the bag's opaqueness for
// anything source-side tooling stores there.
type feedSettings struct {
	FeedURL          string `json:"feed_url"`
	ResolveRedirects bool   `json:"resolve_redirects"`
}

// NewFeedFetcher builds a feed fetcher for one source. defaultFeedURL
// applies when the settings bag carries no feed_url override. The
// token, when present, is sent as a bearer credential; its value is
// never logged or inspected.
func NewFeedFetcher(source, defaultFeedURL string, resolveRedirects bool, credentials map[string]string, settings map[string]any) (*FeedFetcher, error) {
	cfg := feedSettings{FeedURL: defaultFeedURL, ResolveRedirects: resolveRedirects}
	if len(settings) > 0 {
		raw, err := json.Marshal(settings)
		if err != nil {
			return nil, fmt.Errorf("sources: %s: encode settings: %w", source, err)
		}
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("sources: %s: decode settings: %w", source, err)
		}
		if cfg.FeedURL == "" {
			cfg.FeedURL = defaultFeedURL
		}
	}
	if cfg.FeedURL == "" {
		return nil, fmt.Errorf("sources: %s: no feed_url configured", source)
	}

	return &FeedFetcher{
		source:           source,
		feedURL:          cfg.FeedURL,
		token:            credentials["token"],
		resolveRedirects: cfg.ResolveRedirects,
		client:           &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Fetch implements scraper.Fetcher.
func (f *FeedFetcher) Fetch(ctx context.Context, req scraper.FetchRequest) ([]scraper.Candidate, scraper.FetchStats, error) {
	progress := req.Progress
	if progress == nil {
		progress = func(string, string) {}
	}

	progress("info", fmt.Sprintf("requesting feed %s", f.feedURL))
	doc, err := f.loadFeed(ctx)
	if err != nil {
		return nil, scraper.FetchStats{}, err
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -req.WindowDays)
	stats := scraper.FetchStats{Scanned: len(doc.Jobs)}
	var candidates []scraper.Candidate

	for _, item := range doc.Jobs {
		if req.Limit > 0 && len(candidates) >= req.Limit {
			break
		}
		if item.ID == "" || item.URL == "" {
			stats.Skipped++
			continue
		}
		if _, known := req.KnownIDs[item.ID]; known {
			stats.Skipped++
			continue
		}
		if req.WindowDays > 0 && item.PublishedAt != "" {
			published, err := time.Parse(time.RFC3339, item.PublishedAt)
			if err == nil && published.Before(cutoff) {
				stats.Skipped++
				continue
			}
		}

		resolved := item.ResolvedURL
		if resolved == nil && f.resolveRedirects {
			if u := scraper.ResolveRedirectURL(ctx, item.URL); u != item.URL {
				resolved = &u
			}
		}

		candidates = append(candidates, scraper.Candidate{
			Source:      f.source,
			SourceID:    item.ID,
			URL:         item.URL,
			ResolvedURL: resolved,
			Title:       item.Title,
			Company:     item.Company,
			Description: item.Description,
			Location:    item.Location,
			Salary:      item.Salary,
			Tags:        item.Tags,
		})
	}

	progress("info", fmt.Sprintf("scanned %d, skipped %d, returning %d",
		stats.Scanned, stats.Skipped, len(candidates)))
	return candidates, stats, nil
}

func (f *FeedFetcher) loadFeed(ctx context.Context) (feedDocument, error) {
	var doc feedDocument

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.feedURL, nil)
	if err != nil {
		return doc, fmt.Errorf("sources: %s: build request: %w", f.source, err)
	}
	req.Header.Set("Accept", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return doc, fmt.Errorf("sources: %s: fetch feed: %w", f.source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return doc, fmt.Errorf("sources: %s: feed rejected credentials (status %d)", f.source, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return doc, fmt.Errorf("sources: %s: feed returned status %d", f.source, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return doc, fmt.Errorf("sources: %s: decode feed: %w", f.source, err)
	}
	return doc, nil
}
