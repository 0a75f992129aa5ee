package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpetreski/zapply/internal/scraper"
)

func feedServer(t *testing.T, doc feedDocument) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func item(id string) feedItem {
	return feedItem{
		ID:          id,
		URL:         "https://board.test/jobs/" + id,
		Title:       "Backend Engineer",
		Company:     "Acme",
		Description: "Go services",
		PublishedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

func TestFeedFetcher_ReturnsCandidates(t *testing.T) {
	srv := feedServer(t, feedDocument{Jobs: []feedItem{item("1"), item("2")}})

	f, err := NewFeedFetcher("board", srv.URL, false, nil, nil)
	require.NoError(t, err)

	candidates, stats, err := f.Fetch(context.Background(), scraper.FetchRequest{WindowDays: 7})
	require.NoError(t, err)

	require.Len(t, candidates, 2)
	assert.Equal(t, "board", candidates[0].Source)
	assert.Equal(t, "1", candidates[0].SourceID)
	assert.Equal(t, 2, stats.Scanned)
	assert.Equal(t, 0, stats.Skipped)
}

func TestFeedFetcher_WindowFiltersOldItems(t *testing.T) {
	old := item("old")
	old.PublishedAt = time.Now().UTC().AddDate(0, 0, -30).Format(time.RFC3339)
	srv := feedServer(t, feedDocument{Jobs: []feedItem{item("fresh"), old}})

	f, err := NewFeedFetcher("board", srv.URL, false, nil, nil)
	require.NoError(t, err)

	candidates, stats, err := f.Fetch(context.Background(), scraper.FetchRequest{WindowDays: 7})
	require.NoError(t, err)

	require.Len(t, candidates, 1)
	assert.Equal(t, "fresh", candidates[0].SourceID)
	assert.Equal(t, 1, stats.Skipped)
}

func TestFeedFetcher_LimitCapsCandidates(t *testing.T) {
	srv := feedServer(t, feedDocument{Jobs: []feedItem{item("1"), item("2"), item("3")}})

	f, err := NewFeedFetcher("board", srv.URL, false, nil, nil)
	require.NoError(t, err)

	candidates, _, err := f.Fetch(context.Background(), scraper.FetchRequest{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, candidates, 2)
}

func TestFeedFetcher_SkipsKnownIDs(t *testing.T) {
	srv := feedServer(t, feedDocument{Jobs: []feedItem{item("seen"), item("new")}})

	f, err := NewFeedFetcher("board", srv.URL, false, nil, nil)
	require.NoError(t, err)

	candidates, stats, err := f.Fetch(context.Background(), scraper.FetchRequest{
		KnownIDs: map[string]struct{}{"seen": {}},
	})
	require.NoError(t, err)

	require.Len(t, candidates, 1)
	assert.Equal(t, "new", candidates[0].SourceID)
	assert.Equal(t, 1, stats.Skipped)
}

func TestFeedFetcher_SkipsItemsMissingIdentity(t *testing.T) {
	noID := item("")
	noURL := item("x")
	noURL.URL = ""
	srv := feedServer(t, feedDocument{Jobs: []feedItem{noID, noURL, item("ok")}})

	f, err := NewFeedFetcher("board", srv.URL, false, nil, nil)
	require.NoError(t, err)

	candidates, stats, err := f.Fetch(context.Background(), scraper.FetchRequest{})
	require.NoError(t, err)

	require.Len(t, candidates, 1)
	assert.Equal(t, 2, stats.Skipped)
}

func TestFeedFetcher_SendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(feedDocument{})
	}))
	defer srv.Close()

	f, err := NewFeedFetcher("board", srv.URL, false, map[string]string{"token": "s3cret"}, nil)
	require.NoError(t, err)

	_, _, err = f.Fetch(context.Background(), scraper.FetchRequest{})
	require.NoError(t, err)
	assert.Equal(t, "Bearer s3cret", gotAuth)
}

func TestFeedFetcher_RejectedCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	f, err := NewFeedFetcher("board", srv.URL, false, nil, nil)
	require.NoError(t, err)

	_, _, err = f.Fetch(context.Background(), scraper.FetchRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected credentials")
}

func TestFeedFetcher_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f, err := NewFeedFetcher("board", srv.URL, false, nil, nil)
	require.NoError(t, err)

	_, _, err = f.Fetch(context.Background(), scraper.FetchRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestFeedFetcher_SettingsOverrideFeedURL(t *testing.T) {
	srv := feedServer(t, feedDocument{Jobs: []feedItem{item("1")}})

	f, err := NewFeedFetcher("board", "https://default.test/feed", false, nil, map[string]any{
		"feed_url": srv.URL,
	})
	require.NoError(t, err)

	candidates, _, err := f.Fetch(context.Background(), scraper.FetchRequest{})
	require.NoError(t, err)
	assert.Len(t, candidates, 1)
}

func TestFeedFetcher_NoFeedURL(t *testing.T) {
	_, err := NewFeedFetcher("board", "", false, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no feed_url")
}

func TestFeedFetcher_ResolvesRedirectURLs(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://company.test/careers/42", http.StatusMovedPermanently)
	}))
	defer target.Close()

	job := feedItem{
		ID:      "42",
		URL:     target.URL + "/job/go/42/",
		Title:   "Engineer",
		Company: "Acme",
	}
	srv := feedServer(t, feedDocument{Jobs: []feedItem{job}})

	f, err := NewFeedFetcher("board", srv.URL, true, nil, nil)
	require.NoError(t, err)

	candidates, _, err := f.Fetch(context.Background(), scraper.FetchRequest{})
	require.NoError(t, err)

	require.Len(t, candidates, 1)
	require.NotNil(t, candidates[0].ResolvedURL)
	assert.Equal(t, "https://company.test/careers/42", *candidates[0].ResolvedURL)
}

func TestFeedFetcher_ProgressMessages(t *testing.T) {
	srv := feedServer(t, feedDocument{Jobs: []feedItem{item("1")}})

	f, err := NewFeedFetcher("board", srv.URL, false, nil, nil)
	require.NoError(t, err)

	var messages []string
	_, _, err = f.Fetch(context.Background(), scraper.FetchRequest{
		Progress: func(level, message string) {
			messages = append(messages, fmt.Sprintf("%s: %s", level, message))
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, messages)
	assert.Contains(t, messages[len(messages)-1], "returning 1")
}

func TestRegisterAll(t *testing.T) {
	registry := scraper.NewRegistry()
	require.NoError(t, RegisterAll(registry))

	names := registry.Names()
	assert.Contains(t, names, "working_nomads")
	assert.Contains(t, names, "weworkremotely")
	assert.Contains(t, names, "remotive")

	// Registering twice is a configuration error.
	assert.Error(t, RegisterAll(registry))
}
