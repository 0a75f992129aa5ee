package scraper

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vpetreski/zapply/internal/model"
)

// SyncStore is the storage surface the startup sync depends on.
type SyncStore interface {
	ListSources(ctx context.Context) ([]model.SourceConfig, error)
	EnsureSource(ctx context.Context, src model.SourceConfig) (bool, error)
}

// SyncResult reports what the startup sync changed and found.
type SyncResult struct {
	// Added are registered sources that got a fresh config row.
	Added []string
	// Orphaned are config rows with no registered fetcher. They are
	// reported, not deleted: the fetcher may return in a later build.
	Orphaned []string
}

// SyncSources aligns the scraper_sources table with the registry: every
// registered source gets a config row (new rows start enabled at the
// default priority), and config rows without a registered fetcher are
// reported as orphans.
func SyncSources(ctx context.Context, store SyncStore, registry *Registry, logger *slog.Logger) (SyncResult, error) {
	var result SyncResult

	existing, err := store.ListSources(ctx)
	if err != nil {
		return result, fmt.Errorf("scraper: sync sources: %w", err)
	}
	configured := make(map[string]bool, len(existing))
	for _, src := range existing {
		configured[src.Name] = true
	}

	for _, name := range registry.Names() {
		if configured[name] {
			continue
		}
		meta, err := registry.Metadata(name)
		if err != nil {
			return result, err
		}
		inserted, err := store.EnsureSource(ctx, model.SourceConfig{
			Name:                 meta.Name,
			Label:                meta.Label,
			Description:          meta.Description,
			Enabled:              true,
			Priority:             100,
			CredentialsEnvPrefix: meta.CredentialsEnvPrefix,
		})
		if err != nil {
			return result, fmt.Errorf("scraper: sync source %q: %w", name, err)
		}
		if inserted {
			result.Added = append(result.Added, name)
			logger.Info("scraper: added source config", "source", name)
		}
	}

	for _, src := range existing {
		if !registry.Registered(src.Name) {
			result.Orphaned = append(result.Orphaned, src.Name)
			logger.Warn("scraper: source config has no registered fetcher", "source", src.Name)
		}
	}

	return result, nil
}
