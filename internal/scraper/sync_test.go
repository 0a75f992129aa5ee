package scraper_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpetreski/zapply/internal/model"
	"github.com/vpetreski/zapply/internal/scraper"
	"github.com/vpetreski/zapply/internal/testutil"
)

type fakeSyncStore struct {
	existing []model.SourceConfig
	ensured  []model.SourceConfig
}

func (s *fakeSyncStore) ListSources(ctx context.Context) ([]model.SourceConfig, error) {
	return s.existing, nil
}

func (s *fakeSyncStore) EnsureSource(ctx context.Context, src model.SourceConfig) (bool, error) {
	s.ensured = append(s.ensured, src)
	return true, nil
}

func TestSyncSources_AddsMissingConfigs(t *testing.T) {
	registry := scraper.NewRegistry()
	require.NoError(t, registry.Register(scraper.Metadata{
		Name:                 "alpha",
		Label:                "Alpha Jobs",
		CredentialsEnvPrefix: "ALPHA",
	}, stubFactory(stubFetcher{})))
	require.NoError(t, registry.Register(scraper.Metadata{Name: "beta"}, stubFactory(stubFetcher{})))

	store := &fakeSyncStore{existing: []model.SourceConfig{{Name: "beta", Enabled: true}}}

	result, err := scraper.SyncSources(context.Background(), store, registry, testutil.TestLogger())
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha"}, result.Added)
	require.Len(t, store.ensured, 1)
	added := store.ensured[0]
	assert.Equal(t, "alpha", added.Name)
	assert.Equal(t, "Alpha Jobs", added.Label)
	assert.Equal(t, "ALPHA", added.CredentialsEnvPrefix)
	assert.True(t, added.Enabled, "new configs start enabled")
	assert.Equal(t, 100, added.Priority)
}

func TestSyncSources_ReportsOrphans(t *testing.T) {
	registry := scraper.NewRegistry()
	store := &fakeSyncStore{existing: []model.SourceConfig{{Name: "retired", Enabled: true}}}

	result, err := scraper.SyncSources(context.Background(), store, registry, testutil.TestLogger())
	require.NoError(t, err)

	assert.Equal(t, []string{"retired"}, result.Orphaned)
	assert.Empty(t, store.ensured, "orphans are reported, never deleted")
}

func TestSyncSources_NoChanges(t *testing.T) {
	registry := scraper.NewRegistry()
	require.NoError(t, registry.Register(scraper.Metadata{Name: "alpha"}, stubFactory(stubFetcher{})))
	store := &fakeSyncStore{existing: []model.SourceConfig{{Name: "alpha", Enabled: true}}}

	result, err := scraper.SyncSources(context.Background(), store, registry, testutil.TestLogger())
	require.NoError(t, err)

	assert.Empty(t, result.Added)
	assert.Empty(t, result.Orphaned)
}
