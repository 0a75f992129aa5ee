package storage_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpetreski/zapply/internal/model"
	"github.com/vpetreski/zapply/internal/storage"
	"github.com/vpetreski/zapply/internal/testutil"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		tc.Terminate()
		panic(err)
	}
	code := m.Run()
	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

// resetTables clears all run and job state between tests.
func resetTables(t *testing.T) {
	t.Helper()
	_, err := testDB.Pool().Exec(context.Background(),
		`TRUNCATE runs, source_runs, jobs, scraper_sources CASCADE`)
	require.NoError(t, err)
}

func ptr[T any](v T) *T { return &v }

func testJob(source, sourceID string, resolved *string) model.Job {
	return model.Job{
		Source:      source,
		SourceID:    sourceID,
		URL:         "https://" + source + ".test/" + sourceID,
		ResolvedURL: resolved,
		Title:       "Backend Engineer",
		Company:     "Acme",
		Description: "Go services",
		Tags:        []string{"go", "remote"},
	}
}

// ---- runs -----------------------------------------------------------------

func TestCreateRunEnforcesSingleRunning(t *testing.T) {
	resetTables(t)
	ctx := context.Background()

	run, err := testDB.CreateRun(ctx, model.TriggerManual, map[string]any{"window_days": 7})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.Equal(t, model.PhaseFetching, run.Phase)

	_, err = testDB.CreateRun(ctx, model.TriggerManual, nil)
	assert.ErrorIs(t, err, storage.ErrRunInProgress)

	require.NoError(t, testDB.FinalizeRun(ctx, run.ID, model.RunStatusCompleted, model.RunStats{}, nil))

	_, err = testDB.CreateRun(ctx, model.TriggerScheduledDaily, nil)
	assert.NoError(t, err, "a finalized run frees the slot")
}

func TestFinalizeRunIdempotent(t *testing.T) {
	resetTables(t)
	ctx := context.Background()

	run, err := testDB.CreateRun(ctx, model.TriggerManual, nil)
	require.NoError(t, err)

	stats := model.RunStats{JobsFound: 3, JobsNew: 2, JobsDuplicate: 1}
	require.NoError(t, testDB.FinalizeRun(ctx, run.ID, model.RunStatusPartial, stats, ptr("one source failed")))

	// A second finalize must not overwrite the terminal state.
	err = testDB.FinalizeRun(ctx, run.ID, model.RunStatusCompleted, model.RunStats{}, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	got, err := testDB.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusPartial, got.Status)
	assert.Equal(t, model.PhaseDone, got.Phase)
	assert.Equal(t, 2, got.Stats.JobsNew)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "one source failed", *got.ErrorMessage)
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.DurationSeconds)
	assert.GreaterOrEqual(t, *got.DurationSeconds, 0.0)
}

func TestAppendRunLogPreservesOrder(t *testing.T) {
	resetTables(t)
	ctx := context.Background()

	run, err := testDB.CreateRun(ctx, model.TriggerManual, nil)
	require.NoError(t, err)

	for _, msg := range []string{"first", "second", "third"} {
		require.NoError(t, testDB.AppendRunLog(ctx, run.ID, model.NewLogEntry("info", msg)))
	}

	got, err := testDB.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got.Logs, 3)
	assert.Equal(t, "first", got.Logs[0].Message)
	assert.Equal(t, "second", got.Logs[1].Message)
	assert.Equal(t, "third", got.Logs[2].Message)
}

func TestSetRunPhase(t *testing.T) {
	resetTables(t)
	ctx := context.Background()

	run, err := testDB.CreateRun(ctx, model.TriggerManual, nil)
	require.NoError(t, err)

	require.NoError(t, testDB.SetRunPhase(ctx, run.ID, model.PhaseReconciling))
	got, err := testDB.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseReconciling, got.Phase)

	// Terminal runs are immutable.
	require.NoError(t, testDB.FinalizeRun(ctx, run.ID, model.RunStatusCompleted, model.RunStats{}, nil))
	assert.ErrorIs(t, testDB.SetRunPhase(ctx, run.ID, model.PhaseFetching), storage.ErrNotFound)
}

func TestGetRunNotFound(t *testing.T) {
	resetTables(t)
	_, err := testDB.GetRun(context.Background(), uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLatestRunPrefersRunning(t *testing.T) {
	resetTables(t)
	ctx := context.Background()

	old, err := testDB.CreateRun(ctx, model.TriggerManual, nil)
	require.NoError(t, err)
	require.NoError(t, testDB.FinalizeRun(ctx, old.ID, model.RunStatusCompleted, model.RunStats{}, nil))

	current, err := testDB.CreateRun(ctx, model.TriggerManual, nil)
	require.NoError(t, err)

	got, err := testDB.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, current.ID, got.ID)
}

func TestLatestRunEmpty(t *testing.T) {
	resetTables(t)
	_, err := testDB.LatestRun(context.Background())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListRunsFiltersAndPaginates(t *testing.T) {
	resetTables(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		run, err := testDB.CreateRun(ctx, model.TriggerManual, nil)
		require.NoError(t, err)
		status := model.RunStatusCompleted
		if i == 0 {
			status = model.RunStatusFailed
		}
		require.NoError(t, testDB.FinalizeRun(ctx, run.ID, status, model.RunStats{}, nil))
	}

	page, err := testDB.ListRuns(ctx, 1, 2, "", "")
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Runs, 2)

	failed, err := testDB.ListRuns(ctx, 1, 10, "failed", "")
	require.NoError(t, err)
	assert.Equal(t, 1, failed.Total)
	require.Len(t, failed.Runs, 1)
	assert.Equal(t, model.RunStatusFailed, failed.Runs[0].Status)
}

// ---- source runs ----------------------------------------------------------

func TestSourceRunLifecycle(t *testing.T) {
	resetTables(t)
	ctx := context.Background()

	run, err := testDB.CreateRun(ctx, model.TriggerManual, nil)
	require.NoError(t, err)

	sr, err := testDB.CreateSourceRun(ctx, run.ID, "remotive")
	require.NoError(t, err)
	assert.Equal(t, model.SourceRunPending, sr.Status)

	require.NoError(t, testDB.StartSourceRun(ctx, sr.ID))
	require.NoError(t, testDB.AppendSourceRunLog(ctx, sr.ID, model.NewLogEntry("info", "fetching")))

	counts := storage.SourceRunCounts{Found: 5, New: 3, Duplicate: 2}
	require.NoError(t, testDB.CompleteSourceRun(ctx, sr.ID, model.SourceRunCompleted, counts, nil))

	list, err := testDB.ListSourceRuns(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	got := list[0]
	assert.Equal(t, model.SourceRunCompleted, got.Status)
	assert.Equal(t, 5, got.JobsFound)
	assert.Equal(t, 3, got.JobsNew)
	assert.Equal(t, 2, got.JobsDuplicate)
	require.Len(t, got.Logs, 1)
	assert.Equal(t, "fetching", got.Logs[0].Message)
	require.NotNil(t, got.CompletedAt)
}

func TestSourceRunsOrderedByName(t *testing.T) {
	resetTables(t)
	ctx := context.Background()

	run, err := testDB.CreateRun(ctx, model.TriggerManual, nil)
	require.NoError(t, err)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		_, err := testDB.CreateSourceRun(ctx, run.ID, name)
		require.NoError(t, err)
	}

	list, err := testDB.ListSourceRuns(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].SourceName)
	assert.Equal(t, "mid", list[1].SourceName)
	assert.Equal(t, "zeta", list[2].SourceName)
}

// ---- jobs -----------------------------------------------------------------

func TestCreateJobRejectsDuplicateSourceID(t *testing.T) {
	resetTables(t)
	ctx := context.Background()

	_, err := testDB.CreateJob(ctx, testJob("remotive", "r-1", nil))
	require.NoError(t, err)

	_, err = testDB.CreateJob(ctx, testJob("remotive", "r-1", nil))
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	// Same id under a different source namespace is a distinct job.
	_, err = testDB.CreateJob(ctx, testJob("himalayas", "r-1", nil))
	assert.NoError(t, err)
}

func TestCreateJobRejectsDuplicateResolvedURL(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	shared := "https://company.test/careers/42"

	_, err := testDB.CreateJob(ctx, testJob("remotive", "r-1", ptr(shared)))
	require.NoError(t, err)

	_, err = testDB.CreateJob(ctx, testJob("himalayas", "h-1", ptr(shared)))
	assert.ErrorIs(t, err, storage.ErrDuplicate)
}

func TestCreateJobNullResolvedURLsCoexist(t *testing.T) {
	resetTables(t)
	ctx := context.Background()

	_, err := testDB.CreateJob(ctx, testJob("remotive", "r-1", nil))
	require.NoError(t, err)
	_, err = testDB.CreateJob(ctx, testJob("himalayas", "h-1", nil))
	assert.NoError(t, err, "the partial index ignores null resolved urls")
}

func TestJobLookups(t *testing.T) {
	resetTables(t)
	ctx := context.Background()

	_, err := testDB.CreateJob(ctx, testJob("remotive", "r-1", ptr("https://a.test/1")))
	require.NoError(t, err)
	_, err = testDB.CreateJob(ctx, testJob("remotive", "r-2", nil))
	require.NoError(t, err)

	exists, err := testDB.JobExists(ctx, "remotive", "r-1")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = testDB.JobExists(ctx, "remotive", "r-99")
	require.NoError(t, err)
	assert.False(t, exists)

	ids, err := testDB.ListSourceIDs(ctx, "remotive")
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	_, ok := ids["r-1"]
	assert.True(t, ok)

	urls, err := testDB.ListResolvedURLs(ctx)
	require.NoError(t, err)
	assert.Len(t, urls, 1, "null resolved urls stay out of the seen-set")

	count, err := testDB.CountJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	job, err := testDB.GetJob(ctx, "remotive", "r-1")
	require.NoError(t, err)
	assert.Equal(t, "Backend Engineer", job.Title)
	assert.Equal(t, []string{"go", "remote"}, job.Tags)

	_, err = testDB.GetJob(ctx, "remotive", "r-99")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// ---- source configs -------------------------------------------------------

func TestEnsureSourceIdempotent(t *testing.T) {
	resetTables(t)
	ctx := context.Background()

	cfg := model.SourceConfig{Name: "remotive", Label: "Remotive", Enabled: true, Priority: 10}
	inserted, err := testDB.EnsureSource(ctx, cfg)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = testDB.EnsureSource(ctx, model.SourceConfig{Name: "remotive", Priority: 99})
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := testDB.GetSource(ctx, "remotive")
	require.NoError(t, err)
	assert.Equal(t, 10, got.Priority, "ensure never overwrites an existing row")
}

func TestUpdateSourcePartial(t *testing.T) {
	resetTables(t)
	ctx := context.Background()

	_, err := testDB.EnsureSource(ctx, model.SourceConfig{Name: "remotive", Enabled: true, Priority: 10})
	require.NoError(t, err)

	got, err := testDB.UpdateSource(ctx, "remotive", model.SourceConfigUpdate{Enabled: ptr(false)})
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, 10, got.Priority, "unset fields stay unchanged")

	got, err = testDB.UpdateSource(ctx, "remotive", model.SourceConfigUpdate{Priority: ptr(5)})
	require.NoError(t, err)
	assert.Equal(t, 5, got.Priority)
	assert.False(t, got.Enabled)

	_, err = testDB.UpdateSource(ctx, "missing", model.SourceConfigUpdate{Enabled: ptr(true)})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListEnabledSourcesOrderedByPriority(t *testing.T) {
	resetTables(t)
	ctx := context.Background()

	for _, cfg := range []model.SourceConfig{
		{Name: "low", Enabled: true, Priority: 30},
		{Name: "beta", Enabled: true, Priority: 10},
		{Name: "alpha", Enabled: true, Priority: 10},
		{Name: "off", Enabled: false, Priority: 1},
	} {
		_, err := testDB.EnsureSource(ctx, cfg)
		require.NoError(t, err)
	}

	enabled, err := testDB.ListEnabledSources(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 3)
	assert.Equal(t, "alpha", enabled[0].Name, "priority ties break by name")
	assert.Equal(t, "beta", enabled[1].Name)
	assert.Equal(t, "low", enabled[2].Name)

	all, err := testDB.ListSources(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}
