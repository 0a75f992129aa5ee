package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/vpetreski/zapply/internal/model"
	"github.com/vpetreski/zapply/internal/storage"
)

// DefaultWindowDays bounds fetch recency when the caller does not.
const DefaultWindowDays = 7

var (
	tracer = otel.Tracer("zapply/scraper")
	meter  = otel.GetMeterProvider().Meter("zapply/scraper")
)

// Store is the storage surface the orchestrator depends on. *storage.DB
// implements it; tests substitute an in-memory fake.
type Store interface {
	CreateRun(ctx context.Context, trigger model.TriggerType, params map[string]any) (model.Run, error)
	SetRunPhase(ctx context.Context, id uuid.UUID, phase string) error
	AppendRunLog(ctx context.Context, id uuid.UUID, entry model.LogEntry) error
	FinalizeRun(ctx context.Context, id uuid.UUID, status model.RunStatus, stats model.RunStats, errMsg *string) error

	CreateSourceRun(ctx context.Context, runID uuid.UUID, sourceName string) (model.SourceRun, error)
	StartSourceRun(ctx context.Context, id uuid.UUID) error
	CompleteSourceRun(ctx context.Context, id uuid.UUID, status model.SourceRunStatus, counts storage.SourceRunCounts, errMsg *string) error
	AppendSourceRunLog(ctx context.Context, id uuid.UUID, entry model.LogEntry) error

	ListEnabledSources(ctx context.Context) ([]model.SourceConfig, error)

	JobExists(ctx context.Context, source, sourceID string) (bool, error)
	ListSourceIDs(ctx context.Context, source string) (map[string]struct{}, error)
	ListResolvedURLs(ctx context.Context) (map[string]struct{}, error)
	CreateJob(ctx context.Context, job model.Job) (model.Job, error)
}

// CredentialFunc loads credential values for a source. The engine hands
// them to the fetcher opaquely and never inspects their contents.
type CredentialFunc func(meta Metadata) map[string]string

// Params are the caller-supplied knobs for one run.
type Params struct {
	// WindowDays bounds recency; 0 means DefaultWindowDays.
	WindowDays int
	// Limit caps candidates per source; 0 means unlimited.
	Limit int
	// Sources restricts the run to a subset of enabled sources by
	// name; empty means all enabled sources.
	Sources []string
	// Trigger records why the run started; empty means manual.
	Trigger model.TriggerType
}

// Orchestrator coordinates one multi-source scraping run: a concurrent
// fetch phase followed by a strictly sequential reconciliation phase.
// Reconciliation order is a pure function of source priority and name,
// never of fetch completion order.
type Orchestrator struct {
	base     context.Context
	store    Store
	registry *Registry
	creds    CredentialFunc
	logger   *slog.Logger
}

// New creates an orchestrator. base is the process lifetime context:
// cancelling it aborts in-flight fetch tasks at their next I/O
// checkpoint. Runs started after cancellation fail immediately.
func New(base context.Context, store Store, registry *Registry, creds CredentialFunc, logger *slog.Logger) *Orchestrator {
	if creds == nil {
		creds = func(Metadata) map[string]string { return nil }
	}
	return &Orchestrator{base: base, store: store, registry: registry, creds: creds, logger: logger}
}

// plannedSource is one enabled source's slot in a run.
type plannedSource struct {
	cfg       model.SourceConfig
	meta      Metadata
	factory   Factory
	sourceRun model.SourceRun
	// skipReason marks a source that cannot be attempted (no
	// registered fetcher, missing credentials).
	skipReason string
}

// fetchOutcome is one source's fetch-phase result. Candidates may be
// non-empty even when err is set (partial results).
type fetchOutcome struct {
	candidates []Candidate
	stats      FetchStats
	err        error
	// settled is true when the source run already reached a terminal
	// status during the fetch phase (hard failure, nothing to reconcile).
	settled bool
}

// Start begins a run and executes it in the background. It returns the
// created run immediately; callers poll the run for progress. Returns
// storage.ErrRunInProgress when another run is active.
func (o *Orchestrator) Start(ctx context.Context, params Params) (model.Run, error) {
	run, plan, err := o.begin(ctx, params)
	if err != nil {
		return model.Run{}, err
	}
	go o.execute(o.base, run, plan, params)
	return run, nil
}

// Execute begins a run and drives it to completion synchronously,
// returning the run stamped with its terminal status and statistics.
func (o *Orchestrator) Execute(ctx context.Context, params Params) (model.Run, error) {
	run, plan, err := o.begin(ctx, params)
	if err != nil {
		return model.Run{}, err
	}
	status, stats := o.execute(ctx, run, plan, params)
	run.Status = status
	run.Stats = stats
	return run, nil
}

// begin resolves the enabled sources, creates the run row, and creates
// one pending source run per source.
func (o *Orchestrator) begin(ctx context.Context, params Params) (model.Run, []plannedSource, error) {
	if params.Trigger == "" {
		params.Trigger = model.TriggerManual
	}
	if params.WindowDays <= 0 {
		params.WindowDays = DefaultWindowDays
	}

	sources, err := o.store.ListEnabledSources(ctx)
	if err != nil {
		return model.Run{}, nil, fmt.Errorf("scraper: list enabled sources: %w", err)
	}
	sources = filterSources(sources, params.Sources)
	if len(sources) == 0 {
		return model.Run{}, nil, fmt.Errorf("scraper: no enabled sources to run")
	}

	echo := map[string]any{
		"window_days": params.WindowDays,
		"limit":       params.Limit,
	}
	if len(params.Sources) > 0 {
		echo["sources"] = params.Sources
	}

	run, err := o.store.CreateRun(ctx, params.Trigger, echo)
	if err != nil {
		return model.Run{}, nil, err
	}
	o.logRun(ctx, run.ID, "info", fmt.Sprintf("run started with %d source(s)", len(sources)))

	plan := make([]plannedSource, 0, len(sources))
	for _, cfg := range sources {
		sr, err := o.store.CreateSourceRun(ctx, run.ID, cfg.Name)
		if err != nil {
			err = fmt.Errorf("scraper: create source run for %q: %w", cfg.Name, err)
			o.abortRun(ctx, run, err)
			return model.Run{}, nil, err
		}

		ps := plannedSource{cfg: cfg, sourceRun: sr}
		meta, err := o.registry.Metadata(cfg.Name)
		if err != nil {
			// Orphaned config row: flagged by the startup sync, but a
			// toggle can re-enable one mid-flight. Skip, don't fail.
			ps.skipReason = "no registered fetcher for source"
		} else {
			ps.meta = meta
			ps.factory, _ = o.registry.Resolve(cfg.Name)
			if reason := missingCredentials(meta, o.creds(meta)); reason != "" {
				ps.skipReason = reason
			}
		}
		plan = append(plan, ps)
	}

	return run, plan, nil
}

// abortRun finalizes a run whose setup failed before the fetch phase
// could start. Leaving the row in running status would block every
// later run through the single-running-run constraint, so the abort
// must survive a cancelled caller context.
func (o *Orchestrator) abortRun(ctx context.Context, run model.Run, cause error) {
	fctx := context.WithoutCancel(ctx)
	msg := cause.Error()
	o.logRun(fctx, run.ID, "error", msg)
	if err := o.store.FinalizeRun(fctx, run.ID, model.RunStatusFailed, run.Stats, &msg); err != nil {
		o.logger.Error("scraper: finalize aborted run", "run_id", run.ID, "error", err)
	}
}

// execute drives the fetch and reconciliation phases and finalizes the
// run. It never returns an error: every failure mode ends in a terminal
// run status.
func (o *Orchestrator) execute(ctx context.Context, run model.Run, plan []plannedSource, params Params) (model.RunStatus, model.RunStats) {
	ctx, span := tracer.Start(ctx, "scraper.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("zapply.run_id", run.ID.String()),
		attribute.String("zapply.trigger", string(run.TriggerType)),
		attribute.Int("zapply.sources", len(plan)),
	)

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("run panicked: %v", r)
			o.logger.Error("scraper: run panic", "run_id", run.ID, "panic", r)
			fctx := context.WithoutCancel(ctx)
			o.logRun(fctx, run.ID, "error", msg)
			_ = o.store.FinalizeRun(fctx, run.ID, model.RunStatusFailed, run.Stats, &msg)
		}
	}()

	outcomes := o.fetchPhase(ctx, run, plan, params)

	// Reconciliation is deliberately not cancellable: once started it
	// is fast local work and must leave consistent rows behind.
	rctx := context.WithoutCancel(ctx)
	status, stats := o.reconcilePhase(rctx, run, plan, outcomes)

	var errMsg *string
	if status == model.RunStatusFailed {
		msg := "all sources failed"
		errMsg = &msg
	}
	if err := o.store.FinalizeRun(rctx, run.ID, status, stats, errMsg); err != nil {
		o.logger.Error("scraper: finalize run", "run_id", run.ID, "error", err)
	}
	o.logger.Info("scraper: run finished",
		"run_id", run.ID,
		"status", status,
		"found", stats.JobsFound,
		"new", stats.JobsNew,
		"duplicate", stats.JobsDuplicate,
		"failed", stats.JobsFailed)

	return status, stats
}

// fetchPhase launches one fetch task per non-skipped source and waits
// for every task to settle. A failure in one task never cancels or
// delays the others.
func (o *Orchestrator) fetchPhase(ctx context.Context, run model.Run, plan []plannedSource, params Params) []fetchOutcome {
	ctx, span := tracer.Start(ctx, "scraper.fetch_phase")
	defer span.End()

	o.logRun(ctx, run.ID, "info", "fetch phase started")

	outcomes := make([]fetchOutcome, len(plan))
	g := new(errgroup.Group)

	for i := range plan {
		ps := &plan[i]
		if ps.skipReason != "" {
			o.logSource(ctx, ps.sourceRun.ID, "warn", "skipped: "+ps.skipReason)
			_ = o.store.CompleteSourceRun(ctx, ps.sourceRun.ID, model.SourceRunSkipped, storage.SourceRunCounts{}, &ps.skipReason)
			outcomes[i] = fetchOutcome{settled: true}
			continue
		}

		i := i
		g.Go(func() error {
			outcomes[i] = o.fetchOne(ctx, run, ps, params)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// fetchOne runs a single source's fetch task with full isolation: its
// error or panic is captured into the outcome and the source run row.
func (o *Orchestrator) fetchOne(ctx context.Context, run model.Run, ps *plannedSource, params Params) (out fetchOutcome) {
	ctx, span := tracer.Start(ctx, "scraper.fetch")
	defer span.End()
	span.SetAttributes(attribute.String("zapply.source", ps.cfg.Name))

	// Log/status writes must survive a cancelled fetch.
	logCtx := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			out = fetchOutcome{err: fmt.Errorf("fetcher panicked: %v", r)}
			o.logger.Error("scraper: fetcher panic", "source", ps.cfg.Name, "run_id", run.ID, "panic", r)
		}
		if out.err != nil && len(out.candidates) == 0 {
			// Hard failure with nothing to reconcile: settle now.
			msg := out.err.Error()
			o.logSource(logCtx, ps.sourceRun.ID, "error", "fetch failed: "+msg)
			o.logRun(logCtx, run.ID, "error", fmt.Sprintf("source %s failed: %s", ps.cfg.Name, msg))
			_ = o.store.CompleteSourceRun(logCtx, ps.sourceRun.ID, model.SourceRunFailed, storage.SourceRunCounts{}, &msg)
			out.settled = true
		}
	}()

	if err := o.store.StartSourceRun(ctx, ps.sourceRun.ID); err != nil {
		return fetchOutcome{err: fmt.Errorf("start source run: %w", err)}
	}
	o.logSource(logCtx, ps.sourceRun.ID, "info",
		fmt.Sprintf("fetching (window=%dd, limit=%d)", params.WindowDays, params.Limit))

	knownIDs, err := o.store.ListSourceIDs(ctx, ps.cfg.Name)
	if err != nil {
		// The hint is an optimization only; reconciliation re-checks.
		o.logger.Warn("scraper: list known ids", "source", ps.cfg.Name, "error", err)
		knownIDs = nil
	}

	fetcher, err := ps.factory(o.creds(ps.meta), ps.cfg.Settings)
	if err != nil {
		return fetchOutcome{err: fmt.Errorf("create fetcher: %w", err)}
	}

	candidates, stats, err := fetcher.Fetch(ctx, FetchRequest{
		WindowDays: params.WindowDays,
		Limit:      params.Limit,
		KnownIDs:   knownIDs,
		Progress: func(level, message string) {
			o.logSource(logCtx, ps.sourceRun.ID, level, message)
		},
	})

	o.logSource(logCtx, ps.sourceRun.ID, "info",
		fmt.Sprintf("fetch returned %d candidate(s)", len(candidates)))
	return fetchOutcome{candidates: candidates, stats: stats, err: err}
}

// reconcilePhase walks the fetch outcomes in ascending (priority, name)
// order, never arrival order, and applies the two-level dedup rule to
// each candidate. Single-threaded by construction: persisting
// concurrently would race the cross-source uniqueness check.
func (o *Orchestrator) reconcilePhase(ctx context.Context, run model.Run, plan []plannedSource, outcomes []fetchOutcome) (model.RunStatus, model.RunStats) {
	ctx, span := tracer.Start(ctx, "scraper.reconcile_phase")
	defer span.End()

	if err := o.store.SetRunPhase(ctx, run.ID, model.PhaseReconciling); err != nil {
		o.logger.Warn("scraper: set run phase", "run_id", run.ID, "error", err)
	}
	o.logRun(ctx, run.ID, "info", "reconciliation phase started")

	order := make([]int, 0, len(plan))
	for i := range plan {
		if !outcomes[i].settled || len(outcomes[i].candidates) > 0 {
			order = append(order, i)
		}
	}
	sort.Slice(order, func(a, b int) bool {
		pa, pb := plan[order[a]], plan[order[b]]
		if pa.cfg.Priority != pb.cfg.Priority {
			return pa.cfg.Priority < pb.cfg.Priority
		}
		return pa.cfg.Name < pb.cfg.Name
	})

	seenURLs, err := o.store.ListResolvedURLs(ctx)
	if err != nil {
		// Without the seen-set the cross-source invariant cannot be
		// checked in memory. The unique index would still hold, but
		// attribution by priority would be lost. Fail the run.
		msg := fmt.Sprintf("load resolved URLs: %v", err)
		o.logRun(ctx, run.ID, "error", msg)
		for _, i := range order {
			if !outcomes[i].settled {
				_ = o.store.CompleteSourceRun(ctx, plan[i].sourceRun.ID, model.SourceRunFailed, storage.SourceRunCounts{}, &msg)
			}
		}
		return model.RunStatusFailed, model.RunStats{Params: run.Stats.Params}
	}

	stats := model.RunStats{
		Params:  run.Stats.Params,
		Sources: make(map[string]any, len(plan)),
	}

	for _, i := range order {
		ps, out := plan[i], outcomes[i]
		counts := o.reconcileSource(ctx, ps, out.candidates, seenURLs)

		status := model.SourceRunCompleted
		var errMsg *string
		if out.err != nil {
			// Partial fetch: its candidates were reconciled, but the
			// source still reports its problem, never silently.
			status = model.SourceRunFailed
			msg := out.err.Error()
			errMsg = &msg
		}
		if !out.settled {
			_ = o.store.CompleteSourceRun(ctx, ps.sourceRun.ID, status, counts, errMsg)
		}

		o.logRun(ctx, run.ID, "info", fmt.Sprintf(
			"source %s: %d found, %d new, %d duplicate, %d failed",
			ps.cfg.Name, counts.Found, counts.New, counts.Duplicate, counts.Failed))

		stats.JobsFound += counts.Found
		stats.JobsNew += counts.New
		stats.JobsDuplicate += counts.Duplicate
		stats.JobsFailed += counts.Failed
	}

	var attempted, failed int
	for i := range plan {
		ps, out := plan[i], outcomes[i]
		srcStatus := model.SourceRunCompleted
		switch {
		case ps.skipReason != "":
			srcStatus = model.SourceRunSkipped
		case out.err != nil:
			srcStatus = model.SourceRunFailed
		}
		stats.Sources[ps.cfg.Name] = map[string]any{
			"status": string(srcStatus),
		}
		if srcStatus != model.SourceRunSkipped {
			attempted++
			if srcStatus == model.SourceRunFailed {
				failed++
			}
		}
	}

	o.recordMetrics(ctx, stats)

	switch {
	case attempted > 0 && failed == attempted:
		return model.RunStatusFailed, stats
	case failed > 0:
		return model.RunStatusPartial, stats
	default:
		return model.RunStatusCompleted, stats
	}
}

// reconcileSource classifies one source's candidates in fetcher order.
func (o *Orchestrator) reconcileSource(ctx context.Context, ps plannedSource, candidates []Candidate, seenURLs map[string]struct{}) storage.SourceRunCounts {
	counts := storage.SourceRunCounts{Found: len(candidates)}

	for _, c := range candidates {
		exists, err := o.store.JobExists(ctx, c.Source, c.SourceID)
		if err != nil {
			o.logger.Warn("scraper: job exists check", "source", c.Source, "source_id", c.SourceID, "error", err)
			counts.Failed++
			continue
		}
		if exists {
			counts.Duplicate++
			continue
		}

		if u := resolvedURL(c); u != "" {
			if _, seen := seenURLs[u]; seen {
				counts.Duplicate++
				continue
			}
		}

		if _, err := o.store.CreateJob(ctx, candidateJob(c)); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				// Lost a constraint race: the row exists, which is the
				// outcome dedup wants. Count it as a duplicate.
				counts.Duplicate++
				continue
			}
			o.logger.Warn("scraper: persist job", "source", c.Source, "source_id", c.SourceID, "error", err)
			o.logSource(ctx, ps.sourceRun.ID, "warn",
				fmt.Sprintf("failed to persist %s: %v", c.SourceID, err))
			counts.Failed++
			continue
		}

		if u := resolvedURL(c); u != "" {
			seenURLs[u] = struct{}{}
		}
		counts.New++
	}

	return counts
}

func (o *Orchestrator) recordMetrics(ctx context.Context, stats model.RunStats) {
	record := func(name string, value int) {
		if counter, err := meter.Int64Counter(name); err == nil {
			counter.Add(ctx, int64(value), otelmetric.WithAttributes())
		}
	}
	record("zapply.jobs.found", stats.JobsFound)
	record("zapply.jobs.new", stats.JobsNew)
	record("zapply.jobs.duplicate", stats.JobsDuplicate)
	record("zapply.jobs.failed", stats.JobsFailed)
}

func (o *Orchestrator) logRun(ctx context.Context, id uuid.UUID, level, message string) {
	if err := o.store.AppendRunLog(ctx, id, model.NewLogEntry(level, message)); err != nil {
		o.logger.Warn("scraper: append run log", "run_id", id, "error", err)
	}
}

func (o *Orchestrator) logSource(ctx context.Context, id uuid.UUID, level, message string) {
	if err := o.store.AppendSourceRunLog(ctx, id, model.NewLogEntry(level, message)); err != nil {
		o.logger.Warn("scraper: append source run log", "source_run_id", id, "error", err)
	}
}

// filterSources restricts cfgs to the requested names; empty means all.
func filterSources(cfgs []model.SourceConfig, names []string) []model.SourceConfig {
	if len(names) == 0 {
		return cfgs
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.TrimSpace(n)] = true
	}
	filtered := cfgs[:0]
	for _, cfg := range cfgs {
		if want[cfg.Name] {
			filtered = append(filtered, cfg)
		}
	}
	return filtered
}

// missingCredentials returns a skip reason when a credential-requiring
// source has any required key unset.
func missingCredentials(meta Metadata, creds map[string]string) string {
	if !meta.RequiresCredentials {
		return ""
	}
	var missing []string
	for _, key := range meta.CredentialKeys {
		if creds[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return ""
	}
	return "missing credentials: " + strings.Join(missing, ", ")
}

func resolvedURL(c Candidate) string {
	if c.ResolvedURL == nil {
		return ""
	}
	return *c.ResolvedURL
}

// candidateJob maps a candidate onto the persisted job shape.
func candidateJob(c Candidate) model.Job {
	var resolved *string
	if u := resolvedURL(c); u != "" {
		resolved = &u
	}
	return model.Job{
		Source:       c.Source,
		SourceID:     c.SourceID,
		URL:          c.URL,
		ResolvedURL:  resolved,
		Title:        c.Title,
		Company:      c.Company,
		Description:  c.Description,
		Requirements: c.Requirements,
		Location:     c.Location,
		Salary:       c.Salary,
		Tags:         c.Tags,
		Raw:          c.Raw,
	}
}
