// Package scheduler triggers scraping runs on a fixed cadence.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vpetreski/zapply/internal/model"
	"github.com/vpetreski/zapply/internal/scraper"
	"github.com/vpetreski/zapply/internal/storage"
)

// Runner starts a scraping run and drives it to completion.
// *scraper.Orchestrator implements it.
type Runner interface {
	Execute(ctx context.Context, params scraper.Params) (model.Run, error)
}

// Scheduler fires scheduled runs. A tick that overlaps an in-flight run
// is skipped: RunInProgress is an expected condition here, not an error.
type Scheduler struct {
	runner     Runner
	logger     *slog.Logger
	frequency  string // "manual", "hourly", or "daily"
	dailyHour  int    // UTC hour for daily runs
	windowDays int
	limit      int

	now func() time.Time // stubbed in tests
}

// New creates a scheduler. frequency "manual" produces a scheduler
// whose Run returns immediately.
func New(runner Runner, logger *slog.Logger, frequency string, dailyHour, windowDays, limit int) *Scheduler {
	return &Scheduler{
		runner:     runner,
		logger:     logger,
		frequency:  frequency,
		dailyHour:  dailyHour,
		windowDays: windowDays,
		limit:      limit,
		now:        time.Now,
	}
}

// Run blocks, firing runs on schedule until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if s.frequency == "manual" {
		return
	}
	s.logger.Info("scheduler started", "frequency", s.frequency)

	for {
		next := s.Next(s.now().UTC())
		timer := time.NewTimer(next.Sub(s.now().UTC()))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return
		case <-timer.C:
		}
		s.fire(ctx)
	}
}

// Next returns the next firing time strictly after now.
func (s *Scheduler) Next(now time.Time) time.Time {
	switch s.frequency {
	case "hourly":
		return now.Truncate(time.Hour).Add(time.Hour)
	case "daily":
		next := time.Date(now.Year(), now.Month(), now.Day(), s.dailyHour, 0, 0, 0, time.UTC)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	default:
		// Unreachable for a validated config; fire far in the future.
		return now.AddDate(1, 0, 0)
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	trigger := model.TriggerScheduledDaily
	if s.frequency == "hourly" {
		trigger = model.TriggerScheduledHourly
	}

	run, err := s.runner.Execute(ctx, scraper.Params{
		WindowDays: s.windowDays,
		Limit:      s.limit,
		Trigger:    trigger,
	})
	switch {
	case errors.Is(err, storage.ErrRunInProgress):
		s.logger.Info("scheduled run skipped: run already in progress", "trigger", trigger)
	case err != nil:
		s.logger.Error("scheduled run failed to start", "trigger", trigger, "error", err)
	default:
		s.logger.Info("scheduled run finished",
			"trigger", trigger, "run_id", run.ID, "status", run.Status)
	}
}
