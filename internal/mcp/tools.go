package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/vpetreski/zapply/internal/model"
	"github.com/vpetreski/zapply/internal/scraper"
	"github.com/vpetreski/zapply/internal/storage"
)

func (s *Server) registerTools() {
	// zapply_run_scraper: start a scraping run across enabled sources.
	s.mcpServer.AddTool(
		mcplib.NewTool("zapply_run_scraper",
			mcplib.WithDescription(`Start a scraping run across all enabled job sources.

The run executes in the background; poll it with zapply_get_run using the
returned run id. Fails with RUN_IN_PROGRESS while another run is active;
wait and retry instead of starting again immediately.`),
			mcplib.WithNumber("window_days",
				mcplib.Description("Only fetch items from the last N days"),
				mcplib.Min(1),
				mcplib.Max(model.MaxWindowDays),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Cap candidates per source (useful for cheap test runs)"),
				mcplib.Min(1),
				mcplib.Max(model.MaxJobLimit),
			),
			mcplib.WithString("sources",
				mcplib.Description("Comma-separated subset of source names; empty means all enabled sources"),
			),
		),
		s.handleRunScraper,
	)

	// zapply_get_run: one run with its per-source breakdown.
	s.mcpServer.AddTool(
		mcplib.NewTool("zapply_get_run",
			mcplib.WithDescription("Get one scraping run by id, including its per-source breakdown and logs."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("run_id",
				mcplib.Description("Run id as returned by zapply_run_scraper or zapply_list_runs"),
				mcplib.Required(),
			),
		),
		s.handleGetRun,
	)

	// zapply_list_runs: recent runs, newest first.
	s.mcpServer.AddTool(
		mcplib.NewTool("zapply_list_runs",
			mcplib.WithDescription("List recent scraping runs, newest first."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("status",
				mcplib.Description("Filter by status: running, completed, failed, or partial"),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum number of runs to return"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(10),
			),
		),
		s.handleListRuns,
	)

	// zapply_list_sources: configured sources in priority order.
	s.mcpServer.AddTool(
		mcplib.NewTool("zapply_list_sources",
			mcplib.WithDescription("List configured job sources in priority order, with enablement and registry state."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
		),
		s.handleListSources,
	)
}

func (s *Server) handleRunScraper(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	params := scraper.Params{
		WindowDays: request.GetInt("window_days", 0),
		Limit:      request.GetInt("limit", 0),
		Trigger:    model.TriggerManual,
	}
	if raw := request.GetString("sources", ""); raw != "" {
		params.Sources = strings.Split(raw, ",")
	}

	run, err := s.orchestrator.Start(ctx, params)
	if err != nil {
		if errors.Is(err, storage.ErrRunInProgress) {
			return errorResult("RUN_IN_PROGRESS: a run is already active"), nil
		}
		return errorResult(fmt.Sprintf("failed to start run: %v", err)), nil
	}
	return jsonResult(run), nil
}

func (s *Server) handleGetRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	raw := request.GetString("run_id", "")
	runID, err := uuid.Parse(raw)
	if err != nil {
		return errorResult(fmt.Sprintf("invalid run_id %q", raw)), nil
	}

	detail, err := s.db.GetRunDetail(ctx, runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errorResult("run not found"), nil
		}
		return errorResult(fmt.Sprintf("failed to load run: %v", err)), nil
	}
	return jsonResult(detail), nil
}

func (s *Server) handleListRuns(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	limit := request.GetInt("limit", 10)
	status := request.GetString("status", "")

	listing, err := s.db.ListRuns(ctx, 1, limit, status, "")
	if err != nil {
		return errorResult(fmt.Sprintf("failed to list runs: %v", err)), nil
	}
	return jsonResult(listing), nil
}

func (s *Server) handleListSources(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	configs, err := s.db.ListSources(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to list sources: %v", err)), nil
	}

	type sourceView struct {
		model.SourceConfig
		Registered bool `json:"registered"`
	}
	views := make([]sourceView, 0, len(configs))
	for _, cfg := range configs {
		views = append(views, sourceView{
			SourceConfig: cfg,
			Registered:   s.registry.Registered(cfg.Name),
		})
	}
	return jsonResult(views), nil
}
