package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/vpetreski/zapply/internal/model"
	"github.com/vpetreski/zapply/internal/storage"
)

// HandleListRuns handles GET /api/runs.
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := queryInt(q.Get("page"), 1)
	pageSize := queryInt(q.Get("page_size"), 20)

	listing, err := h.db.ListRuns(r.Context(), page, pageSize, q.Get("status"), q.Get("phase"))
	if err != nil {
		h.writeInternalError(w, r, "failed to list runs", err)
		return
	}
	writeJSON(w, r, http.StatusOK, listing)
}

// HandleLatestRun handles GET /api/runs/latest: the running run if one
// exists, otherwise the most recent one, with a trimmed log tail for
// dashboard polling.
func (h *Handlers) HandleLatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.db.LatestRun(r.Context())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, r, http.StatusOK, nil)
			return
		}
		h.writeInternalError(w, r, "failed to load latest run", err)
		return
	}

	const logTail = 5
	if len(run.Logs) > logTail {
		run.Logs = run.Logs[len(run.Logs)-logTail:]
	}
	writeJSON(w, r, http.StatusOK, run)
}

// HandleGetRun handles GET /api/runs/{run_id}, returning the run with
// its full per-source breakdown and logs.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	detail, err := h.db.GetRunDetail(r.Context(), runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run not found")
			return
		}
		h.writeInternalError(w, r, "failed to load run", err)
		return
	}
	writeJSON(w, r, http.StatusOK, detail)
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("run_id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid run_id: %w", err)
	}
	return id, nil
}

func queryInt(raw string, defaultVal int) int {
	if raw == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return defaultVal
	}
	return n
}
