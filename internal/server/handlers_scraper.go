package server

import (
	"errors"
	"net/http"

	"github.com/vpetreski/zapply/internal/model"
	"github.com/vpetreski/zapply/internal/scraper"
	"github.com/vpetreski/zapply/internal/storage"
)

// HandleStartRun handles POST /api/scraper/run. The run executes in the
// background; the response carries the created run for polling. While
// another run is active this returns 409 rather than queuing.
func (h *Handlers) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	req := model.StartRunRequest{}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req, h.maxRequestBodyBytes); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
			return
		}
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	run, err := h.orchestrator.Start(r.Context(), scraper.Params{
		WindowDays: req.WindowDays,
		Limit:      req.Limit,
		Sources:    req.Sources,
		Trigger:    req.Trigger,
	})
	if err != nil {
		if errors.Is(err, storage.ErrRunInProgress) {
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "a run is already in progress")
			return
		}
		h.writeInternalError(w, r, "failed to start run", err)
		return
	}

	writeJSON(w, r, http.StatusAccepted, run)
}
