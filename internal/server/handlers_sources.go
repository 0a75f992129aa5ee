package server

import (
	"errors"
	"net/http"

	"github.com/vpetreski/zapply/internal/model"
	"github.com/vpetreski/zapply/internal/storage"
)

// HandleListSources handles GET /api/sources: every configured source
// in priority order, joined with registry metadata and which credential
// keys are present in the environment (presence only, never values).
func (h *Handlers) HandleListSources(w http.ResponseWriter, r *http.Request) {
	configs, err := h.db.ListSources(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "failed to list sources", err)
		return
	}

	statuses := make([]model.SourceStatus, 0, len(configs))
	for _, cfg := range configs {
		status := model.SourceStatus{SourceConfig: cfg}
		if meta, err := h.registry.Metadata(cfg.Name); err == nil {
			status.Registered = true
			status.RequiresCredentials = meta.RequiresCredentials
			if len(meta.CredentialKeys) > 0 {
				values := h.creds(meta)
				status.Credentials = make(map[string]bool, len(meta.CredentialKeys))
				for _, key := range meta.CredentialKeys {
					status.Credentials[key] = values[key] != ""
				}
			}
		}
		statuses = append(statuses, status)
	}

	writeJSON(w, r, http.StatusOK, statuses)
}

// HandleUpdateSource handles PATCH /api/sources/{name}.
func (h *Handlers) HandleUpdateSource(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var upd model.SourceConfigUpdate
	if err := decodeJSON(r, &upd, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	src, err := h.db.UpdateSource(r.Context(), name, upd)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "source not found")
			return
		}
		h.writeInternalError(w, r, "failed to update source", err)
		return
	}
	writeJSON(w, r, http.StatusOK, src)
}
