package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/vpetreski/zapply/internal/model"
	"github.com/vpetreski/zapply/internal/scraper"
	"github.com/vpetreski/zapply/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db                  *storage.DB
	orchestrator        *scraper.Orchestrator
	registry            *scraper.Registry
	creds               scraper.CredentialFunc
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	DB                  *storage.DB
	Orchestrator        *scraper.Orchestrator
	Registry            *scraper.Registry
	Creds               scraper.CredentialFunc
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	creds := d.Creds
	if creds == nil {
		creds = func(scraper.Metadata) map[string]string { return nil }
	}
	return &Handlers{
		db:                  d.DB,
		orchestrator:        d.Orchestrator,
		registry:            d.Registry,
		creds:               creds,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := h.db.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
		h.logger.Warn("health check: database ping failed", "error", err)
	}

	writeJSON(w, r, code, map[string]any{
		"status":         status,
		"version":        h.version,
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	})
}

// writeInternalError logs err and writes a generic 500 response.
func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}
