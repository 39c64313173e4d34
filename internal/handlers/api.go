package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/common"
	"github.com/ternarybob/quaero/internal/interfaces"
)

// APIHandler serves the small collection of standalone endpoints that
// aren't part of the scan lifecycle: version, health, 404, and config.
type APIHandler struct {
	logger arbor.ILogger
	jobs   interfaces.ScanJobStore
	mailer interfaces.Mailer
}

// NewAPIHandler creates a handler backed by the job store (for queue/
// processing counts in the health payload) and the mailer (for the
// frontend's emailEnabled flag).
func NewAPIHandler(logger arbor.ILogger, jobs interfaces.ScanJobStore, mailer interfaces.Mailer) *APIHandler {
	return &APIHandler{logger: logger, jobs: jobs, mailer: mailer}
}

// VersionHandler returns version information.
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"version":    common.GetVersion(),
		"build":      common.GetBuild(),
		"git_commit": common.GitCommit,
	})
}

// HealthHandler reports liveness plus a snapshot of queue depth.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	ctx := r.Context()
	queued, err := h.jobs.QueuedCount(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to read queued count for health check")
	}
	processing, err := h.jobs.ProcessingCount(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to read processing count for health check")
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"queued":     queued,
		"processing": processing,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// ConfigHandler reports frontend-relevant server configuration, currently
// just whether SMTP is configured and completion emails can be sent.
func (h *APIHandler) ConfigHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	emailEnabled := false
	if h.mailer != nil {
		emailEnabled = h.mailer.IsConfigured(r.Context())
	}

	WriteJSON(w, http.StatusOK, map[string]bool{
		"emailEnabled": emailEnabled,
	})
}

// NotFoundHandler handles 404 errors with a JSON response.
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
