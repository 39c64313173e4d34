package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/interfaces"
	"github.com/ternarybob/quaero/internal/models"
	"github.com/ternarybob/quaero/internal/reportgen"
	"github.com/ternarybob/quaero/internal/stats"
	"github.com/ternarybob/quaero/internal/validation"
)

// ScanHandler serves the scan lifecycle endpoints: submission, status,
// report, converted-image bundle download, and the merged stats view.
type ScanHandler struct {
	queue     interfaces.FairShareQueue
	jobs      interfaces.ScanJobStore
	images    interfaces.DiscoveredImageStore
	aggregate interfaces.AggregateStatsStore
	bundles   interfaces.ConvertedImageBundleStore
	validator *validation.Validator
	tracker   *stats.Tracker
	logger    arbor.ILogger
}

// NewScanHandler creates a handler over the queue and storage collaborators.
func NewScanHandler(
	queue interfaces.FairShareQueue,
	jobs interfaces.ScanJobStore,
	images interfaces.DiscoveredImageStore,
	aggregate interfaces.AggregateStatsStore,
	bundles interfaces.ConvertedImageBundleStore,
	validator *validation.Validator,
	tracker *stats.Tracker,
	logger arbor.ILogger,
) *ScanHandler {
	return &ScanHandler{
		queue: queue, jobs: jobs, images: images, aggregate: aggregate,
		bundles: bundles, validator: validator, tracker: tracker, logger: logger,
	}
}

type submitRequest struct {
	URL           string `json:"url"`
	Email         string `json:"email,omitempty"`
	ConvertToWebP bool   `json:"convertToWebP,omitempty"`
}

type submitResponse struct {
	ScanID        string `json:"scan_id"`
	QueuePosition int    `json:"queue_position"`
}

// clientIP extracts the submitter's IP for admission bookkeeping, stripping
// any port and preferring X-Forwarded-For's first hop behind a proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

// SubmitHandler handles POST /api/scan.
func (h *ScanHandler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}

	ctx := r.Context()
	if err := h.validator.ValidateSubmission(ctx, req.URL, req.Email); err != nil {
		var verr *validation.ValidationError
		if errors.As(err, &verr) {
			WriteError(w, http.StatusBadRequest, verr.Error())
			return
		}
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := &models.ScanJob{
		ScanID:        uuid.NewString(),
		TargetURL:     req.URL,
		Email:         req.Email,
		Status:        models.ScanStatusQueued,
		SubmitterIP:   clientIP(r),
		ConvertToWebP: req.ConvertToWebP,
		CreatedAt:     time.Now().UTC(),
	}

	enqueued, err := h.queue.Enqueue(ctx, job)
	if err != nil {
		var qerr *interfaces.QueueError
		if errors.As(err, &qerr) {
			switch qerr.Kind {
			case "QueueFull":
				WriteError(w, http.StatusServiceUnavailable, "scan queue is full, try again later")
			case "IpLimit", "Cooldown":
				WriteError(w, http.StatusConflict, qerr.Error())
			default:
				WriteError(w, http.StatusInternalServerError, "failed to admit scan")
			}
			return
		}
		h.logger.Error().Err(err).Msg("failed to enqueue scan job")
		WriteError(w, http.StatusInternalServerError, "failed to admit scan")
		return
	}

	position, _, err := h.queue.PositionOf(ctx, enqueued.ScanID)
	if err != nil {
		h.logger.Warn().Err(err).Str("scan_id", enqueued.ScanID).Msg("failed to compute queue position")
	}

	WriteJSON(w, http.StatusCreated, submitResponse{ScanID: enqueued.ScanID, QueuePosition: position})
}

// scanIDFromPath extracts the {id} segment from /api/scan/{id}/... paths.
func scanIDFromPath(path, suffix string) string {
	trimmed := strings.TrimPrefix(path, "/api/scan/")
	trimmed = strings.TrimSuffix(trimmed, suffix)
	return strings.Trim(trimmed, "/")
}

// StatusHandler handles GET /api/scan/{id}/status.
func (h *ScanHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	scanID := scanIDFromPath(r.URL.Path, "/status")
	job, err := h.jobs.GetScanJob(r.Context(), scanID)
	if err != nil || job == nil {
		WriteError(w, http.StatusNotFound, "scan not found")
		return
	}

	response := map[string]interface{}{
		"scan_id":                job.ScanID,
		"target_url":             job.TargetURL,
		"status":                 job.Status,
		"pages_scanned":          job.PagesScanned,
		"pages_discovered":       job.PagesDiscovered,
		"non_webp_images_found":  job.NonWebPImagesFound,
		"reached_page_limit":     job.ReachedPageLimit,
		"created_at":             job.CreatedAt,
	}
	if job.Status == models.ScanStatusQueued {
		if position, total, err := h.queue.PositionOf(r.Context(), scanID); err == nil {
			response["queue_position"] = position
			response["total_in_queue"] = total
		}
	}
	if job.Status == models.ScanStatusProcessing {
		if snap, ok := h.tracker.Snapshot(scanID); ok {
			response["pages_scanned"] = snap.PagesScanned
			response["pages_discovered"] = snap.PagesDiscovered
		}
	}
	if job.ErrorMessage != "" {
		response["error_message"] = job.ErrorMessage
	}

	WriteJSON(w, http.StatusOK, response)
}

// ReportHandler handles GET /api/scan/{id}/report.
func (h *ScanHandler) ReportHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	scanID := scanIDFromPath(r.URL.Path, "/report")
	job, err := h.jobs.GetScanJob(r.Context(), scanID)
	if err != nil || job == nil {
		WriteError(w, http.StatusNotFound, "scan not found")
		return
	}
	if !job.Status.IsTerminal() {
		WriteError(w, http.StatusConflict, "scan has not finished yet")
		return
	}

	images, err := h.images.ListDiscoveredImagesByScan(r.Context(), scanID)
	if err != nil {
		h.logger.Error().Err(err).Str("scan_id", scanID).Msg("failed to load discovered images for report")
		WriteError(w, http.StatusInternalServerError, "failed to build report")
		return
	}

	report := reportgen.Build(job, images)
	data, err := report.MarshalJSONReport()
	if err != nil {
		h.logger.Error().Err(err).Str("scan_id", scanID).Msg("failed to marshal report")
		WriteError(w, http.StatusInternalServerError, "failed to build report")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+scanID+"-report.json\"")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ImagesHandler handles GET /api/scan/{id}/images, serving the converted
// WebP bundle archive if one exists and has not expired.
func (h *ScanHandler) ImagesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	scanID := scanIDFromPath(r.URL.Path, "/images")
	job, err := h.jobs.GetScanJob(r.Context(), scanID)
	if err != nil || job == nil {
		WriteError(w, http.StatusNotFound, "scan not found")
		return
	}

	bundle, err := h.findBundleForScan(r, scanID)
	if err != nil || bundle == nil {
		WriteError(w, http.StatusNotFound, "no converted image bundle for this scan")
		return
	}
	if time.Now().UTC().After(bundle.ExpiresAt) {
		WriteError(w, http.StatusGone, "converted image bundle has expired")
		return
	}

	http.ServeFile(w, r, bundle.StoragePath)
}

func (h *ScanHandler) findBundleForScan(r *http.Request, scanID string) (*models.ConvertedImageBundle, error) {
	downloadID := r.URL.Query().Get("download_id")
	if downloadID == "" {
		return nil, errors.New("download_id query parameter is required")
	}
	bundle, err := h.bundles.GetBundleByDownloadID(r.Context(), downloadID)
	if err != nil {
		return nil, err
	}
	if bundle == nil || bundle.ScanID != scanID {
		return nil, nil
	}
	return bundle, nil
}

// StatsHandler handles GET /api/scan/stats, merging the durable lifetime
// aggregate with the in-memory live snapshot across active scans.
func (h *ScanHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	agg, err := h.aggregate.GetAggregateStats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load aggregate stats")
		WriteError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	live := h.tracker.CombinedLive()
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"lifetime": agg,
		"live": map[string]interface{}{
			"active_scans":  live.ActiveScans,
			"pages_scanned": live.PagesScanned,
			"images_found":  live.ImagesFound,
		},
	})
}
