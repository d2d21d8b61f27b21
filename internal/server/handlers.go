package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/roadsight/holderd/internal/calibration"
	"github.com/roadsight/holderd/internal/engine"
	"github.com/roadsight/holderd/internal/model"
	"github.com/roadsight/holderd/internal/storage"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	store   storage.Store
	engine  *engine.Engine
	calib   *calibration.Tracker
	logger  *slog.Logger
	version string

	maxRequestBodyBytes int64
}

// HandlersDeps holds the dependencies for creating Handlers.
type HandlersDeps struct {
	Store               storage.Store
	Engine              *engine.Engine
	Calib               *calibration.Tracker
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		store:               deps.Store,
		engine:              deps.Engine,
		calib:               deps.Calib,
		logger:              deps.Logger,
		version:             deps.Version,
		maxRequestBodyBytes: deps.MaxRequestBodyBytes,
	}
}

// HandleDecide classifies one subject.
// POST /v1/subjects/{subject_id}/decide?force_refresh=true
func (h *Handlers) HandleDecide(w http.ResponseWriter, r *http.Request) {
	subjectID := r.PathValue("subject_id")
	if subjectID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "subject_id is required")
		return
	}
	forceRefresh := r.URL.Query().Get("force_refresh") == "true"

	d := h.engine.Decide(r.Context(), subjectID, forceRefresh)
	writeJSON(w, r, http.StatusOK, d)
}

// HandleGetSubject returns the stored record for one subject.
// GET /v1/subjects/{subject_id}
func (h *Handlers) HandleGetSubject(w http.ResponseWriter, r *http.Request) {
	subjectID := r.PathValue("subject_id")

	rec, err := h.store.GetAnalysis(r.Context(), subjectID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "subject not found")
		return
	}
	if err != nil {
		h.logger.Error("get subject", "subject_id", subjectID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to load subject")
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

// HandleCorrect applies a human correction to one subject.
// POST /v1/subjects/{subject_id}/corrections
func (h *Handlers) HandleCorrect(w http.ResponseWriter, r *http.Request) {
	subjectID := r.PathValue("subject_id")

	r.Body = http.MaxBytesReader(w, r.Body, h.maxRequestBodyBytes)
	var req model.CorrectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Material == "" || req.Type == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "material and type are required")
		return
	}

	ev, err := h.engine.Correct(r.Context(), subjectID, req.Material, req.Type)
	if err != nil {
		h.logger.Error("apply correction", "subject_id", subjectID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to apply correction")
		return
	}
	writeJSON(w, r, http.StatusCreated, ev)
}

// HandleCalibration returns the confidence calibration report.
// GET /v1/calibration
func (h *Handlers) HandleCalibration(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"bins": h.calib.Report(),
	})
}

// HandleConfusions returns the most frequent correction pairs on one axis.
// GET /v1/calibration/confusions?axis=material|type&limit=n
func (h *Handlers) HandleConfusions(w http.ResponseWriter, r *http.Request) {
	axis := r.URL.Query().Get("axis")
	if axis == "" {
		axis = string(model.AxisMaterial)
	}
	if !model.ValidAxis(axis) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "axis must be material or type")
		return
	}

	limit := 5
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest, "limit must be in [1, 100]")
			return
		}
		limit = n
	}

	tallies, err := h.calib.TopConfusions(r.Context(), model.Axis(axis), limit)
	if err != nil {
		h.logger.Error("top confusions", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to load confusions")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"axis":       axis,
		"confusions": tallies,
	})
}

// HandleTrend returns the direction of recent accuracy.
// GET /v1/calibration/trend
func (h *Handlers) HandleTrend(w http.ResponseWriter, r *http.Request) {
	total, correct := h.calib.Outcomes()
	writeJSON(w, r, http.StatusOK, map[string]any{
		"trend":   h.calib.Trend(),
		"total":   total,
		"correct": correct,
	})
}

// HandleStats returns aggregate store statistics.
// GET /v1/stats
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.Error("store stats", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "failed to load stats")
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

// HandleHealth reports service and database health.
// GET /health
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	overall, dbStatus := "ok", "ok"
	status := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		overall, dbStatus = "degraded", "unreachable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, model.HealthResponse{
		Status:   overall,
		Version:  h.version,
		Database: dbStatus,
	})
}
