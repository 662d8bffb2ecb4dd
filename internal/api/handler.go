package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/schoolcms/internal/db"
	"github.com/lalithlochan/schoolcms/internal/lifecycle"
	"github.com/lalithlochan/schoolcms/internal/metrics"
	"github.com/lalithlochan/schoolcms/internal/scheduler"
)

// NotificationRepository is the read side of the notifications table
type NotificationRepository interface {
	GetNotification(ctx context.Context, id uuid.UUID) (*db.Notification, error)
	ListNotifications(ctx context.Context, typ string, limit, offset int) ([]*db.Notification, error)
}

// JobRunner is the scheduler as seen by operators
type JobRunner interface {
	RunNow(ctx context.Context, job string) (*lifecycle.Report, error)
	Snapshot() []scheduler.Status
}

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger *zap.Logger
	repo   NotificationRepository
	jobs   JobRunner
	health HealthChecker // nil skips the dependency check
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, repo NotificationRepository, jobs JobRunner, health HealthChecker) *Handler {
	return &Handler{
		logger: logger,
		repo:   repo,
		jobs:   jobs,
		health: health,
	}
}

// ListNotifications handles GET /v1/notifications?type=xxx&limit=20&offset=0
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	typ := r.URL.Query().Get("type")
	if typ != "" && !slices.Contains(db.NotificationTypes(), typ) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid type", "unknown notification type: "+typ)
		return
	}

	// Parse pagination parameters with defaults
	limit := 20
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	notifications, err := h.repo.ListNotifications(ctx, typ, limit, offset)
	if err != nil {
		h.logger.Error("failed to list notifications",
			zap.Error(err),
			zap.String("type", typ),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list notifications", "")
		return
	}
	if notifications == nil {
		notifications = []*db.Notification{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":   notifications,
		"limit":  limit,
		"offset": offset,
		"count":  len(notifications),
	})
}

// GetNotification handles GET /v1/notifications/{id}
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "ID must be a valid UUID")
		return
	}

	notif, err := h.repo.GetNotification(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
		return
	}
	if err != nil {
		h.logger.Error("failed to get notification", zap.Error(err), zap.String("id", idStr))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get notification", "")
		return
	}

	h.writeJSON(w, http.StatusOK, notif)
}

// ListJobs handles GET /v1/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": h.jobs.Snapshot(),
	})
}

// RunJob handles POST /v1/jobs/{name}/run. The job runs synchronously and
// the response carries its report.
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	report, err := h.jobs.RunNow(r.Context(), name)
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		h.writeError(w, http.StatusNotFound, "not_found", "Unknown job", name)
		return
	case errors.Is(err, scheduler.ErrJobRunning):
		h.writeError(w, http.StatusConflict, "job_running", "Job is already running", name)
		return
	case err != nil:
		h.logger.Error("manual job run failed", zap.String("job", name), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "job_failed", "Job failed", err.Error())
		return
	}

	metrics.RecordTrigger("api", name)
	h.logger.Info("job run by operator",
		zap.String("job", name),
		zap.String("remote_addr", r.RemoteAddr),
		zap.Int("notified", report.Notified),
	)

	h.writeJSON(w, http.StatusOK, report)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Health(r.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			h.writeError(w, http.StatusServiceUnavailable, "unavailable", "Dependency unreachable", err.Error())
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	writeProblem(w, status, errType, title, detail)
}

func writeProblem(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
