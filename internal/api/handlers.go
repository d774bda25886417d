package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/listing-scraper/internal/database"
	"github.com/maltedev/listing-scraper/internal/export"
	"github.com/maltedev/listing-scraper/internal/jobs"
	"github.com/maltedev/listing-scraper/internal/queue"
	"github.com/maltedev/listing-scraper/internal/scraper"
	"github.com/maltedev/listing-scraper/internal/stats"
)

// JobService is the part of *jobs.Manager the handlers use.
type JobService interface {
	Submit(query string, maxPages, priority int) (*jobs.Job, error)
	Get(id string) (*jobs.Job, error)
	List() []jobs.Job
	Session(id string) (*scraper.Session, error)
	Pending() int
}

// RunStore lists persisted runs.
type RunStore interface {
	RecentRuns(ctx context.Context, limit int) ([]database.Run, error)
}

// OutboxStatus reports the event delivery backlog.
type OutboxStatus interface {
	Backlog(ctx context.Context) (pending, deadLetter int64, err error)
}

const (
	outboxPendingWarning = 1000
	deadLetterError      = 100
	defaultRunsLimit     = 20
	maxRunsLimit         = 200
)

type Handlers struct {
	jobs   JobService
	runs   RunStore
	outbox OutboxStatus
	logger *slog.Logger
}

// NewHandlers wires the handlers. runs and outbox may be nil when the
// database is disabled.
func NewHandlers(jobs JobService, runs RunStore, outbox OutboxStatus, logger *slog.Logger) *Handlers {
	return &Handlers{
		jobs:   jobs,
		runs:   runs,
		outbox: outbox,
		logger: logger.With("component", "api"),
	}
}

// CreateSearchRequest is the body of POST /api/v1/searches.
type CreateSearchRequest struct {
	Query    string `json:"query"`
	MaxPages int    `json:"max_pages"`
	Priority int    `json:"priority"`
}

// CreateSearch queues a search and answers 202 with the pending job.
func (h *Handlers) CreateSearch(w http.ResponseWriter, r *http.Request) {
	var req CreateSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.jobs.Submit(req.Query, req.MaxPages, req.Priority)
	switch {
	case err == nil:
	case errors.Is(err, jobs.ErrEmptyQuery):
		h.respondError(w, http.StatusBadRequest, "query is required")
		return
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrQueueClosed):
		h.respondError(w, http.StatusServiceUnavailable, "search queue unavailable")
		return
	default:
		h.logger.Error("failed to create job", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	w.Header().Set("Location", "/api/v1/searches/"+job.ID)
	h.respondJSON(w, http.StatusAccepted, job)
}

func (h *Handlers) ListSearches(w http.ResponseWriter, r *http.Request) {
	list := h.jobs.List()
	h.respondJSON(w, http.StatusOK, map[string]any{
		"jobs":    list,
		"total":   len(list),
		"pending": h.jobs.Pending(),
	})
}

func (h *Handlers) GetSearch(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		h.respondJobError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, job)
}

func (h *Handlers) GetRecords(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	session, err := h.jobs.Session(jobID)
	if err != nil {
		h.respondJobError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"job_id":      jobID,
		"session_id":  session.ID,
		"stop_reason": session.Stop,
		"count":       len(session.Records),
		"records":     session.Records,
	})
}

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	session, err := h.jobs.Session(chi.URLParam(r, "jobID"))
	if err != nil {
		h.respondJobError(w, err)
		return
	}

	summary, err := stats.Summarize(session.Records)
	if errors.Is(err, stats.ErrNoRecords) {
		h.respondError(w, http.StatusUnprocessableEntity, "search returned no records")
		return
	}
	if err != nil {
		h.logger.Error("failed to summarize records", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to summarize records")
		return
	}

	h.respondJSON(w, http.StatusOK, summary)
}

// ExportCSV streams the records in the same layout as the CSV file export.
func (h *Handlers) ExportCSV(w http.ResponseWriter, r *http.Request) {
	session, err := h.jobs.Session(chi.URLParam(r, "jobID"))
	if err != nil {
		h.respondJobError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="daraz_products.csv"`)
	w.WriteHeader(http.StatusOK)
	if err := export.WriteCSV(w, session.Records); err != nil {
		h.logger.Error("failed to stream csv", "session", session.ID, "error", err)
	}
}

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.respondError(w, http.StatusNotImplemented, "run history requires the database")
		return
	}

	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := h.runs.RecentRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"total": len(runs),
	})
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":       "ok",
		"jobs_pending": h.jobs.Pending(),
	}
	status := http.StatusOK

	if h.outbox != nil {
		pending, deadLetter, err := h.outbox.Backlog(r.Context())
		if err != nil {
			h.logger.Warn("failed to read outbox backlog", "error", err)
			health["status"] = "error"
			health["message"] = "database unreachable"
			h.respondJSON(w, http.StatusServiceUnavailable, health)
			return
		}

		health["outbox"] = map[string]any{
			"pending":     pending,
			"dead_letter": deadLetter,
		}
		if pending > outboxPendingWarning {
			health["status"] = "warning"
			health["message"] = "high number of pending outbox events"
		}
		if deadLetter > deadLetterError {
			health["status"] = "error"
			health["message"] = "high number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) respondJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		h.respondError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, jobs.ErrJobNotFinished):
		h.respondError(w, http.StatusConflict, "job not finished")
	case errors.Is(err, jobs.ErrNoSession):
		h.respondError(w, http.StatusConflict, "job ended before searching")
	default:
		h.logger.Error("job lookup failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "job lookup failed")
	}
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
