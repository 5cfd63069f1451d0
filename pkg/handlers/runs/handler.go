package runs

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/bfd-etl/pipeline/pkg/errors"
	"github.com/bfd-etl/pipeline/pkg/jobs"
	"github.com/bfd-etl/pipeline/pkg/jobs/record"
	"github.com/bfd-etl/pipeline/pkg/logger"
	"github.com/bfd-etl/pipeline/pkg/models/api"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// RunSource provides the retained run history
type RunSource interface {
	CompletedRuns() []jobs.RunSummary
}

// Handler serves run history and job records
type Handler struct {
	runs   RunSource
	store  record.Store
	logger *logger.Logger
}

// NewHandler creates a new runs handler
func NewHandler(runs RunSource, store record.Store, log *logger.Logger) *Handler {
	return &Handler{
		runs:   runs,
		store:  store,
		logger: log,
	}
}

// List handles the /runs endpoint, newest first
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"))
	jobType := r.URL.Query().Get("job")

	history := h.runs.CompletedRuns()
	data := make([]api.RunResponse, 0, limit)
	for i := len(history) - 1; i >= 0 && len(data) < limit; i-- {
		run := history[i]
		if jobType != "" && (run.Job() == nil || run.Job().Type().String() != jobType) {
			continue
		}
		data = append(data, api.NewRunResponse(run))
	}

	h.writeJSON(w, http.StatusOK, api.Response{
		Success: true,
		Data:    data,
		Meta:    map[string]int{"retained": len(history)},
	})
}

// Pending handles the /records/pending endpoint
func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"))

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	records, err := h.store.FindPendingJobs(ctx, limit)
	if err != nil {
		logger.WithContext(r.Context(), "pipeline").Error().
			Err(err).
			Str("action", "find_pending_failed").
			Msg("Failed to find pending job records")
		h.writeJSON(w, http.StatusInternalServerError, api.Response{Message: "Failed to find pending job records"})
		return
	}

	data := make([]api.RecordResponse, 0, len(records))
	for _, rec := range records {
		data = append(data, api.NewRecordResponse(rec))
	}
	h.writeJSON(w, http.StatusOK, api.Response{Success: true, Data: data})
}

// Latest handles the /records/latest endpoint, which requires a job query parameter
func (h *Handler) Latest(w http.ResponseWriter, r *http.Request) {
	jobType := r.URL.Query().Get("job")
	if jobType == "" {
		h.writeJSON(w, http.StatusBadRequest, api.Response{Message: "job query parameter is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	rec, err := h.store.FindMostRecent(ctx, jobs.JobType(jobType))
	switch {
	case errors.Is(err, record.ErrNotFound):
		h.writeJSON(w, http.StatusNotFound, api.Response{Message: "No records for job " + jobType})
		return
	case err != nil:
		logger.WithContext(r.Context(), "pipeline").Error().
			Err(err).
			Str("action", "find_latest_failed").
			Str("job_type", jobType).
			Msg("Failed to find latest job record")
		h.writeJSON(w, http.StatusInternalServerError, api.Response{Message: "Failed to find latest job record"})
		return
	}

	h.writeJSON(w, http.StatusOK, api.Response{Success: true, Data: api.NewRecordResponse(rec)})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body api.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error().
			Err(err).
			Str("action", "encode_response_failed").
			Msg("Failed to encode response")
	}
}

func parseLimit(raw string) int {
	if raw == "" {
		return defaultLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > maxLimit {
		return defaultLimit
	}
	return limit
}
