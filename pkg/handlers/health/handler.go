package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/bfd-etl/pipeline/pkg/jobs"
	"github.com/bfd-etl/pipeline/pkg/logger"
	"github.com/bfd-etl/pipeline/pkg/models/api"
)

// StatusSource reports the scheduler's lifecycle and failures
type StatusSource interface {
	State() jobs.State
	Err() error
	Jobs() []jobs.Job
}

// Handler handles health check requests
type Handler struct {
	source StatusSource
	logger *logger.Logger
}

// NewHandler creates a new health handler
func NewHandler(source StatusSource, log *logger.Logger) *Handler {
	return &Handler{
		source: source,
		logger: log,
	}
}

// HealthCheck handles the /health endpoint. A failed job makes the
// pipeline unhealthy.
func (h *Handler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	response := api.HealthResponse{
		Status:    "ok",
		State:     h.source.State().String(),
		Jobs:      len(h.source.Jobs()),
		Timestamp: time.Now().UTC(),
	}
	statusCode := http.StatusOK
	if err := h.source.Err(); err != nil {
		response.Status = "failed"
		response.Error = err.Error()
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error().
			Err(err).
			Str("action", "health_check_failed").
			Msg("Failed to encode health response")
	}
}
