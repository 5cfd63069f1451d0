package api

import (
	"time"

	"github.com/bfd-etl/pipeline/pkg/jobs"
	"github.com/bfd-etl/pipeline/pkg/jobs/record"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	State     string    `json:"state"`
	Jobs      int       `json:"jobs"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RunResponse represents one completed job run
type RunResponse struct {
	ID         int64     `json:"id"`
	JobType    string    `json:"job_type"`
	StartTime  time.Time `json:"start_time"`
	StopTime   time.Time `json:"stop_time"`
	DurationMs int64     `json:"duration_ms"`
	Outcome    string    `json:"outcome,omitempty"`
	Error      string    `json:"error,omitempty"`
	Summary    string    `json:"summary"`
}

// NewRunResponse converts a run summary
func NewRunResponse(s jobs.RunSummary) RunResponse {
	resp := RunResponse{
		ID:         s.ID(),
		StartTime:  s.StartTime(),
		StopTime:   s.StopTime(),
		DurationMs: s.Duration().Milliseconds(),
		Summary:    s.String(),
	}
	if s.Job() != nil {
		resp.JobType = s.Job().Type().String()
	}
	if outcome, ok := s.Outcome(); ok {
		resp.Outcome = outcome.String()
	}
	if err := s.Err(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// RecordResponse represents a persisted job record
type RecordResponse struct {
	ID         string          `json:"id"`
	JobType    string          `json:"job_type"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	EnqueuedAt *time.Time      `json:"enqueued_at,omitempty"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	EndedAt    *time.Time      `json:"ended_at,omitempty"`
	Outcome    string          `json:"outcome,omitempty"`
	Failure    *record.Failure `json:"failure,omitempty"`
}

// NewRecordResponse converts a job record
func NewRecordResponse(r *record.JobRecord) RecordResponse {
	resp := RecordResponse{
		ID:         r.ID.String(),
		JobType:    r.JobType.String(),
		Status:     string(r.Status),
		CreatedAt:  r.CreatedAt,
		EnqueuedAt: r.EnqueuedAt,
		StartedAt:  r.StartedAt,
		EndedAt:    r.EndedAt,
		Failure:    r.Failure,
	}
	if r.Outcome.Valid() {
		resp.Outcome = r.Outcome.String()
	}
	return resp
}

// Response represents a general API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
	Message string      `json:"message,omitempty"`
}
