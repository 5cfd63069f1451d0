package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type contextKey string

const LoggerKey contextKey = "logger"

var (
	output      io.Writer = os.Stdout
	environment           = getEnv("ENVIRONMENT", "development")
)

type Logger struct {
	*zerolog.Logger
}

// New creates a new logger instance with service context
func New(service string) *Logger {
	return NewWithWriter(service, output)
}

// NewWithWriter creates a service logger writing JSON to w
func NewWithWriter(service string, w io.Writer) *Logger {
	hostname, _ := os.Hostname()

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFieldName = "@timestamp" // ELK compatible

	logger := zerolog.New(w).
		With().
		Timestamp().
		Str("service", service).
		Str("hostname", hostname).
		Str("environment", environment).
		Str("version", getEnv("SERVICE_VERSION", "unknown")).
		Logger()

	return &Logger{&logger}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	logger := zerolog.Nop()
	return &Logger{&logger}
}

// WithContext returns a logger from context or creates a new one
func WithContext(ctx context.Context, service string) *Logger {
	if logger, ok := ctx.Value(LoggerKey).(*Logger); ok {
		return logger
	}
	return New(service)
}

// ToContext adds logger to context
func (l *Logger) ToContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, LoggerKey, l)
}

// WithRequestID adds request/correlation ID for tracing
func (l *Logger) WithRequestID(requestID string) *Logger {
	logger := l.Logger.With().Str("request_id", requestID).Logger()
	return &Logger{&logger}
}

// WithJob adds job context for pipeline jobs
func (l *Logger) WithJob(jobType string) *Logger {
	logger := l.Logger.With().
		Str("job_type", jobType).
		Logger()
	return &Logger{&logger}
}

// WithRunID adds the tracker-assigned run id
func (l *Logger) WithRunID(runID int64) *Logger {
	logger := l.Logger.With().Int64("run_id", runID).Logger()
	return &Logger{&logger}
}

// WithRecord adds the persisted job record id
func (l *Logger) WithRecord(recordID string) *Logger {
	logger := l.Logger.With().Str("record_id", recordID).Logger()
	return &Logger{&logger}
}

// LogJobStart logs job execution start
func (l *Logger) LogJobStart(jobType string, schedule string, interruptible bool) {
	l.Info().
		Str("action", "job_start").
		Str("job_type", jobType).
		Str("schedule", schedule).
		Bool("interruptible", interruptible).
		Msg("Starting job runner")
}

// LogJobComplete logs runner termination
func (l *Logger) LogJobComplete(jobType string, reason string, err error) {
	event := l.Info()
	if err != nil {
		event = l.Error().Err(err)
	}

	event.
		Str("action", "job_complete").
		Str("job_type", jobType).
		Str("reason", reason).
		Bool("has_errors", err != nil).
		Msg("Job runner stopping")
}

// LogRunSummary logs one completed run. summary is the rendered run
// summary so log scrapers can match it.
func (l *Logger) LogRunSummary(jobType string, runID int64, outcome string, duration time.Duration, err error, summary string) {
	event := l.Info()
	if err != nil {
		event = l.Error().Err(err)
	}

	event.
		Str("action", "job_run").
		Str("job_type", jobType).
		Int64("run_id", runID).
		Str("outcome", outcome).
		Dur("duration", duration).
		Bool("success", err == nil).
		Msg(summary)
}

// LogRecordTransition logs a job record status change
func (l *Logger) LogRecordTransition(recordID string, jobType string, status string, err error) {
	event := l.Debug()
	if err != nil {
		event = l.Error().Err(err)
	}

	event.
		Str("action", "record_transition").
		Str("record_id", recordID).
		Str("job_type", jobType).
		Str("status", status).
		Bool("success", err == nil).
		Msg("Job record transition")
}

// LogDatabaseOperation logs database operations
func (l *Logger) LogDatabaseOperation(operation string, table string, affectedRows int64, duration time.Duration, err error) {
	event := l.Debug()
	if err != nil {
		event = l.Error().Err(err)
	}

	event.
		Str("action", "db_operation").
		Str("operation", operation).
		Str("table", table).
		Int64("affected_rows", affectedRows).
		Dur("duration", duration).
		Bool("success", err == nil).
		Msg("Database operation")
}

// Setup configures the process-wide output and level. Development
// environments get console output at debug level.
func Setup(env, level string) {
	environment = env
	if env == "development" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	output = os.Stdout
	SetLevel(level)
}

// SetLevel sets the global level from a name, defaulting to info
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
