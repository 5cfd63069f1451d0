// Package metrics exports job scheduling metrics through an OpenTelemetry
// meter backed by a Prometheus exporter.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/bfd-etl/pipeline/pkg/errors"
	"github.com/bfd-etl/pipeline/pkg/jobs"
	"github.com/bfd-etl/pipeline/pkg/jobs/record"
)

const meterName = "pipeline"

var (
	_ jobs.MetricsRecorder   = (*Metrics)(nil)
	_ record.MetricsRecorder = (*Metrics)(nil)
)

// Metrics holds the scheduler instruments
type Metrics struct {
	meter metric.Meter

	// Runs (Latency, Traffic, Errors, Saturation)
	RunsTotal        metric.Int64Counter
	RunFailuresTotal metric.Int64Counter
	RunDuration      metric.Float64Histogram
	RunsActive       metric.Int64UpDownCounter

	// Runners
	RunnersStopped metric.Int64Counter

	// Job records
	RecordTransitions metric.Int64Counter
}

// New creates the instruments on the default Prometheus registry and sets
// the global meter provider.
func New(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := otelprom.New()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create prometheus exporter")
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m, err := newMetrics(provider.Meter(meterName))
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.Handler(), nil
}

// NewWithRegistry creates the instruments on reg and returns a handler
// that serves only reg. The global meter provider is left alone.
func NewWithRegistry(ctx context.Context, reg *prometheus.Registry) (*Metrics, http.Handler, error) {
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create prometheus exporter")
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	m, err := newMetrics(provider.Meter(meterName))
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}
	var err error

	m.RunsTotal, err = meter.Int64Counter(
		"pipeline_job_runs_total",
		metric.WithDescription("Total number of job runs started"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline_job_runs_total")
	}

	m.RunFailuresTotal, err = meter.Int64Counter(
		"pipeline_job_run_failures_total",
		metric.WithDescription("Total number of job runs that ended with an error"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline_job_run_failures_total")
	}

	m.RunDuration, err = meter.Float64Histogram(
		"pipeline_job_run_duration_seconds",
		metric.WithDescription("Job run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 1800, 3600),
	)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline_job_run_duration_seconds")
	}

	m.RunsActive, err = meter.Int64UpDownCounter(
		"pipeline_job_runs_active",
		metric.WithDescription("Number of job runs in progress (saturation)"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline_job_runs_active")
	}

	m.RunnersStopped, err = meter.Int64Counter(
		"pipeline_runners_stopped_total",
		metric.WithDescription("Total number of job runners that stopped, by reason"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline_runners_stopped_total")
	}

	m.RecordTransitions, err = meter.Int64Counter(
		"pipeline_job_record_transitions_total",
		metric.WithDescription("Total number of job record status writes"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline_job_record_transitions_total")
	}

	return m, nil
}

// RecordRunStarted records a job run beginning
func (m *Metrics) RecordRunStarted(ctx context.Context, jobType string) {
	attrs := metric.WithAttributes(jobTypeAttr(jobType))
	m.RunsTotal.Add(ctx, 1, attrs)
	m.RunsActive.Add(ctx, 1, attrs)
}

// RecordRunCompleted records a job run ending with an outcome or an error
func (m *Metrics) RecordRunCompleted(ctx context.Context, jobType, outcome string, success bool, duration time.Duration) {
	attrs := metric.WithAttributes(jobTypeAttr(jobType), outcomeAttr(outcome), successAttr(success))
	m.RunDuration.Record(ctx, duration.Seconds(), attrs)
	m.RunsActive.Add(ctx, -1, metric.WithAttributes(jobTypeAttr(jobType)))

	if !success {
		m.RunFailuresTotal.Add(ctx, 1, metric.WithAttributes(jobTypeAttr(jobType)))
	}
}

// RecordRunnerStopped records a runner leaving its loop
func (m *Metrics) RecordRunnerStopped(ctx context.Context, jobType, reason string) {
	m.RunnersStopped.Add(ctx, 1, metric.WithAttributes(jobTypeAttr(jobType), reasonAttr(reason)))
}

// RecordTransition records a job record status write
func (m *Metrics) RecordTransition(ctx context.Context, jobType, status string, success bool) {
	m.RecordTransitions.Add(ctx, 1, metric.WithAttributes(jobTypeAttr(jobType), statusAttr(status), successAttr(success)))
}
