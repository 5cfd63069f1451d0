package record

import (
	"context"
	"io"
	"time"

	"github.com/bfd-etl/pipeline/pkg/errors"
	"github.com/bfd-etl/pipeline/pkg/jobs"
	"github.com/bfd-etl/pipeline/pkg/logger"
)

// MetricsRecorder is an optional sink for record transitions
type MetricsRecorder interface {
	RecordTransition(ctx context.Context, jobType, status string, success bool)
}

// JobOption configures a recording Job
type JobOption func(*Job)

// WithLogger sets the wrapper logger
func WithLogger(l *logger.Logger) JobOption {
	return func(j *Job) {
		j.logger = l
	}
}

// WithMetrics sets the transition metrics recorder
func WithMetrics(m MetricsRecorder) JobOption {
	return func(j *Job) {
		j.metrics = m
	}
}

// Job wraps a jobs.Job so every run is backed by a persisted record. The
// wrapped job's behavior is unchanged: outcomes pass through, failures
// are returned as is, and cancellation is reported as jobs.Interrupted.
type Job struct {
	job      jobs.Job
	store    Store
	registry *Registry
	logger   *logger.Logger
	metrics  MetricsRecorder
}

// Wrap decorates job with record tracking. All wrappers sharing registry
// coordinate terminal writes through it.
func Wrap(job jobs.Job, store Store, registry *Registry, opts ...JobOption) *Job {
	j := &Job{
		job:      job,
		store:    store,
		registry: registry,
		logger:   logger.New("job-record"),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Unwrap returns the decorated job
func (j *Job) Unwrap() jobs.Job {
	return j.job
}

func (j *Job) Type() jobs.JobType {
	return j.job.Type()
}

func (j *Job) Schedule() *jobs.Schedule {
	return j.job.Schedule()
}

func (j *Job) IsInterruptible() bool {
	return j.job.IsInterruptible()
}

// Close closes the wrapped job if it is closable
func (j *Job) Close() error {
	if closer, ok := j.job.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Call creates a record for this run, marks it enqueued and started,
// delegates to the wrapped job and then writes exactly one terminal status.
func (j *Job) Call(ctx context.Context) (jobs.Outcome, error) {
	jobType := j.job.Type()

	rec, err := j.store.SubmitPendingJob(ctx, jobType)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to submit record for job %s", jobType)
	}
	j.registry.Add(rec)
	log := j.logger.WithJob(jobType.String()).WithRecord(rec.ID.String())
	j.observe(ctx, log, rec.ID, StatusCreated, nil)

	if err := j.store.RecordJobEnqueue(ctx, rec.ID); err != nil {
		return j.abort(ctx, log, rec.ID, errors.Wrapf(err, "failed to enqueue record %s", rec.ID))
	}
	j.observe(ctx, log, rec.ID, StatusEnqueued, nil)

	if err := j.store.RecordJobStart(ctx, rec.ID); err != nil {
		return j.abort(ctx, log, rec.ID, errors.Wrapf(err, "failed to start record %s", rec.ID))
	}
	j.observe(ctx, log, rec.ID, StatusStarted, nil)

	outcome, callErr := j.job.Call(ctx)

	switch {
	case callErr != nil:
		return j.abort(ctx, log, rec.ID, callErr)
	case outcome == jobs.Interrupted:
		return j.abort(ctx, log, rec.ID, errors.Wrapf(jobs.ErrInterrupted, "job %s reported an interrupted run", jobType))
	case !outcome.Valid():
		return j.abort(ctx, log, rec.ID, errors.AssertionFailedf("job %s returned invalid outcome %d", jobType, int(outcome)))
	}

	if err := j.handleCompletion(ctx, log, rec.ID, outcome); err != nil {
		return 0, err
	}
	return outcome, nil
}

// abort routes err to cancellation or failure bookkeeping
func (j *Job) abort(ctx context.Context, log *logger.Logger, id ID, err error) (jobs.Outcome, error) {
	if jobs.IsInterrupted(err) {
		j.handleCancellation(ctx, log, id)
		return jobs.Interrupted, errors.WithSecondaryError(errors.Wrap(jobs.ErrInterrupted, "re-firing job interrupt"), err)
	}
	j.handleFailure(ctx, log, id, err)
	return 0, err
}

func (j *Job) handleCompletion(ctx context.Context, log *logger.Logger, id ID, outcome jobs.Outcome) error {
	wctx, cancel := terminalContext(ctx)
	defer cancel()

	ran, err := j.registry.RemoveIf(id, func(*JobRecord) error {
		return j.store.RecordJobCompletion(wctx, id, outcome)
	})
	if !ran {
		return nil
	}
	j.observe(ctx, log, id, StatusCompleted, err)
	if err != nil {
		return errors.Wrapf(err, "failed to record completion of %s", id)
	}
	return nil
}

func (j *Job) handleCancellation(ctx context.Context, log *logger.Logger, id ID) {
	wctx, cancel := terminalContext(ctx)
	defer cancel()

	ran, err := j.registry.RemoveIf(id, func(*JobRecord) error {
		return j.store.RecordJobCancellation(wctx, id)
	})
	if ran {
		j.observe(ctx, log, id, StatusCancelled, err)
	}
}

func (j *Job) handleFailure(ctx context.Context, log *logger.Logger, id ID, cause error) {
	wctx, cancel := terminalContext(ctx)
	defer cancel()

	ran, err := j.registry.RemoveIf(id, func(*JobRecord) error {
		return j.store.RecordJobFailure(wctx, id, NewFailure(cause))
	})
	if ran {
		j.observe(ctx, log, id, StatusFailed, err)
	}
}

func (j *Job) observe(ctx context.Context, log *logger.Logger, id ID, status Status, err error) {
	log.LogRecordTransition(id.String(), j.job.Type().String(), string(status), err)
	if j.metrics != nil {
		j.metrics.RecordTransition(context.WithoutCancel(ctx), j.job.Type().String(), string(status), err == nil)
	}
}

// terminalWriteTimeout bounds a terminal write issued after the run's context was cancelled
const terminalWriteTimeout = 30 * time.Second

// terminalContext detaches from cancellation so an interrupted run can
// still persist its final status
func terminalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
}
