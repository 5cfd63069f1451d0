package jobs

import (
	"context"
	"fmt"
	"io"

	"github.com/bfd-etl/pipeline/pkg/errors"
)

// Runner drives one Job through its schedule until told to stop
type Runner struct {
	tracker Tracker
	job     Job
	sleeper Sleeper
	clock   Clock
}

// NewRunner creates a runner. A nil sleeper or clock falls back to
// ContextSleeper and SystemClock.
func NewRunner(tracker Tracker, job Job, sleeper Sleeper, clock Clock) *Runner {
	if sleeper == nil {
		sleeper = ContextSleeper
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Runner{
		tracker: tracker,
		job:     job,
		sleeper: sleeper,
		clock:   clock,
	}
}

// Job returns the job driven by this runner
func (r *Runner) Job() Job {
	return r.job
}

// Run loops until the tracker forbids further runs, the schedule is
// exhausted, or a run fails or is interrupted. Tracker.Stopped is
// always the last callback.
func (r *Runner) Run(ctx context.Context) {
	defer r.tracker.Stopped(r.job)

	err := r.loop(ctx)
	if closeErr := r.closeJob(); closeErr != nil {
		closeErr = errors.Wrapf(closeErr, "close job %s", r.job.Type())
		if err == nil {
			err = closeErr
		} else {
			err = errors.WithSecondaryError(err, closeErr)
		}
	}

	switch {
	case err == nil:
		r.tracker.StoppingNormally(r.job)
	case IsInterrupted(err):
		r.tracker.StoppingDueToInterrupt(r.job)
	default:
		r.tracker.StoppingDueToError(r.job, err)
	}
}

func (r *Runner) loop(ctx context.Context) error {
	interval := r.job.Schedule().Interval()

	for r.tracker.JobsCanRun() {
		outcome, err := r.runOnce(ctx)
		if err != nil {
			return err
		}
		switch outcome {
		case Interrupted:
			return ErrInterrupted
		case ShouldTerminate:
			return nil
		}

		if interval <= 0 || !r.tracker.JobsCanRun() {
			return nil
		}

		r.tracker.Sleeping(r.job)
		if err := r.sleeper(ctx, interval); err != nil {
			if IsInterrupted(err) {
				return errors.Wrapf(ErrInterrupted, "sleeping between runs of %s", r.job.Type())
			}
			return errors.Wrapf(err, "sleeping between runs of %s", r.job.Type())
		}
	}
	return nil
}

// runOnce performs a single run and reports its summary. The returned
// error is the one the loop routes on; an interrupted run also returns
// the Interrupted outcome.
func (r *Runner) runOnce(ctx context.Context) (Outcome, error) {
	id := r.tracker.BeginningRun(r.job)
	startTime := r.clock.Now()
	outcome, err := r.call(ctx)

	switch {
	case err != nil && IsInterrupted(err):
		outcome = Interrupted
	case err != nil:
		outcome = 0
	case !outcome.Valid():
		err = errors.AssertionFailedf("job %s returned invalid outcome %d", r.job.Type(), int(outcome))
		outcome = 0
	}
	stopTime := r.clock.Now()

	var summaryErr error
	if outcome == 0 {
		summaryErr = err
	}
	summary, serr := NewRunSummary(id, r.job, startTime, stopTime, outcome, summaryErr)
	if serr != nil {
		return 0, serr
	}
	r.tracker.CompletedRun(summary)

	return outcome, err
}

func (r *Runner) call(ctx context.Context) (outcome Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			outcome = 0
			err = errors.Wrap(ErrJobPanicked, fmt.Sprintf("job %s: %v", r.job.Type(), p))
		}
	}()
	return r.job.Call(ctx)
}

func (r *Runner) closeJob() error {
	if closer, ok := r.job.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
