package jobs

import (
	"context"
	"time"
)

// Job is a unit of schedulable pipeline work
type Job interface {
	// Type returns the stable identifier of the job
	Type() JobType

	// Schedule returns the repeat schedule, or nil to run exactly once
	Schedule() *Schedule

	// IsInterruptible reports whether Call honors context cancellation mid-run
	IsInterruptible() bool

	// Call performs one execution. Returning an error that matches
	// ErrInterrupted or context.Canceled reports cooperative cancellation.
	Call(ctx context.Context) (Outcome, error)
}

// Tracker receives lifecycle callbacks from every Runner
type Tracker interface {
	// JobsCanRun reports whether runners may start another run
	JobsCanRun() bool

	// BeginningRun returns the id of the run about to start
	BeginningRun(job Job) int64

	CompletedRun(summary RunSummary)
	Sleeping(job Job)
	StoppingDueToInterrupt(job Job)
	StoppingDueToError(job Job, err error)
	StoppingNormally(job Job)

	// Stopped is called exactly once per runner, after every other callback
	Stopped(job Job)
}

// MetricsRecorder is an optional sink for runner and run events
type MetricsRecorder interface {
	RecordRunStarted(ctx context.Context, jobType string)
	RecordRunCompleted(ctx context.Context, jobType, outcome string, success bool, duration time.Duration)
	RecordRunnerStopped(ctx context.Context, jobType, reason string)
}

// Sleeper pauses a runner between scheduled runs
type Sleeper func(ctx context.Context, d time.Duration) error

// Clock supplies run timestamps
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// ContextSleeper sleeps for d or until ctx is done
func ContextSleeper(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
