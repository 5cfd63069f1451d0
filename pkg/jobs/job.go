package jobs

import (
	"context"
	"fmt"

	"github.com/gosimple/slug"

	"github.com/bfd-etl/pipeline/pkg/errors"
)

var (
	// ErrInterrupted reports that a job honored a cancellation request
	ErrInterrupted = errors.New("job interrupted")

	// ErrAlreadyStarted is returned when a Manager is started twice
	ErrAlreadyStarted = errors.New("job manager already started")

	// ErrJobPanicked wraps a panic recovered from a job's Call
	ErrJobPanicked = errors.New("job panicked")
)

// IsInterrupted reports whether err signals cooperative cancellation
func IsInterrupted(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInterrupted) || errors.Is(err, context.Canceled)
}

// JobType identifies a kind of job. Values are slugs.
type JobType string

// NewJobType normalizes name into a JobType
func NewJobType(name string) JobType {
	return JobType(slug.Make(name))
}

func (t JobType) String() string {
	return string(t)
}

// Outcome is the result of a job run that did not fail
type Outcome int

const (
	// WorkDone means the run processed data
	WorkDone Outcome = iota + 1
	// NothingToDo means the run found no data to process
	NothingToDo
	// ShouldTerminate asks the runner to stop scheduling this job
	ShouldTerminate
	// Interrupted marks a run that was cancelled mid-flight
	Interrupted
)

func (o Outcome) String() string {
	switch o {
	case WorkDone:
		return "work_done"
	case NothingToDo:
		return "nothing_to_do"
	case ShouldTerminate:
		return "should_terminate"
	case Interrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Valid reports whether o is one of the defined outcomes
func (o Outcome) Valid() bool {
	return o >= WorkDone && o <= Interrupted
}

// ParseOutcome is the inverse of Outcome.String
func ParseOutcome(s string) (Outcome, error) {
	for o := WorkDone; o <= Interrupted; o++ {
		if o.String() == s {
			return o, nil
		}
	}
	return 0, errors.Newf("unknown job outcome %q", s)
}
