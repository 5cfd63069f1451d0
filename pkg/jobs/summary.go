package jobs

import (
	"fmt"
	"regexp"
	"time"

	"github.com/bfd-etl/pipeline/pkg/errors"
)

var (
	successSummaryPattern = regexp.MustCompile(`JobRunSummary\{id=\d+, job=[^,]*, start=[^,]*, stop=[^,]*, outcome=[a-z_]+\}`)
	failureSummaryPattern = regexp.MustCompile(`JobRunSummary\{id=\d+, job=[^,]*, start=[^,]*, stop=[^,]*, error=`)
)

// RunSummary is the immutable record of one job run.
// Exactly one of outcome and err is set.
type RunSummary struct {
	id        int64
	job       Job
	startTime time.Time
	stopTime  time.Time
	outcome   Outcome
	err       error
}

// NewRunSummary builds a summary, rejecting any combination other than
// a valid outcome with no error or an error with no outcome.
func NewRunSummary(id int64, job Job, startTime, stopTime time.Time, outcome Outcome, err error) (RunSummary, error) {
	hasOutcome := outcome != 0
	if hasOutcome == (err != nil) {
		return RunSummary{}, errors.AssertionFailedf("run %d: exactly one of outcome or error must be set (outcome=%s, error=%v)", id, outcome, err)
	}
	if hasOutcome && !outcome.Valid() {
		return RunSummary{}, errors.AssertionFailedf("run %d: invalid outcome %d", id, int(outcome))
	}
	return RunSummary{
		id:        id,
		job:       job,
		startTime: startTime,
		stopTime:  stopTime,
		outcome:   outcome,
		err:       err,
	}, nil
}

func (s RunSummary) ID() int64            { return s.id }
func (s RunSummary) Job() Job             { return s.job }
func (s RunSummary) StartTime() time.Time { return s.startTime }
func (s RunSummary) StopTime() time.Time  { return s.stopTime }
func (s RunSummary) Err() error           { return s.err }

// Outcome returns the run's outcome, or false if the run failed
func (s RunSummary) Outcome() (Outcome, bool) {
	return s.outcome, s.outcome != 0
}

// Succeeded reports whether the run produced an outcome
func (s RunSummary) Succeeded() bool {
	return s.err == nil
}

func (s RunSummary) Duration() time.Duration {
	return s.stopTime.Sub(s.startTime)
}

func (s RunSummary) jobType() string {
	if s.job == nil {
		return ""
	}
	return s.job.Type().String()
}

// String renders the summary in a form IsSuccessString and IsFailureString recognize
func (s RunSummary) String() string {
	prefix := fmt.Sprintf("JobRunSummary{id=%d, job=%s, start=%s, stop=%s, ",
		s.id, s.jobType(), s.startTime.Format(time.RFC3339Nano), s.stopTime.Format(time.RFC3339Nano))
	if s.err != nil {
		return prefix + fmt.Sprintf("error=%q}", s.err.Error())
	}
	return prefix + "outcome=" + s.outcome.String() + "}"
}

// IsSuccessString reports whether a log line contains a successful run summary
func IsSuccessString(line string) bool {
	return successSummaryPattern.MatchString(line)
}

// IsFailureString reports whether a log line contains a failed run summary
func IsFailureString(line string) bool {
	return failureSummaryPattern.MatchString(line)
}
