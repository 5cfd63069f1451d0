// Package record persists job records and ties each job run to one of them.
package record

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bfd-etl/pipeline/pkg/errors"
	"github.com/bfd-etl/pipeline/pkg/jobs"
)

var (
	// ErrNotFound is returned when no record matches
	ErrNotFound = errors.New("job record not found")

	// ErrInvalidTransition is returned when a record cannot move to the requested status
	ErrInvalidTransition = errors.New("invalid job record transition")
)

// ID is the durable identifier of a job record
type ID = uuid.UUID

// NewID returns a random record id
func NewID() ID {
	return uuid.New()
}

// ParseID parses the string form of a record id
func ParseID(s string) (ID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ID{}, errors.Wrapf(err, "invalid job record id %q", s)
	}
	return id, nil
}

// Status is the lifecycle stage of a job record
type Status string

const (
	StatusCreated   Status = "created"
	StatusEnqueued  Status = "enqueued"
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

var pendingStatuses = []Status{StatusCreated, StatusEnqueued, StatusStarted}

var terminalStatuses = []Status{StatusCompleted, StatusFailed, StatusCancelled}

// allowedFrom lists the statuses each target status may be reached from
var allowedFrom = map[Status][]Status{
	StatusEnqueued:  {StatusCreated},
	StatusStarted:   {StatusCreated, StatusEnqueued},
	StatusCompleted: {StatusStarted},
	StatusFailed:    {StatusCreated, StatusEnqueued, StatusStarted},
	StatusCancelled: {StatusCreated, StatusEnqueued, StatusStarted},
}

// Failure describes the error that ended a failed run
type Failure struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewFailure captures err for persistence
func NewFailure(err error) Failure {
	return Failure{
		Type:    fmt.Sprintf("%T", errors.UnwrapAll(err)),
		Message: err.Error(),
	}
}

// JobRecord is the persisted audit entry for one job run
type JobRecord struct {
	ID         ID
	JobType    jobs.JobType
	Status     Status
	CreatedAt  time.Time
	EnqueuedAt *time.Time
	StartedAt  *time.Time
	EndedAt    *time.Time
	Outcome    jobs.Outcome
	Failure    *Failure
}

// NewJobRecord returns a record in the created state
func NewJobRecord(jobType jobs.JobType, now time.Time) *JobRecord {
	return &JobRecord{
		ID:        NewID(),
		JobType:   jobType,
		Status:    StatusCreated,
		CreatedAt: now,
	}
}

// Duration is the time from start to end, or zero if either is unset
func (r *JobRecord) Duration() time.Duration {
	if r.StartedAt == nil || r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(*r.StartedAt)
}

func (r *JobRecord) Clone() *JobRecord {
	c := *r
	c.EnqueuedAt = cloneTime(r.EnqueuedAt)
	c.StartedAt = cloneTime(r.StartedAt)
	c.EndedAt = cloneTime(r.EndedAt)
	if r.Failure != nil {
		f := *r.Failure
		c.Failure = &f
	}
	return &c
}

func (r *JobRecord) Enqueue(now time.Time) error {
	if err := r.checkTransition(StatusEnqueued); err != nil {
		return err
	}
	r.Status = StatusEnqueued
	r.EnqueuedAt = &now
	return nil
}

func (r *JobRecord) Start(now time.Time) error {
	if err := r.checkTransition(StatusStarted); err != nil {
		return err
	}
	r.Status = StatusStarted
	r.StartedAt = &now
	return nil
}

func (r *JobRecord) Complete(now time.Time, outcome jobs.Outcome) error {
	if !outcome.Valid() {
		return errors.Newf("record %s: invalid outcome %d", r.ID, int(outcome))
	}
	if err := r.checkTransition(StatusCompleted); err != nil {
		return err
	}
	r.Status = StatusCompleted
	r.EndedAt = &now
	r.Outcome = outcome
	return nil
}

func (r *JobRecord) Fail(now time.Time, failure Failure) error {
	if err := r.checkTransition(StatusFailed); err != nil {
		return err
	}
	r.Status = StatusFailed
	r.EndedAt = &now
	r.Failure = &failure
	return nil
}

func (r *JobRecord) Cancel(now time.Time) error {
	if err := r.checkTransition(StatusCancelled); err != nil {
		return err
	}
	r.Status = StatusCancelled
	r.EndedAt = &now
	return nil
}

func (r *JobRecord) checkTransition(to Status) error {
	for _, from := range allowedFrom[to] {
		if r.Status == from {
			return nil
		}
	}
	return errors.Wrapf(ErrInvalidTransition, "record %s: %s -> %s", r.ID, r.Status, to)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
