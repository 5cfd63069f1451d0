package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bfd-etl/pipeline/pkg/errors"
	"github.com/bfd-etl/pipeline/pkg/jobs"
)

func TestJobRecord_Lifecycle(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := NewJobRecord("rif-load", base)
	assert.Equal(t, StatusCreated, rec.Status)

	require.NoError(t, rec.Enqueue(base.Add(time.Second)))
	require.NoError(t, rec.Start(base.Add(2*time.Second)))
	require.NoError(t, rec.Complete(base.Add(5*time.Second), jobs.WorkDone))

	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, jobs.WorkDone, rec.Outcome)
	assert.Equal(t, 3*time.Second, rec.Duration())
	assert.True(t, rec.Status.IsTerminal())
}

func TestJobRecord_InvalidTransitions(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		setup func(*JobRecord)
		apply func(*JobRecord) error
	}{
		{
			name:  "complete before start",
			setup: func(*JobRecord) {},
			apply: func(r *JobRecord) error { return r.Complete(now, jobs.WorkDone) },
		},
		{
			name:  "enqueue twice",
			setup: func(r *JobRecord) { _ = r.Enqueue(now) },
			apply: func(r *JobRecord) error { return r.Enqueue(now) },
		},
		{
			name:  "cancel after completion",
			setup: func(r *JobRecord) {
				_ = r.Start(now)
				_ = r.Complete(now, jobs.NothingToDo)
			},
			apply: func(r *JobRecord) error { return r.Cancel(now) },
		},
		{
			name:  "fail after cancellation",
			setup: func(r *JobRecord) { _ = r.Cancel(now) },
			apply: func(r *JobRecord) error { return r.Fail(now, Failure{Message: "late"}) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := NewJobRecord("job", now)
			tt.setup(rec)
			before := rec.Status

			err := tt.apply(rec)
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, before, rec.Status)
		})
	}
}

func TestJobRecord_CompleteRejectsInvalidOutcome(t *testing.T) {
	rec := NewJobRecord("job", time.Now())
	require.NoError(t, rec.Start(time.Now()))

	assert.Error(t, rec.Complete(time.Now(), 0))
	assert.Equal(t, StatusStarted, rec.Status)
}

func TestJobRecord_CloneIsDeep(t *testing.T) {
	now := time.Now()
	rec := NewJobRecord("job", now)
	require.NoError(t, rec.Start(now))
	require.NoError(t, rec.Fail(now, Failure{Type: "x", Message: "y"}))

	clone := rec.Clone()
	clone.Failure.Message = "changed"
	*clone.StartedAt = now.Add(time.Hour)

	assert.Equal(t, "y", rec.Failure.Message)
	assert.Equal(t, now, *rec.StartedAt)
}

func TestNewFailure(t *testing.T) {
	failure := NewFailure(errors.Wrap(errors.New("disk full"), "write batch"))

	assert.Equal(t, "write batch: disk full", failure.Message)
	assert.NotEmpty(t, failure.Type)
}

func TestParseID(t *testing.T) {
	id := NewID()
	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseID("not-a-uuid")
	assert.Error(t, err)
}
