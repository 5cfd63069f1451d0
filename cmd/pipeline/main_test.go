package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bfd-etl/pipeline/internal/pipeline"
	"github.com/bfd-etl/pipeline/pkg/errors"
	"github.com/bfd-etl/pipeline/pkg/jobs"
	"github.com/bfd-etl/pipeline/pkg/jobs/record"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitFailure, exitCode(errors.New("invalid configuration")))
	assert.Equal(t, exitJobsFailed, exitCode(errors.Mark(errors.New("boom"), pipeline.ErrJobsFailed)))
	assert.Equal(t, exitJobsFailed, exitCode(errors.Wrap(errors.Mark(errors.New("boom"), pipeline.ErrJobsFailed), "run")))
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"run", "migrate", "records"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}

	run, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	assert.NotNil(t, run.Flags().Lookup("once"))

	wait, _, err := root.Find([]string{"records", "wait"})
	require.NoError(t, err)
	assert.Equal(t, "wait", wait.Name())
}

func TestPrintRecords(t *testing.T) {
	var buf bytes.Buffer
	printRecords(&buf, nil)
	assert.Equal(t, "No job records found.\n", buf.String())

	created := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	done := record.NewJobRecord("ccw-rif-load", created)
	require.NoError(t, done.Start(created))
	require.NoError(t, done.Complete(created.Add(time.Minute), jobs.WorkDone))
	failed := record.NewJobRecord("ccw-rif-load", created)
	require.NoError(t, failed.Fail(created, record.Failure{Message: "bad file"}))

	buf.Reset()
	printRecords(&buf, []*record.JobRecord{done, failed})
	out := buf.String()
	assert.Contains(t, out, done.ID.String())
	assert.Contains(t, out, "work_done")
	assert.Contains(t, out, "bad file")
	assert.Contains(t, out, "2026-03-04T05:06:07Z")
}

func TestWaitForRecords(t *testing.T) {
	ctx := context.Background()
	store := record.NewMemoryStore()
	rec, err := store.SubmitPendingJob(ctx, "ccw-rif-load")
	require.NoError(t, err)
	require.NoError(t, store.RecordJobStart(ctx, rec.ID))

	time.AfterFunc(20*time.Millisecond, func() {
		_ = store.RecordJobCompletion(ctx, rec.ID, jobs.NothingToDo)
	})

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var buf bytes.Buffer
	require.NoError(t, waitForRecords(waitCtx, &buf, store, []string{rec.ID.String()}))
	assert.Contains(t, buf.String(), rec.ID.String())
	assert.Contains(t, buf.String(), "completed")
}

func TestWaitForRecords_Errors(t *testing.T) {
	ctx := context.Background()
	store := record.NewMemoryStore()
	var buf bytes.Buffer

	err := waitForRecords(ctx, &buf, store, []string{"not-a-uuid"})
	assert.ErrorContains(t, err, "invalid job record id")

	err = waitForRecords(ctx, &buf, store, []string{record.NewID().String()})
	assert.True(t, errors.Is(err, record.ErrNotFound))
	assert.Empty(t, buf.String())
}
