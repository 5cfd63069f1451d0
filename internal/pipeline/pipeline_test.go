package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bfd-etl/pipeline/internal/config"
	"github.com/bfd-etl/pipeline/internal/testutil"
	"github.com/bfd-etl/pipeline/pkg/errors"
	"github.com/bfd-etl/pipeline/pkg/jobs"
	"github.com/bfd-etl/pipeline/pkg/jobs/record"
	"github.com/bfd-etl/pipeline/pkg/logger"
)

type mockJob struct {
	jobType       jobs.JobType
	schedule      *jobs.Schedule
	interruptible bool
	callFunc      func(ctx context.Context) (jobs.Outcome, error)
	calls         atomic.Int32
	closed        atomic.Int32
}

func (m *mockJob) Type() jobs.JobType       { return m.jobType }
func (m *mockJob) Schedule() *jobs.Schedule { return m.schedule }
func (m *mockJob) IsInterruptible() bool    { return m.interruptible }

func (m *mockJob) Close() error {
	m.closed.Add(1)
	return nil
}

func (m *mockJob) Call(ctx context.Context) (jobs.Outcome, error) {
	m.calls.Add(1)
	if m.callFunc == nil {
		return jobs.WorkDone, nil
	}
	return m.callFunc(ctx)
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Database:    config.DatabaseConfig{MaxConns: 1},
		Records: config.RecordConfig{
			Store:     config.StoreMemory,
			Retention: time.Hour,
		},
	}
}

func newTestPipeline(t *testing.T, cfg *config.Config, js ...jobs.Job) *Pipeline {
	t.Helper()
	p, err := New(context.Background(), cfg, WithJobs(js...), WithLogger(logger.Nop()))
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestPipeline_RegistersPruneJob(t *testing.T) {
	p := newTestPipeline(t, testConfig(), &mockJob{jobType: "ccw-rif-load"})
	assert.Equal(t, []jobs.JobType{"ccw-rif-load", record.PruneJobType}, p.JobTypes())
	assert.IsType(t, &record.MemoryStore{}, p.Store())
}

func TestPipeline_RejectsDuplicateJobTypes(t *testing.T) {
	_, err := New(context.Background(), testConfig(),
		WithJobs(&mockJob{jobType: "load"}, &mockJob{jobType: "load"}),
		WithLogger(logger.Nop()))
	assert.ErrorContains(t, err, "registered twice")
}

func TestPipeline_RunUntilJobsFinish(t *testing.T) {
	load := &mockJob{jobType: "ccw-rif-load"}
	p := newTestPipeline(t, testConfig(), load)

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, int32(1), load.calls.Load())
	assert.Equal(t, int32(1), load.closed.Load())

	rec, err := p.Store().FindMostRecent(context.Background(), "ccw-rif-load")
	require.NoError(t, err)
	assert.Equal(t, record.StatusCompleted, rec.Status)
	assert.Equal(t, jobs.WorkDone, rec.Outcome)

	prune, err := p.Store().FindMostRecent(context.Background(), record.PruneJobType)
	require.NoError(t, err)
	assert.Equal(t, jobs.NothingToDo, prune.Outcome)
}

func TestPipeline_RunReportsJobFailure(t *testing.T) {
	load := &mockJob{
		jobType:  "ccw-rif-load",
		callFunc: func(context.Context) (jobs.Outcome, error) { return 0, errors.New("bad rif file") },
	}
	p := newTestPipeline(t, testConfig(), load)

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrJobsFailed))
	assert.ErrorContains(t, err, "bad rif file")

	rec, err := p.Store().FindMostRecent(context.Background(), "ccw-rif-load")
	require.NoError(t, err)
	assert.Equal(t, record.StatusFailed, rec.Status)
}

func TestPipeline_RunStopsOnCancel(t *testing.T) {
	started := make(chan struct{}, 1)
	poll := &mockJob{
		jobType:       "s3-poll",
		schedule:      jobs.Every(time.Hour),
		interruptible: true,
		callFunc: func(ctx context.Context) (jobs.Outcome, error) {
			select {
			case started <- struct{}{}:
			default:
			}
			<-ctx.Done()
			return 0, ctx.Err()
		},
	}
	cfg := testConfig()
	cfg.Records.PruneSchedule = "1h"
	p := newTestPipeline(t, cfg, poll)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()

	<-started
	cancel()

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	rec, err := p.Store().FindMostRecent(context.Background(), "s3-poll")
	require.NoError(t, err)
	assert.Equal(t, record.StatusCancelled, rec.Status)

	pending, err := p.Store().FindPendingJobs(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPipeline_RunOnce(t *testing.T) {
	load := &mockJob{
		jobType:  "ccw-rif-load",
		schedule: jobs.Every(time.Millisecond),
		callFunc: func(context.Context) (jobs.Outcome, error) { return jobs.NothingToDo, nil },
	}
	p := newTestPipeline(t, testConfig(), load)

	var outcome jobs.Outcome
	var err error
	testutil.MustReturn(t, 5*time.Second, func() {
		outcome, err = p.RunOnce(context.Background(), "ccw-rif-load")
	})
	require.NoError(t, err)
	assert.Equal(t, jobs.NothingToDo, outcome)
	assert.Equal(t, int32(1), load.calls.Load(), "scheduled job runs only once")
	assert.Equal(t, int32(1), load.closed.Load())
}

func TestPipeline_RunOnceUnknownJob(t *testing.T) {
	p := newTestPipeline(t, testConfig())

	_, err := p.RunOnce(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestOpenStore_UnknownKind(t *testing.T) {
	cfg := testConfig()
	cfg.Records.Store = "redis"

	_, _, err := OpenStore(context.Background(), cfg, logger.Nop())
	assert.ErrorContains(t, err, "unknown record store")
}
