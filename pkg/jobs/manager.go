package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bfd-etl/pipeline/pkg/logger"
)

// MaxCompletedRuns is the capacity of the completed run history
const MaxCompletedRuns = 100

// DefaultShutdownLogInterval is how often AwaitCompletion reports that it is still waiting
const DefaultShutdownLogInterval = 10 * time.Minute

// State is the lifecycle stage of a Manager
type State int

const (
	StateCreated State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the manager logger
func WithLogger(l *logger.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(r MetricsRecorder) Option {
	return func(m *Manager) {
		m.metrics = r
	}
}

// WithSleeper replaces the sleep between runs. A replacement does not
// observe the manager's wake-up on shutdown.
func WithSleeper(s Sleeper) Option {
	return func(m *Manager) {
		m.sleeper = s
	}
}

// WithClock sets the clock used for run timestamps
func WithClock(c Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithShutdownLogInterval sets how often AwaitCompletion logs while waiting
func WithShutdownLogInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.shutdownLogInterval = d
	}
}

// Manager runs a fixed set of jobs, one Runner goroutine each, and is
// the Tracker for all of them. A Manager is single use.
type Manager struct {
	jobs                []Job
	logger              *logger.Logger
	metrics             MetricsRecorder
	sleeper             Sleeper
	clock               Clock
	shutdownLogInterval time.Duration

	mu        sync.Mutex
	state     State
	running   bool
	err       *AggregateError
	completed summaryRing

	nextRunID atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	// wake is closed once to release runners sleeping between runs
	wake     chan struct{}
	wakeOnce sync.Once

	// barrier counts runners that have not called Stopped yet
	barrier sync.WaitGroup
	// pool counts runner goroutines that have not returned yet
	pool sync.WaitGroup
}

// NewManager creates a manager for jobs. The job list is fixed.
func NewManager(jobs []Job, opts ...Option) *Manager {
	m := &Manager{
		jobs:                append([]Job(nil), jobs...),
		logger:              logger.New("job-manager"),
		clock:               SystemClock{},
		shutdownLogInterval: DefaultShutdownLogInterval,
		completed:           newSummaryRing(MaxCompletedRuns),
		ctx:                 context.Background(),
		cancel:              func() {},
		wake:                make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sleeper == nil {
		m.sleeper = m.sleep
	}
	return m
}

// Start launches one runner per job. It returns ErrAlreadyStarted if
// called more than once.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateCreated {
		return ErrAlreadyStarted
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.ctx = m.logger.ToContext(m.ctx)
	m.state = StateRunning
	m.running = true

	m.logger.Info().
		Str("action", "manager_start").
		Int("job_count", len(m.jobs)).
		Bool("interruptible", m.allInterruptible()).
		Msg("Starting job manager")

	m.barrier.Add(len(m.jobs))
	m.pool.Add(len(m.jobs))
	for _, job := range m.jobs {
		runner := NewRunner(m, job, m.sleeper, m.clock)
		m.logger.LogJobStart(job.Type().String(), job.Schedule().String(), job.IsInterruptible())
		go func() {
			defer m.pool.Done()
			runner.Run(m.ctx)
		}()
	}
	return nil
}

// Stop asks every runner to stop. If every job is interruptible, in-flight
// runs are cancelled; otherwise they finish naturally. Runners sleeping
// between runs are woken either way. Calling Stop more than once, or
// before Start, has no further effect.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.state = StateStopping
	interrupt := m.allInterruptible()
	m.mu.Unlock()

	m.logger.Info().
		Str("action", "manager_stop").
		Bool("interrupt", interrupt).
		Msg("Stopping job manager")

	if interrupt {
		m.cancel()
	}
	m.wakeSleepers()
}

// AwaitCompletion blocks until every runner has stopped and all runner
// goroutines have returned.
func (m *Manager) AwaitCompletion() {
	m.mu.Lock()
	started := m.state != StateCreated
	m.mu.Unlock()
	if !started {
		return
	}

	m.waitLogging(&m.barrier)
	m.Stop()
	m.waitLogging(&m.pool)
	m.cancel()

	m.mu.Lock()
	m.state = StateStopped
	m.mu.Unlock()

	m.logger.Info().
		Str("action", "manager_stopped").
		Bool("has_errors", m.Err() != nil).
		Msg("All jobs stopped")
}

// waitLogging waits for wg, logging periodically so a job that ignores
// shutdown is visible in the logs
func (m *Manager) waitLogging(wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	ticker := time.NewTicker(m.shutdownLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.logger.Info().
				Str("action", "manager_waiting").
				Msg("Waiting for jobs to stop...")
		}
	}
}

// Err returns the aggregated job error, or nil if no job failed
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err == nil {
		return nil
	}
	return m.err.snapshot()
}

// CompletedRuns returns the retained run summaries, oldest first
func (m *Manager) CompletedRuns() []RunSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.completed.items()
}

// State returns the manager's lifecycle stage
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Jobs returns the configured jobs
func (m *Manager) Jobs() []Job {
	return append([]Job(nil), m.jobs...)
}

// JobsCanRun implements Tracker
func (m *Manager) JobsCanRun() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.running && m.err == nil
}

// BeginningRun implements Tracker
func (m *Manager) BeginningRun(job Job) int64 {
	id := m.nextRunID.Add(1)
	if m.metrics != nil {
		m.metrics.RecordRunStarted(m.ctx, job.Type().String())
	}
	m.logger.WithRunID(id).Debug().
		Str("action", "run_start").
		Str("job_type", job.Type().String()).
		Msg("Beginning job run")
	return id
}

// CompletedRun implements Tracker
func (m *Manager) CompletedRun(summary RunSummary) {
	m.mu.Lock()
	m.completed.push(summary)
	m.mu.Unlock()

	jobType := ""
	if summary.Job() != nil {
		jobType = summary.Job().Type().String()
	}
	outcome := ""
	if o, ok := summary.Outcome(); ok {
		outcome = o.String()
	}
	m.logger.LogRunSummary(jobType, summary.ID(), outcome, summary.Duration(), summary.Err(), summary.String())
	if m.metrics != nil {
		m.metrics.RecordRunCompleted(m.ctx, jobType, outcome, summary.Succeeded(), summary.Duration())
	}
}

// Sleeping implements Tracker
func (m *Manager) Sleeping(job Job) {
	m.logger.Debug().
		Str("action", "job_sleep").
		Str("job_type", job.Type().String()).
		Dur("interval", job.Schedule().Interval()).
		Msg("Job sleeping until next run")
}

// StoppingDueToInterrupt implements Tracker
func (m *Manager) StoppingDueToInterrupt(job Job) {
	m.logger.LogJobComplete(job.Type().String(), "interrupted", nil)
	m.recordStop(job, "interrupted")
}

// StoppingDueToError implements Tracker. The first error becomes the
// primary one; later errors are kept as suppressed.
func (m *Manager) StoppingDueToError(job Job, err error) {
	m.mu.Lock()
	if m.err == nil {
		m.err = newAggregateError(err)
	} else {
		m.err.add(err)
	}
	if m.state == StateRunning {
		m.state = StateStopping
	}
	m.mu.Unlock()

	m.logger.LogJobComplete(job.Type().String(), "error", err)
	m.recordStop(job, "error")
	m.wakeSleepers()
}

// StoppingNormally implements Tracker
func (m *Manager) StoppingNormally(job Job) {
	m.logger.LogJobComplete(job.Type().String(), "normal", nil)
	m.recordStop(job, "normal")
}

// Stopped implements Tracker
func (m *Manager) Stopped(job Job) {
	m.logger.Debug().
		Str("action", "job_stopped").
		Str("job_type", job.Type().String()).
		Msg("Job runner stopped")
	m.barrier.Done()
}

func (m *Manager) recordStop(job Job, reason string) {
	if m.metrics != nil {
		m.metrics.RecordRunnerStopped(m.ctx, job.Type().String(), reason)
	}
}

// sleep waits between runs. A wake-up returns nil so the runner exits at
// its next JobsCanRun check, unless the wake-up came from an interrupting
// Stop, in which case the context error is returned.
func (m *Manager) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-m.wake:
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) wakeSleepers() {
	m.wakeOnce.Do(func() {
		close(m.wake)
	})
}

func (m *Manager) allInterruptible() bool {
	for _, job := range m.jobs {
		if !job.IsInterruptible() {
			return false
		}
	}
	return true
}

// summaryRing keeps the most recent summaries, evicting the oldest first
type summaryRing struct {
	buf   []RunSummary
	start int
	size  int
}

func newSummaryRing(capacity int) summaryRing {
	return summaryRing{buf: make([]RunSummary, capacity)}
}

func (r *summaryRing) push(s RunSummary) {
	if len(r.buf) == 0 {
		return
	}
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = s
		r.size++
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % len(r.buf)
}

func (r *summaryRing) items() []RunSummary {
	out := make([]RunSummary, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}
