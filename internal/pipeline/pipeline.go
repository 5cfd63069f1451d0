// Package pipeline assembles the record store, the job wrappers, the job
// manager and the operations server into a runnable service.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bfd-etl/pipeline/internal/config"
	"github.com/bfd-etl/pipeline/pkg/database/pool"
	"github.com/bfd-etl/pipeline/pkg/errors"
	"github.com/bfd-etl/pipeline/pkg/jobs"
	"github.com/bfd-etl/pipeline/pkg/jobs/record"
	"github.com/bfd-etl/pipeline/pkg/logger"
	"github.com/bfd-etl/pipeline/pkg/metrics"
	"github.com/bfd-etl/pipeline/pkg/server"
)

var (
	// ErrJobsFailed marks the error returned when at least one job failed
	ErrJobsFailed = errors.New("one or more jobs failed")
	// ErrUnknownJob is returned by RunOnce for an unregistered job type
	ErrUnknownJob = errors.New("unknown job")
)

const (
	sweepTimeout    = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Option configures a Pipeline
type Option func(*Pipeline)

// WithJobs registers data jobs. The record prune job is always added.
func WithJobs(js ...jobs.Job) Option {
	return func(p *Pipeline) {
		p.jobs = append(p.jobs, js...)
	}
}

// WithStore uses store instead of opening the configured one
func WithStore(store record.Store) Option {
	return func(p *Pipeline) {
		p.store = store
	}
}

// WithMetrics records scheduler metrics and serves handler on /metrics
func WithMetrics(m *metrics.Metrics, handler http.Handler) Option {
	return func(p *Pipeline) {
		p.metrics = m
		p.metricsHandler = handler
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithManagerOptions passes extra options to every job manager the pipeline creates
func WithManagerOptions(opts ...jobs.Option) Option {
	return func(p *Pipeline) {
		p.managerOpts = append(p.managerOpts, opts...)
	}
}

// Pipeline runs the configured jobs with record tracking
type Pipeline struct {
	cfg            *config.Config
	logger         *logger.Logger
	store          record.Store
	registry       *record.Registry
	jobs           []jobs.Job
	metrics        *metrics.Metrics
	metricsHandler http.Handler
	managerOpts    []jobs.Option
	db             *pgxpool.Pool
}

// New opens the record store and registers the jobs
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		cfg:      cfg,
		logger:   logger.New("pipeline"),
		registry: record.NewRegistry(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.store == nil {
		store, db, err := OpenStore(ctx, cfg, p.logger)
		if err != nil {
			return nil, err
		}
		p.store, p.db = store, db
	}

	schedule, err := cfg.PruneJobSchedule()
	if err != nil {
		p.Close()
		return nil, err
	}
	p.jobs = append(p.jobs, record.NewPruneJob(p.store, cfg.Records.Retention, schedule))

	seen := make(map[jobs.JobType]bool, len(p.jobs))
	for _, job := range p.jobs {
		if seen[job.Type()] {
			p.Close()
			return nil, errors.Newf("job %s registered twice", job.Type())
		}
		seen[job.Type()] = true
	}

	return p, nil
}

// OpenStore opens the configured record store. The postgres store is
// migrated and guarded by a circuit breaker; the returned pool is nil for
// the memory store.
func OpenStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (record.Store, *pgxpool.Pool, error) {
	switch cfg.Records.Store {
	case config.StoreMemory:
		return record.NewMemoryStore(), nil, nil
	case config.StorePostgres:
		db, err := pool.New(ctx, cfg.DatabaseURL(), cfg.PoolConfig())
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to connect to record database")
		}
		store := record.NewPostgresStore(db, cfg.Records.Schema)
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return record.NewBreakerStore(store, cfg.BreakerSettings(), log), db, nil
	default:
		return nil, nil, errors.Newf("unknown record store %q", cfg.Records.Store)
	}
}

// Store returns the record store
func (p *Pipeline) Store() record.Store {
	return p.store
}

// JobTypes returns the registered job types
func (p *Pipeline) JobTypes() []jobs.JobType {
	types := make([]jobs.JobType, 0, len(p.jobs))
	for _, job := range p.jobs {
		types = append(types, job.Type())
	}
	return types
}

// Run starts every job and blocks until they all stop, either on their
// own or because ctx was cancelled. The returned error matches
// ErrJobsFailed when a job failed.
func (p *Pipeline) Run(ctx context.Context) error {
	manager := p.newManager(p.jobs)

	if p.cfg.Metrics.Addr != "" {
		srv := server.New(p.cfg.Metrics.Addr, server.Deps{
			Scheduler: manager,
			Store:     p.store,
			Metrics:   p.metricsHandler,
		}, p.logger)
		go func() {
			if err := srv.Start(); err != nil {
				p.logger.Error().Err(err).Str("action", "server_failed").Msg("Operations server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				p.logger.Warn().Err(err).Str("action", "server_shutdown_failed").Msg("Operations server did not stop cleanly")
			}
		}()
	}

	return p.runManager(ctx, manager)
}

// RunOnce runs the job registered as jobType a single time
func (p *Pipeline) RunOnce(ctx context.Context, jobType jobs.JobType) (jobs.Outcome, error) {
	var target jobs.Job
	for _, job := range p.jobs {
		if job.Type() == jobType {
			target = job
			break
		}
	}
	if target == nil {
		return 0, errors.Wrapf(ErrUnknownJob, "%s (available: %v)", jobType, p.JobTypes())
	}

	manager := p.newManager([]jobs.Job{onceJob{target}})
	if err := p.runManager(ctx, manager); err != nil {
		return 0, err
	}

	for _, run := range manager.CompletedRuns() {
		if outcome, ok := run.Outcome(); ok {
			return outcome, nil
		}
	}
	return 0, nil
}

// Close releases the database pool
func (p *Pipeline) Close() {
	if p.db != nil {
		p.logger.Info().
			Str("action", "db_pool_close").
			Object("pool", pool.GetStats(p.db)).
			Msg("Closing record database pool")
		p.db.Close()
		p.db = nil
	}
}

func (p *Pipeline) newManager(js []jobs.Job) *jobs.Manager {
	var recordOpts []record.JobOption
	recordOpts = append(recordOpts, record.WithLogger(p.logger))
	managerOpts := []jobs.Option{jobs.WithLogger(p.logger)}
	if p.metrics != nil {
		recordOpts = append(recordOpts, record.WithMetrics(p.metrics))
		managerOpts = append(managerOpts, jobs.WithMetrics(p.metrics))
	}
	managerOpts = append(managerOpts, p.managerOpts...)

	wrapped := make([]jobs.Job, 0, len(js))
	for _, job := range js {
		wrapped = append(wrapped, record.Wrap(job, p.store, p.registry, recordOpts...))
	}
	return jobs.NewManager(wrapped, managerOpts...)
}

func (p *Pipeline) runManager(ctx context.Context, manager *jobs.Manager) error {
	if err := manager.Start(); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		manager.AwaitCompletion()
		close(done)
	}()

	select {
	case <-ctx.Done():
		p.logger.Info().
			Str("action", "pipeline_shutdown").
			Msg("Shutdown requested, stopping jobs")
		manager.Stop()
		<-done
	case <-done:
	}

	p.sweep()

	if err := manager.Err(); err != nil {
		return errors.Mark(err, ErrJobsFailed)
	}
	return nil
}

func recordIDs(ids []record.ID) []fmt.Stringer {
	out := make([]fmt.Stringer, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

// sweep cancels records left in flight by runs that could not write their
// own terminal status
func (p *Pipeline) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	cancelled, err := p.registry.CancelAll(ctx, p.store)
	if err != nil {
		p.logger.Error().
			Err(err).
			Str("action", "record_sweep_failed").
			Stringers("remaining", recordIDs(p.registry.IDs())).
			Msg("Failed to cancel in-flight job records")
		return
	}
	if cancelled > 0 {
		p.logger.Warn().
			Str("action", "record_sweep").
			Int("cancelled", cancelled).
			Msg("Cancelled in-flight job records")
	}
}

// onceJob runs a job a single time regardless of its schedule
type onceJob struct {
	jobs.Job
}

func (onceJob) Schedule() *jobs.Schedule {
	return nil
}

func (o onceJob) Close() error {
	if closer, ok := o.Job.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
