package record

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/bfd-etl/pipeline/pkg/errors"
	"github.com/bfd-etl/pipeline/pkg/jobs"
	"github.com/bfd-etl/pipeline/pkg/logger"
)

// BreakerSettings configures BreakerStore
type BreakerSettings struct {
	// MaxFailures is the number of consecutive store failures that opens the breaker
	MaxFailures uint32
	// Timeout is how long the breaker stays open before letting a probe through
	Timeout time.Duration
}

// DefaultBreakerSettings returns settings suited to a local database
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxFailures: 5,
		Timeout:     30 * time.Second,
	}
}

// BreakerStore stops calling a failing store until it recovers. While
// open, every call fails with gobreaker.ErrOpenState.
type BreakerStore struct {
	store Store
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerStore wraps store with a circuit breaker
func NewBreakerStore(store Store, settings BreakerSettings, l *logger.Logger) *BreakerStore {
	if settings.MaxFailures == 0 {
		settings.MaxFailures = DefaultBreakerSettings().MaxFailures
	}
	if l == nil {
		l = logger.New("job-record-store")
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "job-record-store",
		Timeout: settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.MaxFailures
		},
		IsSuccessful: isStoreHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.Warn().
				Str("action", "breaker_state_change").
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Record store circuit breaker changed state")
		},
	})

	return &BreakerStore{store: store, cb: cb}
}

// State returns the breaker state
func (b *BreakerStore) State() gobreaker.State {
	return b.cb.State()
}

// isStoreHealthy treats caller-side errors as successes so only store
// outages count toward opening the breaker
func isStoreHealthy(err error) bool {
	return err == nil ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, context.Canceled)
}

func execute[T any](b *BreakerStore, fn func() (T, error)) (T, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	value, _ := res.(T)
	return value, err
}

func executeErr(b *BreakerStore, fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

func (b *BreakerStore) SubmitPendingJob(ctx context.Context, jobType jobs.JobType) (*JobRecord, error) {
	return execute(b, func() (*JobRecord, error) {
		return b.store.SubmitPendingJob(ctx, jobType)
	})
}

func (b *BreakerStore) RecordJobEnqueue(ctx context.Context, id ID) error {
	return executeErr(b, func() error { return b.store.RecordJobEnqueue(ctx, id) })
}

func (b *BreakerStore) RecordJobStart(ctx context.Context, id ID) error {
	return executeErr(b, func() error { return b.store.RecordJobStart(ctx, id) })
}

func (b *BreakerStore) RecordJobCompletion(ctx context.Context, id ID, outcome jobs.Outcome) error {
	return executeErr(b, func() error { return b.store.RecordJobCompletion(ctx, id, outcome) })
}

func (b *BreakerStore) RecordJobFailure(ctx context.Context, id ID, failure Failure) error {
	return executeErr(b, func() error { return b.store.RecordJobFailure(ctx, id, failure) })
}

func (b *BreakerStore) RecordJobCancellation(ctx context.Context, id ID) error {
	return executeErr(b, func() error { return b.store.RecordJobCancellation(ctx, id) })
}

func (b *BreakerStore) Get(ctx context.Context, id ID) (*JobRecord, error) {
	return execute(b, func() (*JobRecord, error) { return b.store.Get(ctx, id) })
}

func (b *BreakerStore) FindPendingJobs(ctx context.Context, limit int) ([]*JobRecord, error) {
	return execute(b, func() ([]*JobRecord, error) { return b.store.FindPendingJobs(ctx, limit) })
}

func (b *BreakerStore) FindMostRecent(ctx context.Context, jobType jobs.JobType) (*JobRecord, error) {
	return execute(b, func() (*JobRecord, error) { return b.store.FindMostRecent(ctx, jobType) })
}

func (b *BreakerStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	return execute(b, func() (int64, error) { return b.store.Prune(ctx, cutoff) })
}
