package record

import (
	"context"
	"time"

	"github.com/bfd-etl/pipeline/pkg/errors"
	"github.com/bfd-etl/pipeline/pkg/jobs"
)

// WaitPollInterval is how often WaitForJobs re-reads records
const WaitPollInterval = 100 * time.Millisecond

// Store persists job records. Each transition method fails with
// ErrNotFound for an unknown id and ErrInvalidTransition when the record
// is not in a status the transition can start from.
type Store interface {
	// SubmitPendingJob creates a record in the created state
	SubmitPendingJob(ctx context.Context, jobType jobs.JobType) (*JobRecord, error)

	RecordJobEnqueue(ctx context.Context, id ID) error
	RecordJobStart(ctx context.Context, id ID) error
	RecordJobCompletion(ctx context.Context, id ID, outcome jobs.Outcome) error
	RecordJobFailure(ctx context.Context, id ID, failure Failure) error
	RecordJobCancellation(ctx context.Context, id ID) error

	Get(ctx context.Context, id ID) (*JobRecord, error)

	// FindPendingJobs returns up to limit non-terminal records, oldest first
	FindPendingJobs(ctx context.Context, limit int) ([]*JobRecord, error)

	// FindMostRecent returns the newest record of jobType
	FindMostRecent(ctx context.Context, jobType jobs.JobType) (*JobRecord, error)

	// Prune deletes terminal records that ended before cutoff
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// WaitForJobs blocks until every record in ids is terminal or ctx is done
func WaitForJobs(ctx context.Context, store Store, ids ...ID) error {
	ticker := time.NewTicker(WaitPollInterval)
	defer ticker.Stop()

	remaining := append([]ID(nil), ids...)
	for {
		pending := remaining[:0]
		for _, id := range remaining {
			rec, err := store.Get(ctx, id)
			if err != nil {
				return errors.Wrapf(err, "waiting for job record %s", id)
			}
			if !rec.Status.IsTerminal() {
				pending = append(pending, id)
			}
		}
		remaining = pending
		if len(remaining) == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
