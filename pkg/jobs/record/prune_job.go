package record

import (
	"context"
	"time"

	"github.com/bfd-etl/pipeline/pkg/errors"
	"github.com/bfd-etl/pipeline/pkg/jobs"
	"github.com/bfd-etl/pipeline/pkg/logger"
)

// PruneJobType identifies the record retention job
var PruneJobType = jobs.NewJobType("record prune")

// PruneJob deletes terminal records older than a retention window
type PruneJob struct {
	store     Store
	retention time.Duration
	schedule  *jobs.Schedule
	logger    *logger.Logger
	now       func() time.Time
}

// NewPruneJob creates the retention job. A nil schedule runs it once.
func NewPruneJob(store Store, retention time.Duration, schedule *jobs.Schedule) *PruneJob {
	return &PruneJob{
		store:     store,
		retention: retention,
		schedule:  schedule,
		logger:    logger.New("record-prune").WithJob(PruneJobType.String()),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (p *PruneJob) Type() jobs.JobType {
	return PruneJobType
}

func (p *PruneJob) Schedule() *jobs.Schedule {
	return p.schedule
}

func (p *PruneJob) IsInterruptible() bool {
	return true
}

func (p *PruneJob) Call(ctx context.Context) (jobs.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	cutoff := p.now().Add(-p.retention)
	removed, err := p.store.Prune(ctx, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune job records")
	}

	p.logger.Info().
		Str("action", "record_prune").
		Time("cutoff", cutoff).
		Int64("removed", removed).
		Msg("Pruned job records")

	if removed == 0 {
		return jobs.NothingToDo, nil
	}
	return jobs.WorkDone, nil
}
