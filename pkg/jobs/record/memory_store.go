package record

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bfd-etl/pipeline/pkg/errors"
	"github.com/bfd-etl/pipeline/pkg/jobs"
)

// MemoryStore keeps records in process memory
type MemoryStore struct {
	mu      sync.Mutex
	records map[ID]*JobRecord
	now     func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[ID]*JobRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) SubmitPendingJob(_ context.Context, jobType jobs.JobType) (*JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := NewJobRecord(jobType, s.now())
	s.records[rec.ID] = rec
	return rec.Clone(), nil
}

func (s *MemoryStore) RecordJobEnqueue(_ context.Context, id ID) error {
	return s.update(id, func(rec *JobRecord, now time.Time) error {
		return rec.Enqueue(now)
	})
}

func (s *MemoryStore) RecordJobStart(_ context.Context, id ID) error {
	return s.update(id, func(rec *JobRecord, now time.Time) error {
		return rec.Start(now)
	})
}

func (s *MemoryStore) RecordJobCompletion(_ context.Context, id ID, outcome jobs.Outcome) error {
	return s.update(id, func(rec *JobRecord, now time.Time) error {
		return rec.Complete(now, outcome)
	})
}

func (s *MemoryStore) RecordJobFailure(_ context.Context, id ID, failure Failure) error {
	return s.update(id, func(rec *JobRecord, now time.Time) error {
		return rec.Fail(now, failure)
	})
}

func (s *MemoryStore) RecordJobCancellation(_ context.Context, id ID) error {
	return s.update(id, func(rec *JobRecord, now time.Time) error {
		return rec.Cancel(now)
	})
}

func (s *MemoryStore) Get(_ context.Context, id ID) (*JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "record %s", id)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) FindPendingJobs(_ context.Context, limit int) ([]*JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]*JobRecord, 0)
	for _, rec := range s.records {
		if !rec.Status.IsTerminal() {
			pending = append(pending, rec.Clone())
		}
	}
	sortOldestFirst(pending)
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *MemoryStore) FindMostRecent(_ context.Context, jobType jobs.JobType) (*JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var newest *JobRecord
	for _, rec := range s.records {
		if rec.JobType != jobType {
			continue
		}
		if newest == nil || rec.CreatedAt.After(newest.CreatedAt) {
			newest = rec
		}
	}
	if newest == nil {
		return nil, errors.Wrapf(ErrNotFound, "no records for job %s", jobType)
	}
	return newest.Clone(), nil
}

func (s *MemoryStore) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, rec := range s.records {
		if rec.Status.IsTerminal() && rec.EndedAt != nil && rec.EndedAt.Before(cutoff) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) update(id ID, fn func(rec *JobRecord, now time.Time) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "record %s", id)
	}
	return fn(rec, s.now())
}

func sortOldestFirst(records []*JobRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
