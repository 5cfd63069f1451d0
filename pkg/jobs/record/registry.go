package record

import (
	"context"
	"sort"
	"sync"

	"github.com/bfd-etl/pipeline/pkg/errors"
)

// Registry tracks records whose runs are in flight. Its lock is the only
// synchronization between a run's terminal write and a concurrent sweep,
// so a record id leaves the registry at most once.
type Registry struct {
	mu      sync.Mutex
	records map[ID]*JobRecord
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{records: make(map[ID]*JobRecord)}
}

// Add registers an in-flight record
func (r *Registry) Add(rec *JobRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.ID] = rec
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// IDs returns the in-flight ids in a stable order
func (r *Registry) IDs() []ID {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]ID, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
	return ids
}

// RemoveIf runs fn under the registry lock if id is still registered and
// removes id when fn succeeds. It reports whether fn ran.
func (r *Registry) RemoveIf(id ID, fn func(rec *JobRecord) error) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return false, nil
	}
	if err := fn(rec); err != nil {
		return true, err
	}
	delete(r.records, id)
	return true, nil
}

// CancelAll records a cancellation for every in-flight record and removes
// it. It returns the number of records cancelled.
func (r *Registry) CancelAll(ctx context.Context, store Store) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		cancelled int
		firstErr  error
	)
	for id := range r.records {
		err := store.RecordJobCancellation(ctx, id)
		if err != nil && !errors.Is(err, ErrInvalidTransition) {
			if firstErr == nil {
				firstErr = err
			} else {
				firstErr = errors.WithSecondaryError(firstErr, err)
			}
			continue
		}
		delete(r.records, id)
		if err == nil {
			cancelled++
		}
	}
	return cancelled, firstErr
}
