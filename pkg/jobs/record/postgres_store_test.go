package record

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bfd-etl/pipeline/pkg/jobs"
	"github.com/bfd-etl/pipeline/pkg/logger"
)

type execCall struct {
	query string
	args  []interface{}
}

// MockDB implements database.DBTX for testing
type MockDB struct {
	mu       sync.Mutex
	execs    []execCall
	execTags []string
	execErr  error
	row      *MockRow
	rows     [][]interface{}
	queries  []string
}

func (m *MockDB) Exec(ctx context.Context, query string, args ...interface{}) (pgconn.CommandTag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.execs = append(m.execs, execCall{query: query, args: args})
	if m.execErr != nil {
		return pgconn.CommandTag{}, m.execErr
	}
	tag := "UPDATE 1"
	if len(m.execTags) > 0 {
		tag = m.execTags[0]
		m.execTags = m.execTags[1:]
	}
	return pgconn.NewCommandTag(tag), nil
}

func (m *MockDB) Query(ctx context.Context, query string, args ...interface{}) (pgx.Rows, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries = append(m.queries, query)
	return &MockRows{rows: m.rows, index: -1}, nil
}

func (m *MockDB) QueryRow(ctx context.Context, query string, args ...interface{}) pgx.Row {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries = append(m.queries, query)
	if m.row == nil {
		return &MockRow{err: pgx.ErrNoRows}
	}
	return m.row
}

// MockRow implements pgx.Row for testing
type MockRow struct {
	values []interface{}
	err    error
}

func (m *MockRow) Scan(dest ...interface{}) error {
	if m.err != nil {
		return m.err
	}
	return assign(m.values, dest)
}

// MockRows implements pgx.Rows over in-memory values
type MockRows struct {
	rows  [][]interface{}
	index int
}

func (m *MockRows) Close()                                       {}
func (m *MockRows) Err() error                                   { return nil }
func (m *MockRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (m *MockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (m *MockRows) RawValues() [][]byte                          { return nil }
func (m *MockRows) Conn() *pgx.Conn                              { return nil }

func (m *MockRows) Next() bool {
	m.index++
	return m.index < len(m.rows)
}

func (m *MockRows) Scan(dest ...interface{}) error {
	return assign(m.rows[m.index], dest)
}

func (m *MockRows) Values() ([]interface{}, error) {
	return m.rows[m.index], nil
}

func assign(values []interface{}, dest []interface{}) error {
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		if i >= len(values) || values[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(reflect.ValueOf(values[i]))
	}
	return nil
}

func newTestPostgresStore(db *MockDB) *PostgresStore {
	store := NewPostgresStore(db, "pipeline")
	store.logger = logger.Nop()
	store.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return store
}

func recordRow(id ID, jobType, status string, outcome *string) []interface{} {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	started := created.Add(time.Second)
	ended := created.Add(3 * time.Second)
	return []interface{}{id, jobType, status, created, nil, &started, &ended, outcome, nil, nil}
}

func TestPostgresStore_TableIsQuoted(t *testing.T) {
	assert.Equal(t, `"pipeline"."job_records"`, NewPostgresStore(&MockDB{}, "pipeline").Table())
	assert.Equal(t, `"we""ird"."job_records"`, NewPostgresStore(&MockDB{}, `we"ird`).Table())
	assert.Equal(t, `"public"."job_records"`, NewPostgresStore(&MockDB{}, "").Table())
}

func TestPostgresStore_Migrate(t *testing.T) {
	db := &MockDB{}
	store := newTestPostgresStore(db)

	require.NoError(t, store.Migrate(context.Background()))

	require.Len(t, db.execs, 4)
	assert.Equal(t, `CREATE SCHEMA IF NOT EXISTS "pipeline"`, db.execs[0].query)
	assert.Contains(t, db.execs[1].query, `CREATE TABLE IF NOT EXISTS "pipeline"."job_records"`)
	assert.Contains(t, db.execs[2].query, "CREATE INDEX IF NOT EXISTS")
}

func TestPostgresStore_SubmitPendingJob(t *testing.T) {
	db := &MockDB{execTags: []string{"INSERT 0 1"}}
	store := newTestPostgresStore(db)

	rec, err := store.SubmitPendingJob(context.Background(), "rif-load")
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, rec.Status)

	require.Len(t, db.execs, 1)
	assert.True(t, strings.HasPrefix(db.execs[0].query, `INSERT INTO "pipeline"."job_records"`))
	assert.Equal(t, []interface{}{rec.ID, "rif-load", "created", rec.CreatedAt}, db.execs[0].args)
}

func TestPostgresStore_TransitionGuardsStatus(t *testing.T) {
	db := &MockDB{}
	store := newTestPostgresStore(db)
	id := NewID()

	require.NoError(t, store.RecordJobEnqueue(context.Background(), id))
	require.NoError(t, store.RecordJobFailure(context.Background(), id, Failure{Type: "*errors.errorString", Message: "boom"}))

	require.Len(t, db.execs, 2)
	assert.Contains(t, db.execs[0].query, "WHERE id = $1 AND status = ANY($4)")
	assert.Equal(t, []string{"created"}, db.execs[0].args[3])
	assert.Contains(t, db.execs[1].query, "status = ANY($6)")
	assert.Equal(t, "failed", db.execs[1].args[1])
	assert.Equal(t, "boom", db.execs[1].args[4])
}

func TestPostgresStore_TransitionRejected(t *testing.T) {
	db := &MockDB{
		execTags: []string{"UPDATE 0"},
		row:      &MockRow{values: []interface{}{"completed"}},
	}
	store := newTestPostgresStore(db)

	err := store.RecordJobCancellation(context.Background(), NewID())
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "completed -> cancelled")
}

func TestPostgresStore_TransitionUnknownRecord(t *testing.T) {
	db := &MockDB{execTags: []string{"UPDATE 0"}}
	store := newTestPostgresStore(db)

	err := store.RecordJobStart(context.Background(), NewID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_CompletionRequiresValidOutcome(t *testing.T) {
	db := &MockDB{}
	store := newTestPostgresStore(db)

	assert.Error(t, store.RecordJobCompletion(context.Background(), NewID(), 0))
	assert.Empty(t, db.execs)

	require.NoError(t, store.RecordJobCompletion(context.Background(), NewID(), jobs.NothingToDo))
	assert.Equal(t, "nothing_to_do", db.execs[0].args[3])
}

func TestPostgresStore_Get(t *testing.T) {
	id := NewID()
	outcome := "work_done"
	db := &MockDB{row: &MockRow{values: recordRow(id, "rif-load", "completed", &outcome)}}
	store := newTestPostgresStore(db)

	rec, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, jobs.JobType("rif-load"), rec.JobType)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, jobs.WorkDone, rec.Outcome)
	assert.Nil(t, rec.EnqueuedAt)
	assert.Nil(t, rec.Failure)
	assert.Equal(t, 2*time.Second, rec.Duration())
}

func TestPostgresStore_NotFound(t *testing.T) {
	store := newTestPostgresStore(&MockDB{})

	_, err := store.Get(context.Background(), NewID())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.FindMostRecent(context.Background(), "rif-load")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_FindPendingJobs(t *testing.T) {
	first, second := NewID(), NewID()
	db := &MockDB{rows: [][]interface{}{
		recordRow(first, "a", "started", nil),
		recordRow(second, "b", "created", nil),
	}}
	store := newTestPostgresStore(db)

	records, err := store.FindPendingJobs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, first, records[0].ID)
	assert.Equal(t, StatusCreated, records[1].Status)
	assert.Contains(t, db.queries[0], "ORDER BY created_at LIMIT $2")
}

func TestPostgresStore_Prune(t *testing.T) {
	db := &MockDB{execTags: []string{"DELETE 7"}}
	store := newTestPostgresStore(db)

	removed, err := store.Prune(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(7), removed)
	assert.Equal(t, []string{"completed", "failed", "cancelled"}, db.execs[0].args[0])
}
