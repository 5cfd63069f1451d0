package record

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/bfd-etl/pipeline/pkg/database"
	"github.com/bfd-etl/pipeline/pkg/errors"
	"github.com/bfd-etl/pipeline/pkg/jobs"
	"github.com/bfd-etl/pipeline/pkg/logger"
)

const recordTable = "job_records"

const recordColumns = "id, job_type, status, created_at, enqueued_at, started_at, ended_at, outcome, failure_type, failure_message"

// PostgresStore persists records in a single table inside a configurable schema
type PostgresStore struct {
	db     database.DBTX
	schema string
	table  string
	logger *logger.Logger
	now    func() time.Time
}

// NewPostgresStore creates a store using schema for its table
func NewPostgresStore(db database.DBTX, schema string) *PostgresStore {
	if schema == "" {
		schema = "public"
	}
	return &PostgresStore{
		db:     db,
		schema: schema,
		table:  pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(recordTable),
		logger: logger.New("job-record-store"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Table returns the quoted, schema-qualified table name
func (s *PostgresStore) Table() string {
	return s.table
}

// Migrate creates the schema, table and indexes if they do not exist
func (s *PostgresStore) Migrate(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pq.QuoteIdentifier(s.schema)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id              UUID PRIMARY KEY,
	job_type        TEXT NOT NULL,
	status          TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	enqueued_at     TIMESTAMPTZ,
	started_at      TIMESTAMPTZ,
	ended_at        TIMESTAMPTZ,
	outcome         TEXT,
	failure_type    TEXT,
	failure_message TEXT
)`, s.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (job_type, created_at DESC)",
			pq.QuoteIdentifier(recordTable+"_type_created_idx"), s.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (status, created_at)",
			pq.QuoteIdentifier(recordTable+"_status_created_idx"), s.table),
	}

	for _, stmt := range statements {
		start := time.Now()
		_, err := s.db.Exec(ctx, stmt)
		s.logger.LogDatabaseOperation("migrate", recordTable, 0, time.Since(start), err)
		if err != nil {
			return errors.Wrapf(err, "failed to migrate %s", s.table)
		}
	}
	return nil
}

func (s *PostgresStore) SubmitPendingJob(ctx context.Context, jobType jobs.JobType) (*JobRecord, error) {
	rec := NewJobRecord(jobType, s.now())

	query := fmt.Sprintf("INSERT INTO %s (id, job_type, status, created_at) VALUES ($1, $2, $3, $4)", s.table)
	start := time.Now()
	tag, err := s.db.Exec(ctx, query, rec.ID, string(rec.JobType), string(rec.Status), rec.CreatedAt)
	s.logger.LogDatabaseOperation("insert", recordTable, tag.RowsAffected(), time.Since(start), err)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to submit record for job %s", jobType)
	}
	return rec, nil
}

func (s *PostgresStore) RecordJobEnqueue(ctx context.Context, id ID) error {
	return s.transition(ctx, id, StatusEnqueued, "enqueued_at = $3", s.now())
}

func (s *PostgresStore) RecordJobStart(ctx context.Context, id ID) error {
	return s.transition(ctx, id, StatusStarted, "started_at = $3", s.now())
}

func (s *PostgresStore) RecordJobCompletion(ctx context.Context, id ID, outcome jobs.Outcome) error {
	if !outcome.Valid() {
		return errors.Newf("record %s: invalid outcome %d", id, int(outcome))
	}
	return s.transition(ctx, id, StatusCompleted, "ended_at = $3, outcome = $4", s.now(), outcome.String())
}

func (s *PostgresStore) RecordJobFailure(ctx context.Context, id ID, failure Failure) error {
	return s.transition(ctx, id, StatusFailed, "ended_at = $3, failure_type = $4, failure_message = $5",
		s.now(), failure.Type, failure.Message)
}

func (s *PostgresStore) RecordJobCancellation(ctx context.Context, id ID) error {
	return s.transition(ctx, id, StatusCancelled, "ended_at = $3", s.now())
}

// transition updates a record only if its current status allows moving to
// to. Placeholders $1 and $2 are the id and new status; set starts at $3.
func (s *PostgresStore) transition(ctx context.Context, id ID, to Status, set string, args ...interface{}) error {
	from := statusStrings(allowedFrom[to])
	fromPlaceholder := len(args) + 3
	query := fmt.Sprintf("UPDATE %s SET status = $2, %s WHERE id = $1 AND status = ANY($%d)", s.table, set, fromPlaceholder)

	params := append([]interface{}{id, string(to)}, args...)
	params = append(params, from)

	start := time.Now()
	tag, err := s.db.Exec(ctx, query, params...)
	s.logger.LogDatabaseOperation("update", recordTable, tag.RowsAffected(), time.Since(start), err)
	if err != nil {
		return errors.Wrapf(err, "failed to mark record %s %s", id, to)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	current, err := s.currentStatus(ctx, id)
	if err != nil {
		return err
	}
	return errors.Wrapf(ErrInvalidTransition, "record %s: %s -> %s", id, current, to)
}

func (s *PostgresStore) currentStatus(ctx context.Context, id ID) (Status, error) {
	var status string
	err := s.db.QueryRow(ctx, fmt.Sprintf("SELECT status FROM %s WHERE id = $1", s.table), id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", errors.Wrapf(ErrNotFound, "record %s", id)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to read status of record %s", id)
	}
	return Status(status), nil
}

func (s *PostgresStore) Get(ctx context.Context, id ID) (*JobRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", recordColumns, s.table)
	rec, err := scanRecord(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "record %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get record %s", id)
	}
	return rec, nil
}

func (s *PostgresStore) FindPendingJobs(ctx context.Context, limit int) ([]*JobRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE status = ANY($1) ORDER BY created_at LIMIT $2", recordColumns, s.table)

	rows, err := s.db.Query(ctx, query, statusStrings(pendingStatuses), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query pending records")
	}
	defer rows.Close()

	records := make([]*JobRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan pending record")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate pending records")
	}
	return records, nil
}

func (s *PostgresStore) FindMostRecent(ctx context.Context, jobType jobs.JobType) (*JobRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE job_type = $1 ORDER BY created_at DESC LIMIT 1", recordColumns, s.table)
	rec, err := scanRecord(s.db.QueryRow(ctx, query, string(jobType)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "no records for job %s", jobType)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find most recent record for job %s", jobType)
	}
	return rec, nil
}

func (s *PostgresStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE status = ANY($1) AND ended_at < $2", s.table)

	start := time.Now()
	tag, err := s.db.Exec(ctx, query, statusStrings(terminalStatuses), cutoff)
	s.logger.LogDatabaseOperation("delete", recordTable, tag.RowsAffected(), time.Since(start), err)
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune records")
	}
	return tag.RowsAffected(), nil
}

func scanRecord(row pgx.Row) (*JobRecord, error) {
	var (
		rec                        JobRecord
		jobType, status            string
		outcome                    *string
		failureType, failureReason *string
	)
	err := row.Scan(&rec.ID, &jobType, &status, &rec.CreatedAt, &rec.EnqueuedAt, &rec.StartedAt, &rec.EndedAt,
		&outcome, &failureType, &failureReason)
	if err != nil {
		return nil, err
	}

	rec.JobType = jobs.JobType(jobType)
	rec.Status = Status(status)
	if outcome != nil {
		parsed, err := jobs.ParseOutcome(*outcome)
		if err != nil {
			return nil, err
		}
		rec.Outcome = parsed
	}
	if failureType != nil || failureReason != nil {
		rec.Failure = &Failure{Type: deref(failureType), Message: deref(failureReason)}
	}
	return &rec, nil
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
