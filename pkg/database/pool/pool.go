package pool

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/bfd-etl/pipeline/pkg/errors"
)

// Config holds the connection settings used by the record store.
type Config struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
	// StatementTimeout bounds every query; zero leaves the server default.
	StatementTimeout time.Duration
	// SearchPath is prepended to the session search_path when set.
	SearchPath      string
	ApplicationName string
}

// DefaultConfig returns settings sized for record writes from a handful of
// concurrent jobs. Record statements are single-row, so they get a short
// statement timeout.
func DefaultConfig() *Config {
	return &Config{
		MaxConns:          10,
		MinConns:          1,
		MaxConnLifetime:   30 * time.Minute,
		MaxConnIdleTime:   5 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
		ConnectTimeout:    10 * time.Second,
		StatementTimeout:  15 * time.Second,
		ApplicationName:   "bfd-pipeline",
	}
}

// ParseConfig applies cfg on top of the settings parsed from databaseURL.
func ParseConfig(databaseURL string, cfg *Config) (*pgxpool.Config, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxConns <= 0 || cfg.MinConns < 0 || cfg.MinConns > cfg.MaxConns {
		return nil, errors.Newf("invalid pool size min=%d max=%d", cfg.MinConns, cfg.MaxConns)
	}

	pc, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse database URL")
	}

	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.HealthCheckPeriod = cfg.HealthCheckPeriod
	pc.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	params := pc.ConnConfig.RuntimeParams
	if params == nil {
		params = map[string]string{}
		pc.ConnConfig.RuntimeParams = params
	}
	params["application_name"] = cfg.ApplicationName
	params["idle_in_transaction_session_timeout"] = "60000"
	if cfg.StatementTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}
	if cfg.SearchPath != "" {
		params["search_path"] = cfg.SearchPath + ",public"
	}
	return pc, nil
}

// New opens a pool and pings it once.
func New(ctx context.Context, databaseURL string, cfg *Config) (*pgxpool.Pool, error) {
	pc, err := ParseConfig(databaseURL, cfg)
	if err != nil {
		return nil, err
	}

	db, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create pool")
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}
	return db, nil
}

// Stats is a point-in-time snapshot of pool usage.
type Stats struct {
	AcquireCount         int64
	AcquireDuration      time.Duration
	AcquiredConns        int32
	CanceledAcquireCount int64
	IdleConns            int32
	TotalConns           int32
}

// GetStats snapshots db.
func GetStats(db *pgxpool.Pool) Stats {
	s := db.Stat()
	return Stats{
		AcquireCount:         s.AcquireCount(),
		AcquireDuration:      s.AcquireDuration(),
		AcquiredConns:        s.AcquiredConns(),
		CanceledAcquireCount: s.CanceledAcquireCount(),
		IdleConns:            s.IdleConns(),
		TotalConns:           s.TotalConns(),
	}
}

// MarshalZerologObject lets a snapshot be logged with Event.Object.
func (s Stats) MarshalZerologObject(e *zerolog.Event) {
	e.Int64("acquire_count", s.AcquireCount).
		Dur("acquire_duration", s.AcquireDuration).
		Int32("acquired_conns", s.AcquiredConns).
		Int64("canceled_acquire_count", s.CanceledAcquireCount).
		Int32("idle_conns", s.IdleConns).
		Int32("total_conns", s.TotalConns)
}
