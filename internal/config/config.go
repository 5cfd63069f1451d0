package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bfd-etl/pipeline/pkg/database/pool"
	"github.com/bfd-etl/pipeline/pkg/errors"
	"github.com/bfd-etl/pipeline/pkg/jobs"
	"github.com/bfd-etl/pipeline/pkg/jobs/record"
)

// Record store kinds
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Environment string
	LogLevel    string
	Database    DatabaseConfig
	Records     RecordConfig
	Metrics     MetricsConfig
}

type DatabaseConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

type RecordConfig struct {
	Store              string
	Schema             string
	Retention          time.Duration
	PruneSchedule      string
	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration
}

type MetricsConfig struct {
	// Addr is the listen address of the metrics endpoint; empty disables it
	Addr string
}

// SetDefaults configures default values for every key
func SetDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log.level", "info")

	v.SetDefault("database.url", "")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.user", "bfd")
	v.SetDefault("db.password", "bfd")
	v.SetDefault("db.name", "bfd_pipeline")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 1)

	v.SetDefault("record.store", StoreMemory)
	v.SetDefault("record.schema", "public")
	v.SetDefault("record.retention", 30*24*time.Hour)
	v.SetDefault("prune.schedule", "@every 1h")
	v.SetDefault("breaker.max_failures", 5)
	v.SetDefault("breaker.timeout", 30*time.Second)

	v.SetDefault("metrics.addr", "")
}

// NewViper returns a viper instance reading the environment, where key
// "db.host" maps to DB_HOST
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads the configuration from the environment
func Load() (*Config, error) {
	return LoadWithViper(NewViper())
}

// LoadWithViper reads the configuration from v and validates it
func LoadWithViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Environment: v.GetString("environment"),
		LogLevel:    v.GetString("log.level"),
		Database: DatabaseConfig{
			URL:      v.GetString("database.url"),
			Host:     v.GetString("db.host"),
			Port:     v.GetString("db.port"),
			User:     v.GetString("db.user"),
			Password: v.GetString("db.password"),
			DBName:   v.GetString("db.name"),
			SSLMode:  v.GetString("db.sslmode"),
			MaxConns: v.GetInt32("db.max_conns"),
			MinConns: v.GetInt32("db.min_conns"),
		},
		Records: RecordConfig{
			Store:              strings.ToLower(v.GetString("record.store")),
			Schema:             v.GetString("record.schema"),
			Retention:          v.GetDuration("record.retention"),
			PruneSchedule:      v.GetString("prune.schedule"),
			BreakerMaxFailures: v.GetUint32("breaker.max_failures"),
			BreakerTimeout:     v.GetDuration("breaker.timeout"),
		},
		Metrics: MetricsConfig{
			Addr: v.GetString("metrics.addr"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot start with
func (c *Config) Validate() error {
	switch c.Records.Store {
	case StoreMemory, StorePostgres:
	default:
		return errors.Newf("unknown record store %q (want %s or %s)", c.Records.Store, StoreMemory, StorePostgres)
	}
	if c.Records.Retention <= 0 {
		return errors.Newf("record retention must be positive, got %s", c.Records.Retention)
	}
	if _, err := c.PruneJobSchedule(); err != nil {
		return err
	}
	if c.Database.MaxConns <= 0 || c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
		return errors.Newf("invalid connection limits: min %d, max %d", c.Database.MinConns, c.Database.MaxConns)
	}
	return nil
}

// DatabaseURL returns DATABASE_URL when set, otherwise a URL built from the DB_* settings
func (c *Config) DatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}

	return "postgres://" + c.Database.User + ":" + c.Database.Password +
		"@" + c.Database.Host + ":" + c.Database.Port +
		"/" + c.Database.DBName + "?sslmode=" + c.Database.SSLMode
}

// PruneJobSchedule parses the record prune schedule
func (c *Config) PruneJobSchedule() (*jobs.Schedule, error) {
	schedule, err := jobs.ParseSchedule(c.Records.PruneSchedule)
	if err != nil {
		return nil, errors.Wrap(err, "invalid PRUNE_SCHEDULE")
	}
	return schedule, nil
}

// PoolConfig returns connection pool settings
func (c *Config) PoolConfig() *pool.Config {
	cfg := pool.DefaultConfig()
	cfg.MaxConns = c.Database.MaxConns
	cfg.MinConns = c.Database.MinConns
	cfg.SearchPath = c.Records.Schema
	return cfg
}

// BreakerSettings returns the record store circuit breaker settings
func (c *Config) BreakerSettings() record.BreakerSettings {
	return record.BreakerSettings{
		MaxFailures: c.Records.BreakerMaxFailures,
		Timeout:     c.Records.BreakerTimeout,
	}
}
