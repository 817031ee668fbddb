// Package config loads and validates the persistence layer configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names accepted by Config.Backend.
const (
	BackendMemory   = "memory"
	BackendDuckDB   = "duckdb"
	BackendPostgres = "postgres"
)

// Config represents the complete persistence configuration.
type Config struct {
	// Namespace is the graph namespace this agent serves.
	Namespace string `yaml:"namespace"`

	// Backend selects the storage backend: memory, duckdb or postgres.
	Backend string `yaml:"backend"`

	// Journal configures event journaling.
	Journal JournalConfig `yaml:"journal"`

	// DuckDB configures the embedded DuckDB backend.
	DuckDB DuckDBConfig `yaml:"duckdb"`

	// Postgres configures the PostgreSQL backend.
	Postgres PostgresConfig `yaml:"postgres"`

	// ExistenceFilter configures the bloom-filtered read-avoidance decorator.
	ExistenceFilter FilterConfig `yaml:"existence_filter"`

	// Latency configures operation latency tracking.
	Latency LatencyConfig `yaml:"latency"`

	// Export configures Parquet maintenance exports.
	Export ExportConfig `yaml:"export"`
}

// JournalConfig configures event journaling.
type JournalConfig struct {
	// Enabled selects journaling mode. When false the graph runs
	// snapshot-only and warm-up scans snapshot ids instead of journal ids.
	Enabled bool `yaml:"enabled"`
}

// DuckDBConfig configures the embedded DuckDB backend.
type DuckDBConfig struct {
	// Path is the database file path. Empty means in-memory.
	Path string `yaml:"path"`

	// CreateTables enables idempotent schema setup at construction.
	CreateTables bool `yaml:"create_tables"`

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int `yaml:"max_idle_conns"`

	// ConnMaxLifetime is the maximum lifetime of a connection.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// ReadTimeout bounds each read statement. Zero disables the bound.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds each write statement. Zero disables the bound.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PostgresConfig configures the PostgreSQL backend.
type PostgresConfig struct {
	// DSN is the connection string, lib/pq format.
	DSN string `yaml:"dsn"`

	// CreateTables enables idempotent schema setup at construction.
	CreateTables bool `yaml:"create_tables"`

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int `yaml:"max_idle_conns"`

	// ConnMaxLifetime is the maximum lifetime of a connection.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// ReadTimeout bounds each read statement. Zero disables the bound.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds each write statement. Zero disables the bound.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// FilterConfig configures the bloom-filtered decorator.
type FilterConfig struct {
	// Enabled wraps the backend in the read-avoidance decorator.
	Enabled bool `yaml:"enabled"`

	// ExpectedNodes sizes the filter. The filter is never resized during
	// the life of the agent.
	ExpectedNodes uint `yaml:"expected_nodes"`

	// FalsePositiveRate is the target false-positive rate (0, 1).
	FalsePositiveRate float64 `yaml:"false_positive_rate"`
}

// LatencyConfig configures operation latency tracking.
type LatencyConfig struct {
	// Enabled wraps the backend in the latency-tracking decorator.
	Enabled bool `yaml:"enabled"`

	// Accuracy is the DDSketch relative accuracy (0.01 = 1% error).
	Accuracy float64 `yaml:"accuracy"`
}

// ExportConfig configures Parquet maintenance exports.
type ExportConfig struct {
	// Compression algorithm: snappy, zstd, lz4, gzip, none.
	Compression string `yaml:"compression"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Namespace: "default",
		Backend:   BackendDuckDB,
		Journal: JournalConfig{
			Enabled: true,
		},
		DuckDB: DuckDBConfig{
			Path:            "veldt.db",
			CreateTables:    true,
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
		},
		Postgres: PostgresConfig{
			CreateTables:    true,
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
		},
		ExistenceFilter: FilterConfig{
			Enabled:           true,
			ExpectedNodes:     10_000_000,
			FalsePositiveRate: 0.1,
		},
		Latency: LatencyConfig{
			Enabled:  false,
			Accuracy: 0.01,
		},
		Export: ExportConfig{
			Compression: "zstd",
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Namespace == "" {
		return fmt.Errorf("namespace must not be empty")
	}

	switch c.Backend {
	case BackendMemory, BackendDuckDB, BackendPostgres:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	if c.Backend == BackendPostgres && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres backend requires a dsn")
	}

	if c.ExistenceFilter.Enabled {
		if c.ExistenceFilter.ExpectedNodes == 0 {
			return fmt.Errorf("existence filter expected_nodes must be positive")
		}
		fp := c.ExistenceFilter.FalsePositiveRate
		if fp <= 0 || fp >= 1 {
			return fmt.Errorf("existence filter false_positive_rate must be in (0, 1), got %v", fp)
		}
	}

	if c.Latency.Enabled {
		if c.Latency.Accuracy <= 0 || c.Latency.Accuracy >= 1 {
			return fmt.Errorf("latency accuracy must be in (0, 1), got %v", c.Latency.Accuracy)
		}
	}

	for _, d := range []time.Duration{
		c.DuckDB.ReadTimeout, c.DuckDB.WriteTimeout,
		c.Postgres.ReadTimeout, c.Postgres.WriteTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("timeouts must not be negative")
		}
	}

	return nil
}
