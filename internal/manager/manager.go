// Package manager assembles the persistence stack from configuration and
// owns its lifecycle: backend at the bottom, then the latency decorator,
// then the bloom read-avoidance decorator on the outside so that avoided
// reads never reach the layers below.
package manager

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/veldtgraph/veldt/internal/config"
	"github.com/veldtgraph/veldt/internal/logging"
	"github.com/veldtgraph/veldt/internal/model"
	"github.com/veldtgraph/veldt/internal/persistence"
	"github.com/veldtgraph/veldt/internal/persistence/bloom"
	"github.com/veldtgraph/veldt/internal/persistence/duckdb"
	"github.com/veldtgraph/veldt/internal/persistence/instrumented"
	"github.com/veldtgraph/veldt/internal/persistence/memory"
	"github.com/veldtgraph/veldt/internal/persistence/postgres"
)

// schemaVersionKey is the metadata key holding the on-disk layout version.
const schemaVersionKey = "schemaVersion"

// schemaVersion is the layout version this build reads and writes.
var schemaVersion = []byte{1}

// Manager owns a configured persistence stack.
type Manager struct {
	config *config.Config
	agent  persistence.Agent
	meta   persistence.MetadataStore
	instr  *instrumented.Agent
	log    *slog.Logger
}

// New builds the stack described by cfg. The backend's stored schema
// version is checked against this build; a fresh store is stamped.
func New(cfg *config.Config) (*Manager, error) {
	ns := model.Namespace(cfg.Namespace)
	log := logging.Component("manager")

	var base persistence.Agent
	var meta persistence.MetadataStore

	switch cfg.Backend {
	case config.BackendMemory:
		m := memory.New(ns)
		base, meta = m, m
	case config.BackendDuckDB:
		a, err := duckdb.New(duckdb.Config{
			Namespace:       ns,
			Path:            cfg.DuckDB.Path,
			CreateTables:    cfg.DuckDB.CreateTables,
			MaxOpenConns:    cfg.DuckDB.MaxOpenConns,
			MaxIdleConns:    cfg.DuckDB.MaxIdleConns,
			ConnMaxLifetime: cfg.DuckDB.ConnMaxLifetime,
			ReadTimeout:     cfg.DuckDB.ReadTimeout,
			WriteTimeout:    cfg.DuckDB.WriteTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("open duckdb backend: %w", err)
		}
		base, meta = a, a
	case config.BackendPostgres:
		a, err := postgres.New(postgres.Config{
			Namespace:       ns,
			DSN:             cfg.Postgres.DSN,
			CreateTables:    cfg.Postgres.CreateTables,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
			ReadTimeout:     cfg.Postgres.ReadTimeout,
			WriteTimeout:    cfg.Postgres.WriteTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres backend: %w", err)
		}
		base, meta = a, a
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	if err := checkSchemaVersion(context.Background(), meta); err != nil {
		base.Shutdown(context.Background())
		return nil, err
	}

	m := &Manager{config: cfg, agent: base, meta: meta, log: log}

	if cfg.Latency.Enabled {
		m.instr = instrumented.New(m.agent, cfg.Latency.Accuracy)
		m.agent = m.instr
	}
	if cfg.ExistenceFilter.Enabled {
		m.agent = bloom.New(m.agent, bloom.Config{
			ExpectedNodes:     cfg.ExistenceFilter.ExpectedNodes,
			FalsePositiveRate: cfg.ExistenceFilter.FalsePositiveRate,
			JournalEnabled:    cfg.Journal.Enabled,
		})
	}

	log.Info("persistence stack ready",
		"backend", cfg.Backend,
		"namespace", cfg.Namespace,
		"filter", cfg.ExistenceFilter.Enabled,
		"latency", cfg.Latency.Enabled)
	return m, nil
}

// checkSchemaVersion stamps a fresh store and rejects a mismatched one.
func checkSchemaVersion(ctx context.Context, meta persistence.MetadataStore) error {
	stored, err := meta.Metadata(ctx, schemaVersionKey)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if stored == nil {
		if err := meta.SetMetadata(ctx, schemaVersionKey, schemaVersion); err != nil {
			return fmt.Errorf("stamp schema version: %w", err)
		}
		return nil
	}
	if !bytes.Equal(stored, schemaVersion) {
		return fmt.Errorf("store schema version %v, this build expects %v", stored, schemaVersion)
	}
	return nil
}

// Agent returns the fully decorated agent.
func (m *Manager) Agent() persistence.Agent {
	return m.agent
}

// Metadata returns the backend's metadata store. Metadata access bypasses
// the decorators; it is not node-keyed.
func (m *Manager) Metadata() persistence.MetadataStore {
	return m.meta
}

// Stats returns per-operation latency statistics, or nil when latency
// tracking is disabled.
func (m *Manager) Stats() map[string]instrumented.OpStats {
	if m.instr == nil {
		return nil
	}
	return m.instr.Stats()
}

// DeclareReady starts background maintenance on the stack.
func (m *Manager) DeclareReady(isLocal persistence.LocalityPredicate) {
	m.agent.DeclareReady(isLocal)
}

// Stop shuts the stack down.
func (m *Manager) Stop(ctx context.Context) error {
	return m.agent.Shutdown(ctx)
}
