package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/veldtgraph/veldt/internal/errors"
)

// DDL mirrors the embedded backend's layout on Postgres types: node ids are
// BYTEA, event times BIGINT, payloads BYTEA. The metadata table has no
// namespace column; it is process-level bookkeeping.
var createTableStatements = []string{
	`CREATE TABLE IF NOT EXISTS journals (
		namespace TEXT NOT NULL,
		node_id   BYTEA NOT NULL,
		at        BIGINT NOT NULL,
		data      BYTEA NOT NULL,
		PRIMARY KEY (namespace, node_id, at)
	)`,
	`CREATE TABLE IF NOT EXISTS domain_index_events (
		namespace TEXT NOT NULL,
		node_id   BYTEA NOT NULL,
		at        BIGINT NOT NULL,
		dgn_id    BIGINT NOT NULL,
		data      BYTEA NOT NULL,
		PRIMARY KEY (namespace, node_id, at, dgn_id)
	)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		namespace TEXT NOT NULL,
		node_id   BYTEA NOT NULL,
		at        BIGINT NOT NULL,
		data      BYTEA NOT NULL,
		PRIMARY KEY (namespace, node_id, at)
	)`,
	`CREATE TABLE IF NOT EXISTS standing_queries (
		namespace  TEXT NOT NULL,
		query_id   TEXT NOT NULL,
		name       TEXT NOT NULL,
		definition BYTEA,
		PRIMARY KEY (namespace, query_id)
	)`,
	`CREATE TABLE IF NOT EXISTS standing_query_states (
		namespace TEXT NOT NULL,
		query_id  TEXT NOT NULL,
		part_id   TEXT NOT NULL,
		node_id   BYTEA NOT NULL,
		data      BYTEA NOT NULL,
		PRIMARY KEY (namespace, query_id, part_id, node_id)
	)`,
	`CREATE TABLE IF NOT EXISTS query_plans (
		namespace TEXT NOT NULL,
		query_id  TEXT NOT NULL,
		plan      BYTEA NOT NULL,
		PRIMARY KEY (namespace, query_id)
	)`,
	`CREATE TABLE IF NOT EXISTS metadata (
		key   TEXT NOT NULL PRIMARY KEY,
		value BYTEA NOT NULL
	)`,
}

var verifyStatements = []string{
	`SELECT namespace, node_id, at, data FROM journals LIMIT 0`,
	`SELECT namespace, node_id, at, dgn_id, data FROM domain_index_events LIMIT 0`,
	`SELECT namespace, node_id, at, data FROM snapshots LIMIT 0`,
	`SELECT namespace, query_id, name, definition FROM standing_queries LIMIT 0`,
	`SELECT namespace, query_id, part_id, node_id, data FROM standing_query_states LIMIT 0`,
	`SELECT namespace, query_id, plan FROM query_plans LIMIT 0`,
	`SELECT key, value FROM metadata LIMIT 0`,
}

func createSchema(ctx context.Context, db *sql.DB) error {
	for _, ddl := range createTableStatements {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

func verifySchema(ctx context.Context, db *sql.DB) error {
	for _, probe := range verifyStatements {
		rows, err := db.QueryContext(ctx, probe)
		if err != nil {
			return fmt.Errorf("%w: %v", errors.ErrSchemaMismatch, err)
		}
		rows.Close()
	}
	return nil
}
