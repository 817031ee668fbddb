package duckdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/veldtgraph/veldt/internal/errors"
)

// DDL for all tables, written to be idempotent. Node ids are raw 16-byte
// blobs; event times are BIGINT; payloads are opaque blobs. The metadata
// table deliberately has no namespace column: metadata is process-level
// bookkeeping with a lifecycle independent from node data.
var createTableStatements = []string{
	`CREATE TABLE IF NOT EXISTS journals (
		namespace VARCHAR NOT NULL,
		node_id   BLOB NOT NULL,
		at        BIGINT NOT NULL,
		data      BLOB NOT NULL,
		PRIMARY KEY (namespace, node_id, at)
	)`,
	`CREATE TABLE IF NOT EXISTS domain_index_events (
		namespace VARCHAR NOT NULL,
		node_id   BLOB NOT NULL,
		at        BIGINT NOT NULL,
		dgn_id    BIGINT NOT NULL,
		data      BLOB NOT NULL,
		PRIMARY KEY (namespace, node_id, at, dgn_id)
	)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		namespace VARCHAR NOT NULL,
		node_id   BLOB NOT NULL,
		at        BIGINT NOT NULL,
		data      BLOB NOT NULL,
		PRIMARY KEY (namespace, node_id, at)
	)`,
	`CREATE TABLE IF NOT EXISTS standing_queries (
		namespace  VARCHAR NOT NULL,
		query_id   VARCHAR NOT NULL,
		name       VARCHAR NOT NULL,
		definition BLOB,
		PRIMARY KEY (namespace, query_id)
	)`,
	`CREATE TABLE IF NOT EXISTS standing_query_states (
		namespace VARCHAR NOT NULL,
		query_id  VARCHAR NOT NULL,
		part_id   VARCHAR NOT NULL,
		node_id   BLOB NOT NULL,
		data      BLOB NOT NULL,
		PRIMARY KEY (namespace, query_id, part_id, node_id)
	)`,
	`CREATE TABLE IF NOT EXISTS query_plans (
		namespace VARCHAR NOT NULL,
		query_id  VARCHAR NOT NULL,
		plan      BLOB NOT NULL,
		PRIMARY KEY (namespace, query_id)
	)`,
	`CREATE TABLE IF NOT EXISTS metadata (
		key   VARCHAR NOT NULL PRIMARY KEY,
		value BLOB NOT NULL
	)`,
}

// verifyStatements probe each table with the exact column set this version
// expects. A probe failure means the schema on disk does not match.
var verifyStatements = []string{
	`SELECT namespace, node_id, at, data FROM journals LIMIT 0`,
	`SELECT namespace, node_id, at, dgn_id, data FROM domain_index_events LIMIT 0`,
	`SELECT namespace, node_id, at, data FROM snapshots LIMIT 0`,
	`SELECT namespace, query_id, name, definition FROM standing_queries LIMIT 0`,
	`SELECT namespace, query_id, part_id, node_id, data FROM standing_query_states LIMIT 0`,
	`SELECT namespace, query_id, plan FROM query_plans LIMIT 0`,
	`SELECT key, value FROM metadata LIMIT 0`,
}

// createSchema runs the idempotent table setup.
func createSchema(ctx context.Context, db *sql.DB) error {
	for _, ddl := range createTableStatements {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// verifySchema checks that every expected table exists with the expected
// columns. It runs after optional creation, and always before any statement
// is prepared.
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
