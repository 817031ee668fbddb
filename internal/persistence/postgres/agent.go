// Package postgres provides the shared-server storage backend on PostgreSQL.
// It follows the same shape as the embedded backend: schema setup plus
// verification at construction, prepared statements for every access path,
// and configured read and write timeouts. Appends use ON CONFLICT upserts so
// that replayed batches are idempotent.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/veldtgraph/veldt/internal/errors"
	"github.com/veldtgraph/veldt/internal/model"
	"github.com/veldtgraph/veldt/internal/persistence"
)

// Config holds backend configuration options.
type Config struct {
	// Namespace is the graph namespace this agent serves.
	Namespace model.Namespace

	// DSN is the lib/pq connection string.
	DSN string

	// CreateTables enables idempotent schema setup at construction.
	CreateTables bool

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// ReadTimeout bounds each point read. Zero disables the bound.
	ReadTimeout time.Duration

	// WriteTimeout bounds each write statement. Zero disables the bound.
	WriteTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults. DSN must be set by
// the caller.
func DefaultConfig() Config {
	return Config{
		Namespace:       model.DefaultNamespace,
		CreateTables:    true,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
	}
}

type statements struct {
	insertJournal      *sql.Stmt
	selectJournal      *sql.Stmt
	deleteJournal      *sql.Stmt
	enumJournalIDs     *sql.Stmt
	journalExists      *sql.Stmt
	insertDomainIndex  *sql.Stmt
	selectDomainIndex  *sql.Stmt
	deleteDomainIndex  *sql.Stmt
	deleteByDgn        *sql.Stmt
	domainIndexExists  *sql.Stmt
	insertSnapshot     *sql.Stmt
	selectSnapshot     *sql.Stmt
	deleteSnapshots    *sql.Stmt
	enumSnapshotIDs    *sql.Stmt
	snapshotExists     *sql.Stmt
	upsertQuery        *sql.Stmt
	deleteQuery        *sql.Stmt
	selectQueries      *sql.Stmt
	selectStates       *sql.Stmt
	upsertState        *sql.Stmt
	deleteState        *sql.Stmt
	deleteStatesByNode *sql.Stmt
	statesExist        *sql.Stmt
	upsertPlan         *sql.Stmt
	getMetadata        *sql.Stmt
	allMetadata        *sql.Stmt
	upsertMetadata     *sql.Stmt
	deleteMetadata     *sql.Stmt
}

func (s *statements) all() []*sql.Stmt {
	return []*sql.Stmt{
		s.insertJournal, s.selectJournal, s.deleteJournal, s.enumJournalIDs, s.journalExists,
		s.insertDomainIndex, s.selectDomainIndex, s.deleteDomainIndex, s.deleteByDgn, s.domainIndexExists,
		s.insertSnapshot, s.selectSnapshot, s.deleteSnapshots, s.enumSnapshotIDs, s.snapshotExists,
		s.upsertQuery, s.deleteQuery, s.selectQueries,
		s.selectStates, s.upsertState, s.deleteState, s.deleteStatesByNode, s.statesExist,
		s.upsertPlan,
		s.getMetadata, s.allMetadata, s.upsertMetadata, s.deleteMetadata,
	}
}

// Agent is a PostgreSQL-backed implementation of persistence.Agent and
// persistence.MetadataStore.
//
// Agent is safe for concurrent use.
type Agent struct {
	namespace model.Namespace
	config    Config
	db        *sql.DB
	stmts     statements
	closed    atomic.Bool
}

var _ persistence.Agent = (*Agent)(nil)
var _ persistence.MetadataStore = (*Agent)(nil)

// New connects to the server, sets up and verifies the schema, and prepares
// all access statements.
func New(cfg Config) (*Agent, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping database: %v", errors.ErrUnavailable, err)
	}

	if cfg.CreateTables {
		if err := createSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}
	if err := verifySchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	a := &Agent{
		namespace: cfg.Namespace,
		config:    cfg,
		db:        db,
	}
	if err := a.prepareStatements(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return a, nil
}

func (a *Agent) prepareStatements(ctx context.Context) error {
	var err error
	prep := func(query string) *sql.Stmt {
		if err != nil {
			return nil
		}
		var stmt *sql.Stmt
		stmt, err = a.db.PrepareContext(ctx, query)
		return stmt
	}

	a.stmts = statements{
		insertJournal: prep(`INSERT INTO journals (namespace, node_id, at, data) VALUES ($1, $2, $3, $4)
			ON CONFLICT (namespace, node_id, at) DO UPDATE SET data = EXCLUDED.data`),
		selectJournal: prep(`SELECT at, data FROM journals
			WHERE namespace = $1 AND node_id = $2 AND at >= $3 AND at <= $4 ORDER BY at`),
		deleteJournal:  prep(`DELETE FROM journals WHERE namespace = $1 AND node_id = $2`),
		enumJournalIDs: prep(`SELECT DISTINCT node_id FROM journals WHERE namespace = $1`),
		journalExists:  prep(`SELECT EXISTS (SELECT 1 FROM journals WHERE namespace = $1)`),

		insertDomainIndex: prep(`INSERT INTO domain_index_events (namespace, node_id, at, dgn_id, data) VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (namespace, node_id, at, dgn_id) DO UPDATE SET data = EXCLUDED.data`),
		selectDomainIndex: prep(`SELECT at, dgn_id, data FROM domain_index_events
			WHERE namespace = $1 AND node_id = $2 AND at >= $3 AND at <= $4 ORDER BY at`),
		deleteDomainIndex: prep(`DELETE FROM domain_index_events WHERE namespace = $1 AND node_id = $2`),
		deleteByDgn:       prep(`DELETE FROM domain_index_events WHERE namespace = $1 AND dgn_id = $2`),
		domainIndexExists: prep(`SELECT EXISTS (SELECT 1 FROM domain_index_events WHERE namespace = $1)`),

		insertSnapshot: prep(`INSERT INTO snapshots (namespace, node_id, at, data) VALUES ($1, $2, $3, $4)
			ON CONFLICT (namespace, node_id, at) DO UPDATE SET data = EXCLUDED.data`),
		selectSnapshot: prep(`SELECT at, data FROM snapshots
			WHERE namespace = $1 AND node_id = $2 AND at <= $3 ORDER BY at DESC LIMIT 1`),
		deleteSnapshots: prep(`DELETE FROM snapshots WHERE namespace = $1 AND node_id = $2`),
		enumSnapshotIDs: prep(`SELECT DISTINCT node_id FROM snapshots WHERE namespace = $1`),
		snapshotExists:  prep(`SELECT EXISTS (SELECT 1 FROM snapshots WHERE namespace = $1)`),

		upsertQuery: prep(`INSERT INTO standing_queries (namespace, query_id, name, definition) VALUES ($1, $2, $3, $4)
			ON CONFLICT (namespace, query_id) DO UPDATE SET name = EXCLUDED.name, definition = EXCLUDED.definition`),
		deleteQuery:   prep(`DELETE FROM standing_queries WHERE namespace = $1 AND query_id = $2`),
		selectQueries: prep(`SELECT query_id, name, definition FROM standing_queries WHERE namespace = $1`),

		selectStates: prep(`SELECT query_id, part_id, data FROM standing_query_states
			WHERE namespace = $1 AND node_id = $2`),
		upsertState: prep(`INSERT INTO standing_query_states (namespace, query_id, part_id, node_id, data) VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (namespace, query_id, part_id, node_id) DO UPDATE SET data = EXCLUDED.data`),
		deleteState:        prep(`DELETE FROM standing_query_states WHERE namespace = $1 AND query_id = $2 AND part_id = $3 AND node_id = $4`),
		deleteStatesByNode: prep(`DELETE FROM standing_query_states WHERE namespace = $1 AND node_id = $2`),
		statesExist:        prep(`SELECT EXISTS (SELECT 1 FROM standing_query_states WHERE namespace = $1)`),

		upsertPlan: prep(`INSERT INTO query_plans (namespace, query_id, plan) VALUES ($1, $2, $3)
			ON CONFLICT (namespace, query_id) DO UPDATE SET plan = EXCLUDED.plan`),

		getMetadata:    prep(`SELECT value FROM metadata WHERE key = $1`),
		allMetadata:    prep(`SELECT key, value FROM metadata`),
		upsertMetadata: prep(`INSERT INTO metadata (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`),
		deleteMetadata: prep(`DELETE FROM metadata WHERE key = $1`),
	}
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrSchemaMismatch, err)
	}
	return nil
}

// Namespace returns the namespace this agent serves.
func (a *Agent) Namespace() model.Namespace {
	return a.namespace
}

func (a *Agent) readContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.config.ReadTimeout > 0 {
		return context.WithTimeout(ctx, a.config.ReadTimeout)
	}
	return ctx, func() {}
}

func (a *Agent) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.config.WriteTimeout > 0 {
		return context.WithTimeout(ctx, a.config.WriteTimeout)
	}
	return ctx, func() {}
}

func (a *Agent) checkOpen(op string) error {
	if a.closed.Load() {
		return errors.Op(op, errors.ErrClosed)
	}
	return nil
}

func (a *Agent) transact(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (a *Agent) PersistNodeChangeEvents(ctx context.Context, id model.NodeID, events []model.NodeChangeEvent) error {
	const op = "PersistNodeChangeEvents"
	if len(events) == 0 {
		return errors.Op(op, errors.ErrEmptyBatch)
	}
	if err := a.checkOpen(op); err != nil {
		return err
	}

	ctx, cancel := a.writeContext(ctx)
	defer cancel()

	err := a.transact(ctx, func(tx *sql.Tx) error {
		stmt := tx.StmtContext(ctx, a.stmts.insertJournal)
		for _, ev := range events {
			if _, err := stmt.ExecContext(ctx, a.namespace.String(), id.Bytes(), int64(ev.At), ev.Data); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Op(op, err)
}

func (a *Agent) PersistDomainIndexEvents(ctx context.Context, id model.NodeID, events []model.DomainIndexEvent) error {
	const op = "PersistDomainIndexEvents"
	if len(events) == 0 {
		return errors.Op(op, errors.ErrEmptyBatch)
	}
	if err := a.checkOpen(op); err != nil {
		return err
	}

	ctx, cancel := a.writeContext(ctx)
	defer cancel()

	err := a.transact(ctx, func(tx *sql.Tx) error {
		stmt := tx.StmtContext(ctx, a.stmts.insertDomainIndex)
		for _, ev := range events {
			if _, err := stmt.ExecContext(ctx, a.namespace.String(), id.Bytes(), int64(ev.At), int64(ev.DgnID), ev.Data); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Op(op, err)
}

func (a *Agent) NodeChangeEvents(ctx context.Context, id model.NodeID, startingAt, endingAt model.EventTime) ([]model.NodeChangeEvent, error) {
	const op = "NodeChangeEvents"
	if err := a.checkOpen(op); err != nil {
		return nil, err
	}

	ctx, cancel := a.readContext(ctx)
	defer cancel()

	rows, err := a.stmts.selectJournal.QueryContext(ctx, a.namespace.String(), id.Bytes(), int64(startingAt), int64(endingAt))
	if err != nil {
		return nil, errors.Op(op, err)
	}
	defer rows.Close()

	var out []model.NodeChangeEvent
	for rows.Next() {
		var at int64
		var data []byte
		if err := rows.Scan(&at, &data); err != nil {
			return nil, errors.Op(op, err)
		}
		out = append(out, model.NodeChangeEvent{At: model.EventTime(at), Data: data})
	}
	return out, errors.Op(op, rows.Err())
}

func (a *Agent) DomainIndexEvents(ctx context.Context, id model.NodeID, startingAt, endingAt model.EventTime) ([]model.DomainIndexEvent, error) {
	const op = "DomainIndexEvents"
	if err := a.checkOpen(op); err != nil {
		return nil, err
	}

	ctx, cancel := a.readContext(ctx)
	defer cancel()

	rows, err := a.stmts.selectDomainIndex.QueryContext(ctx, a.namespace.String(), id.Bytes(), int64(startingAt), int64(endingAt))
	if err != nil {
		return nil, errors.Op(op, err)
	}
	defer rows.Close()

	var out []model.DomainIndexEvent
	for rows.Next() {
		var at, dgnID int64
		var data []byte
		if err := rows.Scan(&at, &dgnID, &data); err != nil {
			return nil, errors.Op(op, err)
		}
		out = append(out, model.DomainIndexEvent{At: model.EventTime(at), DgnID: model.DgnID(dgnID), Data: data})
	}
	return out, errors.Op(op, rows.Err())
}

func (a *Agent) PersistSnapshot(ctx context.Context, id model.NodeID, atTime model.EventTime, data []byte) error {
	const op = "PersistSnapshot"
	if err := a.checkOpen(op); err != nil {
		return err
	}

	ctx, cancel := a.writeContext(ctx)
	defer cancel()

	_, err := a.stmts.insertSnapshot.ExecContext(ctx, a.namespace.String(), id.Bytes(), int64(atTime), data)
	return errors.Op(op, err)
}

func (a *Agent) LatestSnapshot(ctx context.Context, id model.NodeID, upToTime model.EventTime) (*model.Snapshot, error) {
	const op = "LatestSnapshot"
	if err := a.checkOpen(op); err != nil {
		return nil, err
	}

	ctx, cancel := a.readContext(ctx)
	defer cancel()

	var at int64
	var data []byte
	err := a.stmts.selectSnapshot.QueryRowContext(ctx, a.namespace.String(), id.Bytes(), int64(upToTime)).Scan(&at, &data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Op(op, err)
	}
	return &model.Snapshot{At: model.EventTime(at), Data: data}, nil
}

func (a *Agent) EnumerateJournalNodeIDs(ctx context.Context, visit persistence.NodeIDVisitor) error {
	return a.enumerate(ctx, "EnumerateJournalNodeIDs", a.stmts.enumJournalIDs, visit)
}

func (a *Agent) EnumerateSnapshotNodeIDs(ctx context.Context, visit persistence.NodeIDVisitor) error {
	return a.enumerate(ctx, "EnumerateSnapshotNodeIDs", a.stmts.enumSnapshotIDs, visit)
}

func (a *Agent) enumerate(ctx context.Context, op string, stmt *sql.Stmt, visit persistence.NodeIDVisitor) error {
	if err := a.checkOpen(op); err != nil {
		return err
	}

	rows, err := stmt.QueryContext(ctx, a.namespace.String())
	if err != nil {
		return errors.Op(op, err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return errors.Op(op, err)
		}
		id, err := model.NodeIDFromBytes(raw)
		if err != nil {
			return errors.Op(op, err)
		}
		if err := visit(id); err != nil {
			return err
		}
	}
	return errors.Op(op, rows.Err())
}

func (a *Agent) PersistStandingQuery(ctx context.Context, query model.StandingQuery) error {
	const op = "PersistStandingQuery"
	if err := a.checkOpen(op); err != nil {
		return err
	}

	ctx, cancel := a.writeContext(ctx)
	defer cancel()

	_, err := a.stmts.upsertQuery.ExecContext(ctx, a.namespace.String(), query.ID.String(), query.Name, query.Definition)
	return errors.Op(op, err)
}

func (a *Agent) RemoveStandingQuery(ctx context.Context, query model.StandingQuery) error {
	const op = "RemoveStandingQuery"
	if err := a.checkOpen(op); err != nil {
		return err
	}

	ctx, cancel := a.writeContext(ctx)
	defer cancel()

	_, err := a.stmts.deleteQuery.ExecContext(ctx, a.namespace.String(), query.ID.String())
	return errors.Op(op, err)
}

func (a *Agent) StandingQueries(ctx context.Context) ([]model.StandingQuery, error) {
	const op = "StandingQueries"
	if err := a.checkOpen(op); err != nil {
		return nil, err
	}

	ctx, cancel := a.readContext(ctx)
	defer cancel()

	rows, err := a.stmts.selectQueries.QueryContext(ctx, a.namespace.String())
	if err != nil {
		return nil, errors.Op(op, err)
	}
	defer rows.Close()

	var out []model.StandingQuery
	for rows.Next() {
		var rawID, name string
		var definition []byte
		if err := rows.Scan(&rawID, &name, &definition); err != nil {
			return nil, errors.Op(op, err)
		}
		id, err := model.ParseStandingQueryID(rawID)
		if err != nil {
			return nil, errors.Op(op, err)
		}
		out = append(out, model.StandingQuery{ID: id, Name: name, Definition: definition})
	}
	return out, errors.Op(op, rows.Err())
}

func (a *Agent) StandingQueryStates(ctx context.Context, id model.NodeID) (map[model.StandingQueryPartKey][]byte, error) {
	const op = "StandingQueryStates"
	if err := a.checkOpen(op); err != nil {
		return nil, err
	}

	ctx, cancel := a.readContext(ctx)
	defer cancel()

	rows, err := a.stmts.selectStates.QueryContext(ctx, a.namespace.String(), id.Bytes())
	if err != nil {
		return nil, errors.Op(op, err)
	}
	defer rows.Close()

	out := make(map[model.StandingQueryPartKey][]byte)
	for rows.Next() {
		var rawID, partID string
		var data []byte
		if err := rows.Scan(&rawID, &partID, &data); err != nil {
			return nil, errors.Op(op, err)
		}
		queryID, err := model.ParseStandingQueryID(rawID)
		if err != nil {
			return nil, errors.Op(op, err)
		}
		out[model.StandingQueryPartKey{QueryID: queryID, PartID: partID}] = data
	}
	return out, errors.Op(op, rows.Err())
}

func (a *Agent) SetStandingQueryState(ctx context.Context, queryID model.StandingQueryID, id model.NodeID, partID string, data []byte) error {
	const op = "SetStandingQueryState"
	if err := a.checkOpen(op); err != nil {
		return err
	}

	ctx, cancel := a.writeContext(ctx)
	defer cancel()

	var err error
	if data == nil {
		_, err = a.stmts.deleteState.ExecContext(ctx, a.namespace.String(), queryID.String(), partID, id.Bytes())
	} else {
		_, err = a.stmts.upsertState.ExecContext(ctx, a.namespace.String(), queryID.String(), partID, id.Bytes(), data)
	}
	return errors.Op(op, err)
}

func (a *Agent) PersistQueryPlan(ctx context.Context, queryID model.StandingQueryID, plan []byte) error {
	const op = "PersistQueryPlan"
	if err := a.checkOpen(op); err != nil {
		return err
	}

	ctx, cancel := a.writeContext(ctx)
	defer cancel()

	_, err := a.stmts.upsertPlan.ExecContext(ctx, a.namespace.String(), queryID.String(), plan)
	return errors.Op(op, err)
}

func (a *Agent) DeleteSnapshots(ctx context.Context, id model.NodeID) error {
	return a.deleteByNode(ctx, "DeleteSnapshots", a.stmts.deleteSnapshots, id)
}

func (a *Agent) DeleteNodeChangeEvents(ctx context.Context, id model.NodeID) error {
	return a.deleteByNode(ctx, "DeleteNodeChangeEvents", a.stmts.deleteJournal, id)
}

func (a *Agent) DeleteDomainIndexEvents(ctx context.Context, id model.NodeID) error {
	return a.deleteByNode(ctx, "DeleteDomainIndexEvents", a.stmts.deleteDomainIndex, id)
}

func (a *Agent) DeleteStandingQueryStates(ctx context.Context, id model.NodeID) error {
	return a.deleteByNode(ctx, "DeleteStandingQueryStates", a.stmts.deleteStatesByNode, id)
}

func (a *Agent) deleteByNode(ctx context.Context, op string, stmt *sql.Stmt, id model.NodeID) error {
	if err := a.checkOpen(op); err != nil {
		return err
	}

	ctx, cancel := a.writeContext(ctx)
	defer cancel()

	_, err := stmt.ExecContext(ctx, a.namespace.String(), id.Bytes())
	return errors.Op(op, err)
}

func (a *Agent) DeleteDomainIndexEventsByDgnID(ctx context.Context, dgnID model.DgnID) error {
	const op = "DeleteDomainIndexEventsByDgnID"
	if err := a.checkOpen(op); err != nil {
		return err
	}

	ctx, cancel := a.writeContext(ctx)
	defer cancel()

	_, err := a.stmts.deleteByDgn.ExecContext(ctx, a.namespace.String(), int64(dgnID))
	return errors.Op(op, err)
}

// Empty probes the four node-scoped tables concurrently.
func (a *Agent) Empty(ctx context.Context) (bool, error) {
	const op = "Empty"
	if err := a.checkOpen(op); err != nil {
		return false, err
	}

	ctx, cancel := a.readContext(ctx)
	defer cancel()

	probes := []*sql.Stmt{
		a.stmts.journalExists,
		a.stmts.domainIndexExists,
		a.stmts.snapshotExists,
		a.stmts.statesExist,
	}
	found := make([]bool, len(probes))

	g, gctx := errgroup.WithContext(ctx)
	for i, stmt := range probes {
		g.Go(func() error {
			return stmt.QueryRowContext(gctx, a.namespace.String()).Scan(&found[i])
		})
	}
	if err := g.Wait(); err != nil {
		return false, errors.Op(op, err)
	}

	for _, f := range found {
		if f {
			return false, nil
		}
	}
	return true, nil
}

func (a *Agent) ContainsStandingQueryStates(ctx context.Context) (bool, error) {
	const op = "ContainsStandingQueryStates"
	if err := a.checkOpen(op); err != nil {
		return false, err
	}

	ctx, cancel := a.readContext(ctx)
	defer cancel()

	var exists bool
	if err := a.stmts.statesExist.QueryRowContext(ctx, a.namespace.String()).Scan(&exists); err != nil {
		return false, errors.Op(op, err)
	}
	return exists, nil
}

// DeclareReady is a no-op: this backend has no background maintenance of
// its own.
func (a *Agent) DeclareReady(isLocal persistence.LocalityPredicate) {}

// Shutdown closes every prepared statement and the connection pool. Idempotent.
func (a *Agent) Shutdown(ctx context.Context) error {
	if a.closed.Swap(true) {
		return nil
	}
	for _, stmt := range a.stmts.all() {
		if stmt != nil {
			stmt.Close()
		}
	}
	return a.db.Close()
}

// DeleteAll destroys all data held for this namespace in one transaction.
// The metadata table is process-level and survives.
func (a *Agent) DeleteAll(ctx context.Context) error {
	const op = "DeleteAll"
	if err := a.checkOpen(op); err != nil {
		return err
	}

	ctx, cancel := a.writeContext(ctx)
	defer cancel()

	err := a.transact(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"journals", "domain_index_events", "snapshots", "standing_queries", "standing_query_states", "query_plans"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE namespace = $1`, a.namespace.String()); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Op(op, err)
}

// Metadata returns the value for key, or nil when unset.
func (a *Agent) Metadata(ctx context.Context, key string) ([]byte, error) {
	const op = "Metadata"
	if err := a.checkOpen(op); err != nil {
		return nil, err
	}

	ctx, cancel := a.readContext(ctx)
	defer cancel()

	var value []byte
	err := a.stmts.getMetadata.QueryRowContext(ctx, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Op(op, err)
	}
	return value, nil
}

// AllMetadata returns every currently-set key exactly once.
func (a *Agent) AllMetadata(ctx context.Context) (map[string][]byte, error) {
	const op = "AllMetadata"
	if err := a.checkOpen(op); err != nil {
		return nil, err
	}

	ctx, cancel := a.readContext(ctx)
	defer cancel()

	rows, err := a.stmts.allMetadata.QueryContext(ctx)
	if err != nil {
		return nil, errors.Op(op, err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, errors.Op(op, err)
		}
		out[key] = value
	}
	return out, errors.Op(op, rows.Err())
}

// SetMetadata upserts (value non-nil) or deletes (value nil) a key.
func (a *Agent) SetMetadata(ctx context.Context, key string, value []byte) error {
	const op = "SetMetadata"
	if err := a.checkOpen(op); err != nil {
		return err
	}

	ctx, cancel := a.writeContext(ctx)
	defer cancel()

	var err error
	if value == nil {
		_, err = a.stmts.deleteMetadata.ExecContext(ctx, key)
	} else {
		_, err = a.stmts.upsertMetadata.ExecContext(ctx, key, value)
	}
	return errors.Op(op, err)
}
