// Package persistence defines the storage-backend contract of the veldt
// graph engine.
//
// An Agent is the single abstract surface every storage backend satisfies,
// scoped to exactly one namespace. Decorators implement the same interface
// around an inner Agent and override only the operations they intercept;
// everything else forwards unchanged. Backend implementations live in the
// subpackages memory, duckdb and postgres; the bloom subpackage holds the
// read-avoidance decorator and instrumented the latency decorator.
//
// Concurrency contract: operations on different NodeIDs are independent and
// may run concurrently without coordination by this layer. Operations on the
// same NodeID are not serialized here; the engine relies on the upstream
// single-writer-per-node discipline. No ordering is promised across
// concurrent writers to one id beyond what the backend itself guarantees.
package persistence

import (
	"context"

	"github.com/veldtgraph/veldt/internal/model"
)

// NodeIDVisitor receives one NodeID per stored record during enumeration.
// Returning a non-nil error aborts the scan and surfaces from the
// enumerate call.
type NodeIDVisitor func(model.NodeID) error

// LocalityPredicate reports whether a NodeID is owned by this cluster
// member. Produced by sharding logic outside this layer. A single-member
// deployment passes a predicate that always returns true.
type LocalityPredicate func(model.NodeID) bool

// Agent is the contract every storage backend implements for one namespace.
//
// Failure semantics: every operation fails with a backend-specific error on
// any I/O or serialization problem, wrapped in the taxonomy of the errors
// package. No operation silently drops a write. Retry policy belongs to the
// caller.
type Agent interface {
	// Namespace returns the namespace this agent serves.
	Namespace() model.Namespace

	// PersistNodeChangeEvents appends a non-empty, time-ordered batch of
	// change events for one node. It never overwrites prior events.
	PersistNodeChangeEvents(ctx context.Context, id model.NodeID, events []model.NodeChangeEvent) error

	// PersistDomainIndexEvents appends a non-empty, time-ordered batch of
	// domain-index events for one node. It never overwrites prior events.
	PersistDomainIndexEvents(ctx context.Context, id model.NodeID, events []model.DomainIndexEvent) error

	// NodeChangeEvents returns the node's change events with times in the
	// closed interval [startingAt, endingAt], ascending by EventTime. The
	// result may be empty.
	NodeChangeEvents(ctx context.Context, id model.NodeID, startingAt, endingAt model.EventTime) ([]model.NodeChangeEvent, error)

	// DomainIndexEvents returns the node's domain-index events with times
	// in the closed interval [startingAt, endingAt], ascending by EventTime.
	DomainIndexEvents(ctx context.Context, id model.NodeID, startingAt, endingAt model.EventTime) ([]model.DomainIndexEvent, error)

	// PersistSnapshot writes one snapshot version for the node. Snapshots
	// are append-only per (id, atTime).
	PersistSnapshot(ctx context.Context, id model.NodeID, atTime model.EventTime, data []byte) error

	// LatestSnapshot returns the most recent snapshot with time <= upToTime,
	// or nil when the node has no such snapshot.
	LatestSnapshot(ctx context.Context, id model.NodeID, upToTime model.EventTime) (*model.Snapshot, error)

	// EnumerateJournalNodeIDs streams every distinct NodeID with at least
	// one journal record to the visitor, unordered. Each call re-scans
	// ground truth; the sequence is restartable by construction.
	EnumerateJournalNodeIDs(ctx context.Context, visit NodeIDVisitor) error

	// EnumerateSnapshotNodeIDs streams every distinct NodeID with at least
	// one snapshot to the visitor, unordered. Each call re-scans ground
	// truth.
	EnumerateSnapshotNodeIDs(ctx context.Context, visit NodeIDVisitor) error

	// PersistStandingQuery registers a standing query descriptor.
	PersistStandingQuery(ctx context.Context, query model.StandingQuery) error

	// RemoveStandingQuery removes a standing query descriptor. Removing an
	// absent descriptor is not an error.
	RemoveStandingQuery(ctx context.Context, query model.StandingQuery) error

	// StandingQueries returns every registered standing query descriptor.
	StandingQueries(ctx context.Context) ([]model.StandingQuery, error)

	// StandingQueryStates returns the persisted part states for one node,
	// keyed by (StandingQueryID, PartID).
	StandingQueryStates(ctx context.Context, id model.NodeID) (map[model.StandingQueryPartKey][]byte, error)

	// SetStandingQueryState upserts the part state when data is non-nil and
	// deletes it when data is nil. Deleting an absent entry is not an error.
	SetStandingQueryState(ctx context.Context, queryID model.StandingQueryID, id model.NodeID, partID string, data []byte) error

	// PersistQueryPlan stores the compiled plan for a standing query.
	// Namespace-scoped; no node key.
	PersistQueryPlan(ctx context.Context, queryID model.StandingQueryID, plan []byte) error

	// DeleteSnapshots purges every snapshot of the node. Idempotent.
	DeleteSnapshots(ctx context.Context, id model.NodeID) error

	// DeleteNodeChangeEvents purges the node's change-event journal. Idempotent.
	DeleteNodeChangeEvents(ctx context.Context, id model.NodeID) error

	// DeleteDomainIndexEvents purges the node's domain-index events. Idempotent.
	DeleteDomainIndexEvents(ctx context.Context, id model.NodeID) error

	// DeleteStandingQueryStates purges every part state of the node. Idempotent.
	DeleteStandingQueryStates(ctx context.Context, id model.NodeID) error

	// DeleteDomainIndexEventsByDgnID purges, across all nodes, every
	// domain-index event belonging to one retired index definition.
	DeleteDomainIndexEventsByDgnID(ctx context.Context, dgnID model.DgnID) error

	// Empty reports whether the namespace holds zero node-scoped records.
	// Used for startup compatibility checks.
	Empty(ctx context.Context) (bool, error)

	// ContainsStandingQueryStates reports whether any standing-query part
	// state exists at all. Used for migration decisions upstream.
	ContainsStandingQueryStates(ctx context.Context) (bool, error)

	// DeclareReady signals that the agent may begin background maintenance,
	// such as the bloom decorator's warm-up scan. It returns immediately;
	// any work it starts is fire-and-forget.
	DeclareReady(isLocal LocalityPredicate)

	// Shutdown releases resources. Idempotent.
	Shutdown(ctx context.Context) error

	// DeleteAll destroys all data held for this namespace.
	DeleteAll(ctx context.Context) error
}

// MetadataStore is a minimal key-to-blob area for process and cluster
// bookkeeping, independent of any node and of the namespace partition. It
// illustrates the access pattern every concrete backend follows: schema
// setup at construction, prepared access paths, per-path consistency
// settings.
type MetadataStore interface {
	// Metadata returns the value for key, or nil when the key is unset.
	Metadata(ctx context.Context, key string) ([]byte, error)

	// AllMetadata returns every currently-set key exactly once.
	AllMetadata(ctx context.Context) (map[string][]byte, error)

	// SetMetadata upserts the key when value is non-nil and deletes it when
	// value is nil. Deleting an absent key succeeds silently.
	SetMetadata(ctx context.Context, key string, value []byte) error
}
