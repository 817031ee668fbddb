// Package memory provides an in-process Agent and MetadataStore backed by
// plain maps. It is the reference backend for tests and single-process
// deployments that do not need durability.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/veldtgraph/veldt/internal/errors"
	"github.com/veldtgraph/veldt/internal/model"
	"github.com/veldtgraph/veldt/internal/persistence"
)

// Agent is an in-memory implementation of persistence.Agent and
// persistence.MetadataStore.
//
// Agent is safe for concurrent use.
type Agent struct {
	namespace model.Namespace

	mu              sync.RWMutex
	closed          bool
	journals        map[model.NodeID][]model.NodeChangeEvent
	domainIndex     map[model.NodeID][]model.DomainIndexEvent
	snapshots       map[model.NodeID][]model.Snapshot
	standingQueries map[model.StandingQueryID]model.StandingQuery
	queryStates     map[model.NodeID]map[model.StandingQueryPartKey][]byte
	queryPlans      map[model.StandingQueryID][]byte
	metadata        map[string][]byte
}

var _ persistence.Agent = (*Agent)(nil)
var _ persistence.MetadataStore = (*Agent)(nil)

// New creates an empty in-memory agent for the namespace.
func New(namespace model.Namespace) *Agent {
	return &Agent{
		namespace:       namespace,
		journals:        make(map[model.NodeID][]model.NodeChangeEvent),
		domainIndex:     make(map[model.NodeID][]model.DomainIndexEvent),
		snapshots:       make(map[model.NodeID][]model.Snapshot),
		standingQueries: make(map[model.StandingQueryID]model.StandingQuery),
		queryStates:     make(map[model.NodeID]map[model.StandingQueryPartKey][]byte),
		queryPlans:      make(map[model.StandingQueryID][]byte),
		metadata:        make(map[string][]byte),
	}
}

// Namespace returns the namespace this agent serves.
func (a *Agent) Namespace() model.Namespace {
	return a.namespace
}

// PersistNodeChangeEvents appends change events for one node.
func (a *Agent) PersistNodeChangeEvents(ctx context.Context, id model.NodeID, events []model.NodeChangeEvent) error {
	if len(events) == 0 {
		return errors.Op("PersistNodeChangeEvents", errors.ErrEmptyBatch)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.Op("PersistNodeChangeEvents", errors.ErrClosed)
	}

	stored := a.journals[id]
	for _, ev := range events {
		stored = insertChangeEvent(stored, ev)
	}
	a.journals[id] = stored
	return nil
}

// PersistDomainIndexEvents appends domain-index events for one node.
func (a *Agent) PersistDomainIndexEvents(ctx context.Context, id model.NodeID, events []model.DomainIndexEvent) error {
	if len(events) == 0 {
		return errors.Op("PersistDomainIndexEvents", errors.ErrEmptyBatch)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.Op("PersistDomainIndexEvents", errors.ErrClosed)
	}

	stored := a.domainIndex[id]
	for _, ev := range events {
		stored = insertDomainIndexEvent(stored, ev)
	}
	a.domainIndex[id] = stored
	return nil
}

// NodeChangeEvents returns change events in [startingAt, endingAt], ascending.
func (a *Agent) NodeChangeEvents(ctx context.Context, id model.NodeID, startingAt, endingAt model.EventTime) ([]model.NodeChangeEvent, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, errors.Op("NodeChangeEvents", errors.ErrClosed)
	}

	var out []model.NodeChangeEvent
	for _, ev := range a.journals[id] {
		if ev.At.In(startingAt, endingAt) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// DomainIndexEvents returns domain-index events in [startingAt, endingAt], ascending.
func (a *Agent) DomainIndexEvents(ctx context.Context, id model.NodeID, startingAt, endingAt model.EventTime) ([]model.DomainIndexEvent, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, errors.Op("DomainIndexEvents", errors.ErrClosed)
	}

	var out []model.DomainIndexEvent
	for _, ev := range a.domainIndex[id] {
		if ev.At.In(startingAt, endingAt) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// PersistSnapshot writes one snapshot version for the node.
func (a *Agent) PersistSnapshot(ctx context.Context, id model.NodeID, atTime model.EventTime, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.Op("PersistSnapshot", errors.ErrClosed)
	}

	stored := a.snapshots[id]
	i := sort.Search(len(stored), func(i int) bool { return stored[i].At >= atTime })
	snap := model.Snapshot{At: atTime, Data: data}
	if i < len(stored) && stored[i].At == atTime {
		stored[i] = snap
	} else {
		stored = append(stored, model.Snapshot{})
		copy(stored[i+1:], stored[i:])
		stored[i] = snap
	}
	a.snapshots[id] = stored
	return nil
}

// LatestSnapshot returns the most recent snapshot with time <= upToTime.
func (a *Agent) LatestSnapshot(ctx context.Context, id model.NodeID, upToTime model.EventTime) (*model.Snapshot, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, errors.Op("LatestSnapshot", errors.ErrClosed)
	}

	stored := a.snapshots[id]
	// First index with At > upToTime; the answer sits just before it.
	i := sort.Search(len(stored), func(i int) bool { return stored[i].At > upToTime })
	if i == 0 {
		return nil, nil
	}
	snap := stored[i-1]
	return &snap, nil
}

// EnumerateJournalNodeIDs streams every NodeID with journal records.
func (a *Agent) EnumerateJournalNodeIDs(ctx context.Context, visit persistence.NodeIDVisitor) error {
	return a.enumerate(ctx, visit, func() []model.NodeID {
		ids := make([]model.NodeID, 0, len(a.journals))
		for id := range a.journals {
			ids = append(ids, id)
		}
		return ids
	})
}

// EnumerateSnapshotNodeIDs streams every NodeID with snapshots.
func (a *Agent) EnumerateSnapshotNodeIDs(ctx context.Context, visit persistence.NodeIDVisitor) error {
	return a.enumerate(ctx, visit, func() []model.NodeID {
		ids := make([]model.NodeID, 0, len(a.snapshots))
		for id := range a.snapshots {
			ids = append(ids, id)
		}
		return ids
	})
}

// enumerate snapshots the id set under the read lock, then visits without
// holding it so visitors may call back into the agent.
func (a *Agent) enumerate(ctx context.Context, visit persistence.NodeIDVisitor, collect func() []model.NodeID) error {
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return errors.ErrClosed
	}
	ids := collect()
	a.mu.RUnlock()

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// PersistStandingQuery registers a standing query descriptor.
func (a *Agent) PersistStandingQuery(ctx context.Context, query model.StandingQuery) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.Op("PersistStandingQuery", errors.ErrClosed)
	}
	a.standingQueries[query.ID] = query
	return nil
}

// RemoveStandingQuery removes a standing query descriptor.
func (a *Agent) RemoveStandingQuery(ctx context.Context, query model.StandingQuery) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.Op("RemoveStandingQuery", errors.ErrClosed)
	}
	delete(a.standingQueries, query.ID)
	return nil
}

// StandingQueries returns every registered standing query descriptor.
func (a *Agent) StandingQueries(ctx context.Context) ([]model.StandingQuery, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, errors.Op("StandingQueries", errors.ErrClosed)
	}

	out := make([]model.StandingQuery, 0, len(a.standingQueries))
	for _, q := range a.standingQueries {
		out = append(out, q)
	}
	return out, nil
}

// StandingQueryStates returns the persisted part states for one node.
func (a *Agent) StandingQueryStates(ctx context.Context, id model.NodeID) (map[model.StandingQueryPartKey][]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, errors.Op("StandingQueryStates", errors.ErrClosed)
	}

	out := make(map[model.StandingQueryPartKey][]byte, len(a.queryStates[id]))
	for k, v := range a.queryStates[id] {
		out[k] = v
	}
	return out, nil
}

// SetStandingQueryState upserts (data non-nil) or deletes (data nil) a part state.
func (a *Agent) SetStandingQueryState(ctx context.Context, queryID model.StandingQueryID, id model.NodeID, partID string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.Op("SetStandingQueryState", errors.ErrClosed)
	}

	key := model.StandingQueryPartKey{QueryID: queryID, PartID: partID}
	if data == nil {
		if states := a.queryStates[id]; states != nil {
			delete(states, key)
			if len(states) == 0 {
				delete(a.queryStates, id)
			}
		}
		return nil
	}

	states := a.queryStates[id]
	if states == nil {
		states = make(map[model.StandingQueryPartKey][]byte)
		a.queryStates[id] = states
	}
	states[key] = data
	return nil
}

// PersistQueryPlan stores the compiled plan for a standing query.
func (a *Agent) PersistQueryPlan(ctx context.Context, queryID model.StandingQueryID, plan []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.Op("PersistQueryPlan", errors.ErrClosed)
	}
	a.queryPlans[queryID] = plan
	return nil
}

// QueryPlan returns the stored plan for a standing query, or nil.
func (a *Agent) QueryPlan(ctx context.Context, queryID model.StandingQueryID) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, errors.Op("QueryPlan", errors.ErrClosed)
	}
	return a.queryPlans[queryID], nil
}

// DeleteSnapshots purges every snapshot of the node.
func (a *Agent) DeleteSnapshots(ctx context.Context, id model.NodeID) error {
	return a.deleteNodeScoped("DeleteSnapshots", func() { delete(a.snapshots, id) })
}

// DeleteNodeChangeEvents purges the node's change-event journal.
func (a *Agent) DeleteNodeChangeEvents(ctx context.Context, id model.NodeID) error {
	return a.deleteNodeScoped("DeleteNodeChangeEvents", func() { delete(a.journals, id) })
}

// DeleteDomainIndexEvents purges the node's domain-index events.
func (a *Agent) DeleteDomainIndexEvents(ctx context.Context, id model.NodeID) error {
	return a.deleteNodeScoped("DeleteDomainIndexEvents", func() { delete(a.domainIndex, id) })
}

// DeleteStandingQueryStates purges every part state of the node.
func (a *Agent) DeleteStandingQueryStates(ctx context.Context, id model.NodeID) error {
	return a.deleteNodeScoped("DeleteStandingQueryStates", func() { delete(a.queryStates, id) })
}

func (a *Agent) deleteNodeScoped(op string, apply func()) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.Op(op, errors.ErrClosed)
	}
	apply()
	return nil
}

// DeleteDomainIndexEventsByDgnID purges one index definition's events across all nodes.
func (a *Agent) DeleteDomainIndexEventsByDgnID(ctx context.Context, dgnID model.DgnID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.Op("DeleteDomainIndexEventsByDgnID", errors.ErrClosed)
	}

	for id, events := range a.domainIndex {
		kept := events[:0]
		for _, ev := range events {
			if ev.DgnID != dgnID {
				kept = append(kept, ev)
			}
		}
		if len(kept) == 0 {
			delete(a.domainIndex, id)
		} else {
			a.domainIndex[id] = kept
		}
	}
	return nil
}

// Empty reports whether the namespace holds zero node-scoped records.
func (a *Agent) Empty(ctx context.Context) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return false, errors.Op("Empty", errors.ErrClosed)
	}
	return len(a.journals) == 0 &&
		len(a.domainIndex) == 0 &&
		len(a.snapshots) == 0 &&
		len(a.queryStates) == 0, nil
}

// ContainsStandingQueryStates reports whether any part state exists at all.
func (a *Agent) ContainsStandingQueryStates(ctx context.Context) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return false, errors.Op("ContainsStandingQueryStates", errors.ErrClosed)
	}
	return len(a.queryStates) > 0, nil
}

// DeclareReady is a no-op: the in-memory backend has no background maintenance.
func (a *Agent) DeclareReady(isLocal persistence.LocalityPredicate) {}

// Shutdown marks the agent closed. Idempotent.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// DeleteAll destroys all data held for this namespace.
func (a *Agent) DeleteAll(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.Op("DeleteAll", errors.ErrClosed)
	}

	a.journals = make(map[model.NodeID][]model.NodeChangeEvent)
	a.domainIndex = make(map[model.NodeID][]model.DomainIndexEvent)
	a.snapshots = make(map[model.NodeID][]model.Snapshot)
	a.standingQueries = make(map[model.StandingQueryID]model.StandingQuery)
	a.queryStates = make(map[model.NodeID]map[model.StandingQueryPartKey][]byte)
	a.queryPlans = make(map[model.StandingQueryID][]byte)
	return nil
}

// Metadata returns the value for key, or nil when unset.
func (a *Agent) Metadata(ctx context.Context, key string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, errors.Op("Metadata", errors.ErrClosed)
	}
	return a.metadata[key], nil
}

// AllMetadata returns every currently-set key exactly once.
func (a *Agent) AllMetadata(ctx context.Context) (map[string][]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, errors.Op("AllMetadata", errors.ErrClosed)
	}

	out := make(map[string][]byte, len(a.metadata))
	for k, v := range a.metadata {
		out[k] = v
	}
	return out, nil
}

// SetMetadata upserts (value non-nil) or deletes (value nil) a key.
func (a *Agent) SetMetadata(ctx context.Context, key string, value []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.Op("SetMetadata", errors.ErrClosed)
	}

	if value == nil {
		delete(a.metadata, key)
		return nil
	}
	a.metadata[key] = value
	return nil
}

// insertChangeEvent inserts ev keeping ascending EventTime order. An event
// at an already-stored time replaces the stored one.
func insertChangeEvent(events []model.NodeChangeEvent, ev model.NodeChangeEvent) []model.NodeChangeEvent {
	i := sort.Search(len(events), func(i int) bool { return events[i].At >= ev.At })
	if i < len(events) && events[i].At == ev.At {
		events[i] = ev
		return events
	}
	events = append(events, model.NodeChangeEvent{})
	copy(events[i+1:], events[i:])
	events[i] = ev
	return events
}

// insertDomainIndexEvent inserts ev keeping ascending EventTime order.
// Several events may share one time as long as their DgnIDs differ; an
// event matching a stored (At, DgnID) replaces the stored one, so replayed
// batches stay idempotent. New same-time events go after the existing ones.
func insertDomainIndexEvent(events []model.DomainIndexEvent, ev model.DomainIndexEvent) []model.DomainIndexEvent {
	i := sort.Search(len(events), func(i int) bool { return events[i].At >= ev.At })
	for ; i < len(events) && events[i].At == ev.At; i++ {
		if events[i].DgnID == ev.DgnID {
			events[i] = ev
			return events
		}
	}
	events = append(events, model.DomainIndexEvent{})
	copy(events[i+1:], events[i:])
	events[i] = ev
	return events
}
