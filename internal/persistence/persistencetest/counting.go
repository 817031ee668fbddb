// Package persistencetest provides test doubles for the Agent contract.
package persistencetest

import (
	"context"
	"sync"

	"github.com/veldtgraph/veldt/internal/model"
	"github.com/veldtgraph/veldt/internal/persistence"
)

// CountingAgent wraps an inner Agent and counts calls per operation. It is
// used to verify which operations a decorator actually forwards. Injectable
// enumeration errors simulate warm-up scan failures.
//
// CountingAgent is safe for concurrent use.
type CountingAgent struct {
	inner persistence.Agent

	mu    sync.Mutex
	calls map[string]int

	// EnumerateJournalErr, when set, fails every journal enumeration after
	// the call is counted. EnumerateSnapshotErr does the same for snapshots.
	EnumerateJournalErr  error
	EnumerateSnapshotErr error
}

var _ persistence.Agent = (*CountingAgent)(nil)

// NewCounting wraps inner with call counting.
func NewCounting(inner persistence.Agent) *CountingAgent {
	return &CountingAgent{inner: inner, calls: make(map[string]int)}
}

// Calls returns how many times the named operation was invoked.
func (c *CountingAgent) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// TotalCalls returns the number of invocations across all operations.
func (c *CountingAgent) TotalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.calls {
		total += n
	}
	return total
}

func (c *CountingAgent) record(op string) {
	c.mu.Lock()
	c.calls[op]++
	c.mu.Unlock()
}

func (c *CountingAgent) Namespace() model.Namespace {
	return c.inner.Namespace()
}

func (c *CountingAgent) PersistNodeChangeEvents(ctx context.Context, id model.NodeID, events []model.NodeChangeEvent) error {
	c.record("PersistNodeChangeEvents")
	return c.inner.PersistNodeChangeEvents(ctx, id, events)
}

func (c *CountingAgent) PersistDomainIndexEvents(ctx context.Context, id model.NodeID, events []model.DomainIndexEvent) error {
	c.record("PersistDomainIndexEvents")
	return c.inner.PersistDomainIndexEvents(ctx, id, events)
}

func (c *CountingAgent) NodeChangeEvents(ctx context.Context, id model.NodeID, startingAt, endingAt model.EventTime) ([]model.NodeChangeEvent, error) {
	c.record("NodeChangeEvents")
	return c.inner.NodeChangeEvents(ctx, id, startingAt, endingAt)
}

func (c *CountingAgent) DomainIndexEvents(ctx context.Context, id model.NodeID, startingAt, endingAt model.EventTime) ([]model.DomainIndexEvent, error) {
	c.record("DomainIndexEvents")
	return c.inner.DomainIndexEvents(ctx, id, startingAt, endingAt)
}

func (c *CountingAgent) PersistSnapshot(ctx context.Context, id model.NodeID, atTime model.EventTime, data []byte) error {
	c.record("PersistSnapshot")
	return c.inner.PersistSnapshot(ctx, id, atTime, data)
}

func (c *CountingAgent) LatestSnapshot(ctx context.Context, id model.NodeID, upToTime model.EventTime) (*model.Snapshot, error) {
	c.record("LatestSnapshot")
	return c.inner.LatestSnapshot(ctx, id, upToTime)
}

func (c *CountingAgent) EnumerateJournalNodeIDs(ctx context.Context, visit persistence.NodeIDVisitor) error {
	c.record("EnumerateJournalNodeIDs")
	if c.EnumerateJournalErr != nil {
		return c.EnumerateJournalErr
	}
	return c.inner.EnumerateJournalNodeIDs(ctx, visit)
}

func (c *CountingAgent) EnumerateSnapshotNodeIDs(ctx context.Context, visit persistence.NodeIDVisitor) error {
	c.record("EnumerateSnapshotNodeIDs")
	if c.EnumerateSnapshotErr != nil {
		return c.EnumerateSnapshotErr
	}
	return c.inner.EnumerateSnapshotNodeIDs(ctx, visit)
}

func (c *CountingAgent) PersistStandingQuery(ctx context.Context, query model.StandingQuery) error {
	c.record("PersistStandingQuery")
	return c.inner.PersistStandingQuery(ctx, query)
}

func (c *CountingAgent) RemoveStandingQuery(ctx context.Context, query model.StandingQuery) error {
	c.record("RemoveStandingQuery")
	return c.inner.RemoveStandingQuery(ctx, query)
}

func (c *CountingAgent) StandingQueries(ctx context.Context) ([]model.StandingQuery, error) {
	c.record("StandingQueries")
	return c.inner.StandingQueries(ctx)
}

func (c *CountingAgent) StandingQueryStates(ctx context.Context, id model.NodeID) (map[model.StandingQueryPartKey][]byte, error) {
	c.record("StandingQueryStates")
	return c.inner.StandingQueryStates(ctx, id)
}

func (c *CountingAgent) SetStandingQueryState(ctx context.Context, queryID model.StandingQueryID, id model.NodeID, partID string, data []byte) error {
	c.record("SetStandingQueryState")
	return c.inner.SetStandingQueryState(ctx, queryID, id, partID, data)
}

func (c *CountingAgent) PersistQueryPlan(ctx context.Context, queryID model.StandingQueryID, plan []byte) error {
	c.record("PersistQueryPlan")
	return c.inner.PersistQueryPlan(ctx, queryID, plan)
}

func (c *CountingAgent) DeleteSnapshots(ctx context.Context, id model.NodeID) error {
	c.record("DeleteSnapshots")
	return c.inner.DeleteSnapshots(ctx, id)
}

func (c *CountingAgent) DeleteNodeChangeEvents(ctx context.Context, id model.NodeID) error {
	c.record("DeleteNodeChangeEvents")
	return c.inner.DeleteNodeChangeEvents(ctx, id)
}

func (c *CountingAgent) DeleteDomainIndexEvents(ctx context.Context, id model.NodeID) error {
	c.record("DeleteDomainIndexEvents")
	return c.inner.DeleteDomainIndexEvents(ctx, id)
}

func (c *CountingAgent) DeleteStandingQueryStates(ctx context.Context, id model.NodeID) error {
	c.record("DeleteStandingQueryStates")
	return c.inner.DeleteStandingQueryStates(ctx, id)
}

func (c *CountingAgent) DeleteDomainIndexEventsByDgnID(ctx context.Context, dgnID model.DgnID) error {
	c.record("DeleteDomainIndexEventsByDgnID")
	return c.inner.DeleteDomainIndexEventsByDgnID(ctx, dgnID)
}

func (c *CountingAgent) Empty(ctx context.Context) (bool, error) {
	c.record("Empty")
	return c.inner.Empty(ctx)
}

func (c *CountingAgent) ContainsStandingQueryStates(ctx context.Context) (bool, error) {
	c.record("ContainsStandingQueryStates")
	return c.inner.ContainsStandingQueryStates(ctx)
}

func (c *CountingAgent) DeclareReady(isLocal persistence.LocalityPredicate) {
	c.record("DeclareReady")
	c.inner.DeclareReady(isLocal)
}

func (c *CountingAgent) Shutdown(ctx context.Context) error {
	c.record("Shutdown")
	return c.inner.Shutdown(ctx)
}

func (c *CountingAgent) DeleteAll(ctx context.Context) error {
	c.record("DeleteAll")
	return c.inner.DeleteAll(ctx)
}
