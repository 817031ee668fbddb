// Package instrumented provides an Agent decorator that tracks per-operation
// latency with DDSketch, exposing count and percentile statistics without
// changing any operation's semantics.
package instrumented

import (
	"context"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/veldtgraph/veldt/internal/model"
	"github.com/veldtgraph/veldt/internal/persistence"
)

// OpStats is a point-in-time latency summary for one operation, in
// milliseconds.
type OpStats struct {
	Count float64
	P50   float64
	P95   float64
	P99   float64
}

// Agent wraps an inner Agent and records the latency of every forwarded
// operation in a per-operation DDSketch.
//
// Agent is safe for concurrent use; the sketches are guarded by a mutex.
type Agent struct {
	inner    persistence.Agent
	accuracy float64

	mu       sync.Mutex
	sketches map[string]*ddsketch.DDSketch
}

var _ persistence.Agent = (*Agent)(nil)

// New wraps inner with latency tracking at the given DDSketch relative
// accuracy (0.01 = 1% error).
func New(inner persistence.Agent, accuracy float64) *Agent {
	return &Agent{
		inner:    inner,
		accuracy: accuracy,
		sketches: make(map[string]*ddsketch.DDSketch),
	}
}

// observe records one operation latency. Sketch failures are ignored: the
// statistics are best-effort and must never affect the operation result.
func (a *Agent) observe(op string, start time.Time) {
	ms := float64(time.Since(start).Microseconds()) / 1000.0

	a.mu.Lock()
	defer a.mu.Unlock()

	sketch := a.sketches[op]
	if sketch == nil {
		s, err := ddsketch.NewDefaultDDSketch(a.accuracy)
		if err != nil {
			return
		}
		sketch = s
		a.sketches[op] = sketch
	}
	_ = sketch.Add(ms)
}

// Stats returns the current latency summary per operation.
func (a *Agent) Stats() map[string]OpStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]OpStats, len(a.sketches))
	for op, sketch := range a.sketches {
		stats := OpStats{Count: sketch.GetCount()}
		if qs, err := sketch.GetValuesAtQuantiles([]float64{0.5, 0.95, 0.99}); err == nil {
			stats.P50, stats.P95, stats.P99 = qs[0], qs[1], qs[2]
		}
		out[op] = stats
	}
	return out
}

func (a *Agent) Namespace() model.Namespace {
	return a.inner.Namespace()
}

func (a *Agent) PersistNodeChangeEvents(ctx context.Context, id model.NodeID, events []model.NodeChangeEvent) error {
	defer a.observe("PersistNodeChangeEvents", time.Now())
	return a.inner.PersistNodeChangeEvents(ctx, id, events)
}

func (a *Agent) PersistDomainIndexEvents(ctx context.Context, id model.NodeID, events []model.DomainIndexEvent) error {
	defer a.observe("PersistDomainIndexEvents", time.Now())
	return a.inner.PersistDomainIndexEvents(ctx, id, events)
}

func (a *Agent) NodeChangeEvents(ctx context.Context, id model.NodeID, startingAt, endingAt model.EventTime) ([]model.NodeChangeEvent, error) {
	defer a.observe("NodeChangeEvents", time.Now())
	return a.inner.NodeChangeEvents(ctx, id, startingAt, endingAt)
}

func (a *Agent) DomainIndexEvents(ctx context.Context, id model.NodeID, startingAt, endingAt model.EventTime) ([]model.DomainIndexEvent, error) {
	defer a.observe("DomainIndexEvents", time.Now())
	return a.inner.DomainIndexEvents(ctx, id, startingAt, endingAt)
}

func (a *Agent) PersistSnapshot(ctx context.Context, id model.NodeID, atTime model.EventTime, data []byte) error {
	defer a.observe("PersistSnapshot", time.Now())
	return a.inner.PersistSnapshot(ctx, id, atTime, data)
}

func (a *Agent) LatestSnapshot(ctx context.Context, id model.NodeID, upToTime model.EventTime) (*model.Snapshot, error) {
	defer a.observe("LatestSnapshot", time.Now())
	return a.inner.LatestSnapshot(ctx, id, upToTime)
}

func (a *Agent) EnumerateJournalNodeIDs(ctx context.Context, visit persistence.NodeIDVisitor) error {
	defer a.observe("EnumerateJournalNodeIDs", time.Now())
	return a.inner.EnumerateJournalNodeIDs(ctx, visit)
}

func (a *Agent) EnumerateSnapshotNodeIDs(ctx context.Context, visit persistence.NodeIDVisitor) error {
	defer a.observe("EnumerateSnapshotNodeIDs", time.Now())
	return a.inner.EnumerateSnapshotNodeIDs(ctx, visit)
}

func (a *Agent) PersistStandingQuery(ctx context.Context, query model.StandingQuery) error {
	defer a.observe("PersistStandingQuery", time.Now())
	return a.inner.PersistStandingQuery(ctx, query)
}

func (a *Agent) RemoveStandingQuery(ctx context.Context, query model.StandingQuery) error {
	defer a.observe("RemoveStandingQuery", time.Now())
	return a.inner.RemoveStandingQuery(ctx, query)
}

func (a *Agent) StandingQueries(ctx context.Context) ([]model.StandingQuery, error) {
	defer a.observe("StandingQueries", time.Now())
	return a.inner.StandingQueries(ctx)
}

func (a *Agent) StandingQueryStates(ctx context.Context, id model.NodeID) (map[model.StandingQueryPartKey][]byte, error) {
	defer a.observe("StandingQueryStates", time.Now())
	return a.inner.StandingQueryStates(ctx, id)
}

func (a *Agent) SetStandingQueryState(ctx context.Context, queryID model.StandingQueryID, id model.NodeID, partID string, data []byte) error {
	defer a.observe("SetStandingQueryState", time.Now())
	return a.inner.SetStandingQueryState(ctx, queryID, id, partID, data)
}

func (a *Agent) PersistQueryPlan(ctx context.Context, queryID model.StandingQueryID, plan []byte) error {
	defer a.observe("PersistQueryPlan", time.Now())
	return a.inner.PersistQueryPlan(ctx, queryID, plan)
}

func (a *Agent) DeleteSnapshots(ctx context.Context, id model.NodeID) error {
	defer a.observe("DeleteSnapshots", time.Now())
	return a.inner.DeleteSnapshots(ctx, id)
}

func (a *Agent) DeleteNodeChangeEvents(ctx context.Context, id model.NodeID) error {
	defer a.observe("DeleteNodeChangeEvents", time.Now())
	return a.inner.DeleteNodeChangeEvents(ctx, id)
}

func (a *Agent) DeleteDomainIndexEvents(ctx context.Context, id model.NodeID) error {
	defer a.observe("DeleteDomainIndexEvents", time.Now())
	return a.inner.DeleteDomainIndexEvents(ctx, id)
}

func (a *Agent) DeleteStandingQueryStates(ctx context.Context, id model.NodeID) error {
	defer a.observe("DeleteStandingQueryStates", time.Now())
	return a.inner.DeleteStandingQueryStates(ctx, id)
}

func (a *Agent) DeleteDomainIndexEventsByDgnID(ctx context.Context, dgnID model.DgnID) error {
	defer a.observe("DeleteDomainIndexEventsByDgnID", time.Now())
	return a.inner.DeleteDomainIndexEventsByDgnID(ctx, dgnID)
}

func (a *Agent) Empty(ctx context.Context) (bool, error) {
	defer a.observe("Empty", time.Now())
	return a.inner.Empty(ctx)
}

func (a *Agent) ContainsStandingQueryStates(ctx context.Context) (bool, error) {
	defer a.observe("ContainsStandingQueryStates", time.Now())
	return a.inner.ContainsStandingQueryStates(ctx)
}

func (a *Agent) DeclareReady(isLocal persistence.LocalityPredicate) {
	a.inner.DeclareReady(isLocal)
}

func (a *Agent) Shutdown(ctx context.Context) error {
	defer a.observe("Shutdown", time.Now())
	return a.inner.Shutdown(ctx)
}

func (a *Agent) DeleteAll(ctx context.Context) error {
	defer a.observe("DeleteAll", time.Now())
	return a.inner.DeleteAll(ctx)
}
