package bloom

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veldtgraph/veldt/internal/logging"
	"github.com/veldtgraph/veldt/internal/model"
	"github.com/veldtgraph/veldt/internal/persistence"
)

// readyFn decides whether a node id may have data in the backend. Before
// warm-up it is the constant true function; after a successful warm-up it
// is the filter's own membership test.
type readyFn func(model.NodeID) bool

// Config sizes the decorator's existence filter and selects the warm-up
// enumeration source.
type Config struct {
	// ExpectedNodes sizes the filter for the expected number of distinct
	// node ids over the life of this agent instance.
	ExpectedNodes uint

	// FalsePositiveRate is the target false-positive rate in (0, 1).
	FalsePositiveRate float64

	// JournalEnabled selects the warm-up source: journal ids when the
	// namespace journals events, snapshot ids otherwise.
	JournalEnabled bool
}

// Decorator implements persistence.Agent around one inner Agent. Every
// node-keyed write first records the id in the existence filter, then
// delegates; every node-keyed read consults the current ready predicate and
// returns the empty result without touching the backend when the predicate
// rules the id out. All other operations pass straight through.
//
// The ready predicate starts as the constant true function (fail open: every
// id is treated as possibly present). DeclareReady starts a background scan
// of ground-truth node ids; only when that scan completes fully is the
// filter's membership test published as the new predicate. A failed scan is
// logged and leaves the decorator a pure pass-through for the rest of the
// process lifetime.
type Decorator struct {
	inner          persistence.Agent
	filter         *ExistenceFilter
	journalEnabled bool

	ready      atomic.Pointer[readyFn]
	warmupOnce sync.Once
	warm       atomic.Bool

	log *slog.Logger
}

var _ persistence.Agent = (*Decorator)(nil)

// New wraps inner with a bloom-filtered read path. The filter is created
// here and lives exactly as long as the decorator; it is never rebuilt.
func New(inner persistence.Agent, cfg Config) *Decorator {
	d := &Decorator{
		inner:          inner,
		filter:         NewExistenceFilter(cfg.ExpectedNodes, cfg.FalsePositiveRate),
		journalEnabled: cfg.JournalEnabled,
		log:            logging.Component("bloom").With("namespace", inner.Namespace().String()),
	}
	passThrough := readyFn(func(model.NodeID) bool { return true })
	d.ready.Store(&passThrough)
	return d
}

// Warm reports whether warm-up has completed and reads are filter-backed.
func (d *Decorator) Warm() bool {
	return d.warm.Load()
}

// MightContain evaluates the current ready predicate for the id.
func (d *Decorator) MightContain(id model.NodeID) bool {
	return (*d.ready.Load())(id)
}

// Namespace returns the namespace of the wrapped agent.
func (d *Decorator) Namespace() model.Namespace {
	return d.inner.Namespace()
}

// PersistNodeChangeEvents records the id in the filter, then delegates.
func (d *Decorator) PersistNodeChangeEvents(ctx context.Context, id model.NodeID, events []model.NodeChangeEvent) error {
	d.filter.Add(id)
	return d.inner.PersistNodeChangeEvents(ctx, id, events)
}

// PersistDomainIndexEvents records the id in the filter, then delegates.
func (d *Decorator) PersistDomainIndexEvents(ctx context.Context, id model.NodeID, events []model.DomainIndexEvent) error {
	d.filter.Add(id)
	return d.inner.PersistDomainIndexEvents(ctx, id, events)
}

// PersistSnapshot records the id in the filter, then delegates.
func (d *Decorator) PersistSnapshot(ctx context.Context, id model.NodeID, atTime model.EventTime, data []byte) error {
	d.filter.Add(id)
	return d.inner.PersistSnapshot(ctx, id, atTime, data)
}

// SetStandingQueryState records the id in the filter, then delegates.
func (d *Decorator) SetStandingQueryState(ctx context.Context, queryID model.StandingQueryID, id model.NodeID, partID string, data []byte) error {
	d.filter.Add(id)
	return d.inner.SetStandingQueryState(ctx, queryID, id, partID, data)
}

// NodeChangeEvents short-circuits to an empty result for ids the ready
// predicate rules out.
func (d *Decorator) NodeChangeEvents(ctx context.Context, id model.NodeID, startingAt, endingAt model.EventTime) ([]model.NodeChangeEvent, error) {
	if !d.MightContain(id) {
		return nil, nil
	}
	return d.inner.NodeChangeEvents(ctx, id, startingAt, endingAt)
}

// DomainIndexEvents short-circuits to an empty result for ids the ready
// predicate rules out.
func (d *Decorator) DomainIndexEvents(ctx context.Context, id model.NodeID, startingAt, endingAt model.EventTime) ([]model.DomainIndexEvent, error) {
	if !d.MightContain(id) {
		return nil, nil
	}
	return d.inner.DomainIndexEvents(ctx, id, startingAt, endingAt)
}

// LatestSnapshot short-circuits to no snapshot for ids the ready predicate
// rules out.
func (d *Decorator) LatestSnapshot(ctx context.Context, id model.NodeID, upToTime model.EventTime) (*model.Snapshot, error) {
	if !d.MightContain(id) {
		return nil, nil
	}
	return d.inner.LatestSnapshot(ctx, id, upToTime)
}

// StandingQueryStates short-circuits to an empty mapping for ids the ready
// predicate rules out.
func (d *Decorator) StandingQueryStates(ctx context.Context, id model.NodeID) (map[model.StandingQueryPartKey][]byte, error) {
	if !d.MightContain(id) {
		return map[model.StandingQueryPartKey][]byte{}, nil
	}
	return d.inner.StandingQueryStates(ctx, id)
}

// The remaining operations are not usefully filterable or must always
// reflect ground truth; they pass straight through.

func (d *Decorator) EnumerateJournalNodeIDs(ctx context.Context, visit persistence.NodeIDVisitor) error {
	return d.inner.EnumerateJournalNodeIDs(ctx, visit)
}

func (d *Decorator) EnumerateSnapshotNodeIDs(ctx context.Context, visit persistence.NodeIDVisitor) error {
	return d.inner.EnumerateSnapshotNodeIDs(ctx, visit)
}

func (d *Decorator) PersistStandingQuery(ctx context.Context, query model.StandingQuery) error {
	return d.inner.PersistStandingQuery(ctx, query)
}

func (d *Decorator) RemoveStandingQuery(ctx context.Context, query model.StandingQuery) error {
	return d.inner.RemoveStandingQuery(ctx, query)
}

func (d *Decorator) StandingQueries(ctx context.Context) ([]model.StandingQuery, error) {
	return d.inner.StandingQueries(ctx)
}

func (d *Decorator) PersistQueryPlan(ctx context.Context, queryID model.StandingQueryID, plan []byte) error {
	return d.inner.PersistQueryPlan(ctx, queryID, plan)
}

func (d *Decorator) DeleteSnapshots(ctx context.Context, id model.NodeID) error {
	return d.inner.DeleteSnapshots(ctx, id)
}

func (d *Decorator) DeleteNodeChangeEvents(ctx context.Context, id model.NodeID) error {
	return d.inner.DeleteNodeChangeEvents(ctx, id)
}

func (d *Decorator) DeleteDomainIndexEvents(ctx context.Context, id model.NodeID) error {
	return d.inner.DeleteDomainIndexEvents(ctx, id)
}

func (d *Decorator) DeleteStandingQueryStates(ctx context.Context, id model.NodeID) error {
	return d.inner.DeleteStandingQueryStates(ctx, id)
}

func (d *Decorator) DeleteDomainIndexEventsByDgnID(ctx context.Context, dgnID model.DgnID) error {
	return d.inner.DeleteDomainIndexEventsByDgnID(ctx, dgnID)
}

func (d *Decorator) Empty(ctx context.Context) (bool, error) {
	return d.inner.Empty(ctx)
}

func (d *Decorator) ContainsStandingQueryStates(ctx context.Context) (bool, error) {
	return d.inner.ContainsStandingQueryStates(ctx)
}

func (d *Decorator) Shutdown(ctx context.Context) error {
	return d.inner.Shutdown(ctx)
}

func (d *Decorator) DeleteAll(ctx context.Context) error {
	return d.inner.DeleteAll(ctx)
}

// DeclareReady forwards to the inner agent, then starts the warm-up scan in
// the background. It returns immediately; the scan is never awaited and its
// failure never reaches a caller.
func (d *Decorator) DeclareReady(isLocal persistence.LocalityPredicate) {
	d.inner.DeclareReady(isLocal)
	d.warmupOnce.Do(func() {
		go d.warmUp(isLocal)
	})
}

// warmUp streams every ground-truth node id owned by this member into the
// filter, then publishes the filter's membership test as the ready
// predicate. cold -> warm happens exactly once, and only on a fully
// successful scan; any failure leaves the fail-open predicate in place for
// the rest of the process lifetime.
func (d *Decorator) warmUp(isLocal persistence.LocalityPredicate) {
	start := time.Now()
	source := "snapshots"
	enumerate := d.inner.EnumerateSnapshotNodeIDs
	if d.journalEnabled {
		source = "journals"
		enumerate = d.inner.EnumerateJournalNodeIDs
	}

	var count int64
	err := enumerate(context.Background(), func(id model.NodeID) error {
		if isLocal != nil && !isLocal(id) {
			return nil
		}
		d.filter.Add(id)
		count++
		return nil
	})
	if err != nil {
		d.log.Warn("existence filter warm-up failed, reads stay pass-through",
			"source", source, "ids", count, "error", err)
		return
	}

	warm := readyFn(d.filter.MightContain)
	d.ready.Store(&warm)
	d.warm.Store(true)
	d.log.Info("existence filter warm-up complete",
		"source", source, "ids", count, "elapsed", time.Since(start))
}
