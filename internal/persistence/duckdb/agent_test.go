package duckdb

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/veldtgraph/veldt/internal/errors"
	"github.com/veldtgraph/veldt/internal/model"
)

func newTestAgent(t *testing.T) *Agent {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "test.db")
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.Shutdown(context.Background()) })
	return a
}

func TestJournalRoundTrip(t *testing.T) {
	a := newTestAgent(t)
	ctx := context.Background()
	id := model.NewNodeID()

	events := []model.NodeChangeEvent{
		{At: 10, Data: []byte("a")},
		{At: 20, Data: []byte("b")},
		{At: 30, Data: []byte("c")},
	}
	if err := a.PersistNodeChangeEvents(ctx, id, events); err != nil {
		t.Fatal(err)
	}

	// Closed interval: both endpoints included.
	got, err := a.NodeChangeEvents(ctx, id, 10, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].At != 10 || got[1].At != 20 {
		t.Errorf("interval [10,20] = %v", got)
	}

	// Point query.
	got, err = a.NodeChangeEvents(ctx, id, 20, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !bytes.Equal(got[0].Data, []byte("b")) {
		t.Errorf("point query = %v", got)
	}

	// Full range is ascending.
	got, err = a.NodeChangeEvents(ctx, id, model.MinEventTime, model.MaxEventTime)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("full range = %v", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i].At < got[i-1].At {
			t.Errorf("events out of order: %v", got)
		}
	}

	// Other nodes see nothing.
	other, err := a.NodeChangeEvents(ctx, model.NewNodeID(), model.MinEventTime, model.MaxEventTime)
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("unrelated node has events: %v", other)
	}
}

func TestPersistRejectsEmptyBatch(t *testing.T) {
	a := newTestAgent(t)
	ctx := context.Background()
	id := model.NewNodeID()

	if err := a.PersistNodeChangeEvents(ctx, id, nil); !errors.Is(err, errors.ErrEmptyBatch) {
		t.Errorf("empty change batch error = %v", err)
	}
	if err := a.PersistDomainIndexEvents(ctx, id, nil); !errors.Is(err, errors.ErrEmptyBatch) {
		t.Errorf("empty index batch error = %v", err)
	}
}

func TestDomainIndexEventsByDgnID(t *testing.T) {
	a := newTestAgent(t)
	ctx := context.Background()
	nodeA := model.NewNodeID()
	nodeB := model.NewNodeID()

	if err := a.PersistDomainIndexEvents(ctx, nodeA, []model.DomainIndexEvent{
		{At: 1, DgnID: 7, Data: []byte("x")},
		{At: 2, DgnID: 8, Data: []byte("y")},
	}); err != nil {
		t.Fatal(err)
	}
	if err := a.PersistDomainIndexEvents(ctx, nodeB, []model.DomainIndexEvent{
		{At: 3, DgnID: 7, Data: []byte("z")},
	}); err != nil {
		t.Fatal(err)
	}

	// Retiring definition 7 purges it on every node, leaving 8 intact.
	if err := a.DeleteDomainIndexEventsByDgnID(ctx, 7); err != nil {
		t.Fatal(err)
	}

	got, err := a.DomainIndexEvents(ctx, nodeA, model.MinEventTime, model.MaxEventTime)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].DgnID != 8 {
		t.Errorf("node A events after purge = %v", got)
	}
	got, err = a.DomainIndexEvents(ctx, nodeB, model.MinEventTime, model.MaxEventTime)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("node B events after purge = %v", got)
	}
}

func TestLatestSnapshot(t *testing.T) {
	a := newTestAgent(t)
	ctx := context.Background()
	id := model.NewNodeID()

	for _, at := range []model.EventTime{10, 20, 30} {
		if err := a.PersistSnapshot(ctx, id, at, []byte{byte(at)}); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		upTo   model.EventTime
		wantAt model.EventTime
		none   bool
	}{
		{upTo: model.MaxEventTime, wantAt: 30},
		{upTo: 30, wantAt: 30},
		{upTo: 25, wantAt: 20},
		{upTo: 10, wantAt: 10},
		{upTo: 9, none: true},
	}
	for _, tt := range tests {
		snap, err := a.LatestSnapshot(ctx, id, tt.upTo)
		if err != nil {
			t.Fatal(err)
		}
		if tt.none {
			if snap != nil {
				t.Errorf("upTo %d: expected none, got %v", tt.upTo, snap)
			}
			continue
		}
		if snap == nil || snap.At != tt.wantAt {
			t.Errorf("upTo %d: snapshot = %v, want At %d", tt.upTo, snap, tt.wantAt)
		}
	}

	if snap, err := a.LatestSnapshot(ctx, model.NewNodeID(), model.MaxEventTime); err != nil || snap != nil {
		t.Errorf("snapshot for unknown node = %v, %v", snap, err)
	}
}

func TestEnumerationIsDistinctAndRestartable(t *testing.T) {
	a := newTestAgent(t)
	ctx := context.Background()

	want := map[model.NodeID]bool{}
	for i := 0; i < 5; i++ {
		id := model.NewNodeID()
		want[id] = true
		// Multiple records per node must still yield the id once.
		if err := a.PersistNodeChangeEvents(ctx, id, []model.NodeChangeEvent{
			{At: 1, Data: []byte("a")},
			{At: 2, Data: []byte("b")},
		}); err != nil {
			t.Fatal(err)
		}
	}

	collect := func() map[model.NodeID]int {
		seen := map[model.NodeID]int{}
		if err := a.EnumerateJournalNodeIDs(ctx, func(id model.NodeID) error {
			seen[id]++
			return nil
		}); err != nil {
			t.Fatal(err)
		}
		return seen
	}

	for pass := 0; pass < 2; pass++ {
		seen := collect()
		if len(seen) != len(want) {
			t.Fatalf("pass %d: enumerated %d ids, want %d", pass, len(seen), len(want))
		}
		for id, n := range seen {
			if !want[id] || n != 1 {
				t.Errorf("pass %d: id %s seen %d times", pass, id, n)
			}
		}
	}

	// Visitor errors abort the scan and surface unchanged.
	sentinel := errors.New("stop")
	if err := a.EnumerateJournalNodeIDs(ctx, func(model.NodeID) error { return sentinel }); !errors.Is(err, sentinel) {
		t.Errorf("visitor error = %v, want %v", err, sentinel)
	}
}

func TestStandingQueryRegistry(t *testing.T) {
	a := newTestAgent(t)
	ctx := context.Background()

	q := model.StandingQuery{ID: model.NewStandingQueryID(), Name: "watch", Definition: []byte("def")}
	if err := a.PersistStandingQuery(ctx, q); err != nil {
		t.Fatal(err)
	}
	if err := a.PersistQueryPlan(ctx, q.ID, []byte("plan")); err != nil {
		t.Fatal(err)
	}

	queries, err := a.StandingQueries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(queries) != 1 || queries[0].ID != q.ID || queries[0].Name != "watch" || !bytes.Equal(queries[0].Definition, []byte("def")) {
		t.Errorf("queries = %v", queries)
	}

	// Removal is idempotent.
	for i := 0; i < 2; i++ {
		if err := a.RemoveStandingQuery(ctx, q); err != nil {
			t.Fatal(err)
		}
	}
	queries, err = a.StandingQueries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(queries) != 0 {
		t.Errorf("queries after removal = %v", queries)
	}
}

func TestStandingQueryStates(t *testing.T) {
	a := newTestAgent(t)
	ctx := context.Background()
	id := model.NewNodeID()
	queryID := model.NewStandingQueryID()

	if err := a.SetStandingQueryState(ctx, queryID, id, "p1", []byte("s1")); err != nil {
		t.Fatal(err)
	}
	if err := a.SetStandingQueryState(ctx, queryID, id, "p2", []byte("s2")); err != nil {
		t.Fatal(err)
	}
	// Upsert replaces.
	if err := a.SetStandingQueryState(ctx, queryID, id, "p1", []byte("s1b")); err != nil {
		t.Fatal(err)
	}

	states, err := a.StandingQueryStates(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 2 {
		t.Fatalf("states = %v", states)
	}
	if got := states[model.StandingQueryPartKey{QueryID: queryID, PartID: "p1"}]; !bytes.Equal(got, []byte("s1b")) {
		t.Errorf("p1 state = %q", got)
	}

	exists, err := a.ContainsStandingQueryStates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Error("ContainsStandingQueryStates = false with states present")
	}

	// nil data deletes; deleting twice is fine.
	for i := 0; i < 2; i++ {
		if err := a.SetStandingQueryState(ctx, queryID, id, "p1", nil); err != nil {
			t.Fatal(err)
		}
	}
	states, err = a.StandingQueryStates(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 1 {
		t.Errorf("states after delete = %v", states)
	}
}

func TestPerNodePurges(t *testing.T) {
	a := newTestAgent(t)
	ctx := context.Background()
	id := model.NewNodeID()

	if err := a.PersistNodeChangeEvents(ctx, id, []model.NodeChangeEvent{{At: 1, Data: []byte("e")}}); err != nil {
		t.Fatal(err)
	}
	if err := a.PersistDomainIndexEvents(ctx, id, []model.DomainIndexEvent{{At: 1, DgnID: 1, Data: []byte("d")}}); err != nil {
		t.Fatal(err)
	}
	if err := a.PersistSnapshot(ctx, id, 1, []byte("s")); err != nil {
		t.Fatal(err)
	}
	if err := a.SetStandingQueryState(ctx, model.NewStandingQueryID(), id, "p", []byte("x")); err != nil {
		t.Fatal(err)
	}

	// Each purge twice: idempotent by contract.
	for i := 0; i < 2; i++ {
		if err := a.DeleteNodeChangeEvents(ctx, id); err != nil {
			t.Fatal(err)
		}
		if err := a.DeleteDomainIndexEvents(ctx, id); err != nil {
			t.Fatal(err)
		}
		if err := a.DeleteSnapshots(ctx, id); err != nil {
			t.Fatal(err)
		}
		if err := a.DeleteStandingQueryStates(ctx, id); err != nil {
			t.Fatal(err)
		}
	}

	empty, err := a.Empty(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !empty {
		t.Error("Empty = false after purging the only node")
	}
}

func TestEmptyAndDeleteAll(t *testing.T) {
	a := newTestAgent(t)
	ctx := context.Background()

	empty, err := a.Empty(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !empty {
		t.Error("fresh store should be empty")
	}

	id := model.NewNodeID()
	if err := a.PersistSnapshot(ctx, id, 1, []byte("s")); err != nil {
		t.Fatal(err)
	}
	if empty, err = a.Empty(ctx); err != nil || empty {
		t.Errorf("Empty after write = %v, %v", empty, err)
	}

	if err := a.DeleteAll(ctx); err != nil {
		t.Fatal(err)
	}
	if empty, err = a.Empty(ctx); err != nil || !empty {
		t.Errorf("Empty after DeleteAll = %v, %v", empty, err)
	}
}

func TestMetadata(t *testing.T) {
	a := newTestAgent(t)
	ctx := context.Background()

	// Startup reads a key that was never written: nil, no error.
	v, err := a.Metadata(ctx, "schemaVersion")
	if err != nil {
		t.Fatal(err)
	}
	if v != nil {
		t.Errorf("unset key = %v", v)
	}

	if err := a.SetMetadata(ctx, "schemaVersion", []byte{3}); err != nil {
		t.Fatal(err)
	}
	v, err = a.Metadata(ctx, "schemaVersion")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(v, []byte{3}) {
		t.Errorf("schemaVersion = %v", v)
	}

	// Overwrite, then enumerate.
	if err := a.SetMetadata(ctx, "schemaVersion", []byte{4}); err != nil {
		t.Fatal(err)
	}
	if err := a.SetMetadata(ctx, "clusterName", []byte("veldt")); err != nil {
		t.Fatal(err)
	}
	all, err := a.AllMetadata(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || !bytes.Equal(all["schemaVersion"], []byte{4}) {
		t.Errorf("AllMetadata = %v", all)
	}

	// Metadata survives DeleteAll: it is process-level, not namespace data.
	if err := a.DeleteAll(ctx); err != nil {
		t.Fatal(err)
	}
	if v, err = a.Metadata(ctx, "clusterName"); err != nil || !bytes.Equal(v, []byte("veldt")) {
		t.Errorf("metadata after DeleteAll = %v, %v", v, err)
	}

	// nil value deletes; deleting twice succeeds silently.
	for i := 0; i < 2; i++ {
		if err := a.SetMetadata(ctx, "clusterName", nil); err != nil {
			t.Fatal(err)
		}
	}
	all, err = a.AllMetadata(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := all["clusterName"]; ok {
		t.Error("deleted key still enumerated")
	}
}

func TestDataSurvivesReopen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	a, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	id := model.NewNodeID()
	if err := a.PersistNodeChangeEvents(ctx, id, []model.NodeChangeEvent{{At: 1, Data: []byte("e")}}); err != nil {
		t.Fatal(err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}

	// Second open verifies the existing schema instead of recreating it.
	cfg.CreateTables = false
	a, err = New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Shutdown(ctx)

	got, err := a.NodeChangeEvents(ctx, id, model.MinEventTime, model.MaxEventTime)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !bytes.Equal(got[0].Data, []byte("e")) {
		t.Errorf("events after reopen = %v", got)
	}
}

func TestMissingSchemaIsDetected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "fresh.db")
	cfg.CreateTables = false

	_, err := New(cfg)
	if !errors.IsSchemaMismatch(err) {
		t.Errorf("opening a fresh database without setup = %v, want schema mismatch", err)
	}
}

func TestShutdownIsIdempotentAndFailsFurtherOps(t *testing.T) {
	a := newTestAgent(t)
	ctx := context.Background()

	if err := a.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown = %v", err)
	}

	if _, err := a.NodeChangeEvents(ctx, model.NewNodeID(), model.MinEventTime, model.MaxEventTime); !errors.IsClosed(err) {
		t.Errorf("read after shutdown = %v, want closed", err)
	}
	if err := a.PersistSnapshot(ctx, model.NewNodeID(), 1, []byte("s")); !errors.IsClosed(err) {
		t.Errorf("write after shutdown = %v, want closed", err)
	}
}
