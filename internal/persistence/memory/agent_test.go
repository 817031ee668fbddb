package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/veldtgraph/veldt/internal/errors"
	"github.com/veldtgraph/veldt/internal/model"
)

func TestPersistNodeChangeEvents_Ordering(t *testing.T) {
	a := New(model.DefaultNamespace)
	ctx := context.Background()
	id := model.NewNodeID()

	// Out-of-order batches still come back ascending.
	events := []model.NodeChangeEvent{
		{At: 30, Data: []byte("t3")},
		{At: 10, Data: []byte("t1")},
	}
	if err := a.PersistNodeChangeEvents(ctx, id, events[:1]); err != nil {
		t.Fatal(err)
	}
	if err := a.PersistNodeChangeEvents(ctx, id, events[1:]); err != nil {
		t.Fatal(err)
	}
	if err := a.PersistNodeChangeEvents(ctx, id, []model.NodeChangeEvent{{At: 20, Data: []byte("t2")}}); err != nil {
		t.Fatal(err)
	}

	got, err := a.NodeChangeEvents(ctx, id, 10, 30)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	for i, want := range []model.EventTime{10, 20, 30} {
		if got[i].At != want {
			t.Errorf("event %d at %d, want %d", i, got[i].At, want)
		}
	}

	// Closed interval includes both bounds and supports point queries.
	point, err := a.NodeChangeEvents(ctx, id, 20, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(point) != 1 || string(point[0].Data) != "t2" {
		t.Errorf("point query at t2 returned %v", point)
	}

	empty, err := a.NodeChangeEvents(ctx, id, 31, 40)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty result above range, got %d events", len(empty))
	}
}

func TestPersistNodeChangeEvents_RejectsEmptyBatch(t *testing.T) {
	a := New(model.DefaultNamespace)
	err := a.PersistNodeChangeEvents(context.Background(), model.NewNodeID(), nil)
	if !errors.Is(err, errors.ErrEmptyBatch) {
		t.Errorf("expected ErrEmptyBatch, got %v", err)
	}
	err = a.PersistDomainIndexEvents(context.Background(), model.NewNodeID(), nil)
	if !errors.Is(err, errors.ErrEmptyBatch) {
		t.Errorf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestSnapshots_LatestUpTo(t *testing.T) {
	a := New(model.DefaultNamespace)
	ctx := context.Background()
	id := model.NewNodeID()

	for _, at := range []model.EventTime{100, 300, 200} {
		if err := a.PersistSnapshot(ctx, id, at, []byte{byte(at / 100)}); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		upTo     model.EventTime
		wantAt   model.EventTime
		wantNone bool
	}{
		{upTo: 99, wantNone: true},
		{upTo: 100, wantAt: 100},
		{upTo: 250, wantAt: 200},
		{upTo: model.MaxEventTime, wantAt: 300},
	}
	for _, tt := range tests {
		snap, err := a.LatestSnapshot(ctx, id, tt.upTo)
		if err != nil {
			t.Fatal(err)
		}
		if tt.wantNone {
			if snap != nil {
				t.Errorf("upTo=%d: expected none, got snapshot at %d", tt.upTo, snap.At)
			}
			continue
		}
		if snap == nil || snap.At != tt.wantAt {
			t.Errorf("upTo=%d: got %v, want snapshot at %d", tt.upTo, snap, tt.wantAt)
		}
	}

	// Unknown node has no snapshot.
	snap, err := a.LatestSnapshot(ctx, model.NewNodeID(), model.MaxEventTime)
	if err != nil {
		t.Fatal(err)
	}
	if snap != nil {
		t.Error("unknown node should have no snapshot")
	}
}

func TestEnumerate(t *testing.T) {
	a := New(model.DefaultNamespace)
	ctx := context.Background()

	withJournal := model.NewNodeID()
	withSnapshot := model.NewNodeID()

	if err := a.PersistNodeChangeEvents(ctx, withJournal, []model.NodeChangeEvent{{At: 1}}); err != nil {
		t.Fatal(err)
	}
	if err := a.PersistSnapshot(ctx, withSnapshot, 1, []byte("s")); err != nil {
		t.Fatal(err)
	}

	collect := func(enumerate func(context.Context, func(model.NodeID) error) error) map[model.NodeID]int {
		seen := make(map[model.NodeID]int)
		if err := enumerate(ctx, func(id model.NodeID) error {
			seen[id]++
			return nil
		}); err != nil {
			t.Fatal(err)
		}
		return seen
	}

	journalIDs := collect(func(ctx context.Context, fn func(model.NodeID) error) error {
		return a.EnumerateJournalNodeIDs(ctx, fn)
	})
	if len(journalIDs) != 1 || journalIDs[withJournal] != 1 {
		t.Errorf("journal enumeration = %v", journalIDs)
	}

	snapshotIDs := collect(func(ctx context.Context, fn func(model.NodeID) error) error {
		return a.EnumerateSnapshotNodeIDs(ctx, fn)
	})
	if len(snapshotIDs) != 1 || snapshotIDs[withSnapshot] != 1 {
		t.Errorf("snapshot enumeration = %v", snapshotIDs)
	}

	// A fresh call re-scans ground truth.
	if err := a.DeleteNodeChangeEvents(ctx, withJournal); err != nil {
		t.Fatal(err)
	}
	if got := collect(func(ctx context.Context, fn func(model.NodeID) error) error {
		return a.EnumerateJournalNodeIDs(ctx, fn)
	}); len(got) != 0 {
		t.Errorf("expected empty re-scan, got %v", got)
	}
}

func TestEnumerate_VisitorErrorAborts(t *testing.T) {
	a := New(model.DefaultNamespace)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := a.PersistNodeChangeEvents(ctx, model.NewNodeID(), []model.NodeChangeEvent{{At: 1}}); err != nil {
			t.Fatal(err)
		}
	}

	boom := errors.New("stream abort")
	calls := 0
	err := a.EnumerateJournalNodeIDs(ctx, func(model.NodeID) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected visitor error to surface, got %v", err)
	}
	if calls != 1 {
		t.Errorf("scan should abort on first error, visited %d", calls)
	}
}

func TestStandingQueries_CRUD(t *testing.T) {
	a := New(model.DefaultNamespace)
	ctx := context.Background()

	q := model.StandingQuery{ID: model.NewStandingQueryID(), Name: "watch-logins", Definition: []byte("def")}
	if err := a.PersistStandingQuery(ctx, q); err != nil {
		t.Fatal(err)
	}

	got, err := a.StandingQueries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "watch-logins" {
		t.Errorf("queries = %v", got)
	}

	if err := a.RemoveStandingQuery(ctx, q); err != nil {
		t.Fatal(err)
	}
	// Removing again is not an error.
	if err := a.RemoveStandingQuery(ctx, q); err != nil {
		t.Fatal(err)
	}
	got, err = a.StandingQueries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty registry, got %v", got)
	}
}

func TestStandingQueryStates(t *testing.T) {
	a := New(model.DefaultNamespace)
	ctx := context.Background()
	id := model.NewNodeID()
	qID := model.NewStandingQueryID()

	if err := a.SetStandingQueryState(ctx, qID, id, "part-1", []byte("s1")); err != nil {
		t.Fatal(err)
	}
	if err := a.SetStandingQueryState(ctx, qID, id, "part-2", []byte("s2")); err != nil {
		t.Fatal(err)
	}

	states, err := a.StandingQueryStates(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 2 {
		t.Fatalf("got %d states, want 2", len(states))
	}
	key := model.StandingQueryPartKey{QueryID: qID, PartID: "part-1"}
	if !bytes.Equal(states[key], []byte("s1")) {
		t.Errorf("state for part-1 = %q", states[key])
	}

	has, err := a.ContainsStandingQueryStates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !has {
		t.Error("expected ContainsStandingQueryStates true")
	}

	// nil deletes; deleting an absent entry is not an error.
	if err := a.SetStandingQueryState(ctx, qID, id, "part-1", nil); err != nil {
		t.Fatal(err)
	}
	if err := a.SetStandingQueryState(ctx, qID, id, "part-1", nil); err != nil {
		t.Fatal(err)
	}
	if err := a.SetStandingQueryState(ctx, qID, id, "part-2", nil); err != nil {
		t.Fatal(err)
	}

	has, err = a.ContainsStandingQueryStates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Error("expected ContainsStandingQueryStates false after deletes")
	}
}

func TestPerNodePurge_Idempotent(t *testing.T) {
	a := New(model.DefaultNamespace)
	ctx := context.Background()
	id := model.NewNodeID()

	if err := a.PersistNodeChangeEvents(ctx, id, []model.NodeChangeEvent{{At: 1}}); err != nil {
		t.Fatal(err)
	}
	if err := a.PersistDomainIndexEvents(ctx, id, []model.DomainIndexEvent{{At: 1, DgnID: 7}}); err != nil {
		t.Fatal(err)
	}
	if err := a.PersistSnapshot(ctx, id, 1, []byte("s")); err != nil {
		t.Fatal(err)
	}
	if err := a.SetStandingQueryState(ctx, model.NewStandingQueryID(), id, "p", []byte("x")); err != nil {
		t.Fatal(err)
	}

	purges := []func(context.Context, model.NodeID) error{
		a.DeleteNodeChangeEvents,
		a.DeleteDomainIndexEvents,
		a.DeleteSnapshots,
		a.DeleteStandingQueryStates,
	}
	for _, purge := range purges {
		if err := purge(ctx, id); err != nil {
			t.Fatal(err)
		}
		// Second purge of the same node is a no-op.
		if err := purge(ctx, id); err != nil {
			t.Fatal(err)
		}
	}

	empty, err := a.Empty(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !empty {
		t.Error("namespace should be empty after purges")
	}
}

func TestPersistDomainIndexEvents_ReplayIsIdempotent(t *testing.T) {
	a := New(model.DefaultNamespace)
	ctx := context.Background()
	id := model.NewNodeID()

	// Two definitions fire at the same time; replaying the batch must
	// replace, not duplicate, matching the SQL backends' upsert semantics.
	batch := []model.DomainIndexEvent{
		{At: 5, DgnID: 1, Data: []byte("x")},
		{At: 5, DgnID: 2, Data: []byte("y")},
	}
	for i := 0; i < 2; i++ {
		if err := a.PersistDomainIndexEvents(ctx, id, batch); err != nil {
			t.Fatal(err)
		}
	}

	got, err := a.DomainIndexEvents(ctx, id, model.MinEventTime, model.MaxEventTime)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2: %v", len(got), got)
	}
	// Batch order is preserved for same-time events.
	if got[0].DgnID != 1 || got[1].DgnID != 2 {
		t.Errorf("same-time events out of batch order: %v", got)
	}

	// A replayed event carries the newer payload.
	if err := a.PersistDomainIndexEvents(ctx, id, []model.DomainIndexEvent{
		{At: 5, DgnID: 2, Data: []byte("y2")},
	}); err != nil {
		t.Fatal(err)
	}
	got, err = a.DomainIndexEvents(ctx, id, 5, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || !bytes.Equal(got[1].Data, []byte("y2")) {
		t.Errorf("replayed event not replaced: %v", got)
	}
}

func TestDeleteDomainIndexEventsByDgnID(t *testing.T) {
	a := New(model.DefaultNamespace)
	ctx := context.Background()
	n1, n2 := model.NewNodeID(), model.NewNodeID()

	if err := a.PersistDomainIndexEvents(ctx, n1, []model.DomainIndexEvent{
		{At: 1, DgnID: 7, Data: []byte("a")},
		{At: 2, DgnID: 8, Data: []byte("b")},
	}); err != nil {
		t.Fatal(err)
	}
	if err := a.PersistDomainIndexEvents(ctx, n2, []model.DomainIndexEvent{
		{At: 3, DgnID: 7, Data: []byte("c")},
	}); err != nil {
		t.Fatal(err)
	}

	if err := a.DeleteDomainIndexEventsByDgnID(ctx, 7); err != nil {
		t.Fatal(err)
	}

	e1, err := a.DomainIndexEvents(ctx, n1, model.MinEventTime, model.MaxEventTime)
	if err != nil {
		t.Fatal(err)
	}
	if len(e1) != 1 || e1[0].DgnID != 8 {
		t.Errorf("n1 events after purge = %v", e1)
	}
	e2, err := a.DomainIndexEvents(ctx, n2, model.MinEventTime, model.MaxEventTime)
	if err != nil {
		t.Fatal(err)
	}
	if len(e2) != 0 {
		t.Errorf("n2 events after purge = %v", e2)
	}
}

func TestMetadata(t *testing.T) {
	a := New(model.DefaultNamespace)
	ctx := context.Background()

	if err := a.SetMetadata(ctx, "schemaVersion", []byte{3}); err != nil {
		t.Fatal(err)
	}
	got, err := a.Metadata(ctx, "schemaVersion")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{3}) {
		t.Errorf("metadata = %v, want [3]", got)
	}

	if err := a.SetMetadata(ctx, "other", []byte("x")); err != nil {
		t.Fatal(err)
	}

	// nil deletes, twice in a row without error.
	if err := a.SetMetadata(ctx, "schemaVersion", nil); err != nil {
		t.Fatal(err)
	}
	if err := a.SetMetadata(ctx, "schemaVersion", nil); err != nil {
		t.Fatal(err)
	}
	got, err = a.Metadata(ctx, "schemaVersion")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("deleted key should read nil, got %v", got)
	}

	all, err := a.AllMetadata(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := all["schemaVersion"]; ok {
		t.Error("AllMetadata should exclude deleted key")
	}
	if !bytes.Equal(all["other"], []byte("x")) {
		t.Errorf("AllMetadata missing surviving key: %v", all)
	}
}

func TestEmptyAndDeleteAll(t *testing.T) {
	a := New(model.DefaultNamespace)
	ctx := context.Background()

	empty, err := a.Empty(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !empty {
		t.Error("fresh namespace should be empty")
	}

	// Standing query descriptors are not node-scoped records.
	if err := a.PersistStandingQuery(ctx, model.StandingQuery{ID: model.NewStandingQueryID()}); err != nil {
		t.Fatal(err)
	}
	empty, err = a.Empty(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !empty {
		t.Error("registry entries alone should leave the namespace empty of node data")
	}

	id := model.NewNodeID()
	if err := a.PersistSnapshot(ctx, id, 1, []byte("s")); err != nil {
		t.Fatal(err)
	}
	empty, err = a.Empty(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if empty {
		t.Error("namespace with a snapshot is not empty")
	}

	if err := a.DeleteAll(ctx); err != nil {
		t.Fatal(err)
	}
	empty, err = a.Empty(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !empty {
		t.Error("namespace should be empty after DeleteAll")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	a := New(model.DefaultNamespace)
	ctx := context.Background()

	if err := a.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := a.NodeChangeEvents(ctx, model.NewNodeID(), 0, 1); !errors.IsClosed(err) {
		t.Errorf("expected ErrClosed after shutdown, got %v", err)
	}
}
