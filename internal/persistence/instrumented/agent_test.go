package instrumented

import (
	"context"
	"testing"

	"github.com/veldtgraph/veldt/internal/model"
	"github.com/veldtgraph/veldt/internal/persistence/memory"
)

func TestStats_RecordsForwardedOperations(t *testing.T) {
	a := New(memory.New(model.DefaultNamespace), 0.01)
	ctx := context.Background()
	id := model.NewNodeID()

	for i := 0; i < 10; i++ {
		if err := a.PersistNodeChangeEvents(ctx, id, []model.NodeChangeEvent{{At: model.EventTime(i)}}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := a.NodeChangeEvents(ctx, id, model.MinEventTime, model.MaxEventTime); err != nil {
		t.Fatal(err)
	}

	stats := a.Stats()
	writes := stats["PersistNodeChangeEvents"]
	if writes.Count != 10 {
		t.Errorf("write count = %v, want 10", writes.Count)
	}
	if writes.P99 < writes.P50 {
		t.Errorf("p99 %v below p50 %v", writes.P99, writes.P50)
	}
	if stats["NodeChangeEvents"].Count != 1 {
		t.Errorf("read count = %v, want 1", stats["NodeChangeEvents"].Count)
	}
	if _, ok := stats["PersistSnapshot"]; ok {
		t.Error("operations never invoked should have no stats")
	}
}

func TestStats_DoesNotAlterSemantics(t *testing.T) {
	a := New(memory.New(model.DefaultNamespace), 0.01)
	ctx := context.Background()
	id := model.NewNodeID()

	if err := a.PersistSnapshot(ctx, id, 5, []byte("s")); err != nil {
		t.Fatal(err)
	}
	snap, err := a.LatestSnapshot(ctx, id, 10)
	if err != nil {
		t.Fatal(err)
	}
	if snap == nil || snap.At != 5 || string(snap.Data) != "s" {
		t.Errorf("snapshot round trip through decorator failed: %v", snap)
	}
}
