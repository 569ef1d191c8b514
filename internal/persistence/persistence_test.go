package persistence

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ccheney/cream-trading-backbone/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadOrderSnapshot(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	snap := types.OrderSnapshot{
		OrderID: "ord-1", Symbol: "AAPL", Side: types.Buy, Status: types.StatusAccepted,
		Quantity: decimal.NewFromInt(10), CumQty: decimal.Zero, LeavesQty: decimal.NewFromInt(10),
	}
	if err := s.SaveOrderSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveOrderSnapshot: %v", err)
	}

	// Upsert: saving again with a changed status must replace, not duplicate.
	snap.Status = types.StatusFilled
	if err := s.SaveOrderSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveOrderSnapshot (update): %v", err)
	}

	all, err := s.LoadAllOrderSnapshots(ctx)
	if err != nil {
		t.Fatalf("LoadAllOrderSnapshots: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("len(all) = %d, want 1", len(all))
	}
	if all[0].Status != types.StatusFilled {
		t.Fatalf("Status = %v, want Filled (upsert should have replaced)", all[0].Status)
	}
}

func TestAppendEventAndEventsSince(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	for seq := uint64(1); seq <= 3; seq++ {
		if err := s.AppendEvent(ctx, "ord-1", seq, "Ack", map[string]any{"seq": seq}); err != nil {
			t.Fatalf("AppendEvent %d: %v", seq, err)
		}
	}

	events, err := s.EventsSince(ctx, "ord-1", 1)
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2 (seq 2 and 3)", len(events))
	}
	if events[0].Seq != 2 || events[1].Seq != 3 {
		t.Fatalf("unexpected event order: %+v", events)
	}
}

func TestSaveAndLoadPositionSnapshot(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	pos := types.PositionSnapshot{Symbol: "AAPL", Qty: decimal.NewFromInt(100), AvgEntryPrice: decimal.NewFromFloat(150.25)}
	if err := s.SavePositionSnapshot(ctx, pos); err != nil {
		t.Fatalf("SavePositionSnapshot: %v", err)
	}

	all, err := s.LoadAllPositionSnapshots(ctx)
	if err != nil {
		t.Fatalf("LoadAllPositionSnapshots: %v", err)
	}
	if len(all) != 1 || all[0].Symbol != "AAPL" {
		t.Fatalf("unexpected positions: %+v", all)
	}
}
