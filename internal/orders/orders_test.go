package orders

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ccheney/cream-trading-backbone/pkg/types"
)

func newTestOrder(id string) *types.Order {
	return &types.Order{
		OrderID:  id,
		Symbol:   "AAPL",
		Side:     types.Buy,
		Type:     types.OrderTypeLimit,
		TIF:      types.TIFDay,
		Quantity: decimal.NewFromInt(100),
		Purpose:  types.PurposeEntry,
	}
}

func TestHappyPathPendingNewToFilled(t *testing.T) {
	t.Parallel()

	m := NewMachine(DefaultTimeoutPolicy())
	o := newTestOrder("ord-1")
	if err := m.Create(o); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := m.Apply("ord-1", Event{Kind: EvAck, Seq: 1, BrokerID: "brk-1"}); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	snap, _ := m.Get("ord-1")
	if snap.Status != types.StatusAccepted || snap.BrokerID != "brk-1" {
		t.Fatalf("after Ack: %+v", snap)
	}

	fill := types.Fill{FillID: "f1", Qty: decimal.NewFromInt(100), Price: decimal.NewFromFloat(101.0)}
	if err := m.Apply("ord-1", Event{Kind: EvFill, Seq: 2, Fill: fill}); err != nil {
		t.Fatalf("Fill: %v", err)
	}

	snap, _ = m.Get("ord-1")
	if snap.Status != types.StatusFilled {
		t.Fatalf("Status = %v, want Filled", snap.Status)
	}
	if !snap.CumQty.Equal(decimal.NewFromInt(100)) || !snap.LeavesQty.IsZero() {
		t.Fatalf("cum/leaves mismatch: cum=%s leaves=%s", snap.CumQty, snap.LeavesQty)
	}
	if snap.TerminalAt == nil {
		t.Fatal("expected TerminalAt to be stamped")
	}
}

func TestPartialFillAccounting(t *testing.T) {
	t.Parallel()

	m := NewMachine(DefaultTimeoutPolicy())
	o := newTestOrder("ord-2")
	_ = m.Create(o)
	_ = m.Apply("ord-2", Event{Kind: EvAck, Seq: 1, BrokerID: "brk-2"})

	_ = m.Apply("ord-2", Event{Kind: EvPartialFill, Seq: 2, Fill: types.Fill{FillID: "f1", Qty: decimal.NewFromInt(40), Price: decimal.NewFromFloat(100)}})
	snap, _ := m.Get("ord-2")
	if snap.Status != types.StatusPartiallyFilled {
		t.Fatalf("Status = %v, want PartiallyFilled", snap.Status)
	}
	if !snap.CumQty.Equal(decimal.NewFromInt(40)) || !snap.LeavesQty.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("cum/leaves after partial: cum=%s leaves=%s", snap.CumQty, snap.LeavesQty)
	}
	if !snap.CumQty.Add(snap.LeavesQty).Equal(snap.Quantity) {
		t.Fatalf("invariant violated: cum+leaves != quantity")
	}

	_ = m.Apply("ord-2", Event{Kind: EvPartialFill, Seq: 3, Fill: types.Fill{FillID: "f2", Qty: decimal.NewFromInt(20), Price: decimal.NewFromFloat(102)}})
	snap, _ = m.Get("ord-2")
	wantAvg := decimal.NewFromInt(40).Mul(decimal.NewFromFloat(100)).Add(decimal.NewFromInt(20).Mul(decimal.NewFromFloat(102))).Div(decimal.NewFromInt(60))
	if !snap.AvgFillPrice.Equal(wantAvg) {
		t.Fatalf("AvgFillPrice = %s, want %s", snap.AvgFillPrice, wantAvg)
	}
}

func TestIdempotentReplayIsNoOp(t *testing.T) {
	t.Parallel()

	m := NewMachine(DefaultTimeoutPolicy())
	o := newTestOrder("ord-3")
	_ = m.Create(o)
	_ = m.Apply("ord-3", Event{Kind: EvAck, Seq: 5, BrokerID: "brk-3"})

	// Re-delivering the same or an older sequence number must be a no-op.
	if err := m.Apply("ord-3", Event{Kind: EvAck, Seq: 5, BrokerID: "brk-3-different"}); err != nil {
		t.Fatalf("replay should be a no-op, not an error: %v", err)
	}
	if err := m.Apply("ord-3", Event{Kind: EvAck, Seq: 3, BrokerID: "brk-3-different"}); err != nil {
		t.Fatalf("older-seq replay should be a no-op: %v", err)
	}

	snap, _ := m.Get("ord-3")
	if snap.BrokerID != "brk-3" {
		t.Fatalf("BrokerID = %q, replay must not have re-applied", snap.BrokerID)
	}
}

func TestIllegalTransitionFromTerminalIsRejected(t *testing.T) {
	t.Parallel()

	m := NewMachine(DefaultTimeoutPolicy())
	o2 := newTestOrder("ord-5")
	_ = m.Create(o2)
	if err := m.Apply("ord-5", Event{Kind: EvReject, Seq: 1, Reason: "bad symbol"}); err != nil {
		t.Fatalf("Reject from PendingNew: %v", err)
	}
	snap, _ := m.Get("ord-5")
	if snap.Status != types.StatusRejected {
		t.Fatalf("Status = %v, want Rejected", snap.Status)
	}

	err := m.Apply("ord-5", Event{Kind: EvAck, Seq: 2, BrokerID: "brk-5"})
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("Apply on terminal order = %v, want ErrIllegalTransition", err)
	}
}

func TestPendingCancelFillRaceFillWins(t *testing.T) {
	t.Parallel()

	m := NewMachine(DefaultTimeoutPolicy())
	o := newTestOrder("ord-6")
	_ = m.Create(o)
	_ = m.Apply("ord-6", Event{Kind: EvAck, Seq: 1, BrokerID: "brk-6"})
	_ = m.Apply("ord-6", Event{Kind: EvCancelRequest, Seq: 2})

	snap, _ := m.Get("ord-6")
	if snap.Status != types.StatusPendingCancel {
		t.Fatalf("Status = %v, want PendingCancel", snap.Status)
	}

	if err := m.Apply("ord-6", Event{Kind: EvFill, Seq: 3, Fill: types.Fill{FillID: "f1", Qty: decimal.NewFromInt(100), Price: decimal.NewFromFloat(101)}}); err != nil {
		t.Fatalf("Fill during PendingCancel: %v", err)
	}

	snap, _ = m.Get("ord-6")
	if snap.Status != types.StatusFilled {
		t.Fatalf("Status = %v, want Filled (fill wins the race)", snap.Status)
	}
}

func TestPartialFillTimeoutFiresCancelRemainder(t *testing.T) {
	t.Parallel()

	policy := TimeoutPolicy{Window: 20 * time.Millisecond, ActionFor: func(types.Purpose) TimeoutAction { return CancelRemainder }}
	m := NewMachine(policy)
	o := newTestOrder("ord-7")
	_ = m.Create(o)
	_ = m.Apply("ord-7", Event{Kind: EvAck, Seq: 1, BrokerID: "brk-7"})
	_ = m.Apply("ord-7", Event{Kind: EvPartialFill, Seq: 2, Fill: types.Fill{FillID: "f1", Qty: decimal.NewFromInt(10), Price: decimal.NewFromFloat(100)}})

	time.Sleep(80 * time.Millisecond)

	snap, _ := m.Get("ord-7")
	if snap.Status != types.StatusPendingCancel {
		t.Fatalf("Status after timeout = %v, want PendingCancel (CancelRemainder fired a CancelRequest)", snap.Status)
	}
}
