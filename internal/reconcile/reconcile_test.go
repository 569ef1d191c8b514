package reconcile

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ccheney/cream-trading-backbone/pkg/types"
)

func TestUnknownInBrokerWithinProtectionWindowIsIgnored(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC)
	now := start.Add(5 * time.Minute)

	local := types.LocalSnapshot{Orders: map[string]types.OrderSnapshot{}}
	broker := types.BrokerSnapshot{Orders: map[string]types.OrderSnapshot{
		"brk-1": {OrderID: "brk-1", Status: types.StatusAccepted},
	}}

	report := Compare(DefaultPolicy(), local, broker, start, now)
	if len(report.Orphans) != 1 {
		t.Fatalf("len(Orphans) = %d, want 1", len(report.Orphans))
	}
	if report.Orphans[0].Resolution != types.ResolveIgnore {
		t.Fatalf("Resolution = %v, want Ignore within protection window", report.Orphans[0].Resolution)
	}
}

func TestUnknownInBrokerAfterProtectionWindowIsAdopted(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC)
	now := start.Add(time.Hour)

	local := types.LocalSnapshot{Orders: map[string]types.OrderSnapshot{}}
	broker := types.BrokerSnapshot{Orders: map[string]types.OrderSnapshot{
		"brk-1": {OrderID: "brk-1", Status: types.StatusAccepted},
	}}

	report := Compare(DefaultPolicy(), local, broker, start, now)
	if len(report.Orphans) != 1 || report.Orphans[0].Resolution != types.ResolveAdopt {
		t.Fatalf("unexpected orphans: %+v", report.Orphans)
	}
}

func TestMissingInBrokerOldNonTerminalOrderMarkedFailed(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC)
	now := start.Add(48 * time.Hour)

	local := types.LocalSnapshot{Orders: map[string]types.OrderSnapshot{
		"ord-1": {OrderID: "ord-1", Status: types.StatusAccepted, CreatedAt: start},
	}}
	broker := types.BrokerSnapshot{Orders: map[string]types.OrderSnapshot{}}

	report := Compare(DefaultPolicy(), local, broker, start, now)
	if len(report.Orphans) != 1 || report.Orphans[0].Resolution != types.ResolveMarkFailed {
		t.Fatalf("unexpected orphans: %+v", report.Orphans)
	}
}

func TestStateMismatchFilledVsCanceledIsCritical(t *testing.T) {
	t.Parallel()

	start := time.Now().Add(-time.Hour)
	local := types.LocalSnapshot{Orders: map[string]types.OrderSnapshot{
		"ord-1": {OrderID: "ord-1", Status: types.StatusFilled},
	}}
	broker := types.BrokerSnapshot{Orders: map[string]types.OrderSnapshot{
		"ord-1": {OrderID: "ord-1", Status: types.StatusCanceled},
	}}

	report := Compare(DefaultPolicy(), local, broker, start, time.Now())
	if len(report.Orphans) != 1 {
		t.Fatalf("len(Orphans) = %d, want 1", len(report.Orphans))
	}
	o := report.Orphans[0]
	if o.Type != types.OrphanStateMismatch || o.Severity != types.SeverityCritical {
		t.Fatalf("unexpected orphan: %+v", o)
	}
	if report.HasUnresolvedCritical() {
		// SyncFromBroker is a recognized resolution for a critical orphan.
		t.Fatal("SyncFromBroker-resolved critical orphan should not count as unresolved")
	}
}

func TestPositionQtyMismatchIsCriticalNotAutoResolvable(t *testing.T) {
	t.Parallel()

	local := types.LocalSnapshot{Positions: map[types.Symbol]types.PositionSnapshot{
		"AAPL": {Symbol: "AAPL", Qty: decimal.NewFromInt(100), AvgEntryPrice: decimal.NewFromFloat(150)},
	}}
	broker := types.BrokerSnapshot{Positions: map[types.Symbol]types.PositionSnapshot{
		"AAPL": {Symbol: "AAPL", Qty: decimal.NewFromInt(90), AvgEntryPrice: decimal.NewFromFloat(150)},
	}}

	report := Compare(DefaultPolicy(), types.LocalSnapshot{Orders: map[string]types.OrderSnapshot{}, Positions: local.Positions},
		types.BrokerSnapshot{Orders: map[string]types.OrderSnapshot{}, Positions: broker.Positions}, time.Now(), time.Now())

	if len(report.Discrepancies) != 1 {
		t.Fatalf("len(Discrepancies) = %d, want 1", len(report.Discrepancies))
	}
	if report.Discrepancies[0].Severity != types.SeverityCritical || report.Discrepancies[0].AutoResolvable {
		t.Fatalf("unexpected discrepancy: %+v", report.Discrepancies[0])
	}
	if !report.HasUnresolvedCritical() {
		t.Fatal("qty mismatch must be an unresolved critical discrepancy")
	}
}

func TestPositionPriceWithinToleranceIsNotFlagged(t *testing.T) {
	t.Parallel()

	local := types.LocalSnapshot{Orders: map[string]types.OrderSnapshot{}, Positions: map[types.Symbol]types.PositionSnapshot{
		"AAPL": {Symbol: "AAPL", Qty: decimal.NewFromInt(100), AvgEntryPrice: decimal.NewFromFloat(150.5)},
	}}
	broker := types.BrokerSnapshot{Orders: map[string]types.OrderSnapshot{}, Positions: map[types.Symbol]types.PositionSnapshot{
		"AAPL": {Symbol: "AAPL", Qty: decimal.NewFromInt(100), AvgEntryPrice: decimal.NewFromFloat(150.0)},
	}}

	report := Compare(DefaultPolicy(), local, broker, time.Now(), time.Now())
	if len(report.Discrepancies) != 0 {
		t.Fatalf("expected no discrepancies within tolerance, got %+v", report.Discrepancies)
	}
}

func TestMarkZombiesFlagsOnlyNonTerminal(t *testing.T) {
	t.Parallel()

	loaded := []types.OrderSnapshot{
		{OrderID: "ord-1", Status: types.StatusAccepted},
		{OrderID: "ord-2", Status: types.StatusFilled},
	}

	zombies := MarkZombies(loaded)
	if len(zombies) != 1 || zombies[0].OrderID != "ord-1" {
		t.Fatalf("unexpected zombies: %+v", zombies)
	}
}
