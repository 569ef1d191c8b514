// Package reconcile compares local and broker state and classifies every
// mismatch into a ReconciliationReport, per spec §4.13. Like internal/risk,
// this is a pure function package: no I/O, no state, deterministic given
// its inputs — the same "pure comparison over two snapshots" shape the
// teacher's risk.Manager.processReport pulls its ordered-if-chain from.
package reconcile

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ccheney/cream-trading-backbone/pkg/types"
)

// Policy groups the configurable knobs the classification rules depend
// on, per spec §4.13.
type Policy struct {
	ProtectionWindow  time.Duration // default 30m after service start
	MaxOrderAge       time.Duration // default 24h
	AutoResolveOrphans bool
	QtyTolerance      decimal.Decimal
	PriceTolerancePct decimal.Decimal // default 0.01 (1%)
}

func DefaultPolicy() Policy {
	return Policy{
		ProtectionWindow:   30 * time.Minute,
		MaxOrderAge:        24 * time.Hour,
		AutoResolveOrphans: true,
		QtyTolerance:       decimal.Zero,
		PriceTolerancePct:  decimal.NewFromFloat(0.01),
	}
}

// Compare runs every classification rule and returns the combined report.
// serviceStartedAt anchors the protection-window calculation; now is
// injected so tests stay deterministic.
func Compare(policy Policy, local types.LocalSnapshot, broker types.BrokerSnapshot, serviceStartedAt, now time.Time) types.ReconciliationReport {
	var report types.ReconciliationReport

	report.Orphans = append(report.Orphans, unknownInBroker(policy, local, broker, serviceStartedAt, now)...)
	report.Orphans = append(report.Orphans, missingInBroker(policy, local, broker, now)...)
	report.Orphans = append(report.Orphans, stateMismatches(local, broker)...)
	report.Discrepancies = append(report.Discrepancies, positionDiscrepancies(policy, local, broker)...)

	return report
}

// unknownInBroker: order exists at the broker but not locally.
func unknownInBroker(policy Policy, local types.LocalSnapshot, broker types.BrokerSnapshot, serviceStartedAt, now time.Time) []types.OrphanedOrder {
	var out []types.OrphanedOrder
	for id, b := range broker.Orders {
		if _, exists := local.Orders[id]; exists {
			continue
		}
		b := b
		o := types.OrphanedOrder{OrderID: id, Type: types.OrphanUnknownInBroker, Broker: &b, Severity: types.SeverityWarning}

		withinProtection := now.Sub(serviceStartedAt) < policy.ProtectionWindow
		switch {
		case !b.Status.IsTerminal() && withinProtection:
			o.Resolution = types.ResolveIgnore
		case !policy.AutoResolveOrphans:
			o.Resolution = types.ResolveIgnore
			o.Severity = types.SeverityCritical // flagged for operator
		default:
			o.Resolution = types.ResolveAdopt
		}
		out = append(out, o)
	}
	return out
}

// missingInBroker: order exists locally, non-terminal, but absent from
// the broker and old enough to be considered abandoned.
func missingInBroker(policy Policy, local types.LocalSnapshot, broker types.BrokerSnapshot, now time.Time) []types.OrphanedOrder {
	var out []types.OrphanedOrder
	for id, l := range local.Orders {
		if _, exists := broker.Orders[id]; exists {
			continue
		}
		if l.Status.IsTerminal() {
			continue
		}
		if now.Sub(l.CreatedAt) <= policy.MaxOrderAge {
			continue
		}
		l := l
		out = append(out, types.OrphanedOrder{
			OrderID: id, Type: types.OrphanMissingInBroker, Resolution: types.ResolveMarkFailed,
			Local: &l, Severity: types.SeverityError,
		})
	}
	return out
}

// stateMismatches: same identity, different status. Broker is
// authoritative.
func stateMismatches(local types.LocalSnapshot, broker types.BrokerSnapshot) []types.OrphanedOrder {
	var out []types.OrphanedOrder
	for id, l := range local.Orders {
		b, exists := broker.Orders[id]
		if !exists || b.Status == l.Status {
			continue
		}
		l, b := l, b

		severity := types.SeverityError
		if isFilledVsCanceledFlip(l.Status, b.Status) {
			severity = types.SeverityCritical
		}
		out = append(out, types.OrphanedOrder{
			OrderID: id, Type: types.OrphanStateMismatch, Resolution: types.ResolveSyncFromBroker,
			Local: &l, Broker: &b, Severity: severity,
		})
	}
	return out
}

// MarkZombies flags every non-terminal order loaded from persistence at
// startup as a Zombie candidate, before the broker snapshot is even
// fetched — these are orders that were in flight when a prior process
// instance died. The recovery orchestrator resolves them by checking the
// broker snapshot next: a zombie that turns out to still exist at the
// broker becomes a normal StateMismatch/unchanged case, one that doesn't
// becomes MissingInBroker once it ages past MaxOrderAge.
func MarkZombies(loaded []types.OrderSnapshot) []types.OrphanedOrder {
	var out []types.OrphanedOrder
	for _, o := range loaded {
		if o.Status.IsTerminal() {
			continue
		}
		o := o
		out = append(out, types.OrphanedOrder{
			OrderID: o.OrderID, Type: types.OrphanZombie, Resolution: types.ResolveSyncFromBroker,
			Local: &o, Severity: types.SeverityWarning,
		})
	}
	return out
}

func isFilledVsCanceledFlip(a, b types.OrderStatus) bool {
	flip := func(x, y types.OrderStatus) bool {
		return x == types.StatusFilled && y == types.StatusCanceled
	}
	return flip(a, b) || flip(b, a)
}

// positionDiscrepancies: qty must match exactly (within QtyTolerance);
// average price may differ by up to PriceTolerancePct.
func positionDiscrepancies(policy Policy, local types.LocalSnapshot, broker types.BrokerSnapshot) []types.Discrepancy {
	var out []types.Discrepancy
	symbols := make(map[types.Symbol]struct{})
	for sym := range local.Positions {
		symbols[sym] = struct{}{}
	}
	for sym := range broker.Positions {
		symbols[sym] = struct{}{}
	}

	for sym := range symbols {
		l := local.Positions[sym]
		b := broker.Positions[sym]

		qtyDelta := l.Qty.Sub(b.Qty).Abs()
		if qtyDelta.GreaterThan(policy.QtyTolerance) {
			out = append(out, types.Discrepancy{
				Type: types.DiscrepancyPosition, Identifier: string(sym),
				LocalState: l.Qty.String(), BrokerState: b.Qty.String(),
				Severity: types.SeverityCritical, AutoResolvable: false,
				SuggestedAction: "SyncFromBroker",
			})
			continue
		}

		if b.AvgEntryPrice.IsZero() {
			continue
		}
		priceDelta := l.AvgEntryPrice.Sub(b.AvgEntryPrice).Abs().Div(b.AvgEntryPrice)
		if priceDelta.GreaterThan(policy.PriceTolerancePct) {
			out = append(out, types.Discrepancy{
				Type: types.DiscrepancyPosition, Identifier: string(sym),
				LocalState: l.AvgEntryPrice.String(), BrokerState: b.AvgEntryPrice.String(),
				Severity: types.SeverityWarning, AutoResolvable: true,
				SuggestedAction: "SyncFromBroker",
			})
		}
	}
	return out
}
