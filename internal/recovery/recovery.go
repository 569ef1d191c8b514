// Package recovery runs the execution engine's strictly-ordered startup
// sequence and its mid-run delta-reconciliation path. It is the wiring
// layer — no business logic of its own — adapted from the teacher's
// cmd/bot/main.go linear construct-and-wire shape, generalized from
// "build one bot" to "bring one engine safely to a live state".
package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ccheney/cream-trading-backbone/internal/broker"
	"github.com/ccheney/cream-trading-backbone/internal/orders"
	"github.com/ccheney/cream-trading-backbone/internal/persistence"
	"github.com/ccheney/cream-trading-backbone/internal/reconcile"
	"github.com/ccheney/cream-trading-backbone/pkg/types"
)

// CriticalPolicy decides what happens when reconciliation leaves an
// unresolved critical finding.
type CriticalPolicy func(report types.ReconciliationReport) types.CriticalAction

// HaltOnCritical is the conservative default: never go live with an
// unresolved critical discrepancy.
func HaltOnCritical(types.ReconciliationReport) types.CriticalAction { return types.CriticalHalt }

// Orchestrator wires persistence, the broker adapter, the order state
// machine, and the reconciliation policy together.
type Orchestrator struct {
	Store           *persistence.Store
	Broker          *broker.Adapter
	Machine         *orders.Machine
	ReconcilePolicy reconcile.Policy
	CriticalPolicy  CriticalPolicy
	Logger          *slog.Logger

	startedAt time.Time
}

func New(store *persistence.Store, brokerAdapter *broker.Adapter, machine *orders.Machine) *Orchestrator {
	return &Orchestrator{
		Store:           store,
		Broker:          brokerAdapter,
		Machine:         machine,
		ReconcilePolicy: reconcile.DefaultPolicy(),
		CriticalPolicy:  HaltOnCritical,
		Logger:          slog.Default().With("component", "recovery"),
	}
}

// ErrHalted is returned when the critical policy refuses to transition to
// live trading.
type ErrHalted struct {
	Report types.ReconciliationReport
}

func (e *ErrHalted) Error() string {
	return fmt.Sprintf("recovery: halted with %d unresolved critical finding(s)", countUnresolvedCritical(e.Report))
}

// applyAdoptions ingests every ResolveAdopt orphan into the local order
// machine, in its broker-reported status. An order already known to the
// machine (e.g. surfaced twice across report/zombie passes) is skipped
// rather than erroring.
func (o *Orchestrator) applyAdoptions(report types.ReconciliationReport) {
	for _, orphan := range report.Orphans {
		if orphan.Resolution != types.ResolveAdopt || orphan.Broker == nil {
			continue
		}
		snap := *orphan.Broker
		if snap.OrderID == "" {
			// Adopted orders originate entirely at the broker; the engine
			// still owns OrderID assignment, so one is minted here if the
			// broker snapshot didn't already carry one.
			snap.OrderID = uuid.NewString()
		}
		if snap.BrokerID == "" {
			snap.BrokerID = orphan.OrderID
		}
		adopted := types.FromSnapshot(snap)
		if err := o.Machine.Create(adopted); err != nil {
			o.Logger.Debug("recovery: adopted order already present, skipping", "order_id", adopted.OrderID)
			continue
		}
		o.Logger.Info("recovery: adopted orphaned broker order", "order_id", adopted.OrderID, "status", adopted.Status)
	}
}

func countUnresolvedCritical(r types.ReconciliationReport) int {
	n := 0
	for _, d := range r.Discrepancies {
		if d.Severity == types.SeverityCritical && !d.AutoResolvable {
			n++
		}
	}
	for _, o := range r.Orphans {
		if o.Severity == types.SeverityCritical && o.Resolution != types.ResolveSyncFromBroker && o.Resolution != types.ResolveAdopt && o.Resolution != types.ResolveCancel {
			n++
		}
	}
	return n
}

// Start runs the full seven-step sequence and returns once it is safe to
// resume new-order submission, or an *ErrHalted if the critical policy
// says no.
func (o *Orchestrator) Start(ctx context.Context) (types.ReconciliationReport, error) {
	o.startedAt = time.Now().UTC()

	// 1. Load most recent snapshot into the state machine.
	orderSnaps, err := o.Store.LoadAllOrderSnapshots(ctx)
	if err != nil {
		return types.ReconciliationReport{}, fmt.Errorf("recovery: load order snapshots: %w", err)
	}
	for _, snap := range orderSnaps {
		if err := o.Machine.Create(types.FromSnapshot(snap)); err != nil {
			o.Logger.Warn("recovery: order already present in machine, skipping", "order_id", snap.OrderID)
		}
	}

	// 2. Replay persisted events after the snapshot. Normally empty, since
	// cmd/execengine appends an event on every transition in the same
	// breath it saves the snapshot; this only does real work when a crash
	// landed the event log ahead of the last successful snapshot write.
	for _, snap := range orderSnaps {
		events, err := o.Store.EventsSince(ctx, snap.OrderID, snap.LastSeq)
		if err != nil {
			return types.ReconciliationReport{}, fmt.Errorf("recovery: load events for %s: %w", snap.OrderID, err)
		}
		for _, raw := range events {
			var event orders.Event
			if err := json.Unmarshal([]byte(raw.Payload), &event); err != nil {
				o.Logger.Error("recovery: undecodable event payload, skipping", "order_id", snap.OrderID, "seq", raw.Seq, "error", err)
				continue
			}
			if err := o.Machine.Apply(snap.OrderID, event); err != nil {
				o.Logger.Warn("recovery: replay event rejected", "order_id", snap.OrderID, "seq", raw.Seq, "error", err)
			}
		}
	}

	// 3. Fetch broker snapshot.
	brokerSnap, err := o.fetchBrokerSnapshot(ctx)
	if err != nil {
		return types.ReconciliationReport{}, fmt.Errorf("recovery: fetch broker snapshot: %w", err)
	}

	// 4. Run reconciliation; apply auto-resolvable resolutions; collect rest.
	localSnap := o.localSnapshot()
	report := reconcile.Compare(o.ReconcilePolicy, localSnap, brokerSnap, o.startedAt, time.Now().UTC())
	zombies := reconcile.MarkZombies(orderSnaps)
	report.Orphans = append(report.Orphans, zombies...)

	o.applyAdoptions(report)

	// 5. If any critical unresolved, abort per policy.
	if report.HasUnresolvedCritical() {
		action := o.CriticalPolicy(report)
		switch action {
		case types.CriticalHalt:
			return report, &ErrHalted{Report: report}
		case types.CriticalAlert:
			o.Logger.Error("recovery: unresolved critical discrepancies, alerting and continuing", "count", countUnresolvedCritical(report))
		case types.CriticalLogAndContinue:
			o.Logger.Warn("recovery: unresolved critical discrepancies, continuing per policy", "count", countUnresolvedCritical(report))
		}
	}

	// 6. Re-arm partial-fill timers — handled by orders.Machine itself:
	// every PartiallyFilled order already has a timer armed when its
	// Create/Apply replay lands it in that state, so there is nothing
	// additional to do here beyond having replayed events in step 2. Each
	// such timer runs a full Policy.Window from the moment of loading; an
	// order whose deadline passed while the engine was down is not timed
	// out at once.

	// 7. Subscribe to order-update feed before resuming new-order
	// submission is the caller's responsibility (cmd/execengine wiring);
	// this orchestrator's contract is satisfied once Start returns nil.

	return report, nil
}

// DeltaReconcile repeats steps 3-5 without touching persistence, for a
// broker reconnect mid-run.
func (o *Orchestrator) DeltaReconcile(ctx context.Context) (types.ReconciliationReport, error) {
	brokerSnap, err := o.fetchBrokerSnapshot(ctx)
	if err != nil {
		return types.ReconciliationReport{}, fmt.Errorf("recovery: delta fetch broker snapshot: %w", err)
	}

	localSnap := o.localSnapshot()
	report := reconcile.Compare(o.ReconcilePolicy, localSnap, brokerSnap, o.startedAt, time.Now().UTC())

	if report.HasUnresolvedCritical() {
		action := o.CriticalPolicy(report)
		if action == types.CriticalHalt {
			return report, &ErrHalted{Report: report}
		}
	}
	return report, nil
}

func (o *Orchestrator) fetchBrokerSnapshot(ctx context.Context) (types.BrokerSnapshot, error) {
	openOrders, err := o.Broker.ListOpen(ctx)
	if err != nil {
		return types.BrokerSnapshot{}, err
	}
	positions, err := o.Broker.ListPositions(ctx)
	if err != nil {
		return types.BrokerSnapshot{}, err
	}

	snap := types.BrokerSnapshot{
		Orders:    make(map[string]types.OrderSnapshot, len(openOrders)),
		Positions: make(map[types.Symbol]types.PositionSnapshot, len(positions)),
	}
	for _, entry := range openOrders {
		snap.Orders[entry.BrokerID] = entry
	}
	for _, p := range positions {
		snap.Positions[p.Symbol] = p
	}
	return snap, nil
}

// localSnapshot reads every order currently tracked by the state machine.
// Position tracking is out of the state machine's scope, and nothing
// supplies local positions, so the returned Positions map is always empty.
func (o *Orchestrator) localSnapshot() types.LocalSnapshot {
	orderSnaps := o.Machine.All()
	byIdentity := make(map[string]types.OrderSnapshot, len(orderSnaps))
	for _, snap := range orderSnaps {
		// Reconciliation matches against the broker's own order identity;
		// an order with no BrokerID yet (still PendingNew) can't appear at
		// the broker either way, so it is keyed by OrderID as a harmless
		// placeholder that UnknownInBroker/MissingInBroker never touch.
		key := snap.BrokerID
		if key == "" {
			key = snap.OrderID
		}
		byIdentity[key] = snap
	}
	return types.LocalSnapshot{
		Orders:    byIdentity,
		Positions: make(map[types.Symbol]types.PositionSnapshot),
	}
}
