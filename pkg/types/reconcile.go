package types

import "github.com/shopspring/decimal"

// DiscrepancyType classifies what kind of mismatch a Discrepancy records.
type DiscrepancyType string

const (
	DiscrepancyOrder    DiscrepancyType = "Order"
	DiscrepancyPosition DiscrepancyType = "Position"
	DiscrepancyBalance  DiscrepancyType = "Balance"
)

// Discrepancy is one finding from comparing local and broker snapshots.
type Discrepancy struct {
	Type             DiscrepancyType
	Identifier       string
	LocalState       string
	BrokerState      string
	Severity         Severity
	AutoResolvable   bool
	SuggestedAction  string
}

// OrphanType classifies why an order appears on only one side of
// reconciliation.
type OrphanType string

const (
	OrphanUnknownInBroker OrphanType = "UnknownInBroker"
	OrphanMissingInBroker OrphanType = "MissingInBroker"
	OrphanStateMismatch   OrphanType = "StateMismatch"
	OrphanZombie          OrphanType = "Zombie"
)

// Resolution is the action reconciliation proposes for an OrphanedOrder.
type Resolution string

const (
	ResolveCancel         Resolution = "Cancel"
	ResolveAdopt          Resolution = "Adopt"
	ResolveSyncFromBroker Resolution = "SyncFromBroker"
	ResolveMarkFailed     Resolution = "MarkFailed"
	ResolveIgnore         Resolution = "Ignore"
)

// OrphanedOrder is one order-identity mismatch between local and broker
// state, with its proposed resolution.
type OrphanedOrder struct {
	OrderID    string
	Type       OrphanType
	Resolution Resolution
	Local      *OrderSnapshot // nil if absent locally
	Broker     *OrderSnapshot // nil if absent at broker
	Severity   Severity
}

// ReconciliationReport is the full output of one reconciliation pass.
type ReconciliationReport struct {
	Discrepancies []Discrepancy
	Orphans       []OrphanedOrder
}

// HasUnresolvedCritical reports whether any discrepancy is Critical
// severity and not auto-resolvable, or any orphan is Critical severity
// with a resolution other than SyncFromBroker, Adopt or Cancel.
func (r ReconciliationReport) HasUnresolvedCritical() bool {
	for _, d := range r.Discrepancies {
		if d.Severity == SeverityCritical && !d.AutoResolvable {
			return true
		}
	}
	for _, o := range r.Orphans {
		if o.Severity == SeverityCritical && o.Resolution != ResolveSyncFromBroker && o.Resolution != ResolveAdopt && o.Resolution != ResolveCancel {
			return true
		}
	}
	return false
}

// BrokerSnapshot is what the execution engine fetches from the broker to
// reconcile against local state.
type BrokerSnapshot struct {
	Orders    map[string]OrderSnapshot    // keyed by BrokerID
	Positions map[Symbol]PositionSnapshot
	Equity    decimal.Decimal
}

// LocalSnapshot is the execution engine's own view. Orders is keyed by the
// same identity as BrokerSnapshot.Orders: an order's BrokerID, or its
// OrderID while it has no BrokerID yet.
type LocalSnapshot struct {
	Orders    map[string]OrderSnapshot
	Positions map[Symbol]PositionSnapshot
}

// CriticalAction is the policy for handling an unresolved critical
// discrepancy during recovery.
type CriticalAction string

const (
	CriticalHalt         CriticalAction = "Halt"
	CriticalLogAndContinue CriticalAction = "LogAndContinue"
	CriticalAlert        CriticalAction = "Alert"
)
