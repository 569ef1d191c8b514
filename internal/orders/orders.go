// Package orders implements the FIX-style order lifecycle state machine,
// per spec §4.10. It owns per-order locking and idempotent, sequence
// numbered event application, generalized from the teacher's risk.Manager
// RWMutex-guarded mutation pattern (internal/risk/manager.go) to a
// per-order lock instead of one global lock, since orders transition
// independently of one another.
package orders

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ccheney/cream-trading-backbone/pkg/types"
)

var ErrIllegalTransition = errors.New("orders: illegal transition")

// EventKind is one of the FIX-style lifecycle events.
type EventKind string

const (
	EvSubmit        EventKind = "Submit"
	EvAck           EventKind = "Ack"
	EvReject        EventKind = "Reject"
	EvPartialFill   EventKind = "PartialFill"
	EvFill          EventKind = "Fill"
	EvCancelRequest EventKind = "CancelRequest"
	EvCanceled      EventKind = "Canceled"
	EvExpired       EventKind = "Expired"
	EvTimedOut      EventKind = "TimedOut"
)

// Event is one state-machine input, carrying the order's idempotence
// sequence number.
type Event struct {
	Kind     EventKind
	Seq      uint64
	BrokerID string // Ack
	Reason   string // Reject, Canceled
	Fill     types.Fill // PartialFill, Fill
}

// TimeoutAction is the policy outcome of a partial-fill timeout.
type TimeoutAction string

const (
	CancelRemainder TimeoutAction = "CancelRemainder"
	HoldOpen        TimeoutAction = "HoldOpen"
)

// TimeoutPolicy maps an order's Purpose to its partial-fill timeout
// behavior. The spec leaves the per-purpose default open; this resolves it
// to CancelRemainder for every purpose unless overridden, favoring hard
// risk bounds over resting size — see the decision recorded in
// SPEC_FULL.md §9.
type TimeoutPolicy struct {
	Window     time.Duration
	ActionFor  func(types.Purpose) TimeoutAction
}

func DefaultTimeoutPolicy() TimeoutPolicy {
	return TimeoutPolicy{
		Window:    2 * time.Minute,
		ActionFor: func(types.Purpose) TimeoutAction { return CancelRemainder },
	}
}

// Machine holds every order under management and applies events to them
// one at a time, under a per-order lock.
type Machine struct {
	Policy TimeoutPolicy

	mu     sync.Mutex
	orders map[string]*managedOrder

	onTransition func(order *types.Order, event Event)
	onTimeout    func(order *types.Order) TimeoutAction
}

type managedOrder struct {
	mu    sync.Mutex
	order *types.Order
	timer *time.Timer
}

func NewMachine(policy TimeoutPolicy) *Machine {
	return &Machine{Policy: policy, orders: make(map[string]*managedOrder)}
}

// OnTransition registers a callback invoked after every successfully
// applied event, for the persistence and publisher layers.
func (m *Machine) OnTransition(f func(order *types.Order, event Event)) {
	m.mu.Lock()
	m.onTransition = f
	m.mu.Unlock()
}

// Create registers o with the machine, setting its status to PendingNew
// when none is given; it returns an error if OrderID is already known. An
// order registered as PartiallyFilled gets a fresh partial-fill timer.
// Callers must have already produced OrderID (e.g. via uuid).
func (m *Machine) Create(o *types.Order) error {
	if o.Status == "" {
		o.Status = types.StatusPendingNew
	}
	if o.LeavesQty.IsZero() && !o.Quantity.IsZero() {
		o.LeavesQty = o.Quantity
	}
	o.CreatedAt = timeNow()
	o.UpdatedAt = o.CreatedAt

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[o.OrderID]; exists {
		return fmt.Errorf("orders: order %s already exists", o.OrderID)
	}
	mo := &managedOrder{order: o}
	m.orders[o.OrderID] = mo
	if o.Status == types.StatusPartiallyFilled {
		m.armPartialFillTimeout(mo)
	}
	return nil
}

// All returns a snapshot of every order currently under management, for
// the recovery orchestrator's local-snapshot comparison.
func (m *Machine) All() []types.OrderSnapshot {
	m.mu.Lock()
	managed := make([]*managedOrder, 0, len(m.orders))
	for _, mo := range m.orders {
		managed = append(managed, mo)
	}
	m.mu.Unlock()

	out := make([]types.OrderSnapshot, 0, len(managed))
	for _, mo := range managed {
		mo.mu.Lock()
		out = append(out, mo.order.Snapshot())
		mo.mu.Unlock()
	}
	return out
}

// Get returns a snapshot of the order, or ok=false if unknown.
func (m *Machine) Get(orderID string) (types.OrderSnapshot, bool) {
	mo := m.lookup(orderID)
	if mo == nil {
		return types.OrderSnapshot{}, false
	}
	mo.mu.Lock()
	defer mo.mu.Unlock()
	return mo.order.Snapshot(), true
}

func (m *Machine) lookup(orderID string) *managedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[orderID]
}

// Apply applies event to orderID's order. Idempotent: an event whose Seq
// is <= the order's LastSeq is a no-op, not an error.
func (m *Machine) Apply(orderID string, event Event) error {
	mo := m.lookup(orderID)
	if mo == nil {
		return fmt.Errorf("orders: unknown order %s", orderID)
	}

	mo.mu.Lock()
	defer mo.mu.Unlock()
	o := mo.order

	if event.Seq != 0 && event.Seq <= o.LastSeq {
		return nil
	}

	if o.Status.IsTerminal() {
		return fmt.Errorf("%w: order %s is terminal (%s), event %s rejected", ErrIllegalTransition, orderID, o.Status, event.Kind)
	}

	next, err := transition(o.Status, event.Kind)
	if err != nil {
		return err
	}

	switch event.Kind {
	case EvAck:
		o.BrokerID = event.BrokerID
	case EvReject:
		// no extra fields
	case EvPartialFill, EvFill:
		applyFill(o, event.Fill)
	case EvCanceled:
		// no extra fields beyond reason
	}

	o.Status = next
	if event.Seq != 0 {
		o.LastSeq = event.Seq
	}
	o.UpdatedAt = timeNow()

	if next.IsTerminal() {
		now := o.UpdatedAt
		o.TerminalAt = &now
		m.cancelTimer(mo)
	}

	if next == types.StatusPartiallyFilled {
		m.armPartialFillTimeout(mo)
	}

	m.mu.Lock()
	cb := m.onTransition
	m.mu.Unlock()
	if cb != nil {
		cb(o, event)
	}
	return nil
}

func applyFill(o *types.Order, f types.Fill) {
	o.Fills = append(o.Fills, f)
	o.CumQty = o.CumQty.Add(f.Qty)
	o.LeavesQty = o.Quantity.Sub(o.CumQty)

	totalNotional := decimal.Zero
	totalQty := decimal.Zero
	for _, fill := range o.Fills {
		totalNotional = totalNotional.Add(fill.Qty.Mul(fill.Price))
		totalQty = totalQty.Add(fill.Qty)
	}
	if totalQty.IsPositive() {
		o.AvgFillPrice = totalNotional.Div(totalQty)
	}
}

// transition implements the spec's table, plus a PartiallyFilled +
// TimedOut row that leaves the status unchanged.
func transition(from types.OrderStatus, event EventKind) (types.OrderStatus, error) {
	switch from {
	case types.StatusPendingNew:
		switch event {
		case EvAck:
			return types.StatusAccepted, nil
		case EvReject:
			return types.StatusRejected, nil
		}
	case types.StatusAccepted:
		switch event {
		case EvPartialFill:
			return types.StatusPartiallyFilled, nil
		case EvFill:
			return types.StatusFilled, nil
		case EvCancelRequest:
			return types.StatusPendingCancel, nil
		case EvExpired:
			return types.StatusExpired, nil
		}
	case types.StatusPartiallyFilled:
		switch event {
		case EvPartialFill:
			return types.StatusPartiallyFilled, nil
		case EvFill:
			return types.StatusFilled, nil
		case EvCancelRequest:
			return types.StatusPendingCancel, nil
		case EvTimedOut:
			// Timeout resolution is a policy action applied by the caller
			// (cancel request or hold open), not a direct state change;
			// see Machine.fireTimeout.
			return types.StatusPartiallyFilled, nil
		}
	case types.StatusPendingCancel:
		switch event {
		case EvCanceled:
			return types.StatusCanceled, nil
		case EvFill:
			return types.StatusFilled, nil // race: fill won
		case EvPartialFill:
			return types.StatusPartiallyFilled, nil
		}
	}
	return "", fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, event)
}

func (m *Machine) armPartialFillTimeout(mo *managedOrder) {
	m.cancelTimer(mo)
	if m.Policy.Window <= 0 {
		return
	}
	orderID := mo.order.OrderID
	purpose := mo.order.Purpose
	mo.timer = time.AfterFunc(m.Policy.Window, func() {
		m.fireTimeout(orderID, purpose)
	})
}

func (m *Machine) cancelTimer(mo *managedOrder) {
	if mo.timer != nil {
		mo.timer.Stop()
		mo.timer = nil
	}
}

func (m *Machine) fireTimeout(orderID string, purpose types.Purpose) {
	mo := m.lookup(orderID)
	if mo == nil {
		return
	}
	mo.mu.Lock()
	o := mo.order
	if o.Status != types.StatusPartiallyFilled {
		mo.mu.Unlock()
		return
	}
	mo.mu.Unlock()

	action := CancelRemainder
	if m.Policy.ActionFor != nil {
		action = m.Policy.ActionFor(purpose)
	}
	if action == HoldOpen {
		return
	}
	_ = m.Apply(orderID, Event{Kind: EvCancelRequest})
}

// timeNow exists so tests could substitute a clock later without
// disturbing the rest of the package; today it is just time.Now.
func timeNow() time.Time { return time.Now().UTC() }
