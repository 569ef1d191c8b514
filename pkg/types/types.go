// Package types defines the shared vocabulary used across both services:
// market events, orders, risk policy, and reconciliation data. It has no
// dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Primitives
// ————————————————————————————————————————————————————————————————————————

// Symbol is an opaque ticker string. Case-sensitive, never empty.
type Symbol string

// Money pairs a decimal amount with a currency tag. Never floating point.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// Side is the direction of an order: BUY or SELL.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Environment identifies where an order is routed.
type Environment string

const (
	Paper    Environment = "paper"
	Live     Environment = "live"
	Backtest Environment = "backtest" // offline collaborator only, never routed here
)

// Feed identifies one upstream vendor stream.
type Feed string

const (
	FeedStock        Feed = "stock"
	FeedOption       Feed = "option"
	FeedOrderUpdates Feed = "order_updates"
)

// EventKind categorizes a MarketEvent for subscription and hub routing.
type EventKind string

const (
	KindStockQuote   EventKind = "stock_quote"
	KindStockTrade   EventKind = "stock_trade"
	KindStockBar     EventKind = "stock_bar"
	KindOptionQuote  EventKind = "option_quote"
	KindOptionTrade  EventKind = "option_trade"
	KindOrderUpdate  EventKind = "order_update"
)

// ————————————————————————————————————————————————————————————————————————
// Market events
// ————————————————————————————————————————————————————————————————————————

// MarketEvent is a tagged union of everything the multiplexer fans out.
// Exactly one of the payload fields is populated, selected by Kind.
// Seq is assigned by the hub on publish, monotonically increasing per
// event kind; it has no relation to any vendor-assigned sequence number.
type MarketEvent struct {
	Kind   EventKind
	Source Feed
	Seq    uint64
	Ts     time.Time

	StockQuote  *StockQuote
	StockTrade  *StockTrade
	StockBar    *StockBar
	OptionQuote *OptionQuote
	OptionTrade *OptionTrade
	OrderUpdate *OrderUpdateEvent
}

// RoutingSymbol returns the routing key this event should be filtered by.
func (e MarketEvent) RoutingSymbol() Symbol {
	switch e.Kind {
	case KindStockQuote:
		return e.StockQuote.Symbol
	case KindStockTrade:
		return e.StockTrade.Symbol
	case KindStockBar:
		return e.StockBar.Symbol
	case KindOptionQuote:
		return e.OptionQuote.Contract
	case KindOptionTrade:
		return e.OptionTrade.Contract
	case KindOrderUpdate:
		return Symbol(e.OrderUpdate.OrderID)
	default:
		return ""
	}
}

type StockQuote struct {
	Symbol  Symbol
	Bid     decimal.Decimal
	BidSize decimal.Decimal
	Ask     decimal.Decimal
	AskSize decimal.Decimal
	Ts      time.Time
}

type StockTrade struct {
	Symbol Symbol
	Price  decimal.Decimal
	Size   decimal.Decimal
	Ts     time.Time
}

type StockBar struct {
	Symbol Symbol
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
	VWAP   *decimal.Decimal // optional
	Ts     time.Time
}

type OptionQuote struct {
	Contract Symbol // OCC-style contract symbol, opaque
	Bid      decimal.Decimal
	Ask      decimal.Decimal
	Ts       time.Time
}

type OptionTrade struct {
	Contract Symbol
	Price    decimal.Decimal
	Size     decimal.Decimal
	Ts       time.Time
}

// OrderUpdateEvent is the vendor's trade-updates feed payload, fanned out
// on the order-update hub channel the same way stock/option events are.
type OrderUpdateEvent struct {
	OrderID   string
	EventKind string // vendor's event name: "new", "fill", "partial_fill", "canceled", ...
	Snapshot  OrderSnapshot
	Ts        time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeStop   OrderType = "STOP"
)

type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
)

// OrderStatus is one state in the FIX-style lifecycle.
type OrderStatus string

const (
	StatusPendingNew      OrderStatus = "PendingNew"
	StatusAccepted        OrderStatus = "Accepted"
	StatusPartiallyFilled OrderStatus = "PartiallyFilled"
	StatusFilled          OrderStatus = "Filled"
	StatusPendingCancel   OrderStatus = "PendingCancel"
	StatusCanceled        OrderStatus = "Canceled"
	StatusRejected        OrderStatus = "Rejected"
	StatusExpired         OrderStatus = "Expired"
)

// IsTerminal reports whether no further transitions are legal.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// Purpose tags why an order was submitted, used to pick a partial-fill
// timeout policy. The spec leaves the per-purpose default unspecified;
// see internal/orders.TimeoutPolicy.
type Purpose string

const (
	PurposeEntry Purpose = "entry"
	PurposeExit  Purpose = "exit"
	PurposeHedge Purpose = "hedge"
)

// Fill is one append-only execution against an order.
type Fill struct {
	FillID     string
	Qty        decimal.Decimal
	Price      decimal.Decimal
	Venue      string
	Ts         time.Time
	Liquidity  string // "maker" | "taker", optional
	Commission *decimal.Decimal
}

// Order is the execution-core aggregate. Identity is OrderID; BrokerID is
// attached on first acknowledgment and immutable thereafter.
type Order struct {
	OrderID  string
	BrokerID string // empty until Ack

	Symbol     Symbol
	Side       Side
	Type       OrderType
	TIF        TimeInForce
	Quantity   decimal.Decimal
	LimitPrice *decimal.Decimal
	StopPrice  *decimal.Decimal
	Purpose    Purpose

	Status       OrderStatus
	CumQty       decimal.Decimal
	LeavesQty    decimal.Decimal
	AvgFillPrice decimal.Decimal
	Fills        []Fill

	LastSeq    uint64 // highest applied event sequence, for idempotence
	CreatedAt  time.Time
	UpdatedAt  time.Time
	TerminalAt *time.Time
}

// OrderSnapshot is the wire/persisted projection of an Order.
type OrderSnapshot struct {
	OrderID      string
	BrokerID     string
	Symbol       Symbol
	Side         Side
	Type         OrderType
	TIF          TimeInForce
	Quantity     decimal.Decimal
	LimitPrice   *decimal.Decimal
	StopPrice    *decimal.Decimal
	Purpose      Purpose
	Status       OrderStatus
	CumQty       decimal.Decimal
	LeavesQty    decimal.Decimal
	AvgFillPrice decimal.Decimal
	Fills        []Fill
	LastSeq      uint64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	TerminalAt   *time.Time
}

// Snapshot projects an Order into its persisted/wire form.
func (o *Order) Snapshot() OrderSnapshot {
	fills := make([]Fill, len(o.Fills))
	copy(fills, o.Fills)
	return OrderSnapshot{
		OrderID:      o.OrderID,
		BrokerID:     o.BrokerID,
		Symbol:       o.Symbol,
		Side:         o.Side,
		Type:         o.Type,
		TIF:          o.TIF,
		Quantity:     o.Quantity,
		LimitPrice:   o.LimitPrice,
		StopPrice:    o.StopPrice,
		Purpose:      o.Purpose,
		Status:       o.Status,
		CumQty:       o.CumQty,
		LeavesQty:    o.LeavesQty,
		AvgFillPrice: o.AvgFillPrice,
		Fills:        fills,
		LastSeq:      o.LastSeq,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
		TerminalAt:   o.TerminalAt,
	}
}

// FromSnapshot rebuilds an Order from a persisted snapshot.
func FromSnapshot(s OrderSnapshot) *Order {
	fills := make([]Fill, len(s.Fills))
	copy(fills, s.Fills)
	return &Order{
		OrderID:      s.OrderID,
		BrokerID:     s.BrokerID,
		Symbol:       s.Symbol,
		Side:         s.Side,
		Type:         s.Type,
		TIF:          s.TIF,
		Quantity:     s.Quantity,
		LimitPrice:   s.LimitPrice,
		StopPrice:    s.StopPrice,
		Purpose:      s.Purpose,
		Status:       s.Status,
		CumQty:       s.CumQty,
		LeavesQty:    s.LeavesQty,
		AvgFillPrice: s.AvgFillPrice,
		Fills:        fills,
		LastSeq:      s.LastSeq,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		TerminalAt:   s.TerminalAt,
	}
}

// ————————————————————————————————————————————————————————————————————————
// Decisions and risk
// ————————————————————————————————————————————————————————————————————————

// Decision is one proposed order a caller wants validated and submitted.
type Decision struct {
	Symbol     Symbol
	Side       Side
	Type       OrderType
	TIF        TimeInForce
	Quantity   decimal.Decimal
	LimitPrice *decimal.Decimal
	StopPrice  *decimal.Decimal
	Purpose    Purpose
}

// DecisionBatch is validated and submitted as a unit.
type DecisionBatch struct {
	Decisions []Decision
}

// Severity ranks a risk violation.
type Severity string

const (
	SeverityWarning  Severity = "Warning"
	SeverityError    Severity = "Error"
	SeverityCritical Severity = "Critical"
)

// Violation is one risk-check finding against a DecisionBatch.
type Violation struct {
	Code          string
	Severity      Severity
	Message       string
	DecisionIndex int
}

// ConstraintResult is the risk validator's deterministic output.
type ConstraintResult struct {
	Violations []Violation
	Accepted   bool
}

// ExposureLimits groups the caps a RiskPolicy enforces.
type ExposureLimits struct {
	MaxUnitsPerInstrument    decimal.Decimal
	MaxNotionalPerInstrument decimal.Decimal
	MaxPctEquityPerInstrument decimal.Decimal

	MaxGrossExposure  decimal.Decimal
	MaxNetExposure    decimal.Decimal
	MaxConcentration  decimal.Decimal // fraction of portfolio in one instrument

	MaxDelta decimal.Decimal
	MaxGamma decimal.Decimal
	MaxVega  decimal.Decimal
	MaxTheta decimal.Decimal

	MinBuyingPowerPct decimal.Decimal

	SizingSanityMultiple decimal.Decimal // warn if order > N x median historical size
}

// RiskPolicy is the singleton active risk configuration.
type RiskPolicy struct {
	ID     string
	Limits ExposureLimits
	Active bool
}

// PendingOrderView is the minimal view of a resting order the risk
// validator needs for conflicting-order detection.
type PendingOrderView struct {
	Symbol Symbol
	Side   Side
}

// PortfolioGreeks is an optional aggregate over option positions.
type PortfolioGreeks struct {
	Delta decimal.Decimal
	Gamma decimal.Decimal
	Vega  decimal.Decimal
	Theta decimal.Decimal
}

// RiskContext is everything the risk validator needs besides the policy
// and the batch itself.
type RiskContext struct {
	Positions          map[Symbol]PositionSnapshot
	PendingOrders      []PendingOrderView
	AccountEquity      decimal.Decimal
	BuyingPower        decimal.Decimal
	Greeks             *PortfolioGreeks
	HistoricalSizes    map[Symbol][]decimal.Decimal // for sizing-sanity check
}

// PositionSnapshot is the execution engine's view of one symbol's holding.
type PositionSnapshot struct {
	Symbol        Symbol
	Qty           decimal.Decimal // signed, positive = long
	AvgEntryPrice decimal.Decimal
	RealizedPnL   decimal.Decimal
}
