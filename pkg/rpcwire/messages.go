package rpcwire

import "time"

// SubscribeRequest is the request message shared by every streaming RPC:
// StreamQuotes, StreamTrades, StreamBars, StreamOptionQuotes,
// StreamOptionTrades, StreamOrderUpdates.
type SubscribeRequest struct {
	Symbols     []string `json:"symbols"`
	Environment string   `json:"environment"`
}

// StockQuoteEvent, StockTradeEvent, etc. are the JSON wire projections of
// pkg/types' market event payloads; decimals cross the wire as strings to
// avoid float round-tripping.
type StockQuoteEvent struct {
	Symbol  string    `json:"symbol"`
	Bid     string    `json:"bid"`
	BidSize string    `json:"bid_size"`
	Ask     string    `json:"ask"`
	AskSize string    `json:"ask_size"`
	Ts      time.Time `json:"ts"`
	Seq     uint64    `json:"seq"`
}

type StockTradeEvent struct {
	Symbol string    `json:"symbol"`
	Price  string    `json:"price"`
	Size   string    `json:"size"`
	Ts     time.Time `json:"ts"`
	Seq    uint64    `json:"seq"`
}

type StockBarEvent struct {
	Symbol string    `json:"symbol"`
	Open   string    `json:"open"`
	High   string    `json:"high"`
	Low    string    `json:"low"`
	Close  string    `json:"close"`
	Volume string    `json:"volume"`
	VWAP   *string   `json:"vwap,omitempty"`
	Ts     time.Time `json:"ts"`
	Seq    uint64    `json:"seq"`
}

type OptionQuoteEvent struct {
	Contract string    `json:"contract"`
	Bid      string    `json:"bid"`
	Ask      string    `json:"ask"`
	Ts       time.Time `json:"ts"`
	Seq      uint64    `json:"seq"`
}

type OptionTradeEvent struct {
	Contract string    `json:"contract"`
	Price    string    `json:"price"`
	Size     string    `json:"size"`
	Ts       time.Time `json:"ts"`
	Seq      uint64    `json:"seq"`
}

type OrderUpdateEvent struct {
	OrderID   string        `json:"order_id"`
	EventKind string        `json:"event_kind"`
	Snapshot  OrderSnapshot `json:"snapshot"`
	Ts        time.Time     `json:"ts"`
	Seq       uint64        `json:"seq"`
}

// ConnectionStatusRequest is GetConnectionStatus's (empty) request.
type ConnectionStatusRequest struct{}

type FeedStatus struct {
	Feed              string    `json:"feed"`
	State             string    `json:"state"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	SubscribedSymbols int       `json:"subscribed_symbols"`
	LastHeartbeat     time.Time `json:"last_heartbeat"`
	LastError         string    `json:"last_error,omitempty"`
}

type ConnectionStatusResponse struct {
	Feeds []FeedStatus `json:"feeds"`
}

// ————————————————————————————————————————————————————————————————————————
// Execution RPCs: CheckConstraints, SubmitOrders, GetOrderState,
// CancelOrders
// ————————————————————————————————————————————————————————————————————————

type Decision struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Type       string  `json:"type"`
	TIF        string  `json:"tif"`
	Quantity   string  `json:"quantity"`
	LimitPrice *string `json:"limit_price,omitempty"`
	StopPrice  *string `json:"stop_price,omitempty"`
	Purpose    string  `json:"purpose"`
}

type DecisionBatch struct {
	Decisions []Decision `json:"decisions"`
}

type Violation struct {
	Code          string `json:"code"`
	Severity      string `json:"severity"`
	Message       string `json:"message"`
	DecisionIndex int    `json:"decision_index"`
}

type ConstraintResult struct {
	Violations []Violation `json:"violations"`
	Accepted   bool        `json:"accepted"`
}

type RejectedDecision struct {
	DecisionIndex int    `json:"decision_index"`
	Code          string `json:"code"`
	Message       string `json:"message"`
}

type ExecutionAck struct {
	OrderIDs []string           `json:"order_ids"`
	Rejected []RejectedDecision `json:"rejected"`
}

type OrderIDList struct {
	OrderIDs []string `json:"order_ids"`
}

type Fill struct {
	FillID     string  `json:"fill_id"`
	Qty        string  `json:"qty"`
	Price      string  `json:"price"`
	Venue      string  `json:"venue"`
	Ts         time.Time `json:"ts"`
	Liquidity  string  `json:"liquidity,omitempty"`
	Commission *string `json:"commission,omitempty"`
}

type OrderSnapshot struct {
	OrderID      string     `json:"order_id"`
	BrokerID     string     `json:"broker_id,omitempty"`
	Symbol       string     `json:"symbol"`
	Side         string     `json:"side"`
	Type         string     `json:"type"`
	TIF          string     `json:"tif"`
	Quantity     string     `json:"quantity"`
	LimitPrice   *string    `json:"limit_price,omitempty"`
	StopPrice    *string    `json:"stop_price,omitempty"`
	Purpose      string     `json:"purpose"`
	Status       string     `json:"status"`
	CumQty       string     `json:"cum_qty"`
	LeavesQty    string     `json:"leaves_qty"`
	AvgFillPrice string     `json:"avg_fill_price"`
	Fills        []Fill     `json:"fills,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	TerminalAt   *time.Time `json:"terminal_at,omitempty"`
}

type OrderSnapshotList struct {
	Orders []OrderSnapshot `json:"orders"`
}

type CancelRequest struct {
	OrderIDs []string `json:"order_ids"`
	Reason   string   `json:"reason,omitempty"`
}

type CancelResult struct {
	OrderID   string `json:"order_id"`
	Canceled  bool   `json:"canceled"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable"`
}

type CancelResultList struct {
	Results []CancelResult `json:"results"`
}
