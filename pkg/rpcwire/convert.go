package rpcwire

import (
	"github.com/shopspring/decimal"

	"github.com/ccheney/cream-trading-backbone/pkg/types"
)

func decStr(d decimal.Decimal) string { return d.String() }

func decPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

// FromMarketEvent projects a types.MarketEvent into its wire form, paired
// with the kind so the caller picks the right streaming RPC to send it on.
func FromMarketEvent(e types.MarketEvent) (kind types.EventKind, payload any) {
	switch e.Kind {
	case types.KindStockQuote:
		q := e.StockQuote
		return e.Kind, &StockQuoteEvent{
			Symbol: string(q.Symbol), Bid: decStr(q.Bid), BidSize: decStr(q.BidSize),
			Ask: decStr(q.Ask), AskSize: decStr(q.AskSize), Ts: q.Ts, Seq: e.Seq,
		}
	case types.KindStockTrade:
		tr := e.StockTrade
		return e.Kind, &StockTradeEvent{Symbol: string(tr.Symbol), Price: decStr(tr.Price), Size: decStr(tr.Size), Ts: tr.Ts, Seq: e.Seq}
	case types.KindStockBar:
		b := e.StockBar
		return e.Kind, &StockBarEvent{
			Symbol: string(b.Symbol), Open: decStr(b.Open), High: decStr(b.High), Low: decStr(b.Low),
			Close: decStr(b.Close), Volume: decStr(b.Volume), VWAP: decPtr(b.VWAP), Ts: b.Ts, Seq: e.Seq,
		}
	case types.KindOptionQuote:
		q := e.OptionQuote
		return e.Kind, &OptionQuoteEvent{Contract: string(q.Contract), Bid: decStr(q.Bid), Ask: decStr(q.Ask), Ts: q.Ts, Seq: e.Seq}
	case types.KindOptionTrade:
		tr := e.OptionTrade
		return e.Kind, &OptionTradeEvent{Contract: string(tr.Contract), Price: decStr(tr.Price), Size: decStr(tr.Size), Ts: tr.Ts, Seq: e.Seq}
	case types.KindOrderUpdate:
		u := e.OrderUpdate
		return e.Kind, &OrderUpdateEvent{OrderID: u.OrderID, EventKind: u.EventKind, Snapshot: FromOrderSnapshot(u.Snapshot), Ts: u.Ts, Seq: e.Seq}
	default:
		return e.Kind, nil
	}
}

// FromOrderSnapshot projects a types.OrderSnapshot into its wire form.
func FromOrderSnapshot(s types.OrderSnapshot) OrderSnapshot {
	fills := make([]Fill, len(s.Fills))
	for i, f := range s.Fills {
		fills[i] = Fill{FillID: f.FillID, Qty: decStr(f.Qty), Price: decStr(f.Price), Venue: f.Venue, Ts: f.Ts, Liquidity: f.Liquidity, Commission: decPtr(f.Commission)}
	}
	return OrderSnapshot{
		OrderID: s.OrderID, BrokerID: s.BrokerID, Symbol: string(s.Symbol), Side: string(s.Side),
		Type: string(s.Type), TIF: string(s.TIF), Quantity: decStr(s.Quantity), LimitPrice: decPtr(s.LimitPrice),
		StopPrice: decPtr(s.StopPrice), Purpose: string(s.Purpose), Status: string(s.Status),
		CumQty: decStr(s.CumQty), LeavesQty: decStr(s.LeavesQty), AvgFillPrice: decStr(s.AvgFillPrice),
		Fills: fills, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt, TerminalAt: s.TerminalAt,
	}
}

func strDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func strDecPtr(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	d := strDec(*s)
	return &d
}

// ToDecisionBatch converts a wire DecisionBatch into its domain form.
func ToDecisionBatch(b *DecisionBatch) types.DecisionBatch {
	out := types.DecisionBatch{Decisions: make([]types.Decision, len(b.Decisions))}
	for i, d := range b.Decisions {
		out.Decisions[i] = types.Decision{
			Symbol: types.Symbol(d.Symbol), Side: types.Side(d.Side), Type: types.OrderType(d.Type),
			TIF: types.TimeInForce(d.TIF), Quantity: strDec(d.Quantity), LimitPrice: strDecPtr(d.LimitPrice),
			StopPrice: strDecPtr(d.StopPrice), Purpose: types.Purpose(d.Purpose),
		}
	}
	return out
}

// FromConstraintResult converts a domain ConstraintResult into its wire form.
func FromConstraintResult(r types.ConstraintResult) *ConstraintResult {
	out := &ConstraintResult{Accepted: r.Accepted, Violations: make([]Violation, len(r.Violations))}
	for i, v := range r.Violations {
		out.Violations[i] = Violation{Code: v.Code, Severity: string(v.Severity), Message: v.Message, DecisionIndex: v.DecisionIndex}
	}
	return out
}

// FromOrderSnapshots converts a slice of domain snapshots into their wire
// list form.
func FromOrderSnapshots(snaps []types.OrderSnapshot) *OrderSnapshotList {
	out := &OrderSnapshotList{Orders: make([]OrderSnapshot, len(snaps))}
	for i, s := range snaps {
		out.Orders[i] = FromOrderSnapshot(s)
	}
	return out
}
