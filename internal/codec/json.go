package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ccheney/cream-trading-backbone/pkg/types"
)

// JSONCodec handles the stock feed and the trade-updates (order update)
// feed — both JSON over the wire, per spec §6.
type JSONCodec struct {
	// Source tags every decoded MarketEvent with the feed it came from.
	Source types.Feed
}

func NewJSONCodec(source types.Feed) *JSONCodec {
	return &JSONCodec{Source: source}
}

// wireControl mirrors the stock-feed control protocol:
// {"action":"auth","key":"...","secret":"..."}
// {"action":"subscribe","trades":[...],"quotes":[...],"bars":[...]}
type wireControl struct {
	Action  string   `json:"action"`
	Key     string   `json:"key,omitempty"`
	Secret  string   `json:"secret,omitempty"`
	Trades  []string `json:"trades,omitempty"`
	Quotes  []string `json:"quotes,omitempty"`
	Bars    []string `json:"bars,omitempty"`
	Streams []string `json:"streams,omitempty"`
}

// wireEnvelope carries the trade-updates auth/listen frames, which use a
// nested "data" envelope instead.
type wireEnvelope struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func (c *JSONCodec) EncodeControl(frame ControlFrame) ([]byte, error) {
	if c.Source == types.FeedOrderUpdates {
		switch frame.Action {
		case "auth":
			return json.Marshal(wireEnvelope{
				Action: "authenticate",
				Data:   mustRaw(map[string]string{"key_id": frame.Key, "secret_key": frame.Secret}),
			})
		case "listen":
			streams := frame.Streams
			if len(streams) == 0 {
				streams = []string{"trade_updates"}
			}
			return json.Marshal(wireEnvelope{
				Action: "listen",
				Data:   mustRaw(map[string][]string{"streams": streams}),
			})
		default:
			return nil, fmt.Errorf("codec: unsupported order-update control action %q", frame.Action)
		}
	}

	return json.Marshal(wireControl{
		Action:  frame.Action,
		Key:     frame.Key,
		Secret:  frame.Secret,
		Trades:  frame.Trades,
		Quotes:  frame.Quotes,
		Bars:    frame.Bars,
		Streams: frame.Streams,
	})
}

func mustRaw(v interface{}) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// wireStockEvent is one element of a stock-feed batch frame, tagged by T.
type wireStockEvent struct {
	T    string `json:"T"`
	Sym  string `json:"S"`
	Bp   string `json:"bp,omitempty"`
	Bs   string `json:"bs,omitempty"`
	Ap   string `json:"ap,omitempty"`
	As   string `json:"as,omitempty"`
	P    string `json:"p,omitempty"`
	Size string `json:"s,omitempty"`
	O    string `json:"o,omitempty"`
	H    string `json:"h,omitempty"`
	L    string `json:"l,omitempty"`
	Cl   string `json:"c,omitempty"`
	V    string `json:"v,omitempty"`
	VW   string `json:"vw,omitempty"`
	Ts   string `json:"t,omitempty"` // RFC3339 nano
	Msg  string `json:"msg,omitempty"`
	Code int    `json:"code,omitempty"`
}

// wireOrderUpdateEvent is the trade-updates wrapper:
// {"stream":"trade_updates","data":{"event":"fill","order":{...}}}
type wireOrderUpdateEvent struct {
	Stream string `json:"stream"`
	Data   struct {
		Event string          `json:"event"`
		Order json.RawMessage `json:"order"`
	} `json:"data"`
}

func (c *JSONCodec) DecodeEvents(raw []byte) ([]types.MarketEvent, error) {
	if c.Source == types.FeedOrderUpdates {
		return c.decodeOrderUpdates(raw)
	}
	return c.decodeStockBatch(raw)
}

func (c *JSONCodec) decodeStockBatch(raw []byte) ([]types.MarketEvent, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		// Some vendor frames are single objects, not arrays.
		elems = []json.RawMessage{raw}
	}

	events := make([]types.MarketEvent, 0, len(elems))
	var reasons []string

	for _, elem := range elems {
		var we wireStockEvent
		if err := json.Unmarshal(elem, &we); err != nil {
			reasons = append(reasons, err.Error())
			continue
		}

		evt, ok, err := c.stockEventFromWire(we)
		if err != nil {
			reasons = append(reasons, err.Error())
			continue
		}
		if ok {
			events = append(events, evt)
		}
	}

	if len(reasons) > 0 {
		return events, &PartialDecodeError{Dropped: len(reasons), Reasons: reasons}
	}
	return events, nil
}

func (c *JSONCodec) stockEventFromWire(we wireStockEvent) (types.MarketEvent, bool, error) {
	ts := parseWireTs(we.Ts)
	base := types.MarketEvent{Source: c.Source, Ts: ts}

	switch we.T {
	case "q":
		bid, err1 := decimal.NewFromString(we.Bp)
		ask, err2 := decimal.NewFromString(we.Ap)
		bidSz, err3 := decimal.NewFromString(we.Bs)
		askSz, err4 := decimal.NewFromString(we.As)
		if err := firstErr(err1, err2, err3, err4); err != nil {
			return types.MarketEvent{}, false, fmt.Errorf("decode stock quote: %w", err)
		}
		base.Kind = types.KindStockQuote
		base.StockQuote = &types.StockQuote{Symbol: types.Symbol(we.Sym), Bid: bid, BidSize: bidSz, Ask: ask, AskSize: askSz, Ts: ts}
		return base, true, nil

	case "t":
		price, err1 := decimal.NewFromString(we.P)
		size, err2 := decimal.NewFromString(we.Size)
		if err := firstErr(err1, err2); err != nil {
			return types.MarketEvent{}, false, fmt.Errorf("decode stock trade: %w", err)
		}
		base.Kind = types.KindStockTrade
		base.StockTrade = &types.StockTrade{Symbol: types.Symbol(we.Sym), Price: price, Size: size, Ts: ts}
		return base, true, nil

	case "b":
		open, err1 := decimal.NewFromString(we.O)
		high, err2 := decimal.NewFromString(we.H)
		low, err3 := decimal.NewFromString(we.L)
		cl, err4 := decimal.NewFromString(we.Cl)
		vol, err5 := decimal.NewFromString(we.V)
		if err := firstErr(err1, err2, err3, err4, err5); err != nil {
			return types.MarketEvent{}, false, fmt.Errorf("decode stock bar: %w", err)
		}
		bar := &types.StockBar{Symbol: types.Symbol(we.Sym), Open: open, High: high, Low: low, Close: cl, Volume: vol, Ts: ts}
		if we.VW != "" {
			if vw, err := decimal.NewFromString(we.VW); err == nil {
				bar.VWAP = &vw
			}
		}
		base.Kind = types.KindStockBar
		base.StockBar = bar
		return base, true, nil

	case "subscription", "success":
		// Control acks, not market events.
		return types.MarketEvent{}, false, nil

	case "error":
		return types.MarketEvent{}, false, fmt.Errorf("vendor error %d: %s", we.Code, we.Msg)

	default:
		// Unknown variant: dropped, never fatal.
		return types.MarketEvent{}, false, nil
	}
}

func (c *JSONCodec) decodeOrderUpdates(raw []byte) ([]types.MarketEvent, error) {
	var wrapper wireOrderUpdateEvent
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, fmt.Errorf("decode order update: %w", err)
	}
	if wrapper.Stream != "trade_updates" {
		return nil, nil
	}

	var snap types.OrderSnapshot
	if err := json.Unmarshal(wrapper.Data.Order, &snap); err != nil {
		return nil, &PartialDecodeError{Dropped: 1, Reasons: []string{err.Error()}}
	}

	evt := types.MarketEvent{
		Kind:   types.KindOrderUpdate,
		Source: c.Source,
		Ts:     time.Now().UTC(),
		OrderUpdate: &types.OrderUpdateEvent{
			OrderID:   snap.OrderID,
			EventKind: wrapper.Data.Event,
			Snapshot:  snap,
			Ts:        time.Now().UTC(),
		},
	}
	return []types.MarketEvent{evt}, nil
}

func parseWireTs(s string) time.Time {
	if s == "" {
		return time.Now().UTC()
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	return time.Now().UTC()
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
