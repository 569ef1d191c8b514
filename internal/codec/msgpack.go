package codec

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ccheney/cream-trading-backbone/pkg/types"
)

// MsgpackCodec handles the option feed, which is structurally isomorphic
// to the stock feed but carried as MessagePack frames per spec §6.
type MsgpackCodec struct{}

func NewMsgpackCodec() *MsgpackCodec {
	return &MsgpackCodec{}
}

type wireOptionControl struct {
	Action string   `msgpack:"action"`
	Key    string   `msgpack:"key,omitempty"`
	Secret string   `msgpack:"secret,omitempty"`
	Quotes []string `msgpack:"quotes,omitempty"`
	Trades []string `msgpack:"trades,omitempty"`
}

func (c *MsgpackCodec) EncodeControl(frame ControlFrame) ([]byte, error) {
	return msgpack.Marshal(wireOptionControl{
		Action: frame.Action,
		Key:    frame.Key,
		Secret: frame.Secret,
		Quotes: frame.Quotes,
		Trades: frame.Trades,
	})
}

// wireOptionEvent is one element of an option-feed batch frame, tagged by T.
type wireOptionEvent struct {
	T    string `msgpack:"T"`
	Sym  string `msgpack:"S"`
	Bp   string `msgpack:"bp,omitempty"`
	Ap   string `msgpack:"ap,omitempty"`
	P    string `msgpack:"p,omitempty"`
	Size string `msgpack:"s,omitempty"`
	Ts   int64  `msgpack:"t,omitempty"` // unix nanos
	Msg  string `msgpack:"msg,omitempty"`
	Code int    `msgpack:"code,omitempty"`
}

func (c *MsgpackCodec) DecodeEvents(raw []byte) ([]types.MarketEvent, error) {
	var elems []wireOptionEvent
	if err := msgpack.Unmarshal(raw, &elems); err != nil {
		var single wireOptionEvent
		if err2 := msgpack.Unmarshal(raw, &single); err2 != nil {
			return nil, fmt.Errorf("decode option batch: %w", err)
		}
		elems = []wireOptionEvent{single}
	}

	events := make([]types.MarketEvent, 0, len(elems))
	var reasons []string

	for _, we := range elems {
		evt, ok, err := c.optionEventFromWire(we)
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

func (c *MsgpackCodec) optionEventFromWire(we wireOptionEvent) (types.MarketEvent, bool, error) {
	ts := time.Now().UTC()
	if we.Ts != 0 {
		ts = time.Unix(0, we.Ts).UTC()
	}
	base := types.MarketEvent{Source: types.FeedOption, Ts: ts}

	switch we.T {
	case "q":
		bid, err1 := decimal.NewFromString(we.Bp)
		ask, err2 := decimal.NewFromString(we.Ap)
		if err := firstErr(err1, err2); err != nil {
			return types.MarketEvent{}, false, fmt.Errorf("decode option quote: %w", err)
		}
		base.Kind = types.KindOptionQuote
		base.OptionQuote = &types.OptionQuote{Contract: types.Symbol(we.Sym), Bid: bid, Ask: ask, Ts: ts}
		return base, true, nil

	case "t":
		price, err1 := decimal.NewFromString(we.P)
		size, err2 := decimal.NewFromString(we.Size)
		if err := firstErr(err1, err2); err != nil {
			return types.MarketEvent{}, false, fmt.Errorf("decode option trade: %w", err)
		}
		base.Kind = types.KindOptionTrade
		base.OptionTrade = &types.OptionTrade{Contract: types.Symbol(we.Sym), Price: price, Size: size, Ts: ts}
		return base, true, nil

	case "subscription", "success":
		return types.MarketEvent{}, false, nil

	case "error":
		return types.MarketEvent{}, false, fmt.Errorf("vendor error %d: %s", we.Code, we.Msg)

	default:
		return types.MarketEvent{}, false, nil
	}
}
