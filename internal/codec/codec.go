// Package codec encodes outbound control frames and decodes inbound event
// frames for the vendor WebSocket feeds. Two codecs exist: JSON for the
// stock and order-update feeds, MessagePack for the option feed — both
// implement the same Codec interface so internal/session can stay codec
// agnostic.
//
// Decoding is best-effort: a single inbound frame may carry a batch of
// events, and one malformed or unrecognized element in that batch never
// fails the whole frame — it is dropped, and DecodeEvents still returns
// every event that did parse, mirroring internal/exchange/ws.go's
// dispatchMessage in the teacher repo. Only malformed elements are counted
// (in a *PartialDecodeError); elements of an unrecognized type are skipped
// without being counted or logged.
package codec

import (
	"fmt"

	"github.com/ccheney/cream-trading-backbone/pkg/types"
)

// ControlFrame is an outbound frame the session sends to the vendor:
// auth, subscribe, unsubscribe, or listen.
type ControlFrame struct {
	Action string // "auth" | "subscribe" | "unsubscribe" | "listen"

	// auth
	Key    string
	Secret string

	// subscribe / unsubscribe / listen — symbol sets per event kind.
	Trades  []string
	Quotes  []string
	Bars    []string
	Streams []string // trade-updates "listen" uses this instead
}

// PartialDecodeError wraps a successful-but-incomplete DecodeEvents call:
// some elements of the batch parsed, Dropped did not.
type PartialDecodeError struct {
	Dropped int
	Reasons []string
}

func (e *PartialDecodeError) Error() string {
	return fmt.Sprintf("codec: dropped %d of batch: %v", e.Dropped, e.Reasons)
}

// Codec encodes control frames and decodes event frames for one vendor
// wire format.
type Codec interface {
	EncodeControl(frame ControlFrame) ([]byte, error)
	DecodeEvents(raw []byte) ([]types.MarketEvent, error)
}
