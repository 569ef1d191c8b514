// Package vendorauth executes the vendor handshake for the three upstream
// stream types. Each handshake is a short send/receive script driven
// against the session's already-open transport; it mirrors the two-layer
// L1/L2 handshake shape in the teacher's internal/exchange/auth.go, but the
// domain here is API-key auth, not EIP-712 signing.
package vendorauth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ccheney/cream-trading-backbone/internal/codec"
	"github.com/ccheney/cream-trading-backbone/pkg/types"
)

var (
	ErrAuthFailed           = errors.New("vendorauth: auth failed")
	ErrUnauthorized         = errors.New("vendorauth: unauthorized")
	ErrTimeout              = errors.New("vendorauth: handshake timed out")
	ErrAlreadyAuthenticated = errors.New("vendorauth: already authenticated")
)

// HandshakeTimeout is the spec's "≥ 10s without reply" bound.
const HandshakeTimeout = 10 * time.Second

// Transport is the minimal send/receive surface a handshake needs; the
// session supplies the live implementation.
type Transport interface {
	Send(ctx context.Context, frame []byte) error
	Recv(ctx context.Context) ([]byte, error)
}

// Credentials is the vendor API key pair.
type Credentials struct {
	Key    string
	Secret string
}

type state int

const (
	stateNew state = iota
	stateAuthenticated
)

// Handshake runs one feed's vendor-specific auth script.
type Handshake struct {
	Feed  types.Feed
	Codec codec.Codec

	state state
}

func New(feed types.Feed, c codec.Codec) *Handshake {
	return &Handshake{Feed: feed, Codec: c}
}

// Run executes the handshake over t. It returns ErrAlreadyAuthenticated if
// called again on a Handshake instance that has already succeeded; there
// is no way to reset one.
func (h *Handshake) Run(ctx context.Context, t Transport, creds Credentials) error {
	if h.state == stateAuthenticated {
		return ErrAlreadyAuthenticated
	}

	ctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()

	var err error
	switch h.Feed {
	case types.FeedStock:
		err = h.runMarketDataV2(ctx, t, creds)
	case types.FeedOption:
		err = h.runOptionDataV1Beta1(ctx, t, creds)
	case types.FeedOrderUpdates:
		err = h.runTradeUpdates(ctx, t, creds)
	default:
		err = fmt.Errorf("vendorauth: unsupported feed %q", h.Feed)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return err
	}

	h.state = stateAuthenticated
	return nil
}

// runMarketDataV2 and runOptionDataV1Beta1 are wire-identical (both:
// connect → "connected" → send auth → "authenticated"); they differ only
// in framing, which the Codec already encapsulates.
func (h *Handshake) runMarketDataV2(ctx context.Context, t Transport, creds Credentials) error {
	return h.runConnectAuthAck(ctx, t, creds)
}

func (h *Handshake) runOptionDataV1Beta1(ctx context.Context, t Transport, creds Credentials) error {
	return h.runConnectAuthAck(ctx, t, creds)
}

func (h *Handshake) runConnectAuthAck(ctx context.Context, t Transport, creds Credentials) error {
	raw, err := t.Recv(ctx)
	if err != nil {
		return fmt.Errorf("%w: waiting for connected ack: %v", ErrAuthFailed, err)
	}
	if !frameHasTag(raw, "connected", "success") {
		return fmt.Errorf("%w: expected connected ack, got %q", ErrAuthFailed, raw)
	}

	frame, err := h.Codec.EncodeControl(codec.ControlFrame{Action: "auth", Key: creds.Key, Secret: creds.Secret})
	if err != nil {
		return fmt.Errorf("%w: encode auth frame: %v", ErrAuthFailed, err)
	}
	if err := t.Send(ctx, frame); err != nil {
		return fmt.Errorf("%w: send auth frame: %v", ErrAuthFailed, err)
	}

	raw, err = t.Recv(ctx)
	if err != nil {
		return fmt.Errorf("%w: waiting for authenticated ack: %v", ErrAuthFailed, err)
	}
	if frameHasTag(raw, "unauthorized", "auth_failed") {
		return ErrUnauthorized
	}
	if !frameHasTag(raw, "authenticated", "success") {
		return fmt.Errorf("%w: expected authenticated ack, got %q", ErrAuthFailed, raw)
	}
	return nil
}

func (h *Handshake) runTradeUpdates(ctx context.Context, t Transport, creds Credentials) error {
	frame, err := h.Codec.EncodeControl(codec.ControlFrame{Action: "auth", Key: creds.Key, Secret: creds.Secret})
	if err != nil {
		return fmt.Errorf("%w: encode authenticate frame: %v", ErrAuthFailed, err)
	}
	if err := t.Send(ctx, frame); err != nil {
		return fmt.Errorf("%w: send authenticate frame: %v", ErrAuthFailed, err)
	}

	raw, err := t.Recv(ctx)
	if err != nil {
		return fmt.Errorf("%w: waiting for authorization ack: %v", ErrAuthFailed, err)
	}
	if frameHasTag(raw, "unauthorized") {
		return ErrUnauthorized
	}
	if !frameHasTag(raw, "authorized") {
		return fmt.Errorf("%w: expected authorization ack, got %q", ErrAuthFailed, raw)
	}

	listenFrame, err := h.Codec.EncodeControl(codec.ControlFrame{Action: "listen", Streams: []string{"trade_updates"}})
	if err != nil {
		return fmt.Errorf("%w: encode listen frame: %v", ErrAuthFailed, err)
	}
	return t.Send(ctx, listenFrame)
}

// frameHasTag is a cheap substring check over the raw ack frame; acks are
// short control frames, not market-event batches, so this avoids forcing
// every Transport implementation through a second decode path.
func frameHasTag(raw []byte, tags ...string) bool {
	for _, tag := range tags {
		if bytes.Contains(raw, []byte(tag)) {
			return true
		}
	}
	return false
}
