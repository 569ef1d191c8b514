// Package session owns one upstream WebSocket connection per (feed,
// vendor endpoint): connect, authenticate, subscribe, dispatch. Its
// connect/reconnect loop is adapted directly from the teacher's WSFeed in
// internal/exchange/ws.go — a single goroutine reads the socket, a command
// channel serializes subscribe/unsubscribe intent, and reconnect runs the
// shared internal/reconnect.Policy instead of the teacher's hardcoded
// backoff.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ccheney/cream-trading-backbone/internal/codec"
	"github.com/ccheney/cream-trading-backbone/internal/heartbeat"
	"github.com/ccheney/cream-trading-backbone/internal/reconnect"
	"github.com/ccheney/cream-trading-backbone/internal/vendorauth"
	"github.com/ccheney/cream-trading-backbone/pkg/types"
)

// State is the session's lifecycle position.
type State string

const (
	StateDisconnected State = "Disconnected"
	StateConnecting   State = "Connecting"
	StateAuthenticating State = "Authenticating"
	StateSubscribed   State = "Subscribed"
	StateSubscribing  State = "Subscribing"
	StateUnsubscribing State = "Unsubscribing"
)

// EventKind tags a SessionEvent.
type EventKind string

const (
	EvConnected     EventKind = "Connected"
	EvAuthenticated EventKind = "Authenticated"
	EvMarketEvent   EventKind = "Event"
	EvDisconnected  EventKind = "Disconnected"
	EvReconnecting  EventKind = "Reconnecting"
)

// SessionEvent is one item on the outbound channel a session publishes to
// its owner (cmd/streamproxy's pumpEvents).
type SessionEvent struct {
	Kind    EventKind
	Event   types.MarketEvent
	Reason  string
	Attempt int
}

// MaxAuthAttempts is the number of consecutive auth failures after which
// Start gives up. It is a constant; it is not read from configuration.
const MaxAuthAttempts = 5

// Dialer abstracts the websocket dial so tests can substitute an in-memory
// transport without opening a real socket.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

// Conn is the minimal socket surface a session needs.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

type gorillaDialer struct{}

func NewGorillaDialer() Dialer { return gorillaDialer{} }

func (gorillaDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf("session: invalid url: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type command struct {
	add    map[types.EventKind][]string
	remove map[types.EventKind][]string
}

// Session owns one upstream connection for one feed.
type Session struct {
	Feed     types.Feed
	Endpoint string
	Codec    codec.Codec
	Creds    vendorauth.Credentials
	Policy   reconnect.Policy
	Heartbeat *heartbeat.Monitor
	Dialer   Dialer
	Logger   *slog.Logger

	mu                sync.Mutex
	state             State
	wanted            map[types.EventKind]map[string]struct{} // union of currently-requested symbols
	conn              Conn
	lastErr           string
	reconnectAttempts atomic.Int64

	cmdCh chan command
	out   chan SessionEvent
}

func New(feed types.Feed, endpoint string, c codec.Codec, creds vendorauth.Credentials) *Session {
	s := &Session{
		Feed:      feed,
		Endpoint:  endpoint,
		Codec:     c,
		Creds:     creds,
		Policy:    reconnect.DefaultPolicy(),
		Heartbeat: heartbeat.NewMonitor(10*time.Second, 30*time.Second),
		Dialer:    NewGorillaDialer(),
		Logger:    slog.Default().With("component", "session", "feed", feed),
		state:     StateDisconnected,
		wanted:    make(map[types.EventKind]map[string]struct{}),
		cmdCh:     make(chan command, 64),
		out:       make(chan SessionEvent, 256),
	}
	s.Heartbeat.OnTimeout(s.onHeartbeatTimeout)
	s.Heartbeat.OnStale(func() {
		s.Logger.Warn("heartbeat stale, approaching timeout")
	})
	return s
}

// onHeartbeatTimeout is the heartbeat monitor's Timeout callback: the
// session is signalled to disconnect and reconnect. Closing the live
// socket unblocks dispatchLoop's ReadMessage, which routes
// back through Start's normal disconnect/reconnect path. A no-op if the
// session is already disconnected (Monitor.Run keeps polling regardless of
// connection state, but there is nothing to close between connections).
func (s *Session) onHeartbeatTimeout() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	s.Logger.Warn("heartbeat timeout, forcing disconnect")
	conn.Close()
}

// Events returns the outbound channel of SessionEvents.
func (s *Session) Events() <-chan SessionEvent { return s.out }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConnectionState reports the lifecycle state as a plain string, for the
// Proxy Service's GetConnectionStatus RPC.
func (s *Session) ConnectionState() string { return string(s.State()) }

// LastHeartbeat returns the timestamp of the most recently received
// message on this session's socket.
func (s *Session) LastHeartbeat() time.Time { return s.Heartbeat.LastTouch() }

// ReconnectAttempts returns the number of reconnect attempts made since the
// last successful authentication, for GetConnectionStatus.
func (s *Session) ReconnectAttempts() int { return int(s.reconnectAttempts.Load()) }

// LastError returns the most recent transport/auth error message, or "" if
// none has occurred since the session was created.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) setLastErr(reason string) {
	s.mu.Lock()
	s.lastErr = reason
	s.mu.Unlock()
}

// Subscribe queues a symbol-set delta; it is applied immediately if
// Subscribed, or merged into wanted and applied after the next successful
// connect otherwise.
func (s *Session) Subscribe(add, remove map[types.EventKind][]string) {
	select {
	case s.cmdCh <- command{add: add, remove: remove}:
	default:
		s.Logger.Warn("session command channel full, dropping subscribe request")
	}
}

// Start runs the connect/auth/subscribe/dispatch loop until ctx is
// canceled. On transport failure it reconnects per Policy; it returns
// early only after MaxAuthAttempts auth failures or, when
// Policy.MaxAttempts is set, once Policy.Exhausted reports the retry
// budget used up.
func (s *Session) Start(ctx context.Context) error {
	attempt := 0
	authFailures := 0

	go s.Heartbeat.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		s.setState(StateConnecting)
		conn, err := s.Dialer.Dial(ctx, s.Endpoint)
		if err != nil {
			s.setLastErr(err.Error())
			attempt++
			if s.Policy.Exhausted(attempt) {
				return fmt.Errorf("session: reconnect attempts exhausted (%d): %w", attempt, err)
			}
			s.emitReconnecting(attempt)
			if !s.sleepBackoff(ctx, attempt) {
				return ctx.Err()
			}
			continue
		}

		s.setState(StateAuthenticating)
		if err := s.authenticate(ctx, conn); err != nil {
			conn.Close()
			s.setLastErr(err.Error())
			if errors.Is(err, vendorauth.ErrUnauthorized) || errors.Is(err, vendorauth.ErrAuthFailed) {
				authFailures++
				if authFailures >= MaxAuthAttempts {
					return fmt.Errorf("session: auth failed %d times, giving up: %w", authFailures, err)
				}
			}
			attempt++
			if s.Policy.Exhausted(attempt) {
				return fmt.Errorf("session: reconnect attempts exhausted (%d): %w", attempt, err)
			}
			s.emitReconnecting(attempt)
			if !s.sleepBackoff(ctx, attempt) {
				return ctx.Err()
			}
			continue
		}

		attempt = 0
		authFailures = 0
		s.reconnectAttempts.Store(0)
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.out <- SessionEvent{Kind: EvAuthenticated}
		s.resubscribeAll(ctx, conn)
		s.setState(StateSubscribed)
		s.Heartbeat.Touch()

		reason := s.dispatchLoop(ctx, conn)
		conn.Close()
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		s.setState(StateDisconnected)
		s.setLastErr(reason)
		s.out <- SessionEvent{Kind: EvDisconnected, Reason: reason}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (s *Session) authenticate(ctx context.Context, conn Conn) error {
	h := vendorauth.New(s.Feed, s.Codec)
	return h.Run(ctx, connTransport{conn}, s.Creds)
}

// connTransport adapts Conn to vendorauth.Transport.
type connTransport struct{ Conn }

func (t connTransport) Send(_ context.Context, frame []byte) error {
	return t.WriteMessage(websocket.TextMessage, frame)
}

func (t connTransport) Recv(_ context.Context) ([]byte, error) {
	_, data, err := t.ReadMessage()
	return data, err
}

func (s *Session) resubscribeAll(ctx context.Context, conn Conn) {
	s.mu.Lock()
	frame := codec.ControlFrame{Action: "subscribe"}
	for kind, symbols := range s.wanted {
		list := make([]string, 0, len(symbols))
		for sym := range symbols {
			list = append(list, sym)
		}
		switch kind {
		case types.KindStockQuote, types.KindOptionQuote:
			frame.Quotes = append(frame.Quotes, list...)
		case types.KindStockTrade, types.KindOptionTrade:
			frame.Trades = append(frame.Trades, list...)
		case types.KindStockBar:
			frame.Bars = append(frame.Bars, list...)
		}
	}
	s.mu.Unlock()

	if len(frame.Quotes) == 0 && len(frame.Trades) == 0 && len(frame.Bars) == 0 {
		return
	}
	raw, err := s.Codec.EncodeControl(frame)
	if err != nil {
		s.Logger.Error("encode resubscribe frame", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		s.Logger.Error("send resubscribe frame", "error", err)
	}
}

func (s *Session) dispatchLoop(ctx context.Context, conn Conn) string {
	msgs := make(chan []byte, 64)
	errs := make(chan error, 1)

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				errs <- err
				return
			}
			msgs <- data
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return "context canceled"

		case err := <-errs:
			return err.Error()

		case cmd := <-s.cmdCh:
			s.applyCommand(ctx, conn, cmd)

		case data := <-msgs:
			s.Heartbeat.Touch()
			events, err := s.Codec.DecodeEvents(data)
			var pde *codec.PartialDecodeError
			if err != nil && !errors.As(err, &pde) {
				s.Logger.Warn("dispatch: non-fatal decode error, stream continues", "error", err)
			} else if pde != nil {
				s.Logger.Debug("dispatch: dropped malformed batch elements", "dropped", pde.Dropped)
			}
			for _, evt := range events {
				select {
				case s.out <- SessionEvent{Kind: EvMarketEvent, Event: evt}:
				case <-ctx.Done():
					return "context canceled"
				}
			}
		}
	}
}

func (s *Session) applyCommand(ctx context.Context, conn Conn, cmd command) {
	s.mu.Lock()
	for kind, symbols := range cmd.add {
		set, ok := s.wanted[kind]
		if !ok {
			set = make(map[string]struct{})
			s.wanted[kind] = set
		}
		for _, sym := range symbols {
			set[sym] = struct{}{}
		}
	}
	for kind, symbols := range cmd.remove {
		if set, ok := s.wanted[kind]; ok {
			for _, sym := range symbols {
				delete(set, sym)
			}
		}
	}
	s.mu.Unlock()

	if len(cmd.add) > 0 {
		s.setState(StateSubscribing)
		s.sendSubscribeDelta(conn, "subscribe", cmd.add)
		s.setState(StateSubscribed)
	}
	if len(cmd.remove) > 0 {
		s.setState(StateUnsubscribing)
		s.sendSubscribeDelta(conn, "unsubscribe", cmd.remove)
		s.setState(StateSubscribed)
	}
}

func (s *Session) sendSubscribeDelta(conn Conn, action string, delta map[types.EventKind][]string) {
	frame := codec.ControlFrame{Action: action}
	for kind, symbols := range delta {
		switch kind {
		case types.KindStockQuote, types.KindOptionQuote:
			frame.Quotes = append(frame.Quotes, symbols...)
		case types.KindStockTrade, types.KindOptionTrade:
			frame.Trades = append(frame.Trades, symbols...)
		case types.KindStockBar:
			frame.Bars = append(frame.Bars, symbols...)
		}
	}
	raw, err := s.Codec.EncodeControl(frame)
	if err != nil {
		s.Logger.Error("encode subscribe delta", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		s.Logger.Error("send subscribe delta", "error", err)
	}
}

func (s *Session) emitReconnecting(attempt int) {
	s.reconnectAttempts.Store(int64(attempt))
	s.out <- SessionEvent{Kind: EvReconnecting, Attempt: attempt}
}

func (s *Session) sleepBackoff(ctx context.Context, attempt int) bool {
	d := s.Policy.NextDelay(attempt)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
