// Package proxy implements the Proxy Service (spec §4.8): the gRPC-facing
// adapter that bridges downstream subscriber streams to the registry and
// fan-out hub. It owns no session or routing logic of its own — it assigns
// subscriber ids, drives registry.Acquire/DropSubscriber around a stream's
// lifetime, and filters hub events by the subscriber's requested symbols.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ccheney/cream-trading-backbone/internal/hub"
	"github.com/ccheney/cream-trading-backbone/internal/registry"
	"github.com/ccheney/cream-trading-backbone/pkg/rpcwire"
	"github.com/ccheney/cream-trading-backbone/pkg/types"
)

// Upstream is the thin slice of internal/session that the Service needs to
// issue symbol subscribe/unsubscribe commands for a given feed.
type Upstream interface {
	Subscribe(add, remove map[types.EventKind][]string)
}

// FeedStatusSource reports the current connection state for one feed, for
// GetConnectionStatus.
type FeedStatusSource interface {
	ConnectionState() string
	LastHeartbeat() time.Time
	LastError() string
	ReconnectAttempts() int
}

var feedKinds = map[types.Feed][]types.EventKind{
	types.FeedStock:        {types.KindStockQuote, types.KindStockTrade, types.KindStockBar},
	types.FeedOption:       {types.KindOptionQuote, types.KindOptionTrade},
	types.FeedOrderUpdates: {types.KindOrderUpdate},
}

var kindToFeed = map[types.EventKind]types.Feed{
	types.KindStockQuote:  types.FeedStock,
	types.KindStockTrade:  types.FeedStock,
	types.KindStockBar:    types.FeedStock,
	types.KindOptionQuote: types.FeedOption,
	types.KindOptionTrade: types.FeedOption,
	types.KindOrderUpdate: types.FeedOrderUpdates,
}

// Service implements rpcwire.MarketDataServer.
type Service struct {
	Registry  *registry.Registry
	Hub       *hub.Hub
	Upstreams map[types.Feed]Upstream
	Statuses  map[types.Feed]FeedStatusSource

	Logger *slog.Logger

	nextSubscriberID atomic.Uint64
}

func New(reg *registry.Registry, h *hub.Hub) *Service {
	return &Service{
		Registry:  reg,
		Hub:       h,
		Upstreams: make(map[types.Feed]Upstream),
		Statuses:  make(map[types.Feed]FeedStatusSource),
		Logger:    slog.Default().With("component", "proxy"),
	}
}

func (s *Service) newSubscriberID() string {
	n := s.nextSubscriberID.Add(1)
	return fmt.Sprintf("sub-%d", n)
}

// groupByFeed splits a set of registry keys by feed and then by event kind,
// matching the shape internal/session.Session.Subscribe expects for
// dispatching upstream subscribe/unsubscribe calls.
func groupByFeed(keys []registry.Key) map[types.Feed]map[types.EventKind][]string {
	out := make(map[types.Feed]map[types.EventKind][]string)
	for _, k := range keys {
		byKind, ok := out[k.Feed]
		if !ok {
			byKind = make(map[types.EventKind][]string)
			out[k.Feed] = byKind
		}
		byKind[k.Kind] = append(byKind[k.Kind], k.Symbol)
	}
	return out
}

// stream runs one streaming RPC end-to-end per spec §4.8's four steps:
// assign id, acquire, filter-and-send, drop on exit.
func (s *Service) stream(kind types.EventKind, req *rpcwire.SubscribeRequest, out rpcwire.EventSender) error {
	feed := kindToFeed[kind]
	subscriberID := s.newSubscriberID()
	logger := s.Logger.With("subscriber_id", subscriberID, "kind", kind)

	symbolSet := make(map[types.Symbol]bool, len(req.Symbols))
	keys := make([]registry.Key, len(req.Symbols))
	for i, sym := range req.Symbols {
		symbolSet[types.Symbol(sym)] = true
		keys[i] = registry.Key{Feed: feed, Kind: kind, Symbol: sym}
	}

	needSubscribe := s.Registry.Acquire(subscriberID, keys)
	if len(needSubscribe) > 0 {
		if up, ok := s.Upstreams[feed]; ok {
			up.Subscribe(groupByFeed(needSubscribe)[feed], nil)
		}
	}
	defer func() {
		released := s.Registry.DropSubscriber(subscriberID)
		for relFeed, delta := range groupByFeed(released) {
			if up, ok := s.Upstreams[relFeed]; ok {
				up.Subscribe(nil, delta)
			}
		}
		logger.Info("subscriber stream closed")
	}()

	sub := s.Hub.Subscribe(kind)
	defer s.Hub.Unsubscribe(kind, sub)

	ctx := out.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			if len(symbolSet) > 0 && !symbolSet[ev.RoutingSymbol()] {
				continue
			}
			_, payload := rpcwire.FromMarketEvent(ev)
			if payload == nil {
				continue
			}
			if err := out.SendMsg(payload); err != nil {
				return err
			}
		}
	}
}

func (s *Service) StreamQuotes(req *rpcwire.SubscribeRequest, stream rpcwire.EventSender) error {
	return s.stream(types.KindStockQuote, req, stream)
}

func (s *Service) StreamTrades(req *rpcwire.SubscribeRequest, stream rpcwire.EventSender) error {
	return s.stream(types.KindStockTrade, req, stream)
}

func (s *Service) StreamBars(req *rpcwire.SubscribeRequest, stream rpcwire.EventSender) error {
	return s.stream(types.KindStockBar, req, stream)
}

func (s *Service) StreamOptionQuotes(req *rpcwire.SubscribeRequest, stream rpcwire.EventSender) error {
	return s.stream(types.KindOptionQuote, req, stream)
}

func (s *Service) StreamOptionTrades(req *rpcwire.SubscribeRequest, stream rpcwire.EventSender) error {
	return s.stream(types.KindOptionTrade, req, stream)
}

func (s *Service) StreamOrderUpdates(req *rpcwire.SubscribeRequest, stream rpcwire.EventSender) error {
	return s.stream(types.KindOrderUpdate, req, stream)
}

// GetConnectionStatus reports each feed's connection and subscription
// state; it never errors, since a down feed is itself reportable state.
func (s *Service) GetConnectionStatus(ctx context.Context, _ *rpcwire.ConnectionStatusRequest) (*rpcwire.ConnectionStatusResponse, error) {
	resp := &rpcwire.ConnectionStatusResponse{}
	for feed := range feedKinds {
		fs := rpcwire.FeedStatus{Feed: string(feed)}
		if src, ok := s.Statuses[feed]; ok {
			fs.State = src.ConnectionState()
			fs.ReconnectAttempts = src.ReconnectAttempts()
			fs.LastHeartbeat = src.LastHeartbeat()
			fs.LastError = src.LastError()
		}
		fs.SubscribedSymbols = s.Registry.SubscribedSymbolCount(feed)
		resp.Feeds = append(resp.Feeds, fs)
	}
	return resp, nil
}
