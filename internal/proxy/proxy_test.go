package proxy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ccheney/cream-trading-backbone/internal/hub"
	"github.com/ccheney/cream-trading-backbone/internal/registry"
	"github.com/ccheney/cream-trading-backbone/pkg/rpcwire"
	"github.com/ccheney/cream-trading-backbone/pkg/types"
)

type fakeUpstream struct {
	mu   sync.Mutex
	adds [][]string
	rems [][]string
}

func (f *fakeUpstream) Subscribe(add, remove map[types.EventKind][]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, syms := range add {
		f.adds = append(f.adds, syms)
	}
	for _, syms := range remove {
		f.rems = append(f.rems, syms)
	}
}

type fakeStream struct {
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	received []any
	done     chan struct{}
	wantN    int
}

func newFakeStream(wantN int) *fakeStream {
	ctx, cancel := context.WithCancel(context.Background())
	return &fakeStream{ctx: ctx, cancel: cancel, done: make(chan struct{}), wantN: wantN}
}

func (f *fakeStream) Context() context.Context { return f.ctx }

func (f *fakeStream) SendMsg(m any) error {
	f.mu.Lock()
	f.received = append(f.received, m)
	n := len(f.received)
	f.mu.Unlock()
	if n >= f.wantN {
		select {
		case <-f.done:
		default:
			close(f.done)
		}
	}
	return nil
}

func TestStreamQuotesFiltersBySymbolAndAcquiresUpstream(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	h := hub.New(16)
	svc := New(reg, h)
	up := &fakeUpstream{}
	svc.Upstreams[types.FeedStock] = up

	stream := newFakeStream(1)
	go func() {
		_ = svc.StreamQuotes(&rpcwire.SubscribeRequest{Symbols: []string{"AAPL"}}, stream)
	}()

	// Give the stream goroutine a moment to register with the hub before
	// publishing, since Subscribe must happen before Publish to observe it.
	time.Sleep(20 * time.Millisecond)

	h.Publish(types.KindStockQuote, types.MarketEvent{
		Kind:   types.KindStockQuote,
		Source: types.FeedStock,
		StockQuote: &types.StockQuote{Symbol: "MSFT", Bid: decimal.NewFromInt(1), Ask: decimal.NewFromInt(2)},
	})
	h.Publish(types.KindStockQuote, types.MarketEvent{
		Kind:   types.KindStockQuote,
		Source: types.FeedStock,
		StockQuote: &types.StockQuote{Symbol: "AAPL", Bid: decimal.NewFromInt(10), Ask: decimal.NewFromInt(11)},
	})

	select {
	case <-stream.done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for filtered AAPL quote")
	}

	stream.mu.Lock()
	n := len(stream.received)
	stream.mu.Unlock()
	if n != 1 {
		t.Fatalf("received %d events, want exactly 1 (MSFT should have been filtered out)", n)
	}

	up.mu.Lock()
	defer up.mu.Unlock()
	if len(up.adds) != 1 || up.adds[0][0] != "AAPL" {
		t.Fatalf("unexpected upstream subscribe calls: %+v", up.adds)
	}

	stream.cancel()
}

func TestStreamDropSubscriberReleasesUpstream(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	h := hub.New(16)
	svc := New(reg, h)
	up := &fakeUpstream{}
	svc.Upstreams[types.FeedStock] = up

	stream := newFakeStream(0)
	done := make(chan struct{})
	go func() {
		_ = svc.StreamQuotes(&rpcwire.SubscribeRequest{Symbols: []string{"AAPL"}}, stream)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if reg.SubscribedSymbolCount(types.FeedStock) != 1 {
		t.Fatalf("expected 1 subscribed symbol before cancel")
	}

	stream.cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stream to exit on cancel")
	}

	if reg.SubscribedSymbolCount(types.FeedStock) != 0 {
		t.Fatalf("expected registry released after drop_subscriber, got %d", reg.SubscribedSymbolCount(types.FeedStock))
	}
	up.mu.Lock()
	defer up.mu.Unlock()
	if len(up.rems) != 1 || up.rems[0][0] != "AAPL" {
		t.Fatalf("unexpected upstream unsubscribe calls: %+v", up.rems)
	}
}

func TestGetConnectionStatusReportsSubscribedSymbolCount(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	h := hub.New(16)
	svc := New(reg, h)
	reg.Acquire("sub-x", []registry.Key{{Feed: types.FeedStock, Kind: types.KindStockQuote, Symbol: "AAPL"}})

	resp, err := svc.GetConnectionStatus(context.Background(), &rpcwire.ConnectionStatusRequest{})
	if err != nil {
		t.Fatalf("GetConnectionStatus: %v", err)
	}
	found := false
	for _, fs := range resp.Feeds {
		if fs.Feed == string(types.FeedStock) {
			found = true
			if fs.SubscribedSymbols != 1 {
				t.Fatalf("SubscribedSymbols = %d, want 1", fs.SubscribedSymbols)
			}
		}
	}
	if !found {
		t.Fatal("stock feed missing from connection status response")
	}
}
