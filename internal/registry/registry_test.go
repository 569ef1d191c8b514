package registry

import (
	"testing"

	"github.com/ccheney/cream-trading-backbone/pkg/types"
)

func TestAcquireReturnsOnlyZeroToOneTransitions(t *testing.T) {
	t.Parallel()

	r := New()
	k := Key{Feed: types.FeedStock, Kind: types.KindStockQuote, Symbol: "AAPL"}

	need := r.Acquire("sub-1", []Key{k})
	if len(need) != 1 || need[0] != k {
		t.Fatalf("first Acquire should need upstream subscribe, got %v", need)
	}

	need = r.Acquire("sub-2", []Key{k})
	if len(need) != 0 {
		t.Fatalf("second Acquire on an already-refcounted key should not need subscribe, got %v", need)
	}

	if got := r.RefCount(k); got != 2 {
		t.Fatalf("RefCount = %d, want 2", got)
	}
}

func TestReleaseReturnsOnlyOneToZeroTransitions(t *testing.T) {
	t.Parallel()

	r := New()
	k := Key{Feed: types.FeedStock, Kind: types.KindStockQuote, Symbol: "AAPL"}
	r.Acquire("sub-1", []Key{k})
	r.Acquire("sub-2", []Key{k})

	need := r.Release("sub-1", []Key{k})
	if len(need) != 0 {
		t.Fatalf("Release with refcount still positive should not need unsubscribe, got %v", need)
	}

	need = r.Release("sub-2", []Key{k})
	if len(need) != 1 || need[0] != k {
		t.Fatalf("Release dropping refcount to zero should need unsubscribe, got %v", need)
	}
	if got := r.RefCount(k); got != 0 {
		t.Fatalf("RefCount = %d, want 0", got)
	}
}

func TestRefcountNeverNegative(t *testing.T) {
	t.Parallel()

	r := New()
	k := Key{Feed: types.FeedStock, Kind: types.KindStockQuote, Symbol: "AAPL"}

	// Releasing a key never acquired must be a no-op, not go negative.
	need := r.Release("sub-1", []Key{k})
	if len(need) != 0 {
		t.Fatalf("Release of unheld key returned %v, want none", need)
	}
	if got := r.RefCount(k); got != 0 {
		t.Fatalf("RefCount = %d, want 0", got)
	}
}

func TestDropSubscriberReleasesExactlyHeldSet(t *testing.T) {
	t.Parallel()

	r := New()
	k1 := Key{Feed: types.FeedStock, Kind: types.KindStockQuote, Symbol: "AAPL"}
	k2 := Key{Feed: types.FeedStock, Kind: types.KindStockTrade, Symbol: "MSFT"}

	r.Acquire("sub-1", []Key{k1, k2})
	r.Acquire("sub-2", []Key{k1}) // sub-2 also holds k1

	need := r.DropSubscriber("sub-1")
	if len(need) != 1 || need[0] != k2 {
		t.Fatalf("DropSubscriber = %v, want only k2 (k1 still held by sub-2)", need)
	}
	if got := r.RefCount(k1); got != 1 {
		t.Fatalf("RefCount(k1) = %d, want 1 (sub-2 still holds it)", got)
	}

	// Dropping again is a no-op.
	need = r.DropSubscriber("sub-1")
	if len(need) != 0 {
		t.Fatalf("second DropSubscriber = %v, want none", need)
	}
}

func TestSubscribedSymbolCount(t *testing.T) {
	t.Parallel()

	r := New()
	r.Acquire("sub-1", []Key{
		{Feed: types.FeedStock, Kind: types.KindStockQuote, Symbol: "AAPL"},
		{Feed: types.FeedStock, Kind: types.KindStockTrade, Symbol: "MSFT"},
		{Feed: types.FeedOption, Kind: types.KindOptionQuote, Symbol: "AAPL240119C00190000"},
	})

	if got := r.SubscribedSymbolCount(types.FeedStock); got != 2 {
		t.Fatalf("SubscribedSymbolCount(stock) = %d, want 2", got)
	}
	if got := r.SubscribedSymbolCount(types.FeedOption); got != 1 {
		t.Fatalf("SubscribedSymbolCount(option) = %d, want 1", got)
	}
}
