package hub

import (
	"testing"

	"github.com/ccheney/cream-trading-backbone/pkg/types"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	t.Parallel()

	h := New(10)
	sub1 := h.Subscribe(types.KindStockTrade)
	sub2 := h.Subscribe(types.KindStockTrade)

	h.Publish(types.KindStockTrade, types.MarketEvent{Kind: types.KindStockTrade})

	for _, sub := range []*Subscriber{sub1, sub2} {
		select {
		case evt := <-sub.C():
			if evt.Seq != 1 {
				t.Fatalf("Seq = %d, want 1", evt.Seq)
			}
		default:
			t.Fatal("subscriber did not receive the published event")
		}
	}
}

func TestPublishSeqMonotonicPerKind(t *testing.T) {
	t.Parallel()

	h := New(10)
	sub := h.Subscribe(types.KindStockQuote)

	for i := 0; i < 5; i++ {
		h.Publish(types.KindStockQuote, types.MarketEvent{Kind: types.KindStockQuote})
	}

	var last uint64
	for i := 0; i < 5; i++ {
		evt := <-sub.C()
		if evt.Seq <= last {
			t.Fatalf("Seq not strictly increasing: got %d after %d", evt.Seq, last)
		}
		last = evt.Seq
	}
}

func TestPublishNeverBlocksOnSlowConsumer(t *testing.T) {
	t.Parallel()

	h := New(2)
	sub := h.Subscribe(types.KindStockTrade)

	// Publish well past capacity; this must not deadlock the test.
	for i := 0; i < 10; i++ {
		h.Publish(types.KindStockTrade, types.MarketEvent{Kind: types.KindStockTrade})
	}

	if sub.Lagged() == 0 {
		t.Fatal("expected Lagged > 0 after overflowing a capacity-2 channel with 10 publishes")
	}

	drained := 0
	for {
		select {
		case <-sub.C():
			drained++
		default:
			goto done
		}
	}
done:
	if drained != 2 {
		t.Fatalf("drained %d events, want exactly capacity (2) buffered", drained)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	h := New(4)
	sub := h.Subscribe(types.KindStockBar)
	h.Unsubscribe(types.KindStockBar, sub)

	_, ok := <-sub.C()
	if ok {
		t.Fatal("expected closed channel after Unsubscribe")
	}
}
