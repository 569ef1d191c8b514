// Package registry tracks reference-counted subscriptions keyed by
// (feed, event kind, symbol), per spec §4.6. It owns no transport; it only
// tells internal/proxy when a symbol's refcount crosses 0↔1 so the caller
// can drive upstream subscribe/unsubscribe through internal/session.
// Locking follows the teacher's risk.Manager: a single RWMutex, writes
// serialized, reads lock-free-shaped (RLock).
package registry

import (
	"sync"

	"github.com/ccheney/cream-trading-backbone/pkg/types"
)

// Key identifies one refcounted subscription slot.
type Key struct {
	Feed   types.Feed
	Kind   types.EventKind
	Symbol string
}

// Registry is the refcounted subscription table.
type Registry struct {
	mu    sync.RWMutex
	count map[Key]int
	held  map[string]map[Key]struct{} // subscriber_id -> its own held set
}

func New() *Registry {
	return &Registry{
		count: make(map[Key]int),
		held:  make(map[string]map[Key]struct{}),
	}
}

// Acquire increments the refcount for each key in set on behalf of
// subscriberID and returns the subset whose refcount transitioned 0→1 —
// the keys that need an upstream subscribe.
func (r *Registry) Acquire(subscriberID string, set []Key) []Key {
	r.mu.Lock()
	defer r.mu.Unlock()

	held, ok := r.held[subscriberID]
	if !ok {
		held = make(map[Key]struct{})
		r.held[subscriberID] = held
	}

	var needSubscribe []Key
	for _, k := range set {
		if _, already := held[k]; already {
			continue // idempotent: this subscriber already holds k
		}
		held[k] = struct{}{}
		before := r.count[k]
		r.count[k] = before + 1
		if before == 0 {
			needSubscribe = append(needSubscribe, k)
		}
	}
	return needSubscribe
}

// Release decrements the refcount for each key in set on behalf of
// subscriberID and returns the subset whose refcount transitioned 1→0 —
// the keys that need an upstream unsubscribe.
func (r *Registry) Release(subscriberID string, set []Key) []Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.releaseLocked(subscriberID, set)
}

func (r *Registry) releaseLocked(subscriberID string, set []Key) []Key {
	held, ok := r.held[subscriberID]
	if !ok {
		return nil
	}

	var needUnsubscribe []Key
	for _, k := range set {
		if _, has := held[k]; !has {
			continue
		}
		delete(held, k)
		if r.count[k] > 0 {
			r.count[k]--
		}
		if r.count[k] == 0 {
			needUnsubscribe = append(needUnsubscribe, k)
			delete(r.count, k)
		}
	}
	if len(held) == 0 {
		delete(r.held, subscriberID)
	}
	return needUnsubscribe
}

// DropSubscriber releases everything subscriberID held, as if Release had
// been called with its full held set.
func (r *Registry) DropSubscriber(subscriberID string) []Key {
	r.mu.Lock()
	defer r.mu.Unlock()

	held, ok := r.held[subscriberID]
	if !ok {
		return nil
	}
	all := make([]Key, 0, len(held))
	for k := range held {
		all = append(all, k)
	}
	return r.releaseLocked(subscriberID, all)
}

// RefCount returns the current refcount for k (0 if untracked). For tests
// and the connection-status RPC's subscribed_symbol_count.
func (r *Registry) RefCount(k Key) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count[k]
}

// SubscribedSymbolCount returns the number of distinct keys with a
// positive refcount for feed.
func (r *Registry) SubscribedSymbolCount(feed types.Feed) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for k, c := range r.count {
		if k.Feed == feed && c > 0 {
			n++
		}
	}
	return n
}
