package events

import (
	"strings"
	"sync"
	"sync/atomic"
)

// subscriberBuffer is how many events a slow subscriber may fall behind
// before events are dropped for it.
const subscriberBuffer = 64

// Subscriber receives broadcast events.
type Subscriber chan Event

// Filter selects the events a subscriber receives. A nil Filter accepts all.
type Filter func(Event) bool

// ForChain accepts events whose chain_id field equals chainID.
func ForChain(chainID string) Filter {
	return func(e Event) bool {
		id, _ := e.Fields["chain_id"].(string)
		return id == chainID
	}
}

// WithPrefix accepts events whose name starts with any of the prefixes,
// e.g. "device." or "chain.failed".
func WithPrefix(prefixes ...string) Filter {
	return func(e Event) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(e.Name, p) {
				return true
			}
		}
		return false
	}
}

// All combines filters; nil filters are skipped.
func All(filters ...Filter) Filter {
	return func(e Event) bool {
		for _, f := range filters {
			if f != nil && !f(e) {
				return false
			}
		}
		return true
	}
}

var (
	subsMu  sync.RWMutex
	subs    = make(map[Subscriber]Filter)
	dropped atomic.Int64
)

// Subscribe registers a subscriber for every event.
func Subscribe() Subscriber {
	return SubscribeFiltered(nil)
}

// SubscribeFiltered registers a subscriber for the events f accepts.
func SubscribeFiltered(f Filter) Subscriber {
	ch := make(Subscriber, subscriberBuffer)
	subsMu.Lock()
	subs[ch] = f
	subsMu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Unsubscribing
// twice is a no-op.
func Unsubscribe(sub Subscriber) {
	subsMu.Lock()
	defer subsMu.Unlock()
	if _, ok := subs[sub]; ok {
		delete(subs, sub)
		close(sub)
	}
}

// CloseAllSubscribers closes every subscriber channel. Used on shutdown.
func CloseAllSubscribers() {
	subsMu.Lock()
	defer subsMu.Unlock()
	for sub := range subs {
		close(sub)
	}
	subs = make(map[Subscriber]Filter)
}

// broadcast never blocks Emit: a subscriber with a full buffer misses the event.
func broadcast(e Event) {
	subsMu.RLock()
	defer subsMu.RUnlock()
	for sub, f := range subs {
		if f != nil && !f(e) {
			continue
		}
		select {
		case sub <- e:
		default:
			dropped.Add(1)
		}
	}
}

// SubscriberCount returns the current number of subscribers.
func SubscriberCount() int {
	subsMu.RLock()
	defer subsMu.RUnlock()
	return len(subs)
}

// DroppedCount returns how many deliveries were skipped because a subscriber
// was full.
func DroppedCount() int64 {
	return dropped.Load()
}

// RecentEvents returns the last n buffered events, oldest first. n <= 0
// returns all of them.
func RecentEvents(n int) []Event {
	return buffer.Last(n)
}

// RecentMatching returns up to n of the newest buffered events accepted by f.
func RecentMatching(n int, f Filter) []Event {
	if f == nil {
		return RecentEvents(n)
	}
	out := []Event{}
	for _, e := range buffer.Snapshot() {
		if f(e) {
			out = append(out, e)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}
