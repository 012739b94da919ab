package router

import (
	"sync"
	"sync/atomic"

	"github.com/tenvisio/pulse/internal/protocol"
)

// channelState is one entry in the registry: a channel's subscriber set and,
// for presence:* channels, its roster. Subscriber membership is held as a
// copy-on-write snapshot (atomic.Value over an immutable slice) so publish
// — the hot path — never takes a lock to read it; only subscribe/unsubscribe
// pay for a copy and a mutex (spec §4.2 "sharded for lock-free concurrent
// reads").
type channelState struct {
	name string

	mu   sync.Mutex // serializes subscriber-list mutation, not reads
	subs atomic.Value

	presence *presenceRoster // nil unless protocol.IsPresenceChannel(name)
}

func newChannelState(name string) *channelState {
	c := &channelState{name: name}
	c.subs.Store([]*Subscription(nil))
	if protocol.IsPresenceChannel(name) {
		c.presence = newPresenceRoster()
	}
	return c
}

func (c *channelState) snapshot() []*Subscription {
	v := c.subs.Load()
	if v == nil {
		return nil
	}
	return v.([]*Subscription)
}

// add appends sub to the snapshot and returns the resulting subscriber
// count. Thread-safe via mu; readers never block on it.
func (c *channelState) add(sub *Subscription) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.snapshot()
	next := make([]*Subscription, len(current)+1)
	copy(next, current)
	next[len(current)] = sub
	c.subs.Store(next)
	return len(next)
}

// remove drops the subscription belonging to connID and returns the
// resulting subscriber count (-1 if connID was not present).
func (c *channelState) remove(connID ConnectionID) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.snapshot()
	idx := -1
	for i, s := range current {
		if s.ConnID == connID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return -1
	}

	next := make([]*Subscription, 0, len(current)-1)
	next = append(next, current[:idx]...)
	next = append(next, current[idx+1:]...)
	c.subs.Store(next)

	// The router is the only sender on these channels, so it alone may
	// close them; the connection actor's forwarding goroutine for this
	// subscription exits on the resulting closed-channel read.
	removed := current[idx]
	close(removed.Ch)
	close(removed.Lag)
	return len(next)
}

func (c *channelState) has(connID ConnectionID) bool {
	for _, s := range c.snapshot() {
		if s.ConnID == connID {
			return true
		}
	}
	return false
}

// broadcast delivers item to every current subscriber by a non-blocking send
// into each one's receive handle. A full handle means that subscriber is
// lagging; it is signalled, never dropped here (spec §4.2 slow-subscriber
// policy: the router marks, the connection actor decides).
func (c *channelState) broadcast(item *Delivery) (notified int, lagged int) {
	for _, s := range c.snapshot() {
		select {
		case s.Ch <- item:
			notified++
		default:
			lagged++
			n := atomic.AddUint64(&s.lagCount, 1)
			select {
			case s.Lag <- n:
			default:
			}
		}
	}
	return notified, lagged
}
