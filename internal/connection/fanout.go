package connection

import (
	"time"

	"github.com/tenvisio/pulse/internal/monitoring"
	"github.com/tenvisio/pulse/internal/protocol"
	"github.com/tenvisio/pulse/internal/router"
)

// forward pumps one subscription's receive handle into the connection's
// shared fan-in channel, so fanoutLoop can multiplex an arbitrary number of
// subscriptions onto the single outbound writer (spec §5 "Fanout task:
// awaiting next broadcast item on each receive handle (multiplexed)"). It
// exits when the router closes the subscription's channels on unsubscribe
// or drop_connection, or when the connection itself closes.
func (c *Connection) forward(sub *router.Subscription) {
	for {
		select {
		case item, ok := <-sub.Ch:
			if !ok {
				return
			}
			select {
			case c.fanIn <- fanoutItem{channel: sub.Channel, item: item}:
			case <-c.done:
				return
			}
		case n, ok := <-sub.Lag:
			if !ok {
				continue
			}
			select {
			case c.fanIn <- fanoutItem{channel: sub.Channel, lag: n}:
			case <-c.done:
				return
			}
		case <-c.done:
			return
		}
	}
}

// fanoutLoop drains the fan-in channel and writes each delivery's
// pre-encoded bytes straight to the outbound writer, or surfaces a lag
// notice as a RateLimited error per spec §4.2's slow-subscriber policy.
func (c *Connection) fanoutLoop() {
	for {
		select {
		case fi := <-c.fanIn:
			if fi.item != nil {
				if !fi.item.EnqueuedAt.IsZero() {
					monitoring.DeliveryLatencySeconds.Observe(time.Since(fi.item.EnqueuedAt).Seconds())
				}
				c.enqueueEncoded(fi.item.Encoded)
				continue
			}
			if fi.lag > 0 {
				c.sendError(0, protocol.ErrRateLimited, "lagging on channel "+fi.channel)
			}
		case <-c.done:
			return
		}
	}
}
