// Package router implements Pulse's routing and fanout engine: a sharded
// channel registry, copy-on-write subscriber snapshots, and per-subscriber
// bounded broadcast queues (spec §4.2). It depends only on internal/protocol
// and internal/monitoring; internal/connection depends on it, never the
// reverse.
package router

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tenvisio/pulse/internal/monitoring"
	"github.com/tenvisio/pulse/internal/protocol"
)

const defaultShardCount = 32

// Config controls registry sharding and per-channel queue sizing.
type Config struct {
	Shards            int
	MaxChannels       int
	BroadcastQueueLen int
}

// Router is the process-wide channel registry. It never blocks a publish on
// a slow subscriber and never iterates subscribers to resolve a channel —
// publish is a shard lookup plus a snapshot read.
type Router struct {
	shards  []*shard
	cfg     Config
	logger  zerolog.Logger
	chanCnt int64 // atomic: total live channels across all shards

	connMu   sync.RWMutex
	connSubs map[ConnectionID]map[string]struct{} // reverse index for drop_connection
}

// New builds a Router. A zero Config.Shards/BroadcastQueueLen falls back to
// sane defaults.
func New(cfg Config, logger zerolog.Logger) *Router {
	if cfg.Shards <= 0 {
		cfg.Shards = defaultShardCount
	}
	if cfg.BroadcastQueueLen <= 0 {
		cfg.BroadcastQueueLen = 1024
	}

	r := &Router{
		shards:   make([]*shard, cfg.Shards),
		cfg:      cfg,
		logger:   logger.With().Str("component", "router").Logger(),
		connSubs: make(map[ConnectionID]map[string]struct{}),
	}
	for i := range r.shards {
		r.shards[i] = newShard()
	}
	return r
}

func (r *Router) shardFor(channel string) *shard {
	return r.shards[shardIndex(channel, len(r.shards))]
}

// Subscribe validates channel and registers connID as a subscriber,
// returning its receive handle. Creates the channel on first subscribe.
func (r *Router) Subscribe(channel string, connID ConnectionID) (*Subscription, error) {
	if err := protocol.ValidateChannelName(channel); err != nil {
		return nil, err
	}

	sh := r.shardFor(channel)
	ch, created := sh.getOrCreate(channel)
	if created {
		n := atomic.AddInt64(&r.chanCnt, 1)
		if r.cfg.MaxChannels > 0 && n > int64(r.cfg.MaxChannels) {
			atomic.AddInt64(&r.chanCnt, -1)
			sh.removeIfEmpty(channel)
			return nil, &protocol.Error{Code: protocol.ErrServerError, Message: "max_channels exceeded"}
		}
		monitoring.ChannelsActive.Inc()
	}

	if ch.has(connID) {
		return nil, &protocol.Error{Code: protocol.ErrAlreadySubscribed, Message: "already subscribed to " + channel}
	}

	sub := &Subscription{
		ConnID:  connID,
		Channel: channel,
		Ch:      make(chan *Delivery, r.cfg.BroadcastQueueLen),
		Lag:     make(chan uint64, 1),
	}
	ch.add(sub)
	monitoring.SubscriptionsActive.Inc()

	r.connMu.Lock()
	set, ok := r.connSubs[connID]
	if !ok {
		set = make(map[string]struct{})
		r.connSubs[connID] = set
	}
	set[channel] = struct{}{}
	r.connMu.Unlock()

	if ch.presence != nil {
		ch.presence.set(connID, nil)
		r.fanoutPresence(ch, connID, protocol.PresenceJoin, nil, connID)
	}

	return sub, nil
}

// Unsubscribe removes connID from channel, closing its receive handle. If
// the channel's subscriber set becomes empty it is removed from the
// registry.
func (r *Router) Unsubscribe(channel string, connID ConnectionID) error {
	sh := r.shardFor(channel)
	ch := sh.get(channel)
	if ch == nil || !ch.has(connID) {
		return &protocol.Error{Code: protocol.ErrNotSubscribed, Message: "not subscribed to " + channel}
	}

	remaining := ch.remove(connID)
	monitoring.SubscriptionsActive.Dec()

	r.connMu.Lock()
	if set, ok := r.connSubs[connID]; ok {
		delete(set, channel)
		if len(set) == 0 {
			delete(r.connSubs, connID)
		}
	}
	r.connMu.Unlock()

	if ch.presence != nil {
		ch.presence.remove(connID)
		r.fanoutPresence(ch, connID, protocol.PresenceLeave, nil, "")
	}

	if remaining == 0 {
		sh.removeIfEmpty(channel)
		atomic.AddInt64(&r.chanCnt, -1)
		monitoring.ChannelsActive.Dec()
	}

	return nil
}

// Publish validates payload size and delivers it to every current
// subscriber of channel by reference. It returns the number of subscribers
// notified (0 if the channel has none or does not exist); this is not an
// error, per spec §4.2.
func (r *Router) Publish(channel string, payload []byte, event string, maxMessageSize int) (int, error) {
	if err := protocol.ValidateChannelName(channel); err != nil {
		return 0, err
	}
	if maxMessageSize > 0 && len(payload) > maxMessageSize {
		return 0, &protocol.Error{Code: protocol.ErrPayloadTooLarge, Message: "payload exceeds max_message_size"}
	}

	ch := r.shardFor(channel).get(channel)
	if ch == nil {
		return 0, nil
	}

	frame := protocol.NewPublish(0, channel, payload, event)
	encoded, err := protocol.Encode(frame)
	if err != nil {
		return 0, &protocol.Error{Code: protocol.ErrServerError, Message: "encode failed: " + err.Error()}
	}

	notified, lagged := ch.broadcast(&Delivery{Frame: frame, Encoded: encoded, EnqueuedAt: time.Now()})
	monitoring.PublishesTotal.Inc()
	if lagged > 0 {
		r.logger.Warn().Str("channel", channel).Int("lagged", lagged).Msg("subscribers lagging on publish")
	}
	return notified, nil
}

// PresenceUpdate replaces connID's stored presence data on channel and fans
// out a Presence{action: update} frame to every subscriber (spec §4.2).
// Valid only on presence:* channels.
func (r *Router) PresenceUpdate(channel string, connID ConnectionID, data map[string]any) error {
	ch := r.shardFor(channel).get(channel)
	if ch == nil || ch.presence == nil {
		return &protocol.Error{Code: protocol.ErrInvalidChannel, Message: "not a presence channel"}
	}
	if !ch.has(connID) {
		return &protocol.Error{Code: protocol.ErrNotSubscribed, Message: "not subscribed to " + channel}
	}

	ch.presence.set(connID, data)
	r.fanoutPresence(ch, connID, protocol.PresenceUpdate, data, "")
	return nil
}

// Sync returns the full presence roster for channel, for the sync frame
// sent to a newly subscribed connection.
func (r *Router) Sync(channel string) map[string]any {
	ch := r.shardFor(channel).get(channel)
	if ch == nil || ch.presence == nil {
		return nil
	}
	return ch.presence.snapshot()
}

// DropConnection removes connID from every channel it holds a subscription
// on, closing each receive handle and emitting presence leave events where
// applicable. Safe to call more than once for the same id.
func (r *Router) DropConnection(connID ConnectionID) {
	r.connMu.Lock()
	set := r.connSubs[connID]
	delete(r.connSubs, connID)
	r.connMu.Unlock()

	for channel := range set {
		_ = r.Unsubscribe(channel, connID)
	}
}

// ChannelCount returns the number of live channels, for diagnostics.
func (r *Router) ChannelCount() int {
	return int(atomic.LoadInt64(&r.chanCnt))
}

func (r *Router) fanoutPresence(ch *channelState, subject ConnectionID, action protocol.PresenceAction, data map[string]any, skip ConnectionID) {
	presenceData := data
	if presenceData == nil {
		presenceData = map[string]any{"connection_id": string(subject)}
	}
	frame := protocol.NewPresence(0, ch.name, action, presenceData)
	encoded, err := protocol.Encode(frame)
	if err != nil {
		r.logger.Error().Err(err).Str("channel", ch.name).Msg("failed to encode presence frame")
		return
	}
	item := &Delivery{Frame: frame, Encoded: encoded, EnqueuedAt: time.Now()}

	for _, sub := range ch.snapshot() {
		if sub.ConnID == skip {
			continue
		}
		select {
		case sub.Ch <- item:
		default:
			atomic.AddUint64(&sub.lagCount, 1)
		}
	}
}
