// Package connection implements Pulse's per-connection actor: the
// Awaiting-Connect -> Active -> Closing state machine that owns one
// transport, dispatches decoded frames to the router, and multiplexes
// fanout deliveries and heartbeats onto one outbound writer (spec §5).
package connection

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tenvisio/pulse/internal/config"
	"github.com/tenvisio/pulse/internal/monitoring"
	"github.com/tenvisio/pulse/internal/protocol"
	"github.com/tenvisio/pulse/internal/router"
	"github.com/tenvisio/pulse/internal/transport"
)

// fanoutItem is what a per-subscription forwarder goroutine hands to the
// fanout multiplexer (see fanout.go).
type fanoutItem struct {
	channel string
	item    *router.Delivery
	lag     uint64
}

// Connection is one client's actor. Run owns the actor's goroutines for its
// entire lifetime; State and Close may be called from any goroutine while
// Run is active.
type Connection struct {
	id     router.ConnectionID
	trans  transport.Transport
	router *router.Router
	cfg    *config.Config
	logger zerolog.Logger

	state atomic.Int32

	subsMu sync.Mutex
	subs   map[string]*router.Subscription

	fanIn    chan fanoutItem
	outbound chan []byte

	lastRecvNanos atomic.Int64
	lastSentNanos atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// New constructs a Connection in StateAwaitingConnect. id must be unique for
// the lifetime of the process (the caller, typically internal/server,
// assigns it).
func New(id router.ConnectionID, t transport.Transport, rt *router.Router, cfg *config.Config, logger zerolog.Logger) *Connection {
	c := &Connection{
		id:       id,
		trans:    t,
		router:   rt,
		cfg:      cfg,
		logger:   logger.With().Str("connection_id", string(id)).Logger(),
		subs:     make(map[string]*router.Subscription),
		fanIn:    make(chan fanoutItem, cfg.OutboundQueueDepth),
		outbound: make(chan []byte, cfg.OutboundQueueDepth),
		done:     make(chan struct{}),
	}
	c.state.Store(int32(StateAwaitingConnect))
	return c
}

func (c *Connection) State() State {
	return State(c.state.Load())
}

// Run drives the actor to completion: it blocks until the connection
// closes, either because the client disconnected, a fatal protocol error
// occurred, ctx was cancelled, or the server asked it to close. Run always
// notifies the router before returning, so no caller-side cleanup is
// required.
func (c *Connection) Run(ctx context.Context) {
	defer monitoring.RecoverPanic(c.logger, "connection.Run", map[string]any{"connection_id": string(c.id)})
	defer c.Close("actor returned")

	go func(parent context.Context) {
		select {
		case <-parent.Done():
			c.Close("context cancelled")
		case <-c.done:
		}
	}(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !c.handshake() {
		return
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		defer monitoring.RecoverPanic(c.logger, "connection.writer", nil)
		c.writeLoop()
	}()
	go func() {
		defer wg.Done()
		defer monitoring.RecoverPanic(c.logger, "connection.fanout", nil)
		c.fanoutLoop()
	}()
	go func() {
		defer wg.Done()
		defer monitoring.RecoverPanic(c.logger, "connection.heartbeat", nil)
		c.heartbeatLoop(ctx)
	}()

	c.ingressLoop() // blocks the calling goroutine until the connection ends

	c.Close("read loop ended")
	cancel()
	wg.Wait()
}

// handshake reads the mandatory Connect frame and replies Connected. A
// malformed or mismatched handshake is fatal (spec §5 edge cases).
func (c *Connection) handshake() bool {
	frame, err := c.trans.ReadFrame(c.cfg.MaxMessageSize)
	if err != nil {
		c.logger.Debug().Err(err).Msg("handshake read failed")
		return false
	}
	if frame.Kind != protocol.KindConnect {
		c.logger.Warn().Str("kind", frame.Kind.String()).Msg("expected connect frame")
		_ = c.trans.WriteFrame((&protocol.Error{Code: protocol.ErrInvalidFrame, Message: "expected connect frame"}).AsFrame(0))
		return false
	}
	if frame.Version != c.cfg.ProtocolVersion {
		c.logger.Warn().Uint8("version", frame.Version).Msg("protocol version mismatch")
		_ = c.trans.WriteFrame((&protocol.Error{Code: protocol.ErrProtocolMismatch, Message: "unsupported protocol version"}).AsFrame(0))
		return false
	}

	c.state.Store(int32(StateActive))
	now := time.Now().UnixNano()
	c.lastRecvNanos.Store(now)
	c.lastSentNanos.Store(now)

	heartbeatMs := uint32(c.cfg.HeartbeatIntervalMs)
	if err := c.trans.WriteFrame(protocol.NewConnected(string(c.id), c.cfg.ProtocolVersion, heartbeatMs)); err != nil {
		c.logger.Debug().Err(err).Msg("failed to send connected frame")
		return false
	}

	monitoring.ConnectionsTotal.Inc()
	monitoring.ConnectionsActive.Inc()
	return true
}

// writeLoop is the single outbound writer: every frame bound for the
// client, from acks to fanout deliveries to pings, passes through here so
// the transport only ever sees one writer (spec §5 "one outbound writer").
func (c *Connection) writeLoop() {
	for {
		select {
		case body := <-c.outbound:
			if err := c.trans.WriteEncoded(body); err != nil {
				c.logger.Debug().Err(err).Msg("write failed")
				go c.Close("write error")
				return
			}
			monitoring.MessagesSent.Inc()
			monitoring.BytesSent.Add(float64(len(body)))
		case <-c.done:
			return
		}
	}
}

// enqueue encodes f and hands it to the writer. A full outbound queue
// closes the connection per spec §7 ("Outbound queue full: connection
// closes; router cleanup runs").
func (c *Connection) enqueue(f protocol.Frame) {
	body, err := protocol.Encode(f)
	if err != nil {
		c.logger.Error().Err(err).Str("kind", f.Kind.String()).Msg("failed to encode outbound frame")
		return
	}
	c.enqueueEncoded(body)
}

func (c *Connection) enqueueEncoded(body []byte) {
	select {
	case c.outbound <- body:
		c.lastSentNanos.Store(time.Now().UnixNano())
	case <-c.done:
	default:
		c.logger.Warn().Msg("outbound queue full, closing connection")
		go c.Close("outbound queue full")
	}
}

// Close transitions the actor to StateClosing, notifies the router, and
// releases the transport. Safe to call more than once and from any
// goroutine.
func (c *Connection) Close(reason string) {
	c.closeOnce.Do(func() {
		wasActive := State(c.state.Swap(int32(StateClosing))) == StateActive
		close(c.done)
		c.router.DropConnection(c.id)
		_ = c.trans.Close()
		if wasActive {
			monitoring.ConnectionsActive.Dec()
		}
		monitoring.RecordDisconnect(reason)
		c.logger.Info().Str("reason", reason).Msg("connection closed")
	})
}
