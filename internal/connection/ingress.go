package connection

import (
	"errors"
	"io"
	"time"

	"github.com/tenvisio/pulse/internal/monitoring"
	"github.com/tenvisio/pulse/internal/protocol"
)

// ingressLoop reads frames from the transport in receive order and
// dispatches each to the router, replying with Ack or Error as spec §5
// describes. It returns when the transport closes or a fatal protocol
// error occurs.
func (c *Connection) ingressLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		frame, err := c.trans.ReadFrame(c.cfg.MaxMessageSize)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Debug().Err(err).Msg("read error")
			}
			return
		}
		if frame.Kind == 0 {
			continue // WS ping/pong the transport already answered; no frame decoded
		}

		c.lastRecvNanos.Store(time.Now().UnixNano())
		monitoring.MessagesReceived.Inc()

		if !c.dispatch(frame) {
			return
		}
	}
}

// dispatch handles one decoded frame. It returns false if the connection
// must close (a fatal protocol error).
func (c *Connection) dispatch(frame protocol.Frame) bool {
	switch frame.Kind {
	case protocol.KindSubscribe:
		c.handleSubscribe(frame)
	case protocol.KindUnsubscribe:
		c.handleUnsubscribe(frame)
	case protocol.KindPublish:
		c.handlePublish(frame)
	case protocol.KindPresence:
		c.handlePresence(frame)
	case protocol.KindPing:
		c.enqueue(protocol.NewPong(frame.Timestamp))
	case protocol.KindPong:
		// last-activity timestamp already updated above; nothing else to do.
	case protocol.KindConnect:
		c.sendError(0, protocol.ErrProtocolMismatch, "already connected")
	default:
		c.logger.Warn().Str("kind", frame.Kind.String()).Msg("unexpected frame after handshake")
		c.sendError(0, protocol.ErrInvalidFrame, "unexpected frame kind")
		return false
	}
	return true
}

func (c *Connection) handleSubscribe(f protocol.Frame) {
	c.subsMu.Lock()
	if _, exists := c.subs[f.Channel]; exists {
		c.subsMu.Unlock()
		c.sendError(f.ID, protocol.ErrAlreadySubscribed, "already subscribed to "+f.Channel)
		return
	}
	if len(c.subs) >= c.cfg.MaxSubscriptionsPerConn {
		c.subsMu.Unlock()
		c.sendError(f.ID, protocol.ErrRateLimited, "max_subscriptions_per_connection exceeded")
		return
	}
	c.subsMu.Unlock()

	sub, err := c.router.Subscribe(f.Channel, c.id)
	if err != nil {
		c.sendProtocolError(f.ID, err)
		return
	}

	c.subsMu.Lock()
	c.subs[f.Channel] = sub
	c.subsMu.Unlock()

	go c.forward(sub)

	c.enqueue(protocol.NewAck(f.ID))

	if protocol.IsPresenceChannel(f.Channel) {
		roster := c.router.Sync(f.Channel)
		c.enqueue(protocol.NewPresence(0, f.Channel, protocol.PresenceSync, roster))
	}
}

func (c *Connection) handleUnsubscribe(f protocol.Frame) {
	c.subsMu.Lock()
	_, exists := c.subs[f.Channel]
	if exists {
		delete(c.subs, f.Channel)
	}
	c.subsMu.Unlock()

	if !exists {
		c.sendError(f.ID, protocol.ErrNotSubscribed, "not subscribed to "+f.Channel)
		return
	}

	if err := c.router.Unsubscribe(f.Channel, c.id); err != nil {
		c.sendProtocolError(f.ID, err)
		return
	}
	c.enqueue(protocol.NewAck(f.ID))
}

func (c *Connection) handlePublish(f protocol.Frame) {
	if _, err := c.router.Publish(f.Channel, f.Payload, f.Event, c.cfg.MaxMessageSize); err != nil {
		c.sendProtocolError(f.ID, err)
		return
	}
	if f.ID != 0 {
		c.enqueue(protocol.NewAck(f.ID))
	}
}

func (c *Connection) handlePresence(f protocol.Frame) {
	if f.Action != protocol.PresenceUpdate {
		c.sendError(f.ID, protocol.ErrInvalidFrame, "clients may only send presence update frames")
		return
	}
	if err := c.router.PresenceUpdate(f.Channel, c.id, f.Data); err != nil {
		c.sendProtocolError(f.ID, err)
		return
	}
	if f.ID != 0 {
		c.enqueue(protocol.NewAck(f.ID))
	}
}

func (c *Connection) sendError(id uint64, code protocol.ErrorCode, message string) {
	c.enqueue(protocol.NewError(id, code, message))
}

// sendProtocolError translates a router failure into a wire Error frame,
// closing the connection if the error class is fatal (spec §7).
func (c *Connection) sendProtocolError(id uint64, err error) {
	perr, ok := err.(*protocol.Error)
	if !ok {
		c.sendError(id, protocol.ErrServerError, err.Error())
		return
	}
	c.enqueue(perr.AsFrame(id))
	if perr.Fatal() {
		go c.Close("fatal protocol error: " + perr.Error())
	}
}
