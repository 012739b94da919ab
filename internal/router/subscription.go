package router

import (
	"time"

	"github.com/tenvisio/pulse/internal/protocol"
)

// ConnectionID identifies a connection actor to the router. The router never
// holds a reference to a connection itself, only this opaque id and the
// channel endpoints of a Subscription, keeping the dependency one-directional
// (connection imports router, never the reverse).
type ConnectionID string

// Delivery is one fanned-out item. Encoded is the pre-serialized frame body
// (the MessagePack map as protocol.Encode returns it, with no length prefix)
// shared by reference across every subscriber a publish
// reaches; a connection's fanout task writes it to its transport without
// re-encoding.
type Delivery struct {
	Frame   protocol.Frame
	Encoded []byte

	// EnqueuedAt is stamped once, at publish acceptance, and shared by
	// reference across every subscriber; a connection's fanout task samples
	// the delay since this time when it dequeues the delivery.
	EnqueuedAt time.Time
}

// Subscription is the receive handle a connection holds for one channel. The
// router owns delivery (sends into Ch); the connection actor owns draining
// it. Ch is closed only by the router, on unsubscribe or drop_connection.
type Subscription struct {
	ConnID  ConnectionID
	Channel string
	Ch      chan *Delivery

	// Lag carries a best-effort notice when Ch could not accept a delivery
	// because it was full (spec: a lagged subscriber is surfaced to its
	// connection as an error, never silently dropped by the router). Only
	// the latest lag count matters, so sends are non-blocking and a full
	// Lag channel just means the prior notice hasn't been read yet.
	Lag chan uint64

	lagCount uint64
}
