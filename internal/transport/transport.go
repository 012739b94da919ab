// Package transport defines the capability Pulse's connection actor needs
// from whatever bidirectional channel carries frames to a client (spec §9
// "Dynamic dispatch over transports"). The router and connection actor code
// depend only on this interface, never on a concrete transport, so adding
// WebTransport or a raw TCP fallback later needs no change above this
// package.
package transport

import "github.com/tenvisio/pulse/internal/protocol"

// Transport reads and writes whole protocol frames with its own internal
// bounded queuing and deadlines; callers never see partial frames or raw
// bytes.
type Transport interface {
	ReadFrame(maxMessageSize int) (protocol.Frame, error)
	WriteFrame(f protocol.Frame) error
	// WriteEncoded writes an already-encoded frame body without
	// re-serializing it, used on the fanout path where one publish's
	// encoded bytes are shared across many subscribers (spec §4.1, §9
	// "Shared payload ownership").
	WriteEncoded(body []byte) error
	Close() error
	RemoteAddr() string
}
