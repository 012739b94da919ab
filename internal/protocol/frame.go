// Package protocol implements Pulse's wire protocol: a 4-byte big-endian
// length prefix followed by a MessagePack-encoded frame map (spec §4.1, §6).
package protocol

import "fmt"

// Kind identifies a frame's variant. Values match the wire "type" field.
type Kind uint8

const (
	KindSubscribe   Kind = 0x01
	KindUnsubscribe Kind = 0x02
	KindPublish     Kind = 0x03
	KindPresence    Kind = 0x04
	KindAck         Kind = 0x05
	KindError       Kind = 0x06
	KindPing        Kind = 0x07
	KindPong        Kind = 0x08
	KindConnect     Kind = 0x09
	KindConnected   Kind = 0x0A
)

var kindNames = map[Kind]string{
	KindSubscribe:   "subscribe",
	KindUnsubscribe: "unsubscribe",
	KindPublish:     "publish",
	KindPresence:    "presence",
	KindAck:         "ack",
	KindError:       "error",
	KindPing:        "ping",
	KindPong:        "pong",
	KindConnect:     "connect",
	KindConnected:   "connected",
}

// String returns the frame kind's lowercase name, or "unknown(0xNN)".
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%02X)", uint8(k))
}

// Valid reports whether k is one of the ten closed frame kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// PresenceAction is the Presence frame's action field.
type PresenceAction uint8

const (
	PresenceJoin   PresenceAction = 0
	PresenceLeave  PresenceAction = 1
	PresenceUpdate PresenceAction = 2
	PresenceSync   PresenceAction = 3
)

// ErrorCode enumerates the closed set of wire error codes (spec §6).
type ErrorCode uint16

const (
	ErrUnknownError      ErrorCode = 1000
	ErrInvalidFrame      ErrorCode = 1001
	ErrInvalidChannel    ErrorCode = 1002
	ErrUnauthorized      ErrorCode = 1003
	ErrForbidden         ErrorCode = 1004
	ErrChannelNotFound   ErrorCode = 1005
	ErrRateLimited       ErrorCode = 1006
	ErrPayloadTooLarge   ErrorCode = 1007
	ErrNotSubscribed     ErrorCode = 1008
	ErrAlreadySubscribed ErrorCode = 1009
	ErrConnectionClosed  ErrorCode = 1010
	ErrServerError       ErrorCode = 1011
	ErrProtocolMismatch  ErrorCode = 1012
)

// Frame is the decoded form of a single wire message. Only the fields
// relevant to Kind are populated; others are left at their zero value.
type Frame struct {
	Kind Kind

	// Connect / Connected
	Version      uint8
	Token        string
	ConnectionID string
	Heartbeat    uint32

	// Subscribe / Unsubscribe / Publish / Presence
	ID      uint64
	Channel string

	// Publish
	Payload []byte
	Event   string

	// Presence
	Action PresenceAction
	Data   map[string]any

	// Error
	Code    ErrorCode
	Message string

	// Ping / Pong
	Timestamp uint64
}

// NewSubscribe builds a Subscribe frame.
func NewSubscribe(id uint64, channel string) Frame {
	return Frame{Kind: KindSubscribe, ID: id, Channel: channel}
}

// NewUnsubscribe builds an Unsubscribe frame.
func NewUnsubscribe(id uint64, channel string) Frame {
	return Frame{Kind: KindUnsubscribe, ID: id, Channel: channel}
}

// NewPublish builds a Publish frame.
func NewPublish(id uint64, channel string, payload []byte, event string) Frame {
	return Frame{Kind: KindPublish, ID: id, Channel: channel, Payload: payload, Event: event}
}

// NewPresence builds a Presence frame.
func NewPresence(id uint64, channel string, action PresenceAction, data map[string]any) Frame {
	return Frame{Kind: KindPresence, ID: id, Channel: channel, Action: action, Data: data}
}

// NewAck builds an Ack frame.
func NewAck(id uint64) Frame {
	return Frame{Kind: KindAck, ID: id}
}

// NewError builds an Error frame.
func NewError(id uint64, code ErrorCode, message string) Frame {
	return Frame{Kind: KindError, ID: id, Code: code, Message: message}
}

// NewPing builds a Ping frame.
func NewPing(timestamp uint64) Frame {
	return Frame{Kind: KindPing, Timestamp: timestamp}
}

// NewPong builds a Pong frame echoing timestamp.
func NewPong(timestamp uint64) Frame {
	return Frame{Kind: KindPong, Timestamp: timestamp}
}

// NewConnect builds a Connect frame.
func NewConnect(version uint8, token string) Frame {
	return Frame{Kind: KindConnect, Version: version, Token: token}
}

// NewConnected builds a Connected frame.
func NewConnected(connectionID string, version uint8, heartbeatMs uint32) Frame {
	return Frame{Kind: KindConnected, ConnectionID: connectionID, Version: version, Heartbeat: heartbeatMs}
}
