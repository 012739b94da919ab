package transport

import (
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/tenvisio/pulse/internal/monitoring"
	"github.com/tenvisio/pulse/internal/protocol"
)

// WebSocket is the Transport implementation for Pulse's primary transport
// (spec §1). Each Pulse frame travels as one binary WebSocket message; the
// WebSocket framing itself supplies message boundaries, so no additional
// length prefix is written on the wire here (protocol.ReadFrame/WriteFrame's
// length-prefixed stream form exists for a future raw-socket transport).
type WebSocket struct {
	conn          net.Conn
	remoteAddr    string
	readDeadline  time.Duration
	writeDeadline time.Duration
}

// UpgradeHTTP upgrades an incoming HTTP request to a WebSocket connection
// and wraps it as a Transport, grounded on the teacher's handleWebSocket
// upgrade path.
func UpgradeHTTP(w http.ResponseWriter, r *http.Request, readDeadline, writeDeadline time.Duration) (*WebSocket, error) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return nil, err
	}
	return NewWebSocket(conn, r.RemoteAddr, readDeadline, writeDeadline), nil
}

// NewWebSocket wraps an already-upgraded connection.
func NewWebSocket(conn net.Conn, remoteAddr string, readDeadline, writeDeadline time.Duration) *WebSocket {
	return &WebSocket{
		conn:          conn,
		remoteAddr:    remoteAddr,
		readDeadline:  readDeadline,
		writeDeadline: writeDeadline,
	}
}

// ReadFrame blocks for the next client frame, resetting the read deadline on
// each call (idle-timeout, not per-frame timeout).
func (t *WebSocket) ReadFrame(maxMessageSize int) (protocol.Frame, error) {
	if t.readDeadline > 0 {
		_ = t.conn.SetReadDeadline(time.Now().Add(t.readDeadline))
	}

	data, op, err := wsutil.ReadClientData(t.conn)
	if err != nil {
		return protocol.Frame{}, err
	}
	monitoring.BytesReceived.Add(float64(len(data)))

	switch op {
	case ws.OpClose:
		return protocol.Frame{}, io.EOF
	case ws.OpPing, ws.OpPong:
		// gobwas/wsutil answers pings automatically; nothing to decode.
		return protocol.Frame{}, nil
	case ws.OpBinary:
		if maxMessageSize > 0 && len(data) > maxMessageSize {
			return protocol.Frame{}, &protocol.Error{Code: protocol.ErrPayloadTooLarge, Message: "message exceeds max_message_size"}
		}
		return protocol.Decode(data)
	default:
		return protocol.Frame{}, &protocol.Error{Code: protocol.ErrInvalidFrame, Message: "expected binary frame"}
	}
}

// WriteFrame encodes f and writes it as a single binary WebSocket message.
func (t *WebSocket) WriteFrame(f protocol.Frame) error {
	body, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	if t.writeDeadline > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeDeadline))
	}
	return wsutil.WriteServerMessage(t.conn, ws.OpBinary, body)
}

// WriteEncoded writes an already-encoded frame body, used by the fanout path
// to avoid re-serializing a publish once per subscriber (spec §4.1 "encode
// is allocation-minimal").
func (t *WebSocket) WriteEncoded(body []byte) error {
	if t.writeDeadline > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeDeadline))
	}
	return wsutil.WriteServerMessage(t.conn, ws.OpBinary, body)
}

func (t *WebSocket) Close() error {
	return t.conn.Close()
}

func (t *WebSocket) RemoteAddr() string {
	return t.remoteAddr
}
