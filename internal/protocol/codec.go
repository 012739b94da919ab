package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxFrameLength is the largest length prefix the decoder accepts (16 MiB),
// per spec §4.1.
const MaxFrameLength = 16 * 1024 * 1024

// LengthPrefixSize is the size in bytes of the frame length prefix.
const LengthPrefixSize = 4

// Encode serializes f into a MessagePack map, lowercase-ASCII keyed per
// spec §4.1, WITHOUT the length prefix. Use WriteFrame to write a
// length-prefixed frame directly to a stream.
func Encode(f Frame) ([]byte, error) {
	m := make(map[string]any, 6)
	m["type"] = uint8(f.Kind)

	switch f.Kind {
	case KindConnect:
		m["version"] = f.Version
		if f.Token != "" {
			m["token"] = f.Token
		}
	case KindConnected:
		m["connection_id"] = f.ConnectionID
		m["version"] = f.Version
		m["heartbeat"] = f.Heartbeat
	case KindSubscribe, KindUnsubscribe:
		m["id"] = f.ID
		m["channel"] = f.Channel
	case KindPublish:
		m["channel"] = f.Channel
		m["payload"] = f.Payload
		if f.ID != 0 {
			m["id"] = f.ID
		}
		if f.Event != "" {
			m["event"] = f.Event
		}
	case KindPresence:
		m["id"] = f.ID
		m["channel"] = f.Channel
		m["action"] = uint8(f.Action)
		if f.Data != nil {
			m["data"] = f.Data
		}
	case KindAck:
		m["id"] = f.ID
	case KindError:
		m["id"] = f.ID
		m["code"] = uint16(f.Code)
		m["message"] = f.Message
	case KindPing, KindPong:
		if f.Timestamp != 0 {
			m["timestamp"] = f.Timestamp
		}
	default:
		return nil, fmt.Errorf("protocol: encode: unknown frame kind 0x%02X", uint8(f.Kind))
	}

	return msgpack.Marshal(m)
}

// Decode parses a MessagePack-encoded frame body (no length prefix).
// Unknown map keys are ignored for forward compatibility; an unknown
// "type" value yields ErrInvalidFrame.
func Decode(body []byte) (Frame, error) {
	var m map[string]any
	if err := msgpack.Unmarshal(body, &m); err != nil {
		return Frame{}, &Error{Code: ErrInvalidFrame, Message: "malformed messagepack: " + err.Error()}
	}

	rawType, ok := m["type"]
	if !ok {
		return Frame{}, &Error{Code: ErrInvalidFrame, Message: "missing type field"}
	}
	kindVal, ok := asUint64(rawType)
	if !ok {
		return Frame{}, &Error{Code: ErrInvalidFrame, Message: "type field is not numeric"}
	}
	kind := Kind(kindVal)
	if !kind.Valid() {
		return Frame{}, &Error{Code: ErrInvalidFrame, Message: fmt.Sprintf("unknown frame type 0x%02X", kindVal)}
	}

	f := Frame{Kind: kind}

	switch kind {
	case KindConnect:
		f.Version = uint8(asUint64OrZero(m["version"]))
		f.Token, _ = m["token"].(string)
	case KindConnected:
		f.ConnectionID, _ = m["connection_id"].(string)
		f.Version = uint8(asUint64OrZero(m["version"]))
		f.Heartbeat = uint32(asUint64OrZero(m["heartbeat"]))
	case KindSubscribe, KindUnsubscribe:
		f.ID = asUint64OrZero(m["id"])
		f.Channel, _ = m["channel"].(string)
	case KindPublish:
		f.Channel, _ = m["channel"].(string)
		f.Payload = asBytes(m["payload"])
		f.ID = asUint64OrZero(m["id"])
		f.Event, _ = m["event"].(string)
	case KindPresence:
		f.ID = asUint64OrZero(m["id"])
		f.Channel, _ = m["channel"].(string)
		f.Action = PresenceAction(asUint64OrZero(m["action"]))
		if data, ok := m["data"].(map[string]any); ok {
			f.Data = data
		}
	case KindAck:
		f.ID = asUint64OrZero(m["id"])
	case KindError:
		f.ID = asUint64OrZero(m["id"])
		f.Code = ErrorCode(asUint64OrZero(m["code"]))
		f.Message, _ = m["message"].(string)
	case KindPing, KindPong:
		f.Timestamp = asUint64OrZero(m["timestamp"])
	}

	return f, nil
}

// ReadFrame reads one length-prefixed frame from r: a 4-byte big-endian
// length followed by that many bytes of MessagePack body. L = 0 or
// L > MaxFrameLength is fatal (ErrInvalidFrame / ErrPayloadTooLarge).
func ReadFrame(r io.Reader, maxMessageSize int) (Frame, error) {
	var lenBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])

	if length == 0 {
		return Frame{}, &Error{Code: ErrInvalidFrame, Message: "zero-length frame"}
	}
	limit := uint32(maxMessageSize)
	if limit == 0 || limit > MaxFrameLength {
		limit = MaxFrameLength
	}
	if length > limit {
		return Frame{}, &Error{Code: ErrPayloadTooLarge, Message: "frame exceeds max message size"}
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, err
	}

	return Decode(body)
}

// WriteFrame encodes f and writes it to w as a length-prefixed frame.
func WriteFrame(w io.Writer, f Frame) error {
	body, err := Encode(f)
	if err != nil {
		return err
	}
	if len(body) > MaxFrameLength {
		return &Error{Code: ErrPayloadTooLarge, Message: "encoded frame exceeds max frame length"}
	}

	var lenBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))

	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// asUint64 accepts every integer kind msgpack's generic decode can produce.
// Without compact-ints, msgpack decodes a field back to the fixed-width Go
// type it was encoded from (a uint16 field decodes as uint16, a uint32
// field as uint32, and so on), not uniformly as int64/uint64.
func asUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case uint32:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint8:
		return uint64(n), true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int32:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int16:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int8:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	}
	return 0, false
}

func asUint64OrZero(v any) uint64 {
	n, _ := asUint64(v)
	return n
}

func asBytes(v any) []byte {
	switch b := v.(type) {
	case []byte:
		return b
	case string:
		return []byte(b)
	}
	return nil
}
