package protocol

import (
	"bytes"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Frame{
		NewConnect(1, "tok"),
		NewConnected("conn-1", 1, 30000),
		NewSubscribe(7, "chat:lobby"),
		NewUnsubscribe(8, "chat:lobby"),
		NewPublish(9, "chat:lobby", []byte("hi"), "message"),
		NewPublish(0, "chat:lobby", []byte("hi"), ""),
		NewPresence(1, "presence:room", PresenceJoin, nil),
		NewPresence(1, "presence:room", PresenceSync, map[string]any{"a": "b"}),
		NewAck(42),
		NewError(42, ErrInvalidChannel, "bad channel"),
		NewPing(123),
		NewPong(123),
	}

	for _, want := range cases {
		body, err := Encode(want)
		if err != nil {
			t.Fatalf("encode %v: %v", want.Kind, err)
		}
		got, err := Decode(body)
		if err != nil {
			t.Fatalf("decode %v: %v", want.Kind, err)
		}
		if got.Kind != want.Kind {
			t.Fatalf("kind mismatch: got %v want %v", got.Kind, want.Kind)
		}
		if got.Channel != want.Channel || got.ID != want.ID {
			t.Fatalf("%v: got %+v want %+v", want.Kind, got, want)
		}
		if want.Kind == KindPublish && !bytes.Equal(got.Payload, want.Payload) {
			t.Fatalf("publish payload mismatch: got %q want %q", got.Payload, want.Payload)
		}
	}
}

func TestReadWriteFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := NewPublish(1, "chat:lobby", []byte("payload"), "")

	if err := WriteFrame(&buf, want); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := ReadFrame(&buf, 65536)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.Channel != want.Channel || !bytes.Equal(got.Payload, want.Payload) {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestReadFrameRejectsZeroLength(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x00, 0x00, 0x00, 0x00})
	_, err := ReadFrame(buf, 65536)
	if err == nil {
		t.Fatal("expected error for zero-length frame")
	}
	perr, ok := err.(*Error)
	if !ok || perr.Code != ErrInvalidFrame {
		t.Fatalf("expected ErrInvalidFrame, got %v", err)
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, err := ReadFrame(&buf, 65536)
	if err == nil {
		t.Fatal("expected error for oversized frame")
	}
	perr, ok := err.(*Error)
	if !ok || perr.Code != ErrPayloadTooLarge {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestDecodeUnknownFrameType(t *testing.T) {
	body, err := msgpack.Marshal(map[string]any{"type": uint8(0xFE)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	_, err = Decode(body)
	if err == nil {
		t.Fatal("expected decode error for unknown frame type")
	}
	perr, ok := err.(*Error)
	if !ok || perr.Code != ErrInvalidFrame {
		t.Fatalf("expected ErrInvalidFrame, got %v", err)
	}
}

func TestDecodeMissingType(t *testing.T) {
	body, err := msgpack.Marshal(map[string]any{"id": uint64(1)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	_, err = Decode(body)
	if err == nil {
		t.Fatal("expected error for missing type field")
	}
}
