package transport

import (
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/tenvisio/pulse/internal/protocol"
)

func pipePair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	c, s := net.Pipe()
	return c, s
}

func TestWebSocketWriteFrameThenClientReads(t *testing.T) {
	client, server := pipePair(t)
	defer client.Close()
	defer server.Close()

	srv := NewWebSocket(server, "test", time.Second, time.Second)

	done := make(chan error, 1)
	go func() {
		done <- srv.WriteFrame(protocol.NewAck(7))
	}()

	data, op, err := wsutil.ReadServerData(client)
	if err != nil {
		t.Fatalf("read server data: %v", err)
	}
	if op != ws.OpBinary {
		t.Fatalf("expected binary op, got %v", op)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	frame, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Kind != protocol.KindAck || frame.ID != 7 {
		t.Fatalf("got %+v", frame)
	}
}

func TestWebSocketReadFrameDecodesClientMessage(t *testing.T) {
	client, server := pipePair(t)
	defer client.Close()
	defer server.Close()

	srv := NewWebSocket(server, "test", time.Second, time.Second)

	body, err := protocol.Encode(protocol.NewSubscribe(1, "chat:lobby"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	go func() {
		_ = wsutil.WriteClientMessage(client, ws.OpBinary, body)
	}()

	frame, err := srv.ReadFrame(65536)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Kind != protocol.KindSubscribe || frame.Channel != "chat:lobby" {
		t.Fatalf("got %+v", frame)
	}
}
