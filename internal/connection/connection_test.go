package connection

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tenvisio/pulse/internal/config"
	"github.com/tenvisio/pulse/internal/protocol"
	"github.com/tenvisio/pulse/internal/router"
)

type fakeTransport struct {
	in     chan protocol.Frame
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan protocol.Frame, 16),
		out:    make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadFrame(maxMessageSize int) (protocol.Frame, error) {
	select {
	case fr, ok := <-f.in:
		if !ok {
			return protocol.Frame{}, io.EOF
		}
		return fr, nil
	case <-f.closed:
		return protocol.Frame{}, io.EOF
	}
}

func (f *fakeTransport) WriteFrame(fr protocol.Frame) error {
	body, err := protocol.Encode(fr)
	if err != nil {
		return err
	}
	return f.WriteEncoded(body)
}

func (f *fakeTransport) WriteEncoded(body []byte) error {
	select {
	case f.out <- body:
		return nil
	case <-f.closed:
		return io.ErrClosedPipe
	}
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) RemoteAddr() string { return "test" }

func testConfig() *config.Config {
	return &config.Config{
		ProtocolVersion:         1,
		MaxMessageSize:          65536,
		MaxSubscriptionsPerConn: 10,
		OutboundQueueDepth:      16,
		HeartbeatIntervalMs:     60000,
		HeartbeatTimeoutMs:      120000,
	}
}

func recvFrame(t *testing.T, ft *fakeTransport) protocol.Frame {
	t.Helper()
	select {
	case body := <-ft.out:
		fr, err := protocol.Decode(body)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		return fr
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outbound frame")
	}
	return protocol.Frame{}
}

func TestHandshakeSucceeds(t *testing.T) {
	rt := router.New(router.Config{Shards: 2, BroadcastQueueLen: 4}, zerolog.Nop())
	ft := newFakeTransport()
	conn := New("conn-1", ft, rt, testConfig(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Run(ctx)

	ft.in <- protocol.NewConnect(1, "")

	got := recvFrame(t, ft)
	if got.Kind != protocol.KindConnected || got.ConnectionID != "conn-1" {
		t.Fatalf("expected connected frame, got %+v", got)
	}

	ft.Close()
}

func TestHandshakeRejectsVersionMismatch(t *testing.T) {
	rt := router.New(router.Config{Shards: 2, BroadcastQueueLen: 4}, zerolog.Nop())
	ft := newFakeTransport()
	conn := New("conn-1", ft, rt, testConfig(), zerolog.Nop())

	go conn.Run(context.Background())
	ft.in <- protocol.NewConnect(2, "")

	got := recvFrame(t, ft)
	if got.Kind != protocol.KindError || got.Code != protocol.ErrProtocolMismatch {
		t.Fatalf("expected protocol mismatch error, got %+v", got)
	}
}

func TestSubscribePublishAckFlow(t *testing.T) {
	rt := router.New(router.Config{Shards: 2, BroadcastQueueLen: 4}, zerolog.Nop())
	ft := newFakeTransport()
	conn := New("conn-1", ft, rt, testConfig(), zerolog.Nop())

	go conn.Run(context.Background())
	ft.in <- protocol.NewConnect(1, "")
	_ = recvFrame(t, ft) // connected

	ft.in <- protocol.NewSubscribe(1, "chat:lobby")
	ack := recvFrame(t, ft)
	if ack.Kind != protocol.KindAck || ack.ID != 1 {
		t.Fatalf("expected ack 1, got %+v", ack)
	}

	notified, err := rt.Publish("chat:lobby", []byte("hi"), "", 0)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if notified != 1 {
		t.Fatalf("expected 1 notified, got %d", notified)
	}

	pub := recvFrame(t, ft)
	if pub.Kind != protocol.KindPublish || string(pub.Payload) != "hi" {
		t.Fatalf("expected publish 'hi', got %+v", pub)
	}

	ft.in <- protocol.NewUnsubscribe(2, "chat:lobby")
	ack2 := recvFrame(t, ft)
	if ack2.Kind != protocol.KindAck || ack2.ID != 2 {
		t.Fatalf("expected ack 2, got %+v", ack2)
	}
}

func TestDuplicateSubscribeIsPolicyErrorNotFatal(t *testing.T) {
	rt := router.New(router.Config{Shards: 2, BroadcastQueueLen: 4}, zerolog.Nop())
	ft := newFakeTransport()
	conn := New("conn-1", ft, rt, testConfig(), zerolog.Nop())

	go conn.Run(context.Background())
	ft.in <- protocol.NewConnect(1, "")
	_ = recvFrame(t, ft)

	ft.in <- protocol.NewSubscribe(1, "chat:lobby")
	_ = recvFrame(t, ft)

	ft.in <- protocol.NewSubscribe(2, "chat:lobby")
	errFrame := recvFrame(t, ft)
	if errFrame.Kind != protocol.KindError || errFrame.Code != protocol.ErrAlreadySubscribed {
		t.Fatalf("expected AlreadySubscribed error, got %+v", errFrame)
	}

	// connection must still be open: a further valid subscribe should ack.
	ft.in <- protocol.NewSubscribe(3, "chat:other")
	ack := recvFrame(t, ft)
	if ack.Kind != protocol.KindAck || ack.ID != 3 {
		t.Fatalf("expected connection to remain open after policy error, got %+v", ack)
	}
}

func TestInvalidChannelNameIsNonFatal(t *testing.T) {
	rt := router.New(router.Config{Shards: 2, BroadcastQueueLen: 4}, zerolog.Nop())
	ft := newFakeTransport()
	conn := New("conn-1", ft, rt, testConfig(), zerolog.Nop())

	go conn.Run(context.Background())
	ft.in <- protocol.NewConnect(1, "")
	_ = recvFrame(t, ft)

	ft.in <- protocol.NewSubscribe(7, "")
	errFrame := recvFrame(t, ft)
	if errFrame.Kind != protocol.KindError || errFrame.Code != protocol.ErrInvalidChannel || errFrame.ID != 7 {
		t.Fatalf("expected InvalidChannel error id 7, got %+v", errFrame)
	}
}

func TestPingIsAnsweredWithPong(t *testing.T) {
	rt := router.New(router.Config{Shards: 2, BroadcastQueueLen: 4}, zerolog.Nop())
	ft := newFakeTransport()
	conn := New("conn-1", ft, rt, testConfig(), zerolog.Nop())

	go conn.Run(context.Background())
	ft.in <- protocol.NewConnect(1, "")
	_ = recvFrame(t, ft)

	ft.in <- protocol.NewPing(42)
	pong := recvFrame(t, ft)
	if pong.Kind != protocol.KindPong || pong.Timestamp != 42 {
		t.Fatalf("expected pong echoing timestamp, got %+v", pong)
	}
}
