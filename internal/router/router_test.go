package router

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/tenvisio/pulse/internal/protocol"
)

func testRouter(t *testing.T) *Router {
	t.Helper()
	return New(Config{Shards: 4, BroadcastQueueLen: 4}, zerolog.Nop())
}

func TestSubscribePublishReceive(t *testing.T) {
	r := testRouter(t)

	subA, err := r.Subscribe("chat:lobby", "a")
	if err != nil {
		t.Fatalf("subscribe a: %v", err)
	}
	subB, err := r.Subscribe("chat:lobby", "b")
	if err != nil {
		t.Fatalf("subscribe b: %v", err)
	}

	notified, err := r.Publish("chat:lobby", []byte("hi"), "", 0)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if notified != 2 {
		t.Fatalf("expected 2 notified, got %d", notified)
	}

	for _, sub := range []*Subscription{subA, subB} {
		select {
		case item := <-sub.Ch:
			if string(item.Frame.Payload) != "hi" {
				t.Fatalf("got payload %q", item.Frame.Payload)
			}
		default:
			t.Fatalf("subscriber %s did not receive publish", sub.ConnID)
		}
	}
}

func TestDuplicateSubscribeRejected(t *testing.T) {
	r := testRouter(t)
	if _, err := r.Subscribe("chat:lobby", "a"); err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	_, err := r.Subscribe("chat:lobby", "a")
	perr, ok := err.(*protocol.Error)
	if !ok || perr.Code != protocol.ErrAlreadySubscribed {
		t.Fatalf("expected ErrAlreadySubscribed, got %v", err)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	r := testRouter(t)
	subA, _ := r.Subscribe("chat:lobby", "a")
	_, _ = r.Subscribe("chat:lobby", "b")

	if err := r.Unsubscribe("chat:lobby", "b"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	notified, err := r.Publish("chat:lobby", []byte("hi"), "", 0)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if notified != 1 {
		t.Fatalf("expected 1 notified after unsubscribe, got %d", notified)
	}
	select {
	case <-subA.Ch:
	default:
		t.Fatal("remaining subscriber did not receive publish")
	}
}

func TestUnsubscribeNotSubscribed(t *testing.T) {
	r := testRouter(t)
	err := r.Unsubscribe("chat:lobby", "a")
	perr, ok := err.(*protocol.Error)
	if !ok || perr.Code != protocol.ErrNotSubscribed {
		t.Fatalf("expected ErrNotSubscribed, got %v", err)
	}
}

func TestChannelRemovedWhenEmpty(t *testing.T) {
	r := testRouter(t)
	_, _ = r.Subscribe("chat:lobby", "a")
	if r.ChannelCount() != 1 {
		t.Fatalf("expected 1 channel, got %d", r.ChannelCount())
	}
	_ = r.Unsubscribe("chat:lobby", "a")
	if r.ChannelCount() != 0 {
		t.Fatalf("expected channel removed, got count %d", r.ChannelCount())
	}
}

func TestPublishToNonexistentChannelIsNotError(t *testing.T) {
	r := testRouter(t)
	notified, err := r.Publish("chat:empty", []byte("hi"), "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if notified != 0 {
		t.Fatalf("expected 0 notified, got %d", notified)
	}
}

func TestPublishRejectsOversizedPayload(t *testing.T) {
	r := testRouter(t)
	_, err := r.Publish("chat:lobby", make([]byte, 100), "", 10)
	perr, ok := err.(*protocol.Error)
	if !ok || perr.Code != protocol.ErrPayloadTooLarge {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestSubscribeRejectsInvalidChannel(t *testing.T) {
	r := testRouter(t)
	_, err := r.Subscribe("$internal", "a")
	perr, ok := err.(*protocol.Error)
	if !ok || perr.Code != protocol.ErrForbidden {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestPresenceJoinAndLeave(t *testing.T) {
	r := testRouter(t)

	subA, err := r.Subscribe("presence:room", "a")
	if err != nil {
		t.Fatalf("subscribe a: %v", err)
	}

	if _, err := r.Subscribe("presence:room", "b"); err != nil {
		t.Fatalf("subscribe b: %v", err)
	}

	select {
	case item := <-subA.Ch:
		if item.Frame.Kind != protocol.KindPresence || item.Frame.Action != protocol.PresenceJoin {
			t.Fatalf("expected presence join, got %+v", item.Frame)
		}
	default:
		t.Fatal("a did not receive join notice for b")
	}

	r.DropConnection("b")

	select {
	case item := <-subA.Ch:
		if item.Frame.Action != protocol.PresenceLeave {
			t.Fatalf("expected presence leave, got %+v", item.Frame)
		}
	default:
		t.Fatal("a did not receive leave notice for b")
	}
}

func TestSyncReturnsRoster(t *testing.T) {
	r := testRouter(t)
	_, _ = r.Subscribe("presence:room", "a")
	_, _ = r.Subscribe("presence:room", "b")

	roster := r.Sync("presence:room")
	if len(roster) != 2 {
		t.Fatalf("expected 2 entries in roster, got %d", len(roster))
	}
}

func TestDropConnectionRemovesAllSubscriptions(t *testing.T) {
	r := testRouter(t)
	_, _ = r.Subscribe("chat:lobby", "a")
	_, _ = r.Subscribe("chat:other", "a")

	r.DropConnection("a")

	if r.ChannelCount() != 0 {
		t.Fatalf("expected both channels removed, got count %d", r.ChannelCount())
	}
}

func TestLaggedSubscriberSignalled(t *testing.T) {
	r := testRouter(t)
	sub, _ := r.Subscribe("chat:lobby", "a")

	// Fill the bounded queue (depth 4) without draining it.
	for i := 0; i < 4; i++ {
		if _, err := r.Publish("chat:lobby", []byte("x"), "", 0); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if _, err := r.Publish("chat:lobby", []byte("x"), "", 0); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case n := <-sub.Lag:
		if n == 0 {
			t.Fatal("expected nonzero lag count")
		}
	default:
		t.Fatal("expected a lag signal after exceeding queue depth")
	}
}
