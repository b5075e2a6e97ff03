package broker

import (
	"context"
	"testing"

	"github.com/gonzalop/zqttd/internal/subscriber"
	"github.com/gonzalop/zqttd/internal/topic"
)

type recordingSub struct {
	id        string
	delivered []*subscriber.Message
	accept    bool
}

func (r *recordingSub) ID() string           { return r.id }
func (r *recordingSub) Kind() subscriber.Kind { return subscriber.KindLocal }
func (r *recordingSub) Deliver(msg *subscriber.Message) bool {
	if !r.accept {
		return false
	}
	r.delivered = append(r.delivered, msg)
	return true
}

func newRunningBroker(t *testing.T) (*Broker, context.CancelFunc) {
	t.Helper()
	b := New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	t.Cleanup(cancel)
	return b, cancel
}

func mustSSID(t *testing.T, s string, sub bool) topic.SSID {
	t.Helper()
	if sub {
		ssid, err := topic.ParseSubscription(s)
		if err != nil {
			t.Fatalf("ParseSubscription(%q): %v", s, err)
		}
		return ssid
	}
	ssid, err := topic.ParsePublish(s)
	if err != nil {
		t.Fatalf("ParsePublish(%q): %v", s, err)
	}
	return ssid
}

func TestBrokerSubscribeAndPublish(t *testing.T) {
	b, _ := newRunningBroker(t)

	sess := &recordingSub{id: "sess-1", accept: true}
	b.Connect("sess-1", sess)
	b.Subscribe("sess-1", mustSSID(t, "a/+/c", true))

	b.Publish(mustSSID(t, "a/b/c", false), &subscriber.Message{Channel: "a/b/c", Payload: []byte("hi")})

	if len(sess.delivered) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(sess.delivered))
	}
	if string(sess.delivered[0].Payload) != "hi" {
		t.Fatalf("unexpected payload %q", sess.delivered[0].Payload)
	}

	stats := b.Stats()
	if stats.Subscribes != 1 || stats.PublishesReceived != 1 || stats.Delivered != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestBrokerDisconnectUnsubscribesAll(t *testing.T) {
	b, _ := newRunningBroker(t)

	sess := &recordingSub{id: "sess-1", accept: true}
	b.Connect("sess-1", sess)
	b.Subscribe("sess-1", mustSSID(t, "a/b", true))
	b.Disconnect("sess-1")

	b.Publish(mustSSID(t, "a/b", false), &subscriber.Message{Channel: "a/b", Payload: []byte("x")})

	if len(sess.delivered) != 0 {
		t.Fatalf("expected no delivery after disconnect, got %d", len(sess.delivered))
	}

	stats := b.Stats()
	if stats.SessionsDisconnected != 1 {
		t.Fatalf("expected 1 disconnect, got %d", stats.SessionsDisconnected)
	}
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b, _ := newRunningBroker(t)

	sess := &recordingSub{id: "sess-1", accept: true}
	b.Connect("sess-1", sess)
	ssid := mustSSID(t, "a/b", true)
	b.Subscribe("sess-1", ssid)

	if err := b.Unsubscribe("sess-1", ssid); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}

	b.Publish(mustSSID(t, "a/b", false), &subscriber.Message{Channel: "a/b"})
	if len(sess.delivered) != 0 {
		t.Fatalf("expected no delivery, got %d", len(sess.delivered))
	}
}

func TestBrokerUnsubscribeUnknownPathErrors(t *testing.T) {
	b, _ := newRunningBroker(t)

	sess := &recordingSub{id: "sess-1", accept: true}
	b.Connect("sess-1", sess)

	err := b.Unsubscribe("sess-1", mustSSID(t, "never/subscribed", true))
	if err == nil {
		t.Fatalf("expected an error for an unknown path")
	}
}

func TestBrokerDropCounting(t *testing.T) {
	b, _ := newRunningBroker(t)

	sess := &recordingSub{id: "sess-1", accept: false}
	b.Connect("sess-1", sess)
	b.Subscribe("sess-1", mustSSID(t, "a/b", true))

	b.Publish(mustSSID(t, "a/b", false), &subscriber.Message{Channel: "a/b"})

	stats := b.Stats()
	if stats.Dropped != 1 || stats.Delivered != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
