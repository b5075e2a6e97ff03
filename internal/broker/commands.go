package broker

import (
	"github.com/gonzalop/zqttd/internal/subscriber"
	"github.com/gonzalop/zqttd/internal/topic"
)

// command is one unit of work applied by the broker's single goroutine.
// Each concrete command owns an ack channel closed once apply returns, so
// Broker.send can block the caller until the mutation has taken effect —
// the same rendezvous _examples/gonzalop-mq's token.complete gives a
// caller waiting on an async operation, adapted to a synchronous actor.
type command interface {
	apply(b *Broker)
	ack() chan struct{}
}

type connectCmd struct {
	id    string
	sess  subscriber.Subscriber
	acked chan struct{}
}

func (c *connectCmd) ack() chan struct{} { return c.acked }

func (c *connectCmd) apply(b *Broker) {
	defer close(c.acked)
	b.sessions[c.id] = c.sess
	b.subsBySes[c.id] = make(map[string]topic.SSID)
	b.statSessionsConnected.Add(1)
	b.log.Debug("session connected", "session", c.id)
}

type disconnectCmd struct {
	id    string
	acked chan struct{}
}

func (c *disconnectCmd) ack() chan struct{} { return c.acked }

func (c *disconnectCmd) apply(b *Broker) {
	defer close(c.acked)
	for _, ssid := range b.subsBySes[c.id] {
		if err := b.trie.Unsubscribe(ssid, c.id); err != nil {
			b.log.Warn("unsubscribe-on-disconnect failed", "session", c.id, "err", err)
		}
	}
	delete(b.subsBySes, c.id)
	delete(b.sessions, c.id)
	b.statSessionsDisconnected.Add(1)
	b.log.Debug("session disconnected", "session", c.id)
}

type subscribeCmd struct {
	sessionID string
	ssid      topic.SSID
	acked     chan struct{}
}

func (c *subscribeCmd) ack() chan struct{} { return c.acked }

func (c *subscribeCmd) apply(b *Broker) {
	defer close(c.acked)
	sess, ok := b.sessions[c.sessionID]
	if !ok {
		return
	}
	b.trie.Subscribe(c.ssid, sess)
	held, ok := b.subsBySes[c.sessionID]
	if !ok {
		held = make(map[string]topic.SSID)
		b.subsBySes[c.sessionID] = held
	}
	held[c.ssid.String()] = c.ssid
	b.statSubscribes.Add(1)
}

type unsubscribeCmd struct {
	sessionID string
	ssid      topic.SSID
	acked     chan struct{}
	err       error
}

func (c *unsubscribeCmd) ack() chan struct{} { return c.acked }

func (c *unsubscribeCmd) apply(b *Broker) {
	defer close(c.acked)
	c.err = b.trie.Unsubscribe(c.ssid, c.sessionID)
	if c.err == nil {
		delete(b.subsBySes[c.sessionID], c.ssid.String())
		b.statUnsubscribes.Add(1)
	}
}

type publishCmd struct {
	ssid    topic.SSID
	msg     *subscriber.Message
	forward bool
	acked   chan struct{}
}

func (c *publishCmd) ack() chan struct{} { return c.acked }

func (c *publishCmd) apply(b *Broker) {
	defer close(c.acked)
	b.statPublishesReceived.Add(1)
	matched := b.trie.Lookup(c.ssid)
	for _, sub := range matched {
		if sub.Deliver(c.msg) {
			b.statDelivered.Add(1)
		} else {
			b.statDropped.Add(1)
		}
	}
	if c.forward && b.forward != nil {
		b.forward(c.msg)
	}
}

type setForwarderCmd struct {
	f     func(*subscriber.Message)
	acked chan struct{}
}

func (c *setForwarderCmd) ack() chan struct{} { return c.acked }

func (c *setForwarderCmd) apply(b *Broker) {
	defer close(c.acked)
	b.forward = c.f
}
