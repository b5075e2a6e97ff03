// Package broker implements the single-goroutine broker actor: the
// exclusive owner of the subscription trie and the session registry.
// Every mutation arrives as a command on a single channel and is applied
// by one loop, the way _examples/gonzalop-mq/logic.go's logicLoop is the
// sole mutator of a Client's session state — generalized here from one
// client's session map to every connected session's subscriptions.
package broker

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gonzalop/zqttd/internal/subscriber"
	"github.com/gonzalop/zqttd/internal/topic"
	"github.com/gonzalop/zqttd/internal/trie"
	"github.com/gonzalop/zqttd/internal/uid"
)

// Stats is an atomically-read snapshot of broker activity, mirroring
// _examples/gonzalop-mq/client.go's ClientStats/GetStats pattern.
type Stats struct {
	SessionsConnected    uint64
	SessionsDisconnected uint64
	Subscribes           uint64
	Unsubscribes         uint64
	PublishesReceived    uint64
	Delivered            uint64
	Dropped              uint64
}

// Broker is the actor. Create with New and start with Run in its own
// goroutine; every other method except Stats and NextUID enqueues a
// command and returns once it has been applied (or the broker has stopped).
type Broker struct {
	log *slog.Logger
	uids uid.Generator

	cmds chan command
	done chan struct{}

	trie      *trie.Trie
	sessions  map[string]subscriber.Subscriber
	subsBySes map[string]map[string]topic.SSID // sessionID -> (ssid.String() -> ssid)
	forward   func(*subscriber.Message)

	statSessionsConnected    atomic.Uint64
	statSessionsDisconnected atomic.Uint64
	statSubscribes           atomic.Uint64
	statUnsubscribes         atomic.Uint64
	statPublishesReceived    atomic.Uint64
	statDelivered            atomic.Uint64
	statDropped              atomic.Uint64
}

// New returns a Broker ready to Run. gen defaults to a fresh uid.Counter
// if nil.
func New(log *slog.Logger, gen uid.Generator) *Broker {
	if log == nil {
		log = slog.Default()
	}
	if gen == nil {
		gen = uid.NewCounter()
	}
	return &Broker{
		log:       log,
		uids:      gen,
		cmds:      make(chan command, 256),
		done:      make(chan struct{}),
		trie:      trie.New(),
		sessions:  make(map[string]subscriber.Subscriber),
		subsBySes: make(map[string]map[string]topic.SSID),
	}
}

// Run executes the broker's event loop until ctx is cancelled. It must be
// called exactly once, typically from its own goroutine.
func (b *Broker) Run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			b.log.Debug("broker stopped")
			return
		case cmd := <-b.cmds:
			cmd.apply(b)
		}
	}
}

// send enqueues cmd and blocks until it has been applied, unless the
// broker has already stopped. It also unblocks if Run returns after cmd
// was enqueued but before the loop got to it, so a caller (e.g. Session.
// Serve's Disconnect during shutdown) never hangs waiting on an ack that
// will now never be sent.
func (b *Broker) send(cmd command) {
	select {
	case b.cmds <- cmd:
		select {
		case <-cmd.ack():
		case <-b.done:
		}
	case <-b.done:
	}
}

// Connect registers sess under id so it becomes eligible for Subscribe.
func (b *Broker) Connect(id string, sess subscriber.Subscriber) {
	c := &connectCmd{id: id, sess: sess, acked: make(chan struct{})}
	b.send(c)
}

// Disconnect removes the session identified by id, unsubscribing it from
// every pattern it held (spec §4.3/§4.4: disconnect implies unsubscribe-all).
func (b *Broker) Disconnect(id string) {
	c := &disconnectCmd{id: id, acked: make(chan struct{})}
	b.send(c)
}

// Subscribe registers sessionID for ssid. It is safe to call for a pattern
// already held by the session (idempotent, per trie.Subscribe).
func (b *Broker) Subscribe(sessionID string, ssid topic.SSID) {
	c := &subscribeCmd{sessionID: sessionID, ssid: ssid, acked: make(chan struct{})}
	b.send(c)
}

// Unsubscribe removes sessionID's registration for ssid. It returns
// trie.ErrPathMissing or trie.ErrNotFound if the pattern was not held.
func (b *Broker) Unsubscribe(sessionID string, ssid topic.SSID) error {
	c := &unsubscribeCmd{sessionID: sessionID, ssid: ssid, acked: make(chan struct{})}
	b.send(c)
	return c.err
}

// Publish looks up every subscriber matching ssid and delivers msg to
// each, counting delivered/dropped per spec §4.4. If a forwarder was
// installed with SetForwarder, the message is also handed to it for
// cross-process fan-out via package bridge.
func (b *Broker) Publish(ssid topic.SSID, msg *subscriber.Message) {
	c := &publishCmd{ssid: ssid, msg: msg, forward: true, acked: make(chan struct{})}
	b.send(c)
}

// PublishRemote delivers a message that arrived from another process via
// package bridge. It performs local fan-out only and is never itself
// re-forwarded, preventing forwarding loops between bridged processes.
func (b *Broker) PublishRemote(channel string, payload []byte) {
	ssid, err := topic.ParsePublish(channel)
	if err != nil {
		b.log.Debug("dropping malformed remote publish", "channel", channel, "err", err)
		return
	}
	c := &publishCmd{
		ssid:    ssid,
		msg:     &subscriber.Message{Channel: channel, Payload: payload},
		forward: false,
		acked:   make(chan struct{}),
	}
	b.send(c)
}

// SetForwarder installs the function used to forward locally-originated
// publishes to other bridged processes. Pass nil to disable forwarding.
func (b *Broker) SetForwarder(f func(*subscriber.Message)) {
	c := &setForwarderCmd{f: f, acked: make(chan struct{})}
	b.send(c)
}

// Stats returns a point-in-time snapshot of broker counters.
func (b *Broker) Stats() Stats {
	return Stats{
		SessionsConnected:    b.statSessionsConnected.Load(),
		SessionsDisconnected: b.statSessionsDisconnected.Load(),
		Subscribes:           b.statSubscribes.Load(),
		Unsubscribes:         b.statUnsubscribes.Load(),
		PublishesReceived:    b.statPublishesReceived.Load(),
		Delivered:            b.statDelivered.Load(),
		Dropped:              b.statDropped.Load(),
	}
}

// NextUID allocates a fresh session identifier. Exposed so a transport
// layer can assign ids before a session has a Subscriber to register.
func (b *Broker) NextUID() uid.UID {
	return b.uids.Next()
}
