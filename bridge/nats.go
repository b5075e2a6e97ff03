// Package bridge forwards published messages between zqttd broker
// processes over NATS, without sharing trie or session state — each
// process keeps its own independent subscription trie, and the bridge
// republishes anything a remote process might have subscribers for. It is
// grounded on _examples/StudioLambda-Cosmos/framework/event/nats.go's
// NATSBroker, whose connection-option plumbing carries over directly.
// Topics are not translated: a publish on topic t goes out on the NATS
// subject "zqttd.pub."+t, and ingress subscribes to "zqttd.pub.>". Unlike
// that broker, a bridge.Bridge is a forwarder rather than a general pub/sub
// façade: one Bridge does both egress (Forward) and ingress (Subscribe)
// over the same conn.
package bridge

import (
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/gonzalop/zqttd/internal/subscriber"
)

// Subject prefix under which zqttd forwards publishes, namespaced so a
// shared NATS deployment can host other traffic.
const subjectPrefix = "zqttd.pub."

// DefaultMaxReconnects and DefaultReconnectWait mirror the NATSBroker
// defaults this package is grounded on.
const (
	DefaultMaxReconnects = -1
	DefaultReconnectWait = 2 * time.Second
)

// Options configures a Bridge connection.
type Options struct {
	URLs          []string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Username      string
	Password      string
}

// Bridge forwards local publishes to NATS and republishes remote ones to
// the local broker through an Ingress.
type Bridge struct {
	conn *nats.Conn
}

// Connect dials NATS with the given options, applying the same sensible
// defaults as the broker it's grounded on.
func Connect(opts Options) (*Bridge, error) {
	natsOpts := []nats.Option{}
	if opts.Name != "" {
		natsOpts = append(natsOpts, nats.Name(opts.Name))
	}

	maxReconnects := DefaultMaxReconnects
	if opts.MaxReconnects != 0 {
		maxReconnects = opts.MaxReconnects
	}
	natsOpts = append(natsOpts, nats.MaxReconnects(maxReconnects))

	reconnectWait := DefaultReconnectWait
	if opts.ReconnectWait != 0 {
		reconnectWait = opts.ReconnectWait
	}
	natsOpts = append(natsOpts, nats.ReconnectWait(reconnectWait))

	if opts.Username != "" && opts.Password != "" {
		natsOpts = append(natsOpts, nats.UserInfo(opts.Username, opts.Password))
	}

	urls := opts.URLs
	if len(urls) == 0 {
		urls = []string{nats.DefaultURL}
	}

	conn, err := nats.Connect(strings.Join(urls, ","), natsOpts...)
	if err != nil {
		return nil, err
	}

	return &Bridge{conn: conn}, nil
}

// Close drains and closes the underlying NATS connection.
func (b *Bridge) Close() error {
	if err := b.conn.Drain(); err != nil {
		return err
	}
	b.conn.Close()
	return nil
}

// Forward publishes msg to NATS so every other bridged process can
// republish it to its own local subscribers.
func (b *Bridge) Forward(msg *subscriber.Message) error {
	return b.conn.Publish(subjectPrefix+msg.Channel, msg.Payload)
}

// Ingress is satisfied by anything that can accept a remotely-forwarded
// message for local fan-out, implemented by the broker's publish path.
type Ingress interface {
	PublishRemote(channel string, payload []byte)
}

// Subscribe registers ingress to receive every message forwarded by any
// bridged process and feed it back into the local broker's trie lookup.
// It returns an unsubscribe function.
func (b *Bridge) Subscribe(ingress Ingress) (func() error, error) {
	sub, err := b.conn.Subscribe(subjectPrefix+">", func(msg *nats.Msg) {
		channel := strings.TrimPrefix(msg.Subject, subjectPrefix)
		ingress.PublishRemote(channel, msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}
