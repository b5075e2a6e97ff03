// Package subscriber defines the Message and Subscriber types shared by the
// trie, the broker, and every concrete subscriber (a connected session; no
// remote subscriber type exists in this module). It is grounded on original_source/src/broker/message.rs's
// Message/Subscriber/SubscriberType, translated from an Arc<Message> trait
// object into Go's interface-based fan-out.
package subscriber

// Kind tags how a Subscriber receives deliveries.
type Kind int

const (
	// KindLocal is a directly connected session on this process.
	KindLocal Kind = iota
	// KindRemote marks a subscriber that forwards to another process. No
	// subscriber in this module reports it: package bridge forwards at the
	// broker level and registers no subscriber.
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Message is the payload fanned out to matched subscribers.
type Message struct {
	// ID is a globally-unique publish identifier.
	ID []byte
	// Channel is the original publish topic string.
	Channel string
	// Payload is the raw message body.
	Payload []byte
	// TTL is an opaque hop/expiry counter reserved for remote bridging.
	TTL uint32
}

// Subscriber is anything capable of receiving a fanned-out Message. Deliver
// must never block the caller for unbounded time: it enqueues onto the
// subscriber's own mailbox, and overflow is that subscriber's local policy.
type Subscriber interface {
	// ID is a stable string unique per connected client in the process.
	ID() string
	// Kind reports whether this subscriber is local or remote.
	Kind() Kind
	// Deliver attempts to hand the message to the subscriber. It returns
	// false if the subscriber's mailbox was full and the message was
	// dropped.
	Deliver(msg *Message) bool
}
