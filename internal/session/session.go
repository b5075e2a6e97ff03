// Package session implements the per-connection state machine: the actor
// that owns one net.Conn, decodes/encodes MQTT control packets via
// internal/packets, and drives a single connected client through the
// broker. It is grounded on _examples/gonzalop-mq's Client/logicLoop
// (client.go, logic.go) turned inside out — instead of a client dialing
// out and tracking a server's session, a Session accepts a connection and
// is the server's view of one client's session.
package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gonzalop/zqttd/internal/broker"
	"github.com/gonzalop/zqttd/internal/packets"
	"github.com/gonzalop/zqttd/internal/subscriber"
	"github.com/gonzalop/zqttd/internal/topic"
)

// State is the session's position in the spec §4.3 state machine:
// Accepted -> AwaitingConnect -> Connected -> Closing -> Closed.
type State int32

const (
	StateAccepted State = iota
	StateAwaitingConnect
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateAwaitingConnect:
		return "awaiting_connect"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Errors returned by Serve.
var (
	ErrNoConnectPacket       = errors.New("session: first packet was not CONNECT")
	ErrProtocolViolation     = errors.New("session: protocol violation")
	ErrKeepAliveTimeout      = errors.New("session: keep-alive timeout")
	ErrUnacceptableProtocol  = errors.New("session: unacceptable protocol version")
)

// options holds the tunables a server assembles with Option funcs,
// mirroring clientOptions/Option in _examples/gonzalop-mq/options.go.
type options struct {
	log               *slog.Logger
	connectTimeout    time.Duration
	minKeepAlive      time.Duration
	maxKeepAlive      time.Duration
	maxIncomingPacket int
	mailboxSize       int
}

// Option configures a Session at construction.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		log:               slog.Default(),
		connectTimeout:    5 * time.Second,
		minKeepAlive:      0,
		maxKeepAlive:      0, // 0 = no server-enforced cap
		maxIncomingPacket: 0,
		mailboxSize:       128,
	}
}

// WithLogger sets the logger used for session lifecycle events.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithConnectTimeout bounds how long Serve waits for the first CONNECT
// packet before closing the connection.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) { o.connectTimeout = d }
}

// WithMaxIncomingPacket bounds the size of any single incoming packet.
func WithMaxIncomingPacket(n int) Option {
	return func(o *options) { o.maxIncomingPacket = n }
}

// WithMailboxSize sets the buffered capacity of the outgoing queue shared
// by fanned-out PUBLISH deliveries and command replies. Deliver drops and
// counts when full; write (replies) blocks instead, since those must not
// be silently dropped.
func WithMailboxSize(n int) Option {
	return func(o *options) { o.mailboxSize = n }
}

// Session is one accepted client connection.
type Session struct {
	id     string
	conn   net.Conn
	broker *broker.Broker
	opts   *options

	state atomic.Int32
	// version is the resolved protocol level (4 or 5), set from the
	// CONNECT packet once awaitConnect returns; every later read uses it.
	version   uint8
	keepAlive time.Duration

	outgoing  chan packets.Packet
	closeOnce sync.Once
	closed    chan struct{}

	dropped atomic.Uint64
}

// New returns a Session bound to conn and id, not yet serving.
func New(id string, conn net.Conn, b *broker.Broker, opts ...Option) *Session {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	s := &Session{
		id:       id,
		conn:     conn,
		broker:   b,
		opts:     o,
		outgoing: make(chan packets.Packet, o.mailboxSize),
		closed:   make(chan struct{}),
	}
	s.state.Store(int32(StateAccepted))
	return s
}

// ID implements subscriber.Subscriber.
func (s *Session) ID() string { return s.id }

// Kind implements subscriber.Subscriber.
func (s *Session) Kind() subscriber.Kind { return subscriber.KindLocal }

// Deliver implements subscriber.Subscriber. It never blocks: a full
// outgoing queue results in a dropped message (spec §4.3 SinkFull policy).
// Deliveries share the same queue as command replies so writeLoop remains
// the single writer of s.conn.
func (s *Session) Deliver(msg *subscriber.Message) bool {
	pkt := &packets.PublishPacket{
		QoS:     packets.QoS0,
		Topic:   msg.Channel,
		Payload: msg.Payload,
	}
	select {
	case s.outgoing <- pkt:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// State reports the current state machine position.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Dropped returns the number of deliveries dropped due to a full outgoing queue.
func (s *Session) Dropped() uint64 {
	return s.dropped.Load()
}

// Serve runs the session to completion: it performs the CONNECT handshake,
// then drives the read loop and writer loop until the connection closes,
// the peer disconnects, or a keep-alive timeout fires. It always returns
// after unregistering the session from the broker, mirroring the single
// logicLoop ownership in _examples/gonzalop-mq/logic.go generalized to a
// full duplex accept-side session.
func (s *Session) Serve() error {
	s.setState(StateAwaitingConnect)

	connPkt, err := s.awaitConnect()
	if err != nil {
		s.setState(StateClosed)
		_ = s.conn.Close()
		return err
	}
	s.version = connPkt.ProtocolLevel

	ack := &packets.ConnackPacket{ReturnCode: packets.ConnAccepted}
	if _, err := ack.WriteTo(s.conn); err != nil {
		s.setState(StateClosed)
		_ = s.conn.Close()
		return fmt.Errorf("session: write connack: %w", err)
	}

	s.keepAlive = time.Duration(connPkt.KeepAlive) * time.Second * 3 / 2 // spec §4.3: 1.5x grace
	s.setState(StateConnected)
	s.broker.Connect(s.id, s)
	s.opts.log.Debug("session connected", "session", s.id, "client_id", connPkt.ClientID)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop()
	}()

	readErr := s.readLoop()

	s.setState(StateClosing)
	s.closeOnce.Do(func() { close(s.closed) })
	_ = s.conn.Close()
	wg.Wait()

	s.broker.Disconnect(s.id)
	s.setState(StateClosed)
	s.opts.log.Debug("session disconnected", "session", s.id, "err", readErr)
	return readErr
}

func (s *Session) awaitConnect() (*packets.ConnectPacket, error) {
	if s.opts.connectTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.connectTimeout))
		defer s.conn.SetReadDeadline(time.Time{})
	}

	// The protocol version isn't known until CONNECT's own payload is
	// decoded, so this first read always uses the v3.1.1 decoder; s.version
	// is set from connPkt.ProtocolLevel once we have it, and every
	// subsequent ReadPacket call in readLoop uses that resolved version.
	pkt, err := packets.ReadPacket(s.conn, 4, s.opts.maxIncomingPacket)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoConnectPacket, err)
	}
	connPkt, ok := pkt.(*packets.ConnectPacket)
	if !ok {
		return nil, ErrNoConnectPacket
	}
	return connPkt, nil
}

func (s *Session) readLoop() error {
	for {
		if s.keepAlive > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.keepAlive))
		}

		pkt, err := packets.ReadPacket(s.conn, s.version, s.opts.maxIncomingPacket)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return ErrKeepAliveTimeout
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if done, err := s.handleIncoming(pkt); done || err != nil {
			return err
		}
	}
}

// handleIncoming dispatches one decoded packet, the accept-side analogue
// of handleIncoming in _examples/gonzalop-mq/logic.go. done is true once
// the peer has asked to end the session (DISCONNECT).
func (s *Session) handleIncoming(pkt packets.Packet) (done bool, err error) {
	switch p := pkt.(type) {
	case *packets.SubscribePacket:
		return false, s.handleSubscribe(p)
	case *packets.UnsubscribePacket:
		return false, s.handleUnsubscribe(p)
	case *packets.PublishPacket:
		return false, s.handlePublish(p)
	case *packets.PingreqPacket:
		return false, s.handlePingreq()
	case *packets.DisconnectPacket:
		return true, nil
	default:
		return false, fmt.Errorf("%w: unexpected packet type %T", ErrProtocolViolation, pkt)
	}
}

func (s *Session) handleSubscribe(p *packets.SubscribePacket) error {
	codes := make([]uint8, len(p.Topics))
	for i, t := range p.Topics {
		ssid, err := topic.ParseSubscription(t)
		if err != nil {
			codes[i] = packets.SubackFailure
			continue
		}
		s.broker.Subscribe(s.id, ssid)
		codes[i] = packets.SubackQoS0
	}
	suback := &packets.SubackPacket{PacketID: p.PacketID, ReturnCodes: codes}
	return s.write(suback)
}

func (s *Session) handleUnsubscribe(p *packets.UnsubscribePacket) error {
	for _, t := range p.Topics {
		ssid, err := topic.ParseSubscription(t)
		if err != nil {
			continue
		}
		if err := s.broker.Unsubscribe(s.id, ssid); err != nil {
			s.opts.log.Debug("unsubscribe failed", "session", s.id, "topic", t, "err", err)
		}
	}
	unsuback := &packets.UnsubackPacket{PacketID: p.PacketID}
	return s.write(unsuback)
}

func (s *Session) handlePublish(p *packets.PublishPacket) error {
	ssid, err := topic.ParsePublish(p.Topic)
	if err != nil {
		// An invalid publish topic drops this publish; the session stays open.
		s.opts.log.Debug("dropping publish with invalid topic", "session", s.id, "topic", p.Topic, "err", err)
		return nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	msg := &subscriber.Message{
		ID:      id[:],
		Channel: p.Topic,
		Payload: p.Payload,
	}
	s.broker.Publish(ssid, msg)
	return nil
}

func (s *Session) handlePingreq() error {
	return s.write(&packets.PingrespPacket{})
}

// write enqueues a synchronous request/response reply (SUBACK/UNSUBACK/
// PINGRESP) for writeLoop to send. CONNACK is the one packet written
// directly, by Serve, before writeLoop starts; from then on s.conn has
// exactly one writer, writeLoop, mirroring _examples/gonzalop-mq/client.go's single outgoing
// writer goroutine: readLoop must never call pkt.WriteTo(s.conn) directly,
// since that would race with writeLoop's own PUBLISH deliveries and
// interleave their framed bytes on the wire.
func (s *Session) write(pkt packets.Packet) error {
	select {
	case s.outgoing <- pkt:
		return nil
	case <-s.closed:
		return net.ErrClosed
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case pkt := <-s.outgoing:
			if _, err := pkt.WriteTo(s.conn); err != nil {
				return
			}
		case <-s.closed:
			return
		}
	}
}
