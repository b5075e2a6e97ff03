package zqttd

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/gonzalop/zqttd/bridge"
	"github.com/gonzalop/zqttd/internal/broker"
	"github.com/gonzalop/zqttd/internal/session"
	"github.com/gonzalop/zqttd/internal/subscriber"
	"github.com/gonzalop/zqttd/internal/transport"
)

// Handle controls a running broker server, returned by Run.
type Handle struct {
	opts    *serverOptions
	broker  *broker.Broker
	bridge  *bridge.Bridge
	unbridge func() error

	listeners []transport.Listener

	cancel context.CancelFunc
	group  *errgroup.Group
	stopped bool
}

// Run starts a broker server and begins accepting connections on every
// configured listener. It returns immediately; use the returned Handle to
// Stop the server. The accept loops run under a golang.org/x/sync/errgroup,
// the same group-of-goroutines idiom _examples/other_examples's mqtt
// adapter main uses to supervise its own long-running components.
func Run(opts ...Option) (*Handle, error) {
	o := defaultServerOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	b := broker.New(o.Logger, nil)
	g.Go(func() error {
		b.Run(gctx)
		return nil
	})

	h := &Handle{opts: o, broker: b, cancel: cancel, group: g}

	if o.ListenTCP != "" {
		l, err := transport.ListenTCP(o.ListenTCP)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("%w: tcp %s: %v", ErrListenFailed, o.ListenTCP, err)
		}
		h.listeners = append(h.listeners, l)
		g.Go(func() error { return h.acceptLoop(gctx, l) })
	}

	if o.ListenWS != "" {
		l, err := transport.ListenWebSocket(o.ListenWS)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("%w: websocket %s: %v", ErrListenFailed, o.ListenWS, err)
		}
		h.listeners = append(h.listeners, l)
		g.Go(func() error { return h.acceptLoop(gctx, l) })
	}

	if o.Bridge != nil {
		br, err := bridge.Connect(*o.Bridge)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("zqttd: bridge connect: %w", err)
		}
		h.bridge = br
		b.SetForwarder(func(msg *subscriber.Message) {
			if err := br.Forward(msg); err != nil {
				h.opts.Logger.Warn("bridge forward failed", "channel", msg.Channel, "err", err)
			}
		})
		unsub, err := br.Subscribe(b)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("zqttd: bridge subscribe: %w", err)
		}
		h.unbridge = unsub
	}

	return h, nil
}

func (h *Handle) acceptLoop(ctx context.Context, l transport.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}
		go h.serveConn(ctx, conn)
	}
}

func (h *Handle) serveConn(ctx context.Context, conn net.Conn) {
	id := h.broker.NextUID().String()
	sess := session.New(id, conn, h.broker,
		session.WithLogger(h.opts.Logger),
		session.WithConnectTimeout(h.opts.ConnectTimeout),
		session.WithMaxIncomingPacket(h.opts.MaxIncomingPacket),
		session.WithMailboxSize(h.opts.MailboxSize),
	)
	if err := sess.Serve(); err != nil {
		h.opts.Logger.Debug("session ended", "session", id, "err", err)
	}
}

// Stats returns a point-in-time snapshot of broker activity counters.
func (h *Handle) Stats() broker.Stats {
	return h.broker.Stats()
}

// Addr returns the address of the first configured listener (TCP if
// enabled, otherwise WebSocket), useful for tests that bind to ":0".
func (h *Handle) Addr() string {
	if len(h.listeners) == 0 {
		return ""
	}
	return h.listeners[0].Addr().String()
}

// Stop closes every listener, stops the broker actor, and waits for the
// accept loops to exit. It returns ErrAlreadyStopped if called twice.
func (h *Handle) Stop(ctx context.Context) error {
	if h.stopped {
		return ErrAlreadyStopped
	}
	h.stopped = true

	for _, l := range h.listeners {
		_ = l.Close()
	}
	if h.unbridge != nil {
		_ = h.unbridge()
	}
	if h.bridge != nil {
		_ = h.bridge.Close()
	}
	h.cancel()

	done := make(chan error, 1)
	go func() { done <- h.group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
