package zqttd

import (
	"log/slog"
	"time"

	"github.com/gonzalop/zqttd/bridge"
)

// serverOptions holds configuration for a running broker server, following
// the functional-options shape of _examples/gonzalop-mq/options.go's
// clientOptions/Option.
type serverOptions struct {
	Logger *slog.Logger

	ListenTCP string
	ListenWS  string

	ConnectTimeout    time.Duration
	MaxIncomingPacket int
	MailboxSize       int

	Bridge *bridge.Options
}

func defaultServerOptions() *serverOptions {
	return &serverOptions{
		Logger:            slog.Default(),
		ListenTCP:         ":1883",
		ConnectTimeout:    5 * time.Second,
		MaxIncomingPacket: 0,
		MailboxSize:       128,
	}
}

// Option configures a server started with Run.
type Option func(*serverOptions)

// WithLogger sets the logger used for broker and session lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(o *serverOptions) { o.Logger = logger }
}

// WithTCPAddr sets the address the plain-TCP listener binds to. Pass ""
// to disable the TCP listener.
func WithTCPAddr(addr string) Option {
	return func(o *serverOptions) { o.ListenTCP = addr }
}

// WithWebSocketAddr enables an MQTT-over-WebSocket listener on addr
// (path "/mqtt"). Disabled by default.
func WithWebSocketAddr(addr string) Option {
	return func(o *serverOptions) { o.ListenWS = addr }
}

// WithConnectTimeout bounds how long a newly accepted connection has to
// send its CONNECT packet.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *serverOptions) { o.ConnectTimeout = d }
}

// WithMaxIncomingPacket bounds the size of any single incoming packet
// accepted from a session.
func WithMaxIncomingPacket(n int) Option {
	return func(o *serverOptions) { o.MaxIncomingPacket = n }
}

// WithMailboxSize sets the per-session buffered mailbox capacity used for
// fanned-out deliveries.
func WithMailboxSize(n int) Option {
	return func(o *serverOptions) { o.MailboxSize = n }
}

// WithBridge enables cross-process forwarding over NATS using opts.
func WithBridge(opts bridge.Options) Option {
	return func(o *serverOptions) { o.Bridge = &opts }
}
