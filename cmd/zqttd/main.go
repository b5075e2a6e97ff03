// Command zqttd starts a standalone broker process. It is the thin,
// out-of-scope external glue around the zqttd package: flag parsing,
// logger setup, and signal handling, the same division of labor
// _examples/other_examples's mqtt-adapter main.go draws between its main
// function and the library packages it wires together.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gonzalop/zqttd"
	"github.com/gonzalop/zqttd/bridge"
)

func main() {
	var (
		tcpAddr   = flag.String("tcp", ":1883", "address to listen on for plain MQTT (empty to disable)")
		wsAddr    = flag.String("ws", "", "address to listen on for MQTT-over-WebSocket (empty to disable)")
		logLevel  = flag.String("log-level", "info", "log level: debug, info, warn, error")
		natsURL   = flag.String("bridge-nats-url", "", "NATS URL to bridge publishes through (empty disables bridging)")
	)
	flag.Parse()

	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "zqttd: invalid -log-level %q: %v\n", *logLevel, err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := []zqttd.Option{
		zqttd.WithLogger(logger),
		zqttd.WithTCPAddr(*tcpAddr),
	}
	if *wsAddr != "" {
		opts = append(opts, zqttd.WithWebSocketAddr(*wsAddr))
	}
	if *natsURL != "" {
		opts = append(opts, zqttd.WithBridge(bridge.Options{URLs: []string{*natsURL}}))
	}

	handle, err := zqttd.Run(opts...)
	if err != nil {
		logger.Error("failed to start broker", "err", err)
		os.Exit(1)
	}
	logger.Info("broker started", "tcp", *tcpAddr, "ws", *wsAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := handle.Stop(shutdownCtx); err != nil {
		logger.Error("error during shutdown", "err", err)
		os.Exit(1)
	}
}
