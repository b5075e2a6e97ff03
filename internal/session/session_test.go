package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gonzalop/zqttd/internal/broker"
	"github.com/gonzalop/zqttd/internal/packets"
)

func newTestBroker(t *testing.T) *broker.Broker {
	t.Helper()
	b := broker.New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	t.Cleanup(cancel)
	return b
}

func TestSessionConnectHandshake(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	b := newTestBroker(t)
	s := New("sess-1", server, b)

	done := make(chan error, 1)
	go func() { done <- s.Serve() }()

	conn := &packets.ConnectPacket{ClientID: "tester", KeepAlive: 30}
	if _, err := conn.WriteTo(client); err != nil {
		t.Fatalf("write connect: %v", err)
	}

	pkt, err := packets.ReadPacket(client, 4, 0)
	if err != nil {
		t.Fatalf("read connack: %v", err)
	}
	ack, ok := pkt.(*packets.ConnackPacket)
	if !ok {
		t.Fatalf("expected connack, got %T", pkt)
	}
	if ack.ReturnCode != packets.ConnAccepted {
		t.Fatalf("expected ConnAccepted, got %d", ack.ReturnCode)
	}

	disconnect := &packets.DisconnectPacket{}
	if _, err := disconnect.WriteTo(client); err != nil {
		t.Fatalf("write disconnect: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after DISCONNECT")
	}

	if s.State() != StateClosed {
		t.Fatalf("expected StateClosed, got %v", s.State())
	}
}

func TestSessionSubscribeAndReceivePublish(t *testing.T) {
	subServer, subClient := net.Pipe()
	pubServer, pubClient := net.Pipe()
	defer subClient.Close()
	defer pubClient.Close()

	b := newTestBroker(t)
	subSess := New("subscriber", subServer, b)
	pubSess := New("publisher", pubServer, b)

	go subSess.Serve()
	go pubSess.Serve()

	handshake := func(client net.Conn) {
		t.Helper()
		conn := &packets.ConnectPacket{ClientID: "c", KeepAlive: 0}
		conn.WriteTo(client)
		packets.ReadPacket(client, 4, 0)
	}
	handshake(subClient)
	handshake(pubClient)

	sub := &packets.SubscribePacket{PacketID: 1, Topics: []string{"a/+"}}
	if _, err := sub.WriteTo(subClient); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	ackPkt, err := packets.ReadPacket(subClient, 4, 0)
	if err != nil {
		t.Fatalf("read suback: %v", err)
	}
	suback, ok := ackPkt.(*packets.SubackPacket)
	if !ok {
		t.Fatalf("expected suback, got %T", ackPkt)
	}
	if len(suback.ReturnCodes) != 1 || suback.ReturnCodes[0] != packets.SubackQoS0 {
		t.Fatalf("unexpected suback return codes: %v", suback.ReturnCodes)
	}

	pub := &packets.PublishPacket{Topic: "a/b", Payload: []byte("hello")}
	if _, err := pub.WriteTo(pubClient); err != nil {
		t.Fatalf("write publish: %v", err)
	}

	subClient.SetReadDeadline(time.Now().Add(2 * time.Second))
	deliveredPkt, err := packets.ReadPacket(subClient, 4, 0)
	if err != nil {
		t.Fatalf("read delivered publish: %v", err)
	}
	delivered, ok := deliveredPkt.(*packets.PublishPacket)
	if !ok {
		t.Fatalf("expected publish, got %T", deliveredPkt)
	}
	if delivered.Topic != "a/b" || string(delivered.Payload) != "hello" {
		t.Fatalf("unexpected delivered publish: %+v", delivered)
	}
}

func TestSessionRejectsNonConnectFirst(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	b := newTestBroker(t)
	s := New("sess-1", server, b, WithConnectTimeout(time.Second))

	done := make(chan error, 1)
	go func() { done <- s.Serve() }()

	ping := &packets.PingreqPacket{}
	ping.WriteTo(client)

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error when first packet is not CONNECT")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}
