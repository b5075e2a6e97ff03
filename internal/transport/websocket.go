package transport

import (
	"context"
	"errors"
	"net"
	"net/http"

	"nhooyr.io/websocket"
)

// wsListener adapts an http.Server accepting the "mqtt" WebSocket
// subprotocol into the Listener interface, so the server's accept loop
// can treat it exactly like a TCP listener. Each upgraded connection is
// wrapped with websocket.NetConn, following the client-side usage in
// _examples/gonzalop-mq/examples/websocket/main.go turned around to the
// accept side.
type wsListener struct {
	tcp    net.Listener
	srv    *http.Server
	accept chan net.Conn
	closed chan struct{}
}

// ListenWebSocket opens a TCP listener serving MQTT-over-WebSocket on
// path "/mqtt". It returns a Listener whose Accept yields one net.Conn
// per successfully upgraded WebSocket connection.
func ListenWebSocket(addr string) (Listener, error) {
	tcp, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	l := &wsListener{
		tcp:    tcp,
		accept: make(chan net.Conn),
		closed: make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/mqtt", l.handleUpgrade)
	l.srv = &http.Server{Handler: mux}

	go func() {
		_ = l.srv.Serve(tcp)
	}()

	return l, nil
}

func (l *wsListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"mqtt"},
	})
	if err != nil {
		return
	}
	conn := websocket.NetConn(context.Background(), c, websocket.MessageBinary)

	select {
	case l.accept <- conn:
	case <-l.closed:
		_ = conn.Close()
	}
}

func (l *wsListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.accept:
		return c, nil
	case <-l.closed:
		return nil, errors.New("transport: websocket listener closed")
	}
}

func (l *wsListener) Close() error {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	return l.srv.Close()
}

func (l *wsListener) Addr() net.Addr {
	return l.tcp.Addr()
}
