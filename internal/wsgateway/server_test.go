package wsgateway

import (
	"context"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/go-eventsocket/internal/esl"
)

// newConnectedEngine spins up an Engine against an in-memory pipe and
// drives it straight through authentication, so tests can focus on
// the gateway's relay behavior.
func newConnectedEngine(t *testing.T) *esl.Engine {
	t.Helper()
	serverCh := make(chan net.Conn, 1)
	dial := func(ctx context.Context, address string) (net.Conn, error) {
		client, server := net.Pipe()
		serverCh <- server
		return client, nil
	}
	e := esl.NewEngine(esl.Config{Host: "h", Port: 1, Password: "ClueCon", Dial: dial})
	e.Start()
	t.Cleanup(e.Stop)

	server := <-serverCh
	go func() {
		server.Write([]byte("Content-Type: auth/request\n\n"))
		buf := make([]byte, 256)
		server.Read(buf)
		server.Write([]byte("Content-Type: command/reply\nReply-Text: +OK accepted\n\n"))

		for {
			n, err := server.Read(buf)
			if err != nil {
				return
			}
			_ = n
		}
	}()

	deadline := time.Now().Add(time.Second)
	for e.State() != esl.StateConnected && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	return e
}

func TestServer_RelaysEventToClient(t *testing.T) {
	engine := newConnectedEngine(t)
	srv := New(engine, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give ServeHTTP time to register its subscription before the
	// event is emitted.
	time.Sleep(20 * time.Millisecond)

	sub := engine.StartListening(nil, nil, 1)
	defer sub.Stop()

	msg := eventMessage(&esl.Packet{Parsed: map[string]string{"Event-Name": "HEARTBEAT"}})
	srv.Broadcast(msg)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !strings.Contains(string(data), "HEARTBEAT") {
		t.Errorf("got %s, want it to contain HEARTBEAT", data)
	}
}
