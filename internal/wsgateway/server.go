// Package wsgateway relays live dispatched packets — events and job
// results — from an esl.Engine to browser/dashboard clients over a
// WebSocket, JSON-framed. Each connected client is, from the engine's
// point of view, just another subscriber.
package wsgateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/go-eventsocket/internal/esl"
)

// Message is the JSON envelope sent to every connected client.
type Message struct {
	Type      string            `json:"type"` // "event" or "job_result"
	EventName string            `json:"event_name,omitempty"`
	JobID     string            `json:"job_id,omitempty"`
	Success   bool              `json:"success"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Server upgrades incoming HTTP requests to WebSocket connections and
// relays engine events to each one.
type Server struct {
	engine   *esl.Engine
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	sub  *esl.Subscription
	done chan struct{}
}

// New constructs a Server relaying events from engine.
func New(engine *esl.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:  engine,
		logger:  logger,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler, upgrading the connection and
// streaming every event dispatched by the engine until the client
// disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("wsgateway: upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	sub := s.engine.StartListening(ctx, nil, 64)
	c := &client{conn: conn, sub: sub, done: make(chan struct{})}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	defer func() {
		cancel()
		sub.Stop()
		conn.Close()
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
	}()

	go s.readPump(c)
	s.writePump(c)
}

// readPump drains (and discards) inbound frames so the client's pong
// responses and close frames are processed; this gateway currently
// accepts no commands from the browser side.
func (s *Server) readPump(c *client) {
	defer close(c.done)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case p, ok := <-c.sub.Events():
			if !ok {
				return
			}
			if err := s.send(c, eventMessage(p)); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (s *Server) send(c *client, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Broadcast pushes msg to every currently connected client,
// fire-and-forget. Useful for relaying job results, which arrive on a
// per-call channel rather than through the subscriber fan-out.
func (s *Server) Broadcast(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		go s.send(c, msg)
	}
}

func eventMessage(p *esl.Packet) Message {
	return Message{
		Type:      "event",
		EventName: p.Field("Event-Name"),
		Success:   p.Success,
		Fields:    p.Parsed,
	}
}

// JobResultMessage converts a job result into the wire message shape
// for Broadcast.
func JobResultMessage(result *esl.JobResult) Message {
	return Message{
		Type:    "job_result",
		JobID:   result.JobID,
		Success: result.Packet.Success,
		Fields:  result.Packet.Parsed,
	}
}
