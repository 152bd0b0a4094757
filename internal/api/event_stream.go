package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atmx/arena-engine/internal/metrics"
	"github.com/atmx/arena-engine/internal/session"
)

const (
	eventBacklog   = 256
	readTimeout    = 60 * time.Second
	heartbeatEvery = 30 * time.Second
)

// EventStream pushes session progress events (session started, agent
// decided, trade filled, rankings updated) to WebSocket subscribers.
// It implements session.Publisher.
type EventStream struct {
	mu          sync.RWMutex
	subscribers map[*websocket.Conn]struct{}

	events chan []byte
	joins  chan *websocket.Conn
	leaves chan *websocket.Conn
	done   chan struct{}
}

func NewEventStream() *EventStream {
	return &EventStream{
		subscribers: make(map[*websocket.Conn]struct{}),
		events:      make(chan []byte, eventBacklog),
		joins:       make(chan *websocket.Conn),
		leaves:      make(chan *websocket.Conn),
		done:        make(chan struct{}),
	}
}

// Run delivers events until ctx is done, then disconnects every subscriber.
// Call it once.
func (s *EventStream) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(s.done)
			s.mu.Lock()
			for conn := range s.subscribers {
				conn.Close()
				delete(s.subscribers, conn)
			}
			s.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return
		case conn := <-s.joins:
			n := s.add(conn)
			slog.Info("event subscriber joined", "subscribers", n)
		case conn := <-s.leaves:
			n := s.drop(conn)
			slog.Debug("event subscriber left", "subscribers", n)
		case payload := <-s.events:
			s.deliver(payload)
		}
	}
}

func (s *EventStream) add(conn *websocket.Conn) int {
	s.mu.Lock()
	s.subscribers[conn] = struct{}{}
	n := len(s.subscribers)
	s.mu.Unlock()
	metrics.WebSocketClients.Set(float64(n))
	return n
}

func (s *EventStream) drop(conn *websocket.Conn) int {
	s.mu.Lock()
	if _, ok := s.subscribers[conn]; ok {
		delete(s.subscribers, conn)
		conn.Close()
	}
	n := len(s.subscribers)
	s.mu.Unlock()
	metrics.WebSocketClients.Set(float64(n))
	return n
}

// deliver writes one event to every subscriber, dropping those whose
// connection fails.
func (s *EventStream) deliver(payload []byte) {
	s.mu.Lock()
	for conn := range s.subscribers {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			conn.Close()
			delete(s.subscribers, conn)
		}
	}
	n := len(s.subscribers)
	s.mu.Unlock()
	metrics.WebSocketClients.Set(float64(n))
}

func (s *EventStream) subscribed(conn *websocket.Conn) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.subscribers[conn]
	return ok
}

// Publish queues a session event. It never blocks the orchestrator: when
// the backlog is full the event is dropped.
func (s *EventStream) Publish(e session.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		slog.Warn("session event encode failed", "type", e.Type, "err", err)
		return
	}
	select {
	case s.events <- payload:
	default:
		slog.Warn("event backlog full, dropping session event", "type", e.Type, "session", e.SessionID)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// Subscribe upgrades GET /api/v1/ws. Subscribers only listen; anything they
// send is discarded.
func (s *EventStream) Subscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("event stream upgrade failed", "err", err)
		return
	}
	select {
	case s.joins <- conn:
	case <-s.done:
		conn.Close()
		return
	}

	go s.discardInbound(conn)
	go s.heartbeat(conn)
}

func (s *EventStream) discardInbound(conn *websocket.Conn) {
	defer func() {
		select {
		case s.leaves <- conn:
		case <-s.done:
		}
	}()
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *EventStream) heartbeat(conn *websocket.Conn) {
	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()
	for range ticker.C {
		if !s.subscribed(conn) {
			return
		}
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
			return
		}
	}
}
