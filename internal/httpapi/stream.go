package httpapi

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/paulgrammer/vidtrack/internal/jobs"
)

const writeWait = 10 * time.Second

// Streamer fans tracker events out to websocket clients.
type Streamer struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewStreamer() *Streamer {
	return &Streamer{conns: make(map[*websocket.Conn]struct{})}
}

// Run broadcasts every event until events is closed, then closes all clients.
func (s *Streamer) Run(events <-chan jobs.Event) {
	for ev := range events {
		s.Broadcast(ev)
	}
	s.Close()
}

// Subscribe writes the frame built by hello to conn and registers it for
// broadcasts. hello runs under the broadcast lock, so every change not
// reflected in it reaches the client as a later event.
func (s *Streamer) Subscribe(conn *websocket.Conn, hello func() any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := write(conn, hello()); err != nil {
		return err
	}
	s.conns[conn] = struct{}{}
	return nil
}

func (s *Streamer) Unsubscribe(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[conn]; ok {
		delete(s.conns, conn)
		conn.Close()
	}
}

// Broadcast writes v to every client, dropping those that fail.
func (s *Streamer) Broadcast(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		if err := write(conn, v); err != nil {
			slog.Debug("dropping stream client", "remote", conn.RemoteAddr().String(), "error", err)
			delete(s.conns, conn)
			conn.Close()
		}
	}
}

// Close disconnects every client.
func (s *Streamer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
		delete(s.conns, conn)
	}
}

func (s *Streamer) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func write(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
