package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialStream(t *testing.T, h http.HandlerFunc) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func TestStreamer_BroadcastDuringSnapshotIsDelivered(t *testing.T) {
	s := NewStreamer()
	t.Cleanup(s.Close)

	conn := dialStream(t, func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hello := func() any {
			// a change that lands while the snapshot is being built
			go s.Broadcast(map[string]string{"type": "updated"})
			return map[string]string{"type": "snapshot"}
		}
		if err := s.Subscribe(c, hello); err != nil {
			c.Close()
		}
	})

	for _, want := range []string{"snapshot", "updated"} {
		var frame map[string]string
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read %s frame: %v", want, err)
		}
		if frame["type"] != want {
			t.Fatalf("expected %s frame, got %v", want, frame)
		}
	}
}

func TestStreamer_DropsFailedClients(t *testing.T) {
	s := NewStreamer()
	t.Cleanup(s.Close)

	registered := make(chan *websocket.Conn, 1)
	conn := dialStream(t, func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if err := s.Subscribe(c, func() any { return "hello" }); err == nil {
			registered <- c
		}
	})
	var hello string
	if err := conn.ReadJSON(&hello); err != nil || hello != "hello" {
		t.Fatalf("unexpected hello %q: %v", hello, err)
	}

	server := <-registered
	server.Close()
	s.Broadcast("after close")
	if s.Count() != 0 {
		t.Fatalf("expected the failed client to be dropped, got %d", s.Count())
	}
}
