package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPSender_DeliversEvent(t *testing.T) {
	var got Event
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("x-vidtrack-event")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewHTTPSender(2*time.Second, 0)
	event := Event{
		JobID:     "abc123",
		Owner:     "session_1",
		Kind:      "text",
		Status:    "completed",
		Output:    map[string]any{"video_url": "/outputs/abc123.mp4"},
		Timestamp: time.Now(),
	}
	if err := s.Notify(context.Background(), srv.URL, event); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if got.JobID != "abc123" || got.Output["video_url"] != "/outputs/abc123.mp4" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if header != "job.completed" {
		t.Fatalf("expected event header job.completed, got %q", header)
	}
}

func TestHTTPSender_RetryThenSuccess(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewHTTPSender(2*time.Second, 5)
	start := time.Now()
	if err := s.Notify(context.Background(), srv.URL, Event{JobID: "2", Status: "failed", Timestamp: time.Now()}); err != nil {
		t.Fatalf("expected eventual success, got error: %v", err)
	}
	if atomic.LoadInt32(&hits) != 3 {
		t.Fatalf("expected 3 attempts, got %d", hits)
	}
	if time.Since(start) < 1500*time.Millisecond {
		t.Fatalf("expected backoff delay to elapse, too fast: %s", time.Since(start))
	}
}

func TestHTTPSender_ClientErrorIsNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	s := NewHTTPSender(time.Second, 3)
	err := s.Notify(context.Background(), srv.URL, Event{JobID: "3", Status: "completed", Timestamp: time.Now()})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusGone {
		t.Fatalf("expected StatusError 410, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected a single attempt, got %d", hits)
	}
}

func TestHTTPSender_ExhaustRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewHTTPSender(500*time.Millisecond, 1)
	if err := s.Notify(context.Background(), srv.URL, Event{JobID: "4", Status: "failed", Timestamp: time.Now()}); err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
}

func TestHTTPSender_ContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewHTTPSender(5*time.Second, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := s.Notify(ctx, srv.URL, Event{JobID: "5", Status: "completed", Timestamp: time.Now()}); err == nil {
		t.Fatalf("expected context timeout error")
	}
}
