package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Event is posted when a tracked job reaches a terminal state.
type Event struct {
	JobID     string         `json:"job_id"`
	Owner     string         `json:"owner"`
	Kind      string         `json:"kind"`
	Status    string         `json:"status"`
	Error     string         `json:"error,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sender delivers events to a webhook URL.
type Sender interface {
	Notify(ctx context.Context, url string, event Event) error
}

// StatusError is a non-2xx webhook response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook responded %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

type httpsender struct {
	client      *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// NewHTTPSender retries transport errors, 429 and 5xx responses with
// exponential backoff. Other 4xx responses are returned immediately.
func NewHTTPSender(timeout time.Duration, maxRetries int) Sender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 3
	}
	return &httpsender{
		client:      &http.Client{Timeout: timeout},
		maxRetries:  maxRetries,
		baseBackoff: 500 * time.Millisecond,
	}
}

func (s *httpsender) Notify(ctx context.Context, url string, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.backoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		retry, err := s.post(ctx, url, event.Status, body)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (s *httpsender) post(ctx context.Context, url, status string, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("x-vidtrack-event", "job."+status)

	resp, err := s.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}
	retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return retry, &StatusError{StatusCode: resp.StatusCode}
}

// backoff doubles per attempt with a small linear jitter.
func (s *httpsender) backoff(attempt int) time.Duration {
	return s.baseBackoff*(1<<(attempt-1)) + time.Duration(attempt*50)*time.Millisecond
}
