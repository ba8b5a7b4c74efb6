package genapi

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// TextRequest is the body of a text-to-video creation request.
type TextRequest struct {
	Prompt      string `json:"prompt"`
	Duration    int    `json:"duration,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Style       string `json:"style,omitempty"`
	Quality     string `json:"quality,omitempty"`
	UserID      string `json:"user_id"`
}

// ImageRequest carries the form fields sent next to the uploaded image.
type ImageRequest struct {
	Prompt          string
	Duration        int
	MotionIntensity string
	CameraMovement  string
	UserID          string
}

type CreateResponse struct {
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	Message       string `json:"message"`
	EstimatedTime int    `json:"estimated_time,omitempty"`
}

type CancelResponse struct {
	JobID   string `json:"job_id,omitempty"`
	Success bool   `json:"success"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message"`
}

type Health struct {
	Status      string            `json:"status"`
	Timestamp   int64             `json:"timestamp"`
	Version     string            `json:"version,omitempty"`
	Environment string            `json:"environment,omitempty"`
	Services    map[string]string `json:"services,omitempty"`
}

// Job is a job as reported by the backend. Status is the raw backend value;
// callers normalize it.
type Job struct {
	ID             string
	UserID         string
	Status         string
	InputType      string
	InputData      map[string]any
	OutputData     map[string]any
	ErrorMessage   string
	Message        string
	Progress       *float64
	ProcessingTime *float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    time.Time
}

type wireJob struct {
	ID             string          `json:"id"`
	JobID          string          `json:"job_id"`
	UserID         string          `json:"user_id"`
	Status         string          `json:"status"`
	InputType      string          `json:"input_type"`
	InputData      json.RawMessage `json:"input_data"`
	OutputData     json.RawMessage `json:"output_data"`
	Output         json.RawMessage `json:"output"`
	Result         json.RawMessage `json:"result"`
	ErrorMessage   string          `json:"error_message"`
	Error          json.RawMessage `json:"error"`
	Message        string          `json:"message"`
	Progress       *float64        `json:"progress"`
	ProcessingTime *float64        `json:"processing_time"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
	CompletedAt    string          `json:"completed_at"`
}

// UnmarshalJSON accepts both the job record shape (id, output_data,
// error_message) and the status endpoint shape (job_id, result).
func (j *Job) UnmarshalJSON(data []byte) error {
	var w wireJob
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*j = Job{
		ID:             firstNonEmpty(w.ID, w.JobID),
		UserID:         w.UserID,
		Status:         strings.ToLower(strings.TrimSpace(w.Status)),
		InputType:      w.InputType,
		InputData:      object(w.InputData),
		ErrorMessage:   firstNonEmpty(w.ErrorMessage, text(w.Error)),
		Message:        w.Message,
		Progress:       w.Progress,
		ProcessingTime: w.ProcessingTime,
		CreatedAt:      parseTime(w.CreatedAt),
		UpdatedAt:      parseTime(w.UpdatedAt),
		CompletedAt:    parseTime(w.CompletedAt),
	}
	for _, raw := range []json.RawMessage{w.OutputData, w.Output, w.Result} {
		if out := object(raw); len(out) > 0 {
			j.OutputData = out
			break
		}
	}
	return nil
}

// object decodes raw as a JSON object, returning nil for null or any other type.
func object(raw json.RawMessage) map[string]any {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func text(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return ""
	}
	var s string
	_ = json.Unmarshal(raw, &s)
	return s
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07:00",
	"2006-01-02 15:04:05.999999",
}

// parseTime understands RFC 3339 as well as the naive ISO timestamps some
// backends emit. Naive values are taken as UTC; unparsable values are zero.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
