package jobs

import (
	"maps"
	"time"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// rank orders statuses along pending -> in_progress -> completed|failed.
func (s JobStatus) rank() int {
	switch s {
	case JobStatusInProgress:
		return 1
	case JobStatusCompleted, JobStatusFailed:
		return 2
	default:
		return 0
	}
}

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

type JobKind string

const (
	JobKindText  JobKind = "text"
	JobKindImage JobKind = "image"
)

// Job is one video generation request and its tracked lifecycle.
type Job struct {
	ID     string         `json:"id"`
	Owner  string         `json:"owner"`
	Status JobStatus      `json:"status"`
	Kind   JobKind        `json:"kind"`
	Input  map[string]any `json:"input"`
	Output map[string]any `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`

	Progress       *float64 `json:"progress,omitempty"`
	ProcessingTime *float64 `json:"processing_time,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (j Job) IsTerminal() bool { return j.Status.IsTerminal() }

// ArtifactURL returns the result location of a completed job, if any.
func (j Job) ArtifactURL() string {
	for _, key := range []string{"video_url", "url"} {
		if s, ok := j.Output[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func (j Job) clone() Job {
	out := j
	out.Input = maps.Clone(j.Input)
	out.Output = maps.Clone(j.Output)
	if j.Progress != nil {
		p := *j.Progress
		out.Progress = &p
	}
	if j.ProcessingTime != nil {
		p := *j.ProcessingTime
		out.ProcessingTime = &p
	}
	if j.CompletedAt != nil {
		c := *j.CompletedAt
		out.CompletedAt = &c
	}
	return out
}

type EventType string

const (
	EventAdded     EventType = "added"
	EventUpdated   EventType = "updated"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventReloaded  EventType = "reloaded"
	EventError     EventType = "error"
	// EventSnapshot carries the whole collection; sent to new stream clients.
	EventSnapshot EventType = "snapshot"
)

// Event is published to subscribers on every change to the collection.
type Event struct {
	Type  EventType `json:"type"`
	Job   *Job      `json:"job,omitempty"`
	Jobs  []Job     `json:"jobs,omitempty"`
	Error string    `json:"error,omitempty"`
}

type Filter string

const (
	FilterAll       Filter = "all"
	FilterActive    Filter = "active"
	FilterCompleted Filter = "completed"
	FilterFailed    Filter = "failed"
)

// ParseFilter maps a query value to a Filter. Empty means all.
func ParseFilter(s string) (Filter, bool) {
	switch f := Filter(s); f {
	case "":
		return FilterAll, true
	case FilterAll, FilterActive, FilterCompleted, FilterFailed:
		return f, true
	default:
		return "", false
	}
}

func (f Filter) match(j Job) bool {
	switch f {
	case FilterActive:
		return !j.IsTerminal()
	case FilterCompleted:
		return j.Status == JobStatusCompleted
	case FilterFailed:
		return j.Status == JobStatusFailed
	default:
		return true
	}
}

type Stats struct {
	Total      int `json:"total"`
	Active     int `json:"active"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}
