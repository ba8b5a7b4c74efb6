package jobs

import (
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/paulgrammer/vidtrack/internal/genapi"
)

// normalizeStatus maps the backend vocabulary onto JobStatus. Cancelled jobs
// surface as failed.
func normalizeStatus(raw string) (JobStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "queued":
		return JobStatusPending, true
	case "in_progress", "processing", "running":
		return JobStatusInProgress, true
	case "completed", "complete", "succeeded":
		return JobStatusCompleted, true
	case "failed", "error", "cancelled", "canceled":
		return JobStatusFailed, true
	default:
		return "", false
	}
}

func failureMessage(remote genapi.Job) string {
	switch {
	case remote.ErrorMessage != "":
		return remote.ErrorMessage
	case remote.Message != "":
		return remote.Message
	case remote.Status == "cancelled" || remote.Status == "canceled":
		return "cancelled"
	default:
		return "generation failed"
	}
}

// merge builds the next record for cur from a backend response. Terminal
// records never change. A response that would move the status backwards, or
// carries an unknown status, only refreshes updated_at.
func merge(cur Job, remote genapi.Job, now time.Time) (Job, bool) {
	if cur.IsTerminal() {
		return cur, false
	}
	next := cur.clone()
	next.UpdatedAt = now

	status, ok := normalizeStatus(remote.Status)
	if !ok {
		slog.Warn("unknown backend status", "job_id", cur.ID, "status", remote.Status)
		return next, true
	}
	if status.rank() < cur.Status.rank() {
		slog.Debug("ignoring stale status", "job_id", cur.ID, "stored", cur.Status, "received", status)
		return next, true
	}

	next.Status = status
	if remote.Progress != nil {
		p := *remote.Progress
		next.Progress = &p
	}
	if remote.ProcessingTime != nil {
		p := *remote.ProcessingTime
		next.ProcessingTime = &p
	}
	switch status {
	case JobStatusCompleted:
		next.Output = maps.Clone(remote.OutputData)
		next.CompletedAt = completedAt(remote, now)
	case JobStatusFailed:
		next.Error = failureMessage(remote)
		next.CompletedAt = completedAt(remote, now)
	}
	return next, true
}

func completedAt(remote genapi.Job, now time.Time) *time.Time {
	t := now
	if !remote.CompletedAt.IsZero() {
		t = remote.CompletedAt
	}
	return &t
}

// fromRemote builds a record from a listed backend job.
func fromRemote(remote genapi.Job, owner string, now time.Time) Job {
	status, ok := normalizeStatus(remote.Status)
	if !ok {
		status = JobStatusPending
	}
	kind := JobKindText
	if strings.EqualFold(remote.InputType, string(JobKindImage)) {
		kind = JobKindImage
	}
	if remote.UserID != "" {
		owner = remote.UserID
	}
	job := Job{
		ID:        remote.ID,
		Owner:     owner,
		Status:    status,
		Kind:      kind,
		Input:     maps.Clone(remote.InputData),
		CreatedAt: remote.CreatedAt,
		UpdatedAt: remote.UpdatedAt,
	}
	if job.Input == nil {
		job.Input = map[string]any{}
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	if remote.Progress != nil {
		p := *remote.Progress
		job.Progress = &p
	}
	if remote.ProcessingTime != nil {
		p := *remote.ProcessingTime
		job.ProcessingTime = &p
	}
	switch status {
	case JobStatusCompleted:
		job.Output = maps.Clone(remote.OutputData)
		job.CompletedAt = completedAt(remote, job.UpdatedAt)
	case JobStatusFailed:
		job.Error = failureMessage(remote)
		job.CompletedAt = completedAt(remote, job.UpdatedAt)
	}
	return job
}
