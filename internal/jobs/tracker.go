package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulgrammer/vidtrack/internal/genapi"
	"github.com/paulgrammer/vidtrack/internal/webhook"
)

const DefaultPollInterval = 5 * time.Second

// Backend is the part of the generation API the tracker depends on.
type Backend interface {
	CreateTextJob(ctx context.Context, req genapi.TextRequest) (genapi.CreateResponse, error)
	CreateImageJob(ctx context.Context, req genapi.ImageRequest, filename string, image []byte) (genapi.CreateResponse, error)
	GetJobStatus(ctx context.Context, id string) (genapi.Job, error)
	ListJobs(ctx context.Context, owner string) ([]genapi.Job, error)
	DownloadArtifact(ctx context.Context, url string) (io.ReadCloser, error)
}

type Option func(*Tracker)

func WithPollInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithOwner pins the session owner, e.g. to resume an earlier session.
func WithOwner(owner string) Option {
	return func(t *Tracker) {
		if owner != "" {
			t.owner = owner
		}
	}
}

func WithStore(store Store) Option {
	return func(t *Tracker) { t.store = store }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithNotifier posts an event to url whenever a job reaches a terminal state.
func WithNotifier(sender webhook.Sender, url string) Option {
	return func(t *Tracker) {
		if sender != nil && url != "" {
			t.sender, t.webhookURL = sender, url
		}
	}
}

// Tracker owns the jobs submitted during one session and keeps every
// non-terminal job fresh by polling the backend at a fixed interval.
type Tracker struct {
	backend    Backend
	store      Store
	owner      string
	interval   time.Duration
	now        func() time.Time
	sender     webhook.Sender
	webhookURL string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	pollers    map[string]context.CancelFunc
	sessionErr error
	stopped    bool

	subsMu      sync.RWMutex
	subscribers map[chan Event]struct{}
	subsClosed  bool
}

func NewTracker(backend Backend, opts ...Option) (*Tracker, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		backend:     backend,
		store:       NewInMemoryStore(),
		owner:       "session_" + uuid.NewString(),
		interval:    DefaultPollInterval,
		now:         func() time.Time { return time.Now().UTC() },
		ctx:         ctx,
		cancel:      cancel,
		pollers:     make(map[string]context.CancelFunc),
		subscribers: make(map[chan Event]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *Tracker) Owner() string { return t.owner }

// Start loads the owner's jobs and begins polling those still running.
// A load failure is returned and recorded as the session error; polling of
// jobs already in the collection resumes either way.
func (t *Tracker) Start(ctx context.Context) error {
	err := t.LoadAll(ctx)
	t.ResumePolling()
	return err
}

// Shutdown cancels every poll, waits for in-flight work and closes all
// subscriber channels. It is safe to call more than once.
func (t *Tracker) Shutdown() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	for id, cancel := range t.pollers {
		cancel()
		delete(t.pollers, id)
	}
	PollsActive.Set(0)
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()

	t.subsMu.Lock()
	t.subsClosed = true
	for ch := range t.subscribers {
		delete(t.subscribers, ch)
		close(ch)
	}
	t.subsMu.Unlock()
}

func (t *Tracker) SubmitText(ctx context.Context, in TextInput) (string, error) {
	if t.isStopped() {
		return "", ErrStopped
	}
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return "", err
	}
	resp, err := t.backend.CreateTextJob(ctx, genapi.TextRequest{
		Prompt:      in.Prompt,
		Duration:    in.Duration,
		AspectRatio: in.AspectRatio,
		Style:       in.Style,
		Quality:     in.Quality,
		UserID:      t.owner,
	})
	if err != nil {
		return "", t.submissionFailed(JobKindText, err)
	}
	return t.accept(JobKindText, resp.JobID, in.fields()), nil
}

func (t *Tracker) SubmitImage(ctx context.Context, in ImageInput) (string, error) {
	if t.isStopped() {
		return "", ErrStopped
	}
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return "", err
	}
	resp, err := t.backend.CreateImageJob(ctx, genapi.ImageRequest{
		Prompt:          in.Prompt,
		Duration:        in.Duration,
		MotionIntensity: in.MotionIntensity,
		CameraMovement:  in.CameraMovement,
		UserID:          t.owner,
	}, in.Filename, in.Image)
	if err != nil {
		return "", t.submissionFailed(JobKindImage, err)
	}
	return t.accept(JobKindImage, resp.JobID, in.fields()), nil
}

func (t *Tracker) submissionFailed(kind JobKind, err error) error {
	JobsSubmittedTotal.WithLabelValues(string(kind), "error").Inc()
	subErr := &SubmissionError{Kind: kind, Err: err}
	slog.Error("job submission failed", "kind", kind, "owner", t.owner, "error", err)
	t.setSessionErr(subErr)
	return subErr
}

func (t *Tracker) accept(kind JobKind, id string, input map[string]any) string {
	now := t.now()
	job := Job{
		ID:        id,
		Owner:     t.owner,
		Status:    JobStatusPending,
		Kind:      kind,
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.store.Prepend(job)
	JobsSubmittedTotal.WithLabelValues(string(kind), "ok").Inc()
	JobsTracked.Set(float64(len(t.store.All())))
	slog.Info("job submitted", "job_id", id, "kind", kind, "owner", t.owner)

	t.clearSessionErr()
	t.broadcast(Event{Type: EventAdded, Job: &job})
	t.BeginPolling(id)
	return id
}

// BeginPolling schedules a status check for id every poll interval,
// replacing any schedule already running for it.
func (t *Tracker) BeginPolling(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if cancel, ok := t.pollers[id]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(t.ctx)
	t.pollers[id] = cancel
	PollsActive.Set(float64(len(t.pollers)))

	t.wg.Add(1)
	go t.poll(ctx, id)
}

// StopPolling cancels the schedule for id, if any. In-flight requests for
// the job are aborted.
func (t *Tracker) StopPolling(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cancel, ok := t.pollers[id]; ok {
		cancel()
		delete(t.pollers, id)
		PollsActive.Set(float64(len(t.pollers)))
	}
}

// ResumePolling begins polling every non-terminal job that has no schedule.
func (t *Tracker) ResumePolling() {
	for _, job := range t.store.All() {
		if job.IsTerminal() || t.IsPolling(job.ID) {
			continue
		}
		t.BeginPolling(job.ID)
	}
}

func (t *Tracker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *Tracker) IsPolling(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pollers[id]
	return ok
}

// ActivePolls returns the number of jobs with a poll schedule.
func (t *Tracker) ActivePolls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pollers)
}

// poll fires on a wall-clock ticker; each tick fetches in its own goroutine
// so a hung request never delays the next one.
func (t *Tracker) poll(ctx context.Context, id string) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.wg.Add(1)
			go func() {
				defer t.wg.Done()
				t.pollOnce(ctx, id)
			}()
		}
	}
}

func (t *Tracker) pollOnce(ctx context.Context, id string) {
	if ctx.Err() != nil {
		return
	}
	job, ok := t.store.Get(id)
	if !ok || job.IsTerminal() {
		// dropped by a reload, or finished via an explicit refresh
		t.StopPolling(id)
		return
	}
	if _, err := t.refresh(ctx, id); err != nil {
		if ctx.Err() != nil {
			return
		}
		PollsTotal.WithLabelValues("error").Inc()
		slog.Warn("job poll failed", "job_id", id, "error", err)
		return
	}
	PollsTotal.WithLabelValues("ok").Inc()
}

// Refresh fetches the job's status once and merges it into the collection.
func (t *Tracker) Refresh(ctx context.Context, id string) (Job, error) {
	if _, ok := t.store.Get(id); !ok {
		return Job{}, jobNotFoundError(id)
	}
	return t.refresh(ctx, id)
}

func (t *Tracker) refresh(ctx context.Context, id string) (Job, error) {
	remote, err := t.backend.GetJobStatus(ctx, id)
	if err != nil {
		return Job{}, err
	}

	var prev Job
	var changed bool
	now := t.now()
	job, ok := t.store.Update(id, func(cur Job) (Job, bool) {
		prev = cur
		next, ok := merge(cur, remote, now)
		changed = ok
		return next, ok
	})
	if !ok {
		return Job{}, jobNotFoundError(id)
	}
	if job.IsTerminal() {
		t.StopPolling(id)
	}
	if !changed {
		return job, nil
	}

	event := Event{Type: EventUpdated, Job: &job}
	if !prev.IsTerminal() && job.IsTerminal() {
		event.Type = t.finished(job)
	} else if prev.Status != job.Status {
		slog.Info("job status changed", "job_id", id, "from", prev.Status, "to", job.Status)
	}
	t.broadcast(event)
	return job, nil
}

func (t *Tracker) finished(job Job) EventType {
	typ := EventCompleted
	if job.Status == JobStatusFailed {
		typ = EventFailed
		JobsFailedTotal.Inc()
		slog.Warn("job failed", "job_id", job.ID, "error", job.Error)
	} else {
		JobsCompletedTotal.Inc()
		slog.Info("job completed", "job_id", job.ID, "artifact", job.ArtifactURL())
	}
	t.notify(job)
	return typ
}

func (t *Tracker) notify(job Job) {
	if t.sender == nil {
		return
	}
	event := webhook.Event{
		JobID:     job.ID,
		Owner:     job.Owner,
		Kind:      string(job.Kind),
		Status:    string(job.Status),
		Error:     job.Error,
		Output:    job.Output,
		Timestamp: t.now(),
	}
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.wg.Add(1)
	t.mu.Unlock()
	go func() {
		defer t.wg.Done()
		if err := t.sender.Notify(t.ctx, t.webhookURL, event); err != nil {
			slog.Warn("webhook delivery failed", "job_id", event.JobID, "error", err)
		}
	}()
}

// LoadAll replaces the collection with the owner's jobs as listed by the
// backend. Jobs submitted while the list request was in flight are kept.
// On failure the collection is left untouched.
func (t *Tracker) LoadAll(ctx context.Context) error {
	mark := t.store.Mark()
	remote, err := t.backend.ListJobs(ctx, t.owner)
	if err != nil {
		err = fmt.Errorf("load jobs for %s: %w", t.owner, err)
		slog.Error("job reload failed", "owner", t.owner, "error", err)
		t.setSessionErr(err)
		return err
	}
	now := t.now()
	jobs := make([]Job, 0, len(remote))
	for _, r := range remote {
		if r.ID == "" {
			continue
		}
		jobs = append(jobs, fromRemote(r, t.owner, now))
	}
	t.store.ReplaceAll(jobs, mark)
	JobsTracked.Set(float64(len(t.store.All())))
	slog.Info("jobs loaded", "owner", t.owner, "count", len(jobs))

	t.clearSessionErr()
	t.broadcast(Event{Type: EventReloaded, Jobs: t.store.All()})
	return nil
}

// Artifact opens the result of a completed job and suggests a file name.
// The caller closes the returned body.
func (t *Tracker) Artifact(ctx context.Context, id string) (io.ReadCloser, string, error) {
	job, ok := t.store.Get(id)
	if !ok {
		return nil, "", jobNotFoundError(id)
	}
	url := job.ArtifactURL()
	if job.Status != JobStatusCompleted || url == "" {
		return nil, "", fmt.Errorf("%w: %s is %s", ErrNotCompleted, id, job.Status)
	}
	body, err := t.backend.DownloadArtifact(ctx, url)
	if err != nil {
		return nil, "", err
	}
	return body, fmt.Sprintf("video_%s.mp4", id), nil
}

func (t *Tracker) Get(id string) (Job, bool) { return t.store.Get(id) }

// Snapshot returns a copy of the collection, most recent first.
func (t *Tracker) Snapshot() []Job { return t.store.All() }

func (t *Tracker) Filter(f Filter) []Job {
	all := t.store.All()
	out := make([]Job, 0, len(all))
	for _, j := range all {
		if f.match(j) {
			out = append(out, j)
		}
	}
	return out
}

func (t *Tracker) Stats() Stats {
	var s Stats
	for _, j := range t.store.All() {
		s.Total++
		switch j.Status {
		case JobStatusPending:
			s.Pending++
		case JobStatusInProgress:
			s.InProgress++
		case JobStatusCompleted:
			s.Completed++
		case JobStatusFailed:
			s.Failed++
		}
	}
	s.Active = s.Pending + s.InProgress
	return s
}

// Err returns the last session-level error: a failed submission or reload.
// It is cleared by the next successful one.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionErr
}

func (t *Tracker) setSessionErr(err error) {
	t.mu.Lock()
	t.sessionErr = err
	t.mu.Unlock()
	t.broadcast(Event{Type: EventError, Error: err.Error()})
}

func (t *Tracker) clearSessionErr() {
	t.mu.Lock()
	t.sessionErr = nil
	t.mu.Unlock()
}

// Subscribe returns a channel receiving every change event. Slow readers
// miss events rather than block the tracker.
func (t *Tracker) Subscribe() chan Event {
	ch := make(chan Event, 100)

	t.subsMu.Lock()
	defer t.subsMu.Unlock()
	if t.subsClosed {
		close(ch)
		return ch
	}
	t.subscribers[ch] = struct{}{}
	return ch
}

func (t *Tracker) Unsubscribe(ch chan Event) {
	t.subsMu.Lock()
	defer t.subsMu.Unlock()
	if _, ok := t.subscribers[ch]; ok {
		delete(t.subscribers, ch)
		close(ch)
	}
}

func (t *Tracker) broadcast(event Event) {
	t.subsMu.RLock()
	defer t.subsMu.RUnlock()
	for ch := range t.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}
