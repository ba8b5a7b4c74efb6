package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/paulgrammer/vidtrack/internal/genapi"
	"github.com/paulgrammer/vidtrack/internal/jobs"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// HealthChecker reports the backend's health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) (genapi.Health, error)
}

type router struct {
	tracker  *jobs.Tracker
	health   HealthChecker
	streamer *Streamer
}

func NewRouter(tracker *jobs.Tracker, health HealthChecker, streamer *Streamer) http.Handler {
	r := &router{tracker: tracker, health: health, streamer: streamer}
	m := http.NewServeMux()
	m.HandleFunc("GET /healthz", r.handleHealth)
	m.HandleFunc("GET /backend/health", r.handleBackendHealth)
	m.HandleFunc("POST /jobs/text", r.handleSubmitText)
	m.HandleFunc("POST /jobs/image", r.handleSubmitImage)
	m.HandleFunc("POST /jobs/reload", r.handleReload)
	m.HandleFunc("GET /jobs", r.handleList)
	m.HandleFunc("GET /jobs/stream", r.handleStream)
	m.HandleFunc("GET /jobs/{id}", r.handleJob)
	m.HandleFunc("POST /jobs/{id}/refresh", r.handleRefresh)
	m.HandleFunc("GET /jobs/{id}/artifact", r.handleArtifact)
	m.Handle("GET /metrics", promhttp.Handler())
	return logging(m)
}

func (r *router) handleHealth(w http.ResponseWriter, req *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *router) handleBackendHealth(w http.ResponseWriter, req *http.Request) {
	h, err := r.health.HealthCheck(req.Context())
	if err != nil {
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	respondWithJSON(w, http.StatusOK, h)
}

func (r *router) handleSubmitText(w http.ResponseWriter, req *http.Request) {
	var body jobs.TextInput
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, errors.New("invalid json"))
		return
	}
	id, err := r.tracker.SubmitText(req.Context(), body)
	r.respondSubmitted(w, id, err)
}

func (r *router) handleSubmitImage(w http.ResponseWriter, req *http.Request) {
	req.Body = http.MaxBytesReader(w, req.Body, jobs.MaxImageSize+(1<<20))
	if err := req.ParseMultipartForm(jobs.MaxImageSize); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart form: %w", err))
		return
	}
	file, header, err := req.FormFile("image")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, errors.New("image file required"))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Errorf("read image: %w", err))
		return
	}

	in := jobs.ImageInput{
		Prompt:          req.FormValue("prompt"),
		MotionIntensity: req.FormValue("motion_intensity"),
		CameraMovement:  req.FormValue("camera_movement"),
		Filename:        header.Filename,
		Image:           data,
	}
	if v := req.FormValue("duration"); v != "" {
		if in.Duration, err = strconv.Atoi(v); err != nil {
			respondWithError(w, http.StatusBadRequest, errors.New("duration must be an integer"))
			return
		}
	}
	id, err := r.tracker.SubmitImage(req.Context(), in)
	r.respondSubmitted(w, id, err)
}

func (r *router) respondSubmitted(w http.ResponseWriter, id string, err error) {
	if err != nil {
		respondWithError(w, errorStatus(err), err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": string(jobs.JobStatusPending)})
}

func (r *router) handleList(w http.ResponseWriter, req *http.Request) {
	filter, ok := jobs.ParseFilter(req.URL.Query().Get("filter"))
	if !ok {
		respondWithError(w, http.StatusBadRequest, errors.New("filter must be one of all, active, completed, failed"))
		return
	}
	body := map[string]any{
		"owner": r.tracker.Owner(),
		"jobs":  r.tracker.Filter(filter),
		"stats": r.tracker.Stats(),
	}
	if err := r.tracker.Err(); err != nil {
		body["error"] = err.Error()
	}
	respondWithJSON(w, http.StatusOK, body)
}

func (r *router) handleJob(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	job, ok := r.tracker.Get(id)
	if !ok {
		respondWithError(w, http.StatusNotFound, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, id))
		return
	}
	respondWithJSON(w, http.StatusOK, job)
}

func (r *router) handleRefresh(w http.ResponseWriter, req *http.Request) {
	job, err := r.tracker.Refresh(req.Context(), req.PathValue("id"))
	if err != nil {
		respondWithError(w, errorStatus(err), err)
		return
	}
	respondWithJSON(w, http.StatusOK, job)
}

func (r *router) handleReload(w http.ResponseWriter, req *http.Request) {
	if err := r.tracker.LoadAll(req.Context()); err != nil {
		respondWithError(w, errorStatus(err), err)
		return
	}
	r.tracker.ResumePolling()
	respondWithJSON(w, http.StatusOK, map[string]any{"jobs": r.tracker.Snapshot(), "stats": r.tracker.Stats()})
}

func (r *router) handleArtifact(w http.ResponseWriter, req *http.Request) {
	body, name, err := r.tracker.Artifact(req.Context(), req.PathValue("id"))
	if err != nil {
		respondWithError(w, errorStatus(err), err)
		return
	}
	defer body.Close()

	// videos can outlast the server's write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	w.Header().Set("content-type", "video/mp4")
	w.Header().Set("content-disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	w.WriteHeader(http.StatusOK)
	if n, err := io.Copy(w, body); err != nil {
		slog.Warn("artifact stream aborted", "job_id", req.PathValue("id"), "bytes", n, "error", err)
	}
}

func (r *router) handleStream(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		slog.Error("failed to upgrade connection", "error", err)
		return
	}

	hello := func() any {
		return jobs.Event{Type: jobs.EventSnapshot, Jobs: r.tracker.Snapshot()}
	}
	if err := r.streamer.Subscribe(conn, hello); err != nil {
		conn.Close()
		return
	}
	defer r.streamer.Unsubscribe(conn)

	// Keep the connection open until the client goes away
	for {
		if _, _, err := conn.NextReader(); err != nil {
			break
		}
	}
}

func logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start).String())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
