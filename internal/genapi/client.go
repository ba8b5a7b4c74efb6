package genapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	textPath   = "/api/v1/video/generate/text"
	imagePath  = "/api/v1/video/generate/image"
	statusPath = "/api/v1/status"

	maxErrorBody = 1 << 20
)

type Config struct {
	BaseURL string
	// Timeout bounds a whole request, body included. Zero means 30s.
	Timeout time.Duration
	// RequestsPerSecond throttles outbound calls. Zero disables throttling.
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
}

// Client talks to the video generation backend.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	// stream serves artifact downloads; only the caller's context bounds them.
	stream  *http.Client
	limiter *rate.Limiter
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("base url is required")
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute: %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	stream := *cfg.HTTPClient
	stream.Timeout = 0
	c := &Client{baseURL: base, http: cfg.HTTPClient, stream: &stream}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = max(1, int(cfg.RequestsPerSecond))
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c, nil
}

func (c *Client) CreateTextJob(ctx context.Context, req TextRequest) (CreateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return CreateResponse{}, fmt.Errorf("marshal text request: %w", err)
	}
	var out CreateResponse
	if err := c.doJSON(ctx, "create text job", http.MethodPost, textPath, "application/json", bytes.NewReader(body), &out); err != nil {
		return CreateResponse{}, err
	}
	if out.JobID == "" {
		return CreateResponse{}, &RequestError{Op: "create text job", StatusCode: http.StatusOK, Detail: "response has no job_id"}
	}
	return out, nil
}

// CreateImageJob uploads image as the multipart field "image" together with
// the request fields.
func (c *Client) CreateImageJob(ctx context.Context, req ImageRequest, filename string, image []byte) (CreateResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, escapeQuotes(filepath.Base(filename))))
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return CreateResponse{}, fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return CreateResponse{}, fmt.Errorf("write image part: %w", err)
	}

	fields := [][2]string{
		{"prompt", req.Prompt},
		{"motion_intensity", req.MotionIntensity},
		{"camera_movement", req.CameraMovement},
		{"user_id", req.UserID},
	}
	if req.Duration > 0 {
		fields = append(fields, [2]string{"duration", strconv.Itoa(req.Duration)})
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return CreateResponse{}, fmt.Errorf("write field %s: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return CreateResponse{}, fmt.Errorf("close multipart body: %w", err)
	}

	var out CreateResponse
	if err := c.doJSON(ctx, "create image job", http.MethodPost, imagePath, mw.FormDataContentType(), &buf, &out); err != nil {
		return CreateResponse{}, err
	}
	if out.JobID == "" {
		return CreateResponse{}, &RequestError{Op: "create image job", StatusCode: http.StatusOK, Detail: "response has no job_id"}
	}
	return out, nil
}

func (c *Client) GetJobStatus(ctx context.Context, id string) (Job, error) {
	var out Job
	err := c.doJSON(ctx, "get job status", http.MethodGet, statusPath+route("jobs", id), "", nil, &out)
	if err != nil {
		return Job{}, notFound(err, id)
	}
	if out.ID == "" {
		out.ID = id
	}
	return out, nil
}

// ListJobs accepts either a bare JSON array or an object with a "jobs" array.
func (c *Client) ListJobs(ctx context.Context, owner string) ([]Job, error) {
	var raw json.RawMessage
	err := c.doJSON(ctx, "list jobs", http.MethodGet, statusPath+route("user", owner, "jobs"), "", nil, &raw)
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	var jobs []Job
	if len(raw) > 0 && raw[0] == '[' {
		err = json.Unmarshal(raw, &jobs)
	} else {
		var wrapped struct {
			Jobs []Job `json:"jobs"`
		}
		err = json.Unmarshal(raw, &wrapped)
		jobs = wrapped.Jobs
	}
	if err != nil {
		return nil, &RequestError{Op: "list jobs", StatusCode: http.StatusOK, Err: fmt.Errorf("decode response: %w", err)}
	}
	return jobs, nil
}

// CancelJob asks the backend to cancel a job. A cancelled job later reports
// a failed status.
func (c *Client) CancelJob(ctx context.Context, id string) (CancelResponse, error) {
	var out CancelResponse
	err := c.doJSON(ctx, "cancel job", http.MethodPost, statusPath+route("jobs", id, "cancel"), "", nil, &out)
	if err != nil {
		return CancelResponse{}, notFound(err, id)
	}
	return out, nil
}

// DownloadArtifact opens an artifact for reading. Relative URLs resolve
// against the base URL. The request timeout does not apply; cancel ctx to
// abort. The caller closes the returned body.
func (c *Client) DownloadArtifact(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	const op = "download artifact"
	ref, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || rawURL == "" {
		return nil, &RequestError{Op: op, Err: fmt.Errorf("invalid artifact url %q", rawURL)}
	}
	target := c.baseURL.ResolveReference(ref)

	resp, err := c.send(ctx, c.stream, op, http.MethodGet, target.String(), "", nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) HealthCheck(ctx context.Context) (Health, error) {
	var out Health
	if err := c.doJSON(ctx, "health check", http.MethodGet, "/health", "", nil, &out); err != nil {
		return Health{}, err
	}
	return out, nil
}

func (c *Client) Ping(ctx context.Context) error {
	var out map[string]any
	return c.doJSON(ctx, "ping", http.MethodGet, "/ping", "", nil, &out)
}

// doJSON calls the route p, which must already be escaped.
func (c *Client) doJSON(ctx context.Context, op, method, p, contentType string, body io.Reader, out any) error {
	u := *c.baseURL
	u.RawPath = strings.TrimSuffix(c.baseURL.EscapedPath(), "/") + p
	unescaped, err := url.PathUnescape(u.RawPath)
	if err != nil {
		return &RequestError{Op: op, Err: fmt.Errorf("invalid path %q: %w", p, err)}
	}
	u.Path = unescaped

	resp, err := c.send(ctx, c.http, op, method, u.String(), contentType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RequestError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// send performs the request and returns the response only for 2xx statuses.
// The caller closes the body.
func (c *Client) send(ctx context.Context, hc *http.Client, op, method, target, contentType string, body io.Reader) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &RequestError{Op: op, Err: err}
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &RequestError{Op: op, Err: err}
	}
	if contentType != "" {
		req.Header.Set("content-type", contentType)
	}
	req.Header.Set("accept", "application/json")

	slog.Debug("backend request", "method", method, "url", target)
	resp, err := hc.Do(req)
	if err != nil {
		return nil, &RequestError{Op: op, Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	reqErr := &RequestError{Op: op, StatusCode: resp.StatusCode}
	reqErr.Detail, reqErr.Code = decodeErrorBody(resp.Body)
	if reqErr.Detail == "" {
		reqErr.Detail = resp.Status
	}
	return nil, reqErr
}

// decodeErrorBody reads the backend error shape {"detail": ..., "error_code": ...}.
// A non-string detail (validation error lists) is returned as raw JSON.
func decodeErrorBody(r io.Reader) (detail, code string) {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(data) == 0 {
		return "", ""
	}
	var body struct {
		Detail    json.RawMessage `json:"detail"`
		ErrorCode string          `json:"error_code"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return strings.TrimSpace(string(data)), ""
	}
	if s := text(body.Detail); s != "" {
		return s, body.ErrorCode
	}
	if len(body.Detail) > 0 && string(body.Detail) != "null" {
		return string(body.Detail), body.ErrorCode
	}
	return "", body.ErrorCode
}

func notFound(err error, id string) error {
	var reqErr *RequestError
	if errors.As(err, &reqErr) && reqErr.StatusCode == http.StatusNotFound {
		return &NotFoundError{JobID: id}
	}
	return err
}

// route joins escaped path segments. Dot segments are escaped as well so an
// id or owner can never climb out of its route.
func route(segments ...string) string {
	var b strings.Builder
	for _, seg := range segments {
		b.WriteByte('/')
		if seg == "." || seg == ".." {
			b.WriteString(strings.ReplaceAll(seg, ".", "%2E"))
			continue
		}
		b.WriteString(url.PathEscape(seg))
	}
	return b.String()
}

func escapeQuotes(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
