package msst

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ncobase/msst/ecode"
	"github.com/ncobase/msst/logging/logger"
	"github.com/ncobase/msst/logging/observes"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
)

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 64 << 10

// BreakerConfig configures the optional circuit breaker.
type BreakerConfig struct {
	Enabled      bool
	MaxRequests  uint32        // requests allowed while half-open
	Interval     time.Duration // closed-state counter reset period
	Timeout      time.Duration // open-state duration
	MinRequests  uint32        // requests before the ratio is considered
	FailureRatio float64
}

// Config holds processing API client settings.
type Config struct {
	BaseURL    string        `json:"base_url" validate:"required,url"`
	Timeout    time.Duration `json:"timeout"`
	Breaker    BreakerConfig `json:"breaker"`
	HTTPClient *http.Client  `json:"-"`
}

// Client talks to the MSST processing API. It never retries.
type Client struct {
	base    *url.URL
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewClient creates a processing API client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("msst base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid msst base url %q", cfg.BaseURL)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Minute
		}
		hc = &http.Client{Timeout: timeout}
	}

	c := &Client{base: base, http: hc}
	if cfg.Breaker.Enabled {
		c.breaker = newBreaker(base.Host, cfg.Breaker)
	}
	return c, nil
}

func newBreaker(name string, bc BreakerConfig) *gobreaker.CircuitBreaker {
	if bc.MaxRequests == 0 {
		bc.MaxRequests = 100
	}
	if bc.Interval <= 0 {
		bc.Interval = 5 * time.Second
	}
	if bc.Timeout <= 0 {
		bc.Timeout = 3 * time.Second
	}
	if bc.MinRequests == 0 {
		bc.MinRequests = 3
	}
	if bc.FailureRatio <= 0 {
		bc.FailureRatio = 0.6
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "msst:" + name,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= bc.MinRequests && failureRatio >= bc.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnf(context.Background(), "circuit breaker %s: %s -> %s", name, from, to)
		},
	})
}

// BaseURL returns the processing API base URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// errServerStatus marks 5xx answers as breaker failures.
var errServerStatus = errors.New("server error status")

// send performs req through the breaker when enabled. A 5xx response is
// returned to the caller like any other response.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.http.Do(req)
	}

	out, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return resp, errServerStatus
		}
		return resp, nil
	})
	resp, _ := out.(*http.Response)
	if errors.Is(err, errServerStatus) {
		return resp, nil
	}
	if err != nil {
		// A rejected call never reaches the transport, which would
		// otherwise close the body and unblock a streaming writer.
		if resp == nil && req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}
	return resp, nil
}

func (c *Client) endpoint(parts ...string) string {
	u := *c.base
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(escaped, "/")
	u.RawPath = ""
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method string, body io.Reader, parts ...string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(parts...), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func readBody(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return strings.TrimSpace(string(b))
}

// Submit sends job to the processing API using the transfer mode its fields
// select. An empty TaskID is filled with a fresh UUID. The returned task id
// is the one the server reported and is the one to use for follow-up calls.
func (c *Client) Submit(ctx context.Context, job Job) (*SubmitResponse, error) {
	if job.TaskID == "" {
		job.TaskID = uuid.NewString()
	}
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}
	mode, _ := job.Mode()

	ctx, span := observes.StartSpan(ctx, "msst.submit",
		attribute.String("task_id", job.TaskID),
		attribute.String("mode", mode.String()),
	)
	var err error
	defer func() { observes.EndSpan(span, err) }()

	var req *http.Request
	switch mode {
	case ModeDirect:
		req, err = c.uploadRequest(ctx, job)
	case ModePresigned:
		req, err = c.jsonRequest(ctx, http.MethodPost, lightweightRequest{
			TaskID:      job.TaskID,
			PresetName:  job.PresetName,
			DownloadURL: job.SourceURL,
			UploadURLs:  job.SinkRefs,
			CallbackURL: job.CallbackURL,
		}, "process_lightweight")
	case ModeStorageKey:
		req, err = c.jsonRequest(ctx, http.MethodPost, ecloudRequest{
			TaskID:       job.TaskID,
			PresetName:   job.PresetName,
			EcloudKey:    job.SourceKey,
			CallbackURL:  job.CallbackURL,
			OutputFormat: job.OutputFormat,
		}, "process_ecloud")
	}
	if err != nil {
		return nil, err
	}

	resp, sendErr := c.send(req)
	if sendErr != nil {
		err = ecode.NewTransportError("msst.submit", sendErr)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err = ecode.NewSubmissionError("msst.submit", resp.StatusCode, readBody(resp))
		return nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		err = ecode.NewTransportError("msst.submit", readErr)
		return nil, err
	}
	var out SubmitResponse
	if jsonErr := json.Unmarshal(raw, &out); jsonErr != nil {
		err = ecode.NewSubmissionError("msst.submit", resp.StatusCode, string(raw))
		return nil, err
	}
	if out.TaskID == "" {
		out.TaskID = job.TaskID
	}
	if out.TaskID != job.TaskID {
		logger.Infof(ctx, "server assigned task id %s to submitted %s", out.TaskID, job.TaskID)
	}

	logger.Infof(ctx, "submitted task %s (%s mode): %s", out.TaskID, mode, out.Status)
	return &out, nil
}

type lightweightRequest struct {
	TaskID      string            `json:"task_id"`
	PresetName  string            `json:"preset_name"`
	DownloadURL string            `json:"download_url"`
	UploadURLs  map[string]string `json:"upload_urls"`
	CallbackURL string            `json:"callback_url,omitempty"`
}

type ecloudRequest struct {
	TaskID       string `json:"task_id"`
	PresetName   string `json:"preset_name"`
	EcloudKey    string `json:"ecloud_key"`
	CallbackURL  string `json:"callback_url,omitempty"`
	OutputFormat string `json:"output_format,omitempty"`
}

func (c *Client) jsonRequest(ctx context.Context, method string, body any, parts ...string) (*http.Request, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := c.newRequest(ctx, method, bytes.NewReader(b), parts...)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// uploadRequest streams the source file as multipart form data.
func (c *Client) uploadRequest(ctx context.Context, job Job) (*http.Request, error) {
	f, err := os.Open(job.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		defer f.Close()
		err := func() error {
			fields := [][2]string{
				{"task_id", job.TaskID},
				{"preset_name", job.PresetName},
				{"output_format", job.OutputFormat},
			}
			if job.CallbackURL != "" {
				fields = append(fields, [2]string{"callback_url", job.CallbackURL})
			}
			for _, kv := range fields {
				if err := mw.WriteField(kv[0], kv[1]); err != nil {
					return err
				}
			}
			part, err := mw.CreateFormFile("file", filepath.Base(job.SourcePath))
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, f); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	req, err := c.newRequest(ctx, http.MethodPost, pr, "upload")
	if err != nil {
		_ = pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

// Status fetches the current status of a task.
func (c *Client) Status(ctx context.Context, taskID string) (*TaskStatus, error) {
	var out TaskStatus
	if err := c.getJSON(ctx, "msst.status", &out, "status", taskID); err != nil {
		return nil, err
	}
	if out.TaskID == "" {
		out.TaskID = taskID
	}
	if out.State == "" {
		out.State = StateProcessing
	}
	return &out, nil
}

// Results lists the result paths of a completed task.
func (c *Client) Results(ctx context.Context, taskID string) (*ResultList, error) {
	var out ResultList
	if err := c.getJSON(ctx, "msst.results", &out, "results", taskID); err != nil {
		return nil, err
	}
	if out.TaskID == "" {
		out.TaskID = taskID
	}
	return &out, nil
}

// Health returns the provider defined health document.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	if err := c.getJSON(ctx, "msst.health", &out, "health"); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, op string, out any, parts ...string) error {
	req, err := c.newRequest(ctx, http.MethodGet, nil, parts...)
	if err != nil {
		return err
	}
	resp, err := c.send(req)
	if err != nil {
		return ecode.NewTransportError(op, err)
	}
	defer resp.Body.Close()

	if err := queryStatusError(op, parts, resp); err != nil {
		return err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ecode.NewTransportError(op, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return ecode.NewStatusQueryError(op, resp.StatusCode, string(raw))
	}
	return nil
}

func queryStatusError(op string, parts []string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ecode.NewNotFoundError(op, strings.Join(parts, "/"), resp.StatusCode, readBody(resp))
	default:
		return ecode.NewStatusQueryError(op, resp.StatusCode, readBody(resp))
	}
}

// Download streams the named result of a task into w.
func (c *Client) Download(ctx context.Context, taskID, filename string, w io.Writer) (int64, error) {
	const op = "msst.download"

	req, err := c.newRequest(ctx, http.MethodGet, nil, "download", taskID, filename)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := c.send(req)
	if err != nil {
		return 0, ecode.NewTransportError(op, err)
	}
	defer resp.Body.Close()

	if err := queryStatusError(op, []string{"download", taskID, filename}, resp); err != nil {
		return 0, err
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, ecode.NewTransportError(op, err)
	}
	return n, nil
}

// Cleanup asks the processing API to discard the task's server side state.
func (c *Client) Cleanup(ctx context.Context, taskID string) error {
	const op = "msst.cleanup"

	req, err := c.newRequest(ctx, http.MethodDelete, nil, "task", taskID)
	if err != nil {
		return err
	}
	resp, err := c.send(req)
	if err != nil {
		return ecode.NewTransportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return queryStatusError(op, []string{"task", taskID}, resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
