package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/ncobase/msst/ecode"
	"github.com/ncobase/msst/logging/logger"
	"github.com/ncobase/msst/logging/observes"
	"github.com/ncobase/msst/msst"
	"github.com/ncobase/msst/oss"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// API is the part of the processing API the workflow drives.
type API interface {
	Submit(ctx context.Context, job msst.Job) (*msst.SubmitResponse, error)
	Status(ctx context.Context, taskID string) (*msst.TaskStatus, error)
	Download(ctx context.Context, taskID, filename string, w io.Writer) (int64, error)
	Cleanup(ctx context.Context, taskID string) error
}

// ResultRef locates one result artifact. At least one of URL, Key or Path
// is set; URL is preferred while it has not expired.
type ResultRef struct {
	Name    string    `json:"name"`
	URL     string    `json:"url,omitempty"`     // embedded download URL
	Expires time.Time `json:"expires,omitempty"` // URL expiry, zero when unknown
	Key     string    `json:"key,omitempty"`     // object key in the store
	Path    string    `json:"path,omitempty"`    // result path on the processing API
}

// ItemResult is the outcome of one artifact.
type ItemResult struct {
	Ref   ResultRef
	Path  string // local destination
	Bytes int64
	Err   error
}

// Report lists per-artifact outcomes of a completed task.
type Report struct {
	TaskID string
	Items  []ItemResult
}

// OK reports whether every artifact materialized.
func (r *Report) OK() bool {
	for _, it := range r.Items {
		if it.Err != nil {
			return false
		}
	}
	return true
}

// Succeeded returns the materialized artifacts.
func (r *Report) Succeeded() []ItemResult {
	var out []ItemResult
	for _, it := range r.Items {
		if it.Err == nil {
			out = append(out, it)
		}
	}
	return out
}

// Err returns nil when every artifact materialized, otherwise a
// *ecode.PartialError listing the failures.
func (r *Report) Err() error {
	var failures []ecode.ItemError
	for _, it := range r.Items {
		if it.Err != nil {
			failures = append(failures, ecode.ItemError{Name: it.Ref.Name, Err: it.Err})
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return &ecode.PartialError{TaskID: r.TaskID, Total: len(r.Items), Failures: failures}
}

// RefsFromStatus resolves the results of a completed status. Presigned jobs
// wrote their results to the sink keys, the others serve them by path.
func RefsFromStatus(st *msst.TaskStatus, job msst.Job) []ResultRef {
	if len(job.SinkKeys) > 0 && len(st.Results) == 0 {
		return refsFromSinkKeys(job)
	}
	refs := make([]ResultRef, 0, len(st.Results))
	for _, p := range st.Results {
		refs = append(refs, ResultRef{Name: msst.Basename(p), Path: p})
	}
	return refs
}

// RefsFromPayload resolves the results of a completed callback. received is
// the delivery time that url_expire_seconds counts from.
func RefsFromPayload(p *msst.CallbackPayload, job msst.Job, received time.Time) []ResultRef {
	var expires time.Time
	if p.URLExpireSeconds > 0 {
		expires = received.Add(time.Duration(p.URLExpireSeconds) * time.Second)
	}
	urlAt := func(i int) string {
		if i < len(p.DownloadURLs) {
			return p.DownloadURLs[i]
		}
		return ""
	}

	switch {
	case len(p.EcloudKeys) > 0:
		refs := make([]ResultRef, 0, len(p.EcloudKeys))
		for i, key := range p.EcloudKeys {
			refs = append(refs, ResultRef{Name: path.Base(key), Key: key, URL: urlAt(i), Expires: expires})
		}
		return refs

	case len(p.UploadedFiles) > 0:
		refs := make([]ResultRef, 0, len(p.UploadedFiles))
		for _, name := range p.UploadedFiles {
			refs = append(refs, ResultRef{Name: name, Key: job.SinkKeys[name]})
		}
		return refs

	case len(p.Results) > 0:
		refs := make([]ResultRef, 0, len(p.Results))
		for i, res := range p.Results {
			refs = append(refs, ResultRef{Name: msst.Basename(res), Path: res, URL: urlAt(i), Expires: expires})
		}
		return refs

	case len(p.DownloadURLs) > 0:
		refs := make([]ResultRef, 0, len(p.DownloadURLs))
		for _, u := range p.DownloadURLs {
			refs = append(refs, ResultRef{Name: urlBasename(u), URL: u, Expires: expires})
		}
		return refs

	default:
		return refsFromSinkKeys(job)
	}
}

func refsFromSinkKeys(job msst.Job) []ResultRef {
	refs := make([]ResultRef, 0, len(job.SinkKeys))
	for name, key := range job.SinkKeys {
		refs = append(refs, ResultRef{Name: name, Key: key})
	}
	return refs
}

func urlBasename(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return path.Base(u.Path)
}

// MaterializerConfig tunes result retrieval.
type MaterializerConfig struct {
	Concurrency int          // parallel fetches per task, default 4
	HTTPClient  *http.Client // for embedded URLs
}

// Materializer fetches result artifacts to local files.
type Materializer struct {
	api     API
	gateway *oss.Gateway
	http    *http.Client
	limit   int
	now     func() time.Time
}

// NewMaterializer creates a materializer. gateway may be nil when results
// never live in the object store.
func NewMaterializer(api API, gateway *oss.Gateway, cfg MaterializerConfig) *Materializer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Materializer{api: api, gateway: gateway, http: hc, limit: cfg.Concurrency, now: time.Now}
}

// Materialize fetches every ref into dir. Items are fetched in parallel;
// a failing item never stops the others.
func (m *Materializer) Materialize(ctx context.Context, taskID string, refs []ResultRef, dir string) *Report {
	ctx, span := observes.StartSpan(ctx, "workflow.materialize",
		attribute.String("task_id", taskID),
		attribute.Int("results", len(refs)),
	)

	report := &Report{TaskID: taskID, Items: make([]ItemResult, len(refs))}
	seen := make(map[string]bool, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.limit)
	for i, ref := range refs {
		item := &report.Items[i]
		item.Ref = ref

		name, err := safeBasename(ref)
		if err == nil && seen[name] {
			err = fmt.Errorf("duplicate result name %q", name)
		}
		if err != nil {
			item.Err = err
			continue
		}
		seen[name] = true
		item.Path = filepath.Join(dir, name)

		g.Go(func() error {
			item.Bytes, item.Err = m.fetch(gctx, taskID, ref, item.Path)
			return nil
		})
	}
	_ = g.Wait()

	for _, it := range report.Items {
		if it.Err != nil {
			logger.Warnf(ctx, "result %s of task %s failed: %v", it.Ref.Name, taskID, it.Err)
		}
	}
	observes.EndSpan(span, report.Err())
	return report
}

// safeBasename derives the local file name of ref.
func safeBasename(ref ResultRef) (string, error) {
	name := ref.Name
	if name == "" {
		switch {
		case ref.Key != "":
			name = path.Base(ref.Key)
		case ref.Path != "":
			name = msst.Basename(ref.Path)
		case ref.URL != "":
			name = urlBasename(ref.URL)
		}
	}
	if name == "" || name == "." || name == ".." || name == "/" ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("invalid result name %q", name)
	}
	return name, nil
}

func (m *Materializer) fetch(ctx context.Context, taskID string, ref ResultRef, dest string) (int64, error) {
	if ref.URL != "" {
		if ref.Expires.IsZero() || m.now().Before(ref.Expires) {
			n, err := m.fetchURL(ctx, ref.URL, dest)
			// An unreachable embedded host falls back to the other locations.
			if err == nil || !errors.Is(err, ecode.ErrTransport) || (ref.Key == "" && ref.Path == "") {
				return n, err
			}
			logger.Warnf(ctx, "download url of %s unreachable, falling back: %v", ref.Name, err)
		} else if ref.Key == "" && ref.Path == "" {
			return 0, fmt.Errorf("download url of %s expired at %s", ref.Name, ref.Expires.Format(time.RFC3339))
		}
	}

	switch {
	case ref.Key != "":
		if m.gateway == nil {
			return 0, fmt.Errorf("result %s is in object storage but no storage is configured", ref.Name)
		}
		obj, err := m.gateway.Download(ctx, ref.Key, dest)
		if err != nil {
			return 0, err
		}
		return obj.Size, nil
	case ref.Path != "":
		return m.fetchAPI(ctx, taskID, msst.Basename(ref.Path), dest)
	case ref.URL == "":
		return 0, fmt.Errorf("result %s has no location", ref.Name)
	default:
		return 0, fmt.Errorf("result %s has no usable location", ref.Name)
	}
}

func (m *Materializer) fetchURL(ctx context.Context, rawURL, dest string) (int64, error) {
	const op = "workflow.fetch"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("invalid download url: %w", err)
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return 0, ecode.NewTransportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if resp.StatusCode == http.StatusNotFound {
			return 0, ecode.NewNotFoundError(op, urlBasename(rawURL), resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return 0, ecode.NewStorageError(op, resp.StatusCode, strings.TrimSpace(string(body)), nil)
	}

	n, err := oss.WriteFileAtomic(dest, resp.Body)
	if err != nil {
		return n, ecode.NewTransportError(op, err)
	}
	return n, nil
}

func (m *Materializer) fetchAPI(ctx context.Context, taskID, filename, dest string) (int64, error) {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := m.api.Download(ctx, taskID, filename, pw)
		pw.CloseWithError(err)
		done <- err
	}()

	n, werr := oss.WriteFileAtomic(dest, pr)
	_ = pr.CloseWithError(werr)
	if err := <-done; err != nil {
		return 0, err
	}
	if werr != nil {
		return n, fmt.Errorf("failed to write %s: %w", dest, werr)
	}
	return n, nil
}

// Cleanup asks the processing API to drop the task. Failures are logged
// and never returned.
func (m *Materializer) Cleanup(ctx context.Context, taskID string) {
	if err := m.api.Cleanup(ctx, taskID); err != nil {
		logger.Warnf(ctx, "cleanup of task %s failed: %v", taskID, err)
		return
	}
	logger.Infof(ctx, "task %s cleaned up", taskID)
}
