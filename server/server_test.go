package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ncobase/msst/concurrency/worker"
	"github.com/ncobase/msst/ecode"
	"github.com/ncobase/msst/msst"
	"github.com/ncobase/msst/msst/msstest"
	"github.com/ncobase/msst/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDeliverer struct {
	mu   sync.Mutex
	got  []msst.CallbackPayload
	err  error
	done chan struct{}
}

func (d *recordingDeliverer) Deliver(ctx context.Context, p msst.CallbackPayload) error {
	d.mu.Lock()
	d.got = append(d.got, p)
	d.mu.Unlock()
	if d.done != nil {
		d.done <- struct{}{}
	}
	return d.err
}

func newTestServer(t *testing.T, d Deliverer, outcomes *Outcomes) (*Server, *worker.Pool) {
	t.Helper()
	pool, err := worker.NewPool(&worker.Config{MaxWorkers: 2, QueueSize: 8})
	require.NoError(t, err)
	pool.Start()
	t.Cleanup(func() { _ = pool.Stop(context.Background()) })
	return New(Config{Mode: gin.TestMode}, d, pool, outcomes), pool
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/callback", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCallbackAcknowledgesAndDelivers(t *testing.T) {
	d := &recordingDeliverer{done: make(chan struct{}, 1)}
	s, _ := newTestServer(t, d, nil)

	rec := post(t, s.Handler(), `{"task_id":"t9","status":"completed","message":"Success","results":["t9/extra_output/a.wav"]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(TraceHeader))

	select {
	case <-d.done:
	case <-time.After(time.Second):
		t.Fatal("callback not delivered")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	require.Len(t, d.got, 1)
	assert.Equal(t, "t9", d.got[0].TaskID)
	assert.Equal(t, msst.StateCompleted, d.got[0].Status)
	assert.Equal(t, []string{"t9/extra_output/a.wav"}, d.got[0].Results)
}

func TestCallbackAlwaysAnswersOK(t *testing.T) {
	d := &recordingDeliverer{err: errors.New("materialization failed")}
	s, _ := newTestServer(t, d, nil)

	for _, body := range []string{`not json`, `{"status":"completed"}`, `{"task_id":"x","status":"failed"}`} {
		rec := post(t, s.Handler(), body)
		assert.Equal(t, http.StatusOK, rec.Code, body)
		assert.Equal(t, "OK", rec.Body.String(), body)
	}
}

func TestCallbackKeepsTraceHeader(t *testing.T) {
	s, _ := newTestServer(t, &recordingDeliverer{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/callback", bytes.NewBufferString(`{"task_id":"a","status":"processing"}`))
	req.Header.Set(TraceHeader, "trace-1")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "trace-1", rec.Header().Get(TraceHeader))
}

func TestHealthReportsPool(t *testing.T) {
	s, _ := newTestServer(t, &recordingDeliverer{}, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status  string           `json:"status"`
		Workers map[string]int64 `json:"workers"`
		Version map[string]any   `json:"version"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Contains(t, body.Workers, "pending_tasks")
	assert.NotEmpty(t, body.Version["go_version"])
}

func TestTaskOutcomeLookup(t *testing.T) {
	outcomes := NewOutcomes(2)
	s, _ := newTestServer(t, &recordingDeliverer{}, outcomes)
	ctx := context.Background()

	outcomes.Record(ctx, workflow.Outcome{TaskID: "a", State: msst.StateFailed, Err: errors.New("bad preset")})
	outcomes.Record(ctx, workflow.Outcome{TaskID: "b", State: msst.StateCompleted, Report: &workflow.Report{
		TaskID: "b",
		Items:  []workflow.ItemResult{{Ref: workflow.ResultRef{Name: "v.wav"}, Path: "/r/b/v.wav", Bytes: 3}},
	}})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tasks/b", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var v OutcomeView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, msst.StateCompleted, v.Status)
	require.Len(t, v.Items, 1)
	assert.Equal(t, int64(3), v.Items[0].Bytes)

	outcomes.Record(ctx, workflow.Outcome{TaskID: "c", State: msst.StateCompleted})
	_, ok := outcomes.Get("a")
	assert.False(t, ok, "oldest outcome evicted")

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tasks/a", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var fail map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fail))
	assert.Equal(t, float64(ecode.NotFound), fail["code"])
	assert.Contains(t, fail["message"], "task a")
}

func TestRecoveryAnswers500(t *testing.T) {
	s, _ := newTestServer(t, &recordingDeliverer{}, nil)
	s.engine.GET("/boom", func(*gin.Context) { panic("boom") })
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDuplicateCallbacksOverHTTP(t *testing.T) {
	api := msstest.NewServer()
	t.Cleanup(api.Close)
	api.AddTask("t2", &msstest.Task{
		Statuses: []msst.TaskStatus{{TaskID: "t2", State: msst.StateCompleted}},
		Files:    map[string][]byte{"a.wav": []byte("A"), "b.wav": []byte("B")},
	})

	client, err := msst.NewClient(msst.Config{BaseURL: api.URL})
	require.NoError(t, err)
	tracker := workflow.NewMemoryTracker()
	coord := workflow.NewCoordinator(client, nil, tracker, nil, workflow.Options{Cleanup: true})

	src := filepath.Join(t.TempDir(), "mix.wav")
	require.NoError(t, os.WriteFile(src, []byte("RIFF"), 0o644))
	_, err = coord.Submit(context.Background(), msst.Job{TaskID: "t2", PresetName: "p", SourcePath: src}, workflow.Callback{Endpoint: "http://caller/cb"})
	require.NoError(t, err)

	dir := t.TempDir()
	outcomes := NewOutcomes(0)
	receiver := workflow.NewReceiver(tracker, coord.Materializer(), workflow.ReceiverConfig{Dir: dir, Cleanup: true, OnOutcome: outcomes.Record})
	s, pool := newTestServer(t, receiver, outcomes)

	payload, err := json.Marshal(msst.CallbackPayload{
		TaskID:       "t2",
		Status:       msst.StateCompleted,
		Results:      []string{"t2/extra_output/a.wav", "t2/extra_output/b.wav"},
		DownloadURLs: []string{api.DownloadURL("t2", "a.wav"), api.DownloadURL("t2", "b.wav")},
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		assert.Equal(t, "OK", post(t, s.Handler(), string(payload)).Body.String())
	}
	require.NoError(t, pool.Stop(context.Background()))

	assert.Equal(t, 1, api.Downloads("t2", "a.wav"))
	assert.Equal(t, 1, api.Downloads("t2", "b.wav"))
	assert.Equal(t, 1, api.Cleanups("t2"))

	got, err := os.ReadFile(filepath.Join(dir, "t2", "a.wav"))
	require.NoError(t, err)
	assert.Equal(t, "A", string(got))

	v, ok := outcomes.Get("t2")
	require.True(t, ok)
	assert.Empty(t, v.Error)
	assert.Len(t, v.Items, 2)
}
