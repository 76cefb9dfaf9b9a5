package resp

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ncobase/msst/ecode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSuccess(t *testing.T) {
	rec := httptest.NewRecorder()
	Success(rec, map[string]int{"pending_tasks": 2})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec)["pending_tasks"])

	rec = httptest.NewRecorder()
	Success(rec, "done")
	assert.Equal(t, "done", decode(t, rec)["message"])

	rec = httptest.NewRecorder()
	Success(rec)
	assert.Equal(t, "ok", decode(t, rec)["message"])
}

func TestText(t *testing.T) {
	rec := httptest.NewRecorder()
	Text(rec, http.StatusOK, "OK")
	assert.Equal(t, "OK", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}

func TestFromError(t *testing.T) {
	rec := httptest.NewRecorder()
	FromError(rec, ecode.NewStatusQueryError("status t1", 500, "boom"))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(ecode.StatusQuery), body["code"])
	assert.Equal(t, "boom", body["errors"].(map[string]any)["upstream_body"])

	rec = httptest.NewRecorder()
	FromError(rec, errors.New("plain"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "plain", decode(t, rec)["message"])

	rec = httptest.NewRecorder()
	FromError(rec, ecode.NewNotFoundError("server.task", "task x", 0, ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, float64(ecode.NotFound), body["code"])
	assert.NotContains(t, body, "errors")
}

func TestFailDefaults(t *testing.T) {
	rec := httptest.NewRecorder()
	Fail(rec, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, float64(ecode.ServerErr), body["code"])
	assert.Equal(t, ecode.Text(ecode.ServerErr), body["message"])
}
