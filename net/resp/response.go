package resp

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ncobase/msst/ecode"
)

// Exception represents the response structure.
type Exception struct {
	Status  int    `json:"status,omitempty"`  // HTTP status
	Code    int    `json:"code,omitempty"`    // Business code
	Message string `json:"message,omitempty"` // Message
	Errors  any    `json:"errors,omitempty"`  // Error details
	Data    any    `json:"data,omitempty"`    // Response data
}

// Success handles success responses.
func Success(w http.ResponseWriter, data ...any) {
	WithStatusCode(w, http.StatusOK, data...)
}

// WithStatusCode writes data as JSON with statusCode. A string argument is
// sent as {"message": ...}.
func WithStatusCode(w http.ResponseWriter, statusCode int, data ...any) {
	var message string
	var payload any

	if len(data) > 0 {
		payload = data[0]
		if s, ok := payload.(string); ok {
			message = s
			payload = nil
		}
	}

	if statusCode < 200 || statusCode >= 400 {
		status, result := buildFailureResponse(&Exception{Status: statusCode, Message: message, Errors: payload})
		writeJSON(w, status, result)
		return
	}
	if payload != nil {
		writeJSON(w, statusCode, payload)
		return
	}
	if message == "" {
		message = ecode.Text(ecode.OK)
	}
	writeJSON(w, statusCode, map[string]any{"message": message})
}

// Text writes a plain text body.
func Text(w http.ResponseWriter, statusCode int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(statusCode)
	_, _ = w.Write([]byte(text))
}

// Fail handles failure responses.
func Fail(w http.ResponseWriter, r *Exception) {
	if r == nil {
		r = &Exception{
			Status:  http.StatusInternalServerError,
			Code:    ecode.ServerErr,
			Message: ecode.Text(ecode.ServerErr),
		}
	}
	status, result := buildFailureResponse(r)
	writeJSON(w, status, result)
}

// FromError reports err with the status its lifecycle code maps to. Upstream
// bodies of typed errors are included as details.
func FromError(w http.ResponseWriter, err error) {
	code := ecode.Code(err)
	ex := &Exception{
		Status:  ecode.ToHTTPStatus(code),
		Code:    code,
		Message: err.Error(),
	}
	var e *ecode.Error
	if errors.As(err, &e) && e.Body != "" {
		ex.Errors = map[string]any{"upstream_status": e.Status, "upstream_body": e.Body}
	}
	Fail(w, ex)
}

func buildFailureResponse(r *Exception) (int, *Exception) {
	status := http.StatusBadRequest
	code := ecode.RequestErr

	if r.Status != 0 {
		status = r.Status
	}
	if r.Code != 0 {
		code = r.Code
	}
	message := r.Message
	if message == "" {
		message = ecode.Text(code)
	}

	return status, &Exception{
		Code:    code,
		Message: message,
		Errors:  r.Errors,
	}
}

func writeJSON(w http.ResponseWriter, code int, res any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		http.Error(w, "Failed to encode JSON response", http.StatusInternalServerError)
	}
}
