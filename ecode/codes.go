package ecode

import "net/http"

// Generic codes
const (
	OK          = 0
	RequestErr  = -400
	NotFound    = -404
	ServerErr   = -500
	Unsupported = -501
)

// Job lifecycle codes
const (
	Transport       = -1001
	Storage         = -1002
	Submission      = -1003
	StatusQuery     = -1004
	SizeLimit       = -1005
	TerminalFailure = -1006
	PartialFailure  = -1007
	URLExpired      = -1008
)

var codeText = map[int]string{
	OK:              "ok",
	RequestErr:      "invalid request",
	NotFound:        "not found",
	ServerErr:       "internal server error",
	Unsupported:     "operation not supported",
	Transport:       "transport error",
	Storage:         "storage error",
	Submission:      "submission error",
	StatusQuery:     "status query error",
	SizeLimit:       "size limit exceeded",
	TerminalFailure: "task failed",
	PartialFailure:  "partial materialization failure",
	URLExpired:      "presigned url expired",
}

// Text returns the message for a code
func Text(code int) string {
	if text, ok := codeText[code]; ok {
		return text
	}
	return "unknown error"
}

// ToHTTPStatus maps a code to the HTTP status used when it is reported by the
// callback server.
func ToHTTPStatus(code int) int {
	switch code {
	case OK:
		return http.StatusOK
	case RequestErr, SizeLimit, URLExpired:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Unsupported:
		return http.StatusNotImplemented
	case Transport, Storage, Submission, StatusQuery:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
