package ecode

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error is a typed lifecycle error.
type Error struct {
	Code    int    // lifecycle code
	Op      string // failing operation, e.g. "oss.download"
	Status  int    // upstream HTTP status, 0 when unknown
	Body    string // upstream response body or provider error text, verbatim
	Message string // human readable detail
	Err     error  // wrapped cause
}

// Sentinels for errors.Is
var (
	ErrTransport       = &Error{Code: Transport}
	ErrStorage         = &Error{Code: Storage}
	ErrSubmission      = &Error{Code: Submission}
	ErrStatusQuery     = &Error{Code: StatusQuery}
	ErrNotFound        = &Error{Code: NotFound}
	ErrSizeLimit       = &Error{Code: SizeLimit}
	ErrTerminalFailure = &Error{Code: TerminalFailure}
	ErrUnsupported     = &Error{Code: Unsupported}
	ErrURLExpired      = &Error{Code: URLExpired}
)

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(Text(e.Code))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Body != "" && e.Body != e.Message {
		b.WriteString(": ")
		b.WriteString(e.Body)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewTransportError wraps a network/connection failure.
func NewTransportError(op string, err error) *Error {
	return &Error{Code: Transport, Op: op, Err: err}
}

// NewStorageError reports a failed object store call, keeping the provider text.
func NewStorageError(op string, status int, body string, err error) *Error {
	return &Error{Code: Storage, Op: op, Status: status, Body: body, Err: err}
}

// NewSubmissionError reports a non-2xx answer to a submit call.
func NewSubmissionError(op string, status int, body string) *Error {
	return &Error{Code: Submission, Op: op, Status: status, Body: body}
}

// NewStatusQueryError reports a non-2xx answer to a status or results call.
func NewStatusQueryError(op string, status int, body string) *Error {
	return &Error{Code: StatusQuery, Op: op, Status: status, Body: body}
}

// NewNotFoundError reports a missing object or task.
func NewNotFoundError(op, what string, status int, body string) *Error {
	return &Error{Code: NotFound, Op: op, Status: status, Message: what, Body: body}
}

// NewSizeLimitError reports an upload rejected before reaching the network.
func NewSizeLimitError(op string, size, limit int64) *Error {
	return &Error{
		Code:    SizeLimit,
		Op:      op,
		Message: fmt.Sprintf("%d bytes exceeds limit of %d bytes", size, limit),
	}
}

// NewTerminalFailure reports a task the processing API marked failed.
// Message holds the server message verbatim.
func NewTerminalFailure(taskID, message string) *Error {
	return &Error{Code: TerminalFailure, Op: "task " + taskID, Message: message}
}

// NewURLExpiredError reports a presigned URL used at or after its expiry.
func NewURLExpiredError(op string, expiredAt time.Time) *Error {
	return &Error{Code: URLExpired, Op: op, Message: "expired at " + expiredAt.UTC().Format(time.RFC3339)}
}

// NewUnsupportedError reports an operation a provider cannot perform.
func NewUnsupportedError(op, what string) *Error {
	return &Error{Code: Unsupported, Op: op, Message: what}
}

// ItemError is one failed result artifact.
type ItemError struct {
	Name string
	Err  error
}

// PartialError lists the artifacts of a completed task that could not be
// materialized. It never stands for the whole task: the others succeeded.
type PartialError struct {
	TaskID   string
	Total    int
	Failures []ItemError
}

func (e *PartialError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Name, f.Err))
	}
	return fmt.Sprintf("task %s: %d of %d results failed: %s",
		e.TaskID, len(e.Failures), e.Total, strings.Join(parts, "; "))
}

// Unwrap exposes every item error to errors.Is / errors.As.
func (e *PartialError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Code returns the lifecycle code of err, or ServerErr for foreign errors.
func Code(err error) int {
	if err == nil {
		return OK
	}
	var pe *PartialError
	if errors.As(err, &pe) {
		return PartialFailure
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ServerErr
}
