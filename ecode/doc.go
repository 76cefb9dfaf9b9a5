// Package ecode defines the error codes and typed errors shared by the
// storage gateway, the processing API client and the job workflow.
//
// # Error Code Convention
//
//   - 0: Success (OK)
//   - -400 to -599: Generic request/server errors
//   - -1000+: Job lifecycle errors
//
// # Lifecycle Errors
//
//	ecode.Transport        // -1001: network or connection failure
//	ecode.Storage          // -1002: non-2xx from the object store
//	ecode.Submission       // -1003: non-2xx from the processing API on submit
//	ecode.StatusQuery      // -1004: non-2xx from the processing API on status
//	ecode.NotFound         // -404: missing object or task
//	ecode.SizeLimit        // -1005: payload exceeds the upload policy
//	ecode.TerminalFailure  // -1006: processing API reported a failed task
//	ecode.PartialFailure   // -1007: some result artifacts failed to materialize
//
// Every *Error carries the upstream response body or provider error text
// verbatim in Body so diagnostics are never swallowed:
//
//	if errors.Is(err, ecode.ErrNotFound) {
//	    // key or task absent
//	}
//
//	var e *ecode.Error
//	if errors.As(err, &e) {
//	    fmt.Println(e.Status, e.Body)
//	}
package ecode
