// Package resp writes the JSON and text responses of the callback server.
//
// Success bodies are the payload itself, or {"message": ...} when only a
// message is given. Failures share one envelope:
//
//	{
//	  "code": -404,              // ecode lifecycle code
//	  "message": "not found",    // Human-readable message
//	  "errors": {...}            // Details, e.g. the upstream body
//	}
//
// # Usage
//
//	resp.Success(w, metrics)
//	resp.Text(w, http.StatusOK, "OK")
//	resp.FromError(w, err) // status from ecode.ToHTTPStatus
package resp
