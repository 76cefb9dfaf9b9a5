// Package msst is the client of the MSST audio separation API.
//
// A Job selects one of three transfer modes by the fields it populates:
// a local file uploaded with the request, presigned source and sink URLs
// the service reads and writes directly, or an object key in the store the
// service shares with the caller. The task id the service returns is
// authoritative for every later call.
package msst
