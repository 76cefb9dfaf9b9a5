// Package version reports build metadata of the msst binary.
//
// Release builds set the variables with ldflags:
//
//	go build -ldflags "\
//	  -X github.com/ncobase/msst/version.Version=1.2.3 \
//	  -X github.com/ncobase/msst/version.Revision=abc1234 \
//	  -X 'github.com/ncobase/msst/version.BuiltAt=$(date -u +%FT%TZ)'" ./cmd/msst
//
// Unset values fall back to the module version and VCS stamps embedded by
// the go command. The callback server exposes Get on /health and the CLI
// prints it with `msst version`.
package version
