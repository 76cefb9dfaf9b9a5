package version

import (
	"encoding/json"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withBuildInfo(t *testing.T, bi *debug.BuildInfo) {
	t.Helper()
	orig := readBuildInfo
	readBuildInfo = func() (*debug.BuildInfo, bool) { return bi, bi != nil }
	t.Cleanup(func() { readBuildInfo = orig })
}

func TestGetFallsBackToBuildInfo(t *testing.T) {
	withBuildInfo(t, &debug.BuildInfo{
		Main: debug.Module{Version: "v1.4.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.time", Value: "2026-10-01T08:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	})

	info := Get()
	assert.Equal(t, "v1.4.0", info.Version)
	assert.Equal(t, "0123456", info.Revision)
	assert.Equal(t, "2026-10-01T08:00:00Z", info.BuiltAt)
	assert.True(t, info.Modified)
	assert.Contains(t, info.String(), "0123456-dirty")
}

func TestGetPrefersLinkedValues(t *testing.T) {
	origV, origR := Version, Revision
	Version, Revision = "2.0.0", "feedbee"
	t.Cleanup(func() { Version, Revision = origV, origR })
	withBuildInfo(t, &debug.BuildInfo{
		Main:     debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "0123456789"}},
	})

	info := Get()
	assert.Equal(t, "2.0.0", info.Version)
	assert.Equal(t, "feedbee", info.Revision)
}

func TestGetWithoutBuildInfo(t *testing.T) {
	withBuildInfo(t, nil)
	info := Get()
	assert.Equal(t, Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)

	out, err := info.JSON()
	require.NoError(t, err)
	var back Info
	require.NoError(t, json.Unmarshal([]byte(out), &back))
	assert.Equal(t, info, back)
}
