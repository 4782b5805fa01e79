package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadProfileParsesYAML(t *testing.T) {
	path := writeProfile(t, `
url: http://example.com/
connections: 50
threads: 4
duration: 30s
rate: 1k
warmup: true
headers:
  X-Test: "1"
local_ip:
  - 127.0.0.1
  - 127.0.0.2
`)
	p, err := LoadProfile(path)
	require.NoError(t, err)

	require.NotNil(t, p.Connections)
	assert.EqualValues(t, 50, *p.Connections)
	require.NotNil(t, p.Rate)
	assert.Equal(t, "1k", *p.Rate)
	assert.Len(t, p.LocalAddrs, 2)
}

func TestLoadProfileMissingFile(t *testing.T) {
	_, err := LoadProfile("/nonexistent/profile.yaml")
	assert.Error(t, err, "expected an error for a missing profile file")
}

func TestProfileApplyToSetsOnlyPresentFields(t *testing.T) {
	cfg := Default()
	cfg.Threads = 7 // simulate an explicit flag already set

	connections := 100
	p := &Profile{Connections: &connections}
	require.NoError(t, p.ApplyTo(cfg))
	assert.EqualValues(t, 100, cfg.Connections)
	assert.EqualValues(t, 7, cfg.Threads, "ApplyTo must not touch fields the profile doesn't set")
}

func TestProfileApplyToParsesDurationAndRate(t *testing.T) {
	cfg := Default()
	duration := "45s"
	rate := "2k"
	p := &Profile{Duration: &duration, Rate: &rate}
	require.NoError(t, p.ApplyTo(cfg))
	assert.Equal(t, 45*time.Second, cfg.Duration)
	assert.EqualValues(t, 2000, cfg.Rate)
}

func TestProfileApplyToMergesHeaders(t *testing.T) {
	cfg := Default()
	cfg.Headers["Existing"] = "yes"
	p := &Profile{Headers: map[string]string{"X-Test": "1"}}
	require.NoError(t, p.ApplyTo(cfg))
	assert.Equal(t, "yes", cfg.Headers["Existing"])
	assert.Equal(t, "1", cfg.Headers["X-Test"])
}

func TestProfileApplyToRejectsBadDuration(t *testing.T) {
	cfg := Default()
	bad := "not-a-duration-!!"
	p := &Profile{Duration: &bad}
	assert.Error(t, p.ApplyTo(cfg), "expected an error for an unparseable duration")
}
