package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetricSuffixes(t *testing.T) {
	cases := map[string]float64{
		"10":   10,
		"2k":   2_000,
		"2K":   2_000,
		"1.5M": 1_500_000,
		"1G":   1_000_000_000,
	}
	for in, want := range cases {
		got, err := ParseMetric(in)
		require.NoErrorf(t, err, "ParseMetric(%q)", in)
		assert.Equalf(t, want, got, "ParseMetric(%q)", in)
	}
}

func TestParseMetricInvalid(t *testing.T) {
	_, err := ParseMetric("")
	assert.Error(t, err, "expected error for empty metric")
	_, err = ParseMetric("abc")
	assert.Error(t, err, "expected error for non-numeric metric")
}

func TestParseTimeSuffixes(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"5m":  5 * time.Minute,
		"2h":  2 * time.Hour,
		"10":  10 * time.Second, // no suffix defaults to seconds
	}
	for in, want := range cases {
		got, err := ParseTime(in)
		require.NoErrorf(t, err, "ParseTime(%q)", in)
		assert.Equalf(t, want, got, "ParseTime(%q)", in)
	}
}

func TestResolveURLAddsScheme(t *testing.T) {
	u, err := ResolveURL("example.com/path")
	require.NoError(t, err)
	assert.Equal(t, "http", u.Scheme)
	assert.Equal(t, "example.com", u.Host)
}

func TestResolveURLRejectsNoHost(t *testing.T) {
	_, err := ResolveURL("http://")
	assert.Error(t, err, "expected error for URL with no host")
}

func TestValidateRequiresRate(t *testing.T) {
	c := Default()
	u, _ := ResolveURL("http://example.com")
	c.URL = u
	assert.Error(t, c.Validate(), "expected error when rate is unset")

	c.Rate = 100
	assert.NoError(t, c.Validate())
}

func TestValidateRejectsConnectionsBelowThreads(t *testing.T) {
	c := Default()
	u, _ := ResolveURL("http://example.com")
	c.URL = u
	c.Rate = 100
	c.Threads = 4
	c.Connections = 2
	assert.Error(t, c.Validate(), "expected error when connections < threads")
}

func TestValidateRejectsBadScheme(t *testing.T) {
	c := Default()
	u, _ := ResolveURL("ftp://example.com")
	c.URL = u
	c.Rate = 100
	assert.Error(t, c.Validate(), "expected error for unsupported scheme")
}

func TestIsTLS(t *testing.T) {
	c := Default()
	c.URL, _ = ResolveURL("https://example.com")
	assert.True(t, c.IsTLS(), "expected IsTLS true for https URL")

	c.URL, _ = ResolveURL("http://example.com")
	assert.False(t, c.IsTLS(), "expected IsTLS false for http URL")
}

func TestPerConnectionThroughput(t *testing.T) {
	c := Default()
	c.Rate = 1000
	c.Threads = 2
	c.Connections = 10
	want := (1000.0 / 2) / 5 / 1_000_000
	assert.Equal(t, want, c.PerConnectionThroughput())
}

func TestDefaultWarmupTimeoutFloor(t *testing.T) {
	assert.Equal(t, time.Second, DefaultWarmupTimeout(1), "DefaultWarmupTimeout(1) should floor to 1s")
}
