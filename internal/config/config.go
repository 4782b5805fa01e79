// Package config builds the immutable run configuration of spec §3 from
// CLI flags (internal/cli) or an optional YAML run-profile, including the
// SI-suffixed numeric/time parsing spec §6 requires ("Numeric args accept
// SI suffixes k/M/G; time args accept s/m/h"), grounded on wrk.c's
// scan_metric/scan_time and adapted from the teacher's
// perf/config/parser.go duration-parsing style.
package config

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config is the immutable configuration of spec §3's Data Model.
type Config struct {
	URL *url.URL

	Connections int
	Threads     int
	Duration    time.Duration
	Timeout     time.Duration
	Rate        float64 // requests/second, total across all connections

	Headers map[string]string
	Method  string // defaults to GET when no script supplies a request
	Body    []byte

	DynamicRequests bool
	RecordAll       bool // record-all-responses; false when --batch_latency is set
	Warmup          bool
	WarmupTimeout   time.Duration
	LocalAddrs      []string
	PrintLatency    bool // -L
	PrintULatency   bool // -U
	ScriptPath      string
	TLSConfig       *tls.Config
	JSONReport      bool
	RunProfilePath  string
}

// Default returns a Config with spec §6's documented flag defaults.
func Default() *Config {
	return &Config{
		Connections: 10,
		Threads:     2,
		Duration:    10 * time.Second,
		RecordAll:   true,
		Method:      "GET",
		Headers:     map[string]string{},
	}
}

// Validate checks the invariants spec §6 and §7 require before a run can
// start: rate > 0 is required (§6: "required; 0 aborts"), connections
// must be at least threads, and the URL must carry an http(s) scheme.
func (c *Config) Validate() error {
	if c.Rate <= 0 {
		return fmt.Errorf("config: rate must be > 0 (-R/--rate is required)")
	}
	if c.Threads <= 0 {
		return fmt.Errorf("config: threads must be > 0")
	}
	if c.Connections < c.Threads {
		return fmt.Errorf("config: connections (%d) must be >= threads (%d)", c.Connections, c.Threads)
	}
	if c.URL == nil {
		return fmt.Errorf("config: target URL is required")
	}
	switch c.URL.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("config: unsupported URL scheme %q", c.URL.Scheme)
	}
	return nil
}

// IsTLS reports whether the target URL requires a TLS connection,
// spec §3's "TLS context (present when scheme is https)".
func (c *Config) IsTLS() bool { return c.URL != nil && c.URL.Scheme == "https" }

// ConnectionsPerThread is C/T, used to derive each worker's per-connection
// throughput share.
func (c *Config) ConnectionsPerThread() int {
	if c.Threads == 0 {
		return c.Connections
	}
	return c.Connections / c.Threads
}

// PerConnectionThroughput returns R/T/(C/T) expressed in requests per
// microsecond, spec §4.3's `throughput` field.
func (c *Config) PerConnectionThroughput() float64 {
	perThread := c.Rate / float64(c.Threads)
	perConn := c.ConnectionsPerThread()
	if perConn == 0 {
		return 0
	}
	return perThread / float64(perConn) / 1_000_000
}

// ParseMetric parses a numeric argument with an optional SI suffix
// (k/M/G), per spec §6, matching wrk.c's scan_metric.
func ParseMetric(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("config: empty numeric argument")
	}
	mult := 1.0
	last := s[len(s)-1]
	switch last {
	case 'k', 'K':
		mult = 1_000
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1_000_000
		s = s[:len(s)-1]
	case 'g', 'G':
		mult = 1_000_000_000
		s = s[:len(s)-1]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid numeric argument %q: %w", s, err)
	}
	return v * mult, nil
}

// ParseTime parses a duration argument with an SI time suffix (s/m/h),
// defaulting to seconds when no suffix is present, per spec §6,
// matching wrk.c's scan_time.
func ParseTime(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("config: empty time argument")
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	unit := time.Second
	last := s[len(s)-1]
	switch last {
	case 's':
		unit = time.Second
		s = s[:len(s)-1]
	case 'm':
		unit = time.Minute
		s = s[:len(s)-1]
	case 'h':
		unit = time.Hour
		s = s[:len(s)-1]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid time argument %q: %w", s, err)
	}
	return time.Duration(v * float64(unit)), nil
}

// ResolveURL parses and validates the target URL argument.
func ResolveURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("config: invalid URL %q: %w", raw, err)
	}
	if u.Scheme == "" {
		u, err = url.Parse("http://" + raw)
		if err != nil {
			return nil, fmt.Errorf("config: invalid URL %q: %w", raw, err)
		}
	}
	if u.Host == "" {
		return nil, fmt.Errorf("config: URL %q has no host", raw)
	}
	return u, nil
}

// DefaultWarmupTimeout returns spec §4.4's independent warmup timeout
// for c connections: C*600000/350000 ms, floor 1000ms.
func DefaultWarmupTimeout(connections int) time.Duration {
	ms := float64(connections) * 600000 / 350000
	if ms < 1000 {
		ms = 1000
	}
	return time.Duration(ms) * time.Millisecond
}
