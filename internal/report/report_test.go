package report

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/wrkgo/internal/conn"
	"github.com/wesleyorama2/wrkgo/internal/coordinator"
	"github.com/wesleyorama2/wrkgo/internal/histogram"
)

func sampleReport() *coordinator.Report {
	return &coordinator.Report{
		Runtime:  2 * time.Second,
		Complete: 200,
		Bytes:    204800,
		Counters: conn.Counters{Connect: 1, Read: 0, Write: 0, Timeout: 0, Status: 2},
		Corrected: histogram.Percentiles{
			P50: 1000, P90: 5000, P99: 9000, P999: 15000, Max: 20000, Mean: 1500, Count: 200,
		},
		Uncorrected: histogram.Percentiles{
			P50: 800, P90: 4000, P99: 8000, P999: 12000, Max: 18000, Mean: 1200, Count: 200,
		},
		Throughput: []float64{95, 100, 105},
	}
}

func TestWriteTextContainsSummaryFields(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleReport(), Options{NoColor: true}))
	out := buf.String()
	for _, want := range []string{"wrkgo run summary", "Requests", "200", "Errors", "Connect"} {
		assert.Contains(t, out, want)
	}
}

func TestWriteTextOmitsUncorrectedByDefault(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleReport(), Options{NoColor: true}))
	assert.NotContains(t, buf.String(), "uncorrected", "expected uncorrected latency table to be omitted without -U")
}

func TestWriteTextIncludesUncorrectedWithFlag(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleReport(), Options{NoColor: true, PrintULatency: true}))
	assert.Contains(t, buf.String(), "uncorrected", "expected uncorrected latency table with -U")
}

func TestWriteJSONRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleReport(), Options{JSON: true}))

	var out jsonReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.EqualValues(t, 200, out.Requests)
	assert.EqualValues(t, 9000, out.LatencyCorrected.P99)
	assert.Equal(t, 100.0, out.RequestsPerSec, "200 requests / 2s")
}

func TestNoColorSchemeDisablesColor(t *testing.T) {
	scheme := NoColorScheme()
	assert.Equal(t, "x", scheme.Heading.Sprint("x"), "NoColorScheme did not disable color codes")
}

func TestHumanizeBytesScalesUnits(t *testing.T) {
	cases := map[uint64]string{
		0:           "0.00B",
		1024:        "1.00KB",
		1024 * 1024: "1.00MB",
	}
	for n, want := range cases {
		assert.Equalf(t, want, humanizeBytes(n), "humanizeBytes(%d)", n)
	}
}

func TestMicrosecondsScalesUnits(t *testing.T) {
	assert.Equal(t, "500us", microseconds(500))
	assert.Equal(t, "1.50ms", microseconds(1500))
	assert.Equal(t, "2.50s", microseconds(2_500_000))
}
