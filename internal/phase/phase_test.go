package phase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWarmupTimeoutMsFloor(t *testing.T) {
	tests := []struct {
		name        string
		connections int
		want        int64
	}{
		{"tiny count floors to 1000", 1, 1000},
		{"400 connections", 400, 1000}, // 400*600000/350000 ≈ 686 ms, below the 1000 ms floor
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WarmupTimeoutMs(tt.connections))
		})
	}
}

func TestSampleIntervalFloor(t *testing.T) {
	got := SampleInterval(100)
	assert.EqualValues(t, minSampleIntervalMs, got.Milliseconds())
}

func TestSampleIntervalScalesWithP90(t *testing.T) {
	got := SampleInterval(10_000) // 10ms p90
	assert.EqualValues(t, 20, got.Milliseconds())
}

func TestControllerWarmupDisabledStartsNormal(t *testing.T) {
	c := New(false, 1000, WarmupTimeoutMs(10))
	require.Equal(t, Normal, c.Phase(), "expected Normal when warmup disabled")

	start, set := c.PhaseNormalStart()
	assert.True(t, set)
	assert.EqualValues(t, 1000, start)
}

func TestControllerWarmupBarrierReady(t *testing.T) {
	b := NewBarrier(2)
	c := New(true, 0, WarmupTimeoutMs(10))
	require.Equal(t, Warmup, c.Phase(), "expected Warmup initially")

	assert.False(t, c.PollWarmup(b, 500), "should not transition before barrier is ready or timeout elapses")

	b.WorkerReady()
	b.WorkerReady()
	require.True(t, b.Ready(), "expected barrier ready after all workers report in")

	assert.True(t, c.PollWarmup(b, 600), "expected transition to Normal once barrier ready")
	assert.Equal(t, Normal, c.Phase())
}

func TestControllerWarmupIndependentTimeout(t *testing.T) {
	b := NewBarrier(4) // never satisfied by a single WorkerReady call below
	c := New(true, 0, 1000)
	b.WorkerReady()
	assert.False(t, c.PollWarmup(b, 999_999), "should not transition before own timeout elapses")
	assert.True(t, c.PollWarmup(b, 1_000_000), "expected independent-timeout transition at deadline")
}

func TestPhaseNormalStartSetExactlyOnce(t *testing.T) {
	c := New(false, 42, 0)
	start, _ := c.PhaseNormalStart()
	require.EqualValues(t, 42, start)

	c.enterNormal(999) // simulate a second call; must be a no-op
	start, _ = c.PhaseNormalStart()
	assert.EqualValues(t, 42, start, "PhaseNormalStart changed on second enterNormal call")
}

func TestCalibrateReArmsOnZeroMean(t *testing.T) {
	c := New(false, 0, 0)
	_, ok := c.Calibrate(0, 500)
	assert.False(t, ok, "expected re-arm (ok=false) when mean latency is zero")
	assert.False(t, c.Calibrated(), "should not be marked calibrated after a zero-mean callback")

	_, ok = c.Calibrate(1500, 500)
	assert.True(t, ok, "expected calibration to succeed once mean is non-zero")
	assert.True(t, c.Calibrated(), "expected Calibrated() true after a successful calibration")
}
