// Package histogram wraps HdrHistogram-go into the corrected/uncorrected
// latency recorder pair each worker owns (spec §3, §4.3).
package histogram

import (
	"sync"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Range matches the teacher's metrics.DefaultEngineConfig: microsecond
// resolution from 1us to 1 hour, 3 significant figures.
const (
	minValue = 1
	maxValue = 3600 * 1000 * 1000
	sigFigs  = 3
)

// Recorder owns the pair of histograms a worker (and, after merge, the
// coordinator) carries: corrected latencies dated from the expected start
// time, and uncorrected latencies dated from the actual send time.
type Recorder struct {
	mu          sync.Mutex
	corrected   *hdrhistogram.Histogram
	uncorrected *hdrhistogram.Histogram
}

// New creates an empty corrected/uncorrected histogram pair.
func New() *Recorder {
	return &Recorder{
		corrected:   hdrhistogram.New(minValue, maxValue, sigFigs),
		uncorrected: hdrhistogram.New(minValue, maxValue, sigFigs),
	}
}

// RecordCorrected records a coordinated-omission-corrected latency sample,
// in microseconds. Negative values are recorded at the histogram's 1µs
// minimum and surfaced via ok;
// spec §7 treats a negative corrected latency as a pacing-math assertion,
// not a fatal error, so callers decide what to do with ok==false.
func (r *Recorder) RecordCorrected(us int64) (ok bool) {
	ok = us >= 0
	if us < 0 {
		us = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.corrected.RecordValue(clamp(us))
	return ok
}

// RecordUncorrected records an actual-start-based latency sample in
// microseconds.
func (r *Recorder) RecordUncorrected(us int64) {
	if us < 0 {
		us = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uncorrected.RecordValue(clamp(us))
}

func clamp(us int64) int64 {
	if us < minValue {
		return minValue
	}
	if us > maxValue {
		return maxValue
	}
	return us
}

// Merge folds other's samples into r. Used by the coordinator to combine
// per-worker histograms into the final report (spec §4.6).
func (r *Recorder) Merge(other *Recorder) {
	other.mu.Lock()
	corrected := other.corrected
	uncorrected := other.uncorrected
	other.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.corrected.Merge(corrected)
	r.uncorrected.Merge(uncorrected)
}

// Reset clears both histograms. Used by the calibration timer (spec §4.4).
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.corrected.Reset()
	r.uncorrected.Reset()
}

// Percentiles is a point-in-time read of a histogram's shape.
type Percentiles struct {
	P50, P90, P99, P999 int64
	Max                 int64
	Mean                float64
	Count               int64
}

// CorrectedReport returns percentiles (in microseconds) for the corrected
// histogram.
func (r *Recorder) CorrectedReport() Percentiles {
	r.mu.Lock()
	defer r.mu.Unlock()
	return report(r.corrected)
}

// UncorrectedReport returns percentiles (in microseconds) for the
// uncorrected histogram.
func (r *Recorder) UncorrectedReport() Percentiles {
	r.mu.Lock()
	defer r.mu.Unlock()
	return report(r.uncorrected)
}

// Mean returns the corrected histogram's mean, in microseconds. Used by the
// calibration timer to decide whether to re-arm (spec §4.4).
func (r *Recorder) Mean() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.corrected.Mean()
}

func report(h *hdrhistogram.Histogram) Percentiles {
	return Percentiles{
		P50:   h.ValueAtQuantile(50),
		P90:   h.ValueAtQuantile(90),
		P99:   h.ValueAtQuantile(99),
		P999:  h.ValueAtQuantile(99.9),
		Max:   h.Max(),
		Mean:  h.Mean(),
		Count: h.TotalCount(),
	}
}
