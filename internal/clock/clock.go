// Package clock provides the monotonic microsecond time source used by the
// pacer, phase controller, and histograms.
package clock

import "time"

// start anchors NowMicro's return value at process startup so callers can
// treat it as a small, cheap-to-compare monotonic counter instead of a
// wall-clock timestamp.
var start = time.Now()

// NowMicro returns microseconds elapsed since process start, read from the
// runtime's monotonic clock. It never regresses, even across wall-clock
// adjustments (time.Since uses the monotonic reading time.Now() attaches to
// every value).
func NowMicro() uint64 {
	return uint64(time.Since(start).Microseconds())
}
