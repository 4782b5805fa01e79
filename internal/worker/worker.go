// Package worker implements spec §3's "Worker" and the timer wiring of
// §4.4-§4.5: one OS thread's worth of connections sharing a single
// reactor, the warmup barrier poll, the one-shot calibration callback,
// the periodic throughput sampler, and the 2s stop-check.
//
// Grounded on the teacher's per-VU independence model in
// internal/performance/v2/vu.go (each VU owns its own state, no shared
// mutable connection state), generalized here to one reactor multiplexing
// many connections instead of one goroutine per virtual user.
package worker

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/wrkgo/internal/clock"
	"github.com/wesleyorama2/wrkgo/internal/conn"
	"github.com/wesleyorama2/wrkgo/internal/histogram"
	"github.com/wesleyorama2/wrkgo/internal/phase"
	"github.com/wesleyorama2/wrkgo/internal/reactor"
	"github.com/wesleyorama2/wrkgo/internal/scripthook"
)

// stopCheckIntervalMs is spec §4.5's STOP_CHECK_INTERNAL_MS.
const stopCheckIntervalMs = 2000

// ThroughputStats is the process-wide aggregate-throughput sample set of
// spec §4.4's "shared aggregate-throughput stats, under a process-wide
// mutex" and §5's shared-state item (b).
type ThroughputStats struct {
	mu      sync.Mutex
	samples []float64
}

// Record adds one worker's per-interval requests/sec sample.
func (s *ThroughputStats) Record(reqPerSec float64) {
	s.mu.Lock()
	s.samples = append(s.samples, reqPerSec)
	s.mu.Unlock()
}

// Samples returns a copy of every recorded throughput sample.
func (s *ThroughputStats) Samples() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.samples))
	copy(out, s.samples)
	return out
}

// Config bundles what the coordinator decides per worker before spawning
// it: its slice of connections (already wired with conn.Deps) and the
// timing parameters that drive phase and stop-check scheduling.
type Config struct {
	Reactor         *reactor.Reactor
	Conns           []*conn.Connection
	Corrected       *histogram.Recorder
	Uncorrected     *histogram.Recorder
	Counters        *conn.Counters
	Stats           *conn.Stats
	WarmupEnabled   bool
	WarmupTimeoutMs int64
	Barrier         *phase.Barrier
	Duration        time.Duration
	StopFlag        *atomic.Bool
	Agg             *ThroughputStats
	Seed            int64
	Hook            scripthook.Hook
}

// Worker owns one reactor and the connections assigned to it, and drives
// the phase/calibration/stop-check timers that coordinate with its peers
// only through the shared Barrier, StopFlag, and Agg.
type Worker struct {
	id int

	reactor     *reactor.Reactor
	conns       []*conn.Connection
	corrected   *histogram.Recorder
	uncorrected *histogram.Recorder
	counters    *conn.Counters
	stats       *conn.Stats
	rnd         *rand.Rand
	phaseCtl    *phase.Controller
	barrier     *phase.Barrier
	stopFlag    *atomic.Bool
	agg         *ThroughputStats

	warmupEnabled   bool
	warmupTimeoutMs int64
	durationUs      uint64

	startupUs        uint64
	stopAtUs         uint64
	intervalStartUs  uint64
	sampleIntervalMs int64

	warmupPending int
	readyOnce     sync.Once

	hook scripthook.Hook
}

// New builds a Worker for connections already constructed by the
// coordinator (each with its own conn.Deps pointing back at the fields
// this Worker exposes via OnEstablished/StopAtUs/StopReactor).
func New(id int, cfg Config) *Worker {
	w := &Worker{
		id:              id,
		reactor:         cfg.Reactor,
		conns:           cfg.Conns,
		corrected:       cfg.Corrected,
		uncorrected:     cfg.Uncorrected,
		counters:        cfg.Counters,
		stats:           cfg.Stats,
		rnd:             rand.New(rand.NewSource(cfg.Seed)),
		barrier:         cfg.Barrier,
		stopFlag:        cfg.StopFlag,
		agg:             cfg.Agg,
		warmupEnabled:   cfg.WarmupEnabled,
		warmupTimeoutMs: cfg.WarmupTimeoutMs,
		durationUs:      uint64(cfg.Duration.Microseconds()),
		warmupPending:   len(cfg.Conns),
		hook:            cfg.Hook,
	}
	return w
}

// SetConns attaches this worker's connections once built. The
// coordinator constructs a Worker first (so conn.Deps closures have a
// stable *Worker to call back into for OnConnEstablished/StopAtUs/
// StopReactor) and only then builds the connections that reference it.
func (w *Worker) SetConns(conns []*conn.Connection) {
	w.conns = conns
	w.warmupPending = len(conns)
}

// Hook returns this worker's script hook, for the coordinator to invoke
// Summary/Errors against after the worker stops (spec §4.6).
func (w *Worker) Hook() scripthook.Hook { return w.hook }

// SelectLocalAddr picks one of several configured local bind addresses
// for a new connection using the worker's own random source, so that
// worker-local bind selection doesn't depend on global math/rand state.
func (w *Worker) SelectLocalAddr(addrs []string) string {
	if len(addrs) == 0 {
		return ""
	}
	return addrs[w.rnd.Intn(len(addrs))]
}

// OnConnEstablished is wired into every owned connection's
// conn.Deps.OnEstablished. It fires the warmup barrier's WorkerReady
// exactly once, the first time every connection on this worker has
// reached established (spec §4.4), and — since c reached established
// asynchronously, outside enterNormal's own connected-conns loop — arms
// c's write event directly whenever the worker is already in NORMAL.
// This covers both the warmup-disabled startup race (every connect is
// EINPROGRESS, so enterNormal's synchronous loop runs before any
// connection is actually connected) and every post-warmup Reconnect.
func (w *Worker) OnConnEstablished(c *conn.Connection) {
	w.warmupPending--
	if w.warmupPending <= 0 && w.barrier != nil {
		w.readyOnce.Do(w.barrier.WorkerReady)
	}
	if w.phaseCtl != nil && w.phaseCtl.Phase() == phase.Normal {
		c.InstallEvents()
	}
}

// StopAtUs is wired into conn.Deps.StopAtUs so the per-response deadline
// check in spec §4.3 step 4 reads this worker's absolute deadline.
func (w *Worker) StopAtUs() uint64 { return w.stopAtUs }

// StopReactor is wired into conn.Deps.StopReactor.
func (w *Worker) StopReactor() { w.stopAll() }

// Run starts the phase machine and stop-check timer, then drives the
// reactor until stop.
func (w *Worker) Run() {
	now := clock.NowMicro()
	w.startupUs = now
	w.stopAtUs = now + w.durationUs
	w.phaseCtl = phase.New(w.warmupEnabled, now, w.warmupTimeoutMs)

	for _, c := range w.conns {
		c.Connect()
	}

	if w.phaseCtl.Phase() == phase.Warmup {
		w.reactor.AddTimer(phase.ThreadSyncIntervalMs, w.pollWarmup)
	} else {
		w.enterNormal(now)
	}
	w.reactor.AddTimer(stopCheckIntervalMs, w.checkStop)

	w.reactor.Run()
}

// PhaseNormalStart exposes spec §4.6's per-worker measurement-start
// timestamp for the coordinator to take the minimum of.
func (w *Worker) PhaseNormalStart() (uint64, bool) { return w.phaseCtl.PhaseNormalStart() }

// StartupUs is this worker's fallback measurement-start timestamp when it
// never passed through WARMUP (spec §4.6).
func (w *Worker) StartupUs() uint64 { return w.startupUs }

// Corrected and Uncorrected expose this worker's owned histograms for the
// coordinator to merge after join (spec §4.6).
func (w *Worker) Corrected() *histogram.Recorder   { return w.corrected }
func (w *Worker) Uncorrected() *histogram.Recorder { return w.uncorrected }

// Counters and Stats expose this worker's error taxonomy and aggregate
// counters for the coordinator to sum after join (spec §4.6).
func (w *Worker) Counters() *conn.Counters { return w.counters }
func (w *Worker) Stats() *conn.Stats       { return w.stats }

func (w *Worker) pollWarmup() (int64, bool) {
	now := clock.NowMicro()
	if w.phaseCtl.PollWarmup(w.barrier, now) {
		w.enterNormal(now)
		return 0, false
	}
	return phase.ThreadSyncIntervalMs, true
}

// enterNormal arms the write event on every connected socket (read is
// armed per batch by the connection itself), starts the sampling interval,
// and arms the one-shot calibration timer — spec §4.4's NORMAL-entry
// sequence, run after phaseCtl has recorded phase_normal_start and shared
// by both the warmup-barrier path and the warmup-disabled startup path.
func (w *Worker) enterNormal(now uint64) {
	for _, c := range w.conns {
		if c.IsConnected() {
			c.InstallEvents()
		}
	}
	w.intervalStartUs = now
	w.reactor.AddTimer(phase.CalibrateDelayMs, w.calibrate)
}

// calibrate implements spec §4.4's one-shot calibration callback: re-arms
// itself at the same delay if the target is still idle (mean==0, per
// §9's documented open question), otherwise resets both histograms and
// the per-interval counters and arms the periodic sampler.
func (w *Worker) calibrate() (int64, bool) {
	mean := w.corrected.Mean()
	p90 := w.corrected.CorrectedReport().P90
	interval, ok := w.phaseCtl.Calibrate(mean, p90)
	if !ok {
		return phase.CalibrateDelayMs, true
	}

	w.corrected.Reset()
	w.uncorrected.Reset()
	w.stats.RequestsThisTvl = 0
	w.intervalStartUs = clock.NowMicro()
	w.sampleIntervalMs = interval.Milliseconds()
	if w.sampleIntervalMs <= 0 {
		w.sampleIntervalMs = 1
	}

	w.reactor.AddTimer(w.sampleIntervalMs, w.sample)
	return 0, false
}

// sample implements spec §4.4's periodic sampler: records
// requests*1000/elapsed_ms into the shared aggregate throughput stats,
// then resets the per-interval counter.
func (w *Worker) sample() (int64, bool) {
	now := clock.NowMicro()
	elapsedMs := float64(now-w.intervalStartUs) / 1000
	if elapsedMs > 0 && w.agg != nil {
		reqPerSec := float64(w.stats.RequestsThisTvl) * 1000 / elapsedMs
		w.agg.Record(reqPerSec)
	}
	w.stats.RequestsThisTvl = 0
	w.intervalStartUs = now
	return w.sampleIntervalMs, true
}

// checkStop implements spec §4.5's periodic stop-check: on either the
// global stop flag or this worker's own deadline, close every connection
// and stop the reactor.
func (w *Worker) checkStop() (int64, bool) {
	now := clock.NowMicro()
	if (w.stopFlag != nil && w.stopFlag.Load()) || now >= w.stopAtUs {
		w.stopAll()
		return 0, false
	}
	return stopCheckIntervalMs, true
}

func (w *Worker) stopAll() {
	for _, c := range w.conns {
		c.Close()
	}
	w.reactor.Stop()
}
