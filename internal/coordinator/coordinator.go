// Package coordinator implements spec §4.6: it resolves the target,
// constructs T workers with C/T connections each and rate R/T, waits for
// every worker to join, merges their histograms and counters, invokes
// the optional script hooks, and returns the aggregate report.
//
// Adapted from the teacher's (deleted) internal/performance/v2/engine
// Run/Shutdown join pattern: spawn N goroutines, WaitGroup.Wait, then
// aggregate — generalized from per-VU results to per-worker reactors.
package coordinator

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/wrkgo/internal/clock"
	"github.com/wesleyorama2/wrkgo/internal/config"
	"github.com/wesleyorama2/wrkgo/internal/conn"
	"github.com/wesleyorama2/wrkgo/internal/histogram"
	"github.com/wesleyorama2/wrkgo/internal/phase"
	"github.com/wesleyorama2/wrkgo/internal/reactor"
	"github.com/wesleyorama2/wrkgo/internal/scripthook"
	"github.com/wesleyorama2/wrkgo/internal/socket"
	"github.com/wesleyorama2/wrkgo/internal/worker"
)

// Report is spec §2's "aggregate throughput, byte-transfer, error, and
// latency-distribution statistics", ready for internal/report to render.
type Report struct {
	Runtime     time.Duration
	Complete    uint64
	Bytes       uint64
	Counters    conn.Counters
	Corrected   histogram.Percentiles
	Uncorrected histogram.Percentiles
	Throughput  []float64
}

// HookFactory builds the per-worker script hook. When nil, Run falls
// back to a compiled-in DefaultHook built from cfg (spec §9's
// "load-generation core must run without scripts").
type HookFactory func(threadID int) scripthook.Hook

// Run spawns cfg.Threads workers, each owning cfg.ConnectionsPerThread()
// connections against cfg's target, and blocks until every worker stops
// (via ctx cancellation, reaching cfg.Duration, or an early
// response-triggered stop). It returns the merged report.
func Run(ctx context.Context, cfg *config.Config, hookFactory HookFactory) (*Report, error) {
	addr, err := resolveAddr(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("coordinator: resolve target: %w", err)
	}

	localAddrs, err := resolveLocalAddrs(cfg.LocalAddrs)
	if err != nil {
		return nil, fmt.Errorf("coordinator: resolve local bind address: %w", err)
	}

	threads := cfg.Threads
	barrier := phase.NewBarrier(threads)
	stopFlag := &atomic.Bool{}
	agg := &worker.ThroughputStats{}

	warmupTimeoutMs := int64(cfg.WarmupTimeout / time.Millisecond)
	if warmupTimeoutMs <= 0 {
		warmupTimeoutMs = int64(config.DefaultWarmupTimeout(cfg.Connections) / time.Millisecond)
	}

	connsPerThread := cfg.ConnectionsPerThread()
	perConnThroughput := cfg.PerConnectionThroughput()

	if hookFactory == nil {
		template := BuildRequestTemplate(cfg)
		hookFactory = func(threadID int) scripthook.Hook {
			return scripthook.NewDefaultHook(template)
		}
	}

	workers := make([]*worker.Worker, threads)
	reactors := make([]*reactor.Reactor, threads)

	for t := 0; t < threads; t++ {
		r, err := reactor.New(connsPerThread)
		if err != nil {
			return nil, fmt.Errorf("coordinator: create reactor for worker %d: %w", t, err)
		}
		reactors[t] = r

		hook := hookFactory(t)
		hook.Init(t, nil)

		w := worker.New(t, worker.Config{
			Reactor:         r,
			Corrected:       histogram.New(),
			Uncorrected:     histogram.New(),
			Counters:        &conn.Counters{},
			Stats:           &conn.Stats{},
			WarmupEnabled:   cfg.Warmup,
			WarmupTimeoutMs: warmupTimeoutMs,
			Barrier:         barrier,
			Duration:        cfg.Duration,
			StopFlag:        stopFlag,
			Agg:             agg,
			Seed:            int64(t) + 1,
			Hook:            hook,
		})

		newSocket := newSocketFactory(r, cfg)
		conns := make([]*conn.Connection, connsPerThread)
		for i := 0; i < connsPerThread; i++ {
			var localAddr net.Addr
			if len(localAddrs) > 0 {
				localAddr = localAddrs[i%len(localAddrs)]
			}

			deps := conn.Deps{
				Reactor:       r,
				Corrected:     w.Corrected(),
				Uncorrect:     w.Uncorrected(),
				Counters:      w.Counters(),
				Stats:         w.Stats(),
				Hook:          hook,
				RecordAll:     cfg.RecordAll,
				Addr:          addr,
				LocalAddr:     localAddr,
				NewSocket:     newSocket,
				StopAtUs:      w.StopAtUs,
				StopReactor:   w.StopReactor,
				OnEstablished: w.OnConnEstablished,
			}
			conns[i] = conn.New(deps, perConnThroughput)
		}
		w.SetConns(conns)
		workers[t] = w
	}

	go func() {
		<-ctx.Done()
		stopFlag.Store(true)
	}()

	var wg sync.WaitGroup
	wg.Add(threads)
	for _, w := range workers {
		w := w
		go func() {
			defer wg.Done()
			w.Run()
		}()
	}
	wg.Wait()

	for _, r := range reactors {
		r.Close()
	}

	return aggregate(workers, agg), nil
}

// aggregate implements spec §4.6's merge: sum counters/complete/bytes,
// merge histograms, take the minimum phase_normal_start (or the minimum
// startup time if no worker passed through WARMUP), and dispatch the
// per-worker Summary/Errors hooks plus one coordinator-level Done call.
func aggregate(workers []*worker.Worker, agg *worker.ThroughputStats) *Report {
	corrected := histogram.New()
	uncorrected := histogram.New()
	var counters conn.Counters
	var complete, bytes uint64

	for _, w := range workers {
		corrected.Merge(w.Corrected())
		uncorrected.Merge(w.Uncorrected())

		c := w.Counters()
		counters.Connect += c.Connect
		counters.Read += c.Read
		counters.Write += c.Write
		counters.Timeout += c.Timeout
		counters.Status += c.Status
		counters.Established += c.Established
		counters.Reconnect += c.Reconnect

		s := w.Stats()
		complete += s.Complete
		bytes += s.Bytes
	}

	measurementStart := minMeasurementStart(workers)

	now := clock.NowMicro()
	var runtime time.Duration
	if now > measurementStart {
		runtime = time.Duration(now-measurementStart) * time.Microsecond
	}

	throughput := []float64{}
	if agg != nil {
		throughput = agg.Samples()
	}

	rep := &Report{
		Runtime:     runtime,
		Complete:    complete,
		Bytes:       bytes,
		Counters:    counters,
		Corrected:   corrected.CorrectedReport(),
		Uncorrected: uncorrected.UncorrectedReport(),
		Throughput:  throughput,
	}

	dispatchHooks(workers, rep)
	return rep
}

// minMeasurementStart implements spec §4.6's "minimum across workers of
// phase_normal_start (when any worker passed through WARMUP), otherwise
// the original startup time" — both minima are tracked in one pass so a mix
// of warmed-up and never-warmed-up workers (which shouldn't happen in
// practice, since warmup is a run-wide flag, but costs nothing to handle
// correctly) still yields a sane minimum.
func minMeasurementStart(workers []*worker.Worker) uint64 {
	var minNormal uint64
	haveNormal := false
	var minStartup uint64
	haveStartup := false

	for _, w := range workers {
		if ts, ok := w.PhaseNormalStart(); ok {
			if !haveNormal || ts < minNormal {
				minNormal, haveNormal = ts, true
			}
		}
		su := w.StartupUs()
		if !haveStartup || su < minStartup {
			minStartup, haveStartup = su, true
		}
	}

	if haveNormal {
		return minNormal
	}
	return minStartup
}

func dispatchHooks(workers []*worker.Worker, rep *Report) {
	latency := scripthook.Stats{
		P50:   rep.Corrected.P50,
		P90:   rep.Corrected.P90,
		P99:   rep.Corrected.P99,
		P999:  rep.Corrected.P999,
		Max:   rep.Corrected.Max,
		Mean:  rep.Corrected.Mean,
		Count: rep.Corrected.Count,
	}
	requests := throughputStats(rep.Throughput)

	doneCalled := false
	for _, w := range workers {
		hook := w.Hook()
		if hook == nil {
			continue
		}
		s := w.Stats()
		runtimeUs := clock.NowMicro() - w.StartupUs()
		hook.Summary(runtimeUs, s.Complete, s.Bytes)

		c := w.Counters()
		hook.Errors(scripthook.ErrorCounts{
			Connect:     c.Connect,
			Read:        c.Read,
			Write:       c.Write,
			Timeout:     c.Timeout,
			Status:      c.Status,
			Established: c.Established,
			Reconnect:   c.Reconnect,
		})

		if hook.HasDone() && !doneCalled {
			hook.Done(latency, requests)
			doneCalled = true
		}
	}
}

// throughputStats turns the raw per-interval requests/sec samples
// gathered by every worker's sampler (spec §4.4) into the minimal
// distribution shape scripthook.Done expects; this is an ordinary sample
// set, not a histogram, so percentiles are index-picked from a sorted
// copy rather than computed via HdrHistogram.
func throughputStats(samples []float64) scripthook.Stats {
	if len(samples) == 0 {
		return scripthook.Stats{}
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	pick := func(q float64) int64 {
		idx := int(q / 100 * float64(len(sorted)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return int64(sorted[idx])
	}

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	return scripthook.Stats{
		P50:   pick(50),
		P90:   pick(90),
		P99:   pick(99),
		P999:  pick(99.9),
		Max:   int64(sorted[len(sorted)-1]),
		Mean:  sum / float64(len(sorted)),
		Count: int64(len(sorted)),
	}
}

// resolveAddr resolves cfg.URL's host:port to a *net.TCPAddr. A DNS
// failure here is spec §7's "DNS... initialization failures at startup
// are fatal with exit(1)" — the caller (internal/cli) is responsible for
// translating this error into that exit code.
func resolveAddr(u *url.URL) (net.Addr, error) {
	if u == nil {
		return nil, fmt.Errorf("target URL is required")
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return net.ResolveTCPAddr("tcp", net.JoinHostPort(host, port))
}

func resolveLocalAddrs(specs []string) ([]net.Addr, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	addrs := make([]net.Addr, 0, len(specs))
	for _, s := range specs {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		ip := net.ParseIP(s)
		if ip == nil {
			return nil, fmt.Errorf("invalid local bind address %q", s)
		}
		addrs = append(addrs, &net.TCPAddr{IP: ip})
	}
	return addrs, nil
}

func newSocketFactory(r *reactor.Reactor, cfg *config.Config) func() socket.Socket {
	if cfg.IsTLS() {
		tlsCfg := cfg.TLSConfig
		if tlsCfg == nil {
			tlsCfg = &tls.Config{ServerName: cfg.URL.Hostname()}
		}
		return func() socket.Socket { return socket.NewTLS(r, tlsCfg) }
	}
	return func() socket.Socket { return socket.NewPlain(r) }
}

// BuildRequestTemplate builds the compiled-in HTTP/1.1 request every
// connection sends when no script is configured (spec §9: "the
// load-generation core must run without scripts"). Exported so
// internal/cli can build the same template to feed a decorated hook
// (--extract-json/--validate-schema) instead of coordinator.Run's own
// scriptless default.
func BuildRequestTemplate(cfg *config.Config) []byte {
	method := cfg.Method
	if method == "" {
		method = "GET"
	}
	path := "/"
	if cfg.URL != nil && cfg.URL.RequestURI() != "" {
		path = cfg.URL.RequestURI()
	}

	var b strings.Builder
	b.WriteString(method)
	b.WriteString(" ")
	b.WriteString(path)
	b.WriteString(" HTTP/1.1\r\n")
	b.WriteString("Host: ")
	if cfg.URL != nil {
		b.WriteString(cfg.URL.Host)
	}
	b.WriteString("\r\n")
	for k, v := range cfg.Headers {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}
	if len(cfg.Body) > 0 {
		b.WriteString("Content-Length: ")
		b.WriteString(strconv.Itoa(len(cfg.Body)))
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	if len(cfg.Body) > 0 {
		b.Write(cfg.Body)
	}
	return []byte(b.String())
}
