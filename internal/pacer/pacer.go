// Package pacer implements the per-connection rate controller described in
// spec §4.3: it decides when the next request on a connection is allowed to
// go out, and tracks the accelerated "catch-up" schedule used once a
// connection falls behind its ideal pace.
//
// This is the Go-idiomatic generalization of wrk.c's inlined
// usec_to_next_send and the rate_handler_t fields it closed over — collapsed
// into a single struct per spec §9's open question ("the per-connection
// rate_handler_t fields... can collapse to one copy").
package pacer

// Pacer tracks one connection's ideal send schedule.
//
// Throughput and CatchUpThroughput are requests per microsecond.
// ThreadStart is the microsecond timestamp of the connection's first
// connect (spec §3: "set once at first connect and not reset on
// reconnect"). Complete is the number of responses completed on this
// connection so far; callers increment it as responses land.
type Pacer struct {
	Throughput        float64
	CatchUpThroughput float64
	ThreadStart       uint64
	Complete          uint64

	CaughtUp               bool
	CatchUpStartTime       uint64
	CompleteAtCatchUpStart uint64
}

// New creates a Pacer for a connection given its share of the target rate.
// CatchUpThroughput is fixed at 2x throughput, matching wrk.c.
func New(throughput float64) *Pacer {
	return &Pacer{
		Throughput:        throughput,
		CatchUpThroughput: throughput * 2,
		CaughtUp:          true,
	}
}

// UsecToNextSend returns 0 if a send is permitted now, or the number of
// microseconds to wait before the next permitted send. It implements
// spec §4.3 verbatim:
//
//	next = thread_start + complete/throughput
//	if next > now:      caught_up = true;  return next - now
//	else (behind):
//	    if was caught_up: enter catch-up state at now
//	    catch_next = catch_up_start_time + (complete-complete_at_catch_up_start)/catch_up_throughput
//	    return max(0, catch_next - now)
func (p *Pacer) UsecToNextSend(now uint64) uint64 {
	next := p.ThreadStart + uint64(float64(p.Complete)/p.Throughput)

	if next > now {
		p.CaughtUp = true
		return next - now
	}

	if p.CaughtUp {
		p.CaughtUp = false
		p.CatchUpStartTime = now
		p.CompleteAtCatchUpStart = p.Complete
	}

	sinceCatchUp := p.Complete - p.CompleteAtCatchUpStart
	catchNext := p.CatchUpStartTime + uint64(float64(sinceCatchUp)/p.CatchUpThroughput)

	if catchNext > now {
		return catchNext - now
	}
	return 0
}
