// Package scripthook defines the load-generation core's script boundary
// (spec §6's "script hook surface" and §9's "treat the script engine as
// an opaque per-worker context"). The core must run without any script
// at all — DefaultHook supplies a compiled-in HTTP/1.1 request template
// — so Hook is a plain Go interface rather than a binding to an embedded
// scripting engine, matching spec §9's explicit license to "select any
// embedded scripting engine or omit the feature entirely."
package scripthook

// ErrorCounts mirrors the error taxonomy of spec §7, passed to Errors at
// Done time.
type ErrorCounts struct {
	Connect     int64
	Read        int64
	Write       int64
	Timeout     int64
	Status      int64
	Established int64
	Reconnect   int64
}

// Stats is the minimal shape Done needs to report latency or request
// distributions; internal/coordinator copies internal/histogram.Percentiles
// into it when dispatching hooks, keeping scripthook free of a
// dependency on the histogram package.
type Stats struct {
	P50, P90, P99, P999, Max int64
	Mean                     float64
	Count                    int64
}

// Hook is the per-worker script context. Every method has a default,
// inert behavior when no script is configured (see DefaultHook), so a
// connection can always call through a Hook value without a nil check.
type Hook interface {
	// Resolve receives the target's host and service. Neither
	// internal/coordinator nor internal/conn calls it, so its result has
	// no effect on which connections are made.
	Resolve(host, service string) bool

	// Init is called once per worker at startup with the worker's
	// ordinal and the raw script arguments.
	Init(threadID int, argv []string)

	// Request returns the next request to send on a connection. The
	// returned slice may be shared (static) or freshly built (dynamic
	// requests enabled).
	Request() ([]byte, error)

	// VerifyRequest reports the advisory pipeline depth for the next
	// batch (spec §4.3 step 5: "pending = P").
	VerifyRequest() int

	// IsStatic reports whether Request always returns the same bytes,
	// letting the connection state machine skip calling it per batch.
	IsStatic() bool

	// WantResponse reports whether Response should be invoked at all;
	// false lets the connection skip buffering headers/body.
	WantResponse() bool

	// Response delivers a completed response to the script.
	Response(status int, headers map[string]string, body []byte)

	// HasDone reports whether Done should be invoked at the end of the run.
	HasDone() bool

	// Summary is invoked once per worker after it stops.
	Summary(runtimeUs uint64, complete, bytes uint64)

	// Errors delivers the worker's final error taxonomy counts.
	Errors(e ErrorCounts)

	// Done delivers the coordinator's merged latency and per-interval
	// request-rate statistics after all workers have joined.
	Done(latency, requests Stats)
}

// DefaultHook is the inert Hook every connection falls back to when no
// script is configured: a compiled-in static request, no response
// interest, no summary/error/done callbacks. Matches spec §9's
// "load-generation core must run without scripts."
type DefaultHook struct {
	request []byte
}

// NewDefaultHook builds a DefaultHook whose Request always returns req.
func NewDefaultHook(req []byte) *DefaultHook {
	return &DefaultHook{request: req}
}

func (h *DefaultHook) Resolve(host, service string) bool { return true }
func (h *DefaultHook) Init(threadID int, argv []string)  {}
func (h *DefaultHook) Request() ([]byte, error)          { return h.request, nil }
func (h *DefaultHook) VerifyRequest() int                { return 1 }
func (h *DefaultHook) IsStatic() bool                    { return true }
func (h *DefaultHook) WantResponse() bool                { return false }
func (h *DefaultHook) Response(status int, headers map[string]string, body []byte) {}
func (h *DefaultHook) HasDone() bool                                               { return false }
func (h *DefaultHook) Summary(runtimeUs uint64, complete, bytes uint64)            {}
func (h *DefaultHook) Errors(e ErrorCounts)                                       {}
func (h *DefaultHook) Done(latency, requests Stats)                               {}
