// Package conn implements the per-connection state machine of spec §4.3:
// connecting -> established -> (writing <-> reading), with pipelining,
// pacing, and the coordinated-omission-correcting latency recording that
// dates each response from its batch's expected start time rather than
// its actual send time.
//
// Grounded on wrk.c's connection struct and its setup_connect/
// socket_writeable/socket_readable handlers, carried over into Go's
// callback-per-readiness shape via internal/reactor and internal/socket.
package conn

import (
	"fmt"
	"math"
	"net"

	"github.com/wesleyorama2/wrkgo/internal/clock"
	"github.com/wesleyorama2/wrkgo/internal/histogram"
	"github.com/wesleyorama2/wrkgo/internal/httpparse"
	"github.com/wesleyorama2/wrkgo/internal/pacer"
	"github.com/wesleyorama2/wrkgo/internal/reactor"
	"github.com/wesleyorama2/wrkgo/internal/scripthook"
	"github.com/wesleyorama2/wrkgo/internal/socket"
)

const recvBufSize = 8192

// Counters is the error taxonomy of spec §7, owned by the worker and
// shared (by pointer) with every connection it owns.
type Counters struct {
	Connect     int64
	Read        int64
	Write       int64
	Timeout     int64
	Status      int64
	Established int64
	Reconnect   int64
}

// Stats is the aggregate counter set of spec §3's Worker fields
// (complete, requests-this-interval, bytes), owned by the worker and
// shared with every connection.
type Stats struct {
	Complete        uint64
	RequestsThisTvl uint64
	Bytes           uint64
}

// Deps bundles the per-worker resources every connection needs but does
// not own: the reactor it registers with, the two histograms it records
// into, the running counters/stats it increments, and the script hook
// that supplies requests and receives responses.
type Deps struct {
	Reactor    *reactor.Reactor
	Corrected  *histogram.Recorder
	Uncorrect  *histogram.Recorder
	Counters   *Counters
	Stats      *Stats
	Hook       scripthook.Hook
	RecordAll  bool
	Addr       net.Addr
	LocalAddr  net.Addr
	NewSocket  func() socket.Socket
	StopAtUs   func() uint64
	StopReactor func()

	// OnEstablished is called every time the connection reaches
	// established, including on reconnect — the worker uses this to know
	// when its warmup barrier condition (§4.4: "all connections on a
	// worker have entered established") is satisfied, and to arm write
	// events on a connection that establishes (or re-establishes) after
	// the worker has already entered NORMAL.
	OnEstablished func(c *Connection)
}

// Connection is one slot's worth of state, reused across reconnects per
// spec's Data Model ("on close-connection response or any I/O error the
// underlying socket is closed and reconnected in place").
type Connection struct {
	deps Deps

	sock   socket.Socket
	parser *httpparse.Parser

	pacer *pacer.Pacer

	requestBuf []byte
	written    int

	pending    int
	hasPending bool

	recvBuf [recvBufSize]byte

	isConnected bool

	completeAtLastBatchStart uint64
	actualLatencyStart       uint64

	latestShouldSendTime uint64
	latestExpectedStart  uint64
	latestConnect        uint64
	latestWrite          uint64

	complete uint64 // monotonically non-decreasing; never reset on reconnect

	curHeaders    map[string]string
	bodyBuf       []byte
	lastKeepAlive bool

	wantWriteArmed bool
	wantReadArmed  bool
}

// New creates a connection slot bound to deps, with per-connection
// throughput share throughputPerUsec (spec §4.3's `throughput` field).
func New(deps Deps, throughputPerUsec float64) *Connection {
	c := &Connection{
		deps:       deps,
		pacer:      pacer.New(throughputPerUsec),
		curHeaders: make(map[string]string, 8),
	}
	c.parser = &httpparse.Parser{
		OnHeaderValue: func(name, value string) {
			if c.deps.Hook.WantResponse() {
				c.curHeaders[name] = value
			}
		},
		OnBody: func(chunk []byte) {
			if c.deps.Hook.WantResponse() {
				c.bodyBuf = append(c.bodyBuf, chunk...)
			}
		},
		OnComplete: c.onResponseComplete,
	}
	return c
}

// Complete returns the number of responses completed on this connection,
// spec's monotonically non-decreasing invariant.
func (c *Connection) Complete() uint64 { return c.complete }

// Connect starts (or resumes) a non-blocking connect. It is safe to call
// repeatedly; RETRY re-arms itself via the socket's Await.
func (c *Connection) Connect() {
	if c.sock == nil {
		c.sock = c.deps.NewSocket()
	}
	status, retry := c.sock.Connect(c.deps.Addr, c.deps.LocalAddr)
	switch status {
	case socket.OK:
		c.onConnected()
	case socket.RETRY:
		c.sock.Await(retry, c.Connect)
	case socket.ERROR:
		// wrk.c's connect_socket records the error and returns without
		// retrying synchronously; this slot stays dead until something
		// else (a future Reconnect from a different path) reinitiates
		// it, avoiding an unbounded synchronous retry loop against a
		// permanently unreachable target.
		c.deps.Counters.Connect++
		if c.sock != nil {
			c.sock.Close()
		}
	}
}

func (c *Connection) onConnected() {
	now := clock.NowMicro()
	if c.pacer.ThreadStart == 0 {
		c.pacer.ThreadStart = now // set once; not reset on reconnect
	}
	c.latestConnect = now
	c.isConnected = true
	c.deps.Counters.Established++
	if c.deps.OnEstablished != nil {
		c.deps.OnEstablished(c)
	}
}

// InstallEvents arms the write event once a connection should start
// issuing traffic — called at NORMAL-phase entry (or immediately, when
// warmup is disabled), per spec §4.4. Read is armed by OnWritable once
// the batch is written, since Await replaces the fd's whole event mask.
func (c *Connection) InstallEvents() {
	c.armWrite()
}

func (c *Connection) armWrite() {
	if c.wantWriteArmed {
		return
	}
	c.wantWriteArmed = true
	c.sock.Await(socket.Retry{WantWrite: true}, c.OnWritable)
}

func (c *Connection) armRead() {
	if c.wantReadArmed {
		return
	}
	c.wantReadArmed = true
	c.sock.Await(socket.Retry{WantRead: true}, c.OnReadable)
}

// OnWritable implements spec §4.3's "Batch write / pipeline cycle".
func (c *Connection) OnWritable() {
	c.wantWriteArmed = false
	now := clock.NowMicro()

	if c.written == 0 {
		if delay := c.pacer.UsecToNextSend(now); delay > 0 {
			ms := int64(math.Ceil(float64(delay)/1000 + 0.5))
			c.latestShouldSendTime = now + delay
			c.deps.Reactor.AddTimer(ms, func() (int64, bool) {
				c.armWrite()
				return 0, false
			})
			return
		}

		c.latestWrite = now

		if !c.deps.Hook.IsStatic() {
			req, err := c.deps.Hook.Request()
			if err != nil {
				c.deps.Counters.Write++
				c.Reconnect()
				return
			}
			c.requestBuf = req
		} else if c.requestBuf == nil {
			req, _ := c.deps.Hook.Request()
			c.requestBuf = req
		}

		if !c.hasPending {
			c.actualLatencyStart = now
			c.completeAtLastBatchStart = c.complete
			c.hasPending = true
		}
		c.pending = c.deps.Hook.VerifyRequest()
		if c.pending <= 0 {
			c.pending = 1
		}
	}

	n, status, retry := c.sock.Write(c.requestBuf[c.written:])
	switch status {
	case socket.OK:
		c.written += n
		if c.written >= len(c.requestBuf) {
			c.written = 0
			c.armRead()
			return
		}
		c.armWrite()
	case socket.RETRY:
		c.wantWriteArmed = true
		c.sock.Await(retry, c.OnWritable)
	case socket.ERROR:
		c.deps.Counters.Write++
		c.Reconnect()
	}
}

// OnReadable implements spec §4.3's "Read / parse cycle".
func (c *Connection) OnReadable() {
	c.wantReadArmed = false

	for {
		n, status, retry := c.sock.Read(c.recvBuf[:])
		switch status {
		case socket.ERROR:
			c.deps.Counters.Read++
			c.Reconnect()
			return
		case socket.RETRY:
			// Same hazard as the short-read branch below: only re-arm read
			// if onResponseComplete hasn't already armed write for the
			// next batch while processing an earlier iteration of this
			// loop.
			if c.hasPending {
				c.wantReadArmed = true
				c.sock.Await(retry, c.OnReadable)
			}
			return
		}

		c.deps.Stats.Bytes += uint64(n)

		if !c.feed(c.recvBuf[:n]) {
			return // a response in this chunk triggered a reconnect
		}

		if n < recvBufSize {
			// short read: no more buffered bytes right now. Only re-arm
			// read if a response is still outstanding — once the batch's
			// last response completed, onResponseComplete already armed
			// write for the next batch, and Await's Register call replaces
			// the fd's whole event mask, so re-arming read here would
			// clobber that write registration and stall the connection.
			if c.hasPending && !c.wantReadArmed && c.isConnected {
				c.armRead()
			}
			return
		}
	}
}

// feed drives data through the parser, resetting it after each complete
// response so pipelined responses sharing one read buffer all get
// parsed. Returns false if a reconnect happened mid-feed (the caller
// must stop using the old socket).
func (c *Connection) feed(data []byte) bool {
	for len(data) > 0 {
		if !c.isConnected {
			return false // reconnected out from under us
		}
		n, err := c.parser.Execute(data)
		if err != nil {
			c.deps.Counters.Read++
			c.Reconnect()
			return false
		}
		data = data[n:]
		if c.parser.Done() {
			c.parser.Reset()
		} else if n == 0 {
			break // parser needs more bytes than this chunk has
		}
	}
	return true
}

func (c *Connection) onResponseComplete(status int, keepAlive bool) {
	c.lastKeepAlive = keepAlive
	now := clock.NowMicro()

	c.deps.Stats.Complete++
	c.deps.Stats.RequestsThisTvl++
	c.complete++
	c.pacer.Complete = c.complete

	if status > 399 {
		c.deps.Counters.Status++
	}

	if c.deps.Hook.WantResponse() {
		c.deps.Hook.Response(status, c.curHeaders, c.bodyBuf)
	}
	c.curHeaders = make(map[string]string, 8)
	c.bodyBuf = nil

	if stopAt := c.deps.StopAtUs(); stopAt != 0 && now >= stopAt {
		c.deps.StopReactor()
		return
	}

	isLastOfBatch := c.pending <= 1
	if c.deps.RecordAll || isLastOfBatch {
		c.recordLatency(now)
	}

	if c.pending > 0 {
		c.pending--
	}
	if c.pending == 0 {
		c.hasPending = false
		c.armWrite()
	}

	// keep-alive is inspected via the parser's OnComplete contract; a
	// close-connection response reconnects in place per spec's Data
	// Model lifecycle note.
	if !c.lastKeepAlive {
		c.Reconnect()
	}
}

// recordLatency implements spec §4.3's "Expected-start recording", the
// coordinated-omission correction: corrected latency is dated from the
// batch's expected start, not this response's actual send time.
func (c *Connection) recordLatency(now uint64) {
	expectedStart := c.pacer.ThreadStart + uint64(float64(c.completeAtLastBatchStart)/c.pacer.Throughput)
	c.latestExpectedStart = expectedStart

	corrected := int64(now) - int64(expectedStart)
	actual := int64(now) - int64(c.actualLatencyStart)

	if corrected < 0 {
		// Assertion per spec §7: never fatal, dump diagnostics and
		// continue — this indicates a pacing-math bug, not a target bug.
		fmt.Printf(
			"wrkgo: negative corrected latency %d us (thread_start=%d complete=%d throughput=%v expected_start=%d now=%d)\n",
			corrected, c.pacer.ThreadStart, c.completeAtLastBatchStart, c.pacer.Throughput, expectedStart, now,
		)
		corrected = 0
	}

	c.deps.Corrected.RecordCorrected(corrected)
	c.deps.Uncorrect.RecordUncorrected(actual)
}

// Reconnect implements spec §4.3's "Reconnect": unregister, close,
// increment the counter, and connect again in the same slot.
func (c *Connection) Reconnect() {
	c.wantReadArmed, c.wantWriteArmed = false, false
	if c.sock != nil {
		c.sock.Close()
	}
	c.isConnected = false
	c.written = 0
	c.pending = 0
	c.hasPending = false
	c.parser.Reset()
	c.deps.Counters.Reconnect++
	c.sock = c.deps.NewSocket()
	c.Connect()
}

// IsConnected reports whether the slot has an established socket.
func (c *Connection) IsConnected() bool { return c.isConnected }

// Close shuts the connection down without reconnecting, for the worker's
// stop sequence (spec §4.5: "on either, it closes every connection and
// stops the reactor").
func (c *Connection) Close() {
	c.wantReadArmed, c.wantWriteArmed = false, false
	if c.sock != nil {
		c.sock.Close()
	}
	c.isConnected = false
}
