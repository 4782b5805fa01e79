package socket

import (
	"crypto/tls"
	"net"
	"sync"

	"github.com/wesleyorama2/wrkgo/internal/reactor"
)

// TLSSocket backs the Socket interface with crypto/tls over a dialed
// net.Conn. Each operation that would block runs on its own goroutine;
// the result is posted back to the owning reactor and picked up by the
// next call to the same method, so the caller-visible contract stays
// OK|ERROR|RETRY like the plain socket.
type TLSSocket struct {
	reactor   *reactor.Reactor
	tlsConfig *tls.Config

	mu      sync.Mutex
	raw     net.Conn
	conn    *tls.Conn
	fd      int32
	pending bool   // a background goroutine is in flight
	ready   bool   // the in-flight goroutine finished, result fields are valid
	op      string // which method is in flight: "connect", "read", "write"
	n       int
	buf     []byte
	err     error
	onReady func() // registered by Await while pending; fired by the goroutine on completion
}

func (s *TLSSocket) FD() int32 { return s.fd }

// Connect dials addr and performs the TLS handshake on a background
// goroutine. Callers see RETRY{WantRead:true} while the goroutine runs
// (Await wakes them via PostFunc, not real fd readiness — there is no fd
// to poll until the dial completes) and must call Connect again to
// collect the result.
func (s *TLSSocket) Connect(addr net.Addr, localAddr net.Addr) (Status, Retry) {
	s.mu.Lock()
	if s.ready && s.op == "connect" {
		err := s.err
		s.ready = false
		s.mu.Unlock()
		if err != nil {
			return ERROR, Retry{}
		}
		return OK, Retry{}
	}
	if s.pending {
		s.mu.Unlock()
		return RETRY, Retry{WantRead: true}
	}
	s.pending = true
	s.op = "connect"
	s.mu.Unlock()

	go func() {
		var dialer net.Dialer
		if localAddr != nil {
			dialer.LocalAddr = localAddr
		}
		raw, err := dialer.Dial("tcp", addr.String())
		if err == nil {
			conn := tls.Client(raw, s.tlsConfig)
			err = conn.Handshake()
			if err == nil {
				s.mu.Lock()
				s.raw, s.conn = raw, conn
				s.mu.Unlock()
			} else {
				raw.Close()
			}
		}
		s.mu.Lock()
		s.err = err
		s.pending = false
		s.ready = true
		cb := s.onReady
		s.onReady = nil
		s.mu.Unlock()
		if cb != nil {
			s.reactor.PostFunc(cb)
		}
	}()

	return RETRY, Retry{WantRead: true}
}

// Close closes the underlying connection synchronously; crypto/tls.Close
// is itself a blocking network write, but callers only close once per
// connection lifetime and wrk.c treats close as best-effort too.
func (s *TLSSocket) Close() (Status, Retry) {
	s.mu.Lock()
	conn := s.conn
	s.conn, s.raw = nil, nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	return OK, Retry{}
}

// Read and Write bridge tls.Conn's blocking calls the same way Connect
// does: a method call either starts a goroutine (returning RETRY) or
// collects a finished goroutine's result.
func (s *TLSSocket) Read(buf []byte) (int, Status, Retry) {
	s.mu.Lock()
	if s.ready && s.op == "read" {
		n, err := s.n, s.err
		s.ready = false
		s.mu.Unlock()
		if err != nil {
			return 0, ERROR, Retry{}
		}
		if n == 0 {
			return 0, ERROR, Retry{}
		}
		return n, OK, Retry{}
	}
	if s.pending {
		s.mu.Unlock()
		return 0, RETRY, Retry{WantRead: true}
	}
	conn := s.conn
	s.pending = true
	s.op = "read"
	s.mu.Unlock()

	go func() {
		n, err := conn.Read(buf)
		s.mu.Lock()
		s.n, s.err = n, err
		s.pending = false
		s.ready = true
		cb := s.onReady
		s.onReady = nil
		s.mu.Unlock()
		if cb != nil {
			s.reactor.PostFunc(cb)
		}
	}()

	return 0, RETRY, Retry{WantRead: true}
}

func (s *TLSSocket) Write(buf []byte) (int, Status, Retry) {
	s.mu.Lock()
	if s.ready && s.op == "write" {
		n, err := s.n, s.err
		s.ready = false
		s.mu.Unlock()
		if err != nil {
			return 0, ERROR, Retry{}
		}
		return n, OK, Retry{}
	}
	if s.pending {
		s.mu.Unlock()
		return 0, RETRY, Retry{WantWrite: true}
	}
	conn := s.conn
	s.pending = true
	s.op = "write"
	s.mu.Unlock()

	go func() {
		n, err := conn.Write(buf)
		s.mu.Lock()
		s.n, s.err = n, err
		s.pending = false
		s.ready = true
		cb := s.onReady
		s.onReady = nil
		s.mu.Unlock()
		if cb != nil {
			s.reactor.PostFunc(cb)
		}
	}()

	return 0, RETRY, Retry{WantWrite: true}
}

// Readable always reports 0: tls.Conn buffers records internally and
// exposes no peek-without-read equivalent to FIONREAD, so the connection
// state machine must rely on Read's own RETRY/OK signal instead of
// pre-checking Readable for TLS sockets.
func (s *TLSSocket) Readable() int { return 0 }

// Await runs onReady once the in-flight goroutine (if any) completes.
// There is no fd to register with the reactor's epoll set during the gap
// between dial and handshake completion, or during a blocking tls.Conn
// call, so the goroutine itself posts onReady back onto the reactor's loop
// via PostFunc when it finishes — Await only has to record which callback
// that is, never poll for it.
func (s *TLSSocket) Await(r Retry, onReady func()) {
	if onReady == nil {
		return
	}
	s.mu.Lock()
	if s.ready {
		s.mu.Unlock()
		onReady()
		return
	}
	s.onReady = onReady
	s.mu.Unlock()
}
