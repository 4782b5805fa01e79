// Package socket implements the five-operation non-blocking socket
// abstraction of spec §4.1: {connect, close, read, write, readable} over
// plain TCP or TLS, each returning OK | ERROR | RETRY(want_read, want_write).
//
// The plain implementation drives a raw non-blocking fd directly and is
// polled by the worker's epoll reactor (internal/reactor) — the same
// mechanism wrk.c's sock_connect/sock_read/sock_write use under ae.h.
//
// crypto/tls gives no record-layer access, and its own documentation
// states a failed Write must be treated as fatal — there is no way to
// honor a mid-record EAGAIN and resume later the way OpenSSL's
// SSL_get_error/WANT_READ/WANT_WRITE protocol allows. So the TLS
// implementation instead runs each blocking tls.Conn call on its own
// goroutine and bridges the result back to the owning reactor via
// Reactor.PostFunc, while still reporting the same OK/ERROR/RETRY
// contract to callers. This is the one place where "non-blocking" is
// achieved by a goroutine bridge instead of true fd readiness — see
// DESIGN.md.
package socket

import (
	"crypto/tls"
	"net"

	"golang.org/x/sys/unix"

	"github.com/wesleyorama2/wrkgo/internal/reactor"
)

// Status is the outcome of a socket operation.
type Status int

const (
	OK Status = iota
	ERROR
	RETRY
)

// Retry describes which readiness direction(s) the caller must wait for
// before retrying an operation that returned RETRY. For TLS, per spec
// §4.1, the engine may request a direction that differs from the
// operation's semantic direction (e.g. a Read wanting WantWrite during
// renegotiation) — callers must register exactly what Retry asks for, not
// assume Read implies WantRead.
type Retry struct {
	WantRead  bool
	WantWrite bool
}

// Socket is the polymorphic non-blocking transport. Exactly one of Plain or
// TLS backs a given connection, selected by the target URL's scheme (spec
// §3's "TLS context (present when scheme is https)").
type Socket interface {
	Connect(addr net.Addr, localAddr net.Addr) (Status, Retry)
	Close() (Status, Retry)
	Read(buf []byte) (int, Status, Retry)
	Write(buf []byte) (int, Status, Retry)
	Readable() int

	// Await arranges for onReady to run once the readiness (or completed
	// background operation) that r describes becomes available, then
	// clears itself — callers must call an operation method again after
	// onReady fires to observe its result.
	Await(r Retry, onReady func())

	// FD exposes the underlying file descriptor for diagnostics only; the
	// reactor registration itself is owned by the Socket implementation.
	FD() int32
}

func statusFromErrno(err error) (Status, Retry) {
	if err == nil {
		return OK, Retry{}
	}
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINPROGRESS {
		return RETRY, Retry{}
	}
	return ERROR, Retry{}
}

// NewPlain creates a Plain (unencrypted TCP) Socket bound to r for
// readiness notification.
func NewPlain(r *reactor.Reactor) *PlainSocket {
	return &PlainSocket{reactor: r, fd: -1}
}

// NewTLS creates a TLS Socket backed by crypto/tls, bridging its blocking
// calls back to r via goroutines.
func NewTLS(r *reactor.Reactor, cfg *tls.Config) *TLSSocket {
	return &TLSSocket{reactor: r, tlsConfig: cfg}
}
