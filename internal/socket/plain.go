package socket

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/wesleyorama2/wrkgo/internal/reactor"
)

// PlainSocket is a non-blocking raw-fd TCP socket, polled directly by the
// owning worker's epoll reactor.
type PlainSocket struct {
	reactor    *reactor.Reactor
	fd         int32
	connecting bool
}

func (s *PlainSocket) FD() int32 { return s.fd }

// Connect issues a non-blocking connect(2). On the first call it creates
// the socket, optionally binds localAddr (spec §6's -i/--local_ip), and
// starts the connect; RETRY{WantWrite:true} means "call again once
// writable" exactly as sock_connect's EINPROGRESS path in wrk.c.
func (s *PlainSocket) Connect(addr net.Addr, localAddr net.Addr) (Status, Retry) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return ERROR, Retry{}
	}

	if s.connecting {
		// Second call after writable: check SO_ERROR for the real outcome.
		errno, err := unix.GetsockoptInt(int(s.fd), unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return ERROR, Retry{}
		}
		if errno != 0 {
			return ERROR, Retry{}
		}
		s.connecting = false
		return OK, Retry{}
	}

	domain := unix.AF_INET
	if tcp.IP.To4() == nil {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return ERROR, Retry{}
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return ERROR, Retry{}
	}

	if localAddr != nil {
		if lsa, err := sockaddrFromTCPAddr(localAddr.(*net.TCPAddr)); err == nil {
			unix.Bind(fd, lsa) // best-effort; spec §7: bind failure is non-fatal
		}
	}

	sa, err := sockaddrFromTCPAddr(tcp)
	if err != nil {
		unix.Close(fd)
		return ERROR, Retry{}
	}

	s.fd = int32(fd)
	err = unix.Connect(fd, sa)
	if err == nil {
		return OK, Retry{}
	}
	if err == unix.EINPROGRESS {
		s.connecting = true
		return RETRY, Retry{WantWrite: true}
	}
	unix.Close(fd)
	return ERROR, Retry{}
}

func sockaddrFromTCPAddr(a *net.TCPAddr) (unix.Sockaddr, error) {
	if ip4 := a.IP.To4(); ip4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = a.Port
		copy(sa.Addr[:], ip4)
		return &sa, nil
	}
	var sa unix.SockaddrInet6
	sa.Port = a.Port
	copy(sa.Addr[:], a.IP.To16())
	return &sa, nil
}

// Close releases the event registration and the fd, matching spec §4.3's
// reconnect sequence (unregister both directions, then close).
func (s *PlainSocket) Close() (Status, Retry) {
	if s.fd < 0 {
		return OK, Retry{}
	}
	s.reactor.Unregister(s.fd)
	unix.Close(int(s.fd))
	s.fd = -1
	s.connecting = false
	return OK, Retry{}
}

func (s *PlainSocket) Read(buf []byte) (int, Status, Retry) {
	n, err := unix.Read(int(s.fd), buf)
	if err == nil {
		if n == 0 {
			return 0, ERROR, Retry{} // peer closed
		}
		return n, OK, Retry{}
	}
	st, retry := statusFromErrno(err)
	if st == RETRY {
		retry.WantRead = true
	}
	return 0, st, retry
}

func (s *PlainSocket) Write(buf []byte) (int, Status, Retry) {
	n, err := unix.Write(int(s.fd), buf)
	if err == nil {
		return n, OK, Retry{}
	}
	st, retry := statusFromErrno(err)
	if st == RETRY {
		retry.WantWrite = true
	}
	return 0, st, retry
}

// Readable reports bytes currently queued for read, via FIONREAD. The
// read/parse cycle in internal/conn does not call it; it stops reading on
// a short read or RETRY instead.
func (s *PlainSocket) Readable() int {
	if s.fd < 0 {
		return 0
	}
	n, err := unix.IoctlGetInt(int(s.fd), unix.TIOCINQ)
	if err != nil {
		return 0
	}
	return n
}

// Await registers fd with the reactor for exactly the directions r
// requests, invoking onReady once and then de-registering — the one-shot
// readiness notification the connection state machine re-arms on its next
// RETRY.
func (s *PlainSocket) Await(r Retry, onReady func()) {
	if s.fd < 0 || onReady == nil {
		return
	}
	fired := false
	fire := func() {
		if fired {
			return
		}
		fired = true
		s.reactor.Unregister(s.fd)
		onReady()
	}
	var readCB, writeCB func()
	if r.WantRead {
		readCB = fire
	}
	if r.WantWrite {
		writeCB = fire
	}
	s.reactor.Register(s.fd, r.WantRead, r.WantWrite, readCB, writeCB)
}
