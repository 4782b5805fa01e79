// Package reactor implements the single-threaded, readiness-based event
// loop described in spec §4.2: one per worker thread, multiplexing many
// file descriptors plus millisecond-resolution timers.
//
// wrk.c builds this on ae.h (the Redis event loop, itself epoll/kqueue/
// select depending on platform). The direct Go analogue — and the reason
// this package exists instead of handing every connection its own
// goroutine — is golang.org/x/sys/unix's epoll bindings: they give one
// goroutine exactly the readiness-multiplexing primitive spec §4.2 asks
// for, with the same registration/retry shape as the C original.
package reactor

import (
	"container/heap"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/wesleyorama2/wrkgo/internal/clock"
)

// Callback is invoked when fd becomes readable or writable, depending on
// which registration fired.
type Callback func()

// TimerFunc is a timed callback. Returning ok==false means "don't
// re-arm" (NO_MORE in spec §4.2); returning ok==true re-arms the timer
// after nextDelayMs milliseconds.
type TimerFunc func() (nextDelayMs int64, ok bool)

const (
	// capacityFloor matches spec §5's "at least 10 + C*3" event capacity
	// requirement; epoll itself has no fixed capacity, but we size the
	// event buffer passed to EpollWait to it so a busy reactor never
	// starves later-registered fds within one poll.
	capacityFloor = 10
)

type registration struct {
	readCB, writeCB Callback
	wantRead        bool
	wantWrite       bool
}

type timerEntry struct {
	deadlineMs int64
	fn         TimerFunc
	index      int
	cancelled  bool
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool   { return h[i].deadlineMs < h[j].deadlineMs }
func (h timerHeap) Swap(i, j int)        { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x interface{}) { e := x.(*timerEntry); e.index = len(*h); *h = append(*h, e) }
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Reactor is one worker thread's event loop.
type Reactor struct {
	epfd  int
	regs  map[int32]*registration
	timer timerHeap

	wakeR, wakeW int32

	postMu sync.Mutex
	posted []func()

	stopped bool
}

// New creates a Reactor with its own epoll instance and self-pipe wake
// channel (the latter lets PostFunc hand work back to the reactor's
// goroutine from elsewhere without the reactor spinning on a mutex).
func New(connCapacityHint int) (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.Close(epfd)
		return nil, err
	}
	r := &Reactor{
		epfd:   epfd,
		regs:   make(map[int32]*registration, capacityFloor+connCapacityHint*3),
		wakeR:  int32(fds[0]),
		wakeW:  int32(fds[1]),
		posted: make([]func(), 0, 8),
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fds[0], &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(fds[0]),
	}); err != nil {
		unix.Close(epfd)
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, err
	}
	return r, nil
}

// Register adds or updates read/write readiness callbacks for fd. The
// fd's epoll interest is replaced by exactly the directions whose want
// flag is set; a direction passed as false is no longer watched.
// Spec §4.1 forbids registering a direction the current RETRY flags don't
// demand — callers (internal/conn) are responsible for only registering
// what they need.
func (r *Reactor) Register(fd int32, wantRead, wantWrite bool, readCB, writeCB Callback) error {
	reg, exists := r.regs[fd]
	op := unix.EPOLL_CTL_MOD
	if !exists {
		reg = &registration{}
		r.regs[fd] = reg
		op = unix.EPOLL_CTL_ADD
	}
	reg.wantRead, reg.wantWrite = wantRead, wantWrite
	reg.readCB, reg.writeCB = readCB, writeCB

	var events uint32
	if wantRead {
		events |= unix.EPOLLIN
	}
	if wantWrite {
		events |= unix.EPOLLOUT
	}
	return unix.EpollCtl(r.epfd, op, int(fd), &unix.EpollEvent{Events: events, Fd: fd})
}

// Unregister removes all readiness registrations for fd.
func (r *Reactor) Unregister(fd int32) {
	if _, exists := r.regs[fd]; !exists {
		return
	}
	delete(r.regs, fd)
	unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
}

// AddTimer schedules fn to run after delayMs milliseconds. Per spec §4.2's
// deterministic iteration guarantee, a timer scheduled from within a
// running callback is only considered starting from the *next* loop
// iteration — satisfied here for any delayMs >= 1 because we snapshot
// "now" once per Run iteration before re-arming, never mid-callback. A
// delayMs of 0 added inside the firing loop can run in the same pass.
func (r *Reactor) AddTimer(delayMs int64, fn TimerFunc) {
	heap.Push(&r.timer, &timerEntry{
		deadlineMs: nowMs() + delayMs,
		fn:         fn,
	})
}

// PostFunc schedules fn to run on the reactor's own goroutine at the next
// loop iteration, waking the reactor if it is currently blocked in
// EpollWait. Safe to call from any goroutine — this is how the TLS
// goroutine bridge (internal/socket) and the cross-thread warmup barrier
// hand results back to a worker's single-threaded loop.
func (r *Reactor) PostFunc(fn func()) {
	r.postMu.Lock()
	r.posted = append(r.posted, fn)
	r.postMu.Unlock()
	var one [1]byte
	unix.Write(int(r.wakeW), one[:])
}

func (r *Reactor) drainPosted() {
	r.postMu.Lock()
	work := r.posted
	r.posted = make([]func(), 0, 8)
	r.postMu.Unlock()
	for _, fn := range work {
		fn()
	}
}

func nowMs() int64 { return int64(clock.NowMicro() / 1000) }

// Stop requests the loop to exit at the next iteration.
func (r *Reactor) Stop() {
	r.stopped = true
	r.PostFunc(func() {})
}

// Close releases the epoll fd and wake pipe. Call after Run returns.
func (r *Reactor) Close() {
	unix.Close(r.epfd)
	unix.Close(int(r.wakeR))
	unix.Close(int(r.wakeW))
}

// Run drives the loop until Stop is called. It never returns early on a
// single EINTR from EpollWait.
func (r *Reactor) Run() {
	events := make([]unix.EpollEvent, capacityFloor+len(r.regs)*3+capacityFloor)

	for !r.stopped {
		timeout := r.nextTimeoutMs()

		if cap(events) < capacityFloor+len(r.regs)*3 {
			events = make([]unix.EpollEvent, capacityFloor+len(r.regs)*3)
		}

		n, err := unix.EpollWait(r.epfd, events, int(timeout))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}

		for i := 0; i < n; i++ {
			ev := events[i]
			if int32(ev.Fd) == r.wakeR {
				var buf [64]byte
				for {
					m, _ := unix.Read(int(r.wakeR), buf[:])
					if m <= 0 {
						break
					}
				}
				continue
			}
			reg, ok := r.regs[ev.Fd]
			if !ok {
				continue
			}
			if ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 && reg.readCB != nil {
				reg.readCB()
			}
			if ev.Events&(unix.EPOLLOUT) != 0 && reg.writeCB != nil {
				reg.writeCB()
			}
		}

		r.drainPosted()
		r.fireTimers()
	}
}

// nextTimeoutMs computes EpollWait's timeout from the nearest pending
// timer, in milliseconds, or -1 (block indefinitely) if there are none.
func (r *Reactor) nextTimeoutMs() int64 {
	if len(r.timer) == 0 {
		return -1
	}
	delay := r.timer[0].deadlineMs - nowMs()
	if delay < 0 {
		delay = 0
	}
	return delay
}

// fireTimers runs every timer whose deadline has passed, re-arming those
// whose callback asks for it.
func (r *Reactor) fireTimers() {
	now := nowMs()
	for len(r.timer) > 0 && r.timer[0].deadlineMs <= now {
		e := heap.Pop(&r.timer).(*timerEntry)
		if e.cancelled {
			continue
		}
		nextMs, again := e.fn()
		if again {
			e.deadlineMs = now + nextMs
			heap.Push(&r.timer, e)
		}
	}
}
