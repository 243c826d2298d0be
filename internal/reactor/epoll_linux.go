//go:build linux

package reactor

import (
	"container/heap"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// EpollReactor is the default Linux Reactor: a single-threaded epoll(7)
// loop built on golang.org/x/sys/unix, working at the raw-fd level so
// readiness, timers and wakeups all flow through one EpollWait call.
type EpollReactor struct {
	epfd int

	mu        sync.Mutex
	callbacks map[Handle]Callback
	fds       map[Handle]int
	byFD      map[int]Handle
	nextH     Handle

	timers   timerHeap
	timerSeq TimerHandle

	wakeR, wakeW int // self-pipe to interrupt EpollWait from Stop/AddTimer

	stopping bool
}

// NewEpollReactor creates and initializes an epoll instance.
func NewEpollReactor() (*EpollReactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	r := &EpollReactor{
		epfd:      epfd,
		callbacks: make(map[Handle]Callback),
		fds:       make(map[Handle]int),
		byFD:      make(map[int]Handle),
	}
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.Close(epfd)
		return nil, err
	}
	r.wakeR, r.wakeW = fds[0], fds[1]
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, r.wakeR, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(r.wakeR),
	}); err != nil {
		unix.Close(epfd)
		unix.Close(r.wakeR)
		unix.Close(r.wakeW)
		return nil, err
	}
	return r, nil
}

func eventsToEpoll(ev Events) uint32 {
	var e uint32
	if ev&Readable != 0 {
		e |= unix.EPOLLIN
	}
	if ev&Writable != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

// Register implements Reactor.
func (r *EpollReactor) Register(fd int, interest Events, cb Callback) (Handle, error) {
	r.mu.Lock()
	r.nextH++
	h := r.nextH
	r.callbacks[h] = cb
	r.fds[h] = fd
	r.byFD[fd] = h
	r.mu.Unlock()

	ev := &unix.EpollEvent{Events: eventsToEpoll(interest), Fd: int32(fd)}
	// The kernel event carries the raw fd back in Fd on wakeup; Run
	// maps it to the handle through byFD.
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		r.mu.Lock()
		delete(r.callbacks, h)
		delete(r.fds, h)
		delete(r.byFD, fd)
		r.mu.Unlock()
		return 0, err
	}
	return h, nil
}

// Modify implements Reactor.
func (r *EpollReactor) Modify(h Handle, interest Events) error {
	r.mu.Lock()
	fd, ok := r.fds[h]
	r.mu.Unlock()
	if !ok {
		return os.ErrInvalid
	}
	ev := &unix.EpollEvent{Events: eventsToEpoll(interest), Fd: int32(fd)}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

// Deregister implements Reactor.
func (r *EpollReactor) Deregister(h Handle) error {
	r.mu.Lock()
	fd, ok := r.fds[h]
	delete(r.callbacks, h)
	delete(r.fds, h)
	delete(r.byFD, fd)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// AddTimer implements Reactor.
func (r *EpollReactor) AddTimer(d time.Duration, repeat bool, cb func()) TimerHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timerSeq++
	e := &timerEntry{at: timeNow().Add(d), period: d, repeat: repeat, cb: cb, handle: r.timerSeq, active: true}
	heap.Push(&r.timers, e)
	r.wake()
	return e.handle
}

// CancelTimer implements Reactor.
func (r *EpollReactor) CancelTimer(h TimerHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.timers {
		if e.handle == h {
			e.active = false
		}
	}
}

func (r *EpollReactor) wake() {
	var b [1]byte
	_, _ = unix.Write(r.wakeW, b[:])
}

func (r *EpollReactor) nextTimeout() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.timers) == 0 {
		return -1
	}
	d := r.timers[0].at.Sub(timeNow())
	if d <= 0 {
		return 0
	}
	ms := int(d / time.Millisecond)
	if ms == 0 {
		ms = 1
	}
	return ms
}

func (r *EpollReactor) fireDueTimers() {
	now := timeNow()
	for {
		r.mu.Lock()
		if len(r.timers) == 0 || r.timers[0].at.After(now) {
			r.mu.Unlock()
			return
		}
		e := heap.Pop(&r.timers).(*timerEntry)
		if e.repeat && e.active {
			e.at = now.Add(e.period)
			heap.Push(&r.timers, e)
		}
		active := e.active
		cb := e.cb
		r.mu.Unlock()
		if active {
			cb()
		}
	}
}

// Run implements Reactor. It blocks until Stop is called.
func (r *EpollReactor) Run() error {
	events := make([]unix.EpollEvent, 256)
	for {
		r.mu.Lock()
		stopping := r.stopping
		r.mu.Unlock()
		if stopping {
			return nil
		}

		timeout := r.nextTimeout()
		n, err := unix.EpollWait(r.epfd, events, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}

		r.fireDueTimers()

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == r.wakeR {
				var b [64]byte
				for {
					if _, err := unix.Read(r.wakeR, b[:]); err != nil {
						break
					}
				}
				continue
			}
			var ev Events
			if events[i].Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				ev |= Readable
			}
			if events[i].Events&unix.EPOLLOUT != 0 {
				ev |= Writable
			}
			r.mu.Lock()
			var cb Callback
			h := r.byFD[fd]
			if h != 0 {
				cb = r.callbacks[h]
			}
			r.mu.Unlock()
			if cb != nil {
				cb(h, ev)
			}
		}
	}
}

// Stop implements Reactor.
func (r *EpollReactor) Stop() {
	r.mu.Lock()
	r.stopping = true
	r.mu.Unlock()
	r.wake()
}

// Close releases the epoll instance and wake pipe.
func (r *EpollReactor) Close() error {
	unix.Close(r.wakeR)
	unix.Close(r.wakeW)
	return unix.Close(r.epfd)
}
