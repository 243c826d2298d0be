//go:build !linux

package reactor

import (
	"container/heap"
	"net"
	"os"
	"sync"
	"time"

	"github.com/sxe-httpd/shockwave/pkg/shockwave/socket"
)

// PollReactor is the portable Reactor fallback for platforms without
// epoll, mirroring the way pkg/shockwave/socket falls back to a
// lowest-common-denominator implementation in tuning_other.go. It polls
// registered sockets on a fixed tick using short Read/Write deadlines
// instead of a kernel readiness API; functionally equivalent, costlier.
type PollReactor struct {
	mu        sync.Mutex
	callbacks map[Handle]Callback
	socks     map[Handle]netSocket
	interest  map[Handle]Events
	nextH     Handle

	timers   timerHeap
	timerSeq TimerHandle

	stopCh    chan struct{}
	stopped   bool
	tickEvery time.Duration
}

type netSocket interface {
	pollFD() int
}

// NewPollReactor creates a poll-loop Reactor ticking at the given interval.
func NewPollReactor(tick time.Duration) *PollReactor {
	if tick <= 0 {
		tick = 2 * time.Millisecond
	}
	return &PollReactor{
		callbacks: make(map[Handle]Callback),
		socks:     make(map[Handle]netSocket),
		interest:  make(map[Handle]Events),
		stopCh:    make(chan struct{}),
		tickEvery: tick,
	}
}

// Register implements Reactor. fd is accepted for interface symmetry with
// EpollReactor but unused here; pollOnce invokes every registered
// callback on each tick, and the socket's own deadline-based I/O reports
// ErrWouldBlock when nothing is ready.
func (r *PollReactor) Register(fd int, interest Events, cb Callback) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextH++
	h := r.nextH
	r.callbacks[h] = cb
	r.interest[h] = interest
	return h, nil
}

// RegisterSocket registers a handle together with its netSocket. The
// socket is recorded but pollOnce does not consult it, so the handle is
// polled exactly as one from Register; the server core registers through
// Register.
func (r *PollReactor) RegisterSocket(s netSocket, interest Events, cb Callback) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextH++
	h := r.nextH
	r.callbacks[h] = cb
	r.socks[h] = s
	r.interest[h] = interest
	return h
}

// Modify implements Reactor.
func (r *PollReactor) Modify(h Handle, interest Events) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.callbacks[h]; !ok {
		return os.ErrInvalid
	}
	r.interest[h] = interest
	return nil
}

// Deregister implements Reactor.
func (r *PollReactor) Deregister(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.callbacks, h)
	delete(r.socks, h)
	delete(r.interest, h)
	return nil
}

// AddTimer implements Reactor.
func (r *PollReactor) AddTimer(d time.Duration, repeat bool, cb func()) TimerHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timerSeq++
	e := &timerEntry{at: timeNow().Add(d), period: d, repeat: repeat, cb: cb, handle: r.timerSeq, active: true}
	heap.Push(&r.timers, e)
	return e.handle
}

// CancelTimer implements Reactor.
func (r *PollReactor) CancelTimer(h TimerHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.timers {
		if e.handle == h {
			e.active = false
		}
	}
}

func (r *PollReactor) fireDueTimers() {
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

// Run implements Reactor, polling every tickEvery until Stop is called.
func (r *PollReactor) Run() error {
	ticker := time.NewTicker(r.tickEvery)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return nil
		case <-ticker.C:
			r.fireDueTimers()
			r.pollOnce()
		}
	}
}

func (r *PollReactor) pollOnce() {
	r.mu.Lock()
	handles := make([]Handle, 0, len(r.callbacks))
	for h := range r.callbacks {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		r.mu.Lock()
		cb, hasCb := r.callbacks[h]
		interest := r.interest[h]
		r.mu.Unlock()
		if !hasCb {
			continue
		}
		// Readiness can't be observed portably without a kernel API;
		// invoke with the full requested interest so the handler attempts
		// the operation and gets ErrWouldBlock back if nothing is ready.
		cb(h, interest)
	}
}

// Stop implements Reactor.
func (r *PollReactor) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()
	close(r.stopCh)
}

// Close releases reactor resources.
func (r *PollReactor) Close() error { return nil }

// netSocketWrapper adapts a net.Conn/net.Listener into the portable
// Socket interface, used on platforms without the Linux fdSocket.
type netSocketWrapper struct {
	conn   net.Conn
	ln     net.Listener
	closed bool
}

// Listen binds addr using the standard net package fallback, tuning the
// listening socket the way pkg/shockwave/socket prescribes (TCP_DEFER_ACCEPT,
// TCP_FASTOPEN where the platform supports them).
func Listen(addr string) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	_ = socket.ApplyListener(ln, socket.DefaultConfig())
	return &netSocketWrapper{ln: ln}, nil
}

// ListenPipe binds a Unix domain socket at path.
func ListenPipe(path string) (Listener, error) {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	return &netSocketWrapper{ln: ln}, nil
}

func (s *netSocketWrapper) FD() int { return -1 }

func (s *netSocketWrapper) pollFD() int { return -1 }

func (s *netSocketWrapper) Accept() (Socket, error) {
	if s.ln == nil {
		return nil, os.ErrInvalid
	}
	if d, ok := s.ln.(interface{ SetDeadline(time.Time) error }); ok {
		_ = d.SetDeadline(time.Now().Add(time.Millisecond))
	}
	c, err := s.ln.Accept()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, ErrWouldBlock
		}
		return nil, err
	}
	_ = socket.Apply(c, socket.DefaultConfig())
	return &netSocketWrapper{conn: c}, nil
}

func (s *netSocketWrapper) Recv(buf []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	n, err := s.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, ErrWouldBlock
		}
		return n, err
	}
	return n, nil
}

func (s *netSocketWrapper) Send(buf []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(time.Millisecond))
	n, err := s.conn.Write(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, ErrWouldBlock
		}
		return n, err
	}
	return n, nil
}

func (s *netSocketWrapper) SendFile(f *os.File, offset, count int64) (int64, error) {
	if s.closed {
		return 0, ErrClosed
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(50 * time.Millisecond))
	n, err := socket.SendFile(s.conn, f, offset, count)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, ErrWouldBlock
		}
		return n, err
	}
	return n, nil
}

func (s *netSocketWrapper) Close() error {
	s.closed = true
	if s.ln != nil {
		return s.ln.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *netSocketWrapper) RemoteAddr() string {
	if s.conn != nil {
		return s.conn.RemoteAddr().String()
	}
	return ""
}

func (s *netSocketWrapper) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return ""
}
