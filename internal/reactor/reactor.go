// Package reactor defines the event-loop primitive and the non-blocking
// socket transport the server core is written against, and ships one
// concrete implementation of each so the module is runnable end to end.
//
// Both interfaces are deliberately small: the server core (pkg/shockwave
// /server) is written against Reactor and Socket only, never against a
// concrete epoll or net.Conn type. Scheduling is single-threaded and
// cooperative: one callback runs to completion before the next begins,
// and handlers never block.
package reactor

import (
	"errors"
	"os"
	"time"
)

// ErrWouldBlock is returned by Socket methods when the operation cannot
// complete without blocking the calling goroutine; the reactor will
// re-invoke the relevant callback once the handle becomes ready again.
var ErrWouldBlock = errors.New("reactor: would block")

// ErrClosed is returned once a Socket has been closed.
var ErrClosed = errors.New("reactor: socket closed")

// ErrAddressInUse is returned (wrapped) by the Linux ListenTCP when the
// requested address is already bound; the other listen functions return
// the underlying error unchanged.
var ErrAddressInUse = errors.New("reactor: address in use")

// ErrConnReset is returned by Recv/Send/SendFile when the peer reset the
// connection.
var ErrConnReset = errors.New("reactor: connection reset")

// Events is a bitmask of readiness conditions a handle can be registered
// for.
type Events uint8

const (
	Readable Events = 1 << iota
	Writable
)

// Handle identifies one registered file descriptor within a Reactor.
type Handle int

// Callback is invoked by the reactor when a registered handle becomes
// ready for one or more of its registered Events. Exactly one callback
// runs at a time; it must not block.
type Callback func(h Handle, ev Events)

// TimerHandle identifies a registered timer for cancellation.
type TimerHandle int

// Reactor delivers readable/writable/timer notifications on registered
// handles, cooperatively and single-threaded. Run drives the loop until
// Stop is called or an unrecoverable error occurs.
type Reactor interface {
	// Register begins watching fd for interest, invoking cb on
	// readiness. Returns the Handle used for Modify/Deregister.
	Register(fd int, interest Events, cb Callback) (Handle, error)

	// Modify changes the interest set for an already-registered handle.
	Modify(h Handle, interest Events) error

	// Deregister stops watching a handle. It does not close the
	// underlying file descriptor.
	Deregister(h Handle) error

	// AddTimer schedules cb to run after d (and every d again, if
	// repeat). Returns a handle for CancelTimer.
	AddTimer(d time.Duration, repeat bool, cb func()) TimerHandle

	// CancelTimer stops a previously scheduled timer; a no-op if it
	// already fired and was non-repeating.
	CancelTimer(h TimerHandle)

	// Run blocks, dispatching callbacks until Stop is called.
	Run() error

	// Stop asks Run to return once the current callback (if any)
	// finishes.
	Stop()
}

// Socket is a non-blocking byte transport:
// accept/recv/send/sendfile/close, with no hidden buffering or retry.
// Back-pressure is communicated via ErrWouldBlock, exactly as the server
// core's write path expects.
type Socket interface {
	// FD returns the underlying file descriptor, for Reactor
	// registration.
	FD() int

	// Accept returns a newly accepted connection, or ErrWouldBlock if
	// none is pending. Only valid on a listening Socket.
	Accept() (Socket, error)

	// Recv reads into buf, returning the number of bytes read.
	// Returns (0, ErrWouldBlock) if no data is currently available,
	// (0, io.EOF) on orderly shutdown by the peer, and ErrClosed after
	// Close.
	Recv(buf []byte) (int, error)

	// Send writes buf, returning the number of bytes accepted by the
	// kernel send buffer (which may be less than len(buf)) or
	// ErrWouldBlock if none could be accepted right now.
	Send(buf []byte) (int, error)

	// SendFile transmits up to count bytes of f starting at offset,
	// returning the number of bytes actually sent. A short count paired
	// with a nil error means the send buffer is full; the caller
	// resumes at offset+written. ErrWouldBlock means zero bytes were
	// accepted.
	SendFile(f *os.File, offset, count int64) (int64, error)

	// Close releases the socket. Idempotent.
	Close() error

	// RemoteAddr is a human-readable peer address for logging.
	RemoteAddr() string
}

// Listener is a bound, listening Socket plus its local address, returned
// by Listen/ListenPipe implementations.
type Listener interface {
	Socket
	Addr() string
}
