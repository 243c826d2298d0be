// Package socket applies transport tuning to net.Conn-backed sockets and
// provides a sendfile path over them. It backs the portable (non-epoll)
// Socket adapter in internal/reactor; the raw-fd Linux adapter sets its
// options directly and does not come through here.
package socket

import "net"

// Config selects which options Apply/ApplyListener set. Zero values mean
// "leave the system default alone".
type Config struct {
	// NoDelay disables Nagle's algorithm. The only option whose failure
	// Apply reports; everything else is best-effort.
	NoDelay bool

	// RecvBuffer/SendBuffer size the kernel socket buffers in bytes
	// when non-zero.
	RecvBuffer int
	SendBuffer int

	// QuickAck asks for immediate ACKs (Linux only, non-persistent).
	QuickAck bool

	// DeferAccept delays listener wakeup until request data has arrived
	// (Linux only).
	DeferAccept bool

	// FastOpen enables TCP Fast Open on the listener (Linux, Darwin).
	FastOpen bool

	// KeepAlive enables keepalive probing with moderately aggressive
	// platform-tuned intervals.
	KeepAlive bool
}

// DefaultConfig is the stock tuning for request/response workloads.
func DefaultConfig() Config {
	return Config{
		NoDelay:     true,
		RecvBuffer:  256 * 1024,
		SendBuffer:  256 * 1024,
		QuickAck:    true,
		DeferAccept: true,
		FastOpen:    true,
		KeepAlive:   true,
	}
}

// Apply sets cfg's per-connection options on conn. Non-TCP connections
// are left untouched. Only a TCP_NODELAY failure is reported; the
// remaining options are best-effort.
func Apply(conn net.Conn, cfg Config) error {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	raw, err := tcp.SyscallConn()
	if err != nil {
		return err
	}
	var applyErr error
	if err := raw.Control(func(fd uintptr) {
		applyErr = applyConnOptions(int(fd), cfg)
	}); err != nil {
		return err
	}
	return applyErr
}

// ApplyListener sets cfg's listener-side options (defer-accept, fast
// open) on ln before connections are accepted. Non-TCP listeners are
// left untouched; option failures are swallowed since both options are
// opportunistic.
func ApplyListener(ln net.Listener, cfg Config) error {
	tcp, ok := ln.(*net.TCPListener)
	if !ok {
		return nil
	}
	raw, err := tcp.SyscallConn()
	if err != nil {
		return err
	}
	return raw.Control(func(fd uintptr) {
		applyListenerOptions(int(fd), cfg)
	})
}
