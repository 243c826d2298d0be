//go:build darwin

package socket

import "golang.org/x/sys/unix"

func applyConnOptions(fd int, cfg Config) error {
	if cfg.NoDelay {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			return err
		}
	}
	if cfg.RecvBuffer > 0 {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.RecvBuffer)
	}
	if cfg.SendBuffer > 0 {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, cfg.SendBuffer)
	}
	// Broken-pipe writes surface as errors instead of SIGPIPE.
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_NOSIGPIPE, 1)
	if cfg.KeepAlive {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
		// TCP_KEEPALIVE is darwin's idle-seconds knob (TCP_KEEPIDLE
		// elsewhere).
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPALIVE, 60)
	}
	// QuickAck and DeferAccept have no darwin equivalent.
	return nil
}

func applyListenerOptions(fd int, cfg Config) {
	if cfg.FastOpen {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_FASTOPEN, 256)
	}
}
