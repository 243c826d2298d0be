//go:build linux

package reactor

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// fdSocket is the default Linux Socket: a raw non-blocking file
// descriptor, kept at the fd level so Reactor can register it directly
// with epoll without an extra netpoller hop. Accepted sockets get
// TCP_NODELAY and listeners SO_REUSEADDR; the other options
// pkg/shockwave/socket applies to net.Conn-backed sockets are not set.
type fdSocket struct {
	fd         int
	remoteAddr string
	closed     bool
}

// ListenTCP binds and listens on TCP addr (dotted-quad IPv4, "INADDR_ANY"
// or empty for any) and port (0 for ephemeral), returning a non-blocking
// listening Socket.
func ListenTCP(addr string, port int) (Listener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)

	sa, err := resolveSockaddr(addr, port)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		if err == unix.EADDRINUSE {
			return nil, fmt.Errorf("%w: %v", ErrAddressInUse, err)
		}
		return nil, err
	}
	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		return nil, err
	}
	local, _ := unix.Getsockname(fd)
	return &fdSocket{fd: fd, remoteAddr: sockaddrString(local)}, nil
}

// ListenPipe binds a Unix domain socket at path, removing any stale
// socket file first.
func ListenPipe(path string) (Listener, error) {
	_ = os.Remove(path)
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	sa := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &fdSocket{fd: fd, remoteAddr: path}, nil
}

func (s *fdSocket) FD() int { return s.fd }

func (s *fdSocket) Accept() (Socket, error) {
	nfd, sa, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, ErrWouldBlock
		}
		return nil, err
	}
	_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	return &fdSocket{fd: nfd, remoteAddr: sockaddrString(sa)}, nil
}

func (s *fdSocket) Recv(buf []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	n, err := unix.Read(s.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		if err == unix.ECONNRESET || err == unix.EPIPE {
			return 0, ErrConnReset
		}
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (s *fdSocket) Send(buf []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	n, err := unix.Write(s.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		if err == unix.ECONNRESET || err == unix.EPIPE {
			return 0, ErrConnReset
		}
		return 0, err
	}
	return n, nil
}

func (s *fdSocket) SendFile(f *os.File, offset, count int64) (int64, error) {
	if s.closed {
		return 0, ErrClosed
	}
	off := offset
	n, err := unix.Sendfile(s.fd, int(f.Fd()), &off, int(count))
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		if err == unix.ECONNRESET || err == unix.EPIPE {
			return 0, ErrConnReset
		}
		return 0, err
	}
	return int64(n), nil
}

func (s *fdSocket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return unix.Close(s.fd)
}

func (s *fdSocket) RemoteAddr() string { return s.remoteAddr }

func (s *fdSocket) Addr() string { return s.remoteAddr }

func resolveSockaddr(host string, port int) (unix.Sockaddr, error) {
	sa := &unix.SockaddrInet4{Port: port}
	if host == "" || host == "INADDR_ANY" {
		return sa, nil
	}
	ip, err := parseIPv4(host)
	if err != nil {
		return nil, err
	}
	sa.Addr = ip
	return sa, nil
}

func parseIPv4(s string) ([4]byte, error) {
	var out [4]byte
	var val, parts, digits int
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '.' {
			if parts == 4 || digits == 0 {
				return out, fmt.Errorf("reactor: invalid IPv4 address %q", s)
			}
			out[parts] = byte(val)
			parts++
			val = 0
			digits = 0
			continue
		}
		c := s[i]
		if c < '0' || c > '9' {
			return out, fmt.Errorf("reactor: invalid IPv4 address %q", s)
		}
		val = val*10 + int(c-'0')
		digits++
		if val > 255 {
			return out, fmt.Errorf("reactor: invalid IPv4 address %q", s)
		}
	}
	if parts != 4 {
		return out, fmt.Errorf("reactor: invalid IPv4 address %q", s)
	}
	return out, nil
}

func sockaddrString(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d:%d", v.Addr[0], v.Addr[1], v.Addr[2], v.Addr[3], v.Port)
	case *unix.SockaddrUnix:
		return v.Name
	default:
		return ""
	}
}
