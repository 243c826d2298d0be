//go:build linux

package socket

import (
	"io"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// SendFile transmits count bytes of file starting at offset over conn
// using sendfile(2), so the payload never crosses into userspace. The
// runtime's network poller parks the write between short sends; a write
// deadline on conn bounds the total wait. Falls back to io.Copy when
// conn isn't TCP or the syscall is refused before any byte moves.
func SendFile(conn net.Conn, file *os.File, offset, count int64) (int64, error) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return io.Copy(conn, io.NewSectionReader(file, offset, count))
	}
	raw, err := tcp.SyscallConn()
	if err != nil {
		return io.Copy(conn, io.NewSectionReader(file, offset, count))
	}

	srcFd := int(file.Fd())
	cur := offset
	remaining := count
	var written int64
	var sendErr error

	ctrlErr := raw.Write(func(dstFd uintptr) bool {
		for remaining > 0 {
			n, err := unix.Sendfile(int(dstFd), srcFd, &cur, int(min64(remaining, 1<<30)))
			if n > 0 {
				written += int64(n)
				remaining -= int64(n)
			}
			switch err {
			case nil:
				if n == 0 {
					return true // EOF on the source file
				}
			case unix.EINTR:
				continue
			case unix.EAGAIN:
				return false // park until writable, then re-enter
			default:
				sendErr = err
				return true
			}
		}
		return true
	})
	if ctrlErr != nil {
		return written, ctrlErr
	}
	if sendErr != nil {
		if written == 0 {
			// Refused outright (e.g. EINVAL on an exotic fd); the
			// copy path still works.
			return io.Copy(conn, io.NewSectionReader(file, offset, count))
		}
		return written, sendErr
	}
	return written, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
