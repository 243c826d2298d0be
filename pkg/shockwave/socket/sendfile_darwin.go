//go:build darwin

package socket

import (
	"io"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// SendFile transmits count bytes of file starting at offset over conn
// using darwin's sendfile(2), parking between short sends the same way
// the linux variant does. Falls back to io.Copy when conn isn't TCP or
// the syscall is refused before any byte moves.
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
			// unix.Sendfile leaves *offset alone on darwin (the linux
			// kernel advances it); track the position ourselves.
			n, err := unix.Sendfile(int(dstFd), srcFd, &cur, int(remaining))
			if n > 0 {
				cur += int64(n)
				written += int64(n)
				remaining -= int64(n)
			}
			switch err {
			case nil:
				if n == 0 {
					return true
				}
			case unix.EINTR:
				continue
			case unix.EAGAIN:
				return false
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
			return io.Copy(conn, io.NewSectionReader(file, offset, count))
		}
		return written, sendErr
	}
	return written, nil
}
