//go:build !linux && !darwin

package socket

import (
	"io"
	"net"
	"os"
)

// SendFile copies count bytes of file starting at offset to conn via
// io.Copy on platforms without a sendfile(2) wrapper, keeping the call
// shape identical to the zero-copy variants.
func SendFile(conn net.Conn, file *os.File, offset, count int64) (int64, error) {
	return io.Copy(conn, io.NewSectionReader(file, offset, count))
}
