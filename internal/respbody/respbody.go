// Package respbody composes the minimal "<html>CODE REASON</html>\r\n"
// body the server core emits for its internal error responses, using a
// pooled buffer so the hot error path (a malformed request line, an
// oversize header, a full pool) does not allocate on every rejection.
package respbody

import (
	"strconv"

	"github.com/valyala/bytebufferpool"
)

// Build renders "<html>CODE REASON</html>\r\n" into a buffer drawn from
// the shared pool and returns its bytes. The caller must call Release
// once the bytes have been written to the socket; they are not valid
// afterward.
func Build(code int, reason string) (*bytebufferpool.ByteBuffer, []byte) {
	bb := bytebufferpool.Get()
	bb.WriteString("<html>")
	bb.WriteString(strconv.Itoa(code))
	bb.WriteString(" ")
	bb.WriteString(reason)
	bb.WriteString("</html>\r\n")
	return bb, bb.B
}

// Release returns bb to the shared pool. Safe to call with nil.
func Release(bb *bytebufferpool.ByteBuffer) {
	if bb != nil {
		bytebufferpool.Put(bb)
	}
}
