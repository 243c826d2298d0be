package server

import (
	"os"
	"strconv"

	"github.com/sxe-httpd/shockwave/internal/reactor"
	"github.com/sxe-httpd/shockwave/pkg/shockwave/http11"
	"github.com/sxe-httpd/shockwave/pkg/shockwave/pool"
)

// Conn is the transient, per-invocation handle the server core passes to
// the application's sub-handlers. It is
// only valid for the duration of the callback that received it; the
// application must not retain it, or any byte slice read through it,
// past the handler's return.
type Conn struct {
	srv   *Server
	index int
}

func (cn *Conn) rec() *connRecord { return &cn.srv.conns[cn.index] }

// Index returns the connection record's pool slot, stable for the
// lifetime of one accepted connection.
// Applications that need per-connection side state across the
// Connect/.../Close callback sequence key off this rather than Conn
// itself, which is only valid for one callback invocation.
func (cn *Conn) Index() int { return cn.index }

// Method returns the request's tokenised method.
func (cn *Conn) Method() http11.Method { return cn.rec().method }

// URL returns the request-line URL bytes. Valid until the next request
// begins on this record (keep-alive reuses the backing array).
func (cn *Conn) URL() []byte { return cn.rec().url }

// Header returns the value of the first request header matching name
// case-insensitively, from the record's header table. Valid from the
// header's own Header callback through the Respond handler. Lookups can
// come up empty for header blocks so large that parsed bytes had to be
// recycled mid-request; the Header sub-handler is the complete record.
func (cn *Conn) Header(name string) ([]byte, bool) {
	return cn.rec().headers.Get(name)
}

// HeaderCount returns the number of headers currently in the table.
func (cn *Conn) HeaderCount() int { return cn.rec().headers.Len() }

// HeaderAt returns the i'th recorded header's name and value bytes,
// original casing preserved.
func (cn *Conn) HeaderAt(i int) (name, value []byte) {
	return cn.rec().headers.At(i)
}

// RequestID returns the server-stamped correlation id (empty unless
// Config.StampRequestID is set). A log-correlation convenience only,
// never parsed from or written to the wire.
func (cn *Conn) RequestID() string { return cn.rec().requestID }

// RemoteAddr returns the peer address for logging, or "" once the
// connection has closed.
func (cn *Conn) RemoteAddr() string {
	c := cn.rec()
	if c.sock == nil {
		return ""
	}
	return c.sock.RemoteAddr()
}

// SetHeaderOut appends one response header to the buffered block written
// by the next ResponseStart. There is no duplication check: callers that
// set the same header twice get it twice on the wire.
func (cn *Conn) SetHeaderOut(name, value string) {
	c := cn.rec()
	c.outHdr = append(c.outHdr, name...)
	c.outHdr = append(c.outHdr, ':', ' ')
	c.outHdr = append(c.outHdr, value...)
	c.outHdr = append(c.outHdr, '\r', '\n')
}

// SetContentLength is shorthand for SetHeaderOut("Content-Length", ...).
func (cn *Conn) SetContentLength(n int64) {
	cn.SetHeaderOut("Content-Length", strconv.FormatInt(n, 10))
}

// ResponseStart writes the status line, the headers buffered via
// SetHeaderOut, and the terminating blank line. The
// headers accumulated so far are consumed; a later SetHeaderOut call
// starts a fresh (and, for this response, meaningless) block.
func (cn *Conn) ResponseStart(code int, reason string) http11.Result {
	c := cn.rec()
	line := http11.StatusLine(code, reason)
	buf := make([]byte, 0, len(line)+len(c.outHdr)+2)
	buf = append(buf, line...)
	buf = append(buf, c.outHdr...)
	buf = append(buf, '\r', '\n')
	c.outHdr = c.outHdr[:0]
	return cn.write(buf)
}

// ResponseChunk writes application bytes directly to the socket, queuing
// any portion the kernel doesn't immediately accept. A HEAD request's
// chunks are accepted but never placed on the wire, so a shared handler
// can respond to GET and HEAD identically.
func (cn *Conn) ResponseChunk(data []byte) http11.Result {
	c := cn.rec()
	if c.sock == nil {
		return http11.NoConnection
	}
	if c.isHead {
		return http11.OK
	}
	return cn.write(data)
}

// write appends data to the connection's output queue and attempts an
// immediate drain, registering for Writable events if the kernel send
// buffer can't take it all right now.
func (cn *Conn) write(data []byte) http11.Result {
	c := cn.rec()
	if c.sock == nil {
		return http11.NoConnection
	}
	c.pending = append(c.pending, data...)
	return cn.srv.drainPending(cn.index)
}

// drainPending pushes as much of the connection's output queue to the
// socket as the kernel will currently accept. Returns OK once the queue
// is fully flushed, WouldBlock if bytes remain queued (Writable interest
// is registered so onConnWritable resumes the drain), or NoConnection if
// the transport failed, in which case the connection has already been
// closed and the Close sub-handler invoked.
func (s *Server) drainPending(index int) http11.Result {
	c := &s.conns[index]
	for c.pendingOff < len(c.pending) {
		n, err := c.sock.Send(c.pending[c.pendingOff:])
		if n > 0 {
			c.pendingOff += n
			s.metrics.bytesOut.Add(float64(n))
		}
		if err != nil {
			if err == reactor.ErrWouldBlock {
				break
			}
			s.closeConn(index, s.pool.StateOf(index), false)
			return http11.NoConnection
		}
		if n == 0 {
			break
		}
	}

	if c.pendingOff >= len(c.pending) {
		c.pending = c.pending[:0]
		c.pendingOff = 0
		if c.writeActive {
			c.writeActive = false
			s.reactor.Modify(c.regHandle, reactor.Readable)
		}
		s.completeDeferred(index)
		return http11.OK
	}

	if !c.writeActive {
		c.writeActive = true
		s.reactor.Modify(c.regHandle, reactor.Readable|reactor.Writable)
	}
	return http11.WouldBlock
}

// flushPending is the Writable-readiness entry point (connection.go's
// onConnWritable); it drains whatever is left in the output queue and
// ignores the result: a NoConnection outcome has already torn the
// connection down inside drainPending, and a WouldBlock outcome just
// waits for the next Writable event.
func (s *Server) flushPending(index int) {
	s.drainPending(index)
}

// ResponseSendfile asks the socket interface to transmit length bytes of
// f, invoking completion once the transfer finishes, fails, or the
// connection is torn down mid-transfer. Any bytes still
// queued from an earlier SetHeaderOut/ResponseStart/ResponseChunk are
// drained first so the sendfile payload lands after them on the wire.
func (cn *Conn) ResponseSendfile(f *os.File, length int64, completion func(http11.Result)) http11.Result {
	c := cn.rec()
	s := cn.srv
	if c.sock == nil {
		return http11.NoConnection
	}
	if c.isHead {
		// Same suppression as ResponseChunk: a HEAD response carries
		// headers only, so the transfer completes without touching the
		// wire.
		if completion != nil {
			completion(http11.OK)
		}
		return http11.OK
	}
	if c.pendingOff < len(c.pending) {
		if res := s.drainPending(cn.index); res != http11.OK {
			return res
		}
	}
	c.sfFile = f
	c.sfOff = 0
	c.sfRemaining = length
	c.sfCompleted = completion
	return s.continueSendfile(cn.index)
}

// continueSendfile drives one sendfile attempt forward, resuming from
// sfOff/sfRemaining. Called both from ResponseSendfile (the first
// attempt) and onConnWritable (every subsequent one), so a short
// transfer that only partially completes keeps being retried without
// the application doing anything beyond the original call.
func (s *Server) continueSendfile(index int) http11.Result {
	c := &s.conns[index]
	for c.sfRemaining > 0 {
		n, err := c.sock.SendFile(c.sfFile, c.sfOff, c.sfRemaining)
		if n > 0 {
			c.sfOff += n
			c.sfRemaining -= n
			s.metrics.bytesOut.Add(float64(n))
		}
		if err != nil {
			if err == reactor.ErrWouldBlock {
				if !c.writeActive {
					c.writeActive = true
					s.reactor.Modify(c.regHandle, reactor.Readable|reactor.Writable)
				}
				return http11.WouldBlock
			}
			cb := c.sfCompleted
			c.sfFile = nil
			c.sfCompleted = nil
			s.closeConn(index, s.pool.StateOf(index), false)
			if cb != nil {
				cb(http11.NoConnection)
			}
			return http11.NoConnection
		}
		if n == 0 {
			if !c.writeActive {
				c.writeActive = true
				s.reactor.Modify(c.regHandle, reactor.Readable|reactor.Writable)
			}
			return http11.WouldBlock
		}
	}

	cb := c.sfCompleted
	c.sfFile = nil
	c.sfCompleted = nil
	if c.writeActive {
		c.writeActive = false
		s.reactor.Modify(c.regHandle, reactor.Readable)
	}
	if cb != nil {
		cb(http11.OK)
	}
	s.completeDeferred(index)
	return http11.OK
}

// ResponseEnd clears per-request state and returns the record to IDLE
// for the next keep-alive request. If bytes are still
// draining, the transition is deferred until the queue empties so the
// pool never reports IDLE while a response is mid-flight.
func (cn *Conn) ResponseEnd() {
	c := cn.rec()
	if c.writeActive {
		c.deferEnd = true
		return
	}
	cn.srv.finishResponse(cn.index, true)
}

// ResponseClose closes the connection, transitioning it to FREE,
// deferred the same way as ResponseEnd if bytes remain queued.
func (cn *Conn) ResponseClose() {
	c := cn.rec()
	if c.writeActive {
		c.deferClose = true
		return
	}
	cn.srv.finishResponse(cn.index, false)
}

// ResponseSimple is the one-call shorthand: set Content-Length, start
// the response, write the body, end.
func (cn *Conn) ResponseSimple(code int, reason string, body []byte) http11.Result {
	cn.SetContentLength(int64(len(body)))
	if res := cn.ResponseStart(code, reason); res == http11.NoConnection {
		return res
	}
	res := cn.ResponseChunk(body)
	cn.ResponseEnd()
	return res
}

func (s *Server) finishResponse(index int, keepAlive bool) {
	c := &s.conns[index]
	c.deferEnd = false
	c.deferClose = false
	if !keepAlive {
		s.closeConn(index, s.pool.StateOf(index), false)
		return
	}
	// The header block was parked in inBuf for Respond-time lookups;
	// release it along with the ref table before the next request.
	c.inLen = 0
	c.bodyOff = 0
	c.headers.Reset()
	s.pool.SetState(index, pool.ReqResponse, pool.Idle)
}

func (s *Server) completeDeferred(index int) {
	c := &s.conns[index]
	switch {
	case c.deferClose:
		s.finishResponse(index, false)
	case c.deferEnd:
		s.finishResponse(index, true)
	}
}

// writeSimpleOnRawSocket composes and writes the internal error
// response: fixed Connection/Content-Type/Server headers plus whatever
// body bytes the caller supplies, with no retry. The connection is
// about to close regardless of how much of this made it out.
func writeSimpleOnRawSocket(sock reactor.Socket, code int, reason string, body []byte) {
	if sock == nil {
		return
	}
	header := http11.StatusLine(code, reason)
	buf := make([]byte, 0, len(header)+96+len(body))
	buf = append(buf, header...)
	buf = append(buf, "Connection: close\r\n"...)
	buf = append(buf, "Content-Type: text/html; charset=\"UTF-8\"\r\n"...)
	buf = append(buf, "Server: sxe-httpd/1.0\r\n"...)
	buf = append(buf, "Content-Length: "...)
	buf = strconv.AppendInt(buf, int64(len(body)), 10)
	buf = append(buf, "\r\n\r\n"...)
	buf = append(buf, body...)
	writeBestEffort(sock, buf)
}

func writeBestEffort(sock reactor.Socket, buf []byte) {
	off := 0
	for off < len(buf) {
		n, err := sock.Send(buf[off:])
		off += n
		if err != nil || n == 0 {
			return
		}
	}
}
