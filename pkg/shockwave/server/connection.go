package server

import (
	"bytes"
	"os"

	"go.uber.org/zap"

	"github.com/sxe-httpd/shockwave/internal/reactor"
	"github.com/sxe-httpd/shockwave/internal/respbody"
	"github.com/sxe-httpd/shockwave/pkg/shockwave/http11"
	"github.com/sxe-httpd/shockwave/pkg/shockwave/pool"
)

// connRecord is one slot of the server's connection pool, indexed
// identically to pool.Pool's own internal state array; the index is
// the link between the two.
type connRecord struct {
	srv   *Server
	index int

	sock      reactor.Socket
	regHandle reactor.Handle

	inBuf  []byte
	inLen  int
	cursor http11.Cursor

	method http11.Method
	// url is a copy of the request-line URL bytes, taken before the
	// request line is compacted out from under the original offsets.
	url    []byte
	isHead bool

	// headers is the request's in-record header table: offset/length
	// refs into inBuf, valid from parse time through the Respond
	// handler. hdrRefs is its preallocated backing array. If buffer
	// pressure forces parsed header bytes out (compact under a full
	// buffer), the table is cleared so no ref ever points at discarded
	// bytes; the Header sub-handler has already seen every header
	// either way.
	headers http11.Headers
	hdrRefs []http11.HeaderRef

	// bodyOff is where body bytes start in inBuf once the header block
	// has fully parsed; the block before it stays in place so headers
	// remains valid at Respond time.
	bodyOff int

	headerCount      int
	hasContentLength bool
	contentLength    int64
	contentSeen      int64

	outHdr      []byte
	pending     []byte
	pendingOff  int
	writeActive bool

	// deferEnd/deferClose record a ResponseEnd/ResponseClose call that
	// arrived while pending still had undrained bytes; completeDeferred
	// replays it once the socket catches up, so a slow client never sees
	// the state machine jump to IDLE/FREE ahead of its own response.
	deferEnd   bool
	deferClose bool

	sfFile      *os.File
	sfOff       int64
	sfRemaining int64
	sfCompleted func(http11.Result)

	requestID string
}

func (c *connRecord) reset() {
	c.sock = nil
	c.regHandle = 0
	c.inLen = 0
	c.method = http11.MethodUnknown
	c.url = c.url[:0]
	c.isHead = false
	c.headers.Reset()
	c.bodyOff = 0
	c.headerCount = 0
	c.hasContentLength = false
	c.contentLength = 0
	c.contentSeen = 0
	c.outHdr = c.outHdr[:0]
	c.pending = c.pending[:0]
	c.pendingOff = 0
	c.writeActive = false
	c.deferEnd = false
	c.deferClose = false
	c.sfFile = nil
	c.sfOff = 0
	c.sfRemaining = 0
	c.sfCompleted = nil
	c.requestID = ""
}

func (c *connRecord) beginRequest() {
	c.cursor.Construct(c.inBuf, 0)
	c.method = http11.MethodUnknown
	c.isHead = false
	c.headers.Bind(c.inBuf, c.hdrRefs)
	c.bodyOff = 0
	c.headerCount = 0
	c.hasContentLength = false
	c.contentLength = 0
	c.contentSeen = 0
	c.outHdr = c.outHdr[:0]
}

// compact discards the cursor's already-parsed prefix from the front of
// inBuf via ConsumeParsedHeaders/Rebase, reclaiming space for the next
// read. This is also how ignore-line mode frees up the buffer while an
// oversize header line is being skipped: each WouldBlock in that mode
// leaves the cursor at the end of whatever is currently buffered (or at
// a trailing CR), so compaction discards the skipped bytes.
func (c *connRecord) compact() int {
	discarded := c.cursor.ConsumeParsedHeaders()
	if discarded <= 0 {
		return 0
	}
	copy(c.inBuf, c.inBuf[discarded:c.inLen])
	c.inLen -= discarded
	c.cursor.Rebase(c.inBuf, c.inLen, discarded)
	return discarded
}

// onConnReadable drives the read-path state machine for
// one connection on a single readiness event; it may process several
// logical steps (request line, headers, body) if enough bytes are
// already buffered, but never blocks.
func (s *Server) onConnReadable(index int) {
	c := &s.conns[index]
	st := s.pool.StateOf(index)

	if st == pool.ReqResponse {
		// Sink mode: the request has been fully parsed and the response
		// is still in flight, so further bytes are a protocol error
		// path; just drain and drop them.
		var sink [4096]byte
		for {
			n, err := c.sock.Recv(sink[:])
			if n <= 0 || err != nil {
				break
			}
		}
		return
	}

	n, err := c.sock.Recv(c.inBuf[c.inLen:])
	if err != nil {
		if err == reactor.ErrWouldBlock {
			return
		}
		s.failConn(index, err)
		return
	}
	if n == 0 {
		s.closeConn(index, s.pool.StateOf(index), false)
		return
	}

	// The IDLE slot leaves its 60s timeout only once a first byte has
	// actually arrived; a spurious readiness wakeup must not start the
	// much shorter REQ_LINE clock.
	if st == pool.Idle {
		if !s.pool.SetState(index, pool.Idle, pool.ReqLine) {
			return
		}
		c.beginRequest()
	}

	c.inLen += n
	s.metrics.bytesIn.Add(float64(n))
	c.cursor.Grow(c.inLen)

	switch s.pool.StateOf(index) {
	case pool.ReqLine:
		s.processRequestLine(index)
	case pool.ReqHeaders:
		s.processHeaders(index)
	case pool.ReqBody:
		s.processBody(index)
	}
}

func (s *Server) failConn(index int, err error) {
	_ = err
	s.closeConn(index, s.pool.StateOf(index), false)
}

func (s *Server) processRequestLine(index int) {
	c := &s.conns[index]

	// Tokenise only once the whole line is buffered. The cursor consumes
	// each element it yields, so re-asking for the method after a
	// partially arrived line would hand back a later token; gating on
	// the CRLF makes a fragmented line parse identically to a whole one.
	end := bytes.Index(c.inBuf[:c.inLen], crlfBytes)
	if end < 0 {
		if c.inLen >= len(c.inBuf) {
			s.rejectAndClose(index, 414, http11.ReasonURITooLong)
		}
		return
	}

	res, mOff, mLen := c.cursor.ParseNextLineElement(http11.Token)
	if res != http11.OK {
		s.rejectAndClose(index, 400, http11.ReasonBadRequest)
		return
	}
	method := http11.ParseMethod(c.inBuf[mOff : mOff+mLen])
	if method == http11.MethodUnknown {
		s.rejectAndClose(index, 400, http11.ReasonBadRequest)
		return
	}

	res, uOff, uLen := c.cursor.ParseNextLineElement(http11.Token)
	if res != http11.OK {
		s.rejectAndClose(index, 400, http11.ReasonBadRequest)
		return
	}

	res, vOff, vLen := c.cursor.ParseNextLineElement(http11.EndOfLine)
	if res != http11.OK {
		s.rejectAndClose(index, 400, http11.ReasonBadRequest)
		return
	}
	if !bytes.Equal(c.inBuf[vOff:vOff+vLen], http11VersionBytes) {
		s.rejectAndClose(index, 400, http11.ReasonBadRequest)
		return
	}
	// A line with fewer than three elements already failed above with
	// EndOfFile; the version element must also end at this line's CRLF.
	if c.cursor.Pos() != end+2 {
		s.rejectAndClose(index, 400, http11.ReasonBadRequest)
		return
	}

	c.method = method
	c.isHead = method == http11.MethodHEAD
	c.url = append(c.url[:0], c.inBuf[uOff:uOff+uLen]...)

	if !s.pool.SetState(index, pool.ReqLine, pool.ReqHeaders) {
		s.log.Error("invariant violation: request-line transition", zap.Int("index", index))
		return
	}

	if s.handlers.RequestLine != nil {
		s.handlers.RequestLine(&Conn{srv: s, index: index}, method, c.inBuf[uOff:uOff+uLen], c.inBuf[vOff:vOff+vLen])
	}

	c.compact()
	s.processHeaders(index)
}

// http11VersionBytes mirrors http11's own unexported constant; kept as a
// package-local copy since the server never needs the rest of that
// package's private version-matching logic.
var http11VersionBytes = []byte("HTTP/1.1")

var crlfBytes = []byte("\r\n")

// processHeaders parses headers in place: the block's bytes stay at the
// front of inBuf and each parsed header is recorded in the record's
// header table, so refs remain valid through the Respond handler.
// Compaction happens only under pressure (buffer full mid-line), at the
// cost of clearing the table; the Header sub-handler has already
// dispatched every header by then.
func (s *Server) processHeaders(index int) {
	c := &s.conns[index]
	for {
		res, nOff, nLen, vOff, vLen := c.cursor.ParseNextHeader()
		switch res {
		case http11.OK:
			name := c.inBuf[nOff : nOff+nLen]
			value := c.inBuf[vOff : vOff+vLen]
			if equalFoldBytes(name, "content-length") {
				if c.hasContentLength {
					s.rejectAndClose(index, 400, http11.ReasonBadRequest)
					return
				}
				n, ok := parseDecimal(value)
				if !ok {
					s.rejectAndClose(index, 400, http11.ReasonBadRequest)
					return
				}
				c.hasContentLength = true
				c.contentLength = n
			}
			c.headerCount++
			if c.headerCount > http11.MaxHeaders ||
				c.headers.Add(http11.HeaderRef{NameOff: nOff, NameLen: nLen, ValueOff: vOff, ValueLen: vLen}) != http11.OK {
				s.rejectAndClose(index, 413, http11.ReasonRequestEntityTooBig)
				return
			}
			if s.handlers.Header != nil {
				s.handlers.Header(&Conn{srv: s, index: index}, name, value)
			}
			continue

		case http11.EndOfFile:
			s.finishHeaders(index)
			return

		case http11.BadMessage:
			s.rejectAndClose(index, 400, http11.ReasonBadRequest)
			return

		case http11.WouldBlock:
			if c.cursor.InIgnoreLine() {
				// Ignore mode is only ever entered at buffer base, so
				// compacting discards skipped bytes alone; the (empty)
				// ref table is unaffected.
				c.compact()
				return
			}
			if c.inLen >= len(c.inBuf) {
				if discarded := c.compact(); discarded > 0 {
					// Parsed header bytes were shifted out to make
					// room; their refs are gone with them.
					c.headers.Reset()
					continue
				}
				// Nothing left to reclaim: this single line exceeds
				// the whole buffer. Skip it.
				c.cursor.SetIgnoreLine()
				continue
			}
			return

		default:
			s.log.Error("unexpected header parse result", zap.Stringer("result", res))
			s.rejectAndClose(index, 400, http11.ReasonBadRequest)
			return
		}
	}
}

func (s *Server) finishHeaders(index int) {
	c := &s.conns[index]
	c.bodyOff = c.cursor.ConsumeParsedHeaders()
	if c.bodyOff >= len(c.inBuf) {
		// Header block fills the buffer exactly; reclaim it so body
		// reads have room. The ref table goes with the bytes.
		c.compact()
		c.headers.Reset()
		c.bodyOff = 0
	}
	if !s.pool.SetState(index, pool.ReqHeaders, pool.ReqBody) {
		return
	}
	if s.handlers.EndOfHeaders != nil {
		s.handlers.EndOfHeaders(&Conn{srv: s, index: index})
	}
	s.processBody(index)
}

func (s *Server) processBody(index int) {
	c := &s.conns[index]

	if !c.hasContentLength || c.contentLength == 0 {
		c.inLen = c.bodyOff
		s.advanceToRespond(index)
		return
	}

	avail := int64(c.inLen - c.bodyOff)
	if avail <= 0 {
		return
	}

	remaining := c.contentLength - c.contentSeen
	deliver := avail
	if deliver > remaining {
		deliver = remaining
	}
	if deliver > 0 {
		chunk := c.inBuf[c.bodyOff : int64(c.bodyOff)+deliver]
		c.contentSeen += deliver
		if s.handlers.Body != nil {
			s.handlers.Body(&Conn{srv: s, index: index}, chunk)
		}
		// Body bytes are consumed; the header block before bodyOff
		// stays for Respond-time lookups. Trailing bytes beyond the
		// declared length belong to a pipelined next request, which is
		// not supported, and are dropped with the same truncation.
		c.inLen = c.bodyOff
	}

	if c.contentSeen >= c.contentLength {
		s.advanceToRespond(index)
	}
}

func (s *Server) advanceToRespond(index int) {
	if !s.pool.SetState(index, pool.ReqBody, pool.ReqResponse) {
		return
	}
	if s.handlers.Respond != nil {
		s.handlers.Respond(&Conn{srv: s, index: index})
	}
}

func (s *Server) rejectAndClose(index int, code int, reason string) {
	c := &s.conns[index]
	s.metrics.badRequests.Inc()
	bb, body := respbody.Build(code, reason)
	writeSimpleOnRawSocket(c.sock, code, reason, body)
	respbody.Release(bb)
	s.closeConn(index, s.pool.StateOf(index), false)
}

func (s *Server) onConnWritable(index int) {
	c := &s.conns[index]
	if c.sfFile != nil {
		s.continueSendfile(index)
		return
	}
	s.flushPending(index)
	if !c.writeActive {
		s.reactor.Modify(c.regHandle, reactor.Readable)
	}
}

func equalFoldBytes(b []byte, s string) bool {
	if len(b) != len(s) {
		return false
	}
	for i := range b {
		bc, sc := b[i], s[i]
		if bc >= 'A' && bc <= 'Z' {
			bc += 'a' - 'A'
		}
		if sc >= 'A' && sc <= 'Z' {
			sc += 'a' - 'A'
		}
		if bc != sc {
			return false
		}
	}
	return true
}

func parseDecimal(b []byte) (int64, bool) {
	if len(b) == 0 {
		return 0, false
	}
	var n int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	return n, true
}
