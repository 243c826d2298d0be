package http11

// ElementKind selects what ParseNextLineElement extracts from the current
// position: a single whitespace/CRLF-delimited token, or the remainder of
// the line up to CRLF.
type ElementKind int

const (
	// Token reads up to the next run of SP/HTAB or to CRLF.
	Token ElementKind = iota
	// EndOfLine reads the remainder of the current line up to CRLF.
	EndOfLine
)

// cursorMode tracks which logical thing the cursor is currently parsing.
type cursorMode int

const (
	modeRequestLine cursorMode = iota
	modeHeaders
	modeIgnoreLine
	modeDone
)

// Cursor is the restartable parse state for one connection's request
// line and header block. It never allocates and never copies bytes:
// every result is an offset/length pair into the caller's buffer. A
// Cursor survives across calls so a buffer that only holds a prefix of
// the message can be completed by a later Grow.
type Cursor struct {
	buf    []byte
	length int
	pos    int

	mode cursorMode

	// ignoreLen accumulates the bytes skipped while in modeIgnoreLine,
	// reported back to the caller as WouldBlock's ignore-length so it
	// can discard them from the input buffer without growing it.
	ignoreLen int

	bound bool
}

// Construct zeroes the cursor and binds it to buf, whose first length
// bytes are valid. Equivalent to allocating a fresh Cursor, but lets
// callers reuse the struct (e.g. from the connection pool) without a
// heap allocation per connection.
func (c *Cursor) Construct(buf []byte, length int) {
	*c = Cursor{buf: buf, length: length, bound: true}
}

// Grow declares that length has increased; it never decreases across the
// lifetime of one logical message. Grow itself does no parsing work;
// it just lets a subsequent ParseNextLineElement/ParseNextHeader see the
// newly valid bytes.
func (c *Cursor) Grow(newLength int) {
	c.length = newLength
}

// Rebase re-binds the cursor to buf after the caller has memmove'd
// ConsumeParsedHeaders' returned prefix out of the front of the buffer,
// shifting pos accordingly (ignoreLen is a byte count, not an offset,
// and is left as it is). discarded must equal the value
// ConsumeParsedHeaders returned.
func (c *Cursor) Rebase(buf []byte, length, discarded int) {
	c.buf = buf
	c.length = length
	c.pos -= discarded
	if c.pos < 0 {
		c.pos = 0
	}
}

// Pos reports the cursor's current read position, for callers that need
// to know how much of the buffer is "spoken for" by completed parsing
// (e.g. to locate the start of the header block after the request line).
func (c *Cursor) Pos() int { return c.pos }

// ParseNextLineElement extracts a Token or the rest of the current line
// (EndOfLine). Returns (Result, offset, length):
//   - OK: element is buf[offset:offset+length].
//   - WouldBlock: only a prefix is available; Grow and retry from the
//     same cursor state (offset/length are meaningless).
//   - EndOfFile: the request/response line was already fully parsed.
//   - BadMessage: a lone CR not followed by LF, or similar malformance.
func (c *Cursor) ParseNextLineElement(kind ElementKind) (Result, int, int) {
	if !c.bound {
		return Internal, 0, 0
	}
	if c.mode != modeRequestLine {
		return EndOfFile, 0, 0
	}

	start := c.pos
	if kind == Token {
		// Leading SP/HTAB can appear here if a previous Token call's
		// whitespace run ended exactly at a Grow boundary, leaving
		// more separator bytes unseen at the time; skip them before
		// scanning for content so a run of SP/HTAB never produces a
		// spurious zero-length token.
		for start < c.length && (c.buf[start] == ' ' || c.buf[start] == '\t') {
			start++
		}
		if start >= c.length {
			return WouldBlock, 0, 0
		}
		c.pos = start
	}
	i := start
	for i < c.length {
		b := c.buf[i]
		if b == '\r' {
			if i+1 >= c.length {
				return WouldBlock, 0, 0
			}
			if c.buf[i+1] != '\n' {
				return BadMessage, 0, 0
			}
			elemLen := i - start
			c.pos = i + 2
			if kind == Token {
				// A bare CRLF with no token content before it
				// (e.g. method immediately followed by CRLF)
				// is malformed; callers expect SP-delimited
				// tokens before the line terminator.
				if elemLen == 0 {
					return BadMessage, 0, 0
				}
			}
			// The line is complete; what follows is the header block.
			c.mode = modeHeaders
			return OK, start, elemLen
		}
		if kind == Token && (b == ' ' || b == '\t') {
			elemLen := i - start
			// The separator is one or more of SP/HTAB; skip the
			// whole run so the next Token call starts at the
			// next real token.
			j := i + 1
			for j < c.length && (c.buf[j] == ' ' || c.buf[j] == '\t') {
				j++
			}
			c.pos = j
			return OK, start, elemLen
		}
		i++
	}
	return WouldBlock, 0, 0
}

// ParseNextHeader yields the next header name/value pair starting at the
// cursor's position, honoring RFC 822 §3.1.2 name rules, OWS trimming,
// and CRLF-SP/TAB line continuation. Returns
// (Result, nameOff, nameLen, valueOff, valueLen).
func (c *Cursor) ParseNextHeader() (Result, int, int, int, int) {
	if !c.bound {
		return Internal, 0, 0, 0, 0
	}
	if c.mode == modeDone {
		return EndOfFile, 0, 0, 0, 0
	}
	if c.mode == modeIgnoreLine {
		res := c.advanceIgnoreLine()
		if res != OK {
			return res, 0, 0, 0, 0
		}
		// Ignore-line just terminated; fall through to parse the
		// next header normally, with ignoreLen already reported to
		// the caller via the WouldBlock path that preceded this.
	}

	start := c.pos

	// End-of-headers: an empty line.
	if start+1 < c.length && c.buf[start] == '\r' && c.buf[start+1] == '\n' {
		c.pos = start + 2
		c.mode = modeDone
		return EndOfFile, 0, 0, 0, 0
	}
	if start < c.length && c.buf[start] == '\r' && start+1 >= c.length {
		return WouldBlock, 0, 0, 0, 0
	}

	// Name: printable, non-space characters up to ':'.
	i := start
	for i < c.length && c.buf[i] != ':' && c.buf[i] != '\r' {
		if c.buf[i] <= ' ' || c.buf[i] == 0x7f {
			return BadMessage, 0, 0, 0, 0
		}
		i++
	}
	if i >= c.length {
		return WouldBlock, 0, 0, 0, 0
	}
	if c.buf[i] != ':' {
		return BadMessage, 0, 0, 0, 0
	}
	nameOff, nameLen := start, i-start
	if nameLen == 0 {
		return BadMessage, 0, 0, 0, 0
	}
	if nameLen > MaxHeaderNameLength {
		return BadMessage, 0, 0, 0, 0
	}

	// Value: OWS-trimmed remainder of the line, with fold continuation.
	valOff, valEnd, next, res := c.scanHeaderValue(i + 1)
	if res != OK {
		return res, 0, 0, 0, 0
	}
	c.pos = next
	return OK, nameOff, nameLen, valOff, valEnd - valOff
}

// scanHeaderValue scans from off to the header's logical end (honoring
// CRLF + SP/TAB continuations) and returns the trimmed value's start and
// end offsets plus the position just past the terminating CRLF.
// Continuations stay in place in the caller's contiguous buffer;
// trimming only strips the outer OWS, and continuation whitespace stays
// verbatim inside the value.
func (c *Cursor) scanHeaderValue(off int) (valOff, valEnd int, next int, res Result) {
	// Leading OWS is stripped.
	for off < c.length && (c.buf[off] == ' ' || c.buf[off] == '\t') {
		off++
	}
	if off >= c.length {
		return 0, 0, 0, WouldBlock
	}
	valOff = off

	for {
		lineEnd := -1
		i := off
		for i < c.length {
			if c.buf[i] == '\r' {
				if i+1 >= c.length {
					return 0, 0, 0, WouldBlock
				}
				if c.buf[i+1] != '\n' {
					return 0, 0, 0, BadMessage
				}
				lineEnd = i
				break
			}
			i++
		}
		if lineEnd == -1 {
			return 0, 0, 0, WouldBlock
		}

		// Is this CRLF followed by a continuation (SP/TAB)?
		if lineEnd+2 < c.length && (c.buf[lineEnd+2] == ' ' || c.buf[lineEnd+2] == '\t') {
			off = lineEnd + 2
			continue
		}
		if lineEnd+2 >= c.length {
			// Can't yet tell whether a continuation follows.
			return 0, 0, 0, WouldBlock
		}

		end := lineEnd
		for end > off && isTrailingOWS(c.buf[end-1]) {
			end--
		}
		return valOff, end, lineEnd + 2, OK
	}
}

func isTrailingOWS(b byte) bool {
	return b == ' ' || b == '\t' || b == '\v' || b == '\f'
}

// advanceIgnoreLine skips bytes until the logical line (respecting
// continuations) terminates, accumulating ignoreLen as it goes.
func (c *Cursor) advanceIgnoreLine() Result {
	for {
		i := c.pos
		lineEnd := -1
		for i < c.length {
			if c.buf[i] == '\r' {
				if i+1 >= c.length {
					c.ignoreLen += i - c.pos
					c.pos = i
					return WouldBlock
				}
				if c.buf[i+1] != '\n' {
					return BadMessage
				}
				lineEnd = i
				break
			}
			i++
		}
		if lineEnd == -1 {
			c.ignoreLen += c.length - c.pos
			c.pos = c.length
			return WouldBlock
		}
		if lineEnd+2 < c.length && (c.buf[lineEnd+2] == ' ' || c.buf[lineEnd+2] == '\t') {
			c.ignoreLen += (lineEnd + 2) - c.pos
			c.pos = lineEnd + 2
			continue
		}
		if lineEnd+2 >= c.length {
			c.ignoreLen += lineEnd - c.pos
			c.pos = lineEnd
			return WouldBlock
		}
		c.ignoreLen += (lineEnd + 2) - c.pos
		c.pos = lineEnd + 2
		c.mode = modeHeaders
		return OK
	}
}

// SetIgnoreLine switches the cursor into "discard until end of current
// logical line" mode, used when a single header cannot fit in the
// connection's input buffer. The next ParseNextHeader call reports WouldBlock
// with IgnoreLength() advancing until the logical line (respecting
// continuations) ends, after which normal header parsing resumes.
func (c *Cursor) SetIgnoreLine() {
	c.mode = modeIgnoreLine
	c.ignoreLen = 0
}

// IgnoreLength returns the cumulative number of bytes skipped for the
// current ignored line, terminator included once it is reached. It resets
// to 0 whenever SetIgnoreLine is (re)entered and keeps its value after the
// ignored line terminates.
func (c *Cursor) IgnoreLength() int { return c.ignoreLen }

// InIgnoreLine reports whether the cursor is mid-ignore.
func (c *Cursor) InIgnoreLine() bool { return c.mode == modeIgnoreLine }

// ConsumeParsedHeaders returns the byte count the caller may safely
// discard from the front of the buffer: everything before the
// cursor's current position, which by construction has already been
// fully parsed into name/value offsets the caller has copied out or
// finished using. After the caller memmoves the buffer, it must call
// Rebase with the same count.
func (c *Cursor) ConsumeParsedHeaders() int {
	return c.pos
}

// Reset prepares the cursor for the request line of a new logical
// message on the same connection (keep-alive), without reallocating.
func (c *Cursor) Reset(buf []byte, length int) {
	c.Construct(buf, length)
}
