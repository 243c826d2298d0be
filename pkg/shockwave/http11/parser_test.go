package http11

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseNextLineElementTokensAndEOL(t *testing.T) {
	var c Cursor
	msg := []byte("GET /a/b HTTP/1.1\r\n")
	c.Construct(msg, len(msg))

	res, off, n := c.ParseNextLineElement(Token)
	require.Equal(t, OK, res)
	require.Equal(t, "GET", string(msg[off:off+n]))

	res, off, n = c.ParseNextLineElement(Token)
	require.Equal(t, OK, res)
	require.Equal(t, "/a/b", string(msg[off:off+n]))

	res, off, n = c.ParseNextLineElement(EndOfLine)
	require.Equal(t, OK, res)
	require.Equal(t, "HTTP/1.1", string(msg[off:off+n]))
}

func TestParseNextLineElementWouldBlockThenGrow(t *testing.T) {
	full := []byte("GET / HTTP/1.1\r\n")
	var c Cursor
	c.Construct(full, 5) // "GET /", no terminator yet for the URL token

	res, _, _ := c.ParseNextLineElement(Token) // "GET"
	require.Equal(t, OK, res)

	res, _, _ = c.ParseNextLineElement(Token) // incomplete "/"
	require.Equal(t, WouldBlock, res)

	c.Grow(len(full))
	res, off, n := c.ParseNextLineElement(Token)
	require.Equal(t, OK, res)
	require.Equal(t, "/", string(full[off:off+n]))
}

func TestParseNextLineElementBadCR(t *testing.T) {
	var c Cursor
	msg := []byte("GET\rX")
	c.Construct(msg, len(msg))
	res, _, _ := c.ParseNextLineElement(Token)
	require.Equal(t, BadMessage, res)
}

func TestParseNextHeaderBasic(t *testing.T) {
	var c Cursor
	msg := []byte("Host: example.com\r\nX-Foo: bar\r\n\r\n")
	c.Construct(msg, len(msg))

	res, nOff, nLen, vOff, vLen := c.ParseNextHeader()
	require.Equal(t, OK, res)
	require.Equal(t, "Host", string(msg[nOff:nOff+nLen]))
	require.Equal(t, "example.com", string(msg[vOff:vOff+vLen]))

	res, nOff, nLen, vOff, vLen = c.ParseNextHeader()
	require.Equal(t, OK, res)
	require.Equal(t, "X-Foo", string(msg[nOff:nOff+nLen]))
	require.Equal(t, "bar", string(msg[vOff:vOff+vLen]))

	res, _, _, _, _ = c.ParseNextHeader()
	require.Equal(t, EndOfFile, res)
}

func TestParseNextHeaderLeadingColonIsBad(t *testing.T) {
	var c Cursor
	msg := []byte(": bar\r\n\r\n")
	c.Construct(msg, len(msg))
	res, _, _, _, _ := c.ParseNextHeader()
	require.Equal(t, BadMessage, res)
}

func TestParseNextHeaderTrimsOWS(t *testing.T) {
	var c Cursor
	msg := []byte("X: \t  value  \t\r\n\r\n")
	c.Construct(msg, len(msg))
	res, _, _, vOff, vLen := c.ParseNextHeader()
	require.Equal(t, OK, res)
	require.Equal(t, "value", string(msg[vOff:vOff+vLen]))
}

func TestParseNextHeaderLineContinuation(t *testing.T) {
	var c Cursor
	msg := []byte("X: first\r\n second\r\n\r\n")
	c.Construct(msg, len(msg))
	res, _, _, vOff, vLen := c.ParseNextHeader()
	require.Equal(t, OK, res)
	require.Equal(t, "first\r\n second", string(msg[vOff:vOff+vLen]))
}

func TestParseNextHeaderWouldBlockMidValue(t *testing.T) {
	full := []byte("X: value\r\n\r\n")
	var c Cursor
	c.Construct(full, 4) // "X: v"
	res, _, _, _, _ := c.ParseNextHeader()
	require.Equal(t, WouldBlock, res)

	c.Grow(len(full))
	res, _, _, vOff, vLen := c.ParseNextHeader()
	require.Equal(t, OK, res)
	require.Equal(t, "value", string(full[vOff:vOff+vLen]))
}

func TestSetIgnoreLineSkipsOversizeHeaderThenResumes(t *testing.T) {
	oversize := make([]byte, 40)
	for i := range oversize {
		oversize[i] = 'A'
	}
	msg := append([]byte("X-Big: "), oversize...)
	msg = append(msg, []byte("\r\nHost: x\r\n\r\n")...)

	var c Cursor
	c.Construct(msg, len(msg))
	c.SetIgnoreLine()

	// Once the ignored line's terminator is in the buffer, the same call
	// skips it and yields the next well-formed header.
	res, nOff, nLen, vOff, vLen := c.ParseNextHeader()
	require.Equal(t, OK, res)
	require.True(t, c.IgnoreLength() > 0)
	require.Equal(t, "Host", string(msg[nOff:nOff+nLen]))
	require.Equal(t, "x", string(msg[vOff:vOff+vLen]))

	res, _, _, _, _ = c.ParseNextHeader()
	require.Equal(t, EndOfFile, res)
}

func TestConsumeParsedHeadersAndRebase(t *testing.T) {
	var c Cursor
	msg := []byte("Host: x\r\n\r\nBODY")
	c.Construct(msg, len(msg))
	c.ParseNextHeader()
	c.ParseNextHeader() // end of headers

	n := c.ConsumeParsedHeaders()
	require.True(t, n > 0)

	shifted := append([]byte{}, msg[n:]...)
	c.Rebase(shifted, len(shifted), n)
	require.Equal(t, 0, c.Pos())
}

func TestIncrementalEquivalenceAcrossFragments(t *testing.T) {
	full := []byte("GET /x HTTP/1.1\r\nHost: a\r\nX: 1\r\n\r\n")

	// Whole-buffer parse.
	var whole Cursor
	whole.Construct(full, len(full))
	wm, _, wu := whole.ParseNextLineElement(Token)
	_ = wu
	require.Equal(t, OK, wm)
	whole.ParseNextLineElement(Token)
	whole.ParseNextLineElement(EndOfLine)
	var wholeHeaders [][2]string
	for {
		res, nOff, nLen, vOff, vLen := whole.ParseNextHeader()
		if res == EndOfFile {
			break
		}
		require.Equal(t, OK, res)
		wholeHeaders = append(wholeHeaders, [2]string{string(full[nOff : nOff+nLen]), string(full[vOff : vOff+vLen])})
	}

	// Fragmented parse, 3 bytes at a time.
	buf := make([]byte, 0, len(full))
	var frag Cursor
	frag.Construct(buf, 0)
	growMore := func() {
		if len(buf) >= len(full) {
			t.Fatal("ran out of input while WouldBlock")
		}
		end := len(buf) + 3
		if end > len(full) {
			end = len(full)
		}
		buf = append(buf, full[len(buf):end]...)
		frag.buf = buf
		frag.Grow(len(buf))
	}
	step := func(tryParse func() Result) {
		for {
			res := tryParse()
			if res != WouldBlock {
				require.Equal(t, OK, res)
				return
			}
			growMore()
		}
	}
	step(func() Result { r, _, _ := frag.ParseNextLineElement(Token); return r })
	step(func() Result { r, _, _ := frag.ParseNextLineElement(Token); return r })
	step(func() Result { r, _, _ := frag.ParseNextLineElement(EndOfLine); return r })

	var fragHeaders [][2]string
	for {
		var res Result
		var nOff, nLen, vOff, vLen int
		for {
			res, nOff, nLen, vOff, vLen = frag.ParseNextHeader()
			if res != WouldBlock {
				break
			}
			growMore()
		}
		if res == EndOfFile {
			break
		}
		require.Equal(t, OK, res)
		fragHeaders = append(fragHeaders, [2]string{string(buf[nOff : nOff+nLen]), string(buf[vOff : vOff+vLen])})
	}

	require.Equal(t, wholeHeaders, fragHeaders)
}
