package server

import (
	"bytes"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sxe-httpd/shockwave/internal/reactor"
	"github.com/sxe-httpd/shockwave/pkg/shockwave/http11"
	"github.com/sxe-httpd/shockwave/pkg/shockwave/pool"
)

// fakeReactor is a minimal in-process Reactor: no actual polling, just
// enough bookkeeping for the server core to register/modify/deregister
// handles and schedule timers. Tests drive readiness by calling the
// server's callbacks directly.
type fakeReactor struct {
	handles   map[reactor.Handle]reactor.Events
	nextH     reactor.Handle
	timers    []reactor.TimerHandle
	nextTimer reactor.TimerHandle
}

func newFakeReactor() *fakeReactor {
	return &fakeReactor{handles: make(map[reactor.Handle]reactor.Events)}
}

func (r *fakeReactor) Register(_ int, interest reactor.Events, _ reactor.Callback) (reactor.Handle, error) {
	r.nextH++
	r.handles[r.nextH] = interest
	return r.nextH, nil
}

func (r *fakeReactor) Modify(h reactor.Handle, interest reactor.Events) error {
	r.handles[h] = interest
	return nil
}

func (r *fakeReactor) Deregister(h reactor.Handle) error {
	delete(r.handles, h)
	return nil
}

func (r *fakeReactor) AddTimer(_ time.Duration, _ bool, _ func()) reactor.TimerHandle {
	r.nextTimer++
	return r.nextTimer
}

func (r *fakeReactor) CancelTimer(reactor.TimerHandle) {}

func (r *fakeReactor) Run() error { return nil }

func (r *fakeReactor) Stop() {}

// fakeSocket is an in-memory Socket: inbound bytes are queued by the test
// via feed, outbound bytes land in sent. recv/send never return
// ErrWouldBlock unless the test explicitly empties the inbound queue and
// calls Recv again.
type fakeSocket struct {
	in     *bytes.Buffer
	sent   bytes.Buffer
	closed bool
}

func newFakeSocket() *fakeSocket { return &fakeSocket{in: &bytes.Buffer{}} }

func (s *fakeSocket) feed(b []byte) { s.in.Write(b) }

func (s *fakeSocket) FD() int { return 3 }

func (s *fakeSocket) Accept() (reactor.Socket, error) { return nil, reactor.ErrWouldBlock }

func (s *fakeSocket) Recv(buf []byte) (int, error) {
	if s.closed {
		return 0, reactor.ErrClosed
	}
	if s.in.Len() == 0 {
		return 0, reactor.ErrWouldBlock
	}
	return s.in.Read(buf)
}

func (s *fakeSocket) Send(buf []byte) (int, error) {
	if s.closed {
		return 0, reactor.ErrClosed
	}
	return s.sent.Write(buf)
}

func (s *fakeSocket) SendFile(f *os.File, offset, count int64) (int64, error) {
	if s.closed {
		return 0, reactor.ErrClosed
	}
	n, err := io.Copy(&s.sent, io.NewSectionReader(f, offset, count))
	return n, err
}

func (s *fakeSocket) Close() error { s.closed = true; return nil }

func (s *fakeSocket) RemoteAddr() string { return "127.0.0.1:1234" }

func newTestServer(h Handlers) (*Server, *fakeReactor) {
	r := newFakeReactor()
	cfg := DefaultConfig()
	cfg.Capacity = 4
	srv := New(r, cfg, h)
	return srv, r
}

func TestServerSimpleGetRoundTrip(t *testing.T) {
	var gotURL string
	var responded bool
	srv, _ := newTestServer(Handlers{
		RequestLine: func(c *Conn, method http11.Method, url, version []byte) {
			gotURL = string(url)
		},
		Respond: func(c *Conn) {
			responded = true
			c.ResponseSimple(200, "OK", []byte("hi"))
		},
	})

	sock := newFakeSocket()
	srv.acceptOne(sock)
	require.Equal(t, pool.Idle, srv.pool.StateOf(0))

	sock.feed([]byte("GET /hello HTTP/1.1\r\nHost: x\r\n\r\n"))
	srv.onConnReadable(0)

	require.Equal(t, "/hello", gotURL)
	require.True(t, responded)
	require.Contains(t, sock.sent.String(), "200 OK")
	require.Contains(t, sock.sent.String(), "hi")
	require.Equal(t, pool.Idle, srv.pool.StateOf(0))
}

func TestServerRejectsDuplicateContentLength(t *testing.T) {
	srv, _ := newTestServer(Handlers{})
	sock := newFakeSocket()
	srv.acceptOne(sock)

	sock.feed([]byte("POST /x HTTP/1.1\r\nContent-Length: 1\r\nContent-Length: 2\r\n\r\n"))
	srv.onConnReadable(0)

	require.Contains(t, sock.sent.String(), "400")
	require.True(t, sock.closed)
}

func TestServerAcceptPath503WhenFull(t *testing.T) {
	srv, _ := newTestServer(Handlers{})
	// Drive all four slots into REQ_LINE (an incomplete request line, no
	// CRLF yet) so neither FREE nor IDLE has anything left for ReapIdle
	// to reclaim, forcing the next accept down the 503 path.
	for i := 0; i < 4; i++ {
		sock := newFakeSocket()
		srv.acceptOne(sock)
		sock.feed([]byte("GET"))
		srv.onConnReadable(i)
		require.Equal(t, pool.ReqLine, srv.pool.StateOf(i))
	}

	overflow := newFakeSocket()
	srv.acceptOne(overflow)
	require.Contains(t, overflow.sent.String(), "503")
	require.True(t, overflow.closed)
}

func TestServerFragmentedRequestLineParsesOnce(t *testing.T) {
	var gotURL string
	var responded bool
	srv, _ := newTestServer(Handlers{
		RequestLine: func(c *Conn, method http11.Method, url, version []byte) {
			gotURL = string(url)
		},
		Respond: func(c *Conn) {
			responded = true
			c.ResponseSimple(200, "OK", nil)
		},
	})
	sock := newFakeSocket()
	srv.acceptOne(sock)

	// The line's CRLF lands in the second segment; tokenisation must
	// not consume anything off the first.
	sock.feed([]byte("GET /split HTTP/1.1"))
	srv.onConnReadable(0)
	require.False(t, responded)
	require.False(t, sock.closed)

	sock.feed([]byte("\r\nHost: x\r\n\r\n"))
	srv.onConnReadable(0)

	require.Equal(t, "/split", gotURL)
	require.True(t, responded)
	require.Contains(t, sock.sent.String(), "200 OK")
}

func TestServerHeaderLookupAtRespondTime(t *testing.T) {
	var hostVal string
	var count int
	srv, _ := newTestServer(Handlers{
		Respond: func(c *Conn) {
			if v, ok := c.Header("host"); ok {
				hostVal = string(v)
			}
			count = c.HeaderCount()
			c.ResponseSimple(200, "OK", nil)
		},
	})
	sock := newFakeSocket()
	srv.acceptOne(sock)
	sock.feed([]byte("GET / HTTP/1.1\r\nHost: example.com\r\nX-A: 1\r\n\r\n"))
	srv.onConnReadable(0)

	require.Equal(t, "example.com", hostVal)
	require.Equal(t, 2, count)
}

func TestServerRequestLineMissingVersionIsRejected(t *testing.T) {
	srv, _ := newTestServer(Handlers{})
	sock := newFakeSocket()
	srv.acceptOne(sock)

	sock.feed([]byte("GET /\r\nHost: x\r\n\r\n"))
	srv.onConnReadable(0)

	require.Contains(t, sock.sent.String(), "400")
	require.True(t, sock.closed)
}

func TestServerPostBodyDeliveredThenRespond(t *testing.T) {
	var chunks []string
	var order []string
	srv, _ := newTestServer(Handlers{
		Body: func(c *Conn, chunk []byte) {
			chunks = append(chunks, string(chunk))
			order = append(order, "body")
		},
		Respond: func(c *Conn) {
			order = append(order, "respond")
			c.ResponseSimple(200, "OK", nil)
		},
	})
	sock := newFakeSocket()
	srv.acceptOne(sock)

	sock.feed([]byte("POST / HTTP/1.1\r\nContent-Length: 10\r\n\r\n12345678\r\n"))
	srv.onConnReadable(0)

	require.Equal(t, []string{"12345678\r\n"}, chunks)
	require.Equal(t, []string{"body", "respond"}, order)
}

func TestServerBadMethodIsRejected(t *testing.T) {
	srv, _ := newTestServer(Handlers{})
	sock := newFakeSocket()
	srv.acceptOne(sock)

	sock.feed([]byte("FIGZZ / HTTP/1.1\r\n\r\n"))
	srv.onConnReadable(0)

	require.Contains(t, sock.sent.String(), "400 Bad request")
	require.Contains(t, sock.sent.String(), "Connection: close")
	require.Contains(t, sock.sent.String(), "<html>400 Bad request</html>")
	require.True(t, sock.closed)
	require.Equal(t, pool.Free, srv.pool.StateOf(0))
}

func TestServerOversizedRequestLineIs414(t *testing.T) {
	r := newFakeReactor()
	cfg := DefaultConfig()
	cfg.Capacity = 1
	cfg.InBufferSize = 64
	srv := New(r, cfg, Handlers{})

	sock := newFakeSocket()
	srv.acceptOne(sock)
	line := make([]byte, 2000)
	for i := range line {
		line[i] = 'A'
	}
	sock.feed(line)
	srv.onConnReadable(0)

	require.Contains(t, sock.sent.String(), "414")
	require.True(t, sock.closed)
}

func TestServerOversizeHeaderIgnoredAndResumes(t *testing.T) {
	r := newFakeReactor()
	cfg := DefaultConfig()
	cfg.Capacity = 1
	cfg.InBufferSize = 64
	var names []string
	var responded bool
	srv := New(r, cfg, Handlers{
		Header: func(c *Conn, name, value []byte) {
			names = append(names, string(name))
		},
		Respond: func(c *Conn) {
			responded = true
			c.ResponseSimple(200, "OK", nil)
		},
	})

	sock := newFakeSocket()
	srv.acceptOne(sock)

	big := make([]byte, 100)
	for i := range big {
		big[i] = 'A'
	}
	msg := append([]byte("GET / HTTP/1.1\r\nX-Big: "), big...)
	msg = append(msg, []byte("\r\nHost: x\r\n\r\n")...)
	sock.feed(msg)

	// The oversize header spans several reads of the 64-byte buffer;
	// drive readiness until the response shows up.
	for i := 0; i < 10 && !responded; i++ {
		srv.onConnReadable(0)
	}

	require.True(t, responded)
	require.Equal(t, []string{"Host"}, names)
}

func TestServerReapingClosesOldestIdleFirst(t *testing.T) {
	r := newFakeReactor()
	cfg := DefaultConfig()
	cfg.Capacity = 2
	var events []string
	srv := New(r, cfg, Handlers{
		Connect: func(c *Conn) {
			events = append(events, "connect")
		},
		Close: func(c *Conn, from pool.State, expired bool) {
			events = append(events, "close")
			require.Equal(t, pool.Idle, from)
			require.False(t, expired)
		},
	})

	first := newFakeSocket()
	srv.acceptOne(first)
	srv.acceptOne(newFakeSocket())
	events = events[:0]

	srv.acceptOne(newFakeSocket())
	require.Equal(t, []string{"close", "connect"}, events)
	require.True(t, first.closed)
}

func TestServerResponseSimpleRoundTripsThroughParser(t *testing.T) {
	srv, _ := newTestServer(Handlers{
		Respond: func(c *Conn) {
			c.ResponseSimple(200, "OK", []byte("abcd"))
		},
	})
	sock := newFakeSocket()
	srv.acceptOne(sock)
	sock.feed([]byte("GET / HTTP/1.1\r\n\r\n"))
	srv.onConnReadable(0)

	wire := sock.sent.Bytes()
	var cur http11.Cursor
	cur.Construct(wire, len(wire))

	res, off, n := cur.ParseNextLineElement(http11.Token)
	require.Equal(t, http11.OK, res)
	require.Equal(t, "HTTP/1.1", string(wire[off:off+n]))
	res, off, n = cur.ParseNextLineElement(http11.Token)
	require.Equal(t, http11.OK, res)
	require.Equal(t, "200", string(wire[off:off+n]))
	res, off, n = cur.ParseNextLineElement(http11.EndOfLine)
	require.Equal(t, http11.OK, res)
	require.Equal(t, "OK", string(wire[off:off+n]))

	res, nOff, nLen, vOff, vLen := cur.ParseNextHeader()
	require.Equal(t, http11.OK, res)
	require.Equal(t, "Content-Length", string(wire[nOff:nOff+nLen]))
	require.Equal(t, "4", string(wire[vOff:vOff+vLen]))

	res, _, _, _, _ = cur.ParseNextHeader()
	require.Equal(t, http11.EndOfFile, res)
	require.Equal(t, "abcd", string(wire[cur.Pos():]))
}

func TestServerHeadSuppressesBody(t *testing.T) {
	srv, _ := newTestServer(Handlers{
		Respond: func(c *Conn) {
			c.ResponseSimple(200, "OK", []byte("body-bytes"))
		},
	})
	sock := newFakeSocket()
	srv.acceptOne(sock)
	sock.feed([]byte("HEAD / HTTP/1.1\r\n\r\n"))
	srv.onConnReadable(0)

	require.Contains(t, sock.sent.String(), "Content-Length: 10")
	require.NotContains(t, sock.sent.String(), "body-bytes")
}
