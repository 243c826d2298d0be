// Package server implements the non-blocking HTTP/1.1 server core: it
// binds a listener, owns a fixed-capacity connection pool, drives each
// accepted connection through its read-path state machine, dispatches
// parsed artifacts to an application-supplied handler vocabulary, and
// serialises responses through the write path.
//
// The package is written against pkg/shockwave/http11 (the message
// parser), pkg/shockwave/pool (the connection-record pool) and
// internal/reactor (the Reactor/Socket interfaces) only, never against
// a concrete epoll or net.Conn type. Scheduling is single-threaded and
// cooperative: one reactor callback runs to completion before the next.
package server

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sxe-httpd/shockwave/internal/reactor"
	"github.com/sxe-httpd/shockwave/internal/respbody"
	"github.com/sxe-httpd/shockwave/pkg/shockwave/http11"
	"github.com/sxe-httpd/shockwave/pkg/shockwave/pool"
)

// Handlers is the application's sub-handler vocabulary. Within one
// connection, invocations are strictly ordered: Connect, (RequestLine,
// Header*, EndOfHeaders, Body*, Respond)+, Close. Any may be nil; a nil
// sub-handler is simply skipped.
type Handlers struct {
	// Connect fires once a pool slot has been promoted FREE→IDLE for a
	// newly accepted connection.
	Connect func(c *Conn)

	// RequestLine fires once the request line has been tokenised.
	RequestLine func(c *Conn, method http11.Method, url, version []byte)

	// Header fires once per parsed header, name and value as originally
	// cased.
	Header func(c *Conn, name, value []byte)

	// EndOfHeaders fires once the terminating blank line is reached.
	EndOfHeaders func(c *Conn)

	// Body fires once per read-path iteration that delivers body bytes.
	Body func(c *Conn, chunk []byte)

	// Respond fires once the full Content-Length has been delivered (or
	// immediately, for a body-less request), after which the handler is
	// expected to drive the write path.
	Respond func(c *Conn)

	// Close fires exactly once per connection record, when it returns to
	// FREE, including reaps, timeouts and transport errors. from is the
	// state the record was reaped from; expired is true when a per-state
	// timeout fired Tick-side.
	Close func(c *Conn, from pool.State, expired bool)
}

// Config configures a Server. Zero-value fields fall back to the
// defaults DefaultConfig documents.
type Config struct {
	// Capacity is the pool's fixed connection-record count.
	Capacity int

	// InBufferSize is the per-connection receive buffer capacity.
	InBufferSize int

	// Pool overrides the default per-state timeouts.
	Pool pool.Config

	// Logger receives the server's own diagnostics: the bound listen
	// address, accept and socket-registration failures, and invariant
	// violations. Accepts, reaps, parse errors and closes are not
	// logged. Defaults to zap.NewNop(), never nil internally.
	Logger *zap.Logger

	// StampRequestID, when true, generates a uuid per accepted
	// connection (server-side only, log correlation) exposed via
	// Conn.RequestID. Never parsed from or written to the wire.
	StampRequestID bool
}

// DefaultConfig returns the stock configuration: 1024 slots, 16 KiB
// receive buffers, and the default per-state timeouts.
func DefaultConfig() Config {
	return Config{
		Capacity:     1024,
		InBufferSize: http11.DefaultInBufferSize,
		Pool:         pool.DefaultConfig(),
	}
}

// Server is the bound, running instance of the HTTP/1.1 server core.
// The zero value is not usable; construct with New.
type Server struct {
	cfg      Config
	log      *zap.Logger
	handlers Handlers

	reactor  reactor.Reactor
	listener reactor.Listener
	listenH  reactor.Handle

	pool  *pool.Pool
	conns []connRecord

	metrics *serverMetrics

	tickHandle reactor.TimerHandle
	closed     bool
}

// New constructs a Server bound to the given Reactor, ready to Listen.
// The reactor is not started; the caller drives it (directly, or via
// Run) after at least one Listen/ListenPipe call.
func New(r reactor.Reactor, cfg Config, h Handlers) *Server {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	if cfg.InBufferSize <= 0 {
		cfg.InBufferSize = http11.DefaultInBufferSize
	}
	if cfg.Pool == (pool.Config{}) {
		cfg.Pool = pool.DefaultConfig()
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		cfg:      cfg,
		log:      log,
		handlers: h,
		reactor:  r,
		conns:    make([]connRecord, cfg.Capacity),
		metrics:  newServerMetrics(),
	}
	s.pool = pool.New(cfg.Capacity, cfg.Pool, s.onExpire)
	for i := range s.conns {
		s.conns[i].srv = s
		s.conns[i].index = i
		s.conns[i].inBuf = make([]byte, cfg.InBufferSize)
		s.conns[i].hdrRefs = make([]http11.HeaderRef, 0, http11.MaxHeaders)
	}
	return s
}

// Listen binds addr (dotted-quad or "INADDR_ANY") and port (0 for
// ephemeral) and registers the listener for readable events.
func (s *Server) Listen(addr string, port int) error {
	ln, err := listenTCP(addr, port)
	if err != nil {
		return err
	}
	return s.bindListener(ln)
}

// ListenPipe binds path as a Unix domain socket and accepts over it with
// the same accept path as TCP. Any file already at path is removed
// before binding.
func (s *Server) ListenPipe(path string) error {
	ln, err := listenPipe(path)
	if err != nil {
		return err
	}
	return s.bindListener(ln)
}

func (s *Server) bindListener(ln reactor.Listener) error {
	h, err := s.reactor.Register(ln.FD(), reactor.Readable, s.onListenerReadable)
	if err != nil {
		ln.Close()
		return err
	}
	s.listener = ln
	s.listenH = h
	s.tickHandle = s.reactor.AddTimer(time.Second, true, s.onTick)
	s.log.Info("listening", zap.String("addr", ln.Addr()))
	return nil
}

// Close stops accepting new connections and closes every outstanding
// connection, invoking the Close sub-handler for each.
func (s *Server) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.listener != nil {
		s.reactor.Deregister(s.listenH)
		s.listener.Close()
	}
	s.reactor.CancelTimer(s.tickHandle)
	for i := range s.conns {
		st := s.pool.StateOf(i)
		if st != pool.Free {
			s.closeConn(i, st, false)
		}
	}
	return nil
}

// Run is a convenience wrapper that drives the underlying reactor until
// the reactor's Stop is called. Server.Close does not stop the reactor.
func (s *Server) Run() error {
	return s.reactor.Run()
}

func (s *Server) onTick() {
	s.pool.Tick(time.Now())
}

// onExpire is the pool's ExpiryFunc: invoked whenever a slot is reaped,
// either by Tick (timeout, expired=true) or by ReapIdle (accept-path
// space exhaustion, expired=false). The pool has already relinked the
// slot by the time this fires, so only the teardown half runs here; the
// Close sub-handler still fires exactly once per record.
func (s *Server) onExpire(index int, from pool.State, expired bool) {
	s.teardown(index, from, expired)
}

// closeConn returns the slot to FREE and tears the connection down. Used
// by every close that the pool itself did not initiate.
func (s *Server) closeConn(index int, from pool.State, expired bool) {
	if from != pool.Free {
		s.pool.SetState(index, from, pool.Free)
	}
	s.teardown(index, from, expired)
}

// teardown releases the socket, fires the Close sub-handler, and resets
// the record. It never touches the pool; callers are responsible for the
// slot's state transition.
func (s *Server) teardown(index int, from pool.State, expired bool) {
	c := &s.conns[index]
	if c.sock != nil {
		if c.regHandle != 0 {
			s.reactor.Deregister(c.regHandle)
		}
		c.sock.Close()
	}
	if s.handlers.Close != nil {
		s.handlers.Close(&Conn{srv: s, index: index}, from, expired)
	}
	c.reset()
	s.metrics.closes.Inc()
}

func (s *Server) onListenerReadable(_ reactor.Handle, _ reactor.Events) {
	for {
		sock, err := s.listener.Accept()
		if err != nil {
			if err == reactor.ErrWouldBlock {
				return
			}
			s.log.Warn("accept failed", zap.Error(err))
			return
		}
		s.acceptOne(sock)
	}
}

func (s *Server) acceptOne(sock reactor.Socket) {
	idx := s.pool.AcquireOldest(pool.Free, pool.Idle)
	if idx == pool.NoIndex {
		idx = s.pool.ReapIdle(pool.Idle)
	}
	if idx == pool.NoIndex {
		s.respond503AndClose(sock)
		return
	}

	c := &s.conns[idx]
	c.reset()
	c.sock = sock
	if s.cfg.StampRequestID {
		c.requestID = uuid.NewString()
	}
	h, err := s.reactor.Register(sock.FD(), reactor.Readable, s.makeReadableCallback(idx))
	if err != nil {
		s.log.Error("register accepted socket failed", zap.Error(err))
		sock.Close()
		c.reset()
		s.pool.SetState(idx, pool.Idle, pool.Free)
		return
	}
	c.regHandle = h
	s.metrics.accepts.Inc()
	if s.handlers.Connect != nil {
		s.handlers.Connect(&Conn{srv: s, index: idx})
	}
}

// respond503AndClose answers an accept that found no free or reusable
// pool slot with the fixed 503 response and closes the socket without
// ever entering the pool.
func (s *Server) respond503AndClose(sock reactor.Socket) {
	bb, body := respbody.Build(503, http11.ReasonServiceUnavailable)
	writeSimpleOnRawSocket(sock, 503, http11.ReasonServiceUnavailable, body)
	respbody.Release(bb)
	sock.Close()
	s.metrics.rejected503.Inc()
}

func (s *Server) makeReadableCallback(index int) reactor.Callback {
	return func(_ reactor.Handle, ev reactor.Events) {
		if ev&reactor.Readable != 0 {
			s.onConnReadable(index)
		}
		if ev&reactor.Writable != 0 {
			s.onConnWritable(index)
		}
	}
}
