// Package http11 implements the restartable HTTP/1.1 message parser shared
// by the server core's read path: request lines, headers (with line
// continuation and oversize-line handling), and the method/status tables
// the server and digest helper build on.
package http11

// Result is the sum type every parsing and I/O-facing operation in this
// package (and the server core built on it) returns instead of a Go error.
// Violated invariants are reported as Internal; the sentinel errors in
// errors.go are for error-returning helpers. Result is for outcomes the
// caller is expected to branch on in the hot path.
type Result int

const (
	// OK indicates the operation produced a usable result.
	OK Result = iota

	// WouldBlock indicates the buffer holds only a prefix of the element
	// being parsed; the caller must Grow the cursor and retry.
	WouldBlock

	// NoConnection indicates the transport reset or otherwise vanished
	// (ECONNRESET, EPIPE and similar map here).
	NoConnection

	// AlreadyConnected indicates a connect-type operation was attempted
	// twice on the same handle.
	AlreadyConnected

	// BadMessage indicates the input violates the wire grammar
	// (malformed CRLF, bad header name, duplicate Content-Length, ...).
	BadMessage

	// AddressInUse indicates a listen bind failed because the address
	// was already bound.
	AddressInUse

	// InvalidURI indicates a URL failed to parse.
	InvalidURI

	// EndOfFile indicates the element being parsed has already been
	// fully consumed (e.g. ParseNextHeader called after the terminating
	// blank line).
	EndOfFile

	// Internal indicates a programming-error invariant was violated.
	// Callers should treat this as fatal to the connection, not retry.
	Internal

	// NoUnusedElements indicates a pool or buffer resource could not be
	// acquired; the caller must close the connection, there is no retry.
	NoUnusedElements
)

func (r Result) String() string {
	switch r {
	case OK:
		return "OK"
	case WouldBlock:
		return "WOULD_BLOCK"
	case NoConnection:
		return "NO_CONNECTION"
	case AlreadyConnected:
		return "ALREADY_CONNECTED"
	case BadMessage:
		return "BAD_MESSAGE"
	case AddressInUse:
		return "ADDRESS_IN_USE"
	case InvalidURI:
		return "INVALID_URI"
	case EndOfFile:
		return "END_OF_FILE"
	case Internal:
		return "INTERNAL"
	case NoUnusedElements:
		return "NO_UNUSED_ELEMENTS"
	default:
		return "UNKNOWN_RESULT"
	}
}
