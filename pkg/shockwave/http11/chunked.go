package http11

import "strconv"

// Chunked transfer-encoding is not accepted on input: the server's
// REQ_BODY state is framed exclusively by Content-Length. On output,
// the core never chunk-encodes a response on the application's behalf
// either; ResponseChunk writes exactly the bytes it's given. The
// helpers below are the manual building blocks an application reaches
// for when it wants to emit RFC 7230 §4.1 chunked framing itself via a
// sequence of ResponseChunk calls. Nothing in the server core calls
// them implicitly.

// AppendChunkHeader appends "<hex-size>\r\n" for a chunk of the given
// length to dst and returns the grown slice. The caller follows it with
// the chunk's data bytes and "\r\n" (AppendChunkTrailer).
func AppendChunkHeader(dst []byte, size int) []byte {
	dst = strconv.AppendUint(dst, uint64(size), 16)
	return append(dst, '\r', '\n')
}

// AppendChunkTrailer appends the CRLF that terminates a chunk's data.
func AppendChunkTrailer(dst []byte) []byte {
	return append(dst, '\r', '\n')
}

// AppendLastChunk appends the zero-length terminating chunk plus the
// final CRLF that ends a chunked body (no trailer headers).
func AppendLastChunk(dst []byte) []byte {
	dst = append(dst, '0', '\r', '\n')
	return append(dst, '\r', '\n')
}
