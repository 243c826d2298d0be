package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/sxe-httpd/shockwave/pkg/shockwave/http11"
	"github.com/sxe-httpd/shockwave/pkg/shockwave/pool"
	"github.com/sxe-httpd/shockwave/pkg/shockwave/server"
)

// reqState accumulates the bits of one request the Respond handler needs
// that aren't available as a slice into the receive buffer any more by
// the time it fires (the URL is; a POST/PUT body delivered across several Body
// callbacks is not, since each chunk is only valid for its own call).
// Keyed by Conn.Index(), which is stable across one connection's whole
// callback sequence.
type reqState struct {
	url  string
	body bytes.Buffer
}

// newFileHandlers wires a minimal static-file application atop the
// server core: GET/HEAD serve a file under root via sendfile, PUT/POST
// echo the body back chunk-framed, everything else gets a plain 404. It
// exists to exercise the write path (SetHeaderOut, SetContentLength,
// ResponseStart, ResponseChunk, ResponseSendfile, ResponseSimple,
// ResponseEnd) end to end, not as a general fileserver; it never calls
// ResponseClose.
func newFileHandlers(log *zap.Logger, root string) server.Handlers {
	states := make(map[int]*reqState)

	return server.Handlers{
		Connect: func(c *server.Conn) {
			states[c.Index()] = &reqState{}
			log.Debug("connect", zap.String("remote", c.RemoteAddr()), zap.String("request_id", c.RequestID()))
		},

		RequestLine: func(c *server.Conn, method http11.Method, url, version []byte) {
			st := states[c.Index()]
			st.url = string(url)
			st.body.Reset()
		},

		Body: func(c *server.Conn, chunk []byte) {
			states[c.Index()].body.Write(chunk)
		},

		Respond: func(c *server.Conn) {
			st := states[c.Index()]
			switch c.Method() {
			case http11.MethodGET, http11.MethodHEAD:
				serveFile(c, root, st.url)
			case http11.MethodPUT, http11.MethodPOST:
				echoChunked(c, st.body.Bytes())
			case http11.MethodDELETE:
				c.ResponseSimple(404, "Not found", []byte("not found"))
			default:
				c.ResponseSimple(404, "Not found", []byte("not found"))
			}
		},

		Close: func(c *server.Conn, from pool.State, expired bool) {
			delete(states, c.Index())
			log.Debug("close", zap.Stringer("from", from), zap.Bool("expired", expired))
		},
	}
}

// echoChunked answers a PUT/POST by echoing the request body back framed
// as a manual chunked-transfer response (http11.AppendChunkHeader/
// AppendChunkTrailer/AppendLastChunk). The core itself never
// chunk-encodes on an application's behalf, so this is the worked
// example of an application doing it itself via ResponseChunk.
func echoChunked(c *server.Conn, body []byte) {
	c.SetHeaderOut("Transfer-Encoding", "chunked")
	if ct, ok := c.Header("Content-Type"); ok {
		c.SetHeaderOut("Content-Type", string(ct))
	}
	c.ResponseStart(200, "OK")
	if len(body) > 0 {
		var framed []byte
		framed = http11.AppendChunkHeader(framed, len(body))
		framed = append(framed, body...)
		framed = http11.AppendChunkTrailer(framed)
		c.ResponseChunk(framed)
	}
	c.ResponseChunk(http11.AppendLastChunk(nil))
	c.ResponseEnd()
}

func serveFile(c *server.Conn, root, url string) {
	if root == "" {
		body := []byte("sxe-httpd/1.0\r\n")
		c.ResponseSimple(200, "OK", body)
		return
	}

	clean := filepath.Clean(url)
	if strings.Contains(clean, "..") {
		c.ResponseSimple(404, "Not found", []byte("not found"))
		return
	}
	path := filepath.Join(root, clean)

	f, err := os.Open(path)
	if err != nil {
		c.ResponseSimple(404, "Not found", []byte("not found"))
		return
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		c.ResponseSimple(404, "Not found", []byte("not found"))
		return
	}

	c.SetContentLength(info.Size())
	c.ResponseStart(200, "OK")
	c.ResponseSendfile(f, info.Size(), func(http11.Result) {
		f.Close()
		c.ResponseEnd()
	})
}
