//go:build !linux

package server

import (
	"strconv"

	"github.com/sxe-httpd/shockwave/internal/reactor"
)

func listenTCP(addr string, port int) (reactor.Listener, error) {
	host := addr
	if host == "" || host == "INADDR_ANY" {
		host = "0.0.0.0"
	}
	return reactor.Listen(host + ":" + strconv.Itoa(port))
}

func listenPipe(path string) (reactor.Listener, error) {
	return reactor.ListenPipe(path)
}
