//go:build linux

package server

import "github.com/sxe-httpd/shockwave/internal/reactor"

func listenTCP(addr string, port int) (reactor.Listener, error) {
	return reactor.ListenTCP(addr, port)
}

func listenPipe(path string) (reactor.Listener, error) {
	return reactor.ListenPipe(path)
}
