//go:build !linux

package reactor

import "time"

// New constructs the platform's default Reactor: the portable poll
// fallback on non-Linux platforms (new_linux.go has the epoll backend).
func New() (Reactor, error) {
	return NewPollReactor(2 * time.Millisecond), nil
}
