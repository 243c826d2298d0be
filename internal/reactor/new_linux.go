//go:build linux

package reactor

// New constructs the platform's default Reactor: the epoll backend on
// Linux, the portable poll fallback elsewhere (new_other.go).
func New() (Reactor, error) {
	return NewEpollReactor()
}
