package reactor

import "time"

// timerEntry is one scheduled callback in a reactor's timer heap. Shared
// by the epoll and portable poll backends.
type timerEntry struct {
	at     time.Time
	period time.Duration
	repeat bool
	cb     func()
	handle TimerHandle
	active bool
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x interface{}) { *h = append(*h, x.(*timerEntry)) }
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// timeNow is a var so tests can fake the clock.
var timeNow = time.Now
