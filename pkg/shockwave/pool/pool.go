// Package pool implements the server's fixed-capacity connection-record
// pool: an array of N slots, one intrusive doubly-linked list per state
// ordered by last-transition time (oldest at the head), and per-state
// timeouts driven by Tick.
//
// The lists are stored as parallel arrays of small integer indices
// rather than pointers, so a slot's entire linkage lives in three ints
// and relinking never allocates.
//
// This package only tracks state and timing; it has no opinion about
// what a slot holds. The caller (pkg/shockwave/server) keeps a parallel,
// identically-indexed array of connection records; the index is the
// link between the two.
package pool

import "time"

// State is a connection record's position in its lifecycle.
type State int

const (
	Free State = iota
	Idle
	ReqLine
	ReqHeaders
	ReqBody
	ReqResponse

	numStates
)

func (s State) String() string {
	switch s {
	case Free:
		return "FREE"
	case Idle:
		return "IDLE"
	case ReqLine:
		return "REQ_LINE"
	case ReqHeaders:
		return "REQ_HEADERS"
	case ReqBody:
		return "REQ_BODY"
	case ReqResponse:
		return "REQ_RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// NoIndex is returned by AcquireOldest when the requested state is empty.
const NoIndex = -1

const nilLink = -1

// Default per-state timeouts. REQ_BODY and REQ_RESPONSE have no timeout
// (progress there is driven by the application) and FREE is never timed
// out.
const (
	DefaultIdleTimeout       = 60 * time.Second
	DefaultReqLineTimeout    = 2 * time.Second
	DefaultReqHeadersTimeout = 30 * time.Second
)

// ExpiryFunc is invoked by Tick for each record reaped due to a per-state
// timeout, and by ReapIdle for records evicted to satisfy an allocation.
// expired is true for timeout-driven reaps, false for reaping-for-space.
type ExpiryFunc func(index int, from State, expired bool)

// Pool is the fixed-capacity array of connection-record states described
// above. The zero value is not usable; construct with New.
type Pool struct {
	capacity int

	state    []State
	next     []int
	prev     []int
	lastMove []time.Time

	head [numStates]int
	tail [numStates]int
	size [numStates]int

	timeout [numStates]time.Duration

	onExpire ExpiryFunc
}

// Config configures per-state timeouts. ReqBodyTimeout and
// ReqResponseTimeout default to 0 (disabled).
type Config struct {
	IdleTimeout        time.Duration
	ReqLineTimeout     time.Duration
	ReqHeadersTimeout  time.Duration
	ReqBodyTimeout     time.Duration
	ReqResponseTimeout time.Duration
}

// DefaultConfig returns the default per-state timeouts.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:       DefaultIdleTimeout,
		ReqLineTimeout:    DefaultReqLineTimeout,
		ReqHeadersTimeout: DefaultReqHeadersTimeout,
	}
}

// New constructs a pool of the given capacity, all slots initially FREE.
// onExpire is invoked (from Tick or ReapIdle) whenever a slot transitions out
// of a non-FREE state due to reaping; it may be nil.
func New(capacity int, cfg Config, onExpire ExpiryFunc) *Pool {
	p := &Pool{
		capacity: capacity,
		state:    make([]State, capacity),
		next:     make([]int, capacity),
		prev:     make([]int, capacity),
		lastMove: make([]time.Time, capacity),
		onExpire: onExpire,
	}
	for i := range p.head {
		p.head[i] = nilLink
		p.tail[i] = nilLink
	}
	for i := 0; i < capacity; i++ {
		p.next[i] = nilLink
		p.prev[i] = nilLink
	}
	p.timeout[Idle] = cfg.IdleTimeout
	p.timeout[ReqLine] = cfg.ReqLineTimeout
	p.timeout[ReqHeaders] = cfg.ReqHeadersTimeout
	p.timeout[ReqBody] = cfg.ReqBodyTimeout
	p.timeout[ReqResponse] = cfg.ReqResponseTimeout

	now := timeNow()
	for i := 0; i < capacity; i++ {
		p.state[i] = Free
		p.lastMove[i] = now
		p.pushTail(Free, i)
	}
	return p
}

// Capacity returns the pool's fixed slot count.
func (p *Pool) Capacity() int { return p.capacity }

// Count returns the number of slots currently in the given state.
func (p *Pool) Count(s State) int { return p.size[s] }

// StateOf returns the current state of slot index in O(1).
func (p *Pool) StateOf(index int) State { return p.state[index] }

// AcquireOldest detaches the head (oldest) record of from and relinks it
// under to with the current time, returning its index, or NoIndex if
// from is empty.
func (p *Pool) AcquireOldest(from, to State) int {
	idx := p.head[from]
	if idx == nilLink {
		return NoIndex
	}
	p.unlink(from, idx)
	p.state[idx] = to
	p.lastMove[idx] = timeNow()
	p.pushTail(to, idx)
	return idx
}

// SetState relinks index from from to to after checking index is
// actually currently in from. An invariant violation here is a
// programming error, reported via a boolean rather than panicking so
// the caller can decide how to fail.
func (p *Pool) SetState(index int, from, to State) bool {
	if p.state[index] != from {
		return false
	}
	p.unlink(from, index)
	p.state[index] = to
	p.lastMove[index] = timeNow()
	p.pushTail(to, index)
	return true
}

// Tick drains, for each state with a non-zero timeout, every record
// whose last-transition age exceeds that timeout, invoking onExpire for
// each and moving it to FREE.
func (p *Pool) Tick(now time.Time) {
	for s := State(0); s < numStates; s++ {
		if p.timeout[s] <= 0 {
			continue
		}
		for {
			idx := p.head[s]
			if idx == nilLink {
				break
			}
			age := now.Sub(p.lastMove[idx])
			if age < p.timeout[s] {
				break
			}
			p.unlink(s, idx)
			p.state[idx] = Free
			p.lastMove[idx] = now
			p.pushTail(Free, idx)
			if p.onExpire != nil {
				p.onExpire(idx, s, true)
			}
		}
	}
}

// ReapIdle implements the accept-path reaping policy: if
// no FREE slot exists, evict the oldest IDLE slot (invoking onExpire with
// expired=false) and return it promoted directly to to. Returns NoIndex
// if neither FREE nor IDLE has a slot available.
func (p *Pool) ReapIdle(to State) int {
	if idx := p.AcquireOldest(Free, to); idx != NoIndex {
		return idx
	}
	idx := p.head[Idle]
	if idx == nilLink {
		return NoIndex
	}
	p.unlink(Idle, idx)
	p.state[idx] = to
	p.lastMove[idx] = timeNow()
	p.pushTail(to, idx)
	if p.onExpire != nil {
		p.onExpire(idx, Idle, false)
	}
	return idx
}

func (p *Pool) pushTail(s State, idx int) {
	p.next[idx] = nilLink
	p.prev[idx] = p.tail[s]
	if p.tail[s] != nilLink {
		p.next[p.tail[s]] = idx
	} else {
		p.head[s] = idx
	}
	p.tail[s] = idx
	p.size[s]++
}

func (p *Pool) unlink(s State, idx int) {
	if p.prev[idx] != nilLink {
		p.next[p.prev[idx]] = p.next[idx]
	} else {
		p.head[s] = p.next[idx]
	}
	if p.next[idx] != nilLink {
		p.prev[p.next[idx]] = p.prev[idx]
	} else {
		p.tail[s] = p.prev[idx]
	}
	p.next[idx] = nilLink
	p.prev[idx] = nilLink
	p.size[s]--
}

// timeNow is a var so tests can fake the clock without a time-travel
// dependency injected through every call site.
var timeNow = time.Now
