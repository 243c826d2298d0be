package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewPoolAllFree(t *testing.T) {
	p := New(4, DefaultConfig(), nil)
	require.Equal(t, 4, p.Capacity())
	require.Equal(t, 4, p.Count(Free))
	require.Equal(t, 0, p.Count(Idle))
}

func TestAcquireOldestFIFO(t *testing.T) {
	p := New(3, DefaultConfig(), nil)

	a := p.AcquireOldest(Free, Idle)
	b := p.AcquireOldest(Free, Idle)
	require.NotEqual(t, NoIndex, a)
	require.NotEqual(t, NoIndex, b)
	require.Equal(t, Idle, p.StateOf(a))

	// Oldest-first eviction: a moved to Idle before b, so reaping Idle
	// must return a first.
	evicted := p.AcquireOldest(Idle, ReqLine)
	require.Equal(t, a, evicted)
}

func TestAcquireOldestEmptyReturnsNoIndex(t *testing.T) {
	p := New(1, DefaultConfig(), nil)
	p.AcquireOldest(Free, Idle)
	require.Equal(t, NoIndex, p.AcquireOldest(Free, Idle))
}

func TestSetStateRejectsWrongFrom(t *testing.T) {
	p := New(2, DefaultConfig(), nil)
	idx := p.AcquireOldest(Free, Idle)
	require.False(t, p.SetState(idx, ReqLine, ReqHeaders))
	require.True(t, p.SetState(idx, Idle, ReqLine))
}

func TestCountsSumToCapacity(t *testing.T) {
	p := New(5, DefaultConfig(), nil)
	p.AcquireOldest(Free, Idle)
	p.AcquireOldest(Free, ReqLine)
	total := 0
	for s := State(0); s < numStates; s++ {
		total += p.Count(s)
	}
	require.Equal(t, 5, total)
}

func TestTickReapsExpiredIdle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTimeout = 10 * time.Millisecond
	var reaped []int
	p := New(2, cfg, func(index int, from State, expired bool) {
		reaped = append(reaped, index)
		require.Equal(t, Idle, from)
		require.True(t, expired)
	})

	idx := p.AcquireOldest(Free, Idle)
	base := time.Now()
	timeNow = func() time.Time { return base }
	defer func() { timeNow = time.Now }()

	p.Tick(base.Add(5 * time.Millisecond))
	require.Equal(t, Idle, p.StateOf(idx))

	p.Tick(base.Add(20 * time.Millisecond))
	require.Equal(t, Free, p.StateOf(idx))
	require.Equal(t, []int{idx}, reaped)
}

func TestReapIdleFallsBackWhenNoFree(t *testing.T) {
	p := New(1, DefaultConfig(), nil)
	idx := p.AcquireOldest(Free, Idle)
	require.Equal(t, NoIndex, p.AcquireOldest(Free, Idle))

	var expiredFrom State = -1
	p.onExpire = func(index int, from State, expired bool) {
		expiredFrom = from
		require.False(t, expired)
	}

	reused := p.ReapIdle(ReqLine)
	require.Equal(t, idx, reused)
	require.Equal(t, ReqLine, p.StateOf(idx))
	require.Equal(t, Idle, expiredFrom)
}

func TestReapIdleReturnsNoIndexWhenFull(t *testing.T) {
	p := New(1, DefaultConfig(), nil)
	p.AcquireOldest(Free, ReqLine)
	require.Equal(t, NoIndex, p.ReapIdle(ReqLine))
}
