package vm

import (
	"sync"
	"time"
)

// gil is the global execution lock. Exactly one thread state holds it while
// bytecode runs.
//
// A thread that waits longer than the switch interval without seeing the
// lock change hands sets the drop request. The holder notices the request
// at its next safe point and releases. When it releases on request with
// somebody waiting, it blocks until another thread has taken the lock, so
// it cannot take the lock straight back.
type gil struct {
	mu       sync.Mutex
	released *sync.Cond // signalled when the lock is released
	switched *sync.Cond // broadcast when a different thread takes the lock
	locked   bool
	holder   *ThreadState // current or last holder
	switches uint64
	waiters  int
	interval time.Duration
	breaker  *evalBreaker

	dropRequests   uint64
	forcedSwitches uint64
}

// LockStats reports counters of the global execution lock.
type LockStats struct {
	Switches       uint64 // times the lock changed hands
	DropRequests   uint64 // times a waiter asked the holder to release
	ForcedSwitches uint64 // releases that waited for another thread to take over
}

func (g *gil) init(interval time.Duration, breaker *evalBreaker) {
	g.released = sync.NewCond(&g.mu)
	g.switched = sync.NewCond(&g.mu)
	g.interval = interval
	g.breaker = breaker
}

func (g *gil) take(ts *ThreadState) {
	g.mu.Lock()
	g.waiters++
	for g.locked {
		seen := g.switches
		timer := time.AfterFunc(g.interval, func() {
			g.mu.Lock()
			if g.locked && g.switches == seen && !g.breaker.dropRequested() {
				g.dropRequests++
				g.breaker.signalDropRequest()
			}
			g.mu.Unlock()
		})
		g.released.Wait()
		timer.Stop()
	}
	g.waiters--
	g.locked = true
	if g.holder != ts {
		g.holder = ts
		g.switches++
		g.switched.Broadcast()
	}
	if g.breaker.dropRequested() {
		g.breaker.resetDropRequest()
	}
	g.mu.Unlock()
}

func (g *gil) drop(ts *ThreadState) {
	g.mu.Lock()
	if !g.locked {
		g.mu.Unlock()
		fatal("drop: global execution lock is not held")
	}
	g.holder = ts
	g.locked = false
	g.released.Signal()

	if g.breaker.dropRequested() && g.waiters > 0 {
		g.forcedSwitches++
		g.breaker.resetDropRequest()
		for g.holder == ts && g.waiters > 0 {
			g.switched.Wait()
		}
	}
	g.mu.Unlock()
}

func (g *gil) stats() LockStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return LockStats{
		Switches:       g.switches,
		DropRequests:   g.dropRequests,
		ForcedSwitches: g.forcedSwitches,
	}
}
