package vm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
)

// pendingCall is one deferred callback.
type pendingCall struct {
	fn func() error
}

// pendingCalls is the bounded FIFO of deferred callbacks. Producers may be
// any goroutine; the only consumer is the main thread while it holds the
// global lock. Both sides take mu around the ring, so a call and everything
// its producer wrote before queueing it are visible to the consumer.
type pendingCalls struct {
	mu       sync.Mutex
	ring     lfq.SPSC[pendingCall]
	n        atomic.Uint32
	capacity uint32
	breaker  *evalBreaker

	busy bool // guarded by the global lock
}

func (p *pendingCalls) init(capacity int, breaker *evalBreaker) {
	p.capacity = uint32(capacity)
	p.breaker = breaker
	// The ring is sized with headroom; capacity is enforced by n.
	size := 2
	for size < capacity {
		size <<= 1
	}
	p.ring.Init(size * 2)
}

func (p *pendingCalls) add(fn func() error) error {
	if fn == nil {
		return errors.New("pending call is nil")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.n.Load() >= p.capacity {
		return ErrPendingCallsFull
	}
	call := pendingCall{fn: fn}
	if err := p.ring.Enqueue(&call); err != nil {
		if errors.Is(err, iox.ErrWouldBlock) {
			return ErrPendingCallsFull
		}
		return fmt.Errorf("enqueue pending call: %w", err)
	}
	p.n.Add(1)
	p.breaker.signalPendingCalls()
	return nil
}

func (p *pendingCalls) pop() (pendingCall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	call, err := p.ring.Dequeue()
	if err != nil {
		return pendingCall{}, false
	}
	p.n.Add(^uint32(0))
	return call, true
}

// Len returns the number of queued calls.
func (p *pendingCalls) Len() int {
	return int(p.n.Load())
}

// AddPendingCall queues fn to run on the main thread at its next safe
// point. It may be called from any goroutine without holding the global
// lock. Calls run in the order they were added.
//
// Returns ErrPendingCallsFull if the queue is at capacity.
func (r *Runtime) AddPendingCall(fn func() error) error {
	return r.pending.add(fn)
}

// AddPendingCallWait is AddPendingCall that backs off and retries while the
// queue is full, until the call is queued or ctx is done.
func (r *Runtime) AddPendingCallWait(ctx context.Context, fn func() error) error {
	var bo iox.Backoff
	for {
		err := r.pending.add(fn)
		if !errors.Is(err, ErrPendingCallsFull) {
			return err
		}
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		bo.Wait()
	}
}

// PendingCalls returns the number of queued pending calls.
func (r *Runtime) PendingCalls() int {
	return r.pending.Len()
}

// MakePendingCalls runs queued pending calls in FIFO order. It does nothing
// unless ts is the main thread, and nested invocations from inside a
// pending call return immediately.
//
// The first failing call stops the drain and its error is returned. Calls
// queued after it stay queued for a later safe point.
//
// The caller must hold the global lock.
func (ts *ThreadState) MakePendingCalls() error {
	rt := ts.rt
	if rt.mainThread.Load() != ts {
		return nil
	}
	p := &rt.pending
	if p.busy {
		return nil
	}
	p.busy = true
	defer func() { p.busy = false }()

	rt.breaker.unsignalPendingCalls()
	for {
		call, ok := p.pop()
		if !ok {
			return nil
		}
		if err := call.fn(); err != nil {
			if p.n.Load() > 0 {
				rt.breaker.signalPendingCalls()
			}
			return err
		}
	}
}
