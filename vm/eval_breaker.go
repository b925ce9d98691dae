package vm

import "sync/atomic"

// evalBreaker is the interrupt flag checked at every safe point. It is the
// OR of its conditions, kept in one word so the fast path is a single load.
//
// Signalling sets the condition and then the flag. Unsignalling clears the
// condition and recomputes the flag, re-reading the conditions after the
// store so a concurrent signal is never lost.
//
// Every word is read and written from several goroutines, so all accesses
// are sequentially consistent atomics.
type evalBreaker struct {
	flag atomic.Uint32

	dropRequest atomic.Uint32
	callsToDo   atomic.Uint32
	asyncExc    atomic.Uint32 // thread states holding an undelivered exception
}

func (b *evalBreaker) isSet() bool {
	return b.flag.Load() != 0
}

func (b *evalBreaker) wanted() uint32 {
	if b.dropRequest.Load() != 0 || b.callsToDo.Load() != 0 || b.asyncExc.Load() != 0 {
		return 1
	}
	return 0
}

func (b *evalBreaker) recompute() {
	for {
		want := b.wanted()
		b.flag.Store(want)
		if b.wanted() == want {
			return
		}
	}
}

func (b *evalBreaker) dropRequested() bool {
	return b.dropRequest.Load() != 0
}

func (b *evalBreaker) signalDropRequest() {
	b.dropRequest.Store(1)
	b.flag.Store(1)
}

func (b *evalBreaker) resetDropRequest() {
	b.dropRequest.Store(0)
	b.recompute()
}

func (b *evalBreaker) pendingCallsToDo() bool {
	return b.callsToDo.Load() != 0
}

func (b *evalBreaker) signalPendingCalls() {
	b.callsToDo.Store(1)
	b.flag.Store(1)
}

func (b *evalBreaker) unsignalPendingCalls() {
	b.callsToDo.Store(0)
	b.recompute()
}

func (b *evalBreaker) signalAsyncExc() {
	b.asyncExc.Add(1)
	b.flag.Store(1)
}

func (b *evalBreaker) unsignalAsyncExc() {
	b.asyncExc.Add(^uint32(0))
	b.recompute()
}
