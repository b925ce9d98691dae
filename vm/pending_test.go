package vm

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func TestPendingCallsFIFOStopAtFirstFailure(t *testing.T) {
	interp := newTestInterp(t, nil)
	ts := attach(t, interp)
	rt := interp.Runtime()

	var ran []int
	failure := errors.New("call 3 failed")
	for i := 1; i <= 5; i++ {
		i := i
		err := rt.AddPendingCall(func() error {
			ran = append(ran, i)
			if i == 3 {
				return failure
			}
			return nil
		})
		if err != nil {
			t.Fatalf("AddPendingCall(%d) error: %v", i, err)
		}
	}

	if err := ts.PeriodicWork(); !errors.Is(err, failure) {
		t.Fatalf("PeriodicWork() = %v, want %v", err, failure)
	}
	if want := []int{1, 2, 3}; !reflect.DeepEqual(ran, want) {
		t.Fatalf("ran = %v, want %v", ran, want)
	}
	if rt.PendingCalls() != 2 {
		t.Errorf("PendingCalls() = %d, want 2", rt.PendingCalls())
	}
	if !rt.breaker.isSet() {
		t.Error("interrupt flag cleared with calls still queued")
	}

	// The rest run at the next safe point.
	if err := ts.PeriodicWork(); err != nil {
		t.Fatalf("second PeriodicWork() = %v", err)
	}
	if want := []int{1, 2, 3, 4, 5}; !reflect.DeepEqual(ran, want) {
		t.Errorf("ran = %v, want %v", ran, want)
	}
	if rt.breaker.isSet() {
		t.Error("interrupt flag still set after the queue drained")
	}
}

func TestPendingCallFailureFailsEvaluation(t *testing.T) {
	interp := newTestInterp(t, nil, countdownChunk("loop", "1000"))
	ts := attach(t, interp)

	failure := errors.New("signal handler failed")
	if err := interp.Runtime().AddPendingCall(func() error { return failure }); err != nil {
		t.Fatalf("AddPendingCall error: %v", err)
	}

	if _, err := ts.Run("loop"); !errors.Is(err, failure) {
		t.Errorf("Run() = %v, want %v", err, failure)
	}
	if got, err := ts.Run("loop"); err != nil || got != "0" {
		t.Errorf("second Run() = (%q, %v), want (0, nil)", got, err)
	}
}

func TestPendingCallsCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.Runtime.PendingCalls = 4
	rt := NewRuntime(cfg)

	for i := 0; i < 4; i++ {
		if err := rt.AddPendingCall(func() error { return nil }); err != nil {
			t.Fatalf("AddPendingCall(%d) error: %v", i, err)
		}
	}
	if err := rt.AddPendingCall(func() error { return nil }); !errors.Is(err, ErrPendingCallsFull) {
		t.Errorf("AddPendingCall on full queue = %v, want ErrPendingCallsFull", err)
	}
	if err := rt.AddPendingCall(nil); err == nil {
		t.Error("AddPendingCall(nil) succeeded")
	}
}

func TestAddPendingCallWaitCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.Runtime.PendingCalls = 1
	rt := NewRuntime(cfg)

	if err := rt.AddPendingCall(func() error { return nil }); err != nil {
		t.Fatalf("AddPendingCall error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := rt.AddPendingCallWait(ctx, func() error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("AddPendingCallWait = %v, want DeadlineExceeded", err)
	}
}

func TestAddPendingCallWaitQueuesAfterDrain(t *testing.T) {
	cfg := testConfig()
	cfg.Runtime.PendingCalls = 1
	interp := newTestInterp(t, cfg)
	rt := interp.Runtime()
	ts := attach(t, interp)

	var ran []string
	if err := rt.AddPendingCall(func() error { ran = append(ran, "first"); return nil }); err != nil {
		t.Fatalf("AddPendingCall error: %v", err)
	}

	var g errgroup.Group
	g.Go(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return rt.AddPendingCallWait(ctx, func() error { ran = append(ran, "second"); return nil })
	})

	if err := ts.MakePendingCalls(); err != nil {
		t.Fatalf("MakePendingCalls error: %v", err)
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("AddPendingCallWait error: %v", err)
	}
	if err := ts.MakePendingCalls(); err != nil {
		t.Fatalf("MakePendingCalls error: %v", err)
	}

	if want := []string{"first", "second"}; !reflect.DeepEqual(ran, want) {
		t.Errorf("ran = %v, want %v", ran, want)
	}
}

func TestPendingCallsOnlyOnMainThread(t *testing.T) {
	interp := newTestInterp(t, nil)
	rt := interp.Runtime()
	main := interp.NewThreadState()
	other := interp.NewThreadState()

	if rt.MainThread() != main {
		t.Fatalf("MainThread() = %v, want the first thread state", rt.MainThread())
	}

	ran := 0
	if err := rt.AddPendingCall(func() error { ran++; return nil }); err != nil {
		t.Fatalf("AddPendingCall error: %v", err)
	}

	other.Acquire()
	if err := other.PeriodicWork(); err != nil {
		t.Errorf("other.PeriodicWork() = %v", err)
	}
	other.Release()
	if ran != 0 {
		t.Fatalf("pending call ran on a non-main thread")
	}

	main.Acquire()
	if err := main.PeriodicWork(); err != nil {
		t.Errorf("main.PeriodicWork() = %v", err)
	}
	main.Release()
	if ran != 1 {
		t.Errorf("ran = %d, want 1", ran)
	}
}

func TestMakePendingCallsNotReentrant(t *testing.T) {
	interp := newTestInterp(t, nil)
	rt := interp.Runtime()
	ts := attach(t, interp)

	var trace []string
	add := func(name string, fn func() error) {
		t.Helper()
		if err := rt.AddPendingCall(fn); err != nil {
			t.Fatalf("AddPendingCall(%s) error: %v", name, err)
		}
	}
	add("outer", func() error {
		trace = append(trace, "outer")
		if err := ts.MakePendingCalls(); err != nil {
			return fmt.Errorf("nested: %w", err)
		}
		trace = append(trace, "outer-done")
		return nil
	})
	add("next", func() error {
		trace = append(trace, "next")
		return nil
	})

	if err := ts.MakePendingCalls(); err != nil {
		t.Fatalf("MakePendingCalls error: %v", err)
	}
	if want := []string{"outer", "outer-done", "next"}; !reflect.DeepEqual(trace, want) {
		t.Errorf("trace = %v, want %v", trace, want)
	}
}

func TestAddPendingCallConcurrentProducers(t *testing.T) {
	cfg := testConfig()
	cfg.Runtime.PendingCalls = 64
	interp := newTestInterp(t, cfg)
	rt := interp.Runtime()
	ts := attach(t, interp)

	const producers, perProducer = 4, 16
	ran := 0
	var g errgroup.Group
	for p := 0; p < producers; p++ {
		g.Go(func() error {
			for i := 0; i < perProducer; i++ {
				if err := rt.AddPendingCall(func() error { ran++; return nil }); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("producer error: %v", err)
	}

	if err := ts.PeriodicWork(); err != nil {
		t.Fatalf("PeriodicWork error: %v", err)
	}
	if ran != producers*perProducer {
		t.Errorf("ran = %d, want %d", ran, producers*perProducer)
	}
}

// Run under -race: the call reads what its producer wrote before queueing
// it, and the flag is written and polled from different goroutines.
func TestPendingCallSeesProducerWrites(t *testing.T) {
	cfg := testConfig()
	cfg.Runtime.PendingCalls = 64
	interp := newTestInterp(t, cfg)
	rt := interp.Runtime()
	ts := attach(t, interp)

	type payload struct{ values []int }
	sum := 0
	var g errgroup.Group
	for p := 0; p < 4; p++ {
		g.Go(func() error {
			for i := 0; i < 8; i++ {
				data := &payload{values: []int{p, i, 1}}
				if err := rt.AddPendingCallWait(context.Background(), func() error {
					sum += data.values[2]
					return nil
				}); err != nil {
					return err
				}
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	for finished := false; !finished; {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("producer error: %v", err)
			}
			finished = true
		default:
		}
		if rt.breaker.isSet() {
			if err := ts.PeriodicWork(); err != nil {
				t.Fatalf("PeriodicWork error: %v", err)
			}
		}
	}
	if err := ts.MakePendingCalls(); err != nil {
		t.Fatal(err)
	}
	if sum != 32 {
		t.Errorf("sum = %d, want 32", sum)
	}
}
