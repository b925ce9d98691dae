package jit

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/chazu/framehook/pkg/bytecode"
	"github.com/chazu/framehook/vm"
)

// DefaultHotThreshold is used when Options.HotThreshold is zero.
const DefaultHotThreshold = vm.DefaultHotThreshold

// Options configures an Evaluator.
type Options struct {
	// HotThreshold is the number of invocations after which a chunk is
	// compiled.
	HotThreshold uint64

	// Background compiles hot chunks on a separate goroutine. Results are
	// published through the runtime's pending-call queue, so they take
	// effect at a safe point of the main thread.
	Background bool
}

// OptionsFromConfig returns the options in the [jit] section of cfg.
func OptionsFromConfig(cfg *vm.Config) Options {
	return Options{
		HotThreshold: cfg.JIT.HotThreshold,
		Background:   cfg.JIT.Background,
	}
}

// Evaluator is a tiering frame evaluator. It counts invocations of every
// chunk in a CodeProfile kept in the chunk's extra slot, and once a chunk
// is hot runs it from compiled code. Frames it cannot run compiled are
// handed to the interpreter's default evaluator.
type Evaluator struct {
	key       *bytecode.ExtraKey
	threshold uint64

	mu       sync.Mutex
	profiles []*CodeProfile
	warm     map[string]bool

	compiled     atomic.Uint64
	unsupported  atomic.Uint64
	fallbacks    atomic.Uint64
	foreignSlots atomic.Uint64

	background bool
	requests   chan compileRequest
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	closeOnce  sync.Once
}

// New creates an evaluator. Call Close when done with it if
// opts.Background is set.
func New(opts Options) *Evaluator {
	if opts.HotThreshold == 0 {
		opts.HotThreshold = DefaultHotThreshold
	}
	e := &Evaluator{
		key:        bytecode.NewExtraKey("framehook.jit"),
		threshold:  opts.HotThreshold,
		warm:       make(map[string]bool),
		background: opts.Background,
		done:       make(chan struct{}),
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	if e.background {
		e.requests = make(chan compileRequest, 64)
		go e.compileLoop()
	} else {
		close(e.done)
	}
	return e
}

// Key returns the extra-slot key the evaluator stores profiles under.
func (e *Evaluator) Key() *bytecode.ExtraKey { return e.key }

// Threshold returns the hot threshold.
func (e *Evaluator) Threshold() uint64 { return e.threshold }

// EvalFrame implements vm.Evaluator.
func (e *Evaluator) EvalFrame(ts *vm.ThreadState, f *bytecode.Frame, throwflag bool) (string, error) {
	// Resumed frames carry state only the default loop understands.
	if throwflag || f.State() != bytecode.FrameCreated {
		e.fallbacks.Add(1)
		return ts.Interpreter().EvalFrameDefault(ts, f, throwflag)
	}

	p := e.profile(f.Chunk)
	if p == nil {
		e.fallbacks.Add(1)
		return ts.Interpreter().EvalFrameDefault(ts, f, throwflag)
	}

	n := p.invocations.Add(1)
	if p.tier.Load() == tierCold && (n >= e.threshold || e.isWarm(p.name)) {
		e.tierUp(ts, f.Chunk, p)
	}

	if code := p.code.Load(); code != nil {
		p.compiledRuns.Add(1)
		return code.Run(ts, f)
	}
	e.fallbacks.Add(1)
	return ts.Interpreter().EvalFrameDefault(ts, f, throwflag)
}

// profile returns the chunk's profile, creating it if the slot is empty.
// It returns nil when another consumer owns the slot.
func (e *Evaluator) profile(chunk *bytecode.Chunk) *CodeProfile {
	if v, ok := chunk.ExtraFor(e.key); ok {
		return v.(*CodeProfile)
	}
	if key, _ := chunk.Extra(); key != nil {
		if e.foreignSlots.Add(1) == 1 {
			log.Infof("chunk %s: extra slot owned by %s, not profiling", chunk.Name, key)
		}
		return nil
	}

	p := newCodeProfile(chunk.Name)
	chunk.SetExtra(e.key, p)
	e.mu.Lock()
	e.profiles = append(e.profiles, p)
	e.mu.Unlock()
	return p
}

func (e *Evaluator) isWarm(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.warm[name]
}

// Warm marks the named chunks to be compiled on their first invocation,
// typically from a snapshot of an earlier run.
func (e *Evaluator) Warm(names ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, name := range names {
		e.warm[name] = true
	}
}

// tierUp compiles chunk now, or queues it for the background compiler.
func (e *Evaluator) tierUp(ts *vm.ThreadState, chunk *bytecode.Chunk, p *CodeProfile) {
	if !e.background {
		e.publish(chunk, p, compileWithLog(chunk))
		return
	}

	p.tier.Store(tierQueued)
	req := compileRequest{chunk: chunk, profile: p, rt: ts.Interpreter().Runtime()}
	select {
	case e.requests <- req:
		log.Debugf("queued %s for compilation", chunk.Name)
	default:
		// Try again on a later invocation.
		p.tier.Store(tierCold)
	}
}

// publish installs a compile result. Callers hold the global lock.
func (e *Evaluator) publish(chunk *bytecode.Chunk, p *CodeProfile, res compileResult) {
	if v, ok := chunk.ExtraFor(e.key); !ok || v != p {
		log.Debugf("dropping compiled %s: chunk was replaced", p.name)
		return
	}
	if !p.install(res.code, res.err) {
		return
	}
	if res.err != nil {
		e.unsupported.Add(1)
		return
	}
	e.compiled.Add(1)
}

// Stats holds aggregate evaluator statistics.
type Stats struct {
	Profiled     int    `yaml:"profiled"`      // chunks with a profile
	Compiled     uint64 `yaml:"compiled"`      // chunks compiled
	Unsupported  uint64 `yaml:"unsupported"`   // chunks that could not be compiled
	Fallbacks    uint64 `yaml:"fallbacks"`     // frames run by the default evaluator
	CompiledRuns uint64 `yaml:"compiled-runs"` // frames run from compiled code
	ForeignSlots uint64 `yaml:"foreign-slots"` // invocations of chunks whose slot another consumer owns
}

// Stats returns aggregate statistics.
func (e *Evaluator) Stats() Stats {
	e.mu.Lock()
	profiles := append([]*CodeProfile(nil), e.profiles...)
	e.mu.Unlock()

	s := Stats{
		Profiled:     len(profiles),
		Compiled:     e.compiled.Load(),
		Unsupported:  e.unsupported.Load(),
		Fallbacks:    e.fallbacks.Load(),
		ForeignSlots: e.foreignSlots.Load(),
	}
	for _, p := range profiles {
		s.CompiledRuns += p.compiledRuns.Load()
	}
	return s
}

// Snapshot returns per-chunk statistics sorted by name.
func (e *Evaluator) Snapshot() *ProfileSnapshot {
	e.mu.Lock()
	profiles := append([]*CodeProfile(nil), e.profiles...)
	e.mu.Unlock()

	snap := &ProfileSnapshot{
		Version:   SnapshotVersion,
		Threshold: e.threshold,
		Units:     make([]CodeStats, 0, len(profiles)),
	}
	for _, p := range profiles {
		snap.Units = append(snap.Units, p.stats())
	}
	sort.Slice(snap.Units, func(a, b int) bool { return snap.Units[a].Name < snap.Units[b].Name })
	return snap
}

// Close stops the background compiler. Results not yet published are
// dropped.
func (e *Evaluator) Close() {
	e.closeOnce.Do(func() {
		e.cancel()
		<-e.done
	})
}
