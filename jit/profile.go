package jit

import "sync/atomic"

// Tier states of a CodeProfile.
const (
	tierCold uint32 = iota
	tierQueued
	tierCompiled
	tierUnsupported
	tierReleased
)

// CodeProfile holds profiling data for a single chunk. It lives in the
// chunk's extra slot under the evaluator's key.
type CodeProfile struct {
	name string

	invocations  atomic.Uint64
	compiledRuns atomic.Uint64
	tier         atomic.Uint32
	code         atomic.Pointer[Code]
	reason       atomic.Pointer[string] // why the chunk could not be compiled
}

func newCodeProfile(name string) *CodeProfile {
	return &CodeProfile{name: name}
}

// Name returns the chunk name the profile was created for.
func (p *CodeProfile) Name() string { return p.name }

// Invocations returns the number of frames evaluated for the chunk.
func (p *CodeProfile) Invocations() uint64 { return p.invocations.Load() }

// Compiled returns the compiled code, or nil.
func (p *CodeProfile) Compiled() *Code { return p.code.Load() }

// Release implements bytecode.Releaser. It runs when the chunk's slot is
// overwritten or the chunk is closed; the compiled code is dropped.
func (p *CodeProfile) Release() {
	p.tier.Store(tierReleased)
	p.code.Store(nil)
	log.Debugf("released profile for %s", p.name)
}

func (p *CodeProfile) released() bool {
	return p.tier.Load() == tierReleased
}

// install publishes the result of compiling the chunk. It reports false if
// the profile was released in the meantime.
func (p *CodeProfile) install(code *Code, err error) bool {
	if p.released() {
		return false
	}
	if err != nil {
		msg := err.Error()
		p.reason.Store(&msg)
		p.tier.Store(tierUnsupported)
		return true
	}
	p.code.Store(code)
	p.tier.Store(tierCompiled)
	return true
}

// stats returns the profile as a CodeStats record.
func (p *CodeProfile) stats() CodeStats {
	s := CodeStats{
		Name:         p.name,
		Invocations:  p.invocations.Load(),
		CompiledRuns: p.compiledRuns.Load(),
	}
	switch p.tier.Load() {
	case tierQueued:
		s.Tier = "queued"
	case tierCompiled:
		s.Tier = "compiled"
		// Release may drop the code after the tier was read.
		if code := p.code.Load(); code != nil {
			s.Instructions = code.Len()
		}
	case tierUnsupported:
		s.Tier = "unsupported"
		if r := p.reason.Load(); r != nil {
			s.Reason = *r
		}
	case tierReleased:
		s.Tier = "released"
	default:
		s.Tier = "cold"
	}
	return s
}
