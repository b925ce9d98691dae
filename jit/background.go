package jit

import (
	"github.com/chazu/framehook/pkg/bytecode"
	"github.com/chazu/framehook/vm"
)

// compileRequest represents a hot chunk waiting for the background compiler.
type compileRequest struct {
	chunk   *bytecode.Chunk
	profile *CodeProfile
	rt      *vm.Runtime
}

type compileResult struct {
	code *Code
	err  error
}

func compileWithLog(chunk *bytecode.Chunk) compileResult {
	code, err := Compile(chunk)
	if err != nil {
		log.Infof("not compiling %s: %s", chunk.Name, err)
	} else {
		log.Debugf("compiled %s: %d instructions", chunk.Name, code.Len())
	}
	return compileResult{code: code, err: err}
}

// compileLoop processes the compilation queue in the background. Compiling
// reads only the chunk's immutable code; the result is installed by a
// pending call, under the global lock.
func (e *Evaluator) compileLoop() {
	defer close(e.done)
	for {
		select {
		case req := <-e.requests:
			res := compileWithLog(req.chunk)
			err := req.rt.AddPendingCallWait(e.ctx, func() error {
				e.publish(req.chunk, req.profile, res)
				return nil
			})
			if err != nil {
				log.Warningf("dropping compiled %s: %s", req.chunk.Name, err)
				return
			}
		case <-e.ctx.Done():
			return
		}
	}
}
