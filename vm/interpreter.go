package vm

import (
	"sort"
	"sync"

	"github.com/chazu/framehook/pkg/bytecode"
)

// Interpreter owns the installed evaluator and the table of code units that
// OpCall resolves against. Its evaluator may change only until the first
// thread state is created; after that it is read without synchronization.
type Interpreter struct {
	rt *Runtime
	id uint32

	mu        sync.Mutex
	evaluator Evaluator // never nil
	frozen    bool
	extension string
	threads   []*ThreadState

	codeMu sync.RWMutex
	code   map[string]*bytecode.Chunk
}

// ID returns the interpreter's identifier within its runtime.
func (i *Interpreter) ID() uint32 { return i.id }

// Runtime returns the runtime the interpreter belongs to.
func (i *Interpreter) Runtime() *Runtime { return i.rt }

// Evaluator returns the installed evaluator.
func (i *Interpreter) Evaluator() Evaluator {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.evaluator
}

// SetEvaluator installs e for all future evaluation on this interpreter.
// A nil e restores DefaultEvaluator. It fails with ErrEvaluatorFrozen once
// a thread state exists.
func (i *Interpreter) SetEvaluator(e Evaluator) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.frozen {
		return ErrEvaluatorFrozen
	}
	if e == nil {
		e = DefaultEvaluator{}
	}
	i.evaluator = e
	return nil
}

// Extension returns the name of the installed extension module, or "".
func (i *Interpreter) Extension() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.extension
}

// EvalFrameDefault runs f with the built-in evaluation loop. Replacement
// evaluators delegate to it for frames they do not handle.
func (i *Interpreter) EvalFrameDefault(ts *ThreadState, f *bytecode.Frame, throwflag bool) (string, error) {
	return bytecode.Run(f, throwflag, ts)
}

// Register adds chunk to the code table under its name, replacing any
// earlier chunk with that name. The replaced chunk is closed.
func (i *Interpreter) Register(chunk *bytecode.Chunk) {
	i.codeMu.Lock()
	prev := i.code[chunk.Name]
	i.code[chunk.Name] = chunk
	i.codeMu.Unlock()
	if prev != nil && prev != chunk {
		prev.Close()
	}
}

// Lookup returns the chunk registered under name.
func (i *Interpreter) Lookup(name string) (*bytecode.Chunk, bool) {
	i.codeMu.RLock()
	defer i.codeMu.RUnlock()
	c, ok := i.code[name]
	return c, ok
}

// Chunks returns the registered chunks sorted by name.
func (i *Interpreter) Chunks() []*bytecode.Chunk {
	i.codeMu.RLock()
	chunks := make([]*bytecode.Chunk, 0, len(i.code))
	for _, c := range i.code {
		chunks = append(chunks, c)
	}
	i.codeMu.RUnlock()
	sort.Slice(chunks, func(a, b int) bool { return chunks[a].Name < chunks[b].Name })
	return chunks
}

// NewThreadState attaches a new thread state to the interpreter. The first
// thread state created on the runtime becomes its main thread. Creating a
// thread state freezes the interpreter's evaluator.
//
// The returned thread state does not hold the global lock; call Acquire.
func (i *Interpreter) NewThreadState() *ThreadState {
	ts := &ThreadState{
		interp: i,
		rt:     i.rt,
		id:     i.rt.nextThreadID.Add(1),
		limit:  i.rt.cfg.Runtime.RecursionLimit,
	}

	i.mu.Lock()
	if !i.frozen {
		i.frozen = true
		log.Debugf("interpreter %d: evaluator %T frozen", i.id, i.evaluator)
	}
	i.threads = append(i.threads, ts)
	i.mu.Unlock()

	i.rt.mainThread.CompareAndSwap(nil, ts)
	return ts
}

// ThreadStates returns the attached thread states.
func (i *Interpreter) ThreadStates() []*ThreadState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]*ThreadState(nil), i.threads...)
}

func (i *Interpreter) detach(ts *ThreadState) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for n, t := range i.threads {
		if t == ts {
			i.threads = append(i.threads[:n], i.threads[n+1:]...)
			return
		}
	}
}

// SetAsyncExc posts err to the thread state with the given id and returns
// the number of thread states modified (0 or 1). A nil err clears a
// posted exception.
func (i *Interpreter) SetAsyncExc(id uint32, err error) int {
	for _, ts := range i.ThreadStates() {
		if ts.id == id {
			ts.SetAsyncExc(err)
			return 1
		}
	}
	return 0
}

// Close releases the extra data of every registered chunk.
func (i *Interpreter) Close() {
	for _, c := range i.Chunks() {
		c.Close()
	}
}
