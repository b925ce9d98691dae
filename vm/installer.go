package vm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"runtime"

	"github.com/chazu/framehook/pkg/bytecode"
)

// Exported names an extension module provides.
const (
	EvalFrameSymbol = "EvalFrame"
	InitSymbol      = "JitInit"
)

// Module is a loaded extension module.
type Module interface {
	// Lookup returns the exported symbol with the given name.
	Lookup(name string) (any, error)
}

// Loader locates extension modules by name. Load returns an error wrapping
// ErrModuleNotFound when no such module exists.
type Loader interface {
	Load(name string) (Module, error)
}

// PluginLoader loads extension modules built with -buildmode=plugin from a
// list of directories.
type PluginLoader struct {
	SearchPath []string
}

// Load opens the first "<name>.so" found on the search path. A name that
// already has an extension is used as is.
func (l *PluginLoader) Load(name string) (Module, error) {
	if runtime.GOOS == "windows" {
		return nil, fmt.Errorf("%w: plugins are not supported on %s", ErrModuleNotFound, runtime.GOOS)
	}

	file := name
	if filepath.Ext(file) == "" {
		file += ".so"
	}

	for _, dir := range l.SearchPath {
		path := filepath.Join(dir, file)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		p, err := plugin.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", path, err)
		}
		log.Debugf("opened extension module %s", path)
		return pluginModule{p}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, file)
}

type pluginModule struct {
	p *plugin.Plugin
}

func (m pluginModule) Lookup(name string) (any, error) {
	sym, err := m.p.Lookup(name)
	if err != nil {
		return nil, err
	}
	return sym, nil
}

// InstallExtension loads the named module and, if it exports EvalFrame,
// installs it as the interpreter's evaluator and then calls the module's
// JitInit, if any, exactly once. It must run before the interpreter creates
// its first thread state, and fails with ErrExtensionInstalled once an
// extension is in place.
//
// A missing module, or one without a usable EvalFrame, leaves the default
// evaluator in place and reports false with a nil error. JitInit is not
// called in that case.
//
// EvalFrame may be exported as a function with the Evaluator method's
// signature, or as a variable holding an Evaluator. JitInit must be a
// func().
func (i *Interpreter) InstallExtension(loader Loader, name string) (bool, error) {
	i.mu.Lock()
	frozen, installed := i.frozen, i.extension
	i.mu.Unlock()
	if frozen {
		return false, ErrEvaluatorFrozen
	}
	if installed != "" {
		return false, fmt.Errorf("%w: %q", ErrExtensionInstalled, installed)
	}

	mod, err := loader.Load(name)
	if errors.Is(err, ErrModuleNotFound) {
		log.Debugf("no extension module %q; using the default evaluator", name)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load extension %q: %w", name, err)
	}

	sym, err := mod.Lookup(EvalFrameSymbol)
	if err != nil {
		log.Infof("extension module %q has no %s; using the default evaluator", name, EvalFrameSymbol)
		return false, nil
	}
	eval, ok := asEvaluator(sym)
	if !ok {
		log.Warningf("extension module %q: %s has type %T, want func(*ThreadState, *Frame, bool) (string, error)",
			name, EvalFrameSymbol, sym)
		return false, nil
	}

	if err := i.SetEvaluator(eval); err != nil {
		return false, err
	}
	i.mu.Lock()
	i.extension = name
	i.mu.Unlock()
	log.Infof("installed evaluator from extension module %q", name)

	if sym, err := mod.Lookup(InitSymbol); err == nil {
		if initFn, ok := sym.(func()); ok && initFn != nil {
			initFn()
		} else {
			log.Warningf("extension module %q: %s has type %T, want func()", name, InitSymbol, sym)
		}
	}
	return true, nil
}

func asEvaluator(sym any) (Evaluator, bool) {
	switch v := sym.(type) {
	case func(*ThreadState, *bytecode.Frame, bool) (string, error):
		if v == nil {
			return nil, false
		}
		return EvaluatorFunc(v), true
	case EvaluatorFunc:
		if v == nil {
			return nil, false
		}
		return v, true
	case *Evaluator:
		if v == nil || *v == nil {
			return nil, false
		}
		return *v, true
	case Evaluator:
		return v, v != nil
	}
	return nil, false
}
