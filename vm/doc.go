// Package vm implements the framehook runtime: a pluggable frame evaluator
// and the cooperative interrupt protocol every evaluator follows.
//
// This package contains:
//   - Runtime: the global execution lock, the interrupt flag and the
//     pending-call queue
//   - Interpreter: the installed Evaluator and the code table
//   - ThreadState: the evaluation trampoline and the PeriodicWork safe point
//   - the extension installer, which loads an evaluator from a Go plugin
//   - Worker: a thread state served by its own locked OS thread
//
// A typical embedding:
//
//	rt := vm.NewRuntime(cfg)
//	interp := rt.NewInterpreter()
//	interp.InstallExtension(&vm.PluginLoader{SearchPath: cfg.SearchPaths()}, cfg.Extension.Name)
//	interp.Register(chunk)
//
//	ts := interp.NewThreadState()
//	ts.Acquire()
//	result, err := ts.Run("main")
//	ts.Release()
package vm
