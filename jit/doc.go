// Package jit provides a tiering frame evaluator for the framehook runtime.
//
// The evaluator keeps a CodeProfile in the extra slot of every chunk it
// sees. When a chunk has been invoked HotThreshold times it is compiled to
// pre-decoded instructions with resolved constants and jump targets, and
// later frames of that chunk run from the compiled form. Chunks with
// exception handlers or suspension points, and resumed frames, always run
// on the default evaluator.
//
// Install it before the first thread state exists:
//
//	jitEval := jit.New(jit.OptionsFromConfig(cfg))
//	defer jitEval.Close()
//	interp.SetEvaluator(jitEval)
//
// Profiles can be saved as CBOR snapshots, collected across runs in a
// SQLite Store, or written as a YAML report.
package jit
