// Package trace provides a frame evaluator that calls out to a JavaScript
// program, run with goja, on entry to and exit from every frame.
//
//	tr, err := trace.New(`
//	    function enter(name, depth) { print(" ".repeat(depth) + name) }
//	`, nil)
//	interp.SetEvaluator(tr)
package trace
