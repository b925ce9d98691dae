// framehook CLI - runs bytecode chunks with a pluggable frame evaluator
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/framehook/vm"
)

var log = commonlog.GetLogger("framehook")

func main() {
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "run":
		err = handleRunCommand(args[1:])
	case "disasm":
		err = handleDisasmCommand(args[1:])
	case "demo":
		err = handleDemoCommand(args[1:])
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: framehook <command> [options] [args...]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  run      Run chunks from .fhbc files\n")
	fmt.Fprintf(os.Stderr, "  disasm   Disassemble .fhbc files\n")
	fmt.Fprintf(os.Stderr, "  demo     Run (or write) a built-in loop program\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  framehook run main.fhbc sum.fhbc -- 100      # Run main with argument 100\n")
	fmt.Fprintf(os.Stderr, "  framehook run -jit -profile out.yaml *.fhbc  # Tiering evaluator with a report\n")
	fmt.Fprintf(os.Stderr, "  framehook run -trace trace.js main.fhbc      # Trace frames with a script\n")
	fmt.Fprintf(os.Stderr, "  framehook demo -threads 4 -jit               # Four threads sharing the lock\n")
	fmt.Fprintf(os.Stderr, "  framehook demo -write ./chunks               # Write the demo as .fhbc files\n")
	fmt.Fprintf(os.Stderr, "\nRun 'framehook <command> -h' for command options.\n")
}

// loadConfig reads the file at path, or finds framehook.toml by walking up
// from the working directory when path is empty.
func loadConfig(path string) (*vm.Config, error) {
	if path == "" {
		return vm.FindConfig(".")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	cfg, err := vm.ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if cfg.Dir, err = filepath.Abs(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return cfg, nil
}

// configureLogging applies the [log] section. A -v count above the
// configured verbosity wins.
func configureLogging(cfg *vm.Config, verbose int) {
	verbosity := cfg.Log.Verbosity
	if verbose > verbosity {
		verbosity = verbose
	}
	var path *string
	if cfg.Log.File != "" {
		file := cfg.Log.File
		if !filepath.IsAbs(file) && cfg.Dir != "" {
			file = filepath.Join(cfg.Dir, file)
		}
		path = &file
	}
	commonlog.Configure(verbosity, path)
}
