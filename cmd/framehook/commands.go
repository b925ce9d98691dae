package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/chazu/framehook/pkg/bytecode"
)

// ChunkExt is the file extension of serialized chunks.
const ChunkExt = ".fhbc"

// handleRunCommand processes the `framehook run` subcommand.
// Usage:
//
//	framehook run [options] file.fhbc... [-- args...]
func handleRunCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var opts runOptions
	opts.register(fs)
	entry := fs.String("entry", "", "Chunk to run (default: the first file's chunk)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: framehook run [options] file.fhbc... [-- args...]\n\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	files, callArgs := splitArgs(fs.Args())
	if len(files) == 0 {
		fs.Usage()
		return errors.New("no chunk files given")
	}
	chunks, err := loadChunks(files)
	if err != nil {
		return err
	}
	if *entry == "" {
		*entry = chunks[0].Name
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return runChunks(ctx, &opts, chunks, *entry, callArgs)
}

// handleDisasmCommand processes the `framehook disasm` subcommand.
func handleDisasmCommand(args []string) error {
	fs := flag.NewFlagSet("disasm", flag.ExitOnError)
	verify := fs.Bool("verify", false, "Check that every instruction decodes and every jump lands on an instruction")
	fs.Parse(args)

	if fs.NArg() == 0 {
		return errors.New("no chunk files given")
	}
	chunks, err := loadChunks(fs.Args())
	if err != nil {
		return err
	}
	for _, c := range chunks {
		if *verify {
			if err := c.Verify(); err != nil {
				return fmt.Errorf("%s: %w", c.Name, err)
			}
		}
		fmt.Print(c.Disassemble())
	}
	return nil
}

// handleDemoCommand processes the `framehook demo` subcommand.
// Usage:
//
//	framehook demo [options]            # run main(n)
//	framehook demo -write dir           # write main.fhbc and sum.fhbc
func handleDemoCommand(args []string) error {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	var opts runOptions
	opts.register(fs)
	n := fs.String("n", "10000", "Argument passed to main")
	write := fs.String("write", "", "Write the demo chunks to this directory instead of running them")
	fs.Parse(args)

	chunks := demoChunks()
	if *write != "" {
		return writeChunks(*write, chunks)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return runChunks(ctx, &opts, chunks, "main", []string{*n})
}

// splitArgs separates chunk files from the arguments following "--".
func splitArgs(args []string) (files, rest []string) {
	for i, a := range args {
		if a == "--" {
			return args[:i], args[i+1:]
		}
	}
	return args, nil
}

// loadChunks deserializes each file. Chunk names must be unique.
func loadChunks(paths []string) ([]*bytecode.Chunk, error) {
	seen := make(map[string]string)
	chunks := make([]*bytecode.Chunk, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		c, err := bytecode.Deserialize(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if prev, ok := seen[c.Name]; ok {
			return nil, fmt.Errorf("%s: chunk %q already loaded from %s", path, c.Name, prev)
		}
		seen[c.Name] = path
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// writeChunks serializes each chunk to dir/<name>.fhbc.
func writeChunks(dir string, chunks []*bytecode.Chunk) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for _, c := range chunks {
		data, err := c.Serialize()
		if err != nil {
			return fmt.Errorf("%s: %w", c.Name, err)
		}
		path := filepath.Join(dir, c.Name+ChunkExt)
		if err := os.WriteFile(path, data, 0644); err != nil {
			return err
		}
		fmt.Println(path)
	}
	return nil
}

// demoChunks builds main(n), which returns sum(n) computed by a loop.
func demoChunks() []*bytecode.Chunk {
	sum := bytecode.NewChunk("sum")
	sum.ParamCount = 1
	sum.ParamNames = []string{"n"}
	sum.EmitWithOperand(bytecode.OpLoadParam, 0)
	sum.EmitLocal(bytecode.OpStoreLocal, 0)
	sum.Emit(bytecode.OpConstZero)
	sum.EmitLocal(bytecode.OpStoreLocal, 1)
	loop := sum.CurrentOffset()
	sum.EmitLocal(bytecode.OpLoadLocal, 0)
	sum.Emit(bytecode.OpConstZero)
	sum.Emit(bytecode.OpGt)
	exit := sum.EmitJump(bytecode.OpJumpFalse)
	sum.EmitLocal(bytecode.OpLoadLocal, 1)
	sum.EmitLocal(bytecode.OpLoadLocal, 0)
	sum.Emit(bytecode.OpAdd)
	sum.EmitLocal(bytecode.OpStoreLocal, 1)
	sum.EmitLocal(bytecode.OpLoadLocal, 0)
	sum.Emit(bytecode.OpConstOne)
	sum.Emit(bytecode.OpSub)
	sum.EmitLocal(bytecode.OpStoreLocal, 0)
	sum.EmitLoop(loop)
	sum.PatchJump(exit)
	sum.EmitLocal(bytecode.OpLoadLocal, 1)
	sum.Emit(bytecode.OpReturn)

	entry := bytecode.NewChunk("main")
	entry.ParamCount = 1
	entry.ParamNames = []string{"n"}
	entry.EmitWithOperand(bytecode.OpLoadParam, 0)
	entry.EmitCall("sum", 1)
	entry.Emit(bytecode.OpReturn)

	return []*bytecode.Chunk{entry, sum}
}
