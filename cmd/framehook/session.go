package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chazu/framehook/jit"
	"github.com/chazu/framehook/pkg/bytecode"
	"github.com/chazu/framehook/trace"
	"github.com/chazu/framehook/vm"
)

// runOptions are the flags shared by run and demo.
type runOptions struct {
	configPath string
	verbose    int
	threads    int
	jit        bool
	trace      string
	profile    string
	warm       string
	run        string
}

func (o *runOptions) register(fs *flag.FlagSet) {
	fs.StringVar(&o.configPath, "config", "", "Configuration file (default: framehook.toml found from the working directory)")
	fs.IntVar(&o.verbose, "v", 0, "Log verbosity (overrides [log] verbosity when higher)")
	fs.IntVar(&o.threads, "threads", 1, "Number of threads evaluating the entry chunk")
	fs.BoolVar(&o.jit, "jit", false, "Use the tiering evaluator instead of an extension module")
	fs.StringVar(&o.trace, "trace", "", "JavaScript file with enter/leave functions to trace frames")
	fs.StringVar(&o.profile, "profile", "", "Write the tiering profile to a .cbor, .yaml or .db file")
	fs.StringVar(&o.warm, "warm", "", "Compile chunks listed as compiled in a .cbor or .db profile on first call")
	fs.StringVar(&o.run, "run", "", "Run name used when saving to a .db profile (default: current time)")
}

// session is an interpreter with its evaluator installed and a main thread
// attached.
type session struct {
	cfg    *vm.Config
	interp *vm.Interpreter
	main   *vm.ThreadState
	jit    *jit.Evaluator
	tracer *trace.Tracer
}

func newSession(ctx context.Context, opts *runOptions, chunks []*bytecode.Chunk) (*session, error) {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	configureLogging(cfg, opts.verbose)

	s := &session{
		cfg:    cfg,
		interp: vm.NewRuntime(cfg).NewInterpreter(),
	}
	for _, c := range chunks {
		s.interp.Register(c)
	}

	if err := s.installEvaluator(ctx, opts); err != nil {
		s.interp.Close()
		return nil, err
	}

	// The first thread state freezes the evaluator and becomes the main
	// thread, which runs pending calls.
	s.main = s.interp.NewThreadState()
	return s, nil
}

func (s *session) installEvaluator(ctx context.Context, opts *runOptions) error {
	switch {
	case opts.jit:
		s.jit = jit.New(jit.OptionsFromConfig(s.cfg))
		if err := s.interp.SetEvaluator(s.jit); err != nil {
			return err
		}
	case !s.cfg.Extension.Disabled:
		loader := &vm.PluginLoader{SearchPath: s.cfg.SearchPaths()}
		installed, err := s.interp.InstallExtension(loader, s.cfg.Extension.Name)
		if err != nil {
			return err
		}
		if installed {
			s.jit, _ = s.interp.Evaluator().(*jit.Evaluator)
		}
	}

	if opts.warm != "" {
		if s.jit == nil {
			return errors.New("-warm needs the tiering evaluator")
		}
		names, err := loadWarm(ctx, opts.warm)
		if err != nil {
			return err
		}
		s.jit.Warm(names...)
		log.Infof("warming %d chunks from %s", len(names), opts.warm)
	}

	if opts.trace != "" {
		script, err := os.ReadFile(opts.trace)
		if err != nil {
			return fmt.Errorf("cannot read trace script: %w", err)
		}
		s.tracer, err = trace.New(string(script), s.interp.Evaluator())
		if err != nil {
			return fmt.Errorf("%s: %w", opts.trace, err)
		}
		s.tracer.SetOutput(func(line string) { fmt.Fprintln(os.Stderr, line) })
		if err := s.interp.SetEvaluator(s.tracer); err != nil {
			return err
		}
	}
	return nil
}

// execute evaluates entry on the main thread and on threads-1 workers at
// once, and returns each thread's result. The first failure cancels the
// others.
func (s *session) execute(ctx context.Context, entry string, args []string, threads int) ([]string, error) {
	if threads < 1 {
		threads = 1
	}
	results := make([]string, threads)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.main.Acquire()
		defer s.main.Release()
		stop := s.main.InterruptOnDone(gctx)
		defer stop()

		var err error
		results[0], err = s.main.Run(entry, args...)
		return err
	})

	for i := 1; i < threads; i++ {
		w := s.interp.NewWorker()
		defer w.Stop()
		g.Go(func() error {
			var err error
			results[i], err = w.Evaluate(gctx, entry, args...)
			if err != nil {
				return fmt.Errorf("thread %d: %w", w.ThreadState().ID(), err)
			}
			return nil
		})
	}

	err := g.Wait()
	return results, err
}

// close stops the tiering evaluator, writes the profile if requested and
// releases every chunk.
func (s *session) close(ctx context.Context, opts *runOptions) error {
	defer s.interp.Close()
	defer s.main.Close()

	stats := s.interp.Runtime().LockStats()
	log.Infof("lock: %d switches, %d drop requests, %d forced switches",
		stats.Switches, stats.DropRequests, stats.ForcedSwitches)
	if s.tracer != nil {
		log.Infof("traced %d frames", s.tracer.Frames())
	}
	if s.jit == nil {
		if opts.profile != "" {
			return errors.New("-profile needs the tiering evaluator")
		}
		return nil
	}

	s.jit.Close()
	st := s.jit.Stats()
	log.Infof("jit: %d profiled, %d compiled, %d unsupported, %d compiled runs, %d fallbacks",
		st.Profiled, st.Compiled, st.Unsupported, st.CompiledRuns, st.Fallbacks)

	if opts.profile == "" {
		return nil
	}
	run := opts.run
	if run == "" {
		run = time.Now().UTC().Format("20060102T150405Z")
	}
	return writeProfile(ctx, s.jit, opts.profile, run)
}

// runChunks runs entry with a fresh session and prints the results.
func runChunks(ctx context.Context, opts *runOptions, chunks []*bytecode.Chunk, entry string, args []string) error {
	s, err := newSession(ctx, opts, chunks)
	if err != nil {
		return err
	}

	results, err := s.execute(ctx, entry, args, opts.threads)
	if closeErr := s.close(ctx, opts); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	if len(results) == 1 {
		fmt.Println(results[0])
		return nil
	}
	for i, r := range results {
		fmt.Printf("thread %d: %s\n", i, r)
	}
	return nil
}
