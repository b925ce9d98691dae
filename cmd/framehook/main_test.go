package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSplitArgs(t *testing.T) {
	files, rest := splitArgs([]string{"a.fhbc", "b.fhbc", "--", "1", "2"})
	if len(files) != 2 || len(rest) != 2 || rest[1] != "2" {
		t.Errorf("splitArgs = %v, %v", files, rest)
	}
	files, rest = splitArgs([]string{"a.fhbc"})
	if len(files) != 1 || rest != nil {
		t.Errorf("splitArgs without -- = %v, %v", files, rest)
	}
}

func TestWriteAndLoadChunks(t *testing.T) {
	dir := t.TempDir()
	if err := writeChunks(dir, demoChunks()); err != nil {
		t.Fatalf("writeChunks error: %v", err)
	}

	paths := []string{filepath.Join(dir, "main"+ChunkExt), filepath.Join(dir, "sum"+ChunkExt)}
	chunks, err := loadChunks(paths)
	if err != nil {
		t.Fatalf("loadChunks error: %v", err)
	}
	if len(chunks) != 2 || chunks[0].Name != "main" || chunks[1].Name != "sum" {
		t.Fatalf("loaded %d chunks", len(chunks))
	}
	if err := chunks[1].Verify(); err != nil {
		t.Errorf("loaded sum does not verify: %v", err)
	}

	if _, err := loadChunks([]string{paths[0], paths[0]}); err == nil {
		t.Error("expected error for duplicate chunk names")
	}
}

func TestSessionThreads(t *testing.T) {
	ctx := context.Background()
	opts := &runOptions{jit: true, threads: 3}
	s, err := newSession(ctx, opts, demoChunks())
	if err != nil {
		t.Fatalf("newSession error: %v", err)
	}

	results, err := s.execute(ctx, "main", []string{"100"}, opts.threads)
	if err != nil {
		t.Fatalf("execute error: %v", err)
	}
	for i, r := range results {
		if r != "5050" {
			t.Errorf("thread %d result = %q, want 5050", i, r)
		}
	}
	if err := s.close(ctx, opts); err != nil {
		t.Fatalf("close error: %v", err)
	}
	if st := s.jit.Stats(); st.Profiled != 2 {
		t.Errorf("profiled = %d, want 2", st.Profiled)
	}
}

func TestSessionTraceAndProfile(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "trace.js")
	if err := os.WriteFile(script, []byte(`function enter(name) { log("enter " + name) }`), 0644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	opts := &runOptions{jit: true, trace: script, profile: filepath.Join(dir, "profile.yaml")}
	s, err := newSession(ctx, opts, demoChunks())
	if err != nil {
		t.Fatalf("newSession error: %v", err)
	}
	if _, err := s.execute(ctx, "main", []string{"10"}, 1); err != nil {
		t.Fatalf("execute error: %v", err)
	}
	if err := s.close(ctx, opts); err != nil {
		t.Fatalf("close error: %v", err)
	}
	if s.tracer.Frames() != 2 {
		t.Errorf("traced %d frames, want 2", s.tracer.Frames())
	}

	data, err := os.ReadFile(opts.profile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "name: sum") {
		t.Errorf("report missing sum:\n%s", data)
	}
}

func TestProfileWithoutJIT(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	config := filepath.Join(dir, "framehook.toml")
	if err := os.WriteFile(config, []byte("[extension]\ndisabled = true\n"), 0644); err != nil {
		t.Fatal(err)
	}

	opts := &runOptions{configPath: config, profile: filepath.Join(dir, "p.cbor")}
	s, err := newSession(ctx, opts, demoChunks())
	if err != nil {
		t.Fatalf("newSession error: %v", err)
	}
	if _, err := s.execute(ctx, "main", []string{"3"}, 1); err != nil {
		t.Fatalf("execute error: %v", err)
	}
	if err := s.close(ctx, opts); err == nil {
		t.Error("expected error writing a profile without the tiering evaluator")
	}
}

func TestWarmFromProfiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	cold, err := newSession(ctx, &runOptions{jit: true}, demoChunks())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cold.execute(ctx, "main", []string{"5"}, 1); err != nil {
		t.Fatal(err)
	}
	coldProfile := filepath.Join(dir, "cold.cbor")
	if err := cold.close(ctx, &runOptions{jit: true, profile: coldProfile}); err != nil {
		t.Fatal(err)
	}
	// Nothing is hot after one call with the default threshold.
	names, err := loadWarm(ctx, coldProfile)
	if err != nil || len(names) != 0 {
		t.Errorf("loadWarm(cold) = %v, %v", names, err)
	}

	hot, err := newSession(ctx, &runOptions{jit: true}, demoChunks())
	if err != nil {
		t.Fatal(err)
	}
	hot.jit.Warm("sum")
	if _, err := hot.execute(ctx, "main", []string{"5"}, 1); err != nil {
		t.Fatal(err)
	}
	hotProfile := filepath.Join(dir, "hot.db")
	if err := hot.close(ctx, &runOptions{jit: true, profile: hotProfile, run: "warm"}); err != nil {
		t.Fatal(err)
	}
	names, err = loadWarm(ctx, hotProfile)
	if err != nil || len(names) != 1 || names[0] != "sum" {
		t.Errorf("loadWarm(hot) = %v, %v, want [sum]", names, err)
	}

	// -warm feeds the names back into a new session.
	warmed, err := newSession(ctx, &runOptions{jit: true, warm: hotProfile}, demoChunks())
	if err != nil {
		t.Fatalf("newSession with -warm error: %v", err)
	}
	if _, err := warmed.execute(ctx, "main", []string{"5"}, 1); err != nil {
		t.Fatal(err)
	}
	if err := warmed.close(ctx, &runOptions{jit: true}); err != nil {
		t.Fatal(err)
	}
	if st := warmed.jit.Stats(); st.Compiled != 1 {
		t.Errorf("compiled after warming = %d, want 1", st.Compiled)
	}

	if _, err := loadWarm(ctx, filepath.Join(dir, "profile.txt")); err == nil {
		t.Error("expected error for unknown profile format")
	}
}
