package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/framehook/jit"
)

// writeProfile saves e's profile in the format named by path's extension.
func writeProfile(ctx context.Context, e *jit.Evaluator, path, run string) error {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".db", ".sqlite":
		store, err := jit.OpenStore(path)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Save(ctx, run, e.Snapshot()); err != nil {
			return err
		}
		log.Infof("saved profile of run %s to %s", run, path)
		return nil

	case ".cbor", ".yaml", ".yml":
	default:
		return fmt.Errorf("unknown profile format %q (want .cbor, .yaml or .db)", ext)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if ext == ".cbor" {
		err = jit.WriteSnapshot(f, e.Snapshot())
	} else {
		err = e.WriteReport(f)
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	log.Infof("wrote profile to %s", path)
	return nil
}

// warmLimit bounds the chunks taken from a profile database.
const warmLimit = 64

// loadWarm returns the chunks a stored profile shows as compiled.
func loadWarm(ctx context.Context, path string) ([]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cbor":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		snap, err := jit.ReadSnapshot(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return snap.Compiled(), nil

	case ".db", ".sqlite":
		store, err := jit.OpenStore(path)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		hot, err := store.Hottest(ctx, warmLimit)
		if err != nil {
			return nil, err
		}
		var names []string
		for _, u := range hot {
			if u.Tier == "compiled" {
				names = append(names, u.Name)
			}
		}
		return names, nil

	default:
		return nil, fmt.Errorf("cannot warm from %q (want .cbor or .db)", filepath.Ext(path))
	}
}
