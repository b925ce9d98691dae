package jit

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// SnapshotVersion is the current ProfileSnapshot format.
const SnapshotVersion = 1

// CodeStats is the profile of one chunk.
type CodeStats struct {
	Name         string `cbor:"name" yaml:"name"`
	Invocations  uint64 `cbor:"invocations" yaml:"invocations"`
	CompiledRuns uint64 `cbor:"compiled_runs" yaml:"compiled-runs"`
	Tier         string `cbor:"tier" yaml:"tier"`
	Instructions int    `cbor:"instructions,omitempty" yaml:"instructions,omitempty"`
	Reason       string `cbor:"reason,omitempty" yaml:"reason,omitempty"`
}

// ProfileSnapshot is the persisted state of an Evaluator's profiles.
type ProfileSnapshot struct {
	Version   int         `cbor:"version" yaml:"version"`
	Threshold uint64      `cbor:"threshold" yaml:"threshold"`
	Units     []CodeStats `cbor:"units" yaml:"units"`
}

// Compiled returns the names of the chunks that were compiled.
func (s *ProfileSnapshot) Compiled() []string {
	var names []string
	for _, u := range s.Units {
		if u.Tier == "compiled" {
			names = append(names, u.Name)
		}
	}
	return names
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("jit: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalSnapshot serializes a snapshot to canonical CBOR bytes, so equal
// snapshots encode identically.
func MarshalSnapshot(s *ProfileSnapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// UnmarshalSnapshot deserializes a snapshot from CBOR bytes.
func UnmarshalSnapshot(data []byte) (*ProfileSnapshot, error) {
	var s ProfileSnapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("jit: unmarshal snapshot: %w", err)
	}
	if s.Version != SnapshotVersion {
		return nil, fmt.Errorf("jit: unsupported snapshot version %d", s.Version)
	}
	return &s, nil
}

// WriteSnapshot writes s to w as CBOR.
func WriteSnapshot(w io.Writer, s *ProfileSnapshot) error {
	data, err := MarshalSnapshot(s)
	if err != nil {
		return fmt.Errorf("jit: marshal snapshot: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// ReadSnapshot reads a CBOR snapshot from r.
func ReadSnapshot(r io.Reader) (*ProfileSnapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return UnmarshalSnapshot(data)
}
