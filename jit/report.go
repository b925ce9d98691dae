package jit

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// report is the YAML document written by WriteReport.
type report struct {
	Threshold uint64      `yaml:"threshold"`
	Summary   Stats       `yaml:"summary"`
	Units     []CodeStats `yaml:"units"`
}

// WriteReport writes a human-readable YAML report of e's profiles to w.
func (e *Evaluator) WriteReport(w io.Writer) error {
	snap := e.Snapshot()
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(report{Threshold: snap.Threshold, Summary: e.Stats(), Units: snap.Units}); err != nil {
		return fmt.Errorf("jit: write report: %w", err)
	}
	return enc.Close()
}
