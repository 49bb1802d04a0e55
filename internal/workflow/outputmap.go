package workflow

import (
	"fmt"
	"path/filepath"

	"github.com/creatorsuite/mediaflow/internal/jobs"
	"github.com/creatorsuite/mediaflow/internal/media"
	"github.com/creatorsuite/mediaflow/internal/utils"
)

// DefaultOutputKey is the key a step's output lands under when the step
// declares no output mapping
const DefaultOutputKey = "output"

// OutputMap accumulates the named outputs of completed steps. Keys are never
// removed during a run; a later step may shadow an earlier key in the flat
// map but the step-scoped view keeps every step's own entries intact.
type OutputMap struct {
	entries map[string]OutputEntry
	byStep  map[int]map[string]OutputEntry
}

// NewOutputMap returns an empty output map
func NewOutputMap() *OutputMap {
	return &OutputMap{
		entries: make(map[string]OutputEntry),
		byStep:  make(map[int]map[string]OutputEntry),
	}
}

// BuildOutputMap reconstructs the output map from an execution's persisted
// step outputs, in step order
func BuildOutputMap(exec *Execution) *OutputMap {
	m := NewOutputMap()
	for i := range exec.Steps {
		step := &exec.Steps[i]
		if step.Status == StepStatusCompleted {
			m.AddStep(step.Order, step.Outputs)
		}
	}
	return m
}

// AddStep merges one completed step's mapped outputs. Besides its declared
// key, each output is registered under the positional alias output_<i>, the
// step's first output under <order>-output and output-<order>, and file
// outputs under their bare file name.
func (m *OutputMap) AddStep(order int, outputs []StepOutput) {
	for i, out := range outputs {
		m.put(order, out.Key, out.OutputEntry)
		m.put(order, fmt.Sprintf("output_%d", i), out.OutputEntry)
		if i == 0 {
			m.put(order, fmt.Sprintf("%d-output", order), out.OutputEntry)
			m.put(order, fmt.Sprintf("output-%d", order), out.OutputEntry)
		}
		if out.Type == TargetFile && out.FileName != "" {
			m.put(order, out.FileName, out.OutputEntry)
		}
	}
}

func (m *OutputMap) put(order int, key string, entry OutputEntry) {
	m.entries[key] = entry
	if m.byStep[order] == nil {
		m.byStep[order] = make(map[string]OutputEntry)
	}
	m.byStep[order][key] = entry
}

// Lookup resolves a key against the named step's own entries first, then
// the flat map. This is the single source of truth for alias resolution.
func (m *OutputMap) Lookup(stepOrder int, key string) (OutputEntry, bool) {
	if scoped, ok := m.byStep[stepOrder]; ok {
		if entry, ok := scoped[key]; ok {
			return entry, true
		}
	}
	entry, ok := m.entries[key]
	return entry, ok
}

// Len returns the number of distinct keys in the flat map
func (m *OutputMap) Len() int {
	return len(m.entries)
}

// mapOutputs extracts named entries from a raw job result. Without bindings
// the first file output is exposed under the default key. With bindings,
// each one selects from the outputs of its declared type by parameterId if
// given, else by outputIndex, else the first; a binding with no candidate is
// skipped without error. The result depends only on slice order, so mapping
// the same raw result twice yields identical entries.
func mapOutputs(result *jobs.Result, bindings []OutputBinding) []StepOutput {
	if result == nil {
		return nil
	}

	if len(bindings) == 0 {
		if len(result.Outputs) == 0 {
			return nil
		}
		if len(result.Outputs) > 1 {
			utils.LogWarning("Step produced %d file outputs but declares no output mapping; exposing only the first", len(result.Outputs))
		}
		return []StepOutput{{Key: DefaultOutputKey, OutputEntry: fileEntry(result.Outputs[0])}}
	}

	mapped := make([]StepOutput, 0, len(bindings))
	for _, binding := range bindings {
		entry, ok := selectEntry(result, binding)
		if !ok {
			continue
		}
		mapped = append(mapped, StepOutput{Key: binding.OutputKey, OutputEntry: entry})
	}
	return mapped
}

func selectEntry(result *jobs.Result, binding OutputBinding) (OutputEntry, bool) {
	if binding.OutputType == TargetText {
		out, ok := selectTextOutput(result.TextOutputs, binding)
		if !ok {
			return OutputEntry{}, false
		}
		return OutputEntry{Type: TargetText, Content: out.Text()}, true
	}

	out, ok := selectFileOutput(result.Outputs, binding)
	if !ok {
		return OutputEntry{}, false
	}
	return fileEntry(out), true
}

func selectFileOutput(outputs []jobs.Output, binding OutputBinding) (jobs.Output, bool) {
	switch {
	case binding.ParameterID != "":
		for _, out := range outputs {
			if out.ParameterID == binding.ParameterID {
				return out, true
			}
		}
	case binding.OutputIndex != nil:
		if i := *binding.OutputIndex; i >= 0 && i < len(outputs) {
			return outputs[i], true
		}
	default:
		if len(outputs) > 0 {
			return outputs[0], true
		}
	}
	return jobs.Output{}, false
}

func selectTextOutput(outputs []jobs.TextOutput, binding OutputBinding) (jobs.TextOutput, bool) {
	switch {
	case binding.ParameterID != "":
		for _, out := range outputs {
			if out.ParameterID == binding.ParameterID {
				return out, true
			}
		}
	case binding.OutputIndex != nil:
		if i := *binding.OutputIndex; i >= 0 && i < len(outputs) {
			return outputs[i], true
		}
	default:
		if len(outputs) > 0 {
			return outputs[0], true
		}
	}
	return jobs.TextOutput{}, false
}

func fileEntry(out jobs.Output) OutputEntry {
	entry := OutputEntry{
		Type:     TargetFile,
		Path:     out.Path,
		FileName: out.FileName,
		FileSize: out.FileSize,
	}
	if entry.FileName == "" && out.Path != "" {
		entry.FileName = filepath.Base(out.Path)
	}
	if kind, ok := media.FromOutputTag(out.Type); ok {
		entry.MediaType = kind
	}
	return entry
}
