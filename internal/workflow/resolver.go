package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/creatorsuite/mediaflow/internal/jobs"
	"github.com/creatorsuite/mediaflow/internal/media"
	"github.com/creatorsuite/mediaflow/internal/utils"
)

// RecoveryError reports that a previously recorded input file could not be
// found at its original path or any recovery location. It is logged and the
// input dropped, never surfaced as a step failure.
type RecoveryError struct {
	StepOrder   int
	ParameterID string
	Path        string
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("input %q of step %d could not be recovered (last known path %s)",
		e.ParameterID, e.StepOrder, e.Path)
}

// resolver turns a step's input bindings into the concrete file and text
// inputs a dispatch needs
type resolver struct {
	jobsDir    string
	uploadsDir string
}

// resolve applies every binding in order. A binding whose source yields no
// value leaves its parameter unset; required-parameter enforcement, if any,
// belongs to the step executor.
func (r *resolver) resolve(bindings []InputBinding, file FileContext, outputs *OutputMap, exec *Execution) *ResolvedInputs {
	resolved := &ResolvedInputs{Texts: make(map[string]string)}

	for _, binding := range bindings {
		switch binding.SourceType {
		case SourceSelected:
			r.resolveSelected(resolved, binding, file)
		case SourceStatic:
			if binding.TargetType == TargetFile {
				utils.LogWarning("Static file bindings are not supported; skipping parameter %q", binding.TargetParameterID)
				continue
			}
			resolved.Texts[binding.TargetParameterID] = binding.Value
		case SourcePreviousOutput, SourceDynamic:
			r.resolveFromOutputs(resolved, binding, outputs)
		case SourcePreviousInput:
			r.resolvePreviousInput(resolved, binding, exec)
		default:
			utils.LogWarning("Unknown source type %q for parameter %q", binding.SourceType, binding.TargetParameterID)
		}
	}

	return resolved
}

func (r *resolver) resolveSelected(resolved *ResolvedInputs, binding InputBinding, file FileContext) {
	if binding.TargetType == TargetText {
		resolved.Texts[binding.TargetParameterID] = file.Path
		return
	}

	kind := file.Kind
	if kind == "" {
		kind = media.Detect(file.Path)
	}
	resolved.Files = append(resolved.Files, jobs.FileInput{
		ParameterID: binding.TargetParameterID,
		Path:        file.Path,
		FileName:    file.FileName,
		FileType:    kind,
		FileSize:    utils.FileSize(file.Path),
	})
}

func (r *resolver) resolveFromOutputs(resolved *ResolvedInputs, binding InputBinding, outputs *OutputMap) {
	key := binding.SourceKey
	if key == "" {
		key = binding.SourceParameterID
	}

	entry, ok := outputs.Lookup(binding.SourceStepOrder, key)
	if !ok {
		utils.LogVerbose("No output %q from step %d for parameter %q", key, binding.SourceStepOrder, binding.TargetParameterID)
		return
	}

	if entry.Type == TargetFile || binding.TargetType == TargetFile {
		if entry.Path == "" {
			utils.LogVerbose("Output %q from step %d carries no file path; skipping parameter %q", key, binding.SourceStepOrder, binding.TargetParameterID)
			return
		}
		resolved.Files = append(resolved.Files, fileInputFromEntry(binding.TargetParameterID, entry))
		return
	}

	resolved.Texts[binding.TargetParameterID] = entry.Content
}

func (r *resolver) resolvePreviousInput(resolved *ResolvedInputs, binding InputBinding, exec *Execution) {
	prior := exec.StepByOrder(binding.SourceStepOrder)
	if prior == nil || prior.Inputs == nil {
		utils.LogVerbose("Step %d has no recorded inputs for parameter %q", binding.SourceStepOrder, binding.TargetParameterID)
		return
	}

	if binding.TargetType == TargetText {
		if value, ok := prior.Inputs.Texts[binding.SourceParameterID]; ok {
			resolved.Texts[binding.TargetParameterID] = value
		}
		return
	}

	for _, in := range prior.Inputs.Files {
		if in.ParameterID != binding.SourceParameterID {
			continue
		}
		recovered, ok := r.recoverFile(in, prior.RemoteJobID)
		if !ok {
			recErr := &RecoveryError{
				StepOrder:   binding.SourceStepOrder,
				ParameterID: binding.SourceParameterID,
				Path:        in.Path,
			}
			utils.LogWarning("%v; dropping this input", recErr)
			return
		}
		recovered.ParameterID = binding.TargetParameterID
		resolved.Files = append(resolved.Files, recovered)
		return
	}
}

// recoverFile verifies a recorded input still exists. When it does not, it
// searches the job's working directory by file name, then retries the
// original path with the uploads root swapped for the job directory.
func (r *resolver) recoverFile(in jobs.FileInput, jobID string) (jobs.FileInput, bool) {
	if fileExists(in.Path) {
		return in, true
	}
	if jobID == "" {
		return jobs.FileInput{}, false
	}

	candidate := filepath.Join(r.jobsDir, jobID, in.FileName)
	if fileExists(candidate) {
		in.Path = candidate
		in.FileSize = utils.FileSize(candidate)
		return in, true
	}

	uploadsRoot := r.uploadsDir + string(os.PathSeparator)
	if r.uploadsDir != "" && strings.HasPrefix(in.Path, uploadsRoot) {
		rel := strings.TrimPrefix(in.Path, uploadsRoot)
		candidate = filepath.Join(r.jobsDir, jobID, rel)
		if fileExists(candidate) {
			in.Path = candidate
			in.FileSize = utils.FileSize(candidate)
			return in, true
		}
	}

	return jobs.FileInput{}, false
}

func fileInputFromEntry(parameterID string, entry OutputEntry) jobs.FileInput {
	name := entry.FileName
	if name == "" {
		name = filepath.Base(entry.Path)
	}
	kind := entry.MediaType
	if kind == "" {
		kind = media.Detect(entry.Path)
	}
	size := entry.FileSize
	if size == 0 {
		size = utils.FileSize(entry.Path)
	}
	return jobs.FileInput{
		ParameterID: parameterID,
		Path:        entry.Path,
		FileName:    name,
		FileType:    kind,
		FileSize:    size,
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
