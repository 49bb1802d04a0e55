package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/creatorsuite/mediaflow/internal/config"
	"github.com/creatorsuite/mediaflow/internal/jobs"
	"github.com/creatorsuite/mediaflow/internal/media"
	"github.com/creatorsuite/mediaflow/internal/ops"
	"github.com/creatorsuite/mediaflow/internal/utils"
	"github.com/samber/lo"
)

var (
	// ErrStepStillRunning is returned when a continuation is requested while
	// the outstanding remote job has not reached a terminal state
	ErrStepStillRunning = errors.New("remote step is still running")

	// ErrStepAlreadyCompleted is returned when a completed step is dispatched
	// a second time
	ErrStepAlreadyCompleted = errors.New("step already completed")

	// ErrExecutionFinished is returned when a finished execution is asked to
	// continue or stop
	ErrExecutionFinished = errors.New("execution already finished")

	errUnchanged = errors.New("unchanged")
)

// OperationRunner executes one local media operation
type OperationRunner interface {
	Run(ctx context.Context, op ops.Operation, inputPath string) ([]ops.Artifact, error)
}

// JobService is the remote backend surface the engine dispatches to
type JobService interface {
	Submit(ctx context.Context, req *jobs.SubmitRequest) (string, error)
	Status(ctx context.Context, jobID string) (*jobs.Job, error)
	AwaitCompletion(ctx context.Context, jobID string) (*jobs.Result, error)
}

// BatchProgress receives file-level progress during a batch run. A nil
// progress discards everything.
type BatchProgress interface {
	Logf(format string, args ...interface{})
	FileSucceeded(path string)
	FileFailed(path string, err error)
	Cancelled() bool
}

// InputOverrides replaces resolved values for specific parameters at
// dispatch time. Keys are target parameter ids.
type InputOverrides struct {
	Files map[string]string `json:"files,omitempty"`
	Texts map[string]string `json:"texts,omitempty"`
}

// DispatchResult reports what dispatching one step did. A remote step left
// awaiting its job carries the job id and status running.
type DispatchResult struct {
	StepOrder   int          `json:"stepOrder"`
	Status      StepStatus   `json:"status"`
	RemoteJobID string       `json:"remoteJobId,omitempty"`
	Outputs     []StepOutput `json:"outputs,omitempty"`
}

// BatchResult aggregates the outcome of one batch run. Skipped counts files
// whose execution was paused or never started because the batch was
// cancelled.
type BatchResult struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Engine advances executions step by step: it resolves inputs, dispatches
// local or remote work, folds results through the output mapper and persists
// the whole execution after every state change.
type Engine struct {
	store    *Store
	runner   OperationRunner
	remote   JobService
	jobsRepo *jobs.Repository
	res      *resolver
}

// NewEngine wires an engine from its collaborators
func NewEngine(cfg *config.Config, store *Store, runner OperationRunner, remote JobService, repo *jobs.Repository) *Engine {
	return &Engine{
		store:    store,
		runner:   runner,
		remote:   remote,
		jobsRepo: repo,
		res: &resolver{
			jobsDir:    cfg.JobsDir(),
			uploadsDir: cfg.UploadsDir(),
		},
	}
}

// Store exposes the engine's execution store
func (e *Engine) Store() *Store {
	return e.store
}

// StartExecution creates an execution for one file and dispatches its first
// step. A local first step completes synchronously; a remote first step is
// submitted and left running with its job id in the result.
func (e *Engine) StartExecution(ctx context.Context, definitionID, filePath string, overrides *InputOverrides) (*Execution, *DispatchResult, error) {
	def, err := e.store.GetDefinition(definitionID)
	if err != nil {
		return nil, nil, err
	}
	if err := utils.ValidateInputFile(filePath); err != nil {
		return nil, nil, err
	}

	exec := NewExecution(def, NewFileContext(filePath))
	if err := e.store.CreateExecution(exec); err != nil {
		return nil, nil, err
	}
	utils.LogInfo("Started execution %s of %q for %s", exec.ID, def.Name, exec.File.FileName)

	result, err := e.runStep(ctx, exec, def, def.Steps[0].Order, overrides, false)
	if err != nil {
		return exec, nil, err
	}
	return exec, result, nil
}

// ContinueExecution settles any outstanding remote step, then dispatches the
// requested step with the caller's input overrides applied
func (e *Engine) ContinueExecution(ctx context.Context, executionID string, stepOrder int, overrides *InputOverrides) (*Execution, *DispatchResult, error) {
	exec, err := e.store.GetExecution(executionID)
	if err != nil {
		return nil, nil, err
	}
	def, err := e.store.GetDefinition(exec.DefinitionID)
	if err != nil {
		return nil, nil, err
	}

	if err := e.settleOutstanding(ctx, exec, def); err != nil {
		return exec, nil, err
	}
	switch exec.Status {
	case ExecutionStatusCompleted, ExecutionStatusFailed:
		return exec, nil, fmt.Errorf("execution %s is %s: %w", exec.ID, exec.Status, ErrExecutionFinished)
	}
	if stepOrder != exec.CurrentStepOrder {
		return exec, nil, &utils.ValidationError{
			Field:   "stepOrder",
			Message: fmt.Sprintf("step %d is not the next step (expected %d)", stepOrder, exec.CurrentStepOrder),
		}
	}

	// Continuing a paused execution is the explicit resume. The stored pause
	// must be cleared first, or the step's own persists would keep it alive.
	if exec.Status == ExecutionStatusPaused {
		if _, err := e.store.UpdateExecutionWith(exec.ID, func(ex *Execution) error {
			if ex.Status == ExecutionStatusPaused {
				ex.Status = ExecutionStatusRunning
			}
			return nil
		}); err != nil {
			return exec, nil, err
		}
		exec.Status = ExecutionStatusRunning
	}

	result, err := e.runStep(ctx, exec, def, stepOrder, overrides, false)
	if err != nil {
		return exec, nil, err
	}
	return exec, result, nil
}

// GetExecution loads an execution, folding in the terminal state of any
// still-running remote step from its on-disk job record
func (e *Engine) GetExecution(id string) (*Execution, error) {
	exec, err := e.store.GetExecution(id)
	if err != nil {
		return nil, err
	}
	if !hasOutstandingRemoteStep(exec) {
		return exec, nil
	}
	def, err := e.store.GetDefinition(exec.DefinitionID)
	if err != nil {
		return exec, nil
	}

	updated, err := e.store.UpdateExecutionWith(id, func(ex *Execution) error {
		if !e.reconcileFromRecords(ex, def) {
			return errUnchanged
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errUnchanged) {
			return exec, nil
		}
		return nil, err
	}
	return updated, nil
}

// StopExecution parks a running execution. The pause takes effect at the
// next step boundary; a step already in flight finishes.
func (e *Engine) StopExecution(id string) (*Execution, error) {
	return e.store.UpdateExecutionWith(id, func(ex *Execution) error {
		switch ex.Status {
		case ExecutionStatusCompleted, ExecutionStatusFailed:
			return fmt.Errorf("execution %s is %s: %w", ex.ID, ex.Status, ErrExecutionFinished)
		}
		ex.Status = ExecutionStatusPaused
		return nil
	})
}

// RunBatch executes the definition over each file sequentially. One file's
// failure is recorded and the batch moves on; the result reports aggregate
// counts.
func (e *Engine) RunBatch(ctx context.Context, definitionID string, files []string, progress BatchProgress) (*BatchResult, error) {
	def, err := e.store.GetDefinition(definitionID)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, &utils.ValidationError{Field: "files", Message: "no input files"}
	}

	result := &BatchResult{Total: len(files)}
	for _, path := range files {
		if progress != nil && progress.Cancelled() {
			result.Skipped = result.Total - result.Succeeded - result.Failed
			logProgress(progress, "Batch cancelled; %d of %d files not processed", result.Skipped, result.Total)
			break
		}

		logProgress(progress, "Processing %s", filepath.Base(path))
		exec, err := e.runPipeline(ctx, def, path, progress)
		switch {
		case err != nil:
			result.Failed++
			utils.LogWarning("Pipeline failed for %s: %v", path, err)
			if progress != nil {
				progress.FileFailed(path, err)
			}
		case exec.Status == ExecutionStatusPaused:
			result.Skipped++
			logProgress(progress, "Execution %s left paused", exec.ID)
		default:
			result.Succeeded++
			if progress != nil {
				progress.FileSucceeded(path)
			}
		}
	}

	utils.LogInfo("Batch finished: %d succeeded, %d failed of %d", result.Succeeded, result.Failed, result.Total)
	return result, nil
}

// runPipeline executes every step of the definition for one file, awaiting
// remote jobs synchronously. A pause request stops it at a step boundary.
func (e *Engine) runPipeline(ctx context.Context, def *Definition, path string, progress BatchProgress) (*Execution, error) {
	if err := utils.ValidateInputFile(path); err != nil {
		return nil, err
	}

	exec := NewExecution(def, NewFileContext(path))
	if err := e.store.CreateExecution(exec); err != nil {
		return nil, err
	}

	for _, step := range def.Steps {
		if stored, err := e.store.GetExecution(exec.ID); err == nil && stored.Status == ExecutionStatusPaused {
			logProgress(progress, "Execution %s paused before step %d", exec.ID, step.Order)
			exec.Status = ExecutionStatusPaused
			return exec, nil
		}

		logProgress(progress, "Step %d started", step.Order)
		if _, err := e.runStep(ctx, exec, def, step.Order, nil, true); err != nil {
			logProgress(progress, "Step %d failed: %v", step.Order, err)
			return exec, err
		}
		logProgress(progress, "Step %d completed", step.Order)
	}
	return exec, nil
}

// persist writes the engine's view of the execution under the store lock. A
// pause request that landed in the store while the step was in flight
// survives the write; it is what the next boundary check acts on.
func (e *Engine) persist(exec *Execution) error {
	updated, err := e.store.UpdateExecutionWith(exec.ID, func(ex *Execution) error {
		keepPaused := ex.Status == ExecutionStatusPaused && exec.Status == ExecutionStatusRunning
		*ex = *exec
		if keepPaused {
			ex.Status = ExecutionStatusPaused
		}
		return nil
	})
	if err != nil {
		return err
	}
	exec.Status = updated.Status
	exec.UpdatedAt = updated.UpdatedAt
	return nil
}

// runStep performs the full transition for one step: mark running, persist,
// resolve, dispatch, map outputs, persist. With wait set, a remote step is
// awaited to completion; otherwise it is left running after submission.
func (e *Engine) runStep(ctx context.Context, exec *Execution, def *Definition, order int, overrides *InputOverrides, wait bool) (*DispatchResult, error) {
	step, ok := def.StepByOrder(order)
	if !ok {
		return nil, &utils.ValidationError{Field: "stepOrder", Message: fmt.Sprintf("definition has no step %d", order)}
	}
	es := exec.StepByOrder(order)
	if es == nil {
		return nil, &utils.ValidationError{Field: "stepOrder", Message: fmt.Sprintf("execution has no step %d", order)}
	}
	if es.Status == StepStatusCompleted {
		return nil, fmt.Errorf("step %d: %w", order, ErrStepAlreadyCompleted)
	}

	now := time.Now()
	es.Status = StepStatusRunning
	es.StartedAt = &now
	es.Error = ""
	exec.Status = ExecutionStatusRunning
	exec.CurrentStepOrder = order
	if err := e.persist(exec); err != nil {
		return nil, err
	}
	utils.LogInfo("Step %d (%s) started for %s", order, stepLabel(step), exec.File.FileName)

	outputs := BuildOutputMap(exec)
	resolved := e.res.resolve(step.InputMapping, exec.File, outputs, exec)
	applyOverrides(resolved, overrides)
	es.Inputs = resolved

	if step.Kind == StepKindRemote {
		return e.runRemoteStep(ctx, exec, def, step, es, resolved, wait)
	}
	return e.runLocalStep(ctx, exec, def, step, es, resolved)
}

func (e *Engine) runRemoteStep(ctx context.Context, exec *Execution, def *Definition, step *Step, es *ExecutionStep, resolved *ResolvedInputs, wait bool) (*DispatchResult, error) {
	jobID, err := e.remote.Submit(ctx, &jobs.SubmitRequest{
		DefinitionID:      step.TargetDefinitionID,
		FileInputs:        resolved.Files,
		TextInputs:        resolved.Texts,
		DeleteSourceFiles: step.DeleteSourceFiles,
	})
	if err != nil {
		e.failStep(exec, es, err)
		return nil, err
	}

	es.RemoteJobID = jobID
	if err := e.persist(exec); err != nil {
		return nil, err
	}

	if !wait {
		return &DispatchResult{StepOrder: es.Order, Status: StepStatusRunning, RemoteJobID: jobID}, nil
	}

	result, err := e.remote.AwaitCompletion(ctx, jobID)
	if err != nil {
		e.failStep(exec, es, err)
		return nil, err
	}
	completeStep(es, result, step.OutputMapping)
	advanceAfter(exec, def, es.Order)
	if err := e.persist(exec); err != nil {
		return nil, err
	}
	utils.LogSuccess("Step %d completed for %s", es.Order, exec.File.FileName)
	return &DispatchResult{StepOrder: es.Order, Status: StepStatusCompleted, RemoteJobID: jobID, Outputs: es.Outputs}, nil
}

func (e *Engine) runLocalStep(ctx context.Context, exec *Execution, def *Definition, step *Step, es *ExecutionStep, resolved *ResolvedInputs) (*DispatchResult, error) {
	inputPath := exec.File.Path
	if len(resolved.Files) > 0 {
		inputPath = resolved.Files[0].Path
	}

	artifacts, err := e.runner.Run(ctx, *step.Operation, inputPath)
	if err != nil {
		e.failStep(exec, es, err)
		return nil, err
	}

	completeStep(es, resultFromArtifacts(artifacts), step.OutputMapping)
	advanceAfter(exec, def, es.Order)
	if err := e.persist(exec); err != nil {
		return nil, err
	}
	utils.LogSuccess("Step %d completed for %s", es.Order, exec.File.FileName)
	return &DispatchResult{StepOrder: es.Order, Status: StepStatusCompleted, Outputs: es.Outputs}, nil
}

// settleOutstanding folds the terminal state of an outstanding remote step
// into the execution. The live backend is consulted first, the on-disk job
// record when the backend is unreachable.
func (e *Engine) settleOutstanding(ctx context.Context, exec *Execution, def *Definition) error {
	for i := range exec.Steps {
		es := &exec.Steps[i]
		if es.Status != StepStatusRunning || es.RemoteJobID == "" {
			continue
		}

		job, err := e.remote.Status(ctx, es.RemoteJobID)
		if err != nil {
			utils.LogWarning("Backend unreachable for job %s, using local record: %v", es.RemoteJobID, err)
			job, err = e.jobsRepo.Get(es.RemoteJobID)
			if err != nil {
				return fmt.Errorf("cannot determine state of job %s: %w", es.RemoteJobID, err)
			}
		}

		switch job.Status {
		case jobs.StatusCompleted:
			step, ok := def.StepByOrder(es.Order)
			if !ok {
				return &utils.ValidationError{Field: "stepOrder", Message: fmt.Sprintf("definition has no step %d", es.Order)}
			}
			completeStep(es, job.Results, step.OutputMapping)
			advanceAfter(exec, def, es.Order)
			if err := e.store.UpdateExecution(exec); err != nil {
				return err
			}
			utils.LogSuccess("Step %d settled from job %s", es.Order, es.RemoteJobID)
		case jobs.StatusFailed:
			msg := job.Error
			if msg == "" {
				msg = "job failed"
			}
			cause := &jobs.RemoteJobError{Kind: jobs.ErrKindJobFailed, JobID: es.RemoteJobID, Message: msg}
			e.failStep(exec, es, cause)
			return cause
		default:
			return fmt.Errorf("job %s: %w", es.RemoteJobID, ErrStepStillRunning)
		}
	}
	return nil
}

// reconcileFromRecords is the read-only variant of settling: terminal job
// states are folded in from on-disk records only, without touching the
// backend. A pause stays in force across the fold. Reports whether anything
// changed.
func (e *Engine) reconcileFromRecords(exec *Execution, def *Definition) bool {
	paused := exec.Status == ExecutionStatusPaused
	changed := false
	for i := range exec.Steps {
		es := &exec.Steps[i]
		if es.Status != StepStatusRunning || es.RemoteJobID == "" {
			continue
		}
		job, err := e.jobsRepo.Get(es.RemoteJobID)
		if err != nil {
			continue
		}

		switch job.Status {
		case jobs.StatusCompleted:
			step, ok := def.StepByOrder(es.Order)
			if !ok {
				continue
			}
			completeStep(es, job.Results, step.OutputMapping)
			advanceAfter(exec, def, es.Order)
			changed = true
		case jobs.StatusFailed:
			msg := job.Error
			if msg == "" {
				msg = "job failed"
			}
			markFailed(exec, es, msg)
			changed = true
		}
	}
	if paused && exec.Status == ExecutionStatusRunning {
		exec.Status = ExecutionStatusPaused
	}
	return changed
}

func (e *Engine) failStep(exec *Execution, es *ExecutionStep, cause error) {
	markFailed(exec, es, cause.Error())
	if err := e.persist(exec); err != nil {
		utils.LogError("Failed to persist failed execution %s: %v", exec.ID, err)
	}
	utils.LogError("Step %d failed for %s: %v", es.Order, exec.File.FileName, cause)
}

func markFailed(exec *Execution, es *ExecutionStep, message string) {
	now := time.Now()
	es.Status = StepStatusFailed
	es.CompletedAt = &now
	es.Error = message
	exec.Status = ExecutionStatusFailed
	exec.Error = message
}

func completeStep(es *ExecutionStep, result *jobs.Result, bindings []OutputBinding) {
	now := time.Now()
	es.Outputs = mapOutputs(result, bindings)
	es.Status = StepStatusCompleted
	es.CompletedAt = &now
	es.Error = ""
}

// advanceAfter moves the step pointer past a completed step, or completes
// the execution when it was the last one
func advanceAfter(exec *Execution, def *Definition, completedOrder int) {
	if next, ok := def.NextStepOrder(completedOrder); ok {
		exec.CurrentStepOrder = next
		exec.Status = ExecutionStatusRunning
		return
	}
	exec.Status = ExecutionStatusCompleted
	exec.Error = ""
}

// resultFromArtifacts adapts a local operation's artifacts to the job result
// shape so local and remote outputs flow through the same mapper. Small text
// artifacts are additionally exposed as text outputs.
func resultFromArtifacts(artifacts []ops.Artifact) *jobs.Result {
	result := &jobs.Result{}
	for _, artifact := range artifacts {
		result.Outputs = append(result.Outputs, jobs.Output{
			Type:     string(artifact.Kind),
			Path:     artifact.Path,
			FileName: filepath.Base(artifact.Path),
			FileSize: utils.FileSize(artifact.Path),
		})
		if artifact.Kind == media.KindText {
			if content, err := utils.ReadTextFile(artifact.Path); err == nil {
				result.TextOutputs = append(result.TextOutputs, jobs.TextOutput{
					Content: map[string]string{"en": content},
				})
			}
		}
	}
	return result
}

func applyOverrides(resolved *ResolvedInputs, overrides *InputOverrides) {
	if overrides == nil {
		return
	}

	for _, param := range sortedKeys(overrides.Texts) {
		resolved.Texts[param] = overrides.Texts[param]
	}
	for _, param := range sortedKeys(overrides.Files) {
		path := overrides.Files[param]
		in := jobs.FileInput{
			ParameterID: param,
			Path:        path,
			FileName:    filepath.Base(path),
			FileType:    media.Detect(path),
			FileSize:    utils.FileSize(path),
		}
		if _, i, found := lo.FindIndexOf(resolved.Files, func(f jobs.FileInput) bool {
			return f.ParameterID == param
		}); found {
			resolved.Files[i] = in
		} else {
			resolved.Files = append(resolved.Files, in)
		}
	}
}

func sortedKeys(m map[string]string) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}

func hasOutstandingRemoteStep(exec *Execution) bool {
	for i := range exec.Steps {
		if exec.Steps[i].Status == StepStatusRunning && exec.Steps[i].RemoteJobID != "" {
			return true
		}
	}
	return false
}

func stepLabel(step *Step) string {
	if step.Name != "" {
		return step.Name
	}
	if step.Kind == StepKindRemote {
		if step.TargetName != "" {
			return step.TargetName
		}
		return step.TargetDefinitionID
	}
	if step.Operation != nil {
		return string(step.Operation.Kind)
	}
	return string(step.Kind)
}

func logProgress(progress BatchProgress, format string, args ...interface{}) {
	if progress != nil {
		progress.Logf(format, args...)
	}
}
