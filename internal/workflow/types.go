// Package workflow manages multi-step media pipelines that mix remote AI
// jobs with local media operations, executed file by file with durable state.
package workflow

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/creatorsuite/mediaflow/internal/jobs"
	"github.com/creatorsuite/mediaflow/internal/media"
	"github.com/creatorsuite/mediaflow/internal/ops"
	"github.com/creatorsuite/mediaflow/internal/utils"
	"github.com/google/uuid"
)

// Definition types

// Definition describes a reusable pipeline of processing steps
type Definition struct {
	ID          string    `json:"id" yaml:"id,omitempty"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []Step    `json:"steps" yaml:"steps"`
	CreatedAt   time.Time `json:"createdAt" yaml:"createdAt,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt" yaml:"updatedAt,omitempty"`
}

// StepKind distinguishes local media operations from remote jobs
type StepKind string

const (
	StepKindLocal  StepKind = "local"
	StepKindRemote StepKind = "remote"
)

// Step is a single stage of a pipeline. Local steps carry an operation
// config; remote steps reference a job definition on the backend.
type Step struct {
	Order              int             `json:"order" yaml:"order"`
	Kind               StepKind        `json:"kind" yaml:"kind"`
	Name               string          `json:"name,omitempty" yaml:"name,omitempty"`
	Operation          *ops.Operation  `json:"operation,omitempty" yaml:"operation,omitempty"`
	TargetDefinitionID string          `json:"targetDefinitionId,omitempty" yaml:"targetDefinitionId,omitempty"`
	TargetName         string          `json:"targetName,omitempty" yaml:"targetName,omitempty"`
	DeleteSourceFiles  bool            `json:"deleteSourceFiles,omitempty" yaml:"deleteSourceFiles,omitempty"`
	InputMapping       []InputBinding  `json:"inputMapping,omitempty" yaml:"inputMapping,omitempty"`
	OutputMapping      []OutputBinding `json:"outputMapping,omitempty" yaml:"outputMapping,omitempty"`
}

// Binding types

// TargetType is the parameter slot a binding fills or an output occupies
type TargetType string

const (
	TargetFile TargetType = "file"
	TargetText TargetType = "text"
)

// SourceType names where a bound input value comes from
type SourceType string

const (
	SourceSelected       SourceType = "selected"
	SourceStatic         SourceType = "static"
	SourceDynamic        SourceType = "dynamic"
	SourcePreviousOutput SourceType = "previous-output"
	SourcePreviousInput  SourceType = "previous-input"
)

// InputBinding wires one parameter of a step to its source
type InputBinding struct {
	TargetParameterID string     `json:"targetParameterId" yaml:"targetParameterId"`
	TargetType        TargetType `json:"targetType" yaml:"targetType"`
	SourceType        SourceType `json:"sourceType" yaml:"sourceType"`
	Value             string     `json:"value,omitempty" yaml:"value,omitempty"`
	SourceStepOrder   int        `json:"sourceStepOrder,omitempty" yaml:"sourceStepOrder,omitempty"`
	SourceKey         string     `json:"sourceKey,omitempty" yaml:"sourceKey,omitempty"`
	SourceParameterID string     `json:"sourceParameterId,omitempty" yaml:"sourceParameterId,omitempty"`
}

// OutputBinding names one output of a step so later steps can reference it
type OutputBinding struct {
	OutputKey   string     `json:"outputKey" yaml:"outputKey"`
	OutputType  TargetType `json:"outputType" yaml:"outputType"`
	ParameterID string     `json:"parameterId,omitempty" yaml:"parameterId,omitempty"`
	OutputIndex *int       `json:"outputIndex,omitempty" yaml:"outputIndex,omitempty"`
}

// Execution types

// ExecutionStatus is the lifecycle state of one pipeline run
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// StepStatus is the lifecycle state of one step within an execution
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// FileContext identifies the media file an execution operates on
type FileContext struct {
	Path     string     `json:"path"`
	FileName string     `json:"fileName"`
	Kind     media.Kind `json:"fileType,omitempty"`
}

// NewFileContext derives a file context from a path on disk
func NewFileContext(path string) FileContext {
	return FileContext{
		Path:     path,
		FileName: filepath.Base(path),
		Kind:     media.Detect(path),
	}
}

// Execution is one run of a definition against a single file. It is
// persisted whole after every state change so a run can resume across
// independent calls.
type Execution struct {
	ID               string          `json:"id"`
	DefinitionID     string          `json:"definitionId"`
	DefinitionName   string          `json:"definitionName,omitempty"`
	File             FileContext     `json:"file"`
	Status           ExecutionStatus `json:"status"`
	CurrentStepOrder int             `json:"currentStepOrder"`
	Steps            []ExecutionStep `json:"steps"`
	Error            string          `json:"error,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// ExecutionStep records the progress of one step of an execution
type ExecutionStep struct {
	Order       int             `json:"order"`
	Name        string          `json:"name,omitempty"`
	Kind        StepKind        `json:"kind"`
	Status      StepStatus      `json:"status"`
	RemoteJobID string          `json:"remoteJobId,omitempty"`
	Inputs      *ResolvedInputs `json:"inputs,omitempty"`
	Outputs     []StepOutput    `json:"outputs,omitempty"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// ResolvedInputs is the concrete input set a step was dispatched with
type ResolvedInputs struct {
	Files []jobs.FileInput  `json:"files,omitempty"`
	Texts map[string]string `json:"texts,omitempty"`
}

// OutputEntry is one named product of a completed step. MediaType carries
// the backend's own tag so resolution does not have to re-derive it.
type OutputEntry struct {
	Type      TargetType `json:"type"`
	Path      string     `json:"path,omitempty"`
	Content   string     `json:"content,omitempty"`
	FileName  string     `json:"fileName,omitempty"`
	FileSize  int64      `json:"fileSize,omitempty"`
	MediaType media.Kind `json:"mediaType,omitempty"`
}

// StepOutput pairs an output entry with the key later steps look it up by.
// Stored as an ordered slice so positional aliases stay deterministic.
type StepOutput struct {
	Key string `json:"key"`
	OutputEntry
}

// NewExecution builds a pending execution for one file of a definition
func NewExecution(def *Definition, file FileContext) *Execution {
	now := time.Now()
	exec := &Execution{
		ID:             uuid.New().String(),
		DefinitionID:   def.ID,
		DefinitionName: def.Name,
		File:           file,
		Status:         ExecutionStatusPending,
		Steps:          make([]ExecutionStep, 0, len(def.Steps)),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, step := range def.Steps {
		exec.Steps = append(exec.Steps, ExecutionStep{
			Order:  step.Order,
			Name:   step.Name,
			Kind:   step.Kind,
			Status: StepStatusPending,
		})
	}
	if len(def.Steps) > 0 {
		exec.CurrentStepOrder = def.Steps[0].Order
	}
	return exec
}

// StepByOrder returns the definition step with the given order
func (d *Definition) StepByOrder(order int) (*Step, bool) {
	for i := range d.Steps {
		if d.Steps[i].Order == order {
			return &d.Steps[i], true
		}
	}
	return nil, false
}

// StepByOrder returns the execution step with the given order
func (e *Execution) StepByOrder(order int) *ExecutionStep {
	for i := range e.Steps {
		if e.Steps[i].Order == order {
			return &e.Steps[i]
		}
	}
	return nil
}

// NextStepOrder returns the order of the step after the given one, or false
// when it is the last step
func (d *Definition) NextStepOrder(order int) (int, bool) {
	for i := range d.Steps {
		if d.Steps[i].Order == order && i+1 < len(d.Steps) {
			return d.Steps[i+1].Order, true
		}
	}
	return 0, false
}

// Validate checks structural rules the schema cannot express, such as step
// order uniqueness and bindings referencing earlier steps only
func (d *Definition) Validate() error {
	if d.Name == "" {
		return &utils.ValidationError{Field: "name", Message: "definition name is required"}
	}
	if len(d.Steps) == 0 {
		return &utils.ValidationError{Field: "steps", Message: "definition must have at least one step"}
	}

	seen := make(map[int]bool, len(d.Steps))
	prev := 0
	for i := range d.Steps {
		step := &d.Steps[i]
		field := fmt.Sprintf("steps[%d]", i)

		if step.Order < 1 {
			return &utils.ValidationError{Field: field + ".order", Message: "step order must be at least 1"}
		}
		if seen[step.Order] {
			return &utils.ValidationError{Field: field + ".order", Message: fmt.Sprintf("duplicate step order %d", step.Order)}
		}
		if step.Order <= prev {
			return &utils.ValidationError{Field: field + ".order", Message: "step orders must be ascending"}
		}
		seen[step.Order] = true
		prev = step.Order

		switch step.Kind {
		case StepKindLocal:
			if step.Operation == nil {
				return &utils.ValidationError{Field: field + ".operation", Message: "local step requires an operation"}
			}
			if err := step.Operation.Validate(); err != nil {
				return fmt.Errorf("%s.operation: %w", field, err)
			}
		case StepKindRemote:
			if step.TargetDefinitionID == "" {
				return &utils.ValidationError{Field: field + ".targetDefinitionId", Message: "remote step requires a target definition"}
			}
		default:
			return &utils.ValidationError{Field: field + ".kind", Message: fmt.Sprintf("unknown step kind %q", step.Kind)}
		}

		for j, binding := range step.InputMapping {
			bindField := fmt.Sprintf("%s.inputMapping[%d]", field, j)
			if err := validateBinding(binding, step.Order, seen, bindField); err != nil {
				return err
			}
		}
		for j, binding := range step.OutputMapping {
			bindField := fmt.Sprintf("%s.outputMapping[%d]", field, j)
			if binding.OutputKey == "" {
				return &utils.ValidationError{Field: bindField + ".outputKey", Message: "output key is required"}
			}
			if binding.OutputType != TargetFile && binding.OutputType != TargetText {
				return &utils.ValidationError{Field: bindField + ".outputType", Message: fmt.Sprintf("unknown output type %q", binding.OutputType)}
			}
		}
	}

	return nil
}

func validateBinding(b InputBinding, stepOrder int, priorOrders map[int]bool, field string) error {
	if b.TargetParameterID == "" {
		return &utils.ValidationError{Field: field + ".targetParameterId", Message: "target parameter id is required"}
	}
	if b.TargetType != TargetFile && b.TargetType != TargetText {
		return &utils.ValidationError{Field: field + ".targetType", Message: fmt.Sprintf("unknown target type %q", b.TargetType)}
	}

	switch b.SourceType {
	case SourceSelected, SourceStatic:
		return nil
	case SourceDynamic, SourcePreviousOutput:
		if b.SourceStepOrder < 1 {
			return &utils.ValidationError{Field: field + ".sourceStepOrder", Message: "source step order is required"}
		}
	case SourcePreviousInput:
		if b.SourceStepOrder < 1 {
			return &utils.ValidationError{Field: field + ".sourceStepOrder", Message: "source step order is required"}
		}
		if b.SourceParameterID == "" {
			return &utils.ValidationError{Field: field + ".sourceParameterId", Message: "source parameter id is required"}
		}
	default:
		return &utils.ValidationError{Field: field + ".sourceType", Message: fmt.Sprintf("unknown source type %q", b.SourceType)}
	}

	if b.SourceStepOrder >= stepOrder {
		return &utils.ValidationError{Field: field + ".sourceStepOrder", Message: "bindings may only reference earlier steps"}
	}
	if !priorOrders[b.SourceStepOrder] {
		return &utils.ValidationError{Field: field + ".sourceStepOrder", Message: fmt.Sprintf("step %d does not exist", b.SourceStepOrder)}
	}
	return nil
}
