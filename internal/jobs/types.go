// Package jobs talks to the remote processing backend and keeps a local
// record of every job it has seen
package jobs

import (
	"sort"
	"time"

	"github.com/creatorsuite/mediaflow/internal/media"
)

// Status is the lifecycle state of a remote job
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the job has reached a final state
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the backend's view of a submitted job, mirrored on disk
type Job struct {
	ID           string    `json:"id"`
	DefinitionID string    `json:"definitionId,omitempty"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Error        string    `json:"error,omitempty"`
	Results      *Result   `json:"results,omitempty"`
}

// Result holds the outputs of a completed job
type Result struct {
	Outputs     []Output     `json:"outputs"`
	TextOutputs []TextOutput `json:"textOutputs,omitempty"`
}

// Output is a single file produced by a job
type Output struct {
	Type        string `json:"type"` // image, video, text or file
	Path        string `json:"path"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	ParameterID string `json:"parameterId,omitempty"`
}

// TextOutput is a text value produced by a job, keyed by language code
type TextOutput struct {
	ParameterID string            `json:"parameterId,omitempty"`
	Content     map[string]string `json:"content"`
}

// Text returns the English content when present, otherwise the first
// language in sorted order so the choice is deterministic
func (t TextOutput) Text() string {
	if text, ok := t.Content["en"]; ok {
		return text
	}
	langs := make([]string, 0, len(t.Content))
	for lang := range t.Content {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	if len(langs) == 0 {
		return ""
	}
	return t.Content[langs[0]]
}

// FileInput assigns a local file to a target parameter of a job
type FileInput struct {
	ParameterID string     `json:"parameterId"`
	Path        string     `json:"path"`
	FileName    string     `json:"fileName"`
	FileType    media.Kind `json:"fileType"`
	FileSize    int64      `json:"fileSize"`
}

// SubmitRequest is the submission payload for a remote job
type SubmitRequest struct {
	DefinitionID      string            `json:"definitionId"`
	FileInputs        []FileInput       `json:"fileInputs"`
	TextInputs        map[string]string `json:"textInputs"`
	DeleteSourceFiles bool              `json:"deleteSourceFiles"`
}
