package ops

import (
	"context"
	"path/filepath"

	"github.com/creatorsuite/mediaflow/internal/media"
	"github.com/creatorsuite/mediaflow/internal/utils"
)

// CaptionConfig controls caption generation for a media file
type CaptionConfig struct {
	OutputDir string `json:"outputDir,omitempty" yaml:"outputDir,omitempty"` // default: alongside the source
}

// Validate checks the caption parameters
func (c *CaptionConfig) Validate() error {
	return nil
}

// runCaption asks the captioning service to describe the file and returns the
// written caption file as a text artifact
func (r *Runner) runCaption(ctx context.Context, cfg *CaptionConfig, inputPath string) ([]Artifact, error) {
	if err := utils.ValidateInputFile(inputPath); err != nil {
		return nil, &OperationError{Kind: ErrKindIO, Op: KindCaption, Message: err.Error(), Err: err}
	}
	if r.Captioner == nil {
		return nil, &OperationError{
			Kind:    ErrKindCaption,
			Op:      KindCaption,
			Message: "captioning service not configured",
		}
	}

	outDir := cfg.OutputDir
	if outDir == "" {
		outDir = filepath.Dir(inputPath)
	}
	if err := utils.ValidateOutputPath(outDir); err != nil {
		return nil, &OperationError{Kind: ErrKindIO, Op: KindCaption, Message: err.Error(), Err: err}
	}

	utils.LogInfo("Requesting caption for %s", filepath.Base(inputPath))

	captionPath, err := r.Captioner.Caption(ctx, inputPath, filepath.Base(inputPath), outDir)
	if err != nil {
		return nil, &OperationError{Kind: ErrKindCaption, Op: KindCaption, Message: "caption request failed", Err: err}
	}

	utils.LogSuccess("Caption written to %s", filepath.Base(captionPath))

	return []Artifact{{Path: captionPath, Kind: media.KindText}}, nil
}
