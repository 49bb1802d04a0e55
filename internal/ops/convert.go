package ops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/creatorsuite/mediaflow/internal/media"
	"github.com/creatorsuite/mediaflow/internal/utils"
)

// ConvertConfig controls mp4 conversion of a video file
type ConvertConfig struct {
	// DeleteOriginal removes the source file after a successful conversion
	DeleteOriginal bool `json:"deleteOriginal,omitempty" yaml:"deleteOriginal,omitempty"`
}

// Validate checks the conversion parameters
func (c *ConvertConfig) Validate() error {
	return nil
}

// runConvert re-encodes a video to H.264 mp4 without audio. The encode goes to
// a temporary file first; the final name only appears once ffmpeg succeeds.
func (r *Runner) runConvert(ctx context.Context, cfg *ConvertConfig, inputPath string) ([]Artifact, error) {
	if err := utils.ValidateVideoFile(inputPath); err != nil {
		return nil, &OperationError{Kind: ErrKindIO, Op: KindVideoConvert, Message: err.Error(), Err: err}
	}

	base := strings.TrimSuffix(inputPath, filepath.Ext(inputPath))
	tempPath := base + ".temp.mp4"
	finalPath := base + ".mp4"

	utils.LogInfo("Converting %s -> %s", filepath.Base(inputPath), filepath.Base(finalPath))

	args := []string{
		"-i", inputPath,
		"-c:v", "libx264",
		"-an",
		tempPath,
		"-y",
		"-loglevel", "error",
	}

	if err := r.runFFmpeg(ctx, KindVideoConvert, args); err != nil {
		_ = os.Remove(tempPath)
		return nil, err
	}

	// Converting an mp4 in place replaces the source; otherwise the source is
	// only removed when deleteOriginal is set.
	if finalPath == inputPath || cfg.DeleteOriginal {
		if err := os.Remove(inputPath); err != nil && !os.IsNotExist(err) {
			_ = os.Remove(tempPath)
			return nil, &OperationError{
				Kind:    ErrKindIO,
				Op:      KindVideoConvert,
				Message: fmt.Sprintf("failed to remove original %s", inputPath),
				Err:     err,
			}
		}
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		return nil, &OperationError{
			Kind:    ErrKindIO,
			Op:      KindVideoConvert,
			Message: fmt.Sprintf("failed to move converted file into place: %s", finalPath),
			Err:     err,
		}
	}

	utils.LogSuccess("Converted %s", filepath.Base(finalPath))

	return []Artifact{{Path: finalPath, Kind: media.KindVideo}}, nil
}
