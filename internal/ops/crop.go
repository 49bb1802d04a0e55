package ops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/creatorsuite/mediaflow/internal/media"
	"github.com/creatorsuite/mediaflow/internal/utils"
)

// Crop regions for CropConfig.Region
const (
	CropLeft   = "left"
	CropRight  = "right"
	CropCenter = "center"
	CropTop    = "top"
	CropBottom = "bottom"
	CropCustom = "custom"
)

var cropRegions = map[string]bool{
	CropLeft: true, CropRight: true, CropCenter: true,
	CropTop: true, CropBottom: true, CropCustom: true,
}

// CropConfig controls cropping of a video file. Custom rects are expressed as
// percentages of the source dimensions so a definition works for any input size.
type CropConfig struct {
	Region        string  `json:"region" yaml:"region"`
	X             float64 `json:"x,omitempty" yaml:"x,omitempty"`           // percent 0-100
	Y             float64 `json:"y,omitempty" yaml:"y,omitempty"`           // percent 0-100
	Width         float64 `json:"width,omitempty" yaml:"width,omitempty"`   // percent 0-100
	Height        float64 `json:"height,omitempty" yaml:"height,omitempty"` // percent 0-100
	PreserveAudio bool    `json:"preserveAudio,omitempty" yaml:"preserveAudio,omitempty"`
}

// Validate checks the crop parameters
func (c *CropConfig) Validate() error {
	if !cropRegions[c.Region] {
		return fmt.Errorf("unknown crop region %q", c.Region)
	}
	if c.Region == CropCustom {
		if c.Width <= 0 || c.Height <= 0 {
			return fmt.Errorf("custom crop requires width and height")
		}
		if c.X < 0 || c.Y < 0 {
			return fmt.Errorf("custom crop requires x and y")
		}
		if c.X+c.Width > 100 || c.Y+c.Height > 100 {
			return fmt.Errorf("crop rect exceeds the source bounds")
		}
	}
	return nil
}

// filter returns the ffmpeg crop expression for the configured region, using
// iw/ih so the same definition applies to any resolution
func (c *CropConfig) filter() string {
	switch c.Region {
	case CropLeft:
		return "crop=iw*0.5:ih:0:0"
	case CropRight:
		return "crop=iw*0.5:ih:iw*0.5:0"
	case CropCenter:
		return "crop=iw*0.5:ih:iw*0.25:0"
	case CropTop:
		return "crop=iw:ih*0.5:0:0"
	case CropBottom:
		return "crop=iw:ih*0.5:0:ih*0.5"
	default:
		return fmt.Sprintf("crop=iw*%g:ih*%g:iw*%g:ih*%g",
			c.Width/100, c.Height/100, c.X/100, c.Y/100)
	}
}

// runCrop crops a video to the configured region, writing a _cropped sibling
func (r *Runner) runCrop(ctx context.Context, cfg *CropConfig, inputPath string) ([]Artifact, error) {
	if err := utils.ValidateVideoFile(inputPath); err != nil {
		return nil, &OperationError{Kind: ErrKindIO, Op: KindVideoCrop, Message: err.Error(), Err: err}
	}

	dir := filepath.Dir(inputPath)
	ext := filepath.Ext(inputPath)
	finalPath := filepath.Join(dir, utils.StripExt(inputPath)+"_cropped"+ext)
	tempPath := filepath.Join(dir, utils.StripExt(inputPath)+"_cropped.temp"+ext)

	utils.LogInfo("Cropping %s (region: %s)", filepath.Base(inputPath), cfg.Region)

	audioArgs := []string{"-an"}
	if cfg.PreserveAudio {
		audioArgs = []string{"-c:a", "copy"}
	}

	args := []string{
		"-i", inputPath,
		"-vf", cfg.filter(),
		"-c:v", "libx264",
	}
	args = append(args, audioArgs...)
	args = append(args, tempPath, "-y", "-loglevel", "error")

	if err := r.runFFmpeg(ctx, KindVideoCrop, args); err != nil {
		_ = os.Remove(tempPath)
		return nil, err
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		return nil, &OperationError{
			Kind:    ErrKindIO,
			Op:      KindVideoCrop,
			Message: fmt.Sprintf("failed to move cropped file into place: %s", finalPath),
			Err:     err,
		}
	}

	utils.LogSuccess("Cropped %s", filepath.Base(finalPath))

	return []Artifact{{Path: finalPath, Kind: media.KindVideo}}, nil
}
