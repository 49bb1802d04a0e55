package ops

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/creatorsuite/mediaflow/internal/media"
	"github.com/creatorsuite/mediaflow/internal/utils"
)

// Resize modes for ResizeConfig.Mode
const (
	ResizePercentage   = "percentage"
	ResizeDimensions   = "dimensions"
	ResizeLongestSide  = "longest-side"
	ResizeShortestSide = "shortest-side"
)

// Fit strategies for dimension resizes
const (
	FitContain = "fit"     // scale to fit inside the box, pad the rest
	FitCover   = "fill"    // scale to cover the box, crop the overflow
	FitStretch = "stretch" // scale to the exact box, ignoring aspect
)

// ResizeConfig controls resizing of an image file
type ResizeConfig struct {
	Mode       string  `json:"mode" yaml:"mode"`
	Percentage float64 `json:"percentage,omitempty" yaml:"percentage,omitempty"`
	Width      int     `json:"width,omitempty" yaml:"width,omitempty"`
	Height     int     `json:"height,omitempty" yaml:"height,omitempty"`
	Fit        string  `json:"fit,omitempty" yaml:"fit,omitempty"` // fit, fill or stretch; default fit
	Target     int     `json:"target,omitempty" yaml:"target,omitempty"`
}

// Validate checks the resize parameters
func (c *ResizeConfig) Validate() error {
	switch c.Mode {
	case ResizePercentage:
		if c.Percentage <= 0 {
			return fmt.Errorf("percentage must be positive, got %g", c.Percentage)
		}
	case ResizeDimensions:
		if c.Width <= 0 || c.Height <= 0 {
			return fmt.Errorf("dimensions mode requires width and height")
		}
		switch c.Fit {
		case "", FitContain, FitCover, FitStretch:
		default:
			return fmt.Errorf("fit must be fit, fill or stretch, got %q", c.Fit)
		}
	case ResizeLongestSide, ResizeShortestSide:
		if c.Target <= 0 {
			return fmt.Errorf("%s mode requires target", c.Mode)
		}
	default:
		return fmt.Errorf("unknown resize mode %q", c.Mode)
	}
	return nil
}

// Filter returns the ffmpeg filter chain for the configured resize. Exported
// so definition previews can show the exact expression that will run.
func (c *ResizeConfig) Filter() string {
	switch c.Mode {
	case ResizePercentage:
		return fmt.Sprintf("scale=iw*%g/100:ih*%g/100", c.Percentage, c.Percentage)
	case ResizeDimensions:
		switch c.Fit {
		case FitCover:
			// Scale to cover the target box, then crop the overflow
			return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d",
				c.Width, c.Height, c.Width, c.Height)
		case FitStretch:
			return fmt.Sprintf("scale=%d:%d", c.Width, c.Height)
		default:
			// Scale to fit inside the target box, then pad to its exact size
			return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
				c.Width, c.Height, c.Width, c.Height)
		}
	case ResizeLongestSide:
		return fmt.Sprintf("scale='if(gt(iw,ih),%d,-1)':'if(gt(iw,ih),-1,%d)'", c.Target, c.Target)
	default:
		return fmt.Sprintf("scale='if(lt(iw,ih),%d,-1)':'if(lt(iw,ih),-1,%d)'", c.Target, c.Target)
	}
}

// runResize resizes an image, writing a _resized sibling
func (r *Runner) runResize(ctx context.Context, cfg *ResizeConfig, inputPath string) ([]Artifact, error) {
	if err := utils.ValidateInputFile(inputPath); err != nil {
		return nil, &OperationError{Kind: ErrKindIO, Op: KindImageResize, Message: err.Error(), Err: err}
	}
	if !media.IsImage(inputPath) {
		return nil, &OperationError{
			Kind:    ErrKindInvalidConfig,
			Op:      KindImageResize,
			Message: fmt.Sprintf("input is not an image: %s", inputPath),
		}
	}

	dir := filepath.Dir(inputPath)
	ext := filepath.Ext(inputPath)
	outPath := filepath.Join(dir, utils.StripExt(inputPath)+"_resized"+ext)

	utils.LogInfo("Resizing %s (%s)", filepath.Base(inputPath), cfg.Mode)

	args := []string{
		"-i", inputPath,
		"-vf", cfg.Filter(),
		outPath,
		"-y",
		"-loglevel", "error",
	}

	if err := r.runFFmpeg(ctx, KindImageResize, args); err != nil {
		return nil, err
	}

	utils.LogSuccess("Resized %s", filepath.Base(outPath))

	return []Artifact{{Path: outPath, Kind: media.KindImage}}, nil
}
