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

// ffmpeg speed presets accepted by FPSConvertConfig
var ffmpegPresets = map[string]bool{
	"ultrafast": true, "superfast": true, "veryfast": true, "faster": true,
	"fast": true, "medium": true, "slow": true, "slower": true, "veryslow": true,
}

// FPSConvertConfig controls frame-rate conversion of a video file
type FPSConvertConfig struct {
	FPS     int        `json:"fps" yaml:"fps"`
	Quality int        `json:"quality,omitempty" yaml:"quality,omitempty"` // CRF value, default 23
	Preset  string     `json:"preset,omitempty" yaml:"preset,omitempty"`  // ffmpeg speed preset, default medium
	Resize  *FPSResize `json:"resize,omitempty" yaml:"resize,omitempty"`
}

// FPSResize optionally scales the video during conversion. Exactly one of the
// three sizing strategies may be used.
type FPSResize struct {
	Width        int `json:"width,omitempty" yaml:"width,omitempty"`   // bounding box, preserves aspect
	Height       int `json:"height,omitempty" yaml:"height,omitempty"` // bounding box, preserves aspect
	LongestSide  int `json:"longestSide,omitempty" yaml:"longestSide,omitempty"`
	ShortestSide int `json:"shortestSide,omitempty" yaml:"shortestSide,omitempty"`
}

// Validate checks the fps conversion parameters
func (c *FPSConvertConfig) Validate() error {
	if c.FPS < 1 || c.FPS > 240 {
		return fmt.Errorf("fps must be between 1 and 240, got %d", c.FPS)
	}
	if c.Quality < 0 || c.Quality > 51 {
		return fmt.Errorf("quality must be a CRF value between 0 and 51, got %d", c.Quality)
	}
	if c.Preset != "" && !ffmpegPresets[c.Preset] {
		return fmt.Errorf("unknown ffmpeg preset %q", c.Preset)
	}
	if c.Resize != nil {
		return c.Resize.validate()
	}
	return nil
}

func (s *FPSResize) validate() error {
	box := s.Width > 0 || s.Height > 0
	if s.Width < 0 || s.Height < 0 || s.LongestSide < 0 || s.ShortestSide < 0 {
		return fmt.Errorf("resize dimensions must be positive")
	}
	if box && (s.Width <= 0 || s.Height <= 0) {
		return fmt.Errorf("resize width and height must both be set")
	}
	used := 0
	if box {
		used++
	}
	if s.LongestSide > 0 {
		used++
	}
	if s.ShortestSide > 0 {
		used++
	}
	if used == 0 {
		return fmt.Errorf("resize requires width/height, longestSide or shortestSide")
	}
	if used > 1 {
		return fmt.Errorf("resize accepts only one sizing strategy")
	}
	return nil
}

// filter returns the scale filter expression for the chosen strategy. The -2
// placeholder keeps the aspect ratio while rounding to even dimensions, which
// libx264 requires.
func (s *FPSResize) filter() string {
	switch {
	case s.Width > 0 && s.Height > 0:
		return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", s.Width, s.Height)
	case s.LongestSide > 0:
		return fmt.Sprintf("scale='if(gt(iw,ih),%d,-2)':'if(gt(iw,ih),-2,%d)'", s.LongestSide, s.LongestSide)
	default:
		return fmt.Sprintf("scale='if(lt(iw,ih),%d,-2)':'if(lt(iw,ih),-2,%d)'", s.ShortestSide, s.ShortestSide)
	}
}

// runFPSConvert re-encodes a video at a new frame rate, optionally scaling it.
func (r *Runner) runFPSConvert(ctx context.Context, cfg *FPSConvertConfig, inputPath string) ([]Artifact, error) {
	if err := utils.ValidateVideoFile(inputPath); err != nil {
		return nil, &OperationError{Kind: ErrKindIO, Op: KindVideoFPSConvert, Message: err.Error(), Err: err}
	}

	quality := cfg.Quality
	if quality == 0 {
		quality = 23
	}
	preset := cfg.Preset
	if preset == "" {
		preset = "medium"
	}

	filters := []string{fmt.Sprintf("fps=%d", cfg.FPS)}
	if cfg.Resize != nil {
		filters = append(filters, cfg.Resize.filter())
	}

	dir := filepath.Dir(inputPath)
	stem := utils.StripExt(inputPath)
	finalPath := filepath.Join(dir, fmt.Sprintf("%s_%dfps.mp4", stem, cfg.FPS))
	tempPath := filepath.Join(dir, fmt.Sprintf("%s_%dfps.temp.mp4", stem, cfg.FPS))

	utils.LogInfo("Converting %s to %d fps", filepath.Base(inputPath), cfg.FPS)

	args := []string{
		"-i", inputPath,
		"-vf", strings.Join(filters, ","),
		"-c:v", "libx264",
		"-crf", fmt.Sprintf("%d", quality),
		"-preset", preset,
		"-c:a", "copy",
		tempPath,
		"-y",
		"-loglevel", "error",
	}

	if err := r.runFFmpeg(ctx, KindVideoFPSConvert, args); err != nil {
		_ = os.Remove(tempPath)
		return nil, err
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		return nil, &OperationError{
			Kind:    ErrKindIO,
			Op:      KindVideoFPSConvert,
			Message: fmt.Sprintf("failed to move converted file into place: %s", finalPath),
			Err:     err,
		}
	}

	utils.LogSuccess("Converted %s to %d fps", filepath.Base(finalPath), cfg.FPS)

	return []Artifact{{Path: finalPath, Kind: media.KindVideo}}, nil
}
