package ops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/creatorsuite/mediaflow/internal/media"
	"github.com/creatorsuite/mediaflow/internal/utils"
	"github.com/samber/lo"
)

// Frame extraction policies for ClipConfig.Mode
const (
	ClipFirstFrame         = "first-frame"
	ClipLastFrame          = "last-frame"
	ClipLastNFrames        = "last-n-frames"
	ClipFixedTimeInterval  = "fixed-time-interval"
	ClipFixedFrameInterval = "fixed-frame-interval"
)

var clipModes = map[string]bool{
	ClipFirstFrame:         true,
	ClipLastFrame:          true,
	ClipLastNFrames:        true,
	ClipFixedTimeInterval:  true,
	ClipFixedFrameInterval: true,
}

// ClipConfig controls frame extraction from a video file
type ClipConfig struct {
	Mode            string  `json:"mode" yaml:"mode"`
	ImageFormat     string  `json:"imageFormat,omitempty" yaml:"imageFormat,omitempty"` // png or jpg, default png
	Quality         int     `json:"quality,omitempty" yaml:"quality,omitempty"`         // jpg quality 1-100, default 95
	FrameCount      int     `json:"frameCount,omitempty" yaml:"frameCount,omitempty"`
	IntervalSeconds float64 `json:"intervalSeconds,omitempty" yaml:"intervalSeconds,omitempty"`
	IntervalFrames  int     `json:"intervalFrames,omitempty" yaml:"intervalFrames,omitempty"`
	OutputDir       string  `json:"outputDir,omitempty" yaml:"outputDir,omitempty"` // default: alongside the video
	OrganizeByVideo bool    `json:"organizeByVideo,omitempty" yaml:"organizeByVideo,omitempty"`
	DeleteOriginal  bool    `json:"deleteOriginal,omitempty" yaml:"deleteOriginal,omitempty"`
}

// Validate checks the frame extraction parameters
func (c *ClipConfig) Validate() error {
	if !clipModes[c.Mode] {
		return fmt.Errorf("unknown clip mode %q", c.Mode)
	}
	if c.ImageFormat != "" && c.ImageFormat != "png" && c.ImageFormat != "jpg" {
		return fmt.Errorf("imageFormat must be png or jpg, got %q", c.ImageFormat)
	}
	if c.Quality < 0 || c.Quality > 100 {
		return fmt.Errorf("quality must be between 1 and 100, got %d", c.Quality)
	}
	switch c.Mode {
	case ClipLastNFrames:
		if c.FrameCount <= 0 {
			return fmt.Errorf("frameCount is required for mode %s", c.Mode)
		}
	case ClipFixedTimeInterval:
		if c.IntervalSeconds <= 0 {
			return fmt.Errorf("intervalSeconds is required for mode %s", c.Mode)
		}
	case ClipFixedFrameInterval:
		if c.IntervalFrames <= 0 {
			return fmt.Errorf("intervalFrames is required for mode %s", c.Mode)
		}
	}
	return nil
}

// runClip extracts frames from a video. Created files are discovered by
// comparing directory listings taken before and after the ffmpeg run, since
// the output patterns do not predict how many frames ffmpeg will write.
func (r *Runner) runClip(ctx context.Context, cfg *ClipConfig, inputPath string) ([]Artifact, error) {
	if err := utils.ValidateVideoFile(inputPath); err != nil {
		return nil, &OperationError{Kind: ErrKindIO, Op: KindVideoClip, Message: err.Error(), Err: err}
	}

	format := cfg.ImageFormat
	if format == "" {
		format = "png"
	}
	quality := cfg.Quality
	if quality == 0 {
		quality = 95
	}

	stem := utils.StripExt(inputPath)
	outDir := cfg.OutputDir
	if outDir == "" {
		outDir = filepath.Dir(inputPath)
	}
	if cfg.OrganizeByVideo {
		outDir = filepath.Join(outDir, stem)
	}
	if err := utils.ValidateOutputPath(outDir); err != nil {
		return nil, &OperationError{Kind: ErrKindIO, Op: KindVideoClip, Message: err.Error(), Err: err}
	}

	before, err := listFileNames(outDir)
	if err != nil {
		return nil, &OperationError{Kind: ErrKindIO, Op: KindVideoClip, Message: "failed to list output directory", Err: err}
	}

	args, err := r.clipArgs(ctx, cfg, inputPath, outDir, stem, format, quality)
	if err != nil {
		return nil, err
	}

	utils.LogInfo("Extracting frames from %s (%s)", filepath.Base(inputPath), cfg.Mode)

	if err := r.runFFmpeg(ctx, KindVideoClip, args); err != nil {
		return nil, err
	}

	after, err := listFileNames(outDir)
	if err != nil {
		return nil, &OperationError{Kind: ErrKindIO, Op: KindVideoClip, Message: "failed to list output directory", Err: err}
	}

	created := lo.Without(after, before...)
	sort.Strings(created)

	artifacts := make([]Artifact, 0, len(created))
	for _, name := range created {
		artifacts = append(artifacts, Artifact{
			Path: filepath.Join(outDir, name),
			Kind: media.KindImage,
		})
	}

	if cfg.DeleteOriginal {
		if err := os.Remove(inputPath); err != nil {
			utils.LogWarning("Failed to delete source video %s: %v", inputPath, err)
		}
	}

	utils.LogSuccess("Extracted %d frames from %s", len(artifacts), filepath.Base(inputPath))

	return artifacts, nil
}

// clipArgs builds the ffmpeg argument list for the chosen extraction policy
func (r *Runner) clipArgs(ctx context.Context, cfg *ClipConfig, inputPath, outDir, stem, format string, quality int) ([]string, error) {
	var qualityArgs []string
	if format == "jpg" {
		// Map the 1-100 quality scale onto ffmpeg's 31-2 qscale range
		qscale := 31 - (quality*29)/100
		qualityArgs = []string{"-q:v", strconv.Itoa(qscale)}
	}

	tail := func(out string) []string {
		args := append([]string{}, qualityArgs...)
		return append(args, out, "-y", "-loglevel", "error")
	}

	switch cfg.Mode {
	case ClipFirstFrame:
		out := filepath.Join(outDir, fmt.Sprintf("%s_first.%s", stem, format))
		args := []string{"-i", inputPath, "-frames:v", "1"}
		return append(args, tail(out)...), nil

	case ClipLastFrame:
		// -sseof seeks from the end of file; -update keeps rewriting the same
		// output so only the final decodable frame survives
		out := filepath.Join(outDir, fmt.Sprintf("%s_last.%s", stem, format))
		args := []string{"-sseof", "-3", "-i", inputPath, "-update", "1", "-frames:v", "1"}
		return append(args, tail(out)...), nil

	case ClipLastNFrames:
		total, err := r.probeFrameCount(ctx, KindVideoClip, inputPath)
		if err != nil {
			return nil, err
		}
		start := total - cfg.FrameCount
		if start < 0 {
			start = 0
		}
		out := filepath.Join(outDir, fmt.Sprintf("%s_%%04d.%s", stem, format))
		args := []string{
			"-i", inputPath,
			"-vf", fmt.Sprintf("select='gte(n,%d)'", start),
			"-vsync", "0",
		}
		return append(args, tail(out)...), nil

	case ClipFixedTimeInterval:
		out := filepath.Join(outDir, fmt.Sprintf("%s_%%04d.%s", stem, format))
		args := []string{
			"-i", inputPath,
			"-vf", fmt.Sprintf("fps=1/%g", cfg.IntervalSeconds),
			"-vsync", "0",
		}
		return append(args, tail(out)...), nil

	case ClipFixedFrameInterval:
		out := filepath.Join(outDir, fmt.Sprintf("%s_%%04d.%s", stem, format))
		args := []string{
			"-i", inputPath,
			"-vf", fmt.Sprintf("select='not(mod(n,%d))'", cfg.IntervalFrames),
			"-vsync", "0",
		}
		return append(args, tail(out)...), nil

	default:
		return nil, &OperationError{Kind: ErrKindInvalidConfig, Op: KindVideoClip, Message: fmt.Sprintf("unknown clip mode %q", cfg.Mode)}
	}
}

// listFileNames returns the names of regular files in a directory
func listFileNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}
