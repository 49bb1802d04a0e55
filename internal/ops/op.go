// Package ops implements the local media operations a pipeline step can run
package ops

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/creatorsuite/mediaflow/internal/media"
)

// execCommand allows us to mock exec.CommandContext in tests
var execCommand = exec.CommandContext

// Kind identifies a local operation
type Kind string

const (
	KindVideoConvert    Kind = "video-convert"
	KindVideoFPSConvert Kind = "video-fps-convert"
	KindVideoClip       Kind = "video-clip"
	KindVideoCrop       Kind = "video-crop"
	KindImageResize     Kind = "image-resize"
	KindDuckDecode      Kind = "duck-decode"
	KindCaption         Kind = "caption"
)

// Error kinds reported by OperationError
const (
	ErrKindInvalidConfig = "invalid-config"
	ErrKindFFmpeg        = "ffmpeg-failed"
	ErrKindTimedOut      = "timed-out"
	ErrKindIO            = "io-failed"
	ErrKindDecode        = "decode-failed"
	ErrKindCaption       = "caption-failed"
)

// OperationError describes a failed local operation
type OperationError struct {
	Kind    string
	Op      Kind
	Message string
	Err     error
}

func (e *OperationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s (%v)", e.Op, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// Operation is the configuration for a local step. Exactly one config field
// matching Kind must be set; the others stay nil.
type Operation struct {
	Kind       Kind              `json:"kind" yaml:"kind"`
	Convert    *ConvertConfig    `json:"convert,omitempty" yaml:"convert,omitempty"`
	FPSConvert *FPSConvertConfig `json:"fpsConvert,omitempty" yaml:"fpsConvert,omitempty"`
	Clip       *ClipConfig       `json:"clip,omitempty" yaml:"clip,omitempty"`
	Crop       *CropConfig       `json:"crop,omitempty" yaml:"crop,omitempty"`
	Resize     *ResizeConfig     `json:"resize,omitempty" yaml:"resize,omitempty"`
	Duck       *DuckConfig       `json:"duck,omitempty" yaml:"duck,omitempty"`
	Caption    *CaptionConfig    `json:"caption,omitempty" yaml:"caption,omitempty"`
}

// configFor returns the config struct matching the operation kind
func (o *Operation) configFor() (interface{ Validate() error }, error) {
	switch o.Kind {
	case KindVideoConvert:
		if o.Convert == nil {
			return nil, fmt.Errorf("missing convert config")
		}
		return o.Convert, nil
	case KindVideoFPSConvert:
		if o.FPSConvert == nil {
			return nil, fmt.Errorf("missing fpsConvert config")
		}
		return o.FPSConvert, nil
	case KindVideoClip:
		if o.Clip == nil {
			return nil, fmt.Errorf("missing clip config")
		}
		return o.Clip, nil
	case KindVideoCrop:
		if o.Crop == nil {
			return nil, fmt.Errorf("missing crop config")
		}
		return o.Crop, nil
	case KindImageResize:
		if o.Resize == nil {
			return nil, fmt.Errorf("missing resize config")
		}
		return o.Resize, nil
	case KindDuckDecode:
		if o.Duck == nil {
			return nil, fmt.Errorf("missing duck config")
		}
		return o.Duck, nil
	case KindCaption:
		if o.Caption == nil {
			return nil, fmt.Errorf("missing caption config")
		}
		return o.Caption, nil
	default:
		return nil, fmt.Errorf("unknown operation kind %q", o.Kind)
	}
}

// Validate checks that the config matching Kind is present and well-formed
func (o *Operation) Validate() error {
	cfg, err := o.configFor()
	if err != nil {
		return &OperationError{Kind: ErrKindInvalidConfig, Op: o.Kind, Message: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return &OperationError{Kind: ErrKindInvalidConfig, Op: o.Kind, Message: err.Error(), Err: err}
	}
	return nil
}

// Artifact is a file produced by a local operation
type Artifact struct {
	Path string
	Kind media.Kind
}

// Captioner generates a caption file for a media file. It is implemented by
// the remote jobs client; declared here so ops does not depend on it.
type Captioner interface {
	Caption(ctx context.Context, filePath, fileName, outputDir string) (string, error)
}

// Runner executes local operations against a single input file
type Runner struct {
	// FFmpegTimeout is the hard limit for one ffmpeg invocation; zero means no limit
	FFmpegTimeout time.Duration
	// Captioner handles caption operations; nil disables them
	Captioner Captioner
}

// NewRunner creates a runner with the given ffmpeg timeout and captioner
func NewRunner(ffmpegTimeout time.Duration, captioner Captioner) *Runner {
	return &Runner{
		FFmpegTimeout: ffmpegTimeout,
		Captioner:     captioner,
	}
}

// Run validates the operation and executes it against inputPath, returning
// the produced artifacts. Operations are not retried.
func (r *Runner) Run(ctx context.Context, op Operation, inputPath string) ([]Artifact, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}

	switch op.Kind {
	case KindVideoConvert:
		return r.runConvert(ctx, op.Convert, inputPath)
	case KindVideoFPSConvert:
		return r.runFPSConvert(ctx, op.FPSConvert, inputPath)
	case KindVideoClip:
		return r.runClip(ctx, op.Clip, inputPath)
	case KindVideoCrop:
		return r.runCrop(ctx, op.Crop, inputPath)
	case KindImageResize:
		return r.runResize(ctx, op.Resize, inputPath)
	case KindDuckDecode:
		return r.runDuckDecode(ctx, op.Duck, inputPath)
	case KindCaption:
		return r.runCaption(ctx, op.Caption, inputPath)
	default:
		return nil, &OperationError{Kind: ErrKindInvalidConfig, Op: op.Kind, Message: "unknown operation kind"}
	}
}
