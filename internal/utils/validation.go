package utils

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ExecLookPath allows us to mock exec.LookPath in tests
var ExecLookPath = exec.LookPath

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ValidateInputFile checks that a path exists and refers to a regular file
func ValidateInputFile(path string) error {
	if path == "" {
		return &ValidationError{
			Field:   "input",
			Message: "input path is required",
		}
	}

	fileInfo, err := os.Stat(path)
	if err != nil {
		return &ValidationError{
			Field:   "input",
			Message: fmt.Sprintf("input path does not exist: %s", path),
			Err:     err,
		}
	}

	if fileInfo.IsDir() {
		return &ValidationError{
			Field:   "input",
			Message: fmt.Sprintf("input must be a file, not a directory: %s", path),
		}
	}

	return nil
}

// ValidateOutputPath validates an output path, creating the directory if needed
func ValidateOutputPath(output string) error {
	if output == "" {
		return &ValidationError{
			Field:   "output",
			Message: "output path is required",
		}
	}

	if err := os.MkdirAll(output, 0755); err != nil {
		return &ValidationError{
			Field:   "output",
			Message: "failed to create output directory",
			Err:     err,
		}
	}

	return nil
}

// ValidateVideoFile validates a video file path and checks for FFmpeg
func ValidateVideoFile(videoFile string) error {
	if videoFile == "" {
		return &ValidationError{
			Field:   "video",
			Message: "video file path is required",
		}
	}

	if _, err := os.Stat(videoFile); os.IsNotExist(err) {
		return &ValidationError{
			Field:   "video",
			Message: fmt.Sprintf("video file does not exist: %s", videoFile),
			Err:     err,
		}
	}

	if _, err := ExecLookPath("ffmpeg"); err != nil {
		return &ValidationError{
			Field:   "ffmpeg",
			Message: "ffmpeg not found in PATH",
			Err:     err,
		}
	}

	return nil
}

// ValidateFileExtension checks if a file has one of the allowed extensions
func ValidateFileExtension(filePath string, allowedExts []string) error {
	ext := strings.ToLower(filepath.Ext(filePath))
	for _, allowedExt := range allowedExts {
		if ext == allowedExt {
			return nil
		}
	}
	return &ValidationError{
		Field:   "extension",
		Message: fmt.Sprintf("file extension %s not allowed. Allowed extensions: %v", ext, allowedExts),
	}
}
