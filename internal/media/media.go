// Package media classifies files and backend outputs by media kind
package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Kind identifies the media category of a file or output
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindText  Kind = "text"
	KindFile  Kind = "file"
)

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".webp": true,
	".gif": true, ".bmp": true, ".tiff": true, ".heic": true,
}

var videoExts = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".wmv": true,
	".flv": true, ".webm": true, ".m4v": true, ".mpg": true, ".mpeg": true,
	".3gp": true,
}

var textExts = map[string]bool{
	".txt": true, ".md": true, ".srt": true, ".vtt": true, ".json": true,
	".csv": true, ".yaml": true, ".yml": true,
}

// Detect infers the media kind from a file extension. Unknown extensions
// default to image, matching how unlabelled backend outputs are treated.
func Detect(path string) Kind {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case videoExts[ext]:
		return KindVideo
	case textExts[ext]:
		return KindText
	case imageExts[ext]:
		return KindImage
	default:
		return KindImage
	}
}

// FromOutputTag maps a backend output type tag to a Kind. The second return
// is false when the tag is absent or unrecognized.
func FromOutputTag(tag string) (Kind, bool) {
	switch strings.ToLower(tag) {
	case "image":
		return KindImage, true
	case "video":
		return KindVideo, true
	case "text":
		return KindText, true
	case "file":
		return KindFile, true
	default:
		return "", false
	}
}

// IsVideo reports whether the path has a recognized video extension
func IsVideo(path string) bool {
	return videoExts[strings.ToLower(filepath.Ext(path))]
}

// IsImage reports whether the path has a recognized image extension
func IsImage(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

// IsMedia reports whether the path has a recognized image or video extension
func IsMedia(path string) bool {
	return IsImage(path) || IsVideo(path)
}

// ListFiles returns the media files directly inside dir, in directory order.
// Subdirectories are not descended into.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !IsMedia(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	return files, nil
}
