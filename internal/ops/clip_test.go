package ops

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/creatorsuite/mediaflow/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClipFirstFrame(t *testing.T) {
	fake := stubFFmpeg(t)
	dir := t.TempDir()
	input := writeTestFile(t, dir, "demo.mp4")

	runner := NewRunner(0, nil)
	artifacts, err := runner.Run(context.Background(), Operation{
		Kind: KindVideoClip,
		Clip: &ClipConfig{Mode: ClipFirstFrame},
	}, input)

	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, filepath.Join(dir, "demo_first.png"), artifacts[0].Path)
	assert.Equal(t, media.KindImage, artifacts[0].Kind)

	require.Len(t, fake.calls, 1)
	assert.Contains(t, strings.Join(fake.calls[0].args, " "), "-frames:v 1")
}

func TestClipLastFrame(t *testing.T) {
	fake := stubFFmpeg(t)
	dir := t.TempDir()
	input := writeTestFile(t, dir, "demo.mp4")

	runner := NewRunner(0, nil)
	artifacts, err := runner.Run(context.Background(), Operation{
		Kind: KindVideoClip,
		Clip: &ClipConfig{Mode: ClipLastFrame},
	}, input)

	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, filepath.Join(dir, "demo_last.png"), artifacts[0].Path)

	args := strings.Join(fake.calls[0].args, " ")
	assert.Contains(t, args, "-sseof -3")
	assert.Contains(t, args, "-update 1")
}

func TestClipLastNFrames(t *testing.T) {
	fake := stubFFmpeg(t)
	fake.frameTotal = 100
	fake.frames = 3
	dir := t.TempDir()
	input := writeTestFile(t, dir, "demo.mp4")

	runner := NewRunner(0, nil)
	artifacts, err := runner.Run(context.Background(), Operation{
		Kind: KindVideoClip,
		Clip: &ClipConfig{Mode: ClipLastNFrames, FrameCount: 3},
	}, input)

	require.NoError(t, err)
	require.Len(t, artifacts, 3)
	assert.Equal(t, filepath.Join(dir, "demo_0001.png"), artifacts[0].Path)
	assert.Equal(t, filepath.Join(dir, "demo_0003.png"), artifacts[2].Path)

	require.Len(t, fake.calls, 2)
	assert.Equal(t, "ffprobe", fake.calls[0].name)
	args := strings.Join(fake.calls[1].args, " ")
	assert.Contains(t, args, "select='gte(n,97)'")
	assert.Contains(t, args, "-vsync 0")
}

func TestClipLastNFramesShortVideo(t *testing.T) {
	fake := stubFFmpeg(t)
	fake.frameTotal = 5
	fake.frames = 5
	dir := t.TempDir()
	input := writeTestFile(t, dir, "demo.mp4")

	runner := NewRunner(0, nil)
	artifacts, err := runner.Run(context.Background(), Operation{
		Kind: KindVideoClip,
		Clip: &ClipConfig{Mode: ClipLastNFrames, FrameCount: 10},
	}, input)

	require.NoError(t, err)
	assert.Len(t, artifacts, 5)
	assert.Contains(t, strings.Join(fake.calls[1].args, " "), "select='gte(n,0)'")
}

func TestClipFixedTimeInterval(t *testing.T) {
	fake := stubFFmpeg(t)
	fake.frames = 4
	dir := t.TempDir()
	input := writeTestFile(t, dir, "demo.mp4")

	runner := NewRunner(0, nil)
	artifacts, err := runner.Run(context.Background(), Operation{
		Kind: KindVideoClip,
		Clip: &ClipConfig{Mode: ClipFixedTimeInterval, IntervalSeconds: 2.5},
	}, input)

	require.NoError(t, err)
	assert.Len(t, artifacts, 4)
	assert.Contains(t, strings.Join(fake.calls[0].args, " "), "fps=1/2.5")
}

func TestClipFixedFrameInterval(t *testing.T) {
	fake := stubFFmpeg(t)
	fake.frames = 2
	dir := t.TempDir()
	input := writeTestFile(t, dir, "demo.mp4")

	runner := NewRunner(0, nil)
	artifacts, err := runner.Run(context.Background(), Operation{
		Kind: KindVideoClip,
		Clip: &ClipConfig{Mode: ClipFixedFrameInterval, IntervalFrames: 10},
	}, input)

	require.NoError(t, err)
	assert.Len(t, artifacts, 2)
	assert.Contains(t, strings.Join(fake.calls[0].args, " "), "select='not(mod(n,10))'")
}

func TestClipJpgQualityScale(t *testing.T) {
	fake := stubFFmpeg(t)
	dir := t.TempDir()
	input := writeTestFile(t, dir, "demo.mp4")

	runner := NewRunner(0, nil)
	artifacts, err := runner.Run(context.Background(), Operation{
		Kind: KindVideoClip,
		Clip: &ClipConfig{Mode: ClipFirstFrame, ImageFormat: "jpg", Quality: 80},
	}, input)

	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, filepath.Join(dir, "demo_first.jpg"), artifacts[0].Path)

	// 80 on the 1-100 scale lands on qscale 8
	assert.Contains(t, strings.Join(fake.calls[0].args, " "), "-q:v 8")
}

func TestClipOrganizeByVideo(t *testing.T) {
	stubFFmpeg(t)
	dir := t.TempDir()
	input := writeTestFile(t, dir, "demo.mp4")

	runner := NewRunner(0, nil)
	artifacts, err := runner.Run(context.Background(), Operation{
		Kind: KindVideoClip,
		Clip: &ClipConfig{
			Mode:            ClipFirstFrame,
			OutputDir:       filepath.Join(dir, "frames"),
			OrganizeByVideo: true,
		},
	}, input)

	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, filepath.Join(dir, "frames", "demo", "demo_first.png"), artifacts[0].Path)
	assert.FileExists(t, artifacts[0].Path)
}

func TestClipOnlyReportsNewFiles(t *testing.T) {
	stubFFmpeg(t)
	dir := t.TempDir()
	input := writeTestFile(t, dir, "demo.mp4")
	writeTestFile(t, dir, "leftover.png")

	runner := NewRunner(0, nil)
	artifacts, err := runner.Run(context.Background(), Operation{
		Kind: KindVideoClip,
		Clip: &ClipConfig{Mode: ClipFirstFrame},
	}, input)

	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, filepath.Join(dir, "demo_first.png"), artifacts[0].Path)
}

func TestClipDeleteOriginal(t *testing.T) {
	stubFFmpeg(t)
	dir := t.TempDir()
	input := writeTestFile(t, dir, "demo.mp4")

	runner := NewRunner(0, nil)
	_, err := runner.Run(context.Background(), Operation{
		Kind: KindVideoClip,
		Clip: &ClipConfig{Mode: ClipFirstFrame, DeleteOriginal: true},
	}, input)

	require.NoError(t, err)
	assert.NoFileExists(t, input)
}

func TestClipConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ClipConfig
		wantErr string
	}{
		{"first frame", ClipConfig{Mode: ClipFirstFrame}, ""},
		{"last n frames", ClipConfig{Mode: ClipLastNFrames, FrameCount: 5}, ""},
		{"unknown mode", ClipConfig{Mode: "every-third"}, "unknown clip mode"},
		{"bad format", ClipConfig{Mode: ClipFirstFrame, ImageFormat: "webp"}, "imageFormat must be png or jpg"},
		{"quality out of range", ClipConfig{Mode: ClipFirstFrame, Quality: 150}, "quality must be"},
		{"last-n without count", ClipConfig{Mode: ClipLastNFrames}, "frameCount is required"},
		{"time interval without seconds", ClipConfig{Mode: ClipFixedTimeInterval}, "intervalSeconds is required"},
		{"frame interval without frames", ClipConfig{Mode: ClipFixedFrameInterval}, "intervalFrames is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
