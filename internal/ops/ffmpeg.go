package ops

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/creatorsuite/mediaflow/internal/utils"
)

// runFFmpeg invokes ffmpeg with the given arguments, capturing stderr for
// error reporting. A non-zero exit or timeout becomes an OperationError.
func (r *Runner) runFFmpeg(ctx context.Context, op Kind, args []string) error {
	if _, err := utils.ExecLookPath("ffmpeg"); err != nil {
		return &OperationError{Kind: ErrKindFFmpeg, Op: op, Message: "ffmpeg not found in PATH", Err: err}
	}

	if r.FFmpegTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.FFmpegTimeout)
		defer cancel()
	}

	cmd := execCommand(ctx, "ffmpeg", args...)

	var stderr bytes.Buffer
	cmd.Stdout = nil
	cmd.Stderr = &stderr

	utils.LogDebug("Running ffmpeg %s", strings.Join(args, " "))

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &OperationError{Kind: ErrKindTimedOut, Op: op, Message: "ffmpeg invocation timed out", Err: ctx.Err()}
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "ffmpeg command failed"
		}
		return &OperationError{Kind: ErrKindFFmpeg, Op: op, Message: msg, Err: err}
	}

	return nil
}

// probeFrameCount returns the number of video frames in a file using ffprobe.
// Some containers do not record nb_frames, so it falls back to the packet count.
func (r *Runner) probeFrameCount(ctx context.Context, op Kind, inputPath string) (int, error) {
	if _, err := utils.ExecLookPath("ffprobe"); err != nil {
		return 0, &OperationError{Kind: ErrKindFFmpeg, Op: op, Message: "ffprobe not found in PATH", Err: err}
	}

	count, err := r.probeStreamEntry(ctx, inputPath, "stream=nb_frames")
	if err == nil {
		return count, nil
	}

	count, err = r.probeStreamEntry(ctx, inputPath, "stream=nb_read_packets", "-count_packets")
	if err != nil {
		return 0, &OperationError{Kind: ErrKindFFmpeg, Op: op, Message: "failed to determine frame count", Err: err}
	}
	return count, nil
}

func (r *Runner) probeStreamEntry(ctx context.Context, inputPath, entry string, extra ...string) (int, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
	}
	args = append(args, extra...)
	args = append(args,
		"-show_entries", entry,
		"-of", "default=nokey=1:noprint_wrappers=1",
		inputPath,
	)

	cmd := execCommand(ctx, "ffprobe", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, err
	}

	value := strings.TrimSpace(stdout.String())
	count, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return count, nil
}
