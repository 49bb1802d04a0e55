package tasklog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "tasklog_test")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := os.RemoveAll(tempDir); err != nil {
			t.Logf("Failed to remove temp directory: %v", err)
		}
	})

	return NewRegistry(tempDir), tempDir
}

func TestRegistry_StartAndGet(t *testing.T) {
	registry, dir := newTestRegistry(t)

	task, err := registry.Start("Enhance Photos", 3)
	require.NoError(t, err)
	require.NotEmpty(t, task.ID())

	found, ok := registry.Get(task.ID())
	require.True(t, ok)
	assert.Same(t, task, found)

	_, ok = registry.Get("no-such-task")
	assert.False(t, ok)

	data, err := os.ReadFile(filepath.Join(dir, task.ID()+".log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Task started: Enhance Photos (3 files)")
}

func TestTask_ProgressStream(t *testing.T) {
	registry, dir := newTestRegistry(t)

	task, err := registry.Start("batch", 2)
	require.NoError(t, err)

	task.Logf("Step %d started", 1)
	task.FileSucceeded("/media/a.png")
	task.FileFailed("/media/b.png", errors.New("corrupt input"))

	snap := task.Snapshot()
	assert.Equal(t, StatusRunning, snap.Status)
	assert.Equal(t, 2, snap.Total)
	assert.Equal(t, 1, snap.Succeeded)
	assert.Equal(t, 1, snap.Failed)
	assert.Zero(t, snap.Skipped)
	assert.Contains(t, snap.Lines, "Step 1 started")
	assert.Contains(t, snap.Lines, "Finished a.png")
	assert.Contains(t, snap.Lines, "Failed b.png: corrupt input")

	data, err := os.ReadFile(filepath.Join(dir, task.ID()+".log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 4)
	assert.Equal(t, "Failed b.png: corrupt input", lines[3])
}

func TestTask_FinishCompleted(t *testing.T) {
	registry, _ := newTestRegistry(t)

	task, err := registry.Start("batch", 3)
	require.NoError(t, err)
	task.FileSucceeded("/media/a.png")

	task.Finish(nil)

	snap := task.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 2, snap.Skipped)
	assert.Empty(t, snap.Error)
	require.NotNil(t, snap.FinishedAt)
	assert.Contains(t, snap.Lines, "Task finished: 1 succeeded, 0 failed of 3")
}

func TestTask_FinishFailed(t *testing.T) {
	registry, _ := newTestRegistry(t)

	task, err := registry.Start("batch", 1)
	require.NoError(t, err)

	task.Finish(errors.New("definition not found"))

	snap := task.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "definition not found", snap.Error)
	assert.Zero(t, snap.Skipped)
}

func TestTask_Cancel(t *testing.T) {
	registry, _ := newTestRegistry(t)

	task, err := registry.Start("batch", 5)
	require.NoError(t, err)
	assert.False(t, task.Cancelled())

	task.Cancel()
	assert.True(t, task.Cancelled())
	task.Cancel() // second request is a no-op

	task.FileSucceeded("/media/a.png")
	task.Finish(nil)

	snap := task.Snapshot()
	assert.Equal(t, StatusCancelled, snap.Status)
	assert.Equal(t, 4, snap.Skipped)

	count := 0
	for _, line := range snap.Lines {
		if line == "Cancellation requested" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestTask_FinishIdempotent(t *testing.T) {
	registry, _ := newTestRegistry(t)

	task, err := registry.Start("batch", 1)
	require.NoError(t, err)

	task.Finish(nil)
	first := task.Snapshot()
	task.Finish(errors.New("late error"))

	second := task.Snapshot()
	assert.Equal(t, first.Status, second.Status)
	assert.Empty(t, second.Error)
	assert.Equal(t, first.FinishedAt, second.FinishedAt)
}
