// Package tasklog tracks long-running batch tasks: status, per-file counts
// and an append-only progress stream, teed to a log file for tailing.
package tasklog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/creatorsuite/mediaflow/internal/utils"
	"github.com/google/uuid"
)

// Status is the lifecycle state of a task
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Registry holds the tasks of this process, keyed by id. Task state lives in
// memory; the log stream additionally persists under <dir>/<taskId>.log.
type Registry struct {
	dir   string
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewRegistry creates a registry writing task logs under dir
func NewRegistry(dir string) *Registry {
	return &Registry{
		dir:   dir,
		tasks: make(map[string]*Task),
	}
}

// Start registers a new running task for the given number of files
func (r *Registry) Start(label string, total int) (*Task, error) {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create tasks directory: %w", err)
	}

	id := uuid.New().String()
	file, err := os.OpenFile(filepath.Join(r.dir, id+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create task log: %w", err)
	}

	task := &Task{
		id:        id,
		label:     label,
		status:    StatusRunning,
		total:     total,
		file:      file,
		startedAt: time.Now(),
	}
	task.Logf("Task started: %s (%d files)", label, total)

	r.mu.Lock()
	r.tasks[id] = task
	r.mu.Unlock()
	return task, nil
}

// Get returns a registered task by id
func (r *Registry) Get(id string) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[id]
	return task, ok
}

// Task is one batch run in progress. It satisfies the engine's batch
// progress interface, so passing it to RunBatch streams every transition.
type Task struct {
	id    string
	label string

	mu         sync.Mutex
	status     Status
	total      int
	succeeded  int
	failed     int
	cancelled  bool
	errMessage string
	lines      []string
	file       *os.File
	startedAt  time.Time
	finishedAt *time.Time
}

// ID returns the task id
func (t *Task) ID() string {
	return t.id
}

// Logf appends one line to the progress stream
func (t *Task) Logf(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendLocked(fmt.Sprintf(format, args...))
}

// FileSucceeded records one finished file
func (t *Task) FileSucceeded(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.succeeded++
	t.appendLocked(fmt.Sprintf("Finished %s", filepath.Base(path)))
}

// FileFailed records one failed file
func (t *Task) FileFailed(path string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed++
	t.appendLocked(fmt.Sprintf("Failed %s: %v", filepath.Base(path), err))
}

// Cancelled reports whether cancellation has been requested
func (t *Task) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Cancel requests cancellation. The running batch honors it at the next
// file or step boundary.
func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled || t.status != StatusRunning {
		return
	}
	t.cancelled = true
	t.appendLocked("Cancellation requested")
}

// Finish records the batch outcome and closes the log file
func (t *Task) Finish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusRunning {
		return
	}

	now := time.Now()
	t.finishedAt = &now
	switch {
	case err != nil:
		t.status = StatusFailed
		t.errMessage = err.Error()
		t.appendLocked(fmt.Sprintf("Task failed: %v", err))
	case t.cancelled:
		t.status = StatusCancelled
		t.appendLocked("Task cancelled")
	default:
		t.status = StatusCompleted
		t.appendLocked(fmt.Sprintf("Task finished: %d succeeded, %d failed of %d", t.succeeded, t.failed, t.total))
	}

	if t.file != nil {
		if cerr := t.file.Close(); cerr != nil {
			utils.LogWarning("Failed to close task log %s: %v", t.id, cerr)
		}
		t.file = nil
	}
}

func (t *Task) appendLocked(line string) {
	t.lines = append(t.lines, line)
	if t.file != nil {
		if _, err := t.file.WriteString(line + "\n"); err != nil {
			utils.LogWarning("Failed to write task log %s: %v", t.id, err)
		}
	}
}

// Snapshot is a point-in-time copy of a task's state for the API
type Snapshot struct {
	ID         string     `json:"id"`
	Label      string     `json:"label,omitempty"`
	Status     Status     `json:"status"`
	Total      int        `json:"total"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	Skipped    int        `json:"skipped,omitempty"`
	Error      string     `json:"error,omitempty"`
	Lines      []string   `json:"lines"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Snapshot copies the task state under its lock. Skipped is only meaningful
// once the task has finished; while running it stays zero.
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		ID:         t.id,
		Label:      t.label,
		Status:     t.status,
		Total:      t.total,
		Succeeded:  t.succeeded,
		Failed:     t.failed,
		Error:      t.errMessage,
		Lines:      append([]string(nil), t.lines...),
		StartedAt:  t.startedAt,
		FinishedAt: t.finishedAt,
	}
	if t.status == StatusCompleted || t.status == StatusCancelled {
		snap.Skipped = t.total - t.succeeded - t.failed
	}
	return snap
}
