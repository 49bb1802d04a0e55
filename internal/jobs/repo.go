package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/creatorsuite/mediaflow/internal/utils"
)

// ErrNotFound is returned when a job has no local record
var ErrNotFound = errors.New("job not found")

// Repository persists job records under <dir>/<jobID>/job.json, next to the
// files the job produced
type Repository struct {
	dir string
}

// NewRepository creates a repository rooted at dir
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// Dir returns the repository root
func (r *Repository) Dir() string {
	return r.dir
}

// JobDir returns the working directory of a job
func (r *Repository) JobDir(jobID string) string {
	return filepath.Join(r.dir, jobID)
}

func (r *Repository) recordPath(jobID string) string {
	return filepath.Join(r.dir, jobID, "job.json")
}

// Get loads the record of a single job
func (r *Repository) Get(jobID string) (*Job, error) {
	data, err := os.ReadFile(r.recordPath(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to read job record: %w", err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to parse job record %s: %w", jobID, err)
	}
	return &job, nil
}

// List loads every job record in the repository
func (r *Repository) List() ([]*Job, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read jobs directory: %w", err)
	}

	var result []*Job
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		job, err := r.Get(entry.Name())
		if err != nil {
			utils.LogWarning("Skipping unreadable job record %s: %v", entry.Name(), err)
			continue
		}
		result = append(result, job)
	}
	return result, nil
}

// Upsert writes a job record, creating its directory if needed
func (r *Repository) Upsert(job *Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}

	if err := os.MkdirAll(r.JobDir(job.ID), 0755); err != nil {
		return fmt.Errorf("failed to create job directory: %w", err)
	}

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal job record: %w", err)
	}

	if err := utils.WriteFileAtomic(r.recordPath(job.ID), data, 0644); err != nil {
		return fmt.Errorf("failed to write job record: %w", err)
	}
	return nil
}

// Delete removes a job's directory including any files it produced
func (r *Repository) Delete(jobID string) error {
	if err := os.RemoveAll(r.JobDir(jobID)); err != nil {
		return fmt.Errorf("failed to delete job directory: %w", err)
	}
	return nil
}
