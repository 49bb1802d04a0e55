package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/creatorsuite/mediaflow/internal/config"
	"github.com/creatorsuite/mediaflow/internal/utils"
	"github.com/go-resty/resty/v2"
)

// Error kinds reported by RemoteJobError
const (
	ErrKindSubmissionFailed = "submission-failed"
	ErrKindTimedOut         = "timed-out"
	ErrKindJobFailed        = "job-failed"
)

// RemoteJobError describes a failed interaction with the remote backend. A
// timed-out wait is a distinct kind from a job the backend reports as failed.
type RemoteJobError struct {
	Kind    string
	JobID   string
	Message string
	Err     error
}

func (e *RemoteJobError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("remote job %s: %s: %s", e.JobID, e.Kind, e.Message)
	}
	return fmt.Sprintf("remote job: %s: %s", e.Kind, e.Message)
}

func (e *RemoteJobError) Unwrap() error {
	return e.Err
}

type submitResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
	Error   string `json:"error,omitempty"`
}

type captionRequest struct {
	FilePath        string `json:"filePath"`
	FileName        string `json:"fileName"`
	OutputDirectory string `json:"outputDirectory"`
}

type captionResponse struct {
	Success     bool   `json:"success"`
	CaptionPath string `json:"captionPath"`
	Error       string `json:"error,omitempty"`
}

// Client submits jobs to the remote backend and polls them to completion.
// Every successful poll is mirrored into the local repository so execution
// state can be reconstructed without the backend.
type Client struct {
	http         *resty.Client
	repo         *Repository
	pollInterval time.Duration
	jobTimeout   time.Duration
}

// NewClient creates a client from the runtime configuration
func NewClient(cfg *config.Config, repo *Repository) *Client {
	hc := resty.New().
		SetBaseURL(cfg.APIHost).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		hc.SetAuthToken(cfg.APIKey)
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = config.DefaultPollInterval
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = config.DefaultJobTimeout
	}

	return &Client{
		http:         hc,
		repo:         repo,
		pollInterval: pollInterval,
		jobTimeout:   jobTimeout,
	}
}

// Repo returns the repository the client mirrors job state into
func (c *Client) Repo() *Repository {
	return c.repo
}

// Submit sends a job to the backend and returns its id
func (c *Client) Submit(ctx context.Context, req *SubmitRequest) (string, error) {
	// The backend answers with the same envelope on success and failure
	var out submitResponse
	rsp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&out).
		Post("/api/jobs")
	if err != nil {
		return "", &RemoteJobError{Kind: ErrKindSubmissionFailed, Message: "submission request failed", Err: err}
	}
	if !rsp.IsSuccess() || !out.Success || out.JobID == "" {
		msg := out.Error
		if msg == "" {
			msg = rsp.Status()
		}
		return "", &RemoteJobError{Kind: ErrKindSubmissionFailed, Message: msg}
	}

	utils.LogInfo("Submitted remote job %s", out.JobID)

	now := time.Now()
	record := &Job{
		ID:           out.JobID,
		DefinitionID: req.DefinitionID,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := c.repo.Upsert(record); err != nil {
		utils.LogWarning("Failed to record job %s locally: %v", out.JobID, err)
	}

	return out.JobID, nil
}

// Status fetches the current state of a job and mirrors it locally
func (c *Client) Status(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	rsp, err := c.http.R().
		SetContext(ctx).
		SetResult(&job).
		Get("/api/jobs/" + jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job %s: %w", jobID, err)
	}
	if !rsp.IsSuccess() {
		return nil, fmt.Errorf("failed to fetch job %s: %s", jobID, rsp.Status())
	}

	job.UpdatedAt = time.Now()
	if err := c.repo.Upsert(&job); err != nil {
		utils.LogWarning("Failed to mirror job %s locally: %v", jobID, err)
	}

	return &job, nil
}

// AwaitCompletion polls a job until it reaches a terminal state. Transient
// poll failures are logged and retried; the overall wait is bounded by the
// configured job timeout.
func (c *Client) AwaitCompletion(ctx context.Context, jobID string) (*Result, error) {
	deadline := time.Now().Add(c.jobTimeout)

	for {
		job, err := c.Status(ctx, jobID)
		if err != nil {
			utils.LogWarning("Failed to poll job %s: %v", jobID, err)
		} else {
			switch job.Status {
			case StatusCompleted:
				return job.Results, nil
			case StatusFailed:
				msg := job.Error
				if msg == "" {
					msg = "job failed"
				}
				return nil, &RemoteJobError{Kind: ErrKindJobFailed, JobID: jobID, Message: msg}
			}
		}

		if time.Now().After(deadline) {
			return nil, &RemoteJobError{
				Kind:    ErrKindTimedOut,
				JobID:   jobID,
				Message: fmt.Sprintf("job did not finish within %s", c.jobTimeout),
			}
		}

		utils.LogInfo("Waiting for remote job %s...", jobID)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

// Caption asks the backend to describe a media file and returns the path of
// the caption file it wrote
func (c *Client) Caption(ctx context.Context, filePath, fileName, outputDir string) (string, error) {
	var out captionResponse
	rsp, err := c.http.R().
		SetContext(ctx).
		SetBody(captionRequest{
			FilePath:        filePath,
			FileName:        fileName,
			OutputDirectory: outputDir,
		}).
		SetResult(&out).
		SetError(&out).
		Post("/api/caption")
	if err != nil {
		return "", fmt.Errorf("caption request failed: %w", err)
	}
	if !rsp.IsSuccess() || !out.Success || out.CaptionPath == "" {
		msg := out.Error
		if msg == "" {
			msg = rsp.Status()
		}
		return "", fmt.Errorf("caption request failed: %s", msg)
	}
	return out.CaptionPath, nil
}
