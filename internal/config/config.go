// Package config loads runtime settings from environment variables
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/creatorsuite/mediaflow/internal/utils"
)

// Default values applied when the corresponding environment variable is unset
const (
	DefaultListenHost    = "127.0.0.1"
	DefaultListenPort    = 8990
	DefaultPollInterval  = 3 * time.Second
	DefaultJobTimeout    = 30 * time.Minute
	DefaultFFmpegTimeout = 10 * time.Minute
)

// Config holds the runtime configuration for the mediaflow engine
type Config struct {
	APIKey        string        // Remote backend API key
	APIHost       string        // Remote backend base URL
	DataDir       string        // Root directory for definitions, executions and jobs
	ListenHost    string        // HTTP API bind host
	ListenPort    int           // HTTP API bind port
	PollInterval  time.Duration // Interval between remote job status polls
	JobTimeout    time.Duration // Maximum time to wait for a remote job
	FFmpegTimeout time.Duration // Hard limit for a single ffmpeg invocation
}

// FromEnv builds a configuration from MEDIAFLOW_* environment variables
func FromEnv() (*Config, error) {
	cfg := &Config{
		APIKey:        os.Getenv("MEDIAFLOW_API_KEY"),
		APIHost:       os.Getenv("MEDIAFLOW_API_HOST"),
		DataDir:       os.Getenv("MEDIAFLOW_DATA_DIR"),
		ListenHost:    DefaultListenHost,
		ListenPort:    DefaultListenPort,
		PollInterval:  DefaultPollInterval,
		JobTimeout:    DefaultJobTimeout,
		FFmpegTimeout: DefaultFFmpegTimeout,
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to determine home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".mediaflow")
	} else {
		expanded, err := utils.ExpandHomeDir(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		cfg.DataDir = expanded
	}

	if host := os.Getenv("MEDIAFLOW_HOST"); host != "" {
		cfg.ListenHost = host
	}
	if port := os.Getenv("MEDIAFLOW_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid MEDIAFLOW_PORT %q: %w", port, err)
		}
		cfg.ListenPort = p
	}

	var err error
	if cfg.PollInterval, err = durationFromEnv("MEDIAFLOW_POLL_INTERVAL", cfg.PollInterval); err != nil {
		return nil, err
	}
	if cfg.JobTimeout, err = durationFromEnv("MEDIAFLOW_JOB_TIMEOUT", cfg.JobTimeout); err != nil {
		return nil, err
	}
	if cfg.FFmpegTimeout, err = durationFromEnv("MEDIAFLOW_FFMPEG_TIMEOUT", cfg.FFmpegTimeout); err != nil {
		return nil, err
	}

	return cfg, nil
}

// durationFromEnv parses a duration environment variable, accepting either a
// Go duration string ("3s", "30m") or a plain number of seconds
func durationFromEnv(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return d, nil
}

// ValidateRemote checks that the settings needed for remote job submission are present
func (c *Config) ValidateRemote() error {
	if c.APIHost == "" {
		return fmt.Errorf("MEDIAFLOW_API_HOST is required for remote steps")
	}
	if c.APIKey == "" {
		return fmt.Errorf("MEDIAFLOW_API_KEY is required for remote steps")
	}
	return nil
}

// EnsureWorkspace creates the on-disk layout under DataDir
func (c *Config) EnsureWorkspace() error {
	dirs := []string{
		c.DefinitionsDir(),
		c.ExecutionsDir(),
		c.JobsDir(),
		c.UploadsDir(),
		c.TasksDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create workspace directory %s: %w", dir, err)
		}
	}
	return nil
}

// DefinitionsDir returns the directory holding pipeline definition files
func (c *Config) DefinitionsDir() string {
	return filepath.Join(c.DataDir, "complex-workflows")
}

// ExecutionsDir returns the directory holding execution state directories
func (c *Config) ExecutionsDir() string {
	return filepath.Join(c.DataDir, "complex-executions")
}

// JobsDir returns the directory holding per-job working directories
func (c *Config) JobsDir() string {
	return filepath.Join(c.DataDir, "jobs")
}

// JobDir returns the working directory for a single remote job
func (c *Config) JobDir(jobID string) string {
	return filepath.Join(c.JobsDir(), jobID)
}

// UploadsDir returns the directory where source files are staged
func (c *Config) UploadsDir() string {
	return filepath.Join(c.DataDir, "uploads")
}

// TasksDir returns the directory holding batch task log files
func (c *Config) TasksDir() string {
	return filepath.Join(c.DataDir, "tasks")
}

// ListenAddr returns the host:port pair for the HTTP API
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ListenHost, c.ListenPort)
}
