// Package validator performs preflight checks on the host environment:
// the external tools local operations shell out to, and the environment
// variables remote job submission needs.
package validator

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/creatorsuite/mediaflow/internal/utils"
)

// execCommand allows us to mock exec.Command in tests
var execCommand = exec.Command

// ExternalTool represents an external command-line tool requirement
type ExternalTool struct {
	Name        string
	VersionArgs []string
	Validate    func(output string) bool
}

// requiredTools must be installed for local media operations to run
var requiredTools = []ExternalTool{
	{
		Name:        "ffmpeg",
		VersionArgs: []string{"-version"},
		Validate: func(output string) bool {
			return strings.Contains(output, "ffmpeg version")
		},
	},
	{
		Name:        "ffprobe",
		VersionArgs: []string{"-version"},
		Validate: func(output string) bool {
			return strings.Contains(output, "ffprobe version")
		},
	},
}

// remoteEnvVars must be set before remote steps can be dispatched
var remoteEnvVars = []string{
	"MEDIAFLOW_API_HOST",
	"MEDIAFLOW_API_KEY",
}

// ValidateExternalTools checks that every required tool is installed and
// responds to a version probe
func ValidateExternalTools() error {
	for _, tool := range requiredTools {
		path, err := utils.ExecLookPath(tool.Name)
		if err != nil {
			return fmt.Errorf("tool %s not found in PATH: %w", tool.Name, err)
		}

		output, err := execCommand(path, tool.VersionArgs...).Output()
		if err != nil {
			return fmt.Errorf("failed to run %s: %w", tool.Name, err)
		}
		if !tool.Validate(string(output)) {
			return fmt.Errorf("unexpected version output from %s", tool.Name)
		}

		utils.LogVerbose("%s found at %s", tool.Name, path)
	}

	return nil
}

// ValidateEnvVars checks that the remote backend credentials are configured.
// Pipelines without remote steps run fine when this fails.
func ValidateEnvVars() error {
	for _, envVar := range remoteEnvVars {
		if os.Getenv(envVar) == "" {
			return fmt.Errorf("environment variable %s not set", envVar)
		}
		utils.LogVerbose("%s is set", envVar)
	}

	return nil
}
