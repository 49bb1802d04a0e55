package cmd

import (
	"fmt"

	"github.com/creatorsuite/mediaflow/internal/utils"
	"github.com/creatorsuite/mediaflow/internal/validator"
	"github.com/creatorsuite/mediaflow/internal/workflow"

	"github.com/spf13/cobra"
)

var validateDefinitionPath string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate environment setup and definition files",
	Long: `Check that the required external tools are installed, report whether the
remote backend is configured, and optionally validate a definition file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		utils.LogInfo("Validating environment...")

		if err := validator.ValidateExternalTools(); err != nil {
			return fmt.Errorf("external tools validation failed: %w", err)
		}
		utils.LogSuccess("External tools: OK")

		// Remote credentials are only needed for pipelines with remote steps
		if err := validator.ValidateEnvVars(); err != nil {
			utils.LogWarning("Remote backend not configured: %v", err)
		} else {
			utils.LogSuccess("Remote backend credentials: OK")
		}

		if validateDefinitionPath != "" {
			def, err := workflow.LoadDefinitionFile(validateDefinitionPath)
			if err != nil {
				return err
			}
			if err := workflow.ValidateDefinition(def); err != nil {
				return fmt.Errorf("definition validation failed: %w", err)
			}
			utils.LogSuccess("Definition %q: OK (%d steps)", def.Name, len(def.Steps))
		}

		return nil
	},
}

func init() {
	validateCmd.Flags().StringVarP(&validateDefinitionPath, "workflow", "w", "", "Path to a definition file to validate")
	rootCmd.AddCommand(validateCmd)
}
