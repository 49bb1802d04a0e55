package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/creatorsuite/mediaflow/internal/config"
	"github.com/creatorsuite/mediaflow/internal/jobs"
	"github.com/creatorsuite/mediaflow/internal/media"
	"github.com/creatorsuite/mediaflow/internal/ops"
	"github.com/creatorsuite/mediaflow/internal/utils"
	"github.com/creatorsuite/mediaflow/internal/validator"
	"github.com/creatorsuite/mediaflow/internal/workflow"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var (
	definitionRef string
	inputPath     string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a pipeline definition over media files",
	Long: `Execute a pipeline definition against a media file or every media file
in a folder, without going through the API server. The definition is either
the id of a stored definition or the path of a YAML/JSON definition file,
which is imported into the store first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromEnv()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := cfg.EnsureWorkspace(); err != nil {
			return err
		}

		store := workflow.NewStore(cfg.DefinitionsDir(), cfg.ExecutionsDir())
		def, err := resolveDefinition(store, definitionRef)
		if err != nil {
			return err
		}

		hasLocal := lo.SomeBy(def.Steps, func(s workflow.Step) bool { return s.Kind == workflow.StepKindLocal })
		hasRemote := lo.SomeBy(def.Steps, func(s workflow.Step) bool { return s.Kind == workflow.StepKindRemote })
		if hasLocal {
			if err := validator.ValidateExternalTools(); err != nil {
				return fmt.Errorf("dependency validation failed: %w", err)
			}
		}
		if hasRemote {
			if err := cfg.ValidateRemote(); err != nil {
				return err
			}
		}

		files, err := collectInputFiles(inputPath)
		if err != nil {
			return err
		}

		repo := jobs.NewRepository(cfg.JobsDir())
		client := jobs.NewClient(cfg, repo)
		runner := ops.NewRunner(cfg.FFmpegTimeout, client)
		engine := workflow.NewEngine(cfg, store, runner, client, repo)

		result, err := engine.RunBatch(cmd.Context(), def.ID, files, consoleProgress{})
		if err != nil {
			return fmt.Errorf("batch execution failed: %w", err)
		}
		if result.Failed > 0 {
			return fmt.Errorf("%d of %d files failed", result.Failed, result.Total)
		}

		utils.LogSuccess("Batch completed: %d succeeded of %d", result.Succeeded, result.Total)
		return nil
	},
}

// resolveDefinition loads the definition behind ref: a path to a definition
// file is imported into the store, anything else is treated as a stored id
func resolveDefinition(store *workflow.Store, ref string) (*workflow.Definition, error) {
	if info, err := os.Stat(ref); err == nil && !info.IsDir() {
		def, err := workflow.LoadDefinitionFile(ref)
		if err != nil {
			return nil, err
		}
		if err := store.SaveDefinition(def); err != nil {
			return nil, fmt.Errorf("failed to import definition: %w", err)
		}
		utils.LogInfo("Imported definition %q as %s", def.Name, def.ID)
		return def, nil
	}
	return store.GetDefinition(ref)
}

// collectInputFiles expands the input flag into the files to process
func collectInputFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("input path does not exist: %s", path)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	files, err := media.ListFiles(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no media files found in %s", path)
	}
	return files, nil
}

// consoleProgress reports batch progress through the application logger
type consoleProgress struct{}

func (consoleProgress) Logf(format string, args ...interface{}) {
	utils.LogInfo(format, args...)
}

func (consoleProgress) FileSucceeded(path string) {
	utils.LogSuccess("Finished %s", filepath.Base(path))
}

func (consoleProgress) FileFailed(path string, err error) {
	utils.LogError("Failed %s: %v", filepath.Base(path), err)
}

func (consoleProgress) Cancelled() bool { return false }

func init() {
	runCmd.Flags().StringVarP(&definitionRef, "workflow", "w", "", "Stored definition id or path to a definition file (required)")
	runCmd.Flags().StringVarP(&inputPath, "input", "i", "", "Media file or folder of media files to process (required)")
	_ = runCmd.MarkFlagRequired("workflow")
	_ = runCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(runCmd)
}
