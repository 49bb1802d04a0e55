package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creatorsuite/mediaflow/internal/config"
	"github.com/creatorsuite/mediaflow/internal/utils"
	"github.com/creatorsuite/mediaflow/internal/workflow"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var (
	keepLatest    int
	olderThanDays int
	cleanupDryRun bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove old execution state and task logs",
	Long: `Delete finished executions from the workspace based on age or count.
Running and paused executions are always kept. Task log files older than the
age cutoff are removed as well.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if keepLatest <= 0 && olderThanDays <= 0 {
			return fmt.Errorf("specify --keep-latest or --older-than")
		}

		cfg, err := config.FromEnv()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		store := workflow.NewStore(cfg.DefinitionsDir(), cfg.ExecutionsDir())
		execs, err := store.ListExecutions()
		if err != nil {
			return fmt.Errorf("failed to list executions: %w", err)
		}

		// Newest first; only terminal executions are candidates
		toDelete := lo.Filter(execs, func(e *workflow.Execution, _ int) bool {
			return e.Status == workflow.ExecutionStatusCompleted || e.Status == workflow.ExecutionStatusFailed
		})
		if keepLatest > 0 {
			if len(toDelete) <= keepLatest {
				toDelete = nil
			} else {
				toDelete = toDelete[keepLatest:]
			}
		}

		var cutoff time.Time
		if olderThanDays > 0 {
			cutoff = time.Now().AddDate(0, 0, -olderThanDays)
			toDelete = lo.Filter(toDelete, func(e *workflow.Execution, _ int) bool {
				return e.UpdatedAt.Before(cutoff)
			})
		}

		if len(toDelete) == 0 {
			utils.LogInfo("No executions to clean up")
		}
		for _, exec := range toDelete {
			if cleanupDryRun {
				utils.LogInfo("Would delete execution %s (%s, %s)", exec.ID, exec.DefinitionName, exec.Status)
				continue
			}
			if err := store.DeleteExecution(exec.ID); err != nil {
				utils.LogWarning("Failed to delete execution %s: %v", exec.ID, err)
				continue
			}
			utils.LogVerbose("Deleted execution %s", exec.ID)
		}

		removedLogs := 0
		if olderThanDays > 0 {
			removedLogs = cleanTaskLogs(cfg.TasksDir(), cutoff)
		}

		if cleanupDryRun {
			utils.LogInfo("Dry run: %d executions would be deleted", len(toDelete))
			return nil
		}
		utils.LogSuccess("Cleanup completed: %d executions and %d task logs removed", len(toDelete), removedLogs)
		return nil
	},
}

// cleanTaskLogs removes task log files last modified before the cutoff and
// returns how many were removed
func cleanTaskLogs(dir string, cutoff time.Time) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if cleanupDryRun {
			utils.LogInfo("Would delete task log %s", entry.Name())
			continue
		}
		if err := os.Remove(path); err != nil {
			utils.LogWarning("Failed to delete task log %s: %v", entry.Name(), err)
			continue
		}
		removed++
	}
	return removed
}

func init() {
	cleanupCmd.Flags().IntVarP(&keepLatest, "keep-latest", "k", 0, "Keep this many latest finished executions")
	cleanupCmd.Flags().IntVarP(&olderThanDays, "older-than", "d", 0, "Delete finished executions older than this many days")
	cleanupCmd.Flags().BoolVarP(&cleanupDryRun, "dry-run", "n", false, "Show what would be deleted without actually deleting")
	rootCmd.AddCommand(cleanupCmd)
}
