package cmd

import (
	"fmt"

	"github.com/creatorsuite/mediaflow/internal/config"
	"github.com/creatorsuite/mediaflow/internal/jobs"
	"github.com/creatorsuite/mediaflow/internal/ops"
	"github.com/creatorsuite/mediaflow/internal/server"
	"github.com/creatorsuite/mediaflow/internal/tasklog"
	"github.com/creatorsuite/mediaflow/internal/utils"
	"github.com/creatorsuite/mediaflow/internal/validator"
	"github.com/creatorsuite/mediaflow/internal/workflow"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long:  `Start the local API server that the browser UI and scripts talk to.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromEnv()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := cfg.EnsureWorkspace(); err != nil {
			return err
		}

		// Missing tools or credentials degrade the matching step kind, they
		// do not prevent serving
		if err := validator.ValidateExternalTools(); err != nil {
			utils.LogWarning("Local media operations unavailable: %v", err)
		}
		if err := cfg.ValidateRemote(); err != nil {
			utils.LogWarning("Remote steps unavailable: %v", err)
		}

		store := workflow.NewStore(cfg.DefinitionsDir(), cfg.ExecutionsDir())
		repo := jobs.NewRepository(cfg.JobsDir())
		client := jobs.NewClient(cfg, repo)
		runner := ops.NewRunner(cfg.FFmpegTimeout, client)
		engine := workflow.NewEngine(cfg, store, runner, client, repo)
		tasks := tasklog.NewRegistry(cfg.TasksDir())

		return server.NewServer(cfg, engine, client, tasks).Serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
