package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"maintdesk/backend/internal/config"
	"maintdesk/backend/internal/logging"
	"maintdesk/backend/internal/repository"
	"maintdesk/backend/internal/services"
	"maintdesk/backend/pkg/models"
)

var (
	backfillOrg    string
	backfillModule string
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Attach the default template to entities lacking a workflow state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBackfill(cmd.Context())
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillOrg, "org", "", "Organization id (required)")
	backfillCmd.Flags().StringVar(&backfillModule, "module", string(models.ModuleWorkOrders), "Module: work_orders or safety_incidents")
	backfillCmd.MarkFlagRequired("org")
}

func runBackfill(ctx context.Context) error {
	module := models.Module(backfillModule)
	if !module.Valid() {
		return fmt.Errorf("unknown module %q", backfillModule)
	}

	logger := logging.NewLogger()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := repository.NewPostgresWorkflowStore(pool)
	entities := repository.NewPostgresEntityStore(pool)
	roles := repository.NewPostgresRoleProvider(pool)
	engine := services.NewWorkflowService(store, entities, roles, logger, nil)

	result, err := engine.InitializeMissing(ctx, backfillOrg, module)
	if err != nil {
		return err
	}
	logger.Info("Backfill finished", "module", module, "initialized", result.Initialized, "skipped", result.Skipped)
	return nil
}
