package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"maintdesk/backend/internal/config"
	"maintdesk/backend/internal/logging"
	"maintdesk/backend/internal/repository"
	"maintdesk/backend/internal/services"
	"maintdesk/backend/pkg/models"
)

var seedOrg string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Plant a demo organization with default templates, roles and entities",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSeed(cmd.Context())
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedOrg, "org", "", "Organization id to seed (defaults to a new id)")
}

func runSeed(ctx context.Context) error {
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

	if err := repository.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	store := repository.NewPostgresWorkflowStore(pool)
	entities := repository.NewPostgresEntityStore(pool)
	roles := repository.NewPostgresRoleProvider(pool)
	engine := services.NewWorkflowService(store, entities, roles, logger, nil)

	org := seedOrg
	if org == "" {
		org = uuid.New().String()
	}
	logger.Info("Seeding organization", "org", org)

	// 1. Users and roles
	supervisor := uuid.New().String()
	safetyLead := uuid.New().String()
	safetyOfficer := uuid.New().String()
	for _, grant := range []struct{ user, role string }{
		{supervisor, "Supervisor"},
		{safetyLead, "SafetyLead"},
		{safetyOfficer, "SafetyOfficer"},
	} {
		if err := roles.Grant(ctx, org, grant.user, grant.role); err != nil {
			return fmt.Errorf("failed to grant role: %w", err)
		}
	}

	// 2. Default templates, one per module, unless already configured
	seedTemplates := []*models.WorkflowTemplate{
		{
			OrganizationID: org,
			Module:         models.ModuleWorkOrders,
			Name:           "Work Order Approval",
			Description:    "Supervisor review before closing a work order.",
			Steps: []*models.WorkflowStep{
				{
					StepOrder:       1,
					Name:            "Review",
					ApprovalType:    models.ApprovalTypeSingle,
					SLAHours:        intPtr(24),
					IsRequired:      true,
					RoleAssignments: []string{"Supervisor"},
					WorkOrderStatus: strPtr("in_review"),
				},
				{
					StepOrder:       2,
					Name:            "Close",
					ApprovalType:    models.ApprovalTypeNone,
					IsRequired:      false,
					WorkOrderStatus: strPtr("closed"),
				},
			},
		},
		{
			OrganizationID: org,
			Module:         models.ModuleSafetyIncidents,
			Name:           "Incident Review",
			Description:    "Safety team sign-off on reported incidents.",
			Steps: []*models.WorkflowStep{
				{
					StepOrder:       1,
					Name:            "Triage",
					ApprovalType:    models.ApprovalTypeSingle,
					SLAHours:        intPtr(4),
					IsRequired:      true,
					RoleAssignments: []string{"SafetyOfficer"},
					IncidentStatus:  strPtr("under_triage"),
				},
				{
					StepOrder:       2,
					Name:            "Investigation",
					ApprovalType:    models.ApprovalTypeUnanimous,
					SLAHours:        intPtr(72),
					IsRequired:      true,
					RoleAssignments: []string{"SafetyLead", "SafetyOfficer"},
					IncidentStatus:  strPtr("under_investigation"),
				},
				{
					StepOrder:      3,
					Name:           "Close",
					ApprovalType:   models.ApprovalTypeNone,
					IsRequired:     false,
					IncidentStatus: strPtr("closed"),
				},
			},
		},
	}
	for _, tmpl := range seedTemplates {
		if _, err := store.DefaultTemplate(ctx, org, tmpl.Module); err == nil {
			logger.Info("Skipping module with existing default", "module", tmpl.Module)
			continue
		} else if !errors.Is(err, models.ErrNoDefaultTemplate) {
			return err
		}
		created, err := engine.CreateTemplate(ctx, tmpl)
		if err != nil {
			return fmt.Errorf("failed to create template %s: %w", tmpl.Name, err)
		}
		if err := engine.SetDefault(ctx, org, tmpl.Module, created.ID); err != nil {
			return fmt.Errorf("failed to set default: %w", err)
		}
		logger.Info("Seeded template", "name", tmpl.Name, "id", created.ID)
	}

	// 3. Sample entities
	for i := 1; i <= 3; i++ {
		if err := entities.Insert(ctx, models.EntityTypeWorkOrder, uuid.New().String(), org, fmt.Sprintf("Pump inspection #%d", i)); err != nil {
			return fmt.Errorf("failed to insert work order: %w", err)
		}
	}
	if err := entities.Insert(ctx, models.EntityTypeSafetyIncident, uuid.New().String(), org, "Slip near loading dock"); err != nil {
		return fmt.Errorf("failed to insert incident: %w", err)
	}

	// 4. Attach workflows to everything just created
	for _, module := range []models.Module{models.ModuleWorkOrders, models.ModuleSafetyIncidents} {
		result, err := engine.InitializeMissing(ctx, org, module)
		if err != nil {
			return fmt.Errorf("failed to backfill %s: %w", module, err)
		}
		logger.Info("Backfilled module", "module", module, "initialized", result.Initialized, "skipped", result.Skipped)
	}

	logger.Info("Seeding complete!", "org", org)
	return nil
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }
