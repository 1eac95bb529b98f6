package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"maintdesk/backend/pkg/models"
)

// CreateTemplate validates and persists a new template, version 1. The step
// list must be non-empty with unique step_order values.
func (s *WorkflowService) CreateTemplate(ctx context.Context, t *models.WorkflowTemplate) (*models.WorkflowTemplate, error) {
	if !t.Module.Valid() {
		return nil, fmt.Errorf("unknown module %q", t.Module)
	}
	if err := validateSteps(t.Steps); err != nil {
		return nil, err
	}

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.Version = 1
	t.IsActive = true
	for _, step := range t.Steps {
		if step.ID == "" {
			step.ID = uuid.New().String()
		}
		step.TemplateID = t.ID
		if step.RoleAssignments == nil {
			step.RoleAssignments = []string{}
		}
	}
	sortSteps(t.Steps)

	if err := s.store.CreateTemplate(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Info("workflow template created", "template_id", t.ID, "module", t.Module, "steps", len(t.Steps))
	return s.store.GetTemplate(ctx, t.ID)
}

// NewTemplateVersion creates the successor version of an existing template
// with a fresh step list. The base template stays untouched for in-flight
// workflow states; it is deactivated for new initializations.
func (s *WorkflowService) NewTemplateVersion(ctx context.Context, baseID string, steps []*models.WorkflowStep) (*models.WorkflowTemplate, error) {
	base, err := s.store.GetTemplate(ctx, baseID)
	if err != nil {
		return nil, err
	}
	if err := validateSteps(steps); err != nil {
		return nil, err
	}

	next := &models.WorkflowTemplate{
		ID:             uuid.New().String(),
		OrganizationID: base.OrganizationID,
		Module:         base.Module,
		Name:           base.Name,
		Description:    base.Description,
		Steps:          steps,
	}
	for _, step := range steps {
		if step.ID == "" {
			step.ID = uuid.New().String()
		}
		step.TemplateID = next.ID
		if step.RoleAssignments == nil {
			step.RoleAssignments = []string{}
		}
	}
	sortSteps(next.Steps)

	if err := s.store.CreateTemplateVersion(ctx, baseID, next); err != nil {
		return nil, err
	}
	s.logger.Info("workflow template versioned", "base_id", baseID, "template_id", next.ID, "version", next.Version)
	return s.store.GetTemplate(ctx, next.ID)
}

// GetTemplate loads a template with its steps.
func (s *WorkflowService) GetTemplate(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	return s.store.GetTemplate(ctx, id)
}

// ListTemplates lists an organization's templates for a module.
func (s *WorkflowService) ListTemplates(ctx context.Context, orgID string, module models.Module) ([]*models.WorkflowTemplate, error) {
	return s.store.ListTemplates(ctx, orgID, module)
}

// SetDefault makes the template the single default for its organization and
// module.
func (s *WorkflowService) SetDefault(ctx context.Context, orgID string, module models.Module, templateID string) error {
	if err := s.store.SetDefaultTemplate(ctx, orgID, module, templateID); err != nil {
		return err
	}
	s.logger.Info("default workflow template set", "template_id", templateID, "module", module)
	return nil
}

// DeleteTemplate removes a template, failing with models.ErrTemplateInUse
// while any workflow state references it.
func (s *WorkflowService) DeleteTemplate(ctx context.Context, id string) error {
	return s.store.DeleteTemplate(ctx, id)
}

func validateSteps(steps []*models.WorkflowStep) error {
	if len(steps) == 0 {
		return fmt.Errorf("empty step list: %w", models.ErrInvalidStepOrder)
	}
	seen := make(map[int]bool, len(steps))
	for _, step := range steps {
		if seen[step.StepOrder] {
			return fmt.Errorf("duplicate step_order %d: %w", step.StepOrder, models.ErrInvalidStepOrder)
		}
		seen[step.StepOrder] = true
		switch step.ApprovalType {
		case models.ApprovalTypeNone, models.ApprovalTypeSingle, models.ApprovalTypeMultiple, models.ApprovalTypeUnanimous:
		default:
			return fmt.Errorf("unknown approval_type %q", step.ApprovalType)
		}
	}
	return nil
}

func sortSteps(steps []*models.WorkflowStep) {
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })
}
