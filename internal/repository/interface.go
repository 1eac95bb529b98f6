package repository

import (
	"context"
	"time"

	"maintdesk/backend/pkg/models"
)

// Advance describes a compare-and-swap move of a workflow state to its next
// step. Expect* carry the values the caller observed; the store applies the
// move only when they still match, so concurrent satisfaction checks cannot
// both advance the same step instance.
type Advance struct {
	ExpectStepID    string
	ExpectStartedAt time.Time

	NextStepID    string
	PendingRole   *string
	StepStartedAt time.Time
	SLADueAt      *time.Time
}

// Store is the persistence interface for workflow templates, states and the
// approval ledger.
type Store interface {
	// CreateTemplate persists a template together with its steps.
	CreateTemplate(ctx context.Context, t *models.WorkflowTemplate) error
	// CreateTemplateVersion persists next as the successor of the template
	// with baseID: it deactivates the base, carries its default flag over,
	// and assigns next the base's version plus one. In-flight states keep
	// referencing the base.
	CreateTemplateVersion(ctx context.Context, baseID string, next *models.WorkflowTemplate) error
	// GetTemplate loads a template with its steps sorted by step order.
	GetTemplate(ctx context.Context, id string) (*models.WorkflowTemplate, error)
	// ListTemplates lists an organization's templates for a module.
	ListTemplates(ctx context.Context, orgID string, module models.Module) ([]*models.WorkflowTemplate, error)
	// DefaultTemplate resolves the default template for an organization and
	// module, or models.ErrNoDefaultTemplate.
	DefaultTemplate(ctx context.Context, orgID string, module models.Module) (*models.WorkflowTemplate, error)
	// SetDefaultTemplate makes the given template the single default for
	// its organization and module. Clearing the previous default and
	// setting the new one happen in one transaction.
	SetDefaultTemplate(ctx context.Context, orgID string, module models.Module, templateID string) error
	// DeleteTemplate removes a template, or fails with
	// models.ErrTemplateInUse while any workflow state references it.
	DeleteTemplate(ctx context.Context, id string) error

	// CreateState inserts a workflow state unless the entity already has
	// one. It reports whether the insert happened.
	CreateState(ctx context.Context, s *models.WorkflowState) (bool, error)
	// GetState loads the workflow state of an entity, or
	// models.ErrNoWorkflow.
	GetState(ctx context.Context, entityID string) (*models.WorkflowState, error)
	// AdvanceState applies a compare-and-swap step move. It reports false,
	// without error, when the observed step was advanced by someone else
	// first.
	AdvanceState(ctx context.Context, entityID string, adv Advance) (bool, error)
	// SetAssignee updates the assigned-to user of a workflow state.
	SetAssignee(ctx context.Context, entityID string, userID *string) error
	// ListOverdue returns states of the given module whose SLA deadline
	// has passed at the given instant.
	ListOverdue(ctx context.Context, module models.Module, now time.Time) ([]*models.WorkflowState, error)

	// AppendApproval appends one record to the approval ledger.
	AppendApproval(ctx context.Context, r *models.ApprovalRecord) error
	// ListApprovals returns the full ledger of an entity, oldest first.
	ListApprovals(ctx context.Context, entityID string) ([]*models.ApprovalRecord, error)
	// StepInstanceApprovals returns the ledger entries of one step
	// instance: records for the step logged at or after the instant the
	// step became current. Records from a previous visit never count.
	StepInstanceApprovals(ctx context.Context, entityID, stepID string, since time.Time) ([]*models.ApprovalRecord, error)
}
