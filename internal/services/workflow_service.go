// Package services holds the workflow engine: initialization, approval
// policy evaluation, and step advancement over the backing store.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"maintdesk/backend/internal/metrics"
	"maintdesk/backend/internal/repository"
	"maintdesk/backend/pkg/models"
)

// WorkflowService is the transition engine and the only writer of workflow
// states. All operations are short-lived units of work; no locks are held
// across store calls, and concurrent advances are resolved by the store's
// compare-and-swap.
type WorkflowService struct {
	store    repository.Store
	entities EntityStore
	roles    RoleProvider
	logger   Logger
	metrics  *metrics.Metrics

	now func() time.Time
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(store repository.Store, entities EntityStore, roles RoleProvider, logger Logger, m *metrics.Metrics) *WorkflowService {
	return &WorkflowService{
		store:    store,
		entities: entities,
		roles:    roles,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// TransitionRequest describes one approval action against an entity's
// current step. ActOnStepID designates the step being acted upon, never a
// destination; the engine alone decides the next step.
type TransitionRequest struct {
	EntityID         string
	ActOnStepID      string
	ActingUserID     string
	Action           models.ApprovalAction
	Comments         *string
	ReassignToUserID *string
}

// BackfillResult is the outcome of a bulk initialization run.
type BackfillResult struct {
	Initialized int `json:"initialized"`
	Skipped     int `json:"skipped"`
}

// Initialize attaches the module's default template to an entity and enters
// the first step. It is idempotent: an entity that already has a workflow
// state gets that state back unchanged, never a reset.
func (s *WorkflowService) Initialize(ctx context.Context, entityID string, entityType models.EntityType, orgID string) (*models.WorkflowState, error) {
	state, created, err := s.initialize(ctx, entityID, entityType, orgID)
	if err != nil {
		return nil, err
	}
	if created {
		s.metrics.RecordInitialization(ctx, entityType.Module())
	}
	return state, nil
}

func (s *WorkflowService) initialize(ctx context.Context, entityID string, entityType models.EntityType, orgID string) (*models.WorkflowState, bool, error) {
	existing, err := s.store.GetState(ctx, entityID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, models.ErrNoWorkflow) {
		return nil, false, err
	}

	ok, err := s.entities.Exists(ctx, entityType, entityID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, fmt.Errorf("%s %s not found: %w", entityType, entityID, models.ErrNoWorkflow)
	}

	tmpl, err := s.store.DefaultTemplate(ctx, orgID, entityType.Module())
	if err != nil {
		return nil, false, err
	}
	first := tmpl.FirstStep()
	if first == nil {
		return nil, false, fmt.Errorf("template %s has no steps: %w", tmpl.ID, models.ErrInvalidStepOrder)
	}

	now := s.now()
	state := &models.WorkflowState{
		EntityID:                entityID,
		EntityType:              entityType,
		OrganizationID:          orgID,
		TemplateID:              tmpl.ID,
		CurrentStepID:           &first.ID,
		PendingApprovalFromRole: firstRole(first),
		StepStartedAt:           now,
		SLADueAt:                first.SLADue(now),
	}
	created, err := s.store.CreateState(ctx, state)
	if err != nil {
		return nil, false, err
	}
	if !created {
		// Lost a concurrent initialization; the winner's state is the
		// state of record.
		existing, err := s.store.GetState(ctx, entityID)
		return existing, false, err
	}

	if status := first.EntityStatus(entityType); status != nil {
		if err := s.entities.UpdateStatus(ctx, entityType, entityID, *status); err != nil {
			return nil, false, fmt.Errorf("write entity status: %w", err)
		}
	}
	s.logger.Info("workflow initialized", "entity_id", entityID, "template_id", tmpl.ID, "step", first.Name)
	return state, true, nil
}

// Transition records one approval action and, when the current step's
// policy is satisfied by it, advances the workflow state to the next step.
// The ledger entry is appended before any policy evaluation, so the audit
// trail reflects every action taken, including rejections and approvals
// that do not yet satisfy the policy. A transition that does not advance
// returns the unchanged state without error.
func (s *WorkflowService) Transition(ctx context.Context, req TransitionRequest) (*models.WorkflowState, error) {
	if !req.Action.Valid() {
		return nil, fmt.Errorf("action %q: %w", req.Action, models.ErrInvalidAction)
	}

	state, err := s.store.GetState(ctx, req.EntityID)
	if err != nil {
		return nil, err
	}
	if req.Action == models.ActionEscalated && state.EntityType != models.EntityTypeSafetyIncident {
		return nil, fmt.Errorf("escalation on %s: %w", state.EntityType, models.ErrInvalidAction)
	}
	if state.CurrentStepID == nil {
		return nil, fmt.Errorf("entity %s not initialized: %w", req.EntityID, models.ErrNoWorkflow)
	}

	tmpl, err := s.store.GetTemplate(ctx, state.TemplateID)
	if err != nil {
		return nil, err
	}
	if tmpl.Step(req.ActOnStepID) == nil {
		return nil, fmt.Errorf("step %s: %w", req.ActOnStepID, models.ErrStepNotFound)
	}
	current := tmpl.Step(*state.CurrentStepID)
	if current == nil {
		return nil, fmt.Errorf("current step %s: %w", *state.CurrentStepID, models.ErrStepNotFound)
	}

	// Approvals and rejections require the acting user to hold one of the
	// step's assigned roles. Reassignment and escalation are operator
	// actions and are exempt.
	if req.Action == models.ActionApproved || req.Action == models.ActionRejected {
		if err := s.authorizeRole(ctx, state.OrganizationID, req.ActingUserID, current); err != nil {
			return nil, err
		}
	}

	record := &models.ApprovalRecord{
		ID:         uuid.New().String(),
		EntityID:   req.EntityID,
		StepID:     *state.CurrentStepID,
		ApprovedBy: req.ActingUserID,
		ApprovedAt: s.now(),
		Comments:   req.Comments,
		Action:     req.Action,
	}
	if err := s.store.AppendApproval(ctx, record); err != nil {
		return nil, err
	}

	switch req.Action {
	case models.ActionReassigned:
		if req.ReassignToUserID != nil {
			if err := s.store.SetAssignee(ctx, req.EntityID, req.ReassignToUserID); err != nil {
				return nil, err
			}
		}
		s.metrics.RecordTransition(ctx, req.Action, false)
		return s.store.GetState(ctx, req.EntityID)
	case models.ActionRejected, models.ActionEscalated:
		// Logged, never advancing. A rejection stalls the entity at its
		// current step until the policy is satisfied again.
		s.metrics.RecordTransition(ctx, req.Action, false)
		return state, nil
	}

	satisfied, err := s.policySatisfied(ctx, state, current)
	if err != nil {
		return nil, err
	}
	if !satisfied {
		s.metrics.RecordTransition(ctx, req.Action, false)
		return state, nil
	}

	next := tmpl.NextStep(current.ID)
	if next == nil {
		// Terminal: the last step stays current, repeated actions are
		// no-ops beyond the ledger entry.
		s.metrics.RecordTransition(ctx, req.Action, false)
		return state, nil
	}
	return s.advance(ctx, state, next)
}

func (s *WorkflowService) advance(ctx context.Context, state *models.WorkflowState, next *models.WorkflowStep) (*models.WorkflowState, error) {
	now := s.now()
	moved, err := s.store.AdvanceState(ctx, state.EntityID, repository.Advance{
		ExpectStepID:    *state.CurrentStepID,
		ExpectStartedAt: state.StepStartedAt,
		NextStepID:      next.ID,
		PendingRole:     firstRole(next),
		StepStartedAt:   now,
		SLADueAt:        next.SLADue(now),
	})
	if err != nil {
		return nil, err
	}
	if !moved {
		// A concurrent caller advanced this step instance first. Their
		// write is the one that counts; return the state as it is now.
		s.metrics.RecordTransition(ctx, models.ActionApproved, false)
		return s.store.GetState(ctx, state.EntityID)
	}

	if status := next.EntityStatus(state.EntityType); status != nil {
		if err := s.entities.UpdateStatus(ctx, state.EntityType, state.EntityID, *status); err != nil {
			return nil, fmt.Errorf("write entity status: %w", err)
		}
	}
	s.metrics.RecordTransition(ctx, models.ActionApproved, true)
	s.logger.Info("workflow advanced", "entity_id", state.EntityID, "step", next.Name)
	return s.store.GetState(ctx, state.EntityID)
}

func (s *WorkflowService) authorizeRole(ctx context.Context, orgID, userID string, step *models.WorkflowStep) error {
	if len(step.RoleAssignments) == 0 {
		return nil
	}
	held, err := s.roles.UserRoles(ctx, orgID, userID)
	if err != nil {
		return err
	}
	for _, r := range held {
		for _, assigned := range step.RoleAssignments {
			if r == assigned {
				return nil
			}
		}
	}
	return fmt.Errorf("user %s on step %s: %w", userID, step.Name, models.ErrUnauthorizedRole)
}

// policySatisfied evaluates the current step instance against the step's
// approval policy. Only records logged since the step most recently became
// current count; a previous visit to the same step contributes nothing.
func (s *WorkflowService) policySatisfied(ctx context.Context, state *models.WorkflowState, step *models.WorkflowStep) (bool, error) {
	if step.ApprovalType == models.ApprovalTypeNone {
		return true, nil
	}

	records, err := s.store.StepInstanceApprovals(ctx, state.EntityID, step.ID, state.StepStartedAt)
	if err != nil {
		return false, err
	}

	switch step.ApprovalType {
	case models.ApprovalTypeSingle:
		for _, r := range records {
			if r.Action == models.ActionApproved {
				return true, nil
			}
		}
		return false, nil

	case models.ApprovalTypeMultiple:
		approvers := make(map[string]bool)
		for _, r := range records {
			if r.Action == models.ActionApproved {
				approvers[r.ApprovedBy] = true
			}
		}
		return len(approvers) >= step.MinApprovalsOrDefault(), nil

	case models.ApprovalTypeUnanimous:
		return s.unanimousSatisfied(ctx, state.OrganizationID, step, records)
	}
	return false, nil
}

// unanimousSatisfied requires an approval from every user currently holding
// one of the step's assigned roles, and a rejection vetoes the step until a
// later approval arrives from the rejecting user's role.
func (s *WorkflowService) unanimousSatisfied(ctx context.Context, orgID string, step *models.WorkflowStep, records []*models.ApprovalRecord) (bool, error) {
	membership := make(map[string][]string, len(step.RoleAssignments))
	assigned := make(map[string]bool)
	for _, role := range step.RoleAssignments {
		users, err := s.roles.UsersInRole(ctx, orgID, role)
		if err != nil {
			return false, err
		}
		membership[role] = users
		for _, u := range users {
			assigned[u] = true
		}
	}

	approvedAt := make(map[string]time.Time)
	for _, r := range records {
		if r.Action == models.ActionApproved {
			approvedAt[r.ApprovedBy] = r.ApprovedAt
		}
	}

	// With no users holding the assigned roles the policy degenerates to
	// single approval.
	if len(assigned) == 0 {
		return len(approvedAt) > 0, nil
	}
	for u := range assigned {
		if _, ok := approvedAt[u]; !ok {
			return false, nil
		}
	}

	rolesOf := func(user string) map[string]bool {
		out := make(map[string]bool)
		for role, users := range membership {
			for _, u := range users {
				if u == user {
					out[role] = true
				}
			}
		}
		return out
	}

	// Every rejection must be cleared by a later approval from the
	// rejecting user's role.
	for _, rej := range records {
		if rej.Action != models.ActionRejected {
			continue
		}
		rejRoles := rolesOf(rej.ApprovedBy)
		cleared := false
		for _, appr := range records {
			if appr.Action != models.ActionApproved || !appr.ApprovedAt.After(rej.ApprovedAt) {
				continue
			}
			if appr.ApprovedBy == rej.ApprovedBy {
				cleared = true
				break
			}
			for role := range rolesOf(appr.ApprovedBy) {
				if rejRoles[role] {
					cleared = true
					break
				}
			}
			if cleared {
				break
			}
		}
		if !cleared {
			return false, nil
		}
	}
	return true, nil
}

// InitializeMissing attaches the default template to every entity of the
// organization's module that has no workflow state yet. A missing default
// template fails the whole run up front; the walk itself is idempotent
// against partial prior runs.
func (s *WorkflowService) InitializeMissing(ctx context.Context, orgID string, module models.Module) (BackfillResult, error) {
	var result BackfillResult

	if _, err := s.store.DefaultTemplate(ctx, orgID, module); err != nil {
		return result, err
	}

	entityType := models.EntityTypeWorkOrder
	if module == models.ModuleSafetyIncidents {
		entityType = models.EntityTypeSafetyIncident
	}
	ids, err := s.entities.ListIDs(ctx, orgID, module)
	if err != nil {
		return result, err
	}
	for _, id := range ids {
		_, created, err := s.initialize(ctx, id, entityType, orgID)
		if err != nil {
			return result, fmt.Errorf("initialize %s: %w", id, err)
		}
		if created {
			s.metrics.RecordInitialization(ctx, module)
			result.Initialized++
		} else {
			result.Skipped++
		}
	}
	s.logger.Info("bulk initialization finished", "module", module, "initialized", result.Initialized, "skipped", result.Skipped)
	return result, nil
}

// GetState returns the workflow state of an entity.
func (s *WorkflowService) GetState(ctx context.Context, entityID string) (*models.WorkflowState, error) {
	return s.store.GetState(ctx, entityID)
}

// ListApprovals returns the full approval ledger of an entity.
func (s *WorkflowService) ListApprovals(ctx context.Context, entityID string) ([]*models.ApprovalRecord, error) {
	return s.store.ListApprovals(ctx, entityID)
}

// ListOverdue returns the module's workflow states whose SLA deadline has
// passed. The engine never acts on a breach itself; reporting collaborators
// poll this.
func (s *WorkflowService) ListOverdue(ctx context.Context, module models.Module) ([]*models.WorkflowState, error) {
	return s.store.ListOverdue(ctx, module, s.now())
}

func firstRole(step *models.WorkflowStep) *string {
	if len(step.RoleAssignments) == 0 {
		return nil
	}
	role := step.RoleAssignments[0]
	return &role
}
