package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"maintdesk/backend/pkg/models"
)

// MemoryStore is an in-memory implementation of the Store interface. It
// backs the engine unit tests and local development without a database;
// the compare-and-swap semantics of AdvanceState match the Postgres
// implementation.
type MemoryStore struct {
	mu        sync.Mutex
	templates map[string]*models.WorkflowTemplate
	states    map[string]*models.WorkflowState
	approvals []*models.ApprovalRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates: make(map[string]*models.WorkflowTemplate),
		states:    make(map[string]*models.WorkflowState),
	}
}

// CreateTemplate stores a template and its steps.
func (s *MemoryStore) CreateTemplate(ctx context.Context, t *models.WorkflowTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = cloneTemplate(t)
	return nil
}

// CreateTemplateVersion deactivates the base and stores next as its
// successor version.
func (s *MemoryStore) CreateTemplateVersion(ctx context.Context, baseID string, next *models.WorkflowTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	base, ok := s.templates[baseID]
	if !ok {
		return fmt.Errorf("template %s: %w", baseID, models.ErrStepNotFound)
	}
	next.Version = base.Version + 1
	next.IsDefault = base.IsDefault
	next.IsActive = true
	base.IsActive = false
	base.IsDefault = false
	s.templates[next.ID] = cloneTemplate(next)
	return nil
}

// GetTemplate returns a template with its steps sorted by step order.
func (s *MemoryStore) GetTemplate(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", id, models.ErrStepNotFound)
	}
	return cloneTemplate(t), nil
}

// ListTemplates lists an organization's templates for a module.
func (s *MemoryStore) ListTemplates(ctx context.Context, orgID string, module models.Module) ([]*models.WorkflowTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.WorkflowTemplate
	for _, t := range s.templates {
		if t.OrganizationID == orgID && t.Module == module {
			out = append(out, cloneTemplate(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version > out[j].Version
	})
	return out, nil
}

// DefaultTemplate resolves the active default for an organization and
// module.
func (s *MemoryStore) DefaultTemplate(ctx context.Context, orgID string, module models.Module) (*models.WorkflowTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.templates {
		if t.OrganizationID == orgID && t.Module == module && t.IsDefault && t.IsActive {
			return cloneTemplate(t), nil
		}
	}
	return nil, fmt.Errorf("%s/%s: %w", orgID, module, models.ErrNoDefaultTemplate)
}

// SetDefaultTemplate clears other defaults and sets the target under one
// lock acquisition.
func (s *MemoryStore) SetDefaultTemplate(ctx context.Context, orgID string, module models.Module, templateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.templates[templateID]
	if !ok || target.OrganizationID != orgID || target.Module != module {
		return fmt.Errorf("template %s: %w", templateID, models.ErrStepNotFound)
	}
	for _, t := range s.templates {
		if t.OrganizationID == orgID && t.Module == module {
			t.IsDefault = false
		}
	}
	target.IsDefault = true
	return nil
}

// DeleteTemplate removes a template unless a state references it.
func (s *MemoryStore) DeleteTemplate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.states {
		if st.TemplateID == id {
			return fmt.Errorf("template %s: %w", id, models.ErrTemplateInUse)
		}
	}
	delete(s.templates, id)
	return nil
}

// CreateState inserts a state unless the entity already has one.
func (s *MemoryStore) CreateState(ctx context.Context, st *models.WorkflowState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[st.EntityID]; ok {
		return false, nil
	}
	s.states[st.EntityID] = cloneState(st)
	return true, nil
}

// GetState returns the state of an entity.
func (s *MemoryStore) GetState(ctx context.Context, entityID string) (*models.WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[entityID]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", entityID, models.ErrNoWorkflow)
	}
	return cloneState(st), nil
}

// AdvanceState applies the compare-and-swap step move.
func (s *MemoryStore) AdvanceState(ctx context.Context, entityID string, adv Advance) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[entityID]
	if !ok {
		return false, fmt.Errorf("entity %s: %w", entityID, models.ErrNoWorkflow)
	}
	if st.CurrentStepID == nil || *st.CurrentStepID != adv.ExpectStepID || !st.StepStartedAt.Equal(adv.ExpectStartedAt) {
		return false, nil
	}
	next := adv.NextStepID
	st.CurrentStepID = &next
	st.PendingApprovalFromRole = adv.PendingRole
	st.StepStartedAt = adv.StepStartedAt
	st.SLADueAt = adv.SLADueAt
	st.UpdatedAt = time.Now()
	return true, nil
}

// SetAssignee updates the assigned-to user of a state.
func (s *MemoryStore) SetAssignee(ctx context.Context, entityID string, userID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[entityID]
	if !ok {
		return fmt.Errorf("entity %s: %w", entityID, models.ErrNoWorkflow)
	}
	st.AssignedToUserID = userID
	st.UpdatedAt = time.Now()
	return nil
}

// ListOverdue returns states of the module whose SLA deadline has passed.
func (s *MemoryStore) ListOverdue(ctx context.Context, module models.Module, now time.Time) ([]*models.WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.WorkflowState
	for _, st := range s.states {
		if st.EntityType.Module() == module && st.SLADueAt != nil && st.SLADueAt.Before(now) {
			out = append(out, cloneState(st))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SLADueAt.Before(*out[j].SLADueAt) })
	return out, nil
}

// AppendApproval appends one ledger record.
func (s *MemoryStore) AppendApproval(ctx context.Context, r *models.ApprovalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *r
	s.approvals = append(s.approvals, &c)
	return nil
}

// ListApprovals returns the full ledger of an entity, oldest first.
func (s *MemoryStore) ListApprovals(ctx context.Context, entityID string) ([]*models.ApprovalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ApprovalRecord
	for _, r := range s.approvals {
		if r.EntityID == entityID {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ApprovedAt.Before(out[j].ApprovedAt) })
	return out, nil
}

// StepInstanceApprovals returns the ledger entries of one step instance.
func (s *MemoryStore) StepInstanceApprovals(ctx context.Context, entityID, stepID string, since time.Time) ([]*models.ApprovalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ApprovalRecord
	for _, r := range s.approvals {
		if r.EntityID == entityID && r.StepID == stepID && !r.ApprovedAt.Before(since) {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ApprovedAt.Before(out[j].ApprovedAt) })
	return out, nil
}

func cloneTemplate(t *models.WorkflowTemplate) *models.WorkflowTemplate {
	c := *t
	c.Steps = make([]*models.WorkflowStep, len(t.Steps))
	for i, s := range t.Steps {
		sc := *s
		c.Steps[i] = &sc
	}
	sort.Slice(c.Steps, func(i, j int) bool { return c.Steps[i].StepOrder < c.Steps[j].StepOrder })
	return &c
}

func cloneState(st *models.WorkflowState) *models.WorkflowState {
	c := *st
	return &c
}
