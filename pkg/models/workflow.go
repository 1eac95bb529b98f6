// Package models defines the domain models for the workflow service
package models

import (
	"time"
)

// Module identifies the entity family a workflow template governs.
type Module string

const (
	ModuleWorkOrders      Module = "work_orders"
	ModuleSafetyIncidents Module = "safety_incidents"
)

// Valid reports whether m is a known module.
func (m Module) Valid() bool {
	return m == ModuleWorkOrders || m == ModuleSafetyIncidents
}

// EntityType identifies the kind of entity a workflow state tracks.
type EntityType string

const (
	EntityTypeWorkOrder      EntityType = "work_order"
	EntityTypeSafetyIncident EntityType = "safety_incident"
)

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	return t == EntityTypeWorkOrder || t == EntityTypeSafetyIncident
}

// Module returns the module governing this entity type.
func (t EntityType) Module() Module {
	if t == EntityTypeSafetyIncident {
		return ModuleSafetyIncidents
	}
	return ModuleWorkOrders
}

// ApprovalType represents the approval policy of a workflow step.
type ApprovalType string

const (
	ApprovalTypeNone      ApprovalType = "none"
	ApprovalTypeSingle    ApprovalType = "single"
	ApprovalTypeMultiple  ApprovalType = "multiple"
	ApprovalTypeUnanimous ApprovalType = "unanimous"
)

// ApprovalAction represents the action recorded in the approval ledger.
type ApprovalAction string

const (
	ActionApproved   ApprovalAction = "approved"
	ActionRejected   ApprovalAction = "rejected"
	ActionReassigned ApprovalAction = "reassigned"
	ActionEscalated  ApprovalAction = "escalated"
)

// Valid reports whether a is a known approval action.
func (a ApprovalAction) Valid() bool {
	switch a {
	case ActionApproved, ActionRejected, ActionReassigned, ActionEscalated:
		return true
	}
	return false
}

// WorkflowTemplate is an ordered list of approval steps governing one module
// within one organization. Templates are immutable once a live WorkflowState
// references them; edits create a new row with an incremented Version.
type WorkflowTemplate struct {
	ID             string    `json:"id" db:"id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	Module         Module    `json:"module" db:"module"`
	Name           string    `json:"name" db:"name"`
	Description    string    `json:"description" db:"description"`
	Version        int       `json:"version" db:"version"`
	IsDefault      bool      `json:"is_default" db:"is_default"`
	IsActive       bool      `json:"is_active" db:"is_active"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`

	Steps []*WorkflowStep `json:"steps,omitempty"`
}

// FirstStep returns the step with the lowest StepOrder, or nil for a
// template with no steps. Steps are stored sorted by StepOrder.
func (t *WorkflowTemplate) FirstStep() *WorkflowStep {
	if len(t.Steps) == 0 {
		return nil
	}
	return t.Steps[0]
}

// Step returns the step with the given id, or nil if the template has no
// such step.
func (t *WorkflowTemplate) Step(id string) *WorkflowStep {
	for _, s := range t.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// NextStep returns the step that follows the given step in StepOrder, or
// nil when the given step is the last one.
func (t *WorkflowTemplate) NextStep(id string) *WorkflowStep {
	for i, s := range t.Steps {
		if s.ID == id {
			if i+1 < len(t.Steps) {
				return t.Steps[i+1]
			}
			return nil
		}
	}
	return nil
}

// WorkflowStep is one approval stage of a template. The step list of a
// template is fixed once created; StepOrder is unique within the template.
type WorkflowStep struct {
	ID           string       `json:"id" db:"id"`
	TemplateID   string       `json:"template_id" db:"template_id"`
	StepOrder    int          `json:"step_order" db:"step_order"`
	Name         string       `json:"name" db:"name"`
	Description  string       `json:"description" db:"description"`
	ApprovalType ApprovalType `json:"approval_type" db:"approval_type"`

	// MinApprovals is the number of distinct approving users required by
	// the "multiple" policy. Zero means the default threshold of two.
	MinApprovals int `json:"min_approvals" db:"min_approvals"`

	SLAHours        *int     `json:"sla_hours,omitempty" db:"sla_hours"`
	IsRequired      bool     `json:"is_required" db:"is_required"`
	RoleAssignments []string `json:"role_assignments" db:"role_assignments"`

	// Status written onto the parent entity when this step becomes current.
	WorkOrderStatus *string `json:"work_order_status,omitempty" db:"work_order_status"`
	IncidentStatus  *string `json:"incident_status,omitempty" db:"incident_status"`
}

// MinApprovalsOrDefault resolves the effective "multiple" threshold.
func (s *WorkflowStep) MinApprovalsOrDefault() int {
	if s.MinApprovals > 0 {
		return s.MinApprovals
	}
	return 2
}

// EntityStatus returns the status value mapped for the given entity type,
// or nil when the step defines none.
func (s *WorkflowStep) EntityStatus(t EntityType) *string {
	if t == EntityTypeSafetyIncident {
		return s.IncidentStatus
	}
	return s.WorkOrderStatus
}

// SLADue computes the SLA deadline for a step instance started at the given
// time, or nil when the step carries no SLA.
func (s *WorkflowStep) SLADue(startedAt time.Time) *time.Time {
	if s.SLAHours == nil {
		return nil
	}
	due := startedAt.Add(time.Duration(*s.SLAHours) * time.Hour)
	return &due
}

// WorkflowState is the single mutable workflow row of a tracked entity. It
// is created on initialization and mutated only by the transition engine.
type WorkflowState struct {
	EntityID                string     `json:"entity_id" db:"entity_id"`
	EntityType              EntityType `json:"entity_type" db:"entity_type"`
	OrganizationID          string     `json:"organization_id" db:"organization_id"`
	TemplateID              string     `json:"template_id" db:"template_id"`
	CurrentStepID           *string    `json:"current_step_id,omitempty" db:"current_step_id"`
	AssignedToUserID        *string    `json:"assigned_to_user_id,omitempty" db:"assigned_to_user_id"`
	PendingApprovalFromRole *string    `json:"pending_approval_from_role,omitempty" db:"pending_approval_from_role"`
	StepStartedAt           time.Time  `json:"step_started_at" db:"step_started_at"`
	SLADueAt                *time.Time `json:"sla_due_at,omitempty" db:"sla_due_at"`
	CreatedAt               time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at" db:"updated_at"`
}

// ApprovalRecord is one entry of the append-only approval ledger. Records
// are never mutated or deleted; they are the audit trail.
type ApprovalRecord struct {
	ID         string         `json:"id" db:"id"`
	EntityID   string         `json:"entity_id" db:"entity_id"`
	StepID     string         `json:"step_id" db:"step_id"`
	ApprovedBy string         `json:"approved_by" db:"approved_by"`
	ApprovedAt time.Time      `json:"approved_at" db:"approved_at"`
	Comments   *string        `json:"comments,omitempty" db:"comments"`
	Action     ApprovalAction `json:"approval_action" db:"approval_action"`
}
