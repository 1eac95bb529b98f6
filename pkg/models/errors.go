package models

import "errors"

// Domain error kinds. Stores and the transition engine return these
// sentinels (usually wrapped); the API layer maps them to problem responses.
var (
	// ErrTemplateInUse is returned when deleting a template still
	// referenced by a live workflow state.
	ErrTemplateInUse = errors.New("workflow template is in use")

	// ErrNoDefaultTemplate is returned when an organization has no default
	// template configured for a module.
	ErrNoDefaultTemplate = errors.New("no default workflow template for module")

	// ErrNoWorkflow is returned when an entity has no workflow state.
	ErrNoWorkflow = errors.New("entity has no workflow state")

	// ErrStepNotFound is returned when a step id does not belong to the
	// entity's template.
	ErrStepNotFound = errors.New("workflow step not found in template")

	// ErrInvalidStepOrder is returned at template creation for an empty
	// step list or duplicate step_order values.
	ErrInvalidStepOrder = errors.New("invalid step order")

	// ErrUnauthorizedRole is returned when the acting user holds none of
	// the roles assigned to the step being acted upon.
	ErrUnauthorizedRole = errors.New("acting user holds no assigned role for step")

	// ErrInvalidAction is returned for an unknown approval action, or for
	// "escalated" on a work order (escalation is incident-only).
	ErrInvalidAction = errors.New("invalid approval action")
)
