package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTemplateStepNavigation(t *testing.T) {
	tmpl := &WorkflowTemplate{
		Steps: []*WorkflowStep{
			{ID: "a", StepOrder: 1},
			{ID: "b", StepOrder: 2},
			{ID: "c", StepOrder: 3},
		},
	}

	assert.Equal(t, "a", tmpl.FirstStep().ID)
	assert.Equal(t, "b", tmpl.NextStep("a").ID)
	assert.Nil(t, tmpl.NextStep("c"), "last step has no successor")
	assert.Nil(t, tmpl.Step("missing"))
}

func TestStepSLADue(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	var step WorkflowStep
	assert.Nil(t, step.SLADue(start), "no SLA configured")

	hours := 4
	step.SLAHours = &hours
	due := step.SLADue(start)
	assert.Equal(t, start.Add(4*time.Hour), *due)
}

func TestStepMinApprovals(t *testing.T) {
	var step WorkflowStep
	assert.Equal(t, 2, step.MinApprovalsOrDefault())
	step.MinApprovals = 3
	assert.Equal(t, 3, step.MinApprovalsOrDefault())
}

func TestEntityTypeModule(t *testing.T) {
	assert.Equal(t, ModuleWorkOrders, EntityTypeWorkOrder.Module())
	assert.Equal(t, ModuleSafetyIncidents, EntityTypeSafetyIncident.Module())
	assert.False(t, EntityType("asset").Valid())
	assert.False(t, Module("assets").Valid())
}

func TestStepEntityStatus(t *testing.T) {
	wo := "in_review"
	inc := "under_triage"
	step := WorkflowStep{WorkOrderStatus: &wo, IncidentStatus: &inc}
	assert.Equal(t, "in_review", *step.EntityStatus(EntityTypeWorkOrder))
	assert.Equal(t, "under_triage", *step.EntityStatus(EntityTypeSafetyIncident))
}
