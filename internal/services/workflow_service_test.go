package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintdesk/backend/internal/logging"
	"maintdesk/backend/internal/repository"
	"maintdesk/backend/pkg/models"
)

type fakeEntities struct {
	mu       sync.Mutex
	ids      map[models.Module][]string
	statuses map[string]string
	missing  map[string]bool
}

func newFakeEntities() *fakeEntities {
	return &fakeEntities{
		ids:      make(map[models.Module][]string),
		statuses: make(map[string]string),
		missing:  make(map[string]bool),
	}
}

func (f *fakeEntities) UpdateStatus(ctx context.Context, t models.EntityType, entityID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[entityID] = status
	return nil
}

func (f *fakeEntities) Exists(ctx context.Context, t models.EntityType, entityID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.missing[entityID], nil
}

func (f *fakeEntities) ListIDs(ctx context.Context, orgID string, module models.Module) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids[module]...), nil
}

func (f *fakeEntities) add(module models.Module, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids[module] = append(f.ids[module], id)
}

func (f *fakeEntities) status(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[id]
}

type fakeRoles struct {
	members map[string][]string
}

func (f *fakeRoles) UsersInRole(ctx context.Context, orgID, role string) ([]string, error) {
	return append([]string(nil), f.members[role]...), nil
}

func (f *fakeRoles) UserRoles(ctx context.Context, orgID, userID string) ([]string, error) {
	var out []string
	for role, users := range f.members {
		for _, u := range users {
			if u == userID {
				out = append(out, role)
			}
		}
	}
	return out, nil
}

type testEnv struct {
	engine   *WorkflowService
	store    *repository.MemoryStore
	entities *fakeEntities
	roles    *fakeRoles
	org      string
}

func newTestEnv(t *testing.T, members map[string][]string) *testEnv {
	t.Helper()
	store := repository.NewMemoryStore()
	entities := newFakeEntities()
	roles := &fakeRoles{members: members}
	engine := NewWorkflowService(store, entities, roles, logging.NewLogger(), nil)
	return &testEnv{
		engine:   engine,
		store:    store,
		entities: entities,
		roles:    roles,
		org:      uuid.New().String(),
	}
}

// defaultTemplate creates a template from the given steps and makes it the
// module default.
func (e *testEnv) defaultTemplate(t *testing.T, module models.Module, steps ...*models.WorkflowStep) *models.WorkflowTemplate {
	t.Helper()
	ctx := context.Background()
	created, err := e.engine.CreateTemplate(ctx, &models.WorkflowTemplate{
		OrganizationID: e.org,
		Module:         module,
		Name:           "Test Template",
		Steps:          steps,
	})
	require.NoError(t, err)
	require.NoError(t, e.engine.SetDefault(ctx, e.org, module, created.ID))
	return created
}

func step(order int, name string, approval models.ApprovalType, roles []string, status string) *models.WorkflowStep {
	s := &models.WorkflowStep{
		StepOrder:       order,
		Name:            name,
		ApprovalType:    approval,
		IsRequired:      true,
		RoleAssignments: roles,
	}
	if status != "" {
		s.WorkOrderStatus = &status
		s.IncidentStatus = &status
	}
	return s
}

func TestInitializeIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, map[string][]string{"Supervisor": {"u1"}})
	tmpl := env.defaultTemplate(t, models.ModuleWorkOrders,
		step(1, "Review", models.ApprovalTypeSingle, []string{"Supervisor"}, "in_review"),
		step(2, "Close", models.ApprovalTypeNone, nil, "closed"),
	)

	entityID := uuid.New().String()
	first, err := env.engine.Initialize(ctx, entityID, models.EntityTypeWorkOrder, env.org)
	require.NoError(t, err)
	require.NotNil(t, first.CurrentStepID)
	assert.Equal(t, tmpl.Steps[0].ID, *first.CurrentStepID)
	assert.Equal(t, "in_review", env.entities.status(entityID))
	assert.Equal(t, "Supervisor", *first.PendingApprovalFromRole)

	again, err := env.engine.Initialize(ctx, entityID, models.EntityTypeWorkOrder, env.org)
	require.NoError(t, err)
	assert.Equal(t, *first.CurrentStepID, *again.CurrentStepID)
	assert.True(t, first.StepStartedAt.Equal(again.StepStartedAt), "re-initialization must not reset the step clock")

	ghost := uuid.New().String()
	env.entities.missing[ghost] = true
	_, err = env.engine.Initialize(ctx, ghost, models.EntityTypeWorkOrder, env.org)
	assert.ErrorIs(t, err, models.ErrNoWorkflow, "only tracked entities get a workflow state")
}

func TestInitializeNoDefaultTemplate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	_, err := env.engine.Initialize(ctx, uuid.New().String(), models.EntityTypeWorkOrder, env.org)
	assert.ErrorIs(t, err, models.ErrNoDefaultTemplate)
}

func TestInitializeSLADerivation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	sla := 24
	review := step(1, "Review", models.ApprovalTypeSingle, nil, "")
	review.SLAHours = &sla
	env.defaultTemplate(t, models.ModuleWorkOrders, review, step(2, "Close", models.ApprovalTypeNone, nil, ""))

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	env.engine.now = func() time.Time { return now }

	state, err := env.engine.Initialize(ctx, uuid.New().String(), models.EntityTypeWorkOrder, env.org)
	require.NoError(t, err)
	require.NotNil(t, state.SLADueAt)
	assert.True(t, state.SLADueAt.Equal(now.Add(24*time.Hour)))
}

// Review(single, Supervisor) then Close(none). One
// supervisor approval advances to Close, writes the mapped status, and
// further actions on the terminal step change nothing.
func TestSingleApprovalScenario(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, map[string][]string{"Supervisor": {"sup-1"}})
	tmpl := env.defaultTemplate(t, models.ModuleWorkOrders,
		step(1, "Review", models.ApprovalTypeSingle, []string{"Supervisor"}, "in_review"),
		step(2, "Close", models.ApprovalTypeNone, nil, "closed"),
	)

	entityID := uuid.New().String()
	_, err := env.engine.Initialize(ctx, entityID, models.EntityTypeWorkOrder, env.org)
	require.NoError(t, err)

	state, err := env.engine.Transition(ctx, TransitionRequest{
		EntityID:     entityID,
		ActOnStepID:  tmpl.Steps[0].ID,
		ActingUserID: "sup-1",
		Action:       models.ActionApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, tmpl.Steps[1].ID, *state.CurrentStepID)
	assert.Equal(t, "closed", env.entities.status(entityID))

	// Close has no role assignments, so anyone may act; the workflow is
	// terminal and stays on its last step.
	after, err := env.engine.Transition(ctx, TransitionRequest{
		EntityID:     entityID,
		ActOnStepID:  tmpl.Steps[1].ID,
		ActingUserID: "sup-1",
		Action:       models.ActionApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, tmpl.Steps[1].ID, *after.CurrentStepID)

	records, err := env.engine.ListApprovals(ctx, entityID)
	require.NoError(t, err)
	assert.Len(t, records, 2, "every action lands in the ledger")
}

func TestTransitionErrors(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, map[string][]string{"Supervisor": {"sup-1"}})
	tmpl := env.defaultTemplate(t, models.ModuleWorkOrders,
		step(1, "Review", models.ApprovalTypeSingle, []string{"Supervisor"}, ""),
		step(2, "Close", models.ApprovalTypeNone, nil, ""),
	)

	_, err := env.engine.Transition(ctx, TransitionRequest{
		EntityID:     uuid.New().String(),
		ActOnStepID:  tmpl.Steps[0].ID,
		ActingUserID: "sup-1",
		Action:       models.ActionApproved,
	})
	assert.ErrorIs(t, err, models.ErrNoWorkflow)

	entityID := uuid.New().String()
	_, err = env.engine.Initialize(ctx, entityID, models.EntityTypeWorkOrder, env.org)
	require.NoError(t, err)

	_, err = env.engine.Transition(ctx, TransitionRequest{
		EntityID:     entityID,
		ActOnStepID:  uuid.New().String(),
		ActingUserID: "sup-1",
		Action:       models.ActionApproved,
	})
	assert.ErrorIs(t, err, models.ErrStepNotFound)

	_, err = env.engine.Transition(ctx, TransitionRequest{
		EntityID:     entityID,
		ActOnStepID:  tmpl.Steps[0].ID,
		ActingUserID: "stranger",
		Action:       models.ActionApproved,
	})
	assert.ErrorIs(t, err, models.ErrUnauthorizedRole)

	_, err = env.engine.Transition(ctx, TransitionRequest{
		EntityID:     entityID,
		ActOnStepID:  tmpl.Steps[0].ID,
		ActingUserID: "sup-1",
		Action:       models.ActionEscalated,
	})
	assert.ErrorIs(t, err, models.ErrInvalidAction, "escalation is incident-only")
}

func TestRejectionLogsButNeverAdvances(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, map[string][]string{"Supervisor": {"sup-1"}})
	tmpl := env.defaultTemplate(t, models.ModuleWorkOrders,
		step(1, "Review", models.ApprovalTypeSingle, []string{"Supervisor"}, "in_review"),
		step(2, "Close", models.ApprovalTypeNone, nil, "closed"),
	)

	entityID := uuid.New().String()
	_, err := env.engine.Initialize(ctx, entityID, models.EntityTypeWorkOrder, env.org)
	require.NoError(t, err)

	state, err := env.engine.Transition(ctx, TransitionRequest{
		EntityID:     entityID,
		ActOnStepID:  tmpl.Steps[0].ID,
		ActingUserID: "sup-1",
		Action:       models.ActionRejected,
	})
	require.NoError(t, err)
	assert.Equal(t, tmpl.Steps[0].ID, *state.CurrentStepID)
	assert.Equal(t, "in_review", env.entities.status(entityID))

	records, err := env.engine.ListApprovals(ctx, entityID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.ActionRejected, records[0].Action)

	// A later approval still satisfies the single policy.
	state, err = env.engine.Transition(ctx, TransitionRequest{
		EntityID:     entityID,
		ActOnStepID:  tmpl.Steps[0].ID,
		ActingUserID: "sup-1",
		Action:       models.ActionApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, tmpl.Steps[1].ID, *state.CurrentStepID)
}

func TestMultipleRequiresDistinctApprovers(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, map[string][]string{"Reviewer": {"u1", "u2", "u3"}})
	reviewStep := step(1, "Review", models.ApprovalTypeMultiple, []string{"Reviewer"}, "")
	reviewStep.MinApprovals = 2
	tmpl := env.defaultTemplate(t, models.ModuleWorkOrders,
		reviewStep,
		step(2, "Close", models.ApprovalTypeNone, nil, ""),
	)

	entityID := uuid.New().String()
	_, err := env.engine.Initialize(ctx, entityID, models.EntityTypeWorkOrder, env.org)
	require.NoError(t, err)

	approve := func(user string) *models.WorkflowState {
		state, err := env.engine.Transition(ctx, TransitionRequest{
			EntityID:     entityID,
			ActOnStepID:  tmpl.Steps[0].ID,
			ActingUserID: user,
			Action:       models.ActionApproved,
		})
		require.NoError(t, err)
		return state
	}

	state := approve("u1")
	assert.Equal(t, tmpl.Steps[0].ID, *state.CurrentStepID)

	// The same user approving again is still one distinct approver.
	state = approve("u1")
	assert.Equal(t, tmpl.Steps[0].ID, *state.CurrentStepID)

	state = approve("u2")
	assert.Equal(t, tmpl.Steps[1].ID, *state.CurrentStepID)
}

func TestUnanimousApproval(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, map[string][]string{
		"SafetyLead":    {"u1"},
		"SafetyOfficer": {"u2", "u3"},
	})
	tmpl := env.defaultTemplate(t, models.ModuleSafetyIncidents,
		step(1, "Investigation", models.ApprovalTypeUnanimous, []string{"SafetyLead", "SafetyOfficer"}, "under_investigation"),
		step(2, "Close", models.ApprovalTypeNone, nil, "closed"),
	)

	entityID := uuid.New().String()
	_, err := env.engine.Initialize(ctx, entityID, models.EntityTypeSafetyIncident, env.org)
	require.NoError(t, err)

	act := func(user string, action models.ApprovalAction) *models.WorkflowState {
		state, err := env.engine.Transition(ctx, TransitionRequest{
			EntityID:     entityID,
			ActOnStepID:  tmpl.Steps[0].ID,
			ActingUserID: user,
			Action:       action,
		})
		require.NoError(t, err)
		return state
	}

	state := act("u1", models.ActionApproved)
	assert.Equal(t, tmpl.Steps[0].ID, *state.CurrentStepID)
	state = act("u2", models.ActionApproved)
	assert.Equal(t, tmpl.Steps[0].ID, *state.CurrentStepID, "two of three is not unanimous")
	state = act("u3", models.ActionApproved)
	assert.Equal(t, tmpl.Steps[1].ID, *state.CurrentStepID)
}

func TestUnanimousRejectionVeto(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, map[string][]string{
		"SafetyLead":    {"u1"},
		"SafetyOfficer": {"u2"},
		"PlantManager":  {"u3"},
	})
	tmpl := env.defaultTemplate(t, models.ModuleSafetyIncidents,
		step(1, "Investigation", models.ApprovalTypeUnanimous, []string{"SafetyLead", "SafetyOfficer", "PlantManager"}, ""),
		step(2, "Close", models.ApprovalTypeNone, nil, ""),
	)

	entityID := uuid.New().String()
	_, err := env.engine.Initialize(ctx, entityID, models.EntityTypeSafetyIncident, env.org)
	require.NoError(t, err)

	// Deterministic, strictly increasing clock so approval ordering
	// relative to the rejection is unambiguous.
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	env.engine.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	act := func(user string, action models.ApprovalAction) *models.WorkflowState {
		state, err := env.engine.Transition(ctx, TransitionRequest{
			EntityID:     entityID,
			ActOnStepID:  tmpl.Steps[0].ID,
			ActingUserID: user,
			Action:       action,
		})
		require.NoError(t, err)
		return state
	}

	// u2 approves, then withdraws with a rejection. Later approvals from
	// the other two roles cannot clear u2's veto.
	act("u2", models.ActionApproved)
	act("u2", models.ActionRejected)
	act("u1", models.ActionApproved)
	state := act("u3", models.ActionApproved)
	assert.Equal(t, tmpl.Steps[0].ID, *state.CurrentStepID, "veto holds until the rejecting role re-approves")

	// A fresh approval from u2, after the rejection, clears the veto.
	state = act("u2", models.ActionApproved)
	assert.Equal(t, tmpl.Steps[1].ID, *state.CurrentStepID)
}

func TestReassignUpdatesAssignee(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, map[string][]string{"Supervisor": {"sup-1"}})
	tmpl := env.defaultTemplate(t, models.ModuleWorkOrders,
		step(1, "Review", models.ApprovalTypeSingle, []string{"Supervisor"}, ""),
		step(2, "Close", models.ApprovalTypeNone, nil, ""),
	)

	entityID := uuid.New().String()
	_, err := env.engine.Initialize(ctx, entityID, models.EntityTypeWorkOrder, env.org)
	require.NoError(t, err)

	target := "sup-2"
	state, err := env.engine.Transition(ctx, TransitionRequest{
		EntityID:         entityID,
		ActOnStepID:      tmpl.Steps[0].ID,
		ActingUserID:     "manager-1",
		Action:           models.ActionReassigned,
		ReassignToUserID: &target,
	})
	require.NoError(t, err)
	assert.Equal(t, tmpl.Steps[0].ID, *state.CurrentStepID, "reassignment never advances")
	require.NotNil(t, state.AssignedToUserID)
	assert.Equal(t, target, *state.AssignedToUserID)
}

// Two concurrent approvals jointly satisfying a threshold-2 step must result
// in exactly one advance, with both ledger records kept.
func TestConcurrentApprovalsAdvanceOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, map[string][]string{"Reviewer": {"u1", "u2", "u3"}})
	reviewStep := step(1, "Review", models.ApprovalTypeMultiple, []string{"Reviewer"}, "")
	reviewStep.MinApprovals = 2
	tmpl := env.defaultTemplate(t, models.ModuleWorkOrders,
		reviewStep,
		step(2, "Review Again", models.ApprovalTypeMultiple, []string{"Reviewer"}, ""),
		step(3, "Close", models.ApprovalTypeNone, nil, ""),
	)

	entityID := uuid.New().String()
	_, err := env.engine.Initialize(ctx, entityID, models.EntityTypeWorkOrder, env.org)
	require.NoError(t, err)

	// One approval already on the books; two more race in concurrently.
	// Each racer observes a satisfied policy, only one may move the step.
	_, err = env.engine.Transition(ctx, TransitionRequest{
		EntityID:     entityID,
		ActOnStepID:  tmpl.Steps[0].ID,
		ActingUserID: "u1",
		Action:       models.ActionApproved,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, user := range []string{"u2", "u3"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			_, err := env.engine.Transition(ctx, TransitionRequest{
				EntityID:     entityID,
				ActOnStepID:  tmpl.Steps[0].ID,
				ActingUserID: user,
				Action:       models.ActionApproved,
			})
			assert.NoError(t, err)
		}(user)
	}
	wg.Wait()

	state, err := env.engine.GetState(ctx, entityID)
	require.NoError(t, err)
	assert.Equal(t, tmpl.Steps[1].ID, *state.CurrentStepID, "exactly one advance past the raced step")

	records, err := env.engine.ListApprovals(ctx, entityID)
	require.NoError(t, err)
	assert.Len(t, records, 3, "all approvals persisted")
}

func TestInitializeMissing(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	for i := 0; i < 3; i++ {
		env.entities.add(models.ModuleWorkOrders, uuid.New().String())
	}

	// Precondition: a default template must exist.
	_, err := env.engine.InitializeMissing(ctx, env.org, models.ModuleWorkOrders)
	assert.ErrorIs(t, err, models.ErrNoDefaultTemplate)

	env.defaultTemplate(t, models.ModuleWorkOrders,
		step(1, "Review", models.ApprovalTypeSingle, nil, "in_review"),
		step(2, "Close", models.ApprovalTypeNone, nil, "closed"),
	)

	result, err := env.engine.InitializeMissing(ctx, env.org, models.ModuleWorkOrders)
	require.NoError(t, err)
	assert.Equal(t, BackfillResult{Initialized: 3, Skipped: 0}, result)

	result, err = env.engine.InitializeMissing(ctx, env.org, models.ModuleWorkOrders)
	require.NoError(t, err)
	assert.Equal(t, BackfillResult{Initialized: 0, Skipped: 3}, result)
}

func TestListOverdue(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	sla := 1
	review := step(1, "Review", models.ApprovalTypeSingle, nil, "")
	review.SLAHours = &sla
	env.defaultTemplate(t, models.ModuleWorkOrders, review, step(2, "Close", models.ApprovalTypeNone, nil, ""))

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	env.engine.now = func() time.Time { return start }

	entityID := uuid.New().String()
	_, err := env.engine.Initialize(ctx, entityID, models.EntityTypeWorkOrder, env.org)
	require.NoError(t, err)

	overdue, err := env.engine.ListOverdue(ctx, models.ModuleWorkOrders)
	require.NoError(t, err)
	assert.Empty(t, overdue, "not overdue at the moment the step starts")

	env.engine.now = func() time.Time { return start.Add(2 * time.Hour) }
	overdue, err = env.engine.ListOverdue(ctx, models.ModuleWorkOrders)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, entityID, overdue[0].EntityID)
}
