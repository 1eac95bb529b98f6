package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"maintdesk/backend/pkg/models"
)

func TestPostgresWorkflowStore(t *testing.T) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	if err := Migrate(ctx, pool); err != nil {
		t.Fatal(err)
	}

	store := NewPostgresWorkflowStore(pool)
	orgID := uuid.New().String()

	newTemplate := func(name string, module models.Module) *models.WorkflowTemplate {
		tmplID := uuid.New().String()
		sla := 8
		status := "in_review"
		closed := "closed"
		return &models.WorkflowTemplate{
			ID:             tmplID,
			OrganizationID: orgID,
			Module:         module,
			Name:           name,
			Version:        1,
			IsActive:       true,
			Steps: []*models.WorkflowStep{
				{
					ID:              uuid.New().String(),
					TemplateID:      tmplID,
					StepOrder:       1,
					Name:            "Review",
					ApprovalType:    models.ApprovalTypeSingle,
					SLAHours:        &sla,
					IsRequired:      true,
					RoleAssignments: []string{"Supervisor"},
					WorkOrderStatus: &status,
				},
				{
					ID:              uuid.New().String(),
					TemplateID:      tmplID,
					StepOrder:       2,
					Name:            "Close",
					ApprovalType:    models.ApprovalTypeNone,
					RoleAssignments: []string{},
					WorkOrderStatus: &closed,
				},
			},
		}
	}

	t.Run("Create and Get template", func(t *testing.T) {
		tmpl := newTemplate("Roundtrip", models.ModuleWorkOrders)
		require.NoError(t, store.CreateTemplate(ctx, tmpl))

		got, err := store.GetTemplate(ctx, tmpl.ID)
		require.NoError(t, err)
		assert.Equal(t, tmpl.Name, got.Name)
		require.Len(t, got.Steps, 2)
		assert.Equal(t, "Review", got.Steps[0].Name)
		assert.Equal(t, []string{"Supervisor"}, got.Steps[0].RoleAssignments)
		require.NotNil(t, got.Steps[0].SLAHours)
		assert.Equal(t, 8, *got.Steps[0].SLAHours)
		assert.Nil(t, got.Steps[1].SLAHours)
	})

	t.Run("SetDefault is exclusive", func(t *testing.T) {
		a := newTemplate("Default A", models.ModuleWorkOrders)
		b := newTemplate("Default B", models.ModuleWorkOrders)
		require.NoError(t, store.CreateTemplate(ctx, a))
		require.NoError(t, store.CreateTemplate(ctx, b))

		require.NoError(t, store.SetDefaultTemplate(ctx, orgID, models.ModuleWorkOrders, a.ID))
		require.NoError(t, store.SetDefaultTemplate(ctx, orgID, models.ModuleWorkOrders, b.ID))

		def, err := store.DefaultTemplate(ctx, orgID, models.ModuleWorkOrders)
		require.NoError(t, err)
		assert.Equal(t, b.ID, def.ID)

		templates, err := store.ListTemplates(ctx, orgID, models.ModuleWorkOrders)
		require.NoError(t, err)
		defaults := 0
		for _, tm := range templates {
			if tm.IsDefault {
				defaults++
			}
		}
		assert.Equal(t, 1, defaults)
	})

	t.Run("DefaultTemplate missing", func(t *testing.T) {
		_, err := store.DefaultTemplate(ctx, uuid.New().String(), models.ModuleSafetyIncidents)
		assert.ErrorIs(t, err, models.ErrNoDefaultTemplate)
	})

	t.Run("State create is idempotent and advance is CAS", func(t *testing.T) {
		tmpl := newTemplate("State flow", models.ModuleWorkOrders)
		require.NoError(t, store.CreateTemplate(ctx, tmpl))

		entityID := uuid.New().String()
		started := time.Now().UTC().Truncate(time.Microsecond)
		state := &models.WorkflowState{
			EntityID:       entityID,
			EntityType:     models.EntityTypeWorkOrder,
			OrganizationID: orgID,
			TemplateID:     tmpl.ID,
			CurrentStepID:  &tmpl.Steps[0].ID,
			StepStartedAt:  started,
		}
		created, err := store.CreateState(ctx, state)
		require.NoError(t, err)
		assert.True(t, created)

		created, err = store.CreateState(ctx, state)
		require.NoError(t, err)
		assert.False(t, created, "second insert is a no-op")

		adv := Advance{
			ExpectStepID:    tmpl.Steps[0].ID,
			ExpectStartedAt: started,
			NextStepID:      tmpl.Steps[1].ID,
			StepStartedAt:   started.Add(time.Minute),
		}
		moved, err := store.AdvanceState(ctx, entityID, adv)
		require.NoError(t, err)
		assert.True(t, moved)

		// Replaying the same observation loses the race.
		moved, err = store.AdvanceState(ctx, entityID, adv)
		require.NoError(t, err)
		assert.False(t, moved)

		got, err := store.GetState(ctx, entityID)
		require.NoError(t, err)
		assert.Equal(t, tmpl.Steps[1].ID, *got.CurrentStepID)
	})

	t.Run("Delete template in use", func(t *testing.T) {
		tmpl := newTemplate("Pinned", models.ModuleWorkOrders)
		require.NoError(t, store.CreateTemplate(ctx, tmpl))

		entityID := uuid.New().String()
		_, err := store.CreateState(ctx, &models.WorkflowState{
			EntityID:       entityID,
			EntityType:     models.EntityTypeWorkOrder,
			OrganizationID: orgID,
			TemplateID:     tmpl.ID,
			CurrentStepID:  &tmpl.Steps[0].ID,
			StepStartedAt:  time.Now().UTC(),
		})
		require.NoError(t, err)

		assert.ErrorIs(t, store.DeleteTemplate(ctx, tmpl.ID), models.ErrTemplateInUse)

		unused := newTemplate("Unused", models.ModuleWorkOrders)
		require.NoError(t, store.CreateTemplate(ctx, unused))
		assert.NoError(t, store.DeleteTemplate(ctx, unused.ID))
	})

	t.Run("Approval ledger and step instances", func(t *testing.T) {
		tmpl := newTemplate("Ledger", models.ModuleWorkOrders)
		require.NoError(t, store.CreateTemplate(ctx, tmpl))

		entityID := uuid.New().String()
		base := time.Now().UTC().Truncate(time.Microsecond)
		stepID := tmpl.Steps[0].ID
		for i, action := range []models.ApprovalAction{models.ActionRejected, models.ActionApproved} {
			require.NoError(t, store.AppendApproval(ctx, &models.ApprovalRecord{
				ID:         uuid.New().String(),
				EntityID:   entityID,
				StepID:     stepID,
				ApprovedBy: uuid.New().String(),
				ApprovedAt: base.Add(time.Duration(i) * time.Second),
				Action:     action,
			}))
		}

		all, err := store.ListApprovals(ctx, entityID)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, models.ActionRejected, all[0].Action)

		// Only records since the cut-off belong to the instance.
		instance, err := store.StepInstanceApprovals(ctx, entityID, stepID, base.Add(time.Second))
		require.NoError(t, err)
		require.Len(t, instance, 1)
		assert.Equal(t, models.ActionApproved, instance[0].Action)
	})

	t.Run("Template versioning", func(t *testing.T) {
		base := newTemplate("Versioned", models.ModuleWorkOrders)
		require.NoError(t, store.CreateTemplate(ctx, base))
		require.NoError(t, store.SetDefaultTemplate(ctx, orgID, models.ModuleWorkOrders, base.ID))

		next := newTemplate("Versioned", models.ModuleWorkOrders)
		require.NoError(t, store.CreateTemplateVersion(ctx, base.ID, next))

		got, err := store.GetTemplate(ctx, next.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Version)
		assert.True(t, got.IsDefault)

		baseAfter, err := store.GetTemplate(ctx, base.ID)
		require.NoError(t, err)
		assert.False(t, baseAfter.IsActive)
		assert.False(t, baseAfter.IsDefault)
	})

	t.Run("Entity store and roles", func(t *testing.T) {
		entities := NewPostgresEntityStore(pool)
		roles := NewPostgresRoleProvider(pool)

		woID := uuid.New().String()
		require.NoError(t, entities.Insert(ctx, models.EntityTypeWorkOrder, woID, orgID, "Pump inspection"))
		require.NoError(t, entities.UpdateStatus(ctx, models.EntityTypeWorkOrder, woID, "in_review"))

		exists, err := entities.Exists(ctx, models.EntityTypeWorkOrder, woID)
		require.NoError(t, err)
		assert.True(t, exists)

		ids, err := entities.ListIDs(ctx, orgID, models.ModuleWorkOrders)
		require.NoError(t, err)
		assert.Contains(t, ids, woID)

		userID := uuid.New().String()
		require.NoError(t, roles.Grant(ctx, orgID, userID, "Supervisor"))
		users, err := roles.UsersInRole(ctx, orgID, "Supervisor")
		require.NoError(t, err)
		assert.Contains(t, users, userID)
		held, err := roles.UserRoles(ctx, orgID, userID)
		require.NoError(t, err)
		assert.Equal(t, []string{"Supervisor"}, held)
	})
}
