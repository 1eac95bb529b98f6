package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"maintdesk/backend/pkg/models"
)

// PostgresWorkflowStore is a PostgreSQL implementation of the Store
// interface.
type PostgresWorkflowStore struct {
	db *pgxpool.Pool
}

// NewPostgresWorkflowStore creates a new PostgresWorkflowStore.
func NewPostgresWorkflowStore(db *pgxpool.Pool) *PostgresWorkflowStore {
	return &PostgresWorkflowStore{db: db}
}

const templateColumns = `id, organization_id, module, name, description, version, is_default, is_active, created_at, updated_at`

const stepColumns = `id, template_id, step_order, name, description, approval_type, min_approvals, sla_hours, is_required, role_assignments, work_order_status, incident_status`

const stateColumns = `entity_id, entity_type, organization_id, template_id, current_step_id, assigned_to_user_id, pending_approval_from_role, step_started_at, sla_due_at, created_at, updated_at`

const approvalColumns = `id, entity_id, step_id, approved_by, approved_at, comments, approval_action`

// CreateTemplate persists a template and its steps in one transaction.
func (s *PostgresWorkflowStore) CreateTemplate(ctx context.Context, t *models.WorkflowTemplate) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := insertTemplate(ctx, tx, t); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CreateTemplateVersion deactivates the base template and inserts next as
// its successor version, carrying the default flag over atomically.
func (s *PostgresWorkflowStore) CreateTemplateVersion(ctx context.Context, baseID string, next *models.WorkflowTemplate) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var version int
	var isDefault bool
	err = tx.QueryRow(ctx,
		"SELECT version, is_default FROM workflow_templates WHERE id = $1 FOR UPDATE",
		baseID,
	).Scan(&version, &isDefault)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("template %s: %w", baseID, models.ErrStepNotFound)
	}
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		"UPDATE workflow_templates SET is_active = FALSE, is_default = FALSE, updated_at = now() WHERE id = $1",
		baseID,
	)
	if err != nil {
		return err
	}

	next.Version = version + 1
	next.IsDefault = isDefault
	next.IsActive = true
	if err := insertTemplate(ctx, tx, next); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertTemplate(ctx context.Context, tx pgx.Tx, t *models.WorkflowTemplate) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO workflow_templates (id, organization_id, module, name, description, version, is_default, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.OrganizationID, t.Module, t.Name, t.Description, t.Version, t.IsDefault, t.IsActive,
	)
	if err != nil {
		return err
	}
	for _, step := range t.Steps {
		_, err = tx.Exec(ctx,
			`INSERT INTO workflow_steps (`+stepColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			step.ID, t.ID, step.StepOrder, step.Name, step.Description, step.ApprovalType,
			step.MinApprovals, step.SLAHours, step.IsRequired, step.RoleAssignments,
			step.WorkOrderStatus, step.IncidentStatus,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// GetTemplate loads a template with its steps sorted by step order.
func (s *PostgresWorkflowStore) GetTemplate(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	row := s.db.QueryRow(ctx, "SELECT "+templateColumns+" FROM workflow_templates WHERE id = $1", id)
	t, err := scanTemplate(row)
	if err != nil {
		return nil, err
	}
	t.Steps, err = s.templateSteps(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTemplates lists an organization's templates for a module, newest
// version first, with their steps attached.
func (s *PostgresWorkflowStore) ListTemplates(ctx context.Context, orgID string, module models.Module) ([]*models.WorkflowTemplate, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+templateColumns+" FROM workflow_templates WHERE organization_id = $1 AND module = $2 ORDER BY name, version DESC",
		orgID, module,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []*models.WorkflowTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, t := range templates {
		if t.Steps, err = s.templateSteps(ctx, t.ID); err != nil {
			return nil, err
		}
	}
	return templates, nil
}

// DefaultTemplate resolves the default template for an organization and
// module.
func (s *PostgresWorkflowStore) DefaultTemplate(ctx context.Context, orgID string, module models.Module) (*models.WorkflowTemplate, error) {
	row := s.db.QueryRow(ctx,
		"SELECT "+templateColumns+" FROM workflow_templates WHERE organization_id = $1 AND module = $2 AND is_default AND is_active",
		orgID, module,
	)
	t, err := scanTemplate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", orgID, module, models.ErrNoDefaultTemplate)
	}
	if err != nil {
		return nil, err
	}
	t.Steps, err = s.templateSteps(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// SetDefaultTemplate clears every other default for the organization and
// module and sets the target, all in one transaction so a concurrent reader
// never observes two defaults.
func (s *PostgresWorkflowStore) SetDefaultTemplate(ctx context.Context, orgID string, module models.Module, templateID string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		"UPDATE workflow_templates SET is_default = FALSE, updated_at = now() WHERE organization_id = $1 AND module = $2 AND is_default AND id <> $3",
		orgID, module, templateID,
	)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx,
		"UPDATE workflow_templates SET is_default = TRUE, updated_at = now() WHERE id = $1 AND organization_id = $2 AND module = $3",
		templateID, orgID, module,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("template %s: %w", templateID, models.ErrStepNotFound)
	}
	return tx.Commit(ctx)
}

// DeleteTemplate removes a template unless a workflow state still
// references it.
func (s *PostgresWorkflowStore) DeleteTemplate(ctx context.Context, id string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var inUse bool
	err = tx.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM workflow_states WHERE template_id = $1)", id,
	).Scan(&inUse)
	if err != nil {
		return err
	}
	if inUse {
		return fmt.Errorf("template %s: %w", id, models.ErrTemplateInUse)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM workflow_templates WHERE id = $1", id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresWorkflowStore) templateSteps(ctx context.Context, templateID string) ([]*models.WorkflowStep, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+stepColumns+" FROM workflow_steps WHERE template_id = $1 ORDER BY step_order",
		templateID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*models.WorkflowStep
	for rows.Next() {
		var step models.WorkflowStep
		err := rows.Scan(
			&step.ID, &step.TemplateID, &step.StepOrder, &step.Name, &step.Description,
			&step.ApprovalType, &step.MinApprovals, &step.SLAHours, &step.IsRequired,
			&step.RoleAssignments, &step.WorkOrderStatus, &step.IncidentStatus,
		)
		if err != nil {
			return nil, err
		}
		steps = append(steps, &step)
	}
	return steps, rows.Err()
}

// CreateState inserts a workflow state unless the entity already has one.
func (s *PostgresWorkflowStore) CreateState(ctx context.Context, st *models.WorkflowState) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO workflow_states (entity_id, entity_type, organization_id, template_id, current_step_id,
		                              assigned_to_user_id, pending_approval_from_role, step_started_at, sla_due_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (entity_id) DO NOTHING`,
		st.EntityID, st.EntityType, st.OrganizationID, st.TemplateID, st.CurrentStepID,
		st.AssignedToUserID, st.PendingApprovalFromRole, st.StepStartedAt, st.SLADueAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// GetState loads the workflow state of an entity.
func (s *PostgresWorkflowStore) GetState(ctx context.Context, entityID string) (*models.WorkflowState, error) {
	row := s.db.QueryRow(ctx, "SELECT "+stateColumns+" FROM workflow_states WHERE entity_id = $1", entityID)
	st, err := scanState(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("entity %s: %w", entityID, models.ErrNoWorkflow)
	}
	return st, err
}

// AdvanceState performs the compare-and-swap step move. The WHERE clause
// matches the step and start instant the caller observed; zero rows means a
// concurrent caller advanced first.
func (s *PostgresWorkflowStore) AdvanceState(ctx context.Context, entityID string, adv Advance) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE workflow_states
		    SET current_step_id = $1, pending_approval_from_role = $2,
		        step_started_at = $3, sla_due_at = $4, updated_at = now()
		  WHERE entity_id = $5 AND current_step_id = $6 AND step_started_at = $7`,
		adv.NextStepID, adv.PendingRole, adv.StepStartedAt, adv.SLADueAt,
		entityID, adv.ExpectStepID, adv.ExpectStartedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetAssignee updates the assigned-to user of a workflow state.
func (s *PostgresWorkflowStore) SetAssignee(ctx context.Context, entityID string, userID *string) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE workflow_states SET assigned_to_user_id = $1, updated_at = now() WHERE entity_id = $2",
		userID, entityID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity %s: %w", entityID, models.ErrNoWorkflow)
	}
	return nil
}

// ListOverdue returns states of the given module whose SLA deadline has
// passed, oldest deadline first.
func (s *PostgresWorkflowStore) ListOverdue(ctx context.Context, module models.Module, now time.Time) ([]*models.WorkflowState, error) {
	entityType := models.EntityTypeWorkOrder
	if module == models.ModuleSafetyIncidents {
		entityType = models.EntityTypeSafetyIncident
	}
	rows, err := s.db.Query(ctx,
		"SELECT "+stateColumns+" FROM workflow_states WHERE entity_type = $1 AND sla_due_at IS NOT NULL AND sla_due_at < $2 ORDER BY sla_due_at",
		entityType, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*models.WorkflowState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// AppendApproval appends one record to the approval ledger.
func (s *PostgresWorkflowStore) AppendApproval(ctx context.Context, r *models.ApprovalRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO approval_records (`+approvalColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.EntityID, r.StepID, r.ApprovedBy, r.ApprovedAt, r.Comments, r.Action,
	)
	return err
}

// ListApprovals returns the full ledger of an entity, oldest first.
func (s *PostgresWorkflowStore) ListApprovals(ctx context.Context, entityID string) ([]*models.ApprovalRecord, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+approvalColumns+" FROM approval_records WHERE entity_id = $1 ORDER BY approved_at",
		entityID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanApprovals(rows)
}

// StepInstanceApprovals returns the ledger entries of one step instance.
func (s *PostgresWorkflowStore) StepInstanceApprovals(ctx context.Context, entityID, stepID string, since time.Time) ([]*models.ApprovalRecord, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+approvalColumns+" FROM approval_records WHERE entity_id = $1 AND step_id = $2 AND approved_at >= $3 ORDER BY approved_at",
		entityID, stepID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanApprovals(rows)
}

func scanTemplate(row pgx.Row) (*models.WorkflowTemplate, error) {
	var t models.WorkflowTemplate
	err := row.Scan(
		&t.ID, &t.OrganizationID, &t.Module, &t.Name, &t.Description,
		&t.Version, &t.IsDefault, &t.IsActive, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanState(row pgx.Row) (*models.WorkflowState, error) {
	var st models.WorkflowState
	err := row.Scan(
		&st.EntityID, &st.EntityType, &st.OrganizationID, &st.TemplateID, &st.CurrentStepID,
		&st.AssignedToUserID, &st.PendingApprovalFromRole, &st.StepStartedAt, &st.SLADueAt,
		&st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func scanApprovals(rows pgx.Rows) ([]*models.ApprovalRecord, error) {
	var records []*models.ApprovalRecord
	for rows.Next() {
		var r models.ApprovalRecord
		err := rows.Scan(&r.ID, &r.EntityID, &r.StepID, &r.ApprovedBy, &r.ApprovedAt, &r.Comments, &r.Action)
		if err != nil {
			return nil, err
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}
