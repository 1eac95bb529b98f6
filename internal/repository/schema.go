package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the DDL for the workflow subsystem. The work_orders,
// safety_incidents and user_roles tables are owned by the wider application;
// they are included here so the seed command and the integration tests can
// stand up a working database on their own.
const Schema = `
CREATE TABLE IF NOT EXISTS workflow_templates (
    id              UUID PRIMARY KEY,
    organization_id UUID NOT NULL,
    module          TEXT NOT NULL,
    name            TEXT NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    version         INT  NOT NULL DEFAULT 1,
    is_default      BOOLEAN NOT NULL DEFAULT FALSE,
    is_active       BOOLEAN NOT NULL DEFAULT TRUE,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

-- at most one default template per organization and module
CREATE UNIQUE INDEX IF NOT EXISTS workflow_templates_default_idx
    ON workflow_templates (organization_id, module) WHERE is_default;

CREATE TABLE IF NOT EXISTS workflow_steps (
    id               UUID PRIMARY KEY,
    template_id      UUID NOT NULL REFERENCES workflow_templates(id) ON DELETE CASCADE,
    step_order       INT  NOT NULL,
    name             TEXT NOT NULL,
    description      TEXT NOT NULL DEFAULT '',
    approval_type    TEXT NOT NULL,
    min_approvals    INT  NOT NULL DEFAULT 0,
    sla_hours        INT,
    is_required      BOOLEAN NOT NULL DEFAULT TRUE,
    role_assignments TEXT[] NOT NULL DEFAULT '{}',
    work_order_status TEXT,
    incident_status   TEXT,
    UNIQUE (template_id, step_order)
);

CREATE TABLE IF NOT EXISTS workflow_states (
    entity_id                  UUID PRIMARY KEY,
    entity_type                TEXT NOT NULL,
    organization_id            UUID NOT NULL,
    template_id                UUID NOT NULL REFERENCES workflow_templates(id),
    current_step_id            UUID REFERENCES workflow_steps(id),
    assigned_to_user_id        UUID,
    pending_approval_from_role TEXT,
    step_started_at            TIMESTAMPTZ NOT NULL,
    sla_due_at                 TIMESTAMPTZ,
    created_at                 TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at                 TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS workflow_states_sla_idx
    ON workflow_states (entity_type, sla_due_at) WHERE sla_due_at IS NOT NULL;

CREATE TABLE IF NOT EXISTS approval_records (
    id              UUID PRIMARY KEY,
    entity_id       UUID NOT NULL,
    step_id         UUID NOT NULL,
    approved_by     UUID NOT NULL,
    approved_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    comments        TEXT,
    approval_action TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS approval_records_step_idx
    ON approval_records (entity_id, step_id, approved_at);

CREATE TABLE IF NOT EXISTS work_orders (
    id              UUID PRIMARY KEY,
    organization_id UUID NOT NULL,
    title           TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS safety_incidents (
    id              UUID PRIMARY KEY,
    organization_id UUID NOT NULL,
    title           TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS user_roles (
    organization_id UUID NOT NULL,
    user_id         UUID NOT NULL,
    role            TEXT NOT NULL,
    PRIMARY KEY (organization_id, user_id, role)
);
`

// Migrate applies the schema. All statements are idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, Schema)
	return err
}
