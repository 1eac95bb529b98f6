package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"maintdesk/backend/pkg/models"
)

// PostgresEntityStore reads and writes the application's work order and
// safety incident tables on behalf of the engine. The engine only ever
// touches the status column; every other field belongs to the rest of the
// application.
type PostgresEntityStore struct {
	db *pgxpool.Pool
}

// NewPostgresEntityStore creates a new PostgresEntityStore.
func NewPostgresEntityStore(db *pgxpool.Pool) *PostgresEntityStore {
	return &PostgresEntityStore{db: db}
}

func entityTable(t models.EntityType) string {
	if t == models.EntityTypeSafetyIncident {
		return "safety_incidents"
	}
	return "work_orders"
}

// UpdateStatus writes the workflow-mapped status onto the parent entity.
func (s *PostgresEntityStore) UpdateStatus(ctx context.Context, t models.EntityType, entityID, status string) error {
	_, err := s.db.Exec(ctx,
		"UPDATE "+entityTable(t)+" SET status = $1, updated_at = now() WHERE id = $2",
		status, entityID,
	)
	return err
}

// Exists reports whether the entity is present in its module's table.
func (s *PostgresEntityStore) Exists(ctx context.Context, t models.EntityType, entityID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM "+entityTable(t)+" WHERE id = $1)", entityID,
	).Scan(&exists)
	return exists, err
}

// ListIDs returns the ids of all of an organization's entities in the given
// module, oldest first. The bulk initializer walks this list and skips the
// entities that already carry a workflow state.
func (s *PostgresEntityStore) ListIDs(ctx context.Context, orgID string, module models.Module) ([]string, error) {
	t := models.EntityTypeWorkOrder
	if module == models.ModuleSafetyIncidents {
		t = models.EntityTypeSafetyIncident
	}
	rows, err := s.db.Query(ctx,
		"SELECT id FROM "+entityTable(t)+" WHERE organization_id = $1 ORDER BY created_at",
		orgID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Insert creates a bare entity row. Only the seed command uses this; in a
// real deployment entity creation belongs to the wider application.
func (s *PostgresEntityStore) Insert(ctx context.Context, t models.EntityType, id, orgID, title string) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO "+entityTable(t)+" (id, organization_id, title) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING",
		id, orgID, title,
	)
	return err
}
