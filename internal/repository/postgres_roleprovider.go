package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRoleProvider resolves role membership from the application's
// user_roles table. The engine needs it to evaluate unanimous policies and
// to check that an acting user holds one of a step's assigned roles.
type PostgresRoleProvider struct {
	db *pgxpool.Pool
}

// NewPostgresRoleProvider creates a new PostgresRoleProvider.
func NewPostgresRoleProvider(db *pgxpool.Pool) *PostgresRoleProvider {
	return &PostgresRoleProvider{db: db}
}

// UsersInRole returns the ids of an organization's users holding the role.
func (p *PostgresRoleProvider) UsersInRole(ctx context.Context, orgID, role string) ([]string, error) {
	rows, err := p.db.Query(ctx,
		"SELECT user_id FROM user_roles WHERE organization_id = $1 AND role = $2 ORDER BY user_id",
		orgID, role,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

// UserRoles returns the roles a user holds within an organization.
func (p *PostgresRoleProvider) UserRoles(ctx context.Context, orgID, userID string) ([]string, error) {
	rows, err := p.db.Query(ctx,
		"SELECT role FROM user_roles WHERE organization_id = $1 AND user_id = $2 ORDER BY role",
		orgID, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

// Grant adds a role to a user. Used by the seed command.
func (p *PostgresRoleProvider) Grant(ctx context.Context, orgID, userID, role string) error {
	_, err := p.db.Exec(ctx,
		"INSERT INTO user_roles (organization_id, user_id, role) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING",
		orgID, userID, role,
	)
	return err
}

func scanIDs(rows pgx.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
