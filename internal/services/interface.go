package services

import (
	"context"

	"maintdesk/backend/pkg/models"
)

// EntityStore is the engine's view of the application's work order and
// safety incident records. The engine only reads existence and writes the
// status field; everything else belongs to the wider application.
type EntityStore interface {
	// UpdateStatus writes the workflow-mapped status onto the entity.
	UpdateStatus(ctx context.Context, t models.EntityType, entityID, status string) error
	// Exists reports whether the entity is present.
	Exists(ctx context.Context, t models.EntityType, entityID string) (bool, error)
	// ListIDs returns all entity ids of an organization's module.
	ListIDs(ctx context.Context, orgID string, module models.Module) ([]string, error)
}

// RoleProvider resolves role membership for an organization.
type RoleProvider interface {
	// UsersInRole returns the ids of users holding the role.
	UsersInRole(ctx context.Context, orgID, role string) ([]string, error)
	// UserRoles returns the roles a user holds.
	UserRoles(ctx context.Context, orgID, userID string) ([]string, error)
}

// Logger defines the logging interface compatible with the application
// logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
