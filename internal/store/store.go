// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/liamavtal/vibe-agents/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Repository defines the interface for persisting projects, per-role
// continuation tokens, and project memory.
type Repository interface {
	// CreateProject inserts a new active project record.
	CreateProject(ctx context.Context, name, directory, description, planJSON string) (*domain.Project, error)

	// GetProject retrieves a project by ID. Soft-deleted projects are
	// treated as absent.
	GetProject(ctx context.Context, id int64) (*domain.Project, error)

	// GetProjectByName retrieves the most recently updated project with
	// the given name.
	GetProjectByName(ctx context.Context, name string) (*domain.Project, error)

	// ListProjects lists projects with the given status, most recently
	// updated first.
	ListProjects(ctx context.Context, status domain.ProjectStatus, limit int) ([]*domain.Project, error)

	// UpdateProjectPlan replaces the serialized plan for a project.
	UpdateProjectPlan(ctx context.Context, id int64, planJSON string) error

	// UpdateProjectStatus changes the lifecycle status of a project.
	// Soft deletion goes through this with domain.ProjectDeleted.
	UpdateProjectStatus(ctx context.Context, id int64, status domain.ProjectStatus) error

	// TouchProject bumps updated_at and, when fileCount >= 0, the file count.
	TouchProject(ctx context.Context, id int64, fileCount int) error

	// SaveToken stores or replaces the continuation token for a
	// (project, role) pair.
	SaveToken(ctx context.Context, projectID int64, role, token string) error

	// GetToken retrieves the continuation token for a (project, role) pair.
	// Returns "" without error when no token is stored.
	GetToken(ctx context.Context, projectID int64, role string) (string, error)

	// GetAllTokens retrieves every stored role token for a project.
	GetAllTokens(ctx context.Context, projectID int64) (map[string]string, error)

	// SetMemory stores or replaces a key/value decision for a project.
	SetMemory(ctx context.Context, projectID int64, key, value string) error

	// GetMemory retrieves a stored value, or "" when absent.
	GetMemory(ctx context.Context, projectID int64, key string) (string, error)

	// GetAllMemory retrieves all stored key/value pairs for a project.
	GetAllMemory(ctx context.Context, projectID int64) (map[string]string, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
