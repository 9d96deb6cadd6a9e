// Package domain contains core domain types for the vibe-agents server.
package domain

import (
	"time"
)

// ProjectStatus is the lifecycle status of a project record.
type ProjectStatus string

const (
	// ProjectActive is the default status for a live project.
	ProjectActive ProjectStatus = "active"
	// ProjectArchived marks a project the user has shelved.
	ProjectArchived ProjectStatus = "archived"
	// ProjectDeleted marks a soft-deleted project. Records are never
	// physically removed automatically.
	ProjectDeleted ProjectStatus = "deleted"
)

// Project is the persistent unit of work. Its working directory is unique
// and owned exclusively by this project.
type Project struct {
	ID          int64         `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Directory   string        `json:"directory"`
	Status      ProjectStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	PlanJSON    string        `json:"-"`
	FileCount   int           `json:"file_count"`
}

// Plan decodes the serialized plan, or returns nil when none is stored.
func (p *Project) Plan() *Plan {
	if p.PlanJSON == "" {
		return nil
	}
	plan, err := ParsePlan([]byte(p.PlanJSON))
	if err != nil {
		return nil
	}
	return plan
}

// ContinuationToken is an opaque handle the capability provider uses to
// resume a prior multi-turn exchange, unique per (project, role) pair.
type ContinuationToken struct {
	ProjectID int64     `json:"project_id"`
	Role      string    `json:"role"`
	Token     string    `json:"token"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MemoryEntry is a stored key/value decision for a project.
type MemoryEntry struct {
	ProjectID int64     `json:"project_id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
