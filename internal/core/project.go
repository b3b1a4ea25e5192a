package core

import "time"

// ProjectStatus is the lifecycle status of a Project (spec §3).
type ProjectStatus string

const (
	ProjectActive   ProjectStatus = "ACTIVE"
	ProjectArchived ProjectStatus = "ARCHIVED"
	ProjectDeleted  ProjectStatus = "DELETED"
)

// IsValid reports whether s is a known project status.
func (s ProjectStatus) IsValid() bool {
	switch s {
	case ProjectActive, ProjectArchived, ProjectDeleted:
		return true
	default:
		return false
	}
}

// Project is a user-owned source tree (spec §3). OwnerUserID and TenantID
// never change after creation; TenantID is always derived from the owner
// and never diverges from it.
type Project struct {
	ID            string
	OwnerUserID   string
	TenantID      string
	Name          string
	Language      string
	Framework     string
	LocalPath     string
	RemoteURL     string
	Branch        string
	Status        ProjectStatus
	Protected     bool
	CreatedAt     time.Time
	LastOpenedAt  time.Time
}

// Clone returns a deep copy of p.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// IsDeleted reports whether the project has been soft- or hard-deleted.
func (p *Project) IsDeleted() bool {
	return p != nil && p.Status == ProjectDeleted
}

// Workspace is the on-disk, single-node materialization of a Project
// (spec §3). Scoped to exactly one project.
type Workspace struct {
	ProjectID    string
	Root         string
	Language     string
	OpenSessions int
}
