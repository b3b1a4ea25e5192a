// Package registry implements the Project Registry (spec §4.2): the
// Project table and its filtered listings, plus a denormalized on-disk
// snapshot used as list()'s fast path.
package registry

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/quorumforge/aiorch/internal/access"
	"github.com/quorumforge/aiorch/internal/core"
	"github.com/quorumforge/aiorch/internal/storage"
)

// CreateSpec is the input to Create: everything the caller supplies
// about a new project besides its owner and derived fields.
type CreateSpec struct {
	Name      string
	Language  string
	Framework string
	LocalPath string
	RemoteURL string
	Branch    string
	Protected bool
}

// Patch is the set of mutable fields Update may change. Nil fields are
// left untouched.
type Patch struct {
	Name      *string
	Language  *string
	Framework *string
	LocalPath *string
	RemoteURL *string
	Branch    *string
	Status    *core.ProjectStatus
	Protected *bool
}

// Registry is the Project Registry service.
type Registry struct {
	repo     *storage.ProjectRepo
	resolver *access.Resolver
	snapshot *Snapshot
}

// New constructs a Registry. snapshotPath may be empty to disable the
// on-disk fast-path cache.
func New(repo *storage.ProjectRepo, resolver *access.Resolver, snapshotPath string) *Registry {
	return &Registry{repo: repo, resolver: resolver, snapshot: NewSnapshot(snapshotPath)}
}

// Create authorizes identity to act on behalf of ownerUserID, then
// inserts a new project (spec §4.2). ownerUserId and tenantId never
// change after this call.
func (r *Registry) Create(ctx context.Context, identity core.Identity, ownerUserID string, spec CreateSpec) (*core.Project, error) {
	if err := r.resolver.AuthorizeUserTarget(ctx, identity, ownerUserID); err != nil {
		return nil, err
	}
	if spec.Name == "" {
		return nil, core.ErrPrecondition("MISSING_NAME", "project name is required")
	}
	p := &core.Project{
		ID:          uuid.NewString(),
		OwnerUserID: ownerUserID,
		TenantID:    identity.TenantID,
		Name:        spec.Name,
		Language:    spec.Language,
		Framework:   spec.Framework,
		LocalPath:   spec.LocalPath,
		RemoteURL:   spec.RemoteURL,
		Branch:      spec.Branch,
		Status:      core.ProjectActive,
		Protected:   spec.Protected,
		CreatedAt:   time.Now(),
	}
	if err := r.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	r.snapshot.Invalidate()
	return p, nil
}

// Get authorizes identity for READ and returns the project.
func (r *Registry) Get(ctx context.Context, identity core.Identity, id string) (*core.Project, error) {
	p, err := r.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.resolver.Authorize(identity, p, access.OpRead); err != nil {
		return nil, err
	}
	return p, nil
}

// GetUnchecked returns the project by id without an authorization check.
// Reserved for internal callers that already authorized the caller once
// up front and only need the project's fields afterward — namely the
// Workflow Engine's step executors, which re-read a project's localPath/
// language/framework/branch on every step of a workflow whose WRITE
// access was already checked at submit time (spec §4.3).
func (r *Registry) GetUnchecked(ctx context.Context, id string) (*core.Project, error) {
	return r.repo.Get(ctx, id)
}

// List applies the visibility rule derived from identity's role and the
// caller-supplied filter (spec §4.2). tenantUserIDs is the full set of
// user ids in identity's tenant, needed only for ENTERPRISE callers.
func (r *Registry) List(ctx context.Context, identity core.Identity, tenantUserIDs []string, filter storage.ProjectFilter) ([]*core.Project, int, int, int, error) {
	filter.VisibleUserIDs = r.resolver.VisibleUserIDs(identity, tenantUserIDs)
	return r.repo.List(ctx, filter)
}

// Update authorizes identity for WRITE then applies patch.
func (r *Registry) Update(ctx context.Context, identity core.Identity, id string, patch Patch) (*core.Project, error) {
	p, err := r.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.resolver.Authorize(identity, p, access.OpWrite); err != nil {
		return nil, err
	}

	fields := map[string]interface{}{}
	if patch.Name != nil {
		fields["name"] = *patch.Name
	}
	if patch.Language != nil {
		fields["language"] = *patch.Language
	}
	if patch.Framework != nil {
		fields["framework"] = *patch.Framework
	}
	if patch.LocalPath != nil {
		fields["local_path"] = *patch.LocalPath
	}
	if patch.RemoteURL != nil {
		fields["remote_url"] = *patch.RemoteURL
	}
	if patch.Branch != nil {
		fields["branch"] = *patch.Branch
	}
	if patch.Status != nil {
		fields["status"] = string(*patch.Status)
	}
	if patch.Protected != nil {
		fields["protected"] = boolInt(*patch.Protected)
	}
	if err := r.repo.Update(ctx, id, fields); err != nil {
		return nil, err
	}
	r.snapshot.Invalidate()
	return r.repo.Get(ctx, id)
}

// Delete authorizes identity for DELETE, then soft- or hard-deletes the
// project. hard is honored only if identity is ADMIN, or ENTERPRISE in
// the project's tenant (spec §4.2); otherwise it is always soft.
func (r *Registry) Delete(ctx context.Context, identity core.Identity, id string, hard bool) error {
	p, err := r.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := r.resolver.Authorize(identity, p, access.OpDelete); err != nil {
		return err
	}
	actualHard := hard && (identity.Role == core.RoleAdmin ||
		(identity.Role == core.RoleEnterprise && identity.TenantID == p.TenantID))
	if err := r.repo.Delete(ctx, id, actualHard); err != nil {
		return err
	}
	r.snapshot.Invalidate()
	return nil
}

// TouchLastOpened records that a project was just opened.
func (r *Registry) TouchLastOpened(ctx context.Context, identity core.Identity, id string) error {
	p, err := r.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := r.resolver.Authorize(identity, p, access.OpRead); err != nil {
		return err
	}
	return r.repo.TouchLastOpened(ctx, id)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
