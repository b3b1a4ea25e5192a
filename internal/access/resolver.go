// Package access implements the Access & Visibility Resolver: the single
// source of truth for authorization decisions over projects and users.
// No other component implements role checks (spec §4.1).
package access

import (
	"context"

	"github.com/quorumforge/aiorch/internal/core"
)

// Operation is an action an identity may attempt against a project.
type Operation string

const (
	OpRead   Operation = "READ"
	OpWrite  Operation = "WRITE"
	OpDelete Operation = "DELETE"
	OpRun    Operation = "RUN"
	OpStop   Operation = "STOP"
)

// UserTenantLookup is the single narrow collaborator the resolver is
// allowed: looking up a target user's tenant when the target is not the
// caller (authorizeUserTarget). It is not a full user-service dependency.
type UserTenantLookup interface {
	TenantOf(ctx context.Context, userID string) (tenantID string, err error)
}

// Resolver is the Access & Visibility Resolver (spec §4.1).
type Resolver struct {
	lookup UserTenantLookup
}

// New constructs a Resolver. lookup may be nil if authorizeUserTarget is
// never called with a target other than the caller.
func New(lookup UserTenantLookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// VisibleUserIDs returns the set of user ids identity may see, or nil to
// mean "unbounded" (ADMIN only). ENTERPRISE sees all of its tenant;
// PRO_DEV/DEV see only themselves.
func (r *Resolver) VisibleUserIDs(identity core.Identity, tenantUserIDs []string) []string {
	switch identity.Role {
	case core.RoleAdmin:
		return nil
	case core.RoleEnterprise:
		out := make([]string, len(tenantUserIDs))
		copy(out, tenantUserIDs)
		return out
	default:
		return []string{identity.UserID}
	}
}

// Authorize decides whether identity may perform op against project
// (spec §4.1). Returns a DENIED DomainError on refusal, nil on success.
func (r *Resolver) Authorize(identity core.Identity, project *core.Project, op Operation) error {
	switch identity.Role {
	case core.RoleAdmin:
		return nil
	case core.RoleEnterprise:
		if project.TenantID != identity.TenantID {
			return core.ErrDenied("project not in caller's tenant")
		}
	default: // PRO_DEV, DEV
		if project.OwnerUserID != identity.UserID {
			return core.ErrDenied("project not owned by caller")
		}
	}
	if op == OpDelete && project.Protected && identity.Role != core.RoleAdmin && identity.Role != core.RoleEnterprise {
		return core.ErrDenied("project is protected")
	}
	return nil
}

// AuthorizeUserTarget decides whether identity may act on behalf of
// targetUserID, e.g. when creating a project for another user (spec §4.1).
func (r *Resolver) AuthorizeUserTarget(ctx context.Context, identity core.Identity, targetUserID string) error {
	if identity.Role == core.RoleAdmin {
		return nil
	}
	if targetUserID == identity.UserID {
		return nil
	}
	if identity.Role == core.RoleEnterprise {
		if r.lookup == nil {
			return core.ErrDenied("target user tenant unknown")
		}
		tenantID, err := r.lookup.TenantOf(ctx, targetUserID)
		if err != nil {
			return err
		}
		if tenantID != identity.TenantID {
			return core.ErrDenied("target user not in caller's tenant")
		}
		return nil
	}
	return core.ErrDenied("caller may not act on behalf of another user")
}
