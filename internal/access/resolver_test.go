package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumforge/aiorch/internal/core"
)

func TestVisibleUserIDs(t *testing.T) {
	r := New(nil)

	admin := core.Identity{UserID: "u-admin", TenantID: "t1", Role: core.RoleAdmin}
	assert.Nil(t, r.VisibleUserIDs(admin, []string{"a", "b"}))

	ent := core.Identity{UserID: "u-ent", TenantID: "t1", Role: core.RoleEnterprise}
	assert.ElementsMatch(t, []string{"a", "b"}, r.VisibleUserIDs(ent, []string{"a", "b"}))

	dev := core.Identity{UserID: "u-dev", TenantID: "t1", Role: core.RoleDev}
	assert.Equal(t, []string{"u-dev"}, r.VisibleUserIDs(dev, []string{"a", "b"}))
}

func TestAuthorize_RoleHierarchy(t *testing.T) {
	r := New(nil)
	proj := &core.Project{ID: "p1", OwnerUserID: "owner", TenantID: "t1"}

	admin := core.Identity{UserID: "other", TenantID: "t2", Role: core.RoleAdmin}
	require.NoError(t, r.Authorize(admin, proj, OpDelete))

	entSame := core.Identity{UserID: "other", TenantID: "t1", Role: core.RoleEnterprise}
	require.NoError(t, r.Authorize(entSame, proj, OpWrite))

	entOther := core.Identity{UserID: "other", TenantID: "t2", Role: core.RoleEnterprise}
	err := r.Authorize(entOther, proj, OpRead)
	require.Error(t, err)
	assert.Equal(t, core.KindDenied, core.Kind(err))

	devOwner := core.Identity{UserID: "owner", TenantID: "t1", Role: core.RoleDev}
	require.NoError(t, r.Authorize(devOwner, proj, OpRun))

	devOther := core.Identity{UserID: "someone-else", TenantID: "t1", Role: core.RoleDev}
	err = r.Authorize(devOther, proj, OpRead)
	require.Error(t, err)
}

func TestAuthorize_ProtectedDelete(t *testing.T) {
	r := New(nil)
	proj := &core.Project{ID: "p1", OwnerUserID: "owner", TenantID: "t1", Protected: true}

	devOwner := core.Identity{UserID: "owner", TenantID: "t1", Role: core.RoleDev}
	err := r.Authorize(devOwner, proj, OpDelete)
	require.Error(t, err)
	assert.Equal(t, core.KindDenied, core.Kind(err))

	proDevOwner := core.Identity{UserID: "owner", TenantID: "t1", Role: core.RoleProDev}
	err = r.Authorize(proDevOwner, proj, OpDelete)
	require.Error(t, err)

	admin := core.Identity{UserID: "owner", TenantID: "t1", Role: core.RoleAdmin}
	require.NoError(t, r.Authorize(admin, proj, OpDelete))

	ent := core.Identity{UserID: "other", TenantID: "t1", Role: core.RoleEnterprise}
	require.NoError(t, r.Authorize(ent, proj, OpDelete))
}

type fakeLookup struct {
	tenants map[string]string
}

func (f fakeLookup) TenantOf(ctx context.Context, userID string) (string, error) {
	if tid, ok := f.tenants[userID]; ok {
		return tid, nil
	}
	return "", core.ErrNotFound("user", userID)
}

func TestAuthorizeUserTarget(t *testing.T) {
	lookup := fakeLookup{tenants: map[string]string{"target1": "t1", "target2": "t2"}}
	r := New(lookup)
	ctx := context.Background()

	admin := core.Identity{UserID: "u-admin", TenantID: "t9", Role: core.RoleAdmin}
	require.NoError(t, r.AuthorizeUserTarget(ctx, admin, "target1"))

	self := core.Identity{UserID: "target1", TenantID: "t1", Role: core.RoleDev}
	require.NoError(t, r.AuthorizeUserTarget(ctx, self, "target1"))

	ent := core.Identity{UserID: "u-ent", TenantID: "t1", Role: core.RoleEnterprise}
	require.NoError(t, r.AuthorizeUserTarget(ctx, ent, "target1"))

	err := r.AuthorizeUserTarget(ctx, ent, "target2")
	require.Error(t, err)
	assert.Equal(t, core.KindDenied, core.Kind(err))

	dev := core.Identity{UserID: "u-dev", TenantID: "t1", Role: core.RoleDev}
	err = r.AuthorizeUserTarget(ctx, dev, "target2")
	require.Error(t, err)
}
