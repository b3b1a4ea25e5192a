package main

import (
	"github.com/spf13/cobra"

	"github.com/quorumforge/aiorch/internal/core"
)

// identityFlags binds the --user-id/--tenant-id/--role flags every
// project/workflow subcommand needs to build the core.Identity the
// surrounding (out-of-scope) auth layer would normally supply (spec §1).
type identityFlags struct {
	userID   string
	tenantID string
	role     string
}

func (f *identityFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.userID, "user-id", "", "caller user id")
	cmd.Flags().StringVar(&f.tenantID, "tenant-id", "", "caller tenant id")
	cmd.Flags().StringVar(&f.role, "role", string(core.RoleAdmin), "caller role (ADMIN, ENTERPRISE, PRO_DEV, DEV)")
}

func (f *identityFlags) identity() core.Identity {
	return core.Identity{UserID: f.userID, TenantID: f.tenantID, Role: core.Role(f.role)}
}
