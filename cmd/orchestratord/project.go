package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quorumforge/aiorch/internal/app"
	"github.com/quorumforge/aiorch/internal/config"
	"github.com/quorumforge/aiorch/internal/registry"
	"github.com/quorumforge/aiorch/internal/storage"
)

func newProjectCmd(loadConfig func() (config.Config, error)) *cobra.Command {
	root := &cobra.Command{
		Use:   "project",
		Short: "Inspect and mutate the Project Registry from the command line",
	}

	var ident identityFlags
	ident.register(root)

	root.AddCommand(newProjectListCmd(loadConfig, &ident))
	root.AddCommand(newProjectCreateCmd(loadConfig, &ident))
	root.AddCommand(newProjectDeleteCmd(loadConfig, &ident))
	return root
}

func withBundle(loadConfig func() (config.Config, error), fn func(*app.Bundle) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	bundle, err := app.NewBundle(cfg)
	if err != nil {
		return err
	}
	defer bundle.Close()
	return fn(bundle)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func newProjectListCmd(loadConfig func() (config.Config, error), ident *identityFlags) *cobra.Command {
	var page, pageSize int
	var search string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects visible to the caller",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBundle(loadConfig, func(b *app.Bundle) error {
				items, total, _, _, err := b.Registry.List(cmd.Context(), ident.identity(), nil, storage.ProjectFilter{
					Search: search, Page: page, PageSize: pageSize,
				})
				if err != nil {
					return err
				}
				printJSON(map[string]interface{}{"items": items, "total": total})
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "page size")
	cmd.Flags().StringVar(&search, "search", "", "substring filter over project name")
	return cmd
}

func newProjectCreateCmd(loadConfig func() (config.Config, error), ident *identityFlags) *cobra.Command {
	var spec registry.CreateSpec
	var owner string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBundle(loadConfig, func(b *app.Bundle) error {
				ownerID := owner
				if ownerID == "" {
					ownerID = ident.userID
				}
				p, err := b.Registry.Create(cmd.Context(), ident.identity(), ownerID, spec)
				if err != nil {
					return err
				}
				printJSON(p)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner-user-id", "", "owning user id (defaults to --user-id)")
	cmd.Flags().StringVar(&spec.Name, "name", "", "project name")
	cmd.Flags().StringVar(&spec.Language, "language", "", "project language")
	cmd.Flags().StringVar(&spec.Framework, "framework", "", "project framework")
	cmd.Flags().StringVar(&spec.LocalPath, "local-path", "", "workspace path")
	cmd.Flags().StringVar(&spec.RemoteURL, "remote-url", "", "git remote URL")
	cmd.Flags().StringVar(&spec.Branch, "branch", "main", "default branch")
	cmd.Flags().BoolVar(&spec.Protected, "protected", false, "protect from DEV/PRO_DEV deletion")
	return cmd
}

func newProjectDeleteCmd(loadConfig func() (config.Config, error), ident *identityFlags) *cobra.Command {
	var hard bool

	cmd := &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBundle(loadConfig, func(b *app.Bundle) error {
				if err := b.Registry.Delete(cmd.Context(), ident.identity(), args[0], hard); err != nil {
					return err
				}
				fmt.Println("deleted")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&hard, "hard", false, "hard-delete (requires ADMIN or ENTERPRISE in owner's tenant)")
	return cmd
}
