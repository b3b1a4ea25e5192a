package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quorumforge/aiorch/internal/app"
	"github.com/quorumforge/aiorch/internal/config"
	"github.com/quorumforge/aiorch/internal/core"
)

func newWorkflowCmd(loadConfig func() (config.Config, error)) *cobra.Command {
	root := &cobra.Command{
		Use:   "workflow",
		Short: "Submit and inspect workflows against the Workflow Engine",
	}

	var ident identityFlags
	ident.register(root)

	root.AddCommand(newWorkflowSubmitCmd(loadConfig, &ident))
	root.AddCommand(newWorkflowGetCmd(loadConfig, &ident))
	root.AddCommand(newWorkflowCancelCmd(loadConfig, &ident))
	root.AddCommand(newWorkflowLogsCmd(loadConfig, &ident))
	return root
}

// parseSteps turns a comma-separated --steps value into core.StepNames,
// rejecting anything outside the six known steps (spec §4.3).
func parseSteps(raw string) ([]core.StepName, error) {
	var steps []core.StepName
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		name := core.StepName(s)
		if !core.IsKnownStep(name) {
			return nil, fmt.Errorf("unknown step %q", s)
		}
		steps = append(steps, name)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("--steps must name at least one step")
	}
	return steps, nil
}

func newWorkflowSubmitCmd(loadConfig func() (config.Config, error), ident *identityFlags) *cobra.Command {
	var projectID, steps, updatePrompt, commitMessage string

	cmd := &cobra.Command{
		Use:   "submit <project-id>",
		Short: "Submit a workflow run for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID = args[0]
			stepNames, err := parseSteps(steps)
			if err != nil {
				return err
			}
			cfgMap := map[string]interface{}{}
			if updatePrompt != "" {
				cfgMap["update_prompt"] = updatePrompt
			}
			if commitMessage != "" {
				cfgMap["commit_message"] = commitMessage
			}
			return withBundle(loadConfig, func(b *app.Bundle) error {
				id, err := b.Workflow.Submit(cmd.Context(), ident.identity(), projectID, stepNames, cfgMap)
				if err != nil {
					return err
				}
				printJSON(map[string]interface{}{"workflow_id": id})
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&steps, "steps", "sync,ai_update,push,build,run", "comma-separated step list")
	cmd.Flags().StringVar(&updatePrompt, "prompt", "", "prompt for the ai_update step")
	cmd.Flags().StringVar(&commitMessage, "commit-message", "", "commit message for the push step")
	return cmd
}

func newWorkflowGetCmd(loadConfig func() (config.Config, error), ident *identityFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <workflow-id>",
		Short: "Fetch a workflow's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBundle(loadConfig, func(b *app.Bundle) error {
				w, err := b.Workflow.Get(cmd.Context(), ident.identity(), args[0])
				if err != nil {
					return err
				}
				printJSON(w)
				return nil
			})
		},
	}
}

func newWorkflowCancelCmd(loadConfig func() (config.Config, error), ident *identityFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <workflow-id>",
		Short: "Cancel a queued or in-flight workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBundle(loadConfig, func(b *app.Bundle) error {
				status, err := b.Workflow.Cancel(cmd.Context(), ident.identity(), args[0])
				if err != nil {
					return err
				}
				printJSON(map[string]interface{}{"status": status})
				return nil
			})
		},
	}
}

func newWorkflowLogsCmd(loadConfig func() (config.Config, error), ident *identityFlags) *cobra.Command {
	var from int

	cmd := &cobra.Command{
		Use:   "logs <workflow-id>",
		Short: "Fetch workflow log chunks from an offset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBundle(loadConfig, func(b *app.Bundle) error {
				chunks, err := b.Workflow.Logs(cmd.Context(), ident.identity(), args[0], from)
				if err != nil {
					return err
				}
				for _, c := range chunks {
					fmt.Printf("[%s] %s: %s\n", c.Timestamp.Format("15:04:05"), c.StepName, c.Line)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "log offset to start from")
	return cmd
}
