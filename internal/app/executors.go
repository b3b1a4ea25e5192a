package app

import (
	"context"
	"strings"

	"github.com/quorumforge/aiorch/internal/aiupdate"
	"github.com/quorumforge/aiorch/internal/build"
	"github.com/quorumforge/aiorch/internal/core"
	"github.com/quorumforge/aiorch/internal/gitsync"
	"github.com/quorumforge/aiorch/internal/logging"
	"github.com/quorumforge/aiorch/internal/registry"
	"github.com/quorumforge/aiorch/internal/sandbox"
	"github.com/quorumforge/aiorch/internal/workflow"
)

// buildExecutors wires the six core step names (spec §4.3) to their
// collaborators: sync->GitSync.Pull, ai_update->AIUpdateService.ApplyChat,
// push->GitSync.CommitAndPush, build->BuildService.Build,
// run->SandboxSupervisor.Start, stop->SandboxSupervisor.Stop. The project
// itself was already authorized for WRITE when Engine.Submit accepted the
// workflow, so step execution reads project fields straight off the
// Registry rather than re-authorizing per step.
func buildExecutors(reg *registry.Registry, gitSvc *gitsync.Service, aiSvc *aiupdate.Service, buildSvc *build.Service, sbx *sandbox.Manager, logger *logging.Logger) map[core.StepName]workflow.StepExecutor {
	projectOf := func(ctx context.Context, projectID string) (*core.Project, error) {
		return reg.GetUnchecked(ctx, projectID)
	}

	return map[core.StepName]workflow.StepExecutor{
		core.StepSync: workflow.StepExecutorFunc(func(ctx context.Context, w *core.Workflow, step *core.StepState, config map[string]interface{}) (map[string]interface{}, error) {
			p, err := projectOf(ctx, w.ProjectID)
			if err != nil {
				return nil, err
			}
			if err := gitSvc.Pull(ctx, p.LocalPath); err != nil {
				return nil, err
			}
			return map[string]interface{}{"success": true}, nil
		}),

		core.StepAIUpdate: workflow.StepExecutorFunc(func(ctx context.Context, w *core.Workflow, step *core.StepState, config map[string]interface{}) (map[string]interface{}, error) {
			p, err := projectOf(ctx, w.ProjectID)
			if err != nil {
				return nil, err
			}
			prompt, _ := config["update_prompt"].(string)
			taskContext, _ := config["context"].(map[string]interface{})
			res, err := aiSvc.ApplyChat(ctx, p.ID, p.LocalPath, prompt, taskContext)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"success": res.Success, "summary": res.Summary, "files": len(res.Files)}, nil
		}),

		core.StepPush: workflow.StepExecutorFunc(func(ctx context.Context, w *core.Workflow, step *core.StepState, config map[string]interface{}) (map[string]interface{}, error) {
			p, err := projectOf(ctx, w.ProjectID)
			if err != nil {
				return nil, err
			}
			message, _ := config["commit_message"].(string)
			if strings.TrimSpace(message) == "" {
				message = "automated update via aiorch workflow " + w.ID
			}
			if err := gitSvc.CommitAndPush(ctx, p.LocalPath, p.Branch, message); err != nil {
				return nil, err
			}
			return map[string]interface{}{"success": true}, nil
		}),

		core.StepBuild: workflow.StepExecutorFunc(func(ctx context.Context, w *core.Workflow, step *core.StepState, config map[string]interface{}) (map[string]interface{}, error) {
			p, err := projectOf(ctx, w.ProjectID)
			if err != nil {
				return nil, err
			}
			var command []string
			if raw, ok := config["build_command"].([]string); ok {
				command = raw
			}
			res, err := buildSvc.Build(ctx, p.ID, p.LocalPath, p.Language, command)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"success": res.Success, "exit_code": res.ExitCode, "stdout": res.Stdout, "stderr": res.Stderr}, nil
		}),

		core.StepRun: workflow.StepExecutorFunc(func(ctx context.Context, w *core.Workflow, step *core.StepState, config map[string]interface{}) (map[string]interface{}, error) {
			p, err := projectOf(ctx, w.ProjectID)
			if err != nil {
				return nil, err
			}
			sb, err := sbx.Start(ctx, p.ID, p.LocalPath, p.Language, p.Framework)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"success": true, "sandbox_id": sb.ID, "host_port": sb.HostPort}, nil
		}),

		core.StepStop: workflow.StepExecutorFunc(func(ctx context.Context, w *core.Workflow, step *core.StepState, config map[string]interface{}) (map[string]interface{}, error) {
			if err := sbx.Stop(ctx, w.ProjectID); err != nil {
				if core.IsKind(err, core.KindNotFound) {
					return map[string]interface{}{"success": true, "note": "no active sandbox"}, nil
				}
				return nil, err
			}
			return map[string]interface{}{"success": true}, nil
		}),
	}
}
