// Package swarm implements the Agent Swarm Dispatcher (spec §4.7):
// decomposition planning, model routing, bounded concurrent fan-out, and
// blackboard-backed aggregation. Generalizes the teacher's
// internal/service planner/router/executor decomposition shape to the
// plan kinds in spec §4.7, replacing the teacher's CLI-subprocess-per-
// agent execution with calls through the LLM Client Pool.
package swarm

import "github.com/quorumforge/aiorch/internal/core"

// PlanNode is one node of a task's decomposition plan (spec §4.7 step 1).
type PlanNode struct {
	Name      string
	DependsOn []string
	Prompt    string
}

// Plan is an ordered decomposition; aggregation output order follows this
// slice's order, not completion order (spec §5).
type Plan []PlanNode

// buildPlan picks a decomposition strategy from spec §4.7's rule set based
// on the task's kind: code-update-like kinds get {analyze, generate,
// verify}; MIGRATE gets {analyze-source, transform, heal}; everything else
// (single-file work, EXPLAIN, simple ANALYZE/AUDIT) is a single node.
func buildPlan(task *core.AgentTask) Plan {
	switch task.Kind {
	case core.TaskMigrate:
		return Plan{
			{Name: "analyze-source"},
			{Name: "transform", DependsOn: []string{"analyze-source"}},
			{Name: "heal", DependsOn: []string{"transform"}},
		}
	case core.TaskGenerate, core.TaskFix, core.TaskRefactor:
		return Plan{
			{Name: "analyze"},
			{Name: "generate", DependsOn: []string{"analyze"}},
			{Name: "verify", DependsOn: []string{"generate"}},
		}
	default:
		return Plan{{Name: "solve"}}
	}
}

// capabilityFor maps a task kind to the preferred model capability used by
// routing step 2 (spec §4.7).
func capabilityFor(kind core.AgentTaskKind) core.Capability {
	switch kind {
	case core.TaskGenerate, core.TaskFix, core.TaskRefactor, core.TaskTest, core.TaskDoc, core.TaskMigrate:
		return core.CapCode
	case core.TaskAnalyze, core.TaskAudit:
		return core.CapReasoning
	default:
		return core.CapChat
	}
}

// toSubTasks converts a Plan to core.SubTask for AgentTask.Decomposition.
func (p Plan) toSubTasks() []core.SubTask {
	out := make([]core.SubTask, len(p))
	for i, n := range p {
		out[i] = core.SubTask{Name: n.Name, DependsOn: n.DependsOn, Prompt: n.Prompt}
	}
	return out
}
