package swarm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/quorumforge/aiorch/internal/blackboard"
	"github.com/quorumforge/aiorch/internal/core"
	"github.com/quorumforge/aiorch/internal/llm"
	"github.com/quorumforge/aiorch/internal/logging"
)

// Result is the outcome of Dispatcher.Act (spec §4.7: "act(task, context)
// -> {solution, workerResults, decomposition}").
type Result struct {
	Solution      string
	WorkerResults map[string]string
	Decomposition []core.SubTask
}

// Dispatcher is the Agent Swarm Dispatcher (spec §4.7).
type Dispatcher struct {
	pool    *llm.Pool
	catalog llm.Catalog
	tier    core.ModelTier
	board   *blackboard.Blackboard
	logger  *logging.Logger
	maxFanOut int
}

// New constructs a Dispatcher over pool, using catalog/tier for routing
// and board for intermediate-result publication. maxFanOut bounds
// concurrent independent-node execution (0 means unbounded).
func New(p *llm.Pool, catalog llm.Catalog, tier core.ModelTier, board *blackboard.Blackboard, logger *logging.Logger, maxFanOut int) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	if board == nil {
		board = blackboard.New()
	}
	return &Dispatcher{pool: p, catalog: catalog, tier: tier, board: board, logger: logger, maxFanOut: maxFanOut}
}

// Act translates task into a bounded set of model calls and returns the
// aggregated solution (spec §4.7).
func (d *Dispatcher) Act(ctx context.Context, task *core.AgentTask, taskContext map[string]interface{}) (*Result, error) {
	plan := buildPlan(task)
	task.Decomposition = plan.toSubTasks()
	task.State = core.AgentTaskRunning

	results, err := d.runPlan(ctx, task, taskContext, plan)
	if err != nil {
		task.State = core.AgentTaskFailed
		return nil, err
	}

	task.State = core.AgentTaskCompleted
	task.Results = results

	// Aggregation order follows the plan's declared order, not completion
	// order (spec §5).
	var sb strings.Builder
	for _, node := range plan {
		if out, ok := results[node.Name]; ok {
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(out)
		}
	}
	return &Result{Solution: sb.String(), WorkerResults: results, Decomposition: task.Decomposition}, nil
}

// runPlan executes every node, respecting DependsOn: independent nodes run
// concurrently, dependent nodes wait for their dependencies (spec §4.7
// step 3). A bounded-goroutine pool (sourcegraph/conc) isolates a
// panicking node from its siblings and the dispatcher goroutine.
func (d *Dispatcher) runPlan(ctx context.Context, task *core.AgentTask, taskContext map[string]interface{}, plan Plan) (map[string]string, error) {
	var mu sync.Mutex
	results := make(map[string]string, len(plan))
	done := make(map[string]chan struct{}, len(plan))
	for _, n := range plan {
		done[n.Name] = make(chan struct{})
	}

	p := pool.New().WithContext(ctx)
	if d.maxFanOut > 0 {
		p = p.WithMaxGoroutines(d.maxFanOut)
	}

	var firstErr error
	var errOnce sync.Once

	for _, node := range plan {
		node := node
		p.Go(func(ctx context.Context) error {
			for _, dep := range node.DependsOn {
				select {
				case <-done[dep]:
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			out, err := d.runNode(ctx, task, taskContext, node, results, &mu)
			if err != nil {
				errOnce.Do(func() { firstErr = err })
				close(done[node.Name])
				return err
			}

			mu.Lock()
			results[node.Name] = out
			mu.Unlock()
			d.board.Write(fmt.Sprintf("swarm:%s:%s", task.ID, node.Name), out, node.Name)
			close(done[node.Name])
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		if firstErr != nil {
			return nil, core.ErrExternal("SWARM_NODE_FAILED", "agent swarm node failed").WithCause(firstErr)
		}
		return nil, core.ErrExternal("SWARM_NODE_FAILED", "agent swarm node failed").WithCause(err)
	}
	return results, nil
}

// runNode resolves a model for node via routing step 2 and calls the LLM
// Client Pool (spec §4.7 step 2/3). The pool itself implements the
// fallback-chain-of-one retry (spec §4.8), satisfying this step's "on
// node failure, attempt one fallback model" requirement.
func (d *Dispatcher) runNode(ctx context.Context, task *core.AgentTask, taskContext map[string]interface{}, node PlanNode, results map[string]string, mu *sync.Mutex) (string, error) {
	model := d.routeModel(task)
	prompt := d.buildNodePrompt(task, taskContext, node, results, mu)
	return d.pool.Generate(ctx, prompt, model, llm.GenParams{Temperature: 0.2, MaxTokens: 4096})
}

// routeModel implements spec §4.7 step 2: a caller-fixed model wins; else
// task-type -> preferred capability -> first loaded model in the active
// tier with that capability; else the tier's primary. Returning "" lets
// the pool resolve its own tier primary.
func (d *Dispatcher) routeModel(task *core.AgentTask) string {
	if fixed, ok := task.Context["model"].(string); ok && fixed != "" {
		return fixed
	}
	if m, ok := d.catalog.PreferredFor(d.tier, capabilityFor(task.Kind)); ok {
		return m.ID
	}
	return ""
}

func (d *Dispatcher) buildNodePrompt(task *core.AgentTask, taskContext map[string]interface{}, node PlanNode, results map[string]string, mu *sync.Mutex) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task kind: %s\nNode: %s\nPrompt: %s\n", task.Kind, node.Name, task.Prompt)
	if len(node.DependsOn) > 0 {
		mu.Lock()
		for _, dep := range node.DependsOn {
			fmt.Fprintf(&sb, "\n--- %s output ---\n%s\n", dep, results[dep])
		}
		mu.Unlock()
	}
	if ctxVal, ok := taskContext["summary"].(string); ok && ctxVal != "" {
		fmt.Fprintf(&sb, "\nContext: %s\n", ctxVal)
	}
	return sb.String()
}
