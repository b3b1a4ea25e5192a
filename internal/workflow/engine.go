// Package workflow implements the Workflow Engine (spec §4.3): the step
// graph, a FIFO scheduler bounded by MAX_WF_CONCURRENCY, per-project
// serialization, and cancellation propagation. Generalizes the
// teacher's internal/service/workflow.go runner/executor and
// internal/core/workflow.go state machine to the fixed six-step core
// set, dropping the teacher's consensus/arbiter/synthesizer phases
// (not named by the spec) for a plain linear pipeline.
package workflow

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/quorumforge/aiorch/internal/access"
	"github.com/quorumforge/aiorch/internal/core"
	"github.com/quorumforge/aiorch/internal/logging"
	"github.com/quorumforge/aiorch/internal/storage"
)

// StepExecutor runs one step of a workflow against its collaborator
// (GitSync, AIUpdateService, BuildService, SandboxSupervisor). ctx is
// cancelled if the workflow is cancelled mid-step and the step is
// cancellation-aware.
type StepExecutor interface {
	Execute(ctx context.Context, w *core.Workflow, step *core.StepState, config map[string]interface{}) (result map[string]interface{}, err error)
}

// StepExecutorFunc adapts a function to a StepExecutor.
type StepExecutorFunc func(ctx context.Context, w *core.Workflow, step *core.StepState, config map[string]interface{}) (map[string]interface{}, error)

// Execute implements StepExecutor.
func (f StepExecutorFunc) Execute(ctx context.Context, w *core.Workflow, step *core.StepState, config map[string]interface{}) (map[string]interface{}, error) {
	return f(ctx, w, step, config)
}

// Engine is the Workflow Engine: validates submissions, persists state,
// and drives the scheduler (spec §4.3/§5).
type Engine struct {
	workflows *storage.WorkflowRepo
	projects  *storage.ProjectRepo
	resolver  *access.Resolver
	executors map[core.StepName]StepExecutor
	logger    *logging.Logger

	sem *semaphore.Weighted

	queueMu sync.Mutex
	queue   []string // workflow ids, FIFO

	projectLocksMu sync.Mutex
	projectLocks   map[string]*sync.Mutex

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc

	configMu sync.Mutex
	configs  map[string]map[string]interface{}

	wake chan struct{}
}

// Config bounds the engine's scheduling behavior.
type Config struct {
	MaxConcurrency int64 // MAX_WF_CONCURRENCY
}

// New constructs an Engine. Registered executors must cover every name
// core.IsKnownStep accepts; Submit does not check this at construction
// time, only at dispatch, since it is a wiring-time contract.
func New(workflows *storage.WorkflowRepo, projects *storage.ProjectRepo, resolver *access.Resolver, executors map[core.StepName]StepExecutor, logger *logging.Logger, cfg Config) *Engine {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		workflows:    workflows,
		projects:     projects,
		resolver:     resolver,
		executors:    executors,
		logger:       logger,
		sem:          semaphore.NewWeighted(cfg.MaxConcurrency),
		projectLocks: make(map[string]*sync.Mutex),
		cancels:      make(map[string]context.CancelFunc),
		configs:      make(map[string]map[string]interface{}),
		wake:         make(chan struct{}, 1),
	}
}

// Submit validates the project and caller (WRITE), validates the step
// list, creates a Workflow in PENDING with steps in PENDING, enqueues
// it, and returns immediately (spec §4.3).
func (e *Engine) Submit(ctx context.Context, identity core.Identity, projectID string, steps []core.StepName, config map[string]interface{}) (string, error) {
	project, err := e.projects.Get(ctx, projectID)
	if err != nil {
		return "", err
	}
	if err := e.resolver.Authorize(identity, project, access.OpWrite); err != nil {
		return "", err
	}

	w, err := core.NewWorkflow("", projectID, identity.UserID, steps)
	if err != nil {
		return "", err
	}
	if err := e.workflows.Create(ctx, w); err != nil {
		return "", err
	}

	if len(config) > 0 {
		e.configMu.Lock()
		e.configs[w.ID] = config
		e.configMu.Unlock()
	}

	e.logger.WithWorkflow(w.ID).WithProject(projectID).Info("workflow submitted", "steps", len(w.Steps))

	e.queueMu.Lock()
	e.queue = append(e.queue, w.ID)
	e.queueMu.Unlock()
	select {
	case e.wake <- struct{}{}:
	default:
	}
	return w.ID, nil
}

// Get authorizes identity for READ against the workflow's project and
// returns the current workflow state (spec §6 "Exposed": workflow get).
func (e *Engine) Get(ctx context.Context, identity core.Identity, workflowID string) (*core.Workflow, error) {
	w, err := e.workflows.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	project, err := e.projects.Get(ctx, w.ProjectID)
	if err != nil {
		return nil, err
	}
	if err := e.resolver.Authorize(identity, project, access.OpRead); err != nil {
		return nil, err
	}
	return w, nil
}

// Logs authorizes identity for READ and returns the workflow's log chunks
// from index `from` onward, restartable from any prior offset (spec §4.3:
// "log chunks ... exposed as a lazy restartable sequence").
func (e *Engine) Logs(ctx context.Context, identity core.Identity, workflowID string, from int) ([]core.LogChunk, error) {
	w, err := e.workflows.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	project, err := e.projects.Get(ctx, w.ProjectID)
	if err != nil {
		return nil, err
	}
	if err := e.resolver.Authorize(identity, project, access.OpRead); err != nil {
		return nil, err
	}
	return e.workflows.LogChunks(ctx, workflowID, from)
}

// Cancel marks the workflow CANCELLED and, if a step is currently
// running with a cancellation-aware executor, propagates the signal
// (spec §4.3/§5). A no-op on an already-terminal workflow, returning its
// current status (R3). A workflow still sitting in the FIFO queue is
// pulled out and marked CANCELLED directly, since there is no running
// step to signal.
func (e *Engine) Cancel(ctx context.Context, identity core.Identity, workflowID string) (core.WorkflowStatus, error) {
	w, err := e.workflows.Get(ctx, workflowID)
	if err != nil {
		return "", err
	}
	project, err := e.projects.Get(ctx, w.ProjectID)
	if err != nil {
		return "", err
	}
	if err := e.resolver.Authorize(identity, project, access.OpWrite); err != nil {
		return "", err
	}
	if w.IsTerminal() {
		return w.Status, nil
	}

	e.cancelMu.Lock()
	cancel, running := e.cancels[workflowID]
	e.cancelMu.Unlock()
	if running {
		cancel()
		return core.WorkflowRunning, nil
	}

	if e.removeFromQueue(workflowID) {
		w.Cancel()
		for _, s := range w.Steps {
			if s.Status == core.StepPending {
				s.Status = core.StepSkipped
			}
		}
		return w.Status, e.workflows.Save(ctx, w)
	}
	// Popped from the queue between the check above and here; the
	// scheduler will pick up the cancel signal once it registers.
	return w.Status, nil
}

// removeFromQueue removes workflowID from the FIFO queue if still present,
// reporting whether it was found there.
func (e *Engine) removeFromQueue(workflowID string) bool {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	for i, id := range e.queue {
		if id == workflowID {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Run drives the scheduler loop until ctx is cancelled. Intended to be
// started once per process as a background goroutine; internally it
// runs up to cfg.MaxConcurrency workflows in parallel, serialized per
// project via a dedicated mutex.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
		}
		for {
			id, ok := e.popQueue()
			if !ok {
				break
			}
			if err := e.sem.Acquire(ctx, 1); err != nil {
				return
			}
			go func(workflowID string) {
				defer e.sem.Release(1)
				e.runWorkflow(ctx, workflowID)
			}(id)
		}
	}
}

func (e *Engine) popQueue() (string, bool) {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	if len(e.queue) == 0 {
		return "", false
	}
	id := e.queue[0]
	e.queue = e.queue[1:]
	return id, true
}

func (e *Engine) lockFor(projectID string) *sync.Mutex {
	e.projectLocksMu.Lock()
	defer e.projectLocksMu.Unlock()
	l, ok := e.projectLocks[projectID]
	if !ok {
		l = &sync.Mutex{}
		e.projectLocks[projectID] = l
	}
	return l
}

func (e *Engine) runWorkflow(ctx context.Context, workflowID string) {
	w, err := e.workflows.Get(ctx, workflowID)
	if err != nil {
		return
	}

	lock := e.lockFor(w.ProjectID)
	lock.Lock()
	defer lock.Unlock()

	log := e.logger.WithWorkflow(w.ID).WithProject(w.ProjectID)

	if err := w.Start(); err != nil {
		return
	}
	_ = e.workflows.Save(ctx, w)
	log.Info("workflow started")

	e.configMu.Lock()
	config := e.configs[w.ID]
	e.configMu.Unlock()

	stepCtx, cancel := context.WithCancel(ctx)
	e.cancelMu.Lock()
	e.cancels[w.ID] = cancel
	e.cancelMu.Unlock()
	defer func() {
		cancel()
		e.cancelMu.Lock()
		delete(e.cancels, w.ID)
		e.cancelMu.Unlock()
		e.configMu.Lock()
		delete(e.configs, w.ID)
		e.configMu.Unlock()
		log.Info("workflow finished", "status", string(w.Status))
	}()

	for _, step := range w.Steps {
		if stepCtx.Err() != nil {
			w.Cancel()
			step.Status = core.StepCancelled
			break
		}

		exec, ok := e.executors[step.Name]
		if !ok {
			step.Status = core.StepFailed
			step.ErrorKind = core.KindPrecondition
			step.ErrorMsg = "no executor registered for step " + string(step.Name)
			_ = w.Fail()
			_ = e.workflows.Save(ctx, w)
			log.WithStep(string(step.Name)).Warn("no executor registered")
			e.skipRemaining(w, step.Name)
			return
		}

		step.Status = core.StepRunning
		log.WithStep(string(step.Name)).Info("step started")
		result, execErr := exec.Execute(stepCtx, w, step, config)
		if execErr != nil {
			if core.Kind(execErr) == core.KindCancelled || stepCtx.Err() != nil {
				step.Status = core.StepCancelled
				step.ErrorKind = core.KindCancelled
				step.ErrorMsg = execErr.Error()
				w.Cancel()
				_ = e.workflows.Save(ctx, w)
				log.WithStep(string(step.Name)).Info("step cancelled")
				e.skipRemaining(w, step.Name)
				return
			}
			step.Status = core.StepFailed
			step.ErrorKind = core.Kind(execErr)
			step.ErrorMsg = execErr.Error()
			_ = w.Fail()
			_ = e.workflows.Save(ctx, w)
			log.WithStep(string(step.Name)).Warn("step failed", "error", execErr.Error())
			e.skipRemaining(w, step.Name)
			return
		}

		if success, ok := result["success"].(bool); ok && !success {
			step.Status = core.StepFailed
			step.ErrorKind = core.KindExternal
			step.ErrorMsg = "step reported success=false"
			_ = w.Fail()
			_ = e.workflows.Save(ctx, w)
			log.WithStep(string(step.Name)).Warn("step reported failure")
			e.skipRemaining(w, step.Name)
			return
		}

		step.Status = core.StepCompleted
		step.Result = result
		_ = e.workflows.Save(ctx, w)
		log.WithStep(string(step.Name)).Info("step completed")
	}

	if !w.IsTerminal() {
		_ = w.Complete()
		_ = e.workflows.Save(ctx, w)
	}
}

// skipRemaining marks every step after `after` as SKIPPED (spec §4.3: "On
// step error ... remaining steps are set to SKIPPED; no compensation or
// rollback is attempted").
func (e *Engine) skipRemaining(w *core.Workflow, after core.StepName) {
	skipping := false
	for _, s := range w.Steps {
		if skipping && s.Status == core.StepPending {
			s.Status = core.StepSkipped
		}
		if s.Name == after {
			skipping = true
		}
	}
	_ = e.workflows.Save(context.Background(), w)
}
