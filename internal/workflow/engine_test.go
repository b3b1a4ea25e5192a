package workflow

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumforge/aiorch/internal/access"
	"github.com/quorumforge/aiorch/internal/core"
	"github.com/quorumforge/aiorch/internal/storage"
)

func newTestEngine(t *testing.T, executors map[core.StepName]StepExecutor) (*Engine, *storage.ProjectRepo, core.Identity, *core.Project) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	projects := storage.NewProjectRepo(db)
	workflows := storage.NewWorkflowRepo(db)
	resolver := access.New(nil)

	identity := core.Identity{UserID: "dev1", TenantID: "t1", Role: core.RoleDev}
	project := &core.Project{ID: "p1", OwnerUserID: "dev1", TenantID: "t1", Status: core.ProjectActive}
	require.NoError(t, projects.Create(context.Background(), project))

	e := New(workflows, projects, resolver, executors, nil, Config{MaxConcurrency: 2})
	return e, projects, identity, project
}

func TestEngine_SubmitEmptyStepsCompletesImmediately(t *testing.T) {
	e, _, identity, project := newTestEngine(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	id, err := e.Submit(context.Background(), identity, project.ID, nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		w, err := e.Get(context.Background(), identity, id)
		return err == nil && w.Status == core.WorkflowCompleted
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_SubmitDeniedForNonOwner(t *testing.T) {
	e, _, _, project := newTestEngine(t, nil)
	other := core.Identity{UserID: "dev2", TenantID: "t1", Role: core.RoleDev}

	_, err := e.Submit(context.Background(), other, project.ID, nil, nil)
	require.Error(t, err)
	assert.Equal(t, core.KindDenied, core.Kind(err))
}

func TestEngine_SubmitRejectsUnknownStep(t *testing.T) {
	e, _, identity, project := newTestEngine(t, nil)

	_, err := e.Submit(context.Background(), identity, project.ID, []core.StepName{"bogus"}, nil)
	require.Error(t, err)
	assert.Equal(t, core.KindPrecondition, core.Kind(err))
}

func TestEngine_StepFailureSkipsRemaining(t *testing.T) {
	executors := map[core.StepName]StepExecutor{
		core.StepSync: StepExecutorFunc(func(ctx context.Context, w *core.Workflow, step *core.StepState, config map[string]interface{}) (map[string]interface{}, error) {
			return nil, core.ErrExternal("GIT_FAILED", "clone failed")
		}),
		core.StepBuild: StepExecutorFunc(func(ctx context.Context, w *core.Workflow, step *core.StepState, config map[string]interface{}) (map[string]interface{}, error) {
			t.Fatal("build step must not run after sync fails")
			return nil, nil
		}),
	}
	e, _, identity, project := newTestEngine(t, executors)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	id, err := e.Submit(context.Background(), identity, project.ID, []core.StepName{core.StepSync, core.StepBuild}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		w, err := e.Get(context.Background(), identity, id)
		return err == nil && w.Status == core.WorkflowFailed
	}, time.Second, 5*time.Millisecond)

	w, err := e.Get(context.Background(), identity, id)
	require.NoError(t, err)
	assert.Equal(t, core.StepFailed, w.Steps[0].Status)
	assert.Equal(t, core.StepSkipped, w.Steps[1].Status)
	assert.Equal(t, core.KindExternal, w.Steps[0].ErrorKind)
}

func TestEngine_CancelMidStepPropagatesAndSkipsRest(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	executors := map[core.StepName]StepExecutor{
		core.StepBuild: StepExecutorFunc(func(ctx context.Context, w *core.Workflow, step *core.StepState, config map[string]interface{}) (map[string]interface{}, error) {
			once.Do(func() { close(started) })
			<-ctx.Done()
			return nil, core.ErrCancelled("build cancelled")
		}),
		core.StepRun: StepExecutorFunc(func(ctx context.Context, w *core.Workflow, step *core.StepState, config map[string]interface{}) (map[string]interface{}, error) {
			t.Fatal("run step must not start once cancelled")
			return nil, nil
		}),
	}
	e, _, identity, project := newTestEngine(t, executors)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	id, err := e.Submit(context.Background(), identity, project.ID, []core.StepName{core.StepBuild, core.StepRun}, nil)
	require.NoError(t, err)

	<-started
	status, err := e.Cancel(context.Background(), identity, id)
	require.NoError(t, err)
	assert.Equal(t, core.WorkflowRunning, status) // cancel signalled; finalization is async

	require.Eventually(t, func() bool {
		w, err := e.Get(context.Background(), identity, id)
		return err == nil && w.Status == core.WorkflowCancelled
	}, time.Second, 5*time.Millisecond)

	w, err := e.Get(context.Background(), identity, id)
	require.NoError(t, err)
	assert.Equal(t, core.StepCancelled, w.Steps[0].Status)
	assert.Equal(t, core.StepSkipped, w.Steps[1].Status)
}

func TestEngine_CancelOnTerminalWorkflowIsNoop(t *testing.T) {
	e, _, identity, project := newTestEngine(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	id, err := e.Submit(context.Background(), identity, project.ID, nil, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		w, err := e.Get(context.Background(), identity, id)
		return err == nil && w.Status == core.WorkflowCompleted
	}, time.Second, 5*time.Millisecond)

	status, err := e.Cancel(context.Background(), identity, id)
	require.NoError(t, err)
	assert.Equal(t, core.WorkflowCompleted, status)
}

func TestEngine_ProjectWorkflowsAreSerialized(t *testing.T) {
	var running int32
	var maxConcurrent int32
	var mu sync.Mutex
	executors := map[core.StepName]StepExecutor{
		core.StepBuild: StepExecutorFunc(func(ctx context.Context, w *core.Workflow, step *core.StepState, config map[string]interface{}) (map[string]interface{}, error) {
			mu.Lock()
			running++
			if running > maxConcurrent {
				maxConcurrent = running
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return map[string]interface{}{"success": true}, nil
		}),
	}
	e, _, identity, project := newTestEngine(t, executors)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	id1, err := e.Submit(context.Background(), identity, project.ID, []core.StepName{core.StepBuild}, nil)
	require.NoError(t, err)
	id2, err := e.Submit(context.Background(), identity, project.ID, []core.StepName{core.StepBuild}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		w1, err1 := e.Get(context.Background(), identity, id1)
		w2, err2 := e.Get(context.Background(), identity, id2)
		return err1 == nil && err2 == nil && w1.Status.IsTerminal() && w2.Status.IsTerminal()
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(1), maxConcurrent)
}
