package core_test

import (
	"testing"

	"github.com/quorumforge/aiorch/internal/core"
	"github.com/quorumforge/aiorch/internal/testutil"
)

func TestNewWorkflow_EmptyStepsIsValid(t *testing.T) {
	wf, err := core.NewWorkflow("wf1", "p1", "u1", nil)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, wf.Status, core.WorkflowPending)
	testutil.AssertLen(t, wf.Steps, 0)
}

func TestNewWorkflow_RejectsUnknownStep(t *testing.T) {
	_, err := core.NewWorkflow("wf1", "p1", "u1", []core.StepName{"not_a_step"})
	testutil.AssertError(t, err)
	de, ok := err.(*core.DomainError)
	testutil.AssertTrue(t, ok, "expected a DomainError")
	testutil.AssertEqual(t, de.Kind, core.KindPrecondition)
	testutil.AssertEqual(t, de.Code, "INVALID_STEP")
}

func TestWorkflow_StartCompleteLifecycle(t *testing.T) {
	wf, err := core.NewWorkflow("wf1", "p1", "u1", []core.StepName{core.StepSync})
	testutil.AssertNoError(t, err)

	testutil.AssertNoError(t, wf.Start())
	testutil.AssertEqual(t, wf.Status, core.WorkflowRunning)
	testutil.AssertFalse(t, wf.IsTerminal(), "running workflow should not be terminal")

	testutil.AssertNoError(t, wf.Complete())
	testutil.AssertEqual(t, wf.Status, core.WorkflowCompleted)
	testutil.AssertTrue(t, wf.IsTerminal(), "completed workflow should be terminal")
}

func TestWorkflow_StartTwiceFails(t *testing.T) {
	wf, _ := core.NewWorkflow("wf1", "p1", "u1", nil)
	testutil.AssertNoError(t, wf.Start())
	err := wf.Start()
	testutil.AssertError(t, err)
}

func TestWorkflow_CompleteAfterTerminalFails(t *testing.T) {
	wf, _ := core.NewWorkflow("wf1", "p1", "u1", nil)
	testutil.AssertNoError(t, wf.Start())
	testutil.AssertNoError(t, wf.Complete())
	testutil.AssertError(t, wf.Complete())
	testutil.AssertError(t, wf.Fail())
}

func TestWorkflow_CancelOnTerminalIsNoop(t *testing.T) {
	wf, _ := core.NewWorkflow("wf1", "p1", "u1", nil)
	testutil.AssertNoError(t, wf.Start())
	testutil.AssertNoError(t, wf.Complete())

	wf.Cancel()
	testutil.AssertEqual(t, wf.Status, core.WorkflowCompleted)
}

func TestWorkflow_CancelFromRunning(t *testing.T) {
	wf, _ := core.NewWorkflow("wf1", "p1", "u1", nil)
	testutil.AssertNoError(t, wf.Start())
	wf.Cancel()
	testutil.AssertEqual(t, wf.Status, core.WorkflowCancelled)
	testutil.AssertTrue(t, wf.IsTerminal(), "cancelled workflow should be terminal")
}

func TestWorkflow_CurrentStepTracksRunning(t *testing.T) {
	wf, _ := core.NewWorkflow("wf1", "p1", "u1", []core.StepName{core.StepSync, core.StepBuild})
	testutil.AssertTrue(t, wf.CurrentStep() == nil, "no step should be running before any transition")

	wf.Steps[0].Status = core.StepRunning
	cur := wf.CurrentStep()
	testutil.AssertTrue(t, cur != nil, "expected a running step")
	testutil.AssertEqual(t, cur.Name, core.StepSync)
}

func TestWorkflow_LogChunksOrderedAndRestartable(t *testing.T) {
	wf, _ := core.NewWorkflow("wf1", "p1", "u1", []core.StepName{core.StepSync})
	wf.AppendLog(core.StepSync, "line1")
	wf.AppendLog(core.StepSync, "line2")
	wf.AppendLog(core.StepSync, "line3")

	all := wf.LogChunks(0)
	testutil.AssertLen(t, all, 3)
	testutil.AssertEqual(t, all[0].Line, "line1")

	fromTwo := wf.LogChunks(2)
	testutil.AssertLen(t, fromTwo, 1)
	testutil.AssertEqual(t, fromTwo[0].Line, "line3")

	testutil.AssertTrue(t, wf.LogChunks(99) == nil, "out-of-range offset should return nil")
}
