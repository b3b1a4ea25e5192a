package core

import (
	"fmt"
	"time"
)

// WorkflowStatus is the lifecycle status of a Workflow (spec §3).
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "PENDING"
	WorkflowRunning   WorkflowStatus = "RUNNING"
	WorkflowCompleted WorkflowStatus = "COMPLETED"
	WorkflowFailed    WorkflowStatus = "FAILED"
	WorkflowCancelled WorkflowStatus = "CANCELLED"
)

// IsTerminal reports whether the status is one of the terminal states.
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case WorkflowCompleted, WorkflowFailed, WorkflowCancelled:
		return true
	default:
		return false
	}
}

// StepStatus is the lifecycle status of a single StepState (spec §3).
type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepRunning   StepStatus = "RUNNING"
	StepCompleted StepStatus = "COMPLETED"
	StepFailed    StepStatus = "FAILED"
	StepSkipped   StepStatus = "SKIPPED"
	StepCancelled StepStatus = "CANCELLED"
)

// StepName enumerates the core set of supported workflow steps (spec §4.3).
// Any other name is rejected with INVALID_STEP before any side effect.
type StepName string

const (
	StepSync      StepName = "sync"
	StepAIUpdate  StepName = "ai_update"
	StepPush      StepName = "push"
	StepBuild     StepName = "build"
	StepRun       StepName = "run"
	StepStop      StepName = "stop"
)

// IsKnownStep reports whether name is one of the core step names.
func IsKnownStep(name StepName) bool {
	switch name {
	case StepSync, StepAIUpdate, StepPush, StepBuild, StepRun, StepStop:
		return true
	default:
		return false
	}
}

// StepState is the per-step record embedded in a Workflow (spec §3).
// Transitions: PENDING -> RUNNING -> (COMPLETED|FAILED|SKIPPED|CANCELLED).
type StepState struct {
	Name       StepName
	Status     StepStatus
	StartedAt  time.Time
	FinishedAt time.Time
	Result     map[string]interface{}
	ErrorKind  ErrorKind
	ErrorMsg   string
}

// Workflow drives an ordered, append-only sequence of steps against one
// project (spec §3/§4.3). Once terminal it never re-runs; status=RUNNING
// iff exactly one step has status=RUNNING (P1).
type Workflow struct {
	ID           string
	ProjectID    string
	CallerUserID string
	Steps        []*StepState
	Status       WorkflowStatus
	StartedAt    time.Time
	FinishedAt   time.Time
	TokensIn     int64
	TokensOut    int64

	logChunks []LogChunk
}

// LogChunk is one line emitted by a running step, ordered by capture time.
type LogChunk struct {
	Timestamp time.Time
	StepName  StepName
	Line      string
}

// NewWorkflow constructs a Workflow in PENDING with all steps PENDING. An
// empty step list is valid (R2): such a workflow is meant to transition
// immediately to COMPLETED by the caller driving it.
func NewWorkflow(id, projectID, callerUserID string, steps []StepName) (*Workflow, error) {
	ss := make([]*StepState, 0, len(steps))
	for _, name := range steps {
		if !IsKnownStep(name) {
			return nil, ErrPrecondition("INVALID_STEP", fmt.Sprintf("unknown step: %s", name))
		}
		ss = append(ss, &StepState{Name: name, Status: StepPending})
	}
	return &Workflow{
		ID:           id,
		ProjectID:    projectID,
		CallerUserID: callerUserID,
		Steps:        ss,
		Status:       WorkflowPending,
	}, nil
}

// Start transitions the workflow to RUNNING. Valid only from PENDING.
func (w *Workflow) Start() error {
	if w.Status != WorkflowPending {
		return ErrPrecondition("INVALID_STATE", fmt.Sprintf("cannot start workflow in status %s", w.Status))
	}
	w.Status = WorkflowRunning
	w.StartedAt = time.Now()
	return nil
}

// Complete transitions the workflow to COMPLETED. Terminal; never
// rewritten afterward (P2).
func (w *Workflow) Complete() error {
	if w.Status.IsTerminal() {
		return ErrPrecondition("INVALID_STATE", "workflow already terminal")
	}
	w.Status = WorkflowCompleted
	w.FinishedAt = time.Now()
	return nil
}

// Fail transitions the workflow to FAILED. Terminal.
func (w *Workflow) Fail() error {
	if w.Status.IsTerminal() {
		return ErrPrecondition("INVALID_STATE", "workflow already terminal")
	}
	w.Status = WorkflowFailed
	w.FinishedAt = time.Now()
	return nil
}

// Cancel transitions the workflow to CANCELLED. A no-op on an already
// terminal workflow (R3): returns the current status without error.
func (w *Workflow) Cancel() {
	if w.Status.IsTerminal() {
		return
	}
	w.Status = WorkflowCancelled
	w.FinishedAt = time.Now()
}

// IsTerminal reports whether the workflow has reached a terminal status.
func (w *Workflow) IsTerminal() bool { return w.Status.IsTerminal() }

// CurrentStep returns the single RUNNING step, or nil if none is running.
// Enforcing P1 is the caller's (scheduler's) responsibility; this is a
// read-only accessor.
func (w *Workflow) CurrentStep() *StepState {
	for _, s := range w.Steps {
		if s.Status == StepRunning {
			return s
		}
	}
	return nil
}

// AppendLog appends a log chunk, preserving capture-time ordering.
func (w *Workflow) AppendLog(step StepName, line string) {
	w.logChunks = append(w.logChunks, LogChunk{Timestamp: time.Now(), StepName: step, Line: line})
}

// LogChunks returns the full ordered, restartable log sequence captured so
// far.
func (w *Workflow) LogChunks(from int) []LogChunk {
	if from < 0 || from >= len(w.logChunks) {
		return nil
	}
	return w.logChunks[from:]
}

// Duration returns the elapsed time since the workflow started, or since
// start until finish if terminal.
func (w *Workflow) Duration() time.Duration {
	if w.StartedAt.IsZero() {
		return 0
	}
	end := w.FinishedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(w.StartedAt)
}
