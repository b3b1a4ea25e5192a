// Package sandbox implements the Sandbox Supervisor (spec §4.4):
// allocates, starts, monitors, and tears down per-project runtime
// environments, falling back from a CONTAINER backend to a local
// subprocess (LOCAL_PTY) when the container runtime is unavailable.
// Container/PTY lifecycle is new relative to the teacher, whose
// service/sandbox.go only validated filesystem paths; preflight and
// subprocess-safety idioms are adapted from the teacher's
// diagnostics.SafeExecutor.
package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/quorumforge/aiorch/internal/core"
	"github.com/quorumforge/aiorch/internal/diagnostics"
	"github.com/quorumforge/aiorch/internal/logging"
)

// interruptSignal is the polite-termination signal sent to a LOCAL_PTY
// subprocess before the grace-period force kill (spec §4.4).
func interruptSignal() syscall.Signal { return syscall.SIGTERM }

// StackImages maps a "language:framework" key to a container image,
// falling back to a bare-language default (spec §4.4: "resolves stack to
// a container image from a fixed mapping").
var StackImages = map[string]string{
	"python:generic":     "python:3.12-slim",
	"python:django":      "python:3.12-slim",
	"python:flask":       "python:3.12-slim",
	"node:generic":       "node:20-slim",
	"node:express":       "node:20-slim",
	"node:next":          "node:20-slim",
	"go:generic":         "golang:1.22-bookworm",
	"ruby:generic":       "ruby:3.3-slim",
	"ruby:rails":         "ruby:3.3-slim",
}

const defaultImage = "ubuntu:24.04"

// ImageFor resolves a stack to a container image per StackImages,
// defaulting to the bare-language entry, then defaultImage.
func ImageFor(language, framework string) string {
	if img, ok := StackImages[language+":"+framework]; ok {
		return img
	}
	if img, ok := StackImages[language+":generic"]; ok {
		return img
	}
	return defaultImage
}

// Config bounds the Sandbox Supervisor (spec §4.4/§6).
type Config struct {
	StorageRoot     string
	GraceMs         time.Duration // default 5s
	MinFreeMemoryMB int
	InternalPort    int    // fixed internal port the sandboxed process binds (default 8000)
	MountPath       string // fixed internal mount path for localPath (default /workspace)
}

func (c Config) withDefaults() Config {
	if c.GraceMs <= 0 {
		c.GraceMs = 5 * time.Second
	}
	if c.InternalPort <= 0 {
		c.InternalPort = 8000
	}
	if c.MountPath == "" {
		c.MountPath = "/workspace"
	}
	return c
}

// ProjectExists is the narrow collaborator orphan adoption needs to
// decide whether a labeled container's project still exists.
type ProjectExists interface {
	Exists(ctx context.Context, projectID string) (bool, error)
}

type entry struct {
	sandbox     *core.Sandbox
	logs        *logCapture
	containerID string
	cmd         *exec.Cmd
	cancel      context.CancelFunc
}

// Manager is the Sandbox Supervisor.
type Manager struct {
	runtime core.ContainerRuntime
	cfg     Config
	logger  *logging.Logger

	mu        sync.Mutex
	byProject map[string]*entry

	safeExec *diagnostics.SafeExecutor
}

// New constructs a Manager. runtime may be nil, forcing every start onto
// the LOCAL_PTY backend.
func New(runtime core.ContainerRuntime, cfg Config, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		runtime:   runtime,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		byProject: make(map[string]*entry),
	}
}

// WithSafeExecutor attaches the diagnostics package's preflight-and-pipe
// cleanup wrapper to every LOCAL_PTY subprocess this Manager starts. Callers
// that skip this stay on the bare os/exec path used before SafeExecutor
// existed.
func (m *Manager) WithSafeExecutor(se *diagnostics.SafeExecutor) *Manager {
	m.safeExec = se
	return m
}

// Start provisions a sandbox for projectID (spec §4.4). localPath is
// mounted read-write at Config.MountPath; language/framework select the
// container image. P3 ("at most one active sandbox per project") is
// enforced here: a project with an active sandbox returns ALREADY_RUNNING.
func (m *Manager) Start(ctx context.Context, projectID, localPath, language, framework string) (*core.Sandbox, error) {
	m.mu.Lock()
	if existing, ok := m.byProject[projectID]; ok && existing.sandbox.State.IsActive() {
		m.mu.Unlock()
		return nil, core.ErrAlreadyRunning(fmt.Sprintf("sandbox already active for project %s", projectID))
	}
	m.mu.Unlock()

	pf := Preflight(m.cfg.MinFreeMemoryMB)
	if !pf.OK {
		return nil, core.ErrPrecondition("INSUFFICIENT_RESOURCES", fmt.Sprintf("preflight failed: %v", pf.Errors))
	}

	port, err := allocatePort()
	if err != nil {
		return nil, core.ErrInternal("", "allocating sandbox port").WithCause(err)
	}

	sb := &core.Sandbox{
		ID:           uuid.NewString(),
		ProjectID:    projectID,
		InternalPort: m.cfg.InternalPort,
		HostPort:     port,
		State:        core.SandboxProvisioning,
	}

	logs, err := newLogCapture(localPath)
	if err != nil {
		return nil, core.ErrInternal("", "opening sandbox log capture").WithCause(err)
	}
	sb.LogFile = filepath.Join(localPath, ".sandbox", "app.log")

	e := &entry{sandbox: sb, logs: logs}

	if m.runtime != nil {
		if err := m.startContainer(ctx, sb, e, localPath, language, framework); err != nil {
			m.logger.Warn("container backend unavailable, falling back to local_pty", "project_id", projectID, "err", err)
			if perr := m.startPTY(ctx, sb, e, localPath); perr != nil {
				sb.State = core.SandboxFailed
				logs.Close()
				return nil, perr
			}
		}
	} else if err := m.startPTY(ctx, sb, e, localPath); err != nil {
		sb.State = core.SandboxFailed
		logs.Close()
		return nil, err
	}

	sb.State = core.SandboxRunning
	sb.StartedAt = time.Now()

	m.mu.Lock()
	m.byProject[projectID] = e
	m.mu.Unlock()

	return sb, nil
}

func (m *Manager) startContainer(ctx context.Context, sb *core.Sandbox, e *entry, localPath, language, framework string) error {
	sb.Backend = core.BackendContainer
	sb.Image = ImageFor(language, framework)

	spec := core.ContainerSpec{
		Image: sb.Image,
		Labels: map[string]string{
			"type":       "ai-orchestrator-sandbox",
			"project_id": sb.ProjectID,
		},
		Env: map[string]string{
			"ORCH_SANDBOX": "true",
			"PROJECT_ID":   sb.ProjectID,
		},
		Mounts: []core.Mount{
			{HostPath: localPath, ContainerPath: m.cfg.MountPath, ReadOnly: false},
		},
		HostPort:     sb.HostPort,
		InternalPort: sb.InternalPort,
	}

	id, err := m.runtime.Create(ctx, spec)
	if err != nil {
		return err
	}
	if err := m.runtime.Start(ctx, id); err != nil {
		return err
	}
	e.containerID = id
	return nil
}

// startPTY runs an interactive shell as a local subprocess rooted at
// localPath when the container backend is unavailable (spec §4.4:
// "falls back to LOCAL_PTY if the container backend is unavailable").
func (m *Manager) startPTY(ctx context.Context, sb *core.Sandbox, e *entry, localPath string) error {
	sb.Backend = core.BackendLocalPTY
	sb.Shell = "/bin/sh"

	runCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(runCtx, sb.Shell)
	cmd.Dir = localPath
	cmd.Env = append(cmd.Env, "ORCH_SANDBOX=true", "PROJECT_ID="+sb.ProjectID)

	if m.safeExec != nil {
		if pre := m.safeExec.RunPreflight(); !pre.OK {
			cancel()
			return core.ErrPrecondition("SANDBOX_PREFLIGHT_FAILED", fmt.Sprintf("insufficient resources to start sandbox: %v", pre.Errors))
		}
		pipes, err := m.safeExec.PrepareCommand(cmd)
		if err != nil {
			cancel()
			return core.ErrInternal("", "opening pty pipes").WithCause(err)
		}
		if err := cmd.Start(); err != nil {
			pipes.Cleanup()
			cancel()
			return core.ErrExternal("PTY_START_FAILED", "failed to start local pty backend").WithCause(err)
		}
		go scanInto(e.logs, "stdout", bufio.NewScanner(pipes.Stdout))
		go scanInto(e.logs, "stderr", bufio.NewScanner(pipes.Stderr))
		e.cmd = cmd
		e.cancel = cancel
		return nil
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return core.ErrInternal("", "opening pty stdout pipe").WithCause(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return core.ErrInternal("", "opening pty stderr pipe").WithCause(err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return core.ErrExternal("PTY_START_FAILED", "failed to start local pty backend").WithCause(err)
	}

	go scanInto(e.logs, "stdout", bufio.NewScanner(stdout))
	go scanInto(e.logs, "stderr", bufio.NewScanner(stderr))

	e.cmd = cmd
	e.cancel = cancel
	return nil
}

// Stop sends a polite termination, waits up to Config.GraceMs, then force
// kills (spec §4.4).
func (m *Manager) Stop(ctx context.Context, projectID string) error {
	m.mu.Lock()
	e, ok := m.byProject[projectID]
	m.mu.Unlock()
	if !ok || !e.sandbox.State.IsActive() {
		return core.ErrPrecondition("NOT_RUNNING", "no active sandbox for project")
	}

	e.sandbox.State = core.SandboxStopping

	switch e.sandbox.Backend {
	case core.BackendContainer:
		if err := m.runtime.Stop(ctx, e.containerID, m.cfg.GraceMs); err != nil {
			e.sandbox.State = core.SandboxFailed
			return core.ErrExternal("SANDBOX_STOP_FAILED", "failed to stop sandbox container").WithCause(err)
		}
		_ = m.runtime.Remove(ctx, e.containerID)
	case core.BackendLocalPTY:
		if e.cmd != nil && e.cmd.Process != nil {
			_ = e.cmd.Process.Signal(interruptSignal())
			done := make(chan struct{})
			go func() { _ = e.cmd.Wait(); close(done) }()
			select {
			case <-done:
			case <-time.After(m.cfg.GraceMs):
				_ = e.cmd.Process.Kill()
				<-done
			}
		}
		if e.cancel != nil {
			e.cancel()
		}
	}

	e.sandbox.State = core.SandboxStopped
	e.logs.Close()
	return nil
}

// Exec runs command inside the active sandbox (spec §4.4).
func (m *Manager) Exec(ctx context.Context, projectID string, command []string) (exitCode int, stdout, stderr string, err error) {
	m.mu.Lock()
	e, ok := m.byProject[projectID]
	m.mu.Unlock()
	if !ok || e.sandbox.State != core.SandboxRunning {
		return 0, "", "", core.ErrPrecondition("NOT_RUNNING", "no active sandbox for project")
	}

	switch e.sandbox.Backend {
	case core.BackendContainer:
		return m.runtime.Exec(ctx, e.containerID, command)
	default:
		if len(command) == 0 {
			return 0, "", "", core.ErrPrecondition("EMPTY_COMMAND", "exec requires a non-empty command")
		}
		cmd := exec.CommandContext(ctx, command[0], command[1:]...)
		cmd.Dir = e.cmd.Dir
		var outBuf, errBuf bytes.Buffer
		cmd.Stdout = &outBuf
		cmd.Stderr = &errBuf
		runErr := cmd.Run()
		code := 0
		if cmd.ProcessState != nil {
			code = cmd.ProcessState.ExitCode()
		}
		if runErr != nil && code == 0 {
			return 0, outBuf.String(), errBuf.String(), core.ErrExternal("EXEC_FAILED", "local exec failed").WithCause(runErr)
		}
		return code, outBuf.String(), errBuf.String(), nil
	}
}

// Logs returns the last n captured lines (spec §4.4).
func (m *Manager) Logs(projectID string, n int) ([]string, error) {
	m.mu.Lock()
	e, ok := m.byProject[projectID]
	m.mu.Unlock()
	if !ok {
		return nil, core.ErrNotFound("sandbox", projectID)
	}
	return e.logs.Tail(n), nil
}

// StreamLogs returns a lazy line feed starting from now (spec §4.4): it
// does not replay history and the returned channel closes when ctx is
// cancelled or the caller calls the returned cancel func.
func (m *Manager) StreamLogs(ctx context.Context, projectID string) (<-chan string, func(), error) {
	m.mu.Lock()
	e, ok := m.byProject[projectID]
	m.mu.Unlock()
	if !ok {
		return nil, nil, core.ErrNotFound("sandbox", projectID)
	}
	id, ch := e.logs.Subscribe()
	cancel := func() { e.logs.Unsubscribe(id) }
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel, nil
}

// AdoptOrphans lists every labeled container on the runtime and either
// adopts it (project still exists) or removes it (spec §4.4: "On
// supervisor restart, orphaned containers with the orchestrator label are
// adopted if their project still exists; otherwise removed").
func (m *Manager) AdoptOrphans(ctx context.Context, projects ProjectExists) error {
	if m.runtime == nil {
		return nil
	}
	handles, err := m.runtime.List(ctx, map[string]string{"type": "ai-orchestrator-sandbox"})
	if err != nil {
		return core.ErrExternal("ORPHAN_LIST_FAILED", "failed to list orphaned sandbox containers").WithCause(err)
	}

	for _, h := range handles {
		projectID := h.Labels["project_id"]
		exists, err := projects.Exists(ctx, projectID)
		if err != nil {
			m.logger.Warn("orphan adoption lookup failed", "container_id", h.ID, "project_id", projectID, "err", err)
			continue
		}
		if !exists {
			_ = m.runtime.Stop(ctx, h.ID, m.cfg.GraceMs)
			_ = m.runtime.Remove(ctx, h.ID)
			continue
		}

		m.mu.Lock()
		if _, already := m.byProject[projectID]; !already {
			m.byProject[projectID] = &entry{
				containerID: h.ID,
				sandbox: &core.Sandbox{
					ID:        uuid.NewString(),
					ProjectID: projectID,
					Backend:   core.BackendContainer,
					State:     core.SandboxRunning,
					StartedAt: time.Now(),
				},
				logs: noopLogCapture(),
			}
		}
		m.mu.Unlock()
	}
	return nil
}
