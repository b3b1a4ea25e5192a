package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumforge/aiorch/internal/core"
)

type fakeRuntime struct {
	createErr error
	containers map[string]core.ContainerSpec
	started    map[string]bool
	removed    map[string]bool
	listLabels map[string]string
	listResult []core.ContainerHandle
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		containers: make(map[string]core.ContainerSpec),
		started:    make(map[string]bool),
		removed:    make(map[string]bool),
	}
}

func (f *fakeRuntime) Create(ctx context.Context, spec core.ContainerSpec) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	id := "container-" + spec.Labels["project_id"]
	f.containers[id] = spec
	return id, nil
}

func (f *fakeRuntime) Start(ctx context.Context, containerID string) error {
	f.started[containerID] = true
	return nil
}

func (f *fakeRuntime) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	return nil
}

func (f *fakeRuntime) Remove(ctx context.Context, containerID string) error {
	f.removed[containerID] = true
	return nil
}

func (f *fakeRuntime) Exec(ctx context.Context, containerID string, cmd []string) (int, string, string, error) {
	return 0, "ok", "", nil
}

func (f *fakeRuntime) Logs(ctx context.Context, containerID string, n int) ([]string, error) {
	return []string{"line1", "line2"}, nil
}

func (f *fakeRuntime) List(ctx context.Context, labels map[string]string) ([]core.ContainerHandle, error) {
	f.listLabels = labels
	return f.listResult, nil
}

func TestManagerStartContainerBackend(t *testing.T) {
	rt := newFakeRuntime()
	m := New(rt, Config{StorageRoot: t.TempDir()}, nil)

	sb, err := m.Start(context.Background(), "proj1", t.TempDir(), "python", "django")
	require.NoError(t, err)
	assert.Equal(t, core.BackendContainer, sb.Backend)
	assert.Equal(t, "python:3.12-slim", sb.Image)
	assert.Equal(t, core.SandboxRunning, sb.State)
	assert.True(t, rt.started["container-proj1"])
}

func TestManagerStartRejectsSecondActiveSandbox(t *testing.T) {
	rt := newFakeRuntime()
	m := New(rt, Config{StorageRoot: t.TempDir()}, nil)

	root := t.TempDir()
	_, err := m.Start(context.Background(), "proj1", root, "python", "generic")
	require.NoError(t, err)

	_, err = m.Start(context.Background(), "proj1", root, "python", "generic")
	require.Error(t, err)
	assert.Equal(t, core.KindAlreadyRunning, core.Kind(err))
}

func TestManagerStartFallsBackToLocalPTYWithoutRuntime(t *testing.T) {
	m := New(nil, Config{StorageRoot: t.TempDir()}, nil)

	sb, err := m.Start(context.Background(), "proj1", t.TempDir(), "python", "generic")
	require.NoError(t, err)
	assert.Equal(t, core.BackendLocalPTY, sb.Backend)
	assert.Equal(t, core.SandboxRunning, sb.State)
}

func TestManagerExecRequiresActiveSandbox(t *testing.T) {
	m := New(newFakeRuntime(), Config{StorageRoot: t.TempDir()}, nil)
	_, _, _, err := m.Exec(context.Background(), "nonexistent", []string{"echo", "hi"})
	require.Error(t, err)
	assert.Equal(t, core.KindPrecondition, core.Kind(err))
}

func TestManagerStopReleasesProjectForRestart(t *testing.T) {
	rt := newFakeRuntime()
	m := New(rt, Config{StorageRoot: t.TempDir(), GraceMs: 10 * time.Millisecond}, nil)

	root := t.TempDir()
	_, err := m.Start(context.Background(), "proj1", root, "python", "generic")
	require.NoError(t, err)

	require.NoError(t, m.Stop(context.Background(), "proj1"))

	_, err = m.Start(context.Background(), "proj1", root, "python", "generic")
	require.NoError(t, err)
}

func TestManagerLogsReturnsTail(t *testing.T) {
	m := New(nil, Config{StorageRoot: t.TempDir()}, nil)
	root := t.TempDir()
	_, err := m.Start(context.Background(), "proj1", root, "python", "generic")
	require.NoError(t, err)

	lines, err := m.Logs("proj1", 10)
	require.NoError(t, err)
	assert.NotNil(t, lines)
}

type fakeProjectExists struct {
	exists map[string]bool
}

func (f *fakeProjectExists) Exists(ctx context.Context, projectID string) (bool, error) {
	return f.exists[projectID], nil
}

func TestManagerAdoptOrphansRemovesDeletedProjectContainers(t *testing.T) {
	rt := newFakeRuntime()
	rt.listResult = []core.ContainerHandle{
		{ID: "orphan-1", Labels: map[string]string{"project_id": "gone"}},
		{ID: "orphan-2", Labels: map[string]string{"project_id": "alive"}},
	}
	m := New(rt, Config{StorageRoot: t.TempDir()}, nil)

	err := m.AdoptOrphans(context.Background(), &fakeProjectExists{exists: map[string]bool{"alive": true}})
	require.NoError(t, err)

	assert.True(t, rt.removed["orphan-1"])
	assert.False(t, rt.removed["orphan-2"])

	_, err = m.Logs("alive", 10)
	require.NoError(t, err)
}

func TestImageForFallsBackToDefault(t *testing.T) {
	assert.Equal(t, "python:3.12-slim", ImageFor("python", "django"))
	assert.Equal(t, "node:20-slim", ImageFor("node", "unknown-framework"))
	assert.Equal(t, defaultImage, ImageFor("cobol", "generic"))
}
