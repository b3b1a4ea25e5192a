package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/quorumforge/aiorch/internal/core"
)

// MockCall records a call to a mock collaborator.
type MockCall struct {
	Method    string
	Args      interface{}
	Timestamp time.Time
}

// MockGitClient implements core.GitClient for testing, recording every call
// and returning configurable canned responses.
type MockGitClient struct {
	Branch    string
	Status    *core.GitStatus
	Clean     bool
	Commits   []core.GitCommit
	Branches  []string
	DiffText  string
	Conflicts []string

	StatusErr   error
	FetchErr    error
	PullErr     error
	PushErr     error
	MergeErr    error
	CommitErr   error
	CheckoutErr error

	calls []MockCall
	mu    sync.Mutex
}

// NewMockGitClient creates a mock with sane zero-value defaults.
func NewMockGitClient() *MockGitClient {
	return &MockGitClient{
		Branch: "main",
		Clean:  true,
		Status: &core.GitStatus{Branch: "main"},
	}
}

func (m *MockGitClient) recordCall(method string, args interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, Args: args, Timestamp: time.Now()})
}

// Calls returns the recorded call history.
func (m *MockGitClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall{}, m.calls...)
}

func (m *MockGitClient) RepoRoot(ctx context.Context) (string, error) {
	m.recordCall("RepoRoot", nil)
	return "/repo", nil
}

func (m *MockGitClient) CurrentBranch(ctx context.Context) (string, error) {
	m.recordCall("CurrentBranch", nil)
	return m.Branch, nil
}

func (m *MockGitClient) Status(ctx context.Context) (*core.GitStatus, error) {
	m.recordCall("Status", nil)
	if m.StatusErr != nil {
		return nil, m.StatusErr
	}
	return m.Status, nil
}

func (m *MockGitClient) IsClean(ctx context.Context) (bool, error) {
	m.recordCall("IsClean", nil)
	return m.Clean, nil
}

func (m *MockGitClient) Fetch(ctx context.Context, remote string) error {
	m.recordCall("Fetch", remote)
	return m.FetchErr
}

func (m *MockGitClient) Pull(ctx context.Context, remote, branch string) error {
	m.recordCall("Pull", []string{remote, branch})
	return m.PullErr
}

func (m *MockGitClient) Push(ctx context.Context, remote, branch string) error {
	m.recordCall("Push", []string{remote, branch})
	return m.PushErr
}

func (m *MockGitClient) Log(ctx context.Context, n int) ([]core.GitCommit, error) {
	m.recordCall("Log", n)
	if n > 0 && n < len(m.Commits) {
		return m.Commits[:n], nil
	}
	return m.Commits, nil
}

func (m *MockGitClient) Diff(ctx context.Context, base, head string) (string, error) {
	m.recordCall("Diff", []string{base, head})
	return m.DiffText, nil
}

func (m *MockGitClient) ListBranches(ctx context.Context) ([]string, error) {
	m.recordCall("ListBranches", nil)
	return m.Branches, nil
}

func (m *MockGitClient) BranchExists(ctx context.Context, name string) (bool, error) {
	m.recordCall("BranchExists", name)
	for _, b := range m.Branches {
		if b == name {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockGitClient) Checkout(ctx context.Context, name string, create bool) error {
	m.recordCall("Checkout", []interface{}{name, create})
	if m.CheckoutErr != nil {
		return m.CheckoutErr
	}
	m.Branch = name
	if create {
		m.Branches = append(m.Branches, name)
	}
	return nil
}

func (m *MockGitClient) CreateBranch(ctx context.Context, name, base string) error {
	m.recordCall("CreateBranch", []string{name, base})
	m.Branches = append(m.Branches, name)
	return nil
}

func (m *MockGitClient) DeleteBranchForce(ctx context.Context, name string) error {
	m.recordCall("DeleteBranchForce", name)
	out := m.Branches[:0]
	for _, b := range m.Branches {
		if b != name {
			out = append(out, b)
		}
	}
	m.Branches = out
	return nil
}

func (m *MockGitClient) Merge(ctx context.Context, branch string, opts core.MergeOptions) error {
	m.recordCall("Merge", []interface{}{branch, opts})
	return m.MergeErr
}

func (m *MockGitClient) AbortMerge(ctx context.Context) error {
	m.recordCall("AbortMerge", nil)
	return nil
}

func (m *MockGitClient) GetConflictFiles(ctx context.Context) ([]string, error) {
	m.recordCall("GetConflictFiles", nil)
	return m.Conflicts, nil
}

func (m *MockGitClient) CommitAll(ctx context.Context, message string) (string, error) {
	m.recordCall("CommitAll", message)
	if m.CommitErr != nil {
		return "", m.CommitErr
	}
	return "deadbeef", nil
}

var _ core.GitClient = (*MockGitClient)(nil)

// MockGitClientFactory implements core.GitClientFactory, handing back one
// shared MockGitClient per repo path (or a fresh one if none was seeded).
type MockGitClientFactory struct {
	Clients map[string]*MockGitClient
	mu      sync.Mutex
}

// NewMockGitClientFactory creates an empty factory.
func NewMockGitClientFactory() *MockGitClientFactory {
	return &MockGitClientFactory{Clients: make(map[string]*MockGitClient)}
}

// Seed registers the client to hand back for a given repo path.
func (f *MockGitClientFactory) Seed(repoPath string, client *MockGitClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Clients[repoPath] = client
}

func (f *MockGitClientFactory) NewClient(repoPath string) (core.GitClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.Clients[repoPath]; ok {
		return c, nil
	}
	c := NewMockGitClient()
	f.Clients[repoPath] = c
	return c, nil
}

var _ core.GitClientFactory = (*MockGitClientFactory)(nil)

// MockGitProviderClient implements core.GitProviderClient for testing.
type MockGitProviderClient struct {
	Repo         *core.RepoInfo
	BranchesByID map[string][]string
	CreateErr    error
	ListErr      error

	calls []MockCall
	mu    sync.Mutex
}

// NewMockGitProviderClient creates a mock provider client.
func NewMockGitProviderClient() *MockGitProviderClient {
	return &MockGitProviderClient{BranchesByID: make(map[string][]string)}
}

func (m *MockGitProviderClient) CreateRepo(ctx context.Context, opts core.CreateRepoOptions) (*core.RepoInfo, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Method: "CreateRepo", Args: opts, Timestamp: time.Now()})
	m.mu.Unlock()
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	if m.Repo != nil {
		return m.Repo, nil
	}
	return &core.RepoInfo{Owner: opts.Owner, Name: opts.Name, CloneURL: "https://example.test/" + opts.Owner + "/" + opts.Name + ".git", DefaultBranch: "main"}, nil
}

func (m *MockGitProviderClient) ListBranches(ctx context.Context, owner, repo string) ([]string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Method: "ListBranches", Args: []string{owner, repo}, Timestamp: time.Now()})
	m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return m.BranchesByID[owner+"/"+repo], nil
}

var _ core.GitProviderClient = (*MockGitProviderClient)(nil)

// MockContainerRuntime implements core.ContainerRuntime for testing: an
// in-memory map of containers keyed by a counter-generated id.
type MockContainerRuntime struct {
	containers map[string]*mockContainer
	nextID     int
	mu         sync.Mutex
}

type mockContainer struct {
	spec  core.ContainerSpec
	state string
	logs  []string
}

// NewMockContainerRuntime creates an empty mock runtime.
func NewMockContainerRuntime() *MockContainerRuntime {
	return &MockContainerRuntime{containers: make(map[string]*mockContainer)}
}

func (m *MockContainerRuntime) Create(ctx context.Context, spec core.ContainerSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := "mock-container-" + itoa(m.nextID)
	m.containers[id] = &mockContainer{spec: spec, state: "created"}
	return id, nil
}

func (m *MockContainerRuntime) Start(ctx context.Context, containerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[containerID]
	if !ok {
		return core.ErrNotFound("container", containerID)
	}
	c.state = "running"
	return nil
}

func (m *MockContainerRuntime) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[containerID]
	if !ok {
		return core.ErrNotFound("container", containerID)
	}
	c.state = "stopped"
	return nil
}

func (m *MockContainerRuntime) Remove(ctx context.Context, containerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.containers, containerID)
	return nil
}

func (m *MockContainerRuntime) Exec(ctx context.Context, containerID string, cmd []string) (int, string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.containers[containerID]; !ok {
		return -1, "", "", core.ErrNotFound("container", containerID)
	}
	return 0, "", "", nil
}

func (m *MockContainerRuntime) Logs(ctx context.Context, containerID string, n int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[containerID]
	if !ok {
		return nil, core.ErrNotFound("container", containerID)
	}
	if n > 0 && n < len(c.logs) {
		return c.logs[len(c.logs)-n:], nil
	}
	return c.logs, nil
}

func (m *MockContainerRuntime) List(ctx context.Context, labels map[string]string) ([]core.ContainerHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.ContainerHandle, 0, len(m.containers))
	for id, c := range m.containers {
		if !labelsMatch(c.spec.Labels, labels) {
			continue
		}
		out = append(out, core.ContainerHandle{ID: id, Labels: c.spec.Labels, State: c.state})
	}
	return out, nil
}

func labelsMatch(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

var _ core.ContainerRuntime = (*MockContainerRuntime)(nil)

// MockLLMBackend implements core.LLMBackend for testing.
type MockLLMBackend struct {
	Response *core.ChatResponse
	Chunks   []core.StreamChunk
	Err      error

	calls []MockCall
	mu    sync.Mutex
}

// NewMockLLMBackend creates a mock backend returning a canned echo response.
func NewMockLLMBackend() *MockLLMBackend {
	return &MockLLMBackend{Response: &core.ChatResponse{Text: "mock response", TokensIn: 10, TokensOut: 5}}
}

func (m *MockLLMBackend) ChatCompletion(ctx context.Context, req core.ChatRequest) (*core.ChatResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Method: "ChatCompletion", Args: req, Timestamp: time.Now()})
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Response, nil
}

func (m *MockLLMBackend) StreamChatCompletion(ctx context.Context, req core.ChatRequest) (<-chan core.StreamChunk, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Method: "StreamChatCompletion", Args: req, Timestamp: time.Now()})
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	ch := make(chan core.StreamChunk, len(m.Chunks)+1)
	for _, c := range m.Chunks {
		ch <- c
	}
	ch <- core.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

// Calls returns the recorded call history.
func (m *MockLLMBackend) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall{}, m.calls...)
}

var _ core.LLMBackend = (*MockLLMBackend)(nil)
