package core

import (
	"context"
	"time"
)

// GitClient wraps the git operations Git Sync needs against one already
// cloned repository path (spec §4.5). Retries and clone/ghost-branch logic
// live one layer up, in the gitsync service, not in this interface.
type GitClient interface {
	RepoRoot(ctx context.Context) (string, error)
	CurrentBranch(ctx context.Context) (string, error)
	Status(ctx context.Context) (*GitStatus, error)
	IsClean(ctx context.Context) (bool, error)
	Fetch(ctx context.Context, remote string) error
	Pull(ctx context.Context, remote, branch string) error
	Push(ctx context.Context, remote, branch string) error
	Log(ctx context.Context, n int) ([]GitCommit, error)
	Diff(ctx context.Context, base, head string) (string, error)
	ListBranches(ctx context.Context) ([]string, error)
	BranchExists(ctx context.Context, name string) (bool, error)
	Checkout(ctx context.Context, name string, create bool) error
	CreateBranch(ctx context.Context, name, base string) error
	DeleteBranchForce(ctx context.Context, name string) error
	Merge(ctx context.Context, branch string, opts MergeOptions) error
	AbortMerge(ctx context.Context) error
	GetConflictFiles(ctx context.Context) ([]string, error)
	CommitAll(ctx context.Context, message string) (string, error)
}

// GitClientFactory constructs a GitClient bound to a specific repository
// path on disk.
type GitClientFactory interface {
	NewClient(repoPath string) (GitClient, error)
}

// GitStatus is the parsed state of a working tree.
type GitStatus struct {
	Branch       string
	Ahead        int
	Behind       int
	Staged       []FileStatus
	Unstaged     []FileStatus
	Untracked    []string
	HasConflicts bool
}

// FileStatus names one changed file and its status letter.
type FileStatus struct {
	Path   string
	Status string
}

// GitCommit is one entry in `git log`.
type GitCommit struct {
	Hash        string
	AuthorName  string
	AuthorEmail string
	Subject     string
	Date        time.Time
}

// MergeOptions configures a GitClient.Merge call.
type MergeOptions struct {
	Strategy       string
	StrategyOption string
	NoCommit       bool
	NoFastForward  bool
	Squash         bool
	Message        string
}

// GitProviderClient is the consumed "Git provider HTTP APIs" surface
// (spec §6, consumed surface 1): create-repo and list-branches, carrying
// either `Authorization: token <t>` or `PRIVATE-TOKEN: <t>` depending on
// provider family. Token strings are opaque secrets, never logged.
type GitProviderClient interface {
	CreateRepo(ctx context.Context, opts CreateRepoOptions) (*RepoInfo, error)
	ListBranches(ctx context.Context, owner, repo string) ([]string, error)
}

// ProviderFamily distinguishes the auth header shape a Git host expects.
type ProviderFamily string

const (
	ProviderGitHub ProviderFamily = "github" // Authorization: token <t>
	ProviderGitLab ProviderFamily = "gitlab" // PRIVATE-TOKEN: <t>
)

// CreateRepoOptions configures GitProviderClient.CreateRepo.
type CreateRepoOptions struct {
	Owner   string
	Name    string
	Private bool
}

// RepoInfo is a provider-returned repository description.
type RepoInfo struct {
	Owner     string
	Name      string
	CloneURL  string
	DefaultBranch string
}

// ContainerRuntime is the consumed container-runtime surface (spec §6,
// consumed surface 3): CRUD on containers with volume bind, port publish,
// exec, stop, logs. Every container the core creates carries the labels
// `type=ai-orchestrator-sandbox` and `project_id=<id>`.
type ContainerRuntime interface {
	Create(ctx context.Context, spec ContainerSpec) (containerID string, err error)
	Start(ctx context.Context, containerID string) error
	Stop(ctx context.Context, containerID string, grace time.Duration) error
	Remove(ctx context.Context, containerID string) error
	Exec(ctx context.Context, containerID string, cmd []string) (exitCode int, stdout, stderr string, err error)
	Logs(ctx context.Context, containerID string, n int) ([]string, error)
	List(ctx context.Context, labels map[string]string) ([]ContainerHandle, error)
}

// ContainerSpec describes a container to provision for a Sandbox.
type ContainerSpec struct {
	Image       string
	Labels      map[string]string
	Env         map[string]string
	Mounts      []Mount
	HostPort    int
	InternalPort int
}

// Mount is a volume bind mount.
type Mount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// ContainerHandle identifies a running container the supervisor may adopt
// on restart.
type ContainerHandle struct {
	ID     string
	Labels map[string]string
	State  string
}

// LLMBackend is the consumed LLM backend surface (spec §6, consumed
// surface 2): an OpenAI-compatible chat/completions/embeddings API.
type LLMBackend interface {
	ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	StreamChatCompletion(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)
}

// ChatMessage is one OpenAI-compatible chat message.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatRequest is the request body the backend expects:
// {model, messages, stream, temperature, top_p, top_k, max_tokens}.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	Stream      bool
	Temperature float64
	TopP        float64
	TopK        int
	MaxTokens   int
}

// ChatResponse is a non-streaming completion result.
type ChatResponse struct {
	Text      string
	TokensIn  int
	TokensOut int
}

// StreamChunk is one piece of a streamed completion. Done is true on the
// chunk that terminates the stream (the backend's `data: [DONE]` line);
// Err is set if the stream ended abnormally.
type StreamChunk struct {
	Text string
	Done bool
	Err  error
}
