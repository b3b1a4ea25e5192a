package config

// Config holds the orchestration core's runtime configuration: the
// environment variables spec.md §6 recognizes, with YAML-file and
// built-in-default fallbacks. Generalizes the teacher's viper-loaded
// Config (agents/consensus/issues settings for a single-tenant CLI) down
// to this core's own settings.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Storage  StorageConfig  `mapstructure:"storage"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Git      GitConfig      `mapstructure:"git"`
}

// ServerConfig configures the HTTP translator's listener (internal/httpapi,
// cmd/orchestratord's `serve` subcommand). Not named by spec.md §6's env
// var table, since the library core itself is transport-agnostic; this is
// purely the outer binary's own concern.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig configures structured logging output (ambient stack).
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// StorageConfig names the filesystem root for project trees (spec §6:
// STORAGE_ROOT). Every project lives under Root/<projectID>/.
type StorageConfig struct {
	Root string `mapstructure:"root"`
}

// LLMConfig configures the LLM Client Pool (spec §4.8/§6): the backend
// base URL, the model used when a caller does not pin one, the active
// hardware tier, and the batching worker's window/size.
type LLMConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	PrimaryModel  string `mapstructure:"primary_model"`
	Tier          string `mapstructure:"tier"`
	BatchWindowMs int    `mapstructure:"batch_window_ms"`
	MaxBatch      int    `mapstructure:"max_batch"`
}

// WorkflowConfig bounds the Workflow Engine scheduler (spec §4.3/§5).
type WorkflowConfig struct {
	MaxConcurrency int64 `mapstructure:"max_concurrency"`
}

// SandboxConfig bounds Sandbox Supervisor provisioning and teardown (spec
// §4.4). DockerSocket is empty to fall back to the LOCAL_PTY backend.
type SandboxConfig struct {
	GraceMs         int    `mapstructure:"grace_ms"`
	DockerSocket    string `mapstructure:"docker_socket"`
	MinFreeMemoryMB int    `mapstructure:"min_free_memory_mb"`
	InternalPort    int    `mapstructure:"internal_port"`
}

// AuthConfig carries opaque secrets the core never derives policy from
// (spec §6): passed through to the (out of scope) auth/crypto layer.
type AuthConfig struct {
	JWTSecret      string `mapstructure:"jwt_secret"`
	VaultMasterKey string `mapstructure:"vault_master_key"`
}

// GitConfig configures Git Sync's ghost-branch worktree handling.
type GitConfig struct {
	WorktreeDir string `mapstructure:"worktree_dir"`
	AutoClean   bool   `mapstructure:"auto_clean"`
}
