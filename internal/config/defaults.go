package config

// DefaultConfigYAML contains the default configuration YAML content. Used
// by both `orchctl init` and the API reset endpoint to ensure consistency.
const DefaultConfigYAML = `# aiorch orchestration core configuration
# Values not specified here use the built-in defaults below. Every value
# may also be set by the environment variable named in spec.md §6
# (STORAGE_ROOT, LLM_BASE_URL, LLM_PRIMARY_MODEL, LLM_TIER,
# MAX_WF_CONCURRENCY, BATCH_WINDOW_MS, MAX_BATCH, GRACE_MS, JWT_SECRET,
# VAULT_MASTER_KEY), which always takes precedence over this file.

log:
  level: info
  format: auto
  file: ""

storage:
  root: .aiorch/projects

llm:
  base_url: http://localhost:11434
  primary_model: ""
  tier: BALANCED
  batch_window_ms: 50
  max_batch: 5

workflow:
  max_concurrency: 8

sandbox:
  grace_ms: 5000

auth:
  jwt_secret: ""
  vault_master_key: ""

git:
  worktree_dir: .aiorch/ghosts
  auto_clean: true
`
