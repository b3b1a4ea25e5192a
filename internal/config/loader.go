package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v              *viper.Viper
	configFile     string
	projectDir     string     // Resolved project root directory (set by Load)
	projectDirHint string     // Optional: override project root directory for path resolution
	resolvePaths   bool       // Whether to resolve relative paths to absolute on Load
	mu             sync.Mutex // Protects concurrent access to viper operations
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:            viper.New(),
		resolvePaths: true,
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:            v,
		resolvePaths: true,
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithProjectDir provides a project root directory hint for resolving relative paths.
// This is required for scenarios where the config file is not located under the project
// root (e.g. a global config shared by many projects).
func (l *Loader) WithProjectDir(path string) *Loader {
	l.projectDirHint = path
	return l
}

// WithResolvePaths controls whether relative paths are resolved to absolute paths on Load().
// For API editing endpoints, you typically want resolvePaths=false to preserve relative values.
func (l *Loader) WithResolvePaths(resolve bool) *Loader {
	l.resolvePaths = resolve
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// envBindings pairs each viper key with the literal (unprefixed) environment
// variable name spec.md §6 recognizes.
var envBindings = [][2]string{
	{"storage.root", "STORAGE_ROOT"},
	{"llm.base_url", "LLM_BASE_URL"},
	{"llm.primary_model", "LLM_PRIMARY_MODEL"},
	{"llm.tier", "LLM_TIER"},
	{"llm.batch_window_ms", "BATCH_WINDOW_MS"},
	{"llm.max_batch", "MAX_BATCH"},
	{"workflow.max_concurrency", "MAX_WF_CONCURRENCY"},
	{"sandbox.grace_ms", "GRACE_MS"},
	{"auth.jwt_secret", "JWT_SECRET"},
	{"auth.vault_master_key", "VAULT_MASTER_KEY"},
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables named by spec.md §6 (STORAGE_ROOT, LLM_BASE_URL, ...)
// 3. Project config (.aiorch/config.yaml)
// 4. Legacy project config (.aiorch.yaml - for backwards compatibility)
// 5. User config (~/.config/aiorch/config.yaml)
// 6. Defaults
func (l *Loader) Load() (*Config, error) {
	// Lock to prevent concurrent map writes in viper
	l.mu.Lock()
	defer l.mu.Unlock()

	// Set defaults first
	l.setDefaults()

	// spec.md §6's env vars are literal, unprefixed names, not QUORUM_*-style
	// namespaced ones — bind each explicitly instead of AutomaticEnv.
	for _, b := range envBindings {
		_ = l.v.BindEnv(b[0], b[1])
	}

	// Config file setup
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		// Try new location first: .aiorch/config.yaml
		newConfigPath := filepath.Join(".aiorch", "config.yaml")
		if _, err := os.Stat(newConfigPath); err == nil {
			l.v.SetConfigFile(newConfigPath)
		} else {
			// Fall back to legacy location: .aiorch.yaml
			l.v.SetConfigName(".aiorch")
			l.v.SetConfigType("yaml")

			// Add search paths in precedence order (first found wins)
			// Project config takes precedence over user config
			l.v.AddConfigPath(".")
			if home, err := os.UserHomeDir(); err == nil {
				l.v.AddConfigPath(filepath.Join(home, ".config", "aiorch"))
			}
		}
	}

	// Read config file (ignore not found)
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// ignore
		} else if errors.Is(err, os.ErrNotExist) {
			// Explicit config file path does not exist: treat as "no config file" and fall back to defaults.
		} else {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// Normalize legacy keys from config file (e.g., maxretries -> max_retries)
	if configPath := l.v.ConfigFileUsed(); configPath != "" {
		// If we were given an explicit config file path that doesn't exist, viper may still
		// report it as "used". Skip normalization in that case.
		if _, err := os.Stat(configPath); err == nil {
			normalized, err := loadNormalizedConfigMap(configPath)
			if err != nil {
				return nil, fmt.Errorf("normalizing config: %w", err)
			}
			if len(normalized) > 0 {
				if err := l.v.MergeConfigMap(normalized); err != nil {
					return nil, fmt.Errorf("merging normalized config: %w", err)
				}
			}
		}
	}

	// Unmarshal into struct
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Resolve all relative paths to absolute paths
	// Use the project root (parent of .aiorch/) as the base for relative paths
	projectDir := ""
	if configPath := l.v.ConfigFileUsed(); configPath != "" {
		absConfigPath, err := filepath.Abs(configPath)
		if err == nil {
			configDir := filepath.Dir(absConfigPath)
			// If config is in .aiorch/ directory, use its parent as project root
			// e.g., /project/.aiorch/config.yaml -> /project/
			if filepath.Base(configDir) == ".aiorch" {
				projectDir = filepath.Dir(configDir)
			} else {
				// Legacy .aiorch.yaml in project root
				projectDir = configDir
			}
		}
	}
	// If no config file found, fall back to current working directory
	if projectDir == "" {
		projectDir, _ = os.Getwd()
	}
	// Override project dir when caller provides a hint (e.g. global config shared by many projects).
	if strings.TrimSpace(l.projectDirHint) != "" {
		projectDir = l.projectDirHint
	}
	l.projectDir = projectDir
	if l.resolvePaths {
		l.resolveAbsolutePaths(&cfg, projectDir)
	}

	return &cfg, nil
}

// ProjectDir returns the resolved project root directory.
// This is the directory containing the .aiorch/ config folder (or CWD as fallback).
// Available after Load() has been called.
func (l *Loader) ProjectDir() string {
	return l.projectDir
}

// resolveAbsolutePaths converts all relative paths in the config to absolute paths.
// Relative paths are resolved relative to baseDir (typically the config file's directory).
// This prevents issues when aiorch is executed from different working directories.
func (l *Loader) resolveAbsolutePaths(cfg *Config, baseDir string) {
	if cfg.Storage.Root != "" {
		cfg.Storage.Root = resolvePathRelativeTo(cfg.Storage.Root, baseDir)
	}
	if cfg.Git.WorktreeDir != "" {
		cfg.Git.WorktreeDir = resolvePathRelativeTo(cfg.Git.WorktreeDir, baseDir)
	}
	if cfg.Log.File != "" {
		cfg.Log.File = resolvePathRelativeTo(cfg.Log.File, baseDir)
	}
}

// resolvePathRelativeTo converts a relative path to an absolute path using baseDir as the base.
// If the path is already absolute, it is returned unchanged.
// Example: resolvePathRelativeTo(".aiorch/projects", "/home/user/project")
//
//	→ "/home/user/project/.aiorch/projects"
func resolvePathRelativeTo(path, baseDir string) string {
	// Check for absolute paths (including Unix-style paths on Windows)
	if filepath.IsAbs(path) {
		return path
	}
	// On Windows, filepath.IsAbs("/unix/path") returns false
	// But such paths should be treated as absolute
	if len(path) > 0 && (path[0] == '/' || path[0] == '\\') {
		return path
	}
	return filepath.Join(baseDir, path)
}

func loadNormalizedConfigMap(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	normalizeLegacyConfigMap(raw)
	return raw, nil
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")
	l.v.SetDefault("log.file", "")

	l.v.SetDefault("storage.root", ".aiorch/projects")

	l.v.SetDefault("llm.base_url", "http://localhost:11434")
	l.v.SetDefault("llm.primary_model", "")
	l.v.SetDefault("llm.tier", "BALANCED")
	l.v.SetDefault("llm.batch_window_ms", 50)
	l.v.SetDefault("llm.max_batch", 5)

	l.v.SetDefault("workflow.max_concurrency", 8)

	l.v.SetDefault("sandbox.grace_ms", 5000)

	l.v.SetDefault("auth.jwt_secret", "")
	l.v.SetDefault("auth.vault_master_key", "")

	l.v.SetDefault("git.worktree_dir", ".aiorch/ghosts")
	l.v.SetDefault("git.auto_clean", true)
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	if l.configFile != "" {
		return l.configFile
	}
	return l.v.ConfigFileUsed()
}

// Get returns a configuration value by key.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// Set sets a configuration value.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// IsSet checks if a key has been set.
func (l *Loader) IsSet(key string) bool {
	return l.v.IsSet(key)
}

// AllSettings returns all settings as a map.
func (l *Loader) AllSettings() map[string]interface{} {
	return l.v.AllSettings()
}

// Validate checks configuration consistency and returns an error if invalid.
func Validate(cfg *Config) error {
	return validateConfig(cfg)
}
