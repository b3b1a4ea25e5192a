package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
var validLogFormats = map[string]bool{"auto": true, "json": true, "text": true}
var validTiers = map[string]bool{"MINIMAL": true, "BALANCED": true, "FULL": true, "ULTRA": true}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{errors: make(ValidationErrors, 0)}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateStorage(&cfg.Storage)
	v.validateLLM(&cfg.LLM)
	v.validateWorkflow(&cfg.Workflow)
	v.validateSandbox(&cfg.Sandbox)
	v.validateGit(&cfg.Git)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) addError(field string, value interface{}, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Value: value, Message: message})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	if cfg.Level != "" && !validLogLevels[strings.ToLower(cfg.Level)] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}
	if cfg.Format != "" && !validLogFormats[strings.ToLower(cfg.Format)] {
		v.addError("log.format", cfg.Format, "must be one of: auto, json, text")
	}
}

func (v *Validator) validateStorage(cfg *StorageConfig) {
	if strings.TrimSpace(cfg.Root) == "" {
		v.addError("storage.root", cfg.Root, "must not be empty")
	}
}

func (v *Validator) validateLLM(cfg *LLMConfig) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		v.addError("llm.base_url", cfg.BaseURL, "must not be empty")
	}
	if cfg.Tier != "" && !validTiers[strings.ToUpper(cfg.Tier)] {
		v.addError("llm.tier", cfg.Tier, "must be one of: MINIMAL, BALANCED, FULL, ULTRA")
	}
	if cfg.BatchWindowMs < 0 {
		v.addError("llm.batch_window_ms", cfg.BatchWindowMs, "must be >= 0")
	}
	if cfg.MaxBatch < 1 {
		v.addError("llm.max_batch", cfg.MaxBatch, "must be >= 1")
	}
}

func (v *Validator) validateWorkflow(cfg *WorkflowConfig) {
	if cfg.MaxConcurrency < 1 {
		v.addError("workflow.max_concurrency", cfg.MaxConcurrency, "must be >= 1")
	}
}

func (v *Validator) validateSandbox(cfg *SandboxConfig) {
	if cfg.GraceMs < 0 {
		v.addError("sandbox.grace_ms", cfg.GraceMs, "must be >= 0")
	}
}

func (v *Validator) validateGit(cfg *GitConfig) {
	if strings.TrimSpace(cfg.WorktreeDir) == "" {
		v.addError("git.worktree_dir", cfg.WorktreeDir, "must not be empty")
	}
}

// validateConfig is the package-level entry point used by Validate.
func validateConfig(cfg *Config) error {
	return NewValidator().Validate(cfg)
}
