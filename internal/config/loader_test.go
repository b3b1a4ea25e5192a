package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoader_Defaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.LLM.Tier != "BALANCED" {
		t.Errorf("LLM.Tier = %q, want %q", cfg.LLM.Tier, "BALANCED")
	}
	if cfg.Workflow.MaxConcurrency != 8 {
		t.Errorf("Workflow.MaxConcurrency = %d, want 8", cfg.Workflow.MaxConcurrency)
	}
	if cfg.Sandbox.GraceMs != 5000 {
		t.Errorf("Sandbox.GraceMs = %d, want 5000", cfg.Sandbox.GraceMs)
	}
	if !filepath.IsAbs(cfg.Storage.Root) {
		t.Errorf("Storage.Root = %q, want an absolute path after resolution", cfg.Storage.Root)
	}
}

func TestLoader_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("STORAGE_ROOT", "/var/aiorch/projects")
	t.Setenv("LLM_PRIMARY_MODEL", "llama3-70b")
	t.Setenv("MAX_WF_CONCURRENCY", "16")

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.Root != "/var/aiorch/projects" {
		t.Errorf("Storage.Root = %q, want %q", cfg.Storage.Root, "/var/aiorch/projects")
	}
	if cfg.LLM.PrimaryModel != "llama3-70b" {
		t.Errorf("LLM.PrimaryModel = %q, want %q", cfg.LLM.PrimaryModel, "llama3-70b")
	}
	if cfg.Workflow.MaxConcurrency != 16 {
		t.Errorf("Workflow.MaxConcurrency = %d, want 16", cfg.Workflow.MaxConcurrency)
	}
}

func TestLoader_ConfigFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	yamlContent := "log:\n  level: debug\nworkflow:\n  max_concurrency: 2\n"
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader().WithConfigFile(cfgPath).WithProjectDir(dir).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Workflow.MaxConcurrency != 2 {
		t.Errorf("Workflow.MaxConcurrency = %d, want 2", cfg.Workflow.MaxConcurrency)
	}
	// Untouched fields keep their defaults.
	if cfg.LLM.Tier != "BALANCED" {
		t.Errorf("LLM.Tier = %q, want %q", cfg.LLM.Tier, "BALANCED")
	}
}

func TestLoader_WithResolvePathsFalse(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("storage:\n  root: relative/projects\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader().WithConfigFile(cfgPath).WithResolvePaths(false).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.Root != "relative/projects" {
		t.Errorf("Storage.Root = %q, want unresolved %q", cfg.Storage.Root, "relative/projects")
	}
}

func TestLoader_ProjectDir(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("log:\n  level: info\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader().WithConfigFile(cfgPath)
	if _, err := l.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if l.ProjectDir() != dir {
		t.Errorf("ProjectDir() = %q, want %q", l.ProjectDir(), dir)
	}
}
