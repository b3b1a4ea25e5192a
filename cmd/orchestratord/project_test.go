package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/quorumforge/aiorch/internal/config"
	"github.com/quorumforge/aiorch/internal/testutil"
)

func testLoadConfig(t *testing.T) func() (config.Config, error) {
	t.Helper()
	dir := testutil.TempDir(t)
	return func() (config.Config, error) {
		return config.Config{
			Log:      config.LogConfig{Level: "error", Format: "text"},
			Storage:  config.StorageConfig{Root: dir},
			LLM:      config.LLMConfig{Tier: "BALANCED", BatchWindowMs: 50, MaxBatch: 5},
			Workflow: config.WorkflowConfig{MaxConcurrency: 4},
			Sandbox:  config.SandboxConfig{GraceMs: 5000, InternalPort: 8080},
		}, nil
	}
}

func TestProjectCmd_CreateListDelete(t *testing.T) {
	loadConfig := testLoadConfig(t)

	create := newProjectCmd(loadConfig)
	var out bytes.Buffer
	create.SetOut(&out)
	create.SetArgs([]string{
		"create",
		"--user-id", "u1", "--tenant-id", "t1", "--role", "ADMIN",
		"--name", "demo", "--language", "go", "--local-path", "/store/demo",
	})
	testutil.AssertNoError(t, create.Execute())

	list := newProjectCmd(loadConfig)
	list.SetOut(&out)
	list.SetArgs([]string{"list", "--user-id", "u1", "--tenant-id", "t1", "--role", "ADMIN"})
	testutil.AssertNoError(t, list.Execute())
}

func TestProjectCmd_DeleteRequiresArg(t *testing.T) {
	loadConfig := testLoadConfig(t)
	del := newProjectCmd(loadConfig)
	del.SetArgs([]string{"delete"})
	err := del.Execute()
	testutil.AssertError(t, err)
	testutil.AssertTrue(t, strings.Contains(err.Error(), "arg"), "expected an arg-count error")
}
