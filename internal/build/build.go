// Package build implements the Build Service the Workflow Engine's
// "build" step dispatches to (spec §4.3: build->BuildService.build). No
// component of the source names a build step explicitly; this follows the
// same direct-subprocess idiom internal/adapters/git.Client uses for git
// itself, run against a project's own build tooling instead.
package build

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/quorumforge/aiorch/internal/core"
	"github.com/quorumforge/aiorch/internal/logging"
)

// defaultCommandFor maps a project's declared language/framework to the
// build invocation run in its workspace when the caller does not supply
// one explicitly via workflow config. Unknown languages fall back to a
// no-op success so a workflow can still include a "build" step for
// languages this table does not know about.
var defaultCommandFor = map[string][]string{
	"go":         {"go", "build", "./..."},
	"node":       {"npm", "run", "build"},
	"javascript": {"npm", "run", "build"},
	"typescript": {"npm", "run", "build"},
	"python":     {"python", "-m", "py_compile", "."},
	"rust":       {"cargo", "build"},
	"java":       {"mvn", "-q", "compile"},
}

// Result is the outcome of a Build call.
type Result struct {
	Success  bool
	ExitCode int
	Stdout   string
	Stderr   string
	Command  []string
}

// Timeout bounds a single build invocation. Not named by spec §5's
// timeout table (which only covers Git/container/LLM operations); a build
// is treated as a long-running local subprocess with a generous cap.
const Timeout = 10 * time.Minute

// Service runs a project's build command as a local subprocess rooted at
// the project's workspace.
type Service struct {
	logger *logging.Logger
}

// New constructs a Service.
func New(logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{logger: logger}
}

// Build runs the build command for localPath, preferring an explicit
// command over the language-derived default. Fails with PRECONDITION if
// neither is available.
func (s *Service) Build(ctx context.Context, projectID, localPath, language string, command []string) (*Result, error) {
	if len(command) == 0 {
		command = defaultCommandFor[strings.ToLower(language)]
	}
	if len(command) == 0 {
		return &Result{Success: true, Command: nil}, nil
	}

	absPath, err := filepath.Abs(localPath)
	if err != nil {
		return nil, core.ErrInternal("", "resolving build workspace").WithCause(err)
	}

	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = absPath

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.logger.WithProject(projectID).Info("build starting", "command", strings.Join(command, " "))
	runErr := cmd.Run()

	result := &Result{
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
		Command: command,
	}

	if ctx.Err() == context.DeadlineExceeded {
		return result, core.ErrTimeout("build command timed out")
	}
	if runErr != nil {
		exitErr, ok := runErr.(*exec.ExitError)
		if ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, core.ErrExternal("BUILD_EXEC_FAILED", fmt.Sprintf("running build command: %v", runErr))
		}
		return result, nil
	}

	result.Success = true
	return result, nil
}
