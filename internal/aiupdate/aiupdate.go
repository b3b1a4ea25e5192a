package aiupdate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/quorumforge/aiorch/internal/core"
	"github.com/quorumforge/aiorch/internal/logging"
	"github.com/quorumforge/aiorch/internal/swarm"
)

// Dispatcher is the narrow slice of internal/swarm.Dispatcher the AI Update
// Service depends on, mirroring the access.UserTenantLookup pattern: it
// lets this package be unit tested against a fake without depending on the
// Agent Swarm Dispatcher's construction.
type Dispatcher interface {
	Act(ctx context.Context, task *core.AgentTask, taskContext map[string]interface{}) (*swarm.Result, error)
}

// Selection bounds an inline edit to a line range within a file (spec
// §4.6: "only the target file and the selection window are sent").
type Selection struct {
	StartLine int
	EndLine   int
}

// FileWrite records the outcome of one file in a Chat update (spec §4.6:
// "file writes are atomic per file; on a failure partway through, files
// already written remain written").
type FileWrite struct {
	Path  string
	Bytes int
}

// Result is the outcome of ApplyChat.
type Result struct {
	Success   bool
	Summary   string
	Files     []FileWrite
	ErrorKind core.ErrorKind
}

// InlineResult is the outcome of ApplyInline.
type InlineResult struct {
	Success    bool
	NewContent string
}

// Service is the AI Update Service (spec §4.6): translates a natural
// language edit request into file mutations scoped to a single workspace.
type Service struct {
	dispatcher Dispatcher
	logger     *logging.Logger
}

// New constructs a Service delegating model calls to dispatcher.
func New(dispatcher Dispatcher, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{dispatcher: dispatcher, logger: logger}
}

// ApplyChat implements "applyChat(projectId, path, prompt, context) ->
// {success, summary, files, errorKind?}" (spec §4.6). path is the
// workspace root every written file must resolve within (P8); prompt is
// classified into a task kind by keyword before dispatch.
func (s *Service) ApplyChat(ctx context.Context, projectID, path, prompt string, taskContext map[string]interface{}) (*Result, error) {
	absRoot, err := filepath.Abs(path)
	if err != nil {
		return nil, core.ErrInternal("", "resolving workspace root").WithCause(err)
	}

	task := &core.AgentTask{
		ID:      projectID,
		Kind:    classifyKind(prompt),
		Prompt:  prompt,
		Context: taskContext,
		State:   core.AgentTaskPending,
	}

	out, err := s.dispatcher.Act(ctx, task, taskContext)
	if err != nil {
		return nil, err
	}

	blocks := ParseFileBlocks(out.Solution)
	if len(blocks) == 0 {
		return &Result{Success: true, Summary: out.Solution}, nil
	}

	result := &Result{Summary: summarize(out.Solution, len(blocks))}
	for _, b := range blocks {
		abs, verr := resolveScoped(absRoot, b.Path)
		if verr != nil {
			result.ErrorKind = core.KindPrecondition
			result.Summary = fmt.Sprintf("refused to write %s: %v", b.Path, verr)
			s.logger.Warn("ai update path rejected", "project_id", projectID, "path", b.Path, "err", verr)
			return result, nil
		}
		if werr := writeFileAtomic(abs, b.Content); werr != nil {
			return nil, core.ErrInternal("", "writing ai update file").WithCause(werr)
		}
		result.Files = append(result.Files, FileWrite{Path: b.Path, Bytes: len(b.Content)})
	}
	result.Success = true
	return result, nil
}

// ApplyInline implements "applyInline(path, filePath, prompt, selection) ->
// {success, newContent}" (spec §4.6): only filePath's current content
// (optionally narrowed to selection) is sent to the model, and the file is
// replaced atomically on success.
func (s *Service) ApplyInline(ctx context.Context, path, filePath, prompt string, selection *Selection) (*InlineResult, error) {
	absRoot, err := filepath.Abs(path)
	if err != nil {
		return nil, core.ErrInternal("", "resolving workspace root").WithCause(err)
	}
	abs, err := resolveScoped(absRoot, filePath)
	if err != nil {
		return nil, core.ErrPrecondition("PATH_ESCAPE", err.Error())
	}

	current, err := os.ReadFile(abs)
	if err != nil {
		return nil, core.ErrNotFound("FILE_NOT_FOUND", "target file not found").WithCause(err)
	}

	window, before, after := windowContent(string(current), selection)

	task := &core.AgentTask{
		ID:     filePath,
		Kind:   core.TaskFix,
		Prompt: prompt,
		Context: map[string]interface{}{
			"file_path": filePath,
			"content":   window,
		},
		State: core.AgentTaskPending,
	}

	out, err := s.dispatcher.Act(ctx, task, task.Context)
	if err != nil {
		return nil, err
	}

	newContent := before + strings.TrimSuffix(out.Solution, "\n") + "\n" + after
	if err := writeFileAtomic(abs, newContent); err != nil {
		return nil, core.ErrInternal("", "writing inline update").WithCause(err)
	}
	return &InlineResult{Success: true, NewContent: newContent}, nil
}

// windowContent splits content into the selected window plus the
// untouched prefix/suffix, so an inline edit can be spliced back in place.
func windowContent(content string, sel *Selection) (window, before, after string) {
	if sel == nil {
		return content, "", ""
	}
	lines := strings.Split(content, "\n")
	start := sel.StartLine - 1
	end := sel.EndLine
	if start < 0 {
		start = 0
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start >= end {
		return content, "", ""
	}
	before = strings.Join(lines[:start], "\n")
	if before != "" {
		before += "\n"
	}
	window = strings.Join(lines[start:end], "\n")
	after = strings.Join(lines[end:], "\n")
	return window, before, after
}

// resolveScoped validates that rel resolves to a path inside root (P8:
// "AI-update writes never escape workspace root") and returns the
// absolute path to write to. Rejects absolute paths and any ".."
// traversal that would leave root.
func resolveScoped(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute paths are not permitted: %s", rel)
	}
	cleaned := filepath.Clean(filepath.Join(root, rel))
	rootWithSep := root
	if !strings.HasSuffix(rootWithSep, string(filepath.Separator)) {
		rootWithSep += string(filepath.Separator)
	}
	if cleaned != root && !strings.HasPrefix(cleaned, rootWithSep) {
		return "", fmt.Errorf("path escapes workspace root: %s", rel)
	}
	return cleaned, nil
}

// writeFileAtomic writes content to abs via temp-file-then-rename,
// creating parent directories as needed, matching the teacher's atomic
// write idiom used elsewhere for cache/config files.
func writeFileAtomic(abs, content string) error {
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(abs, []byte(content), 0o644)
}

// classifyKind maps a free-form prompt to an AgentTaskKind by keyword
// (spec §4.6: "classified as FIX, REFACTOR, or GENERATE by keyword before
// dispatch, defaulting to GENERATE").
func classifyKind(prompt string) core.AgentTaskKind {
	lower := strings.ToLower(prompt)
	switch {
	case containsAny(lower, "fix", "bug", "error", "broken", "crash"):
		return core.TaskFix
	case containsAny(lower, "refactor", "rename", "clean up", "restructure", "simplify"):
		return core.TaskRefactor
	case containsAny(lower, "test", "spec", "coverage"):
		return core.TaskTest
	case containsAny(lower, "document", "docstring", "comment"):
		return core.TaskDoc
	default:
		return core.TaskGenerate
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func summarize(solution string, fileCount int) string {
	first := solution
	if idx := strings.Index(solution, "FILE:"); idx > 0 {
		first = solution[:idx]
	}
	first = strings.TrimSpace(first)
	if first == "" {
		return fmt.Sprintf("updated %d file(s)", fileCount)
	}
	return first
}
