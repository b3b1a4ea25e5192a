// Package gitsync implements Git Sync (spec §4.5): clone/pull/push/branch/
// merge wrappers around a working tree, with retry on network operations
// and a two-phase-commit-shaped ghost-branch workflow for isolating
// AI-generated mutations. Adapts internal/adapters/git wholesale — the
// run/runWithOutput timeout-to-DomainError mapping and the core.GitClient
// interface shape — and adds the backoff retry policy and ghost-branch
// machinery the teacher's client does not have.
package gitsync

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/quorumforge/aiorch/internal/core"
	"github.com/quorumforge/aiorch/internal/logging"
)

// Timeouts for network operations (spec §5).
const (
	CloneTimeout = 300 * time.Second
	PullTimeout  = 60 * time.Second
	PushTimeout  = 120 * time.Second
)

// Credentials carries a short-lived token for an HTTPS Git host. Never
// written to disk; injected into the clone URL for the duration of a
// single operation only (spec §4.5).
type Credentials struct {
	Username string
	Token    string
}

// CloneResult is the outcome of a successful clone (spec §4.5).
type CloneResult struct {
	CommitHash string
	FileCount  int
}

// Service is the Git Sync component. It wraps a core.GitClientFactory for
// already-cloned repositories and handles `clone` itself, since cloning
// creates the working tree the factory operates on.
type Service struct {
	factory core.GitClientFactory
	logger  *logging.Logger
	gitPath string
}

// New constructs a Service. factory produces a core.GitClient bound to an
// existing repository path (e.g. internal/adapters/git.ClientFactory).
func New(factory core.GitClientFactory, logger *logging.Logger) *Service {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		gitPath = "git"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{factory: factory, logger: logger, gitPath: gitPath}
}

func retryBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, 2) // base 2s, cap 3 attempts total
}

// withRetry runs fn with exponential backoff (base 2s, cap 3 attempts),
// applied only to network operations (spec §4.5). Non-retryable
// DomainErrors (e.g. PRECONDITION) short-circuit immediately.
func (s *Service) withRetry(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	wrapped := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if core.IsKind(err, core.KindPrecondition) || core.IsKind(err, core.KindAlreadyInitialized) || core.IsKind(err, core.KindDenied) {
			return backoff.Permanent(err)
		}
		s.logger.Warn("git operation failed, retrying", "op", op, "attempt", attempt)
		return err
	}
	return backoff.Retry(wrapped, backoff.WithContext(retryBackoff(), ctx))
}

// buildAuthURL injects creds into remoteURL for HTTPS providers. The
// result is only ever passed to the git subprocess argument list, never
// logged or persisted (P4).
func buildAuthURL(remoteURL string, creds *Credentials) (string, error) {
	if creds == nil || creds.Token == "" {
		return remoteURL, nil
	}
	u, err := url.Parse(remoteURL)
	if err != nil {
		return "", core.ErrPrecondition("INVALID_REMOTE_URL", "remote URL is not parseable")
	}
	if u.Scheme != "https" {
		return remoteURL, nil
	}
	user := creds.Username
	if user == "" {
		user = "oauth2"
	}
	u.User = url.UserPassword(user, creds.Token)
	return u.String(), nil
}

// Clone clones url into path at branch, injecting short-lived HTTPS
// credentials into the clone URL only (never written to disk). Idempotent:
// cloning over an existing repo returns ALREADY_INITIALIZED (spec §4.5).
func (s *Service) Clone(ctx context.Context, remoteURL, path, branch string, creds *Credentials) (*CloneResult, error) {
	if _, err := s.factory.NewClient(path); err == nil {
		return nil, core.ErrAlreadyInitialized(fmt.Sprintf("repository already initialized at %s", path))
	}

	authedURL, err := buildAuthURL(remoteURL, creds)
	if err != nil {
		return nil, err
	}

	var result *CloneResult
	err = s.withRetry(ctx, "clone", func() error {
		cctx, cancel := context.WithTimeout(ctx, CloneTimeout)
		defer cancel()

		args := []string{"clone", "--quiet"}
		if branch != "" {
			args = append(args, "--branch", branch)
		}
		args = append(args, authedURL, path)

		cmd := exec.CommandContext(cctx, s.gitPath, args...)
		if err := cmd.Run(); err != nil {
			if cctx.Err() == context.DeadlineExceeded {
				return core.ErrTimeout("git clone timed out")
			}
			return core.ErrExternal("CLONE_FAILED", "git clone failed").WithCause(redactURL(err, authedURL, remoteURL))
		}

		client, err := s.factory.NewClient(path)
		if err != nil {
			return core.ErrExternal("CLONE_VERIFY_FAILED", "cloned repository failed verification").WithCause(err)
		}
		hash, err := client.RepoRoot(cctx)
		_ = hash
		commits, err := client.Log(cctx, 1)
		commitHash := ""
		if err == nil && len(commits) > 0 {
			commitHash = commits[0].Hash
		}
		fileCount := countFiles(path)
		result = &CloneResult{CommitHash: commitHash, FileCount: fileCount}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// redactURL ensures a credential-bearing URL never leaks into an error
// message (P4): the error's string form is scrubbed back to the original,
// credential-free remote URL before it can reach a log line.
func redactURL(err error, authedURL, cleanURL string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), authedURL, cleanURL))
}

// countFiles walks path and counts regular files, ignoring .git internals.
// Best-effort: a walk error simply stops the count where it occurred.
func countFiles(root string) int {
	n := 0
	_ = filepath.Walk(root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		n++
		return nil
	})
	return n
}
