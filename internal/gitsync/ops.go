package gitsync

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/quorumforge/aiorch/internal/core"
)

// clientFor binds a core.GitClient to path, translating factory failures
// into a PRECONDITION (the path is not a git repository).
func (s *Service) clientFor(path string) (core.GitClient, error) {
	client, err := s.factory.NewClient(path)
	if err != nil {
		return nil, core.ErrPrecondition("NOT_GIT_REPO", fmt.Sprintf("%s is not a git repository", path))
	}
	return client, nil
}

// Fetch fetches from origin (network operation, retried).
func (s *Service) Fetch(ctx context.Context, path string) error {
	client, err := s.clientFor(path)
	if err != nil {
		return err
	}
	return s.withRetry(ctx, "fetch", func() error {
		cctx, cancel := context.WithTimeout(ctx, PullTimeout)
		defer cancel()
		return client.Fetch(cctx, "origin")
	})
}

// Pull fetches and merges origin's current branch (network operation,
// retried; spec §4.5/§5: 60s timeout).
func (s *Service) Pull(ctx context.Context, path string) error {
	client, err := s.clientFor(path)
	if err != nil {
		return err
	}
	branch, err := client.CurrentBranch(ctx)
	if err != nil {
		return err
	}
	return s.withRetry(ctx, "pull", func() error {
		cctx, cancel := context.WithTimeout(ctx, PullTimeout)
		defer cancel()
		return client.Pull(cctx, "origin", branch)
	})
}

// Status returns the working tree status (local operation, not retried).
func (s *Service) Status(ctx context.Context, path string) (*core.GitStatus, error) {
	client, err := s.clientFor(path)
	if err != nil {
		return nil, err
	}
	return client.Status(ctx)
}

// Log returns the last n commits (local operation).
func (s *Service) Log(ctx context.Context, path string, n int) ([]core.GitCommit, error) {
	client, err := s.clientFor(path)
	if err != nil {
		return nil, err
	}
	return client.Log(ctx, n)
}

// Diff returns the diff between base and head, or the staged diff against
// HEAD when cached is true and base/head are empty (local operation).
func (s *Service) Diff(ctx context.Context, path string, base, head string, cached bool) (string, error) {
	client, err := s.clientFor(path)
	if err != nil {
		return "", err
	}
	if cached && base == "" && head == "" {
		return client.Diff(ctx, "HEAD", "")
	}
	return client.Diff(ctx, base, head)
}

// Branches lists local branches (local operation).
func (s *Service) Branches(ctx context.Context, path string) ([]string, error) {
	client, err := s.clientFor(path)
	if err != nil {
		return nil, err
	}
	return client.ListBranches(ctx)
}

// Checkout switches to (optionally creating) a branch (local operation).
func (s *Service) Checkout(ctx context.Context, path, name string, create bool) error {
	client, err := s.clientFor(path)
	if err != nil {
		return err
	}
	return client.Checkout(ctx, name, create)
}

// Merge merges source into target, checking target out first. Returns the
// conflicted paths as data rather than an exception (spec §9's explicit
// redesign note), so the Workflow Engine can decide how to proceed.
func (s *Service) Merge(ctx context.Context, path, source, target string) (conflicts []string, err error) {
	client, err := s.clientFor(path)
	if err != nil {
		return nil, err
	}
	if err := client.Checkout(ctx, target, false); err != nil {
		return nil, err
	}
	mergeErr := client.Merge(ctx, source, core.MergeOptions{})
	if mergeErr == nil {
		return nil, nil
	}
	files, confErr := client.GetConflictFiles(ctx)
	if confErr != nil || len(files) == 0 {
		return nil, mergeErr
	}
	return files, nil
}

// CommitAndPush commits all pending changes on branch with message, then
// pushes (network operation for the push leg, retried; spec §4.5: 120s).
func (s *Service) CommitAndPush(ctx context.Context, path, branch, message string) error {
	client, err := s.clientFor(path)
	if err != nil {
		return err
	}
	if _, err := client.CommitAll(ctx, message); err != nil {
		return err
	}
	return s.withRetry(ctx, "push", func() error {
		cctx, cancel := context.WithTimeout(ctx, PushTimeout)
		defer cancel()
		return client.Push(cctx, "origin", branch)
	})
}

// CreateGhostBranch creates a uniquely named branch off base, used to
// isolate AI-generated mutations before merging back (spec §4.5/GLOSSARY).
func (s *Service) CreateGhostBranch(ctx context.Context, path, base string) (string, error) {
	client, err := s.clientFor(path)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("ghost/%s/%s", base, uuid.NewString()[:8])
	if err := client.CreateBranch(ctx, name, base); err != nil {
		return "", err
	}
	return name, nil
}

// MergeGhost merges a ghost branch into target and reports conflicted
// paths on failure rather than surfacing an exception (spec §4.5/§9: a
// two-phase commit — Merge attempts the phase-two merge, and the ghost
// branch is cleaned up only once it is no longer needed). The ghost
// branch itself is left in place on conflict so the caller can inspect or
// retry; it is deleted only on a clean merge.
func (s *Service) MergeGhost(ctx context.Context, path, ghost, target string) (conflicts []string, err error) {
	client, err := s.clientFor(path)
	if err != nil {
		return nil, err
	}
	conflicts, err = s.Merge(ctx, path, ghost, target)
	if err != nil {
		return conflicts, err
	}
	if len(conflicts) > 0 {
		return conflicts, nil
	}
	_ = client.DeleteBranchForce(ctx, ghost)
	return nil, nil
}
