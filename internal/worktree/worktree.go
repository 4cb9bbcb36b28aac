// Package worktree manages detached linked worktrees of a repository so
// several commits can be checked out side by side.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samzong/qualgate/internal/git"
	"github.com/samzong/qualgate/internal/gitcmd"
	"github.com/samzong/qualgate/internal/gitutil"
)

// Info represents information about a worktree
type Info struct {
	Path       string // Absolute path to the worktree
	Branch     string // Branch name
	Commit     string // Current commit hash
	IsPrunable bool   // Can be pruned
	IsLocked   bool   // Is locked
	IsBare     bool   // Is the main bare worktree
	IsDetached bool
}

// Client adds and removes worktrees of one repository.
type Client struct {
	runner gitcmd.Runner
}

// NewClient binds a worktree client to the repository behind repo.
func NewClient(repo *git.Client) *Client {
	return &Client{runner: repo.Runner()}
}

// List returns all worktrees of the repository, the main one first.
func (c *Client) List(ctx context.Context) ([]Info, error) {
	result, err := c.runner.RunLogged(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, gitutil.WrapGitError("failed to list worktrees", result, err)
	}
	return parseWorktreeList(string(result.Stdout))
}

// parseWorktreeList parses the porcelain output of git worktree list
func parseWorktreeList(output string) ([]Info, error) {
	var worktrees []Info
	var current *Info

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			if current != nil {
				worktrees = append(worktrees, *current)
				current = nil
			}
			continue
		}

		if path, ok := strings.CutPrefix(line, "worktree "); ok {
			if current != nil {
				worktrees = append(worktrees, *current)
			}
			current = &Info{Path: path}
			continue
		}
		if current == nil {
			return nil, fmt.Errorf("unexpected worktree list line %q", line)
		}

		switch {
		case strings.HasPrefix(line, "HEAD "):
			current.Commit = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "bare":
			current.IsBare = true
		case line == "detached":
			current.IsDetached = true
		case strings.HasPrefix(line, "prunable"):
			current.IsPrunable = true
		case strings.HasPrefix(line, "locked"):
			current.IsLocked = true
		}
	}

	if current != nil {
		worktrees = append(worktrees, *current)
	}
	return worktrees, nil
}

// AddDetached checks commit out at path without creating a branch. The
// parent of path is created when missing; path itself must not exist.
func (c *Client) AddDetached(ctx context.Context, path, commit string) error {
	if path == "" {
		return errors.New("worktree path cannot be empty")
	}
	if err := gitutil.ValidateCommittish(commit); err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("worktree path already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create worktree parent: %w", err)
	}

	result, err := c.runner.RunLogged(ctx, "worktree", "add", "--quiet", "--detach", path, commit)
	if err != nil {
		return gitutil.WrapGitError("failed to create worktree", result, err)
	}
	return nil
}

// Remove deletes a worktree even when tools left files behind in it.
func (c *Client) Remove(ctx context.Context, path string) error {
	result, err := c.runner.RunLogged(ctx, "worktree", "remove", "--force", path)
	if err != nil {
		return gitutil.WrapGitError("failed to remove worktree", result, err)
	}
	return nil
}

// Prune drops administrative entries of worktrees whose directory is gone.
func (c *Client) Prune(ctx context.Context) error {
	result, err := c.runner.RunLogged(ctx, "worktree", "prune")
	if err != nil {
		return gitutil.WrapGitError("failed to prune worktrees", result, err)
	}
	return nil
}
