//go:build !prod

package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samzong/qualgate/internal/gitutil"
)

// TestRepo is a throwaway repository used by integration tests.
type TestRepo struct {
	t   *testing.T
	Dir string
}

// RequireGit skips the test when git is not installed.
func RequireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

// NewTestRepo initializes an empty repository in a temp directory that
// is removed when the test ends.
func NewTestRepo(t *testing.T) *TestRepo {
	t.Helper()
	RequireGit(t)

	dir, err := os.MkdirTemp("", "qualgate_git_test_*")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	t.Cleanup(func() {
		if err := os.RemoveAll(dir); err != nil {
			t.Errorf("Warning: Failed to remove temp directory: %v", err)
		}
	})

	// Resolve symlinks so paths compare equal to what git reports (macOS /var).
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}

	repo := &TestRepo{t: t, Dir: dir}
	repo.Git("init", "--quiet", "--initial-branch=main")
	repo.Git("config", "user.name", "Test")
	repo.Git("config", "user.email", "test@test.com")
	repo.Git("config", "commit.gpgsign", "false")
	return repo
}

// Git runs a git command in the repository and returns trimmed stdout.
func (r *TestRepo) Git(args ...string) string {
	r.t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = r.Dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.Output()
	if err != nil {
		stderr := ""
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = string(exitErr.Stderr)
		}
		r.t.Fatalf("git %s failed: %v\n%s", strings.Join(args, " "), err, stderr)
	}
	return strings.TrimSpace(string(out))
}

// Write creates or replaces a file relative to the repository root.
func (r *TestRepo) Write(path, content string) {
	r.t.Helper()
	full := filepath.Join(r.Dir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		r.t.Fatalf("Failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		r.t.Fatalf("Failed to write %s: %v", path, err)
	}
}

// Remove deletes a file relative to the repository root.
func (r *TestRepo) Remove(path string) {
	r.t.Helper()
	if err := os.Remove(filepath.Join(r.Dir, path)); err != nil {
		r.t.Fatalf("Failed to remove %s: %v", path, err)
	}
}

// Commit stages everything and commits it, returning the new hash.
func (r *TestRepo) Commit(message string) string {
	r.t.Helper()
	r.Git("add", "-A")
	r.Git("commit", "--quiet", "--allow-empty", "-m", message)
	return r.Git("rev-parse", "HEAD")
}

// CommitFile writes a single file and commits it.
func (r *TestRepo) CommitFile(path, content, message string) string {
	r.t.Helper()
	r.Write(path, content)
	return r.Commit(message)
}

// Merge merges branch into the current branch with a merge commit.
func (r *TestRepo) Merge(branch string) string {
	r.t.Helper()
	r.Git("merge", "--quiet", "--no-ff", "--no-edit", branch)
	return r.Git("rev-parse", "HEAD")
}

// DiffIndex returns the raw diff-index listing of the tree against HEAD.
// Tests use it to prove the source tree was left untouched.
func (c *Client) DiffIndex(ctx context.Context) (string, error) {
	result, err := c.runner.Run(ctx, "diff-index", "HEAD", "--")
	if err != nil {
		return "", gitutil.WrapGitError("failed to compare tree with HEAD", result, err)
	}
	return result.StdoutString(false), nil
}
