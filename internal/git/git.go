package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/samzong/qualgate/internal/gitcmd"
	"github.com/samzong/qualgate/internal/gitutil"
	"github.com/samzong/qualgate/internal/stringsutil"
)

var (
	// ErrUnknownRevision is returned when a revision does not name a commit.
	ErrUnknownRevision = errors.New("unknown revision")
	// ErrNoMergeBase is returned when two commits share no ancestor.
	ErrNoMergeBase = errors.New("no merge base")
)

// Identity used for commits created inside isolated workspaces.
const (
	CommitterName  = "qualgate"
	CommitterEmail = "qualgate@localhost"
)

type Options struct {
	Verbose bool
	Dir     string
	Logger  *slog.Logger
}

// Client runs git plumbing against a single repository directory.
type Client struct {
	runner gitcmd.Runner
}

func NewClient(opts Options) *Client {
	return &Client{
		runner: gitcmd.Runner{Verbose: opts.Verbose, Dir: opts.Dir, Logger: opts.Logger},
	}
}

// Dir returns the directory git commands run in.
func (c *Client) Dir() string {
	return c.runner.Dir
}

// At returns a client for another directory sharing this client's settings.
func (c *Client) At(dir string) *Client {
	return &Client{runner: c.runner.In(dir)}
}

// Runner exposes the underlying command runner.
func (c *Client) Runner() gitcmd.Runner {
	return c.runner
}

// IsGitRepository reports whether Dir is inside a git work tree.
func (c *Client) IsGitRepository(ctx context.Context) bool {
	result, err := c.runner.Run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && result.StdoutString(true) == "true"
}

// TopLevel returns the absolute root of the work tree.
func (c *Client) TopLevel(ctx context.Context) (string, error) {
	result, err := c.runner.Run(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", gitutil.WrapGitError("not a git repository", result, err)
	}
	return result.StdoutString(true), nil
}

// IsShallow reports whether the repository has a truncated history.
func (c *Client) IsShallow(ctx context.Context) bool {
	result, err := c.runner.Run(ctx, "rev-parse", "--is-shallow-repository")
	return err == nil && result.StdoutString(true) == "true"
}

// GitPath resolves a path inside the git directory, e.g. "shallow".
func (c *Client) GitPath(ctx context.Context, name string) (string, error) {
	result, err := c.runner.Run(ctx, "rev-parse", "--git-path", name)
	if err != nil {
		return "", gitutil.WrapGitError("failed to locate "+name, result, err)
	}
	path := result.StdoutString(true)
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.runner.Dir, path)
	}
	return path, nil
}

// ResolveCommit returns the full hash of the commit rev names.
func (c *Client) ResolveCommit(ctx context.Context, rev string) (string, error) {
	result, err := c.runner.RunLogged(ctx, "rev-parse", "--verify", "--quiet", rev+"^{commit}")
	if err != nil {
		if gitutil.ExitCode(err) == 1 {
			return "", fmt.Errorf("%w: %s", ErrUnknownRevision, rev)
		}
		return "", gitutil.WrapGitError("failed to resolve "+rev, result, err)
	}
	return result.StdoutString(true), nil
}

// Head returns the hash HEAD points at.
func (c *Client) Head(ctx context.Context) (string, error) {
	return c.ResolveCommit(ctx, "HEAD")
}

// HasCommit reports whether the object database contains the commit.
func (c *Client) HasCommit(ctx context.Context, hash string) bool {
	_, err := c.runner.Run(ctx, "cat-file", "-e", hash+"^{commit}")
	return err == nil
}

// MergeBase returns git's canonical best common ancestor of a and b.
func (c *Client) MergeBase(ctx context.Context, a, b string) (string, error) {
	result, err := c.runner.RunLogged(ctx, "merge-base", a, b)
	if err != nil {
		if gitutil.ExitCode(err) == 1 && result.StderrString(true) == "" {
			return "", fmt.Errorf("%w between %s and %s", ErrNoMergeBase, stringsutil.ShortHash(a, 8, a), stringsutil.ShortHash(b, 8, b))
		}
		return "", gitutil.WrapGitError("failed to compute merge base", result, err)
	}
	return result.StdoutString(true), nil
}

// DiffNames lists paths that differ between two commits, in git's order.
func (c *Client) DiffNames(ctx context.Context, from, to string) ([]string, error) {
	result, err := c.runner.RunLogged(ctx, "diff", "--name-only", "--no-renames", "-z", from, to, "--")
	if err != nil {
		return nil, gitutil.WrapGitError("failed to list changed files", result, err)
	}
	return stringsutil.SplitNonEmpty(string(result.Stdout), "\x00"), nil
}

// StashCreate records the working tree and index as a dangling stash
// commit without touching either. It returns "" when the tree is clean.
func (c *Client) StashCreate(ctx context.Context) (string, error) {
	result, err := c.withIdentity().RunLogged(ctx, "stash", "create")
	if err != nil {
		return "", gitutil.WrapGitError("failed to snapshot uncommitted changes", result, err)
	}
	return result.StdoutString(true), nil
}

// DiffBinary returns a binary-safe unified diff between two commits.
func (c *Client) DiffBinary(ctx context.Context, from, to string) ([]byte, error) {
	result, err := c.runner.RunLogged(ctx, "diff", "--binary", "--no-color", "--no-ext-diff", from, to)
	if err != nil {
		return nil, gitutil.WrapGitError("failed to export patch", result, err)
	}
	return result.Stdout, nil
}

// ApplyToIndex applies a patch file to both the index and the work tree.
func (c *Client) ApplyToIndex(ctx context.Context, patchPath string) error {
	result, err := c.runner.RunLogged(ctx, "apply", "--index", "--binary", "--whitespace=nowarn", patchPath)
	if err != nil {
		return gitutil.WrapGitError("failed to apply patch", result, err)
	}
	return nil
}

// Commit records the index as a new commit under the workspace identity.
func (c *Client) Commit(ctx context.Context, message string, args ...string) error {
	commitArgs := append([]string{"commit", "--quiet", "--no-verify", "--no-gpg-sign", "-m", message}, args...)
	result, err := c.withIdentity().RunLogged(ctx, commitArgs...)
	if err != nil {
		return gitutil.WrapGitError("failed to commit", result, err)
	}
	return nil
}

// withIdentity supplies an author so commit-creating plumbing works on
// machines without user.name configured.
func (c *Client) withIdentity() gitcmd.Runner {
	return c.runner.WithEnv(
		"GIT_AUTHOR_NAME="+CommitterName,
		"GIT_AUTHOR_EMAIL="+CommitterEmail,
		"GIT_COMMITTER_NAME="+CommitterName,
		"GIT_COMMITTER_EMAIL="+CommitterEmail,
	)
}

// ResetHard moves HEAD, index and work tree to rev.
func (c *Client) ResetHard(ctx context.Context, rev string) error {
	result, err := c.runner.RunLogged(ctx, "reset", "--quiet", "--hard", rev)
	if err != nil {
		return gitutil.WrapGitError("failed to reset to "+rev, result, err)
	}
	return nil
}

// Clean removes every untracked and ignored file.
func (c *Client) Clean(ctx context.Context) error {
	result, err := c.runner.RunLogged(ctx, "clean", "-q", "-x", "-d", "-f")
	if err != nil {
		return gitutil.WrapGitError("failed to clean work tree", result, err)
	}
	return nil
}

// Fetch fetches from a remote, optionally limited to depth commits.
func (c *Client) Fetch(ctx context.Context, remote string, depth int, refs ...string) error {
	args := []string{"fetch", "--quiet", "--no-tags"}
	if depth > 0 {
		args = append(args, "--depth", strconv.Itoa(depth))
	}
	args = append(args, remote)
	args = append(args, refs...)
	result, err := c.runner.RunLogged(ctx, args...)
	if err != nil {
		return gitutil.WrapGitError("failed to fetch from "+remote, result, err)
	}
	return nil
}

// Unshallow fetches the complete history of a shallow repository.
func (c *Client) Unshallow(ctx context.Context, remote string) error {
	result, err := c.runner.RunLogged(ctx, "fetch", "--quiet", "--no-tags", "--unshallow", remote)
	if err != nil {
		return gitutil.WrapGitError("failed to deepen history", result, err)
	}
	return nil
}

// Clone clones url into dest. A positive depth makes the clone shallow.
func (c *Client) Clone(ctx context.Context, url, dest string, depth int) error {
	args := []string{"clone", "--quiet", "--no-tags"}
	if depth > 0 {
		args = append(args, "--depth", strconv.Itoa(depth))
	}
	args = append(args, "--", url, dest)
	result, err := c.runner.RunLogged(ctx, args...)
	if err != nil {
		return gitutil.WrapGitError("git clone failed", result, err)
	}
	return nil
}
