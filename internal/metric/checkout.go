package metric

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/samzong/qualgate/internal/git"
	"github.com/samzong/qualgate/internal/worktree"
)

// Release gives a checkout back once the tool is done with it.
type Release func() error

// Checkouter materializes a commit on disk for a tool to analyze.
type Checkouter interface {
	Checkout(ctx context.Context, commit, label string) (dir string, release Release, err error)
}

// SharedCheckout reuses the workspace clone for every run. Runs are
// serialized; the tree is reset and scrubbed before each one so a tool
// never sees artifacts of the previous run.
type SharedCheckout struct {
	client *git.Client
	mu     sync.Mutex
}

func NewSharedCheckout(client *git.Client) *SharedCheckout {
	return &SharedCheckout{client: client}
}

func (s *SharedCheckout) Checkout(ctx context.Context, commit, _ string) (string, Release, error) {
	s.mu.Lock()
	if err := s.client.ResetHard(ctx, commit); err != nil {
		s.mu.Unlock()
		return "", nil, err
	}
	if err := s.client.Clean(ctx); err != nil {
		s.mu.Unlock()
		return "", nil, err
	}
	var once sync.Once
	return s.client.Dir(), func() error {
		once.Do(s.mu.Unlock)
		return nil
	}, nil
}

// WorktreeCheckout gives every run its own detached worktree under root,
// so runs may proceed concurrently.
type WorktreeCheckout struct {
	worktrees *worktree.Client
	root      string
	seq       atomic.Int64
}

func NewWorktreeCheckout(client *git.Client, root string) *WorktreeCheckout {
	return &WorktreeCheckout{worktrees: worktree.NewClient(client), root: root}
}

func (w *WorktreeCheckout) Checkout(ctx context.Context, commit, label string) (string, Release, error) {
	path := filepath.Join(w.root, fmt.Sprintf("%03d-%s", w.seq.Add(1), sanitize(label)))
	if err := w.worktrees.AddDetached(ctx, path, commit); err != nil {
		return "", nil, err
	}
	return path, func() error {
		return w.release(context.WithoutCancel(ctx), path)
	}, nil
}

// release removes a run's worktree. When git refuses, the directory is
// deleted by hand and the stale registration pruned.
func (w *WorktreeCheckout) release(ctx context.Context, path string) error {
	err := w.worktrees.Remove(ctx, path)
	if err == nil {
		return nil
	}
	if rmErr := os.RemoveAll(path); rmErr != nil {
		return errors.Join(err, rmErr)
	}
	return w.worktrees.Prune(ctx)
}

// Cleanup removes per-run worktrees still registered under root, such as
// those of runs interrupted before release, and prunes the rest. It
// returns how many worktrees were left behind.
func (w *WorktreeCheckout) Cleanup(ctx context.Context) (int, error) {
	list, err := w.worktrees.List(ctx)
	if err != nil {
		return 0, err
	}
	roots := []string{w.root}
	if resolved, err := filepath.EvalSymlinks(w.root); err == nil && resolved != w.root {
		roots = append(roots, resolved)
	}

	var leftover int
	var errs []error
	for _, wt := range list {
		if wt.IsBare || !underAny(wt.Path, roots) {
			continue
		}
		leftover++
		if err := w.release(ctx, wt.Path); err != nil {
			errs = append(errs, err)
		}
	}
	if err := w.worktrees.Prune(ctx); err != nil {
		errs = append(errs, err)
	}
	return leftover, errors.Join(errs...)
}

func underAny(path string, roots []string) bool {
	for _, root := range roots {
		if strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func sanitize(label string) string {
	out := []rune(label)
	for i, r := range out {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
		default:
			out[i] = '_'
		}
	}
	if len(out) == 0 {
		return "run"
	}
	return string(out)
}
