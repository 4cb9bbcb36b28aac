// Package workspace owns the disposable clone every comparison runs in.
package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/samzong/qualgate/internal/git"
)

// MinDepth keeps HEAD's first parent inside a shallow clone.
const MinDepth = 2

const (
	repoDirName     = "repo"
	worktreeDirName = "worktrees"
	tempPattern     = "qualgate-*"
)

// CloneError reports that the isolated clone could not be created.
type CloneError struct {
	Source string
	Err    error
}

func (e *CloneError) Error() string {
	return fmt.Sprintf("failed to clone %s into workspace: %v", e.Source, e.Err)
}

func (e *CloneError) Unwrap() error { return e.Err }

type Options struct {
	// Depth limits clone history. Zero clones everything.
	Depth   int
	Verbose bool
	Logger  *slog.Logger
	// TempDir overrides the parent of the workspace directory.
	TempDir string
}

// Workspace is a private clone of the source repository.
type Workspace struct {
	Root   string
	Dir    string
	Source string
	Depth  int

	git       *git.Client
	logger    *slog.Logger
	origWD    string
	closeOnce sync.Once
	closeErr  error
}

// Create clones source into a fresh temp directory. The caller must Close
// the workspace on every path; Create cleans up after itself on failure.
func Create(ctx context.Context, source string, opts Options) (*Workspace, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	absSource, err := filepath.Abs(source)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source path: %w", err)
	}

	depth := opts.Depth
	if depth > 0 && depth < MinDepth {
		depth = MinDepth
	}

	origWD, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}

	root, err := os.MkdirTemp(opts.TempDir, tempPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}

	ws := &Workspace{
		Root:   root,
		Dir:    filepath.Join(root, repoDirName),
		Source: absSource,
		Depth:  depth,
		git:    git.NewClient(git.Options{Verbose: opts.Verbose, Logger: logger}),
		logger: logger,
		origWD: origWD,
	}

	if err := ws.clone(ctx); err != nil {
		_ = ws.Close()
		return nil, err
	}

	logger.Debug("workspace created", "dir", ws.Dir, "depth", depth)
	return ws, nil
}

func (w *Workspace) clone(ctx context.Context) error {
	source := w.git.At(w.Source)
	marker, err := snapshotShallowMarker(ctx, source)
	if err != nil {
		return &CloneError{Source: w.Source, Err: err}
	}

	// file:// forces the transport so --depth is honored for local paths.
	cloneErr := w.git.Clone(ctx, "file://"+filepath.ToSlash(w.Source), w.Dir, w.Depth)
	if restoreErr := marker.restore(); restoreErr != nil {
		w.logger.Warn("failed to restore shallow marker", "path", marker.path, "error", restoreErr)
	}
	if cloneErr != nil {
		return &CloneError{Source: w.Source, Err: cloneErr}
	}
	return nil
}

// Git returns a client bound to the workspace clone.
func (w *Workspace) Git() *git.Client {
	return w.git.At(w.Dir)
}

// SourceGit returns a client bound to the caller's repository. Only
// read-only plumbing may be issued through it.
func (w *Workspace) SourceGit() *git.Client {
	return w.git.At(w.Source)
}

// Path returns a location inside the workspace root but outside the clone,
// so `git clean` in the clone never removes it.
func (w *Workspace) Path(elem ...string) string {
	return filepath.Join(append([]string{w.Root}, elem...)...)
}

// WorktreeRoot is where per-run checkouts are created.
func (w *Workspace) WorktreeRoot() string {
	return w.Path(worktreeDirName)
}

// IsShallow reports whether the clone has truncated history.
func (w *Workspace) IsShallow(ctx context.Context) bool {
	return w.Git().IsShallow(ctx)
}

// Deepen converts a shallow clone into a complete one.
func (w *Workspace) Deepen(ctx context.Context) error {
	if !w.IsShallow(ctx) {
		return nil
	}
	w.logger.Info("deepening workspace history")
	return w.Git().Unshallow(ctx, "origin")
}

// Close removes the workspace and returns to the caller's directory.
// Only the first call does any work.
func (w *Workspace) Close() error {
	w.closeOnce.Do(func() {
		var errs []error
		if cwd, err := os.Getwd(); err != nil || cwd != w.origWD {
			if err := os.Chdir(w.origWD); err != nil {
				errs = append(errs, fmt.Errorf("failed to restore working directory: %w", err))
			}
		}
		if err := os.RemoveAll(w.Root); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove workspace: %w", err))
		}
		w.closeErr = errors.Join(errs...)
		w.logger.Debug("workspace removed", "dir", w.Root)
	})
	return w.closeErr
}

// shallowMarker remembers the source's .git/shallow file across a clone.
type shallowMarker struct {
	path    string
	content []byte
	existed bool
}

func snapshotShallowMarker(ctx context.Context, source *git.Client) (*shallowMarker, error) {
	path, err := source.GitPath(ctx, "shallow")
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		return &shallowMarker{path: path, content: content, existed: true}, nil
	case os.IsNotExist(err):
		return &shallowMarker{path: path}, nil
	default:
		return nil, fmt.Errorf("failed to read shallow marker: %w", err)
	}
}

func (m *shallowMarker) restore() error {
	current, err := os.ReadFile(m.path)
	if !m.existed {
		if os.IsNotExist(err) {
			return nil
		}
		return os.Remove(m.path)
	}
	if err == nil && bytes.Equal(current, m.content) {
		return nil
	}
	return os.WriteFile(m.path, m.content, 0o644)
}
