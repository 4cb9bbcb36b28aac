// Package capture carries a repository's uncommitted changes into an
// isolated workspace as one synthetic commit.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/samzong/qualgate/internal/git"
	"github.com/samzong/qualgate/internal/workspace"
)

// CommitMessage is the subject of the synthetic commit.
const CommitMessage = "Uncommitted changes"

const patchFileName = "uncommitted.patch"

// PatchApplyError reports that captured changes do not apply to the workspace.
type PatchApplyError struct {
	Path string
	Err  error
}

func (e *PatchApplyError) Error() string {
	return fmt.Sprintf("uncommitted changes could not be replayed: %v", e.Err)
}

func (e *PatchApplyError) Unwrap() error { return e.Err }

// Patch is a unified diff of the working tree against HEAD.
type Patch struct {
	Base  string
	Stash string
	Data  []byte
}

// Capturer snapshots and replays uncommitted work.
type Capturer struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Capturer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Capturer{logger: logger}
}

// Capture returns the caller's staged and unstaged changes to tracked
// files, or nil when the tree matches HEAD. The source is never modified:
// `git stash create` writes a dangling commit and leaves the tree, index
// and stash list alone.
func (c *Capturer) Capture(ctx context.Context, source *git.Client) (*Patch, error) {
	base, err := source.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source HEAD: %w", err)
	}

	stash, err := source.StashCreate(ctx)
	if err != nil {
		return nil, err
	}
	if stash == "" {
		return nil, nil
	}

	data, err := source.DiffBinary(ctx, base, stash)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	c.logger.Info("captured uncommitted changes", "size", humanize.Bytes(uint64(len(data))))
	return &Patch{Base: base, Stash: stash, Data: data}, nil
}

// Replay applies the patch inside the workspace and commits it. A patch
// that does not apply cleanly is fatal; nothing is applied partially.
func (c *Capturer) Replay(ctx context.Context, ws *workspace.Workspace, patch *Patch) error {
	if patch == nil {
		return nil
	}

	path := ws.Path(patchFileName)
	if err := os.WriteFile(path, patch.Data, 0o600); err != nil {
		return fmt.Errorf("failed to write patch: %w", err)
	}

	client := ws.Git()
	head, err := client.Head(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve workspace HEAD: %w", err)
	}
	if head != patch.Base {
		return &PatchApplyError{Path: path, Err: fmt.Errorf("workspace HEAD %s does not match captured base %s", head, patch.Base)}
	}
	if err := client.ApplyToIndex(ctx, path); err != nil {
		return &PatchApplyError{Path: path, Err: err}
	}
	if err := client.Commit(ctx, CommitMessage); err != nil {
		return fmt.Errorf("failed to commit uncommitted changes: %w", err)
	}

	c.logger.Debug("replayed uncommitted changes", "patch", path)
	return nil
}
