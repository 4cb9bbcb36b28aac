package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samzong/qualgate/internal/git"
	"github.com/samzong/qualgate/internal/logging"
	"github.com/samzong/qualgate/internal/workspace"
)

func newWorkspace(t *testing.T, source string) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.Create(context.Background(), source, workspace.Options{
		Depth:   10,
		Logger:  logging.Discard(),
		TempDir: t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func TestCapture_CleanTree(t *testing.T) {
	repo := git.NewTestRepo(t)
	repo.CommitFile("a.go", "package a\n", "one")

	patch, err := New(logging.Discard()).Capture(context.Background(), git.NewClient(git.Options{Dir: repo.Dir}))
	require.NoError(t, err)
	assert.Nil(t, patch)
}

func TestCapture_LeavesSourceUntouched(t *testing.T) {
	repo := git.NewTestRepo(t)
	repo.CommitFile("a.go", "package a\n", "one")
	repo.CommitFile("b.go", "package a\n", "two")
	repo.Write("a.go", "package a\n\nfunc Staged() {}\n")
	repo.Git("add", "a.go")
	repo.Write("b.go", "package a\n\nfunc Unstaged() {}\n")

	ctx := context.Background()
	source := git.NewClient(git.Options{Dir: repo.Dir})
	beforeIndex, err := source.DiffIndex(ctx)
	require.NoError(t, err)
	beforeCached := repo.Git("diff", "--cached", "--name-only")

	patch, err := New(logging.Discard()).Capture(ctx, source)
	require.NoError(t, err)
	require.NotNil(t, patch)
	assert.Contains(t, string(patch.Data), "+func Staged() {}")
	assert.Contains(t, string(patch.Data), "+func Unstaged() {}")

	afterIndex, err := source.DiffIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, beforeIndex, afterIndex)
	assert.Equal(t, beforeCached, repo.Git("diff", "--cached", "--name-only"))
	assert.Empty(t, repo.Git("stash", "list"))
}

func TestReplay_CreatesSyntheticCommit(t *testing.T) {
	repo := git.NewTestRepo(t)
	head := repo.CommitFile("a.go", "package a\n", "one")
	repo.Write("a.go", "package a\n\nfunc Dirty() {}\n")
	ctx := context.Background()

	capturer := New(logging.Discard())
	patch, err := capturer.Capture(ctx, git.NewClient(git.Options{Dir: repo.Dir}))
	require.NoError(t, err)
	require.NotNil(t, patch)

	ws := newWorkspace(t, repo.Dir)
	require.NoError(t, capturer.Replay(ctx, ws, patch))

	client := ws.Git()
	parent, err := client.ResolveCommit(ctx, "HEAD^1")
	require.NoError(t, err)
	assert.Equal(t, head, parent)

	data, err := os.ReadFile(filepath.Join(ws.Dir, "a.go"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "func Dirty() {}")

	// The caller's repository gains no commit.
	assert.Equal(t, head, repo.Git("rev-parse", "HEAD"))
}

func TestReplay_NilPatch(t *testing.T) {
	assert.NoError(t, New(nil).Replay(context.Background(), nil, nil))
}

func TestReplay_ConflictIsFatal(t *testing.T) {
	repo := git.NewTestRepo(t)
	repo.CommitFile("a.go", "package a\n", "one")
	ctx := context.Background()

	ws := newWorkspace(t, repo.Dir)
	head, err := ws.Git().Head(ctx)
	require.NoError(t, err)

	bogus := &Patch{
		Base: head,
		Data: []byte("diff --git a/a.go b/a.go\n--- a/a.go\n+++ b/a.go\n@@ -1 +1 @@\n-package nope\n+package yes\n"),
	}
	err = New(logging.Discard()).Replay(ctx, ws, bogus)
	require.Error(t, err)

	var applyErr *PatchApplyError
	assert.True(t, errors.As(err, &applyErr))
}

func TestReplay_BaseMismatch(t *testing.T) {
	repo := git.NewTestRepo(t)
	repo.CommitFile("a.go", "package a\n", "one")

	ws := newWorkspace(t, repo.Dir)
	err := New(logging.Discard()).Replay(context.Background(), ws, &Patch{Base: "0000000", Data: []byte("x")})

	var applyErr *PatchApplyError
	assert.True(t, errors.As(err, &applyErr))
}
