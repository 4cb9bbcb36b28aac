package gate

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samzong/qualgate/internal/changeset"
	"github.com/samzong/qualgate/internal/git"
	"github.com/samzong/qualgate/internal/logging"
	"github.com/samzong/qualgate/internal/metric"
	"github.com/samzong/qualgate/internal/revision"
	"github.com/samzong/qualgate/internal/verdict"
)

const countScript = `#!/bin/sh
n=0
for f in "$@"; do
  c=$(grep -c BAD "$f")
  n=$((n + c))
done
echo "$n issues."
`

type staticTools struct {
	tools []metric.Tool
	err   error
	calls atomic.Int32
}

func (s *staticTools) Available() ([]metric.Tool, error) {
	return s.tools, s.err
}

type countedTool struct {
	metric.Tool
	runs *atomic.Int32
}

func (c countedTool) Run(ctx context.Context, dir string, paths []string) (metric.Result, error) {
	c.runs.Add(1)
	return c.Tool.Run(ctx, dir, paths)
}

func scriptTool(t *testing.T, name, body string) *metric.CommandTool {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return &metric.CommandTool{
		ToolName:   name,
		BinaryName: path,
		Target:     metric.TargetFiles,
		Pattern:    regexp.MustCompile(`(?m)^(\d+) issues?[.:]`),
	}
}

type harness struct {
	tools   *staticTools
	tempDir string
	out     bytes.Buffer
	errOut  bytes.Buffer
}

func newHarness(t *testing.T, tools ...metric.Tool) *harness {
	h := &harness{tools: &staticTools{}, tempDir: t.TempDir()}
	for _, tool := range tools {
		h.tools.tools = append(h.tools.tools, countedTool{Tool: tool, runs: &h.tools.calls})
	}
	return h
}

func (h *harness) run(t *testing.T, repo, committish string, mutate ...func(*Options)) (verdict.Report, error) {
	t.Helper()
	opts := Options{
		Repo:       repo,
		Committish: committish,
		Depth:      10,
		Filter:     changeset.Filter{SkipVendored: true},
		Policy:     verdict.PolicyFail,
		Render:     verdict.RenderOptions{Format: verdict.FormatTable, Diagnostics: true},
		TempDir:    h.tempDir,
		OutWriter:  &h.out,
		ErrWriter:  &h.errOut,
		Logger:     logging.Discard(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	report, err := NewFlow(h.tools, opts).Run(context.Background())

	entries, readErr := os.ReadDir(h.tempDir)
	require.NoError(t, readErr)
	assert.Empty(t, entries, "workspace must be removed on every exit path")
	return report, err
}

func bad(n int) string {
	return "package a\n" + strings.Repeat("// BAD\n", n)
}

func TestFlow_ImprovementPasses(t *testing.T) {
	repo := git.NewTestRepo(t)
	repo.CommitFile("a.go", bad(5), "A")
	repo.CommitFile("a.go", bad(3), "B")

	h := newHarness(t, scriptTool(t, "count", countScript))
	report, err := h.run(t, repo.Dir, "")
	require.NoError(t, err)
	assert.True(t, report.Passed)
	require.Len(t, report.Rows, 1)
	assert.Equal(t, 5.0, report.Rows[0].Previous)
	assert.Equal(t, 3.0, report.Rows[0].Current)
	assert.Contains(t, h.out.String(), "Quality gate PASSED")
}

func TestFlow_RegressionFails(t *testing.T) {
	repo := git.NewTestRepo(t)
	repo.CommitFile("a.go", bad(3), "B")
	repo.CommitFile("a.go", bad(5), "A")

	h := newHarness(t, scriptTool(t, "count", countScript))
	report, err := h.run(t, repo.Dir, "")
	assert.ErrorIs(t, err, verdict.ErrRegression)
	assert.False(t, report.Passed)
	assert.Contains(t, h.out.String(), "Quality gate FAILED")
}

func TestFlow_FailFastSkipsLaterTools(t *testing.T) {
	repo := git.NewTestRepo(t)
	repo.CommitFile("a.go", bad(1), "one")
	repo.CommitFile("a.go", bad(2), "two")

	h := newHarness(t, scriptTool(t, "first", countScript), scriptTool(t, "second", countScript))
	report, err := h.run(t, repo.Dir, "")
	assert.ErrorIs(t, err, verdict.ErrRegression)
	assert.Len(t, report.Rows, 1)
	assert.Equal(t, int32(2), h.tools.calls.Load())

	h = newHarness(t, scriptTool(t, "first", countScript), scriptTool(t, "second", countScript))
	report, err = h.run(t, repo.Dir, "", func(o *Options) { o.KeepGoing = true })
	assert.ErrorIs(t, err, verdict.ErrRegression)
	assert.Len(t, report.Rows, 2)
	assert.Equal(t, int32(4), h.tools.calls.Load())
}

func TestFlow_ParallelWorktrees(t *testing.T) {
	repo := git.NewTestRepo(t)
	repo.CommitFile("a.go", bad(4), "one")
	repo.CommitFile("a.go", bad(1), "two")

	h := newHarness(t, scriptTool(t, "first", countScript), scriptTool(t, "second", countScript))
	report, err := h.run(t, repo.Dir, "", func(o *Options) { o.Jobs = 3 })
	require.NoError(t, err)
	require.Len(t, report.Rows, 2)
	for _, row := range report.Rows {
		assert.Equal(t, verdict.StatusPass, row.Status)
		assert.Equal(t, 4.0, row.Previous)
		assert.Equal(t, 1.0, row.Current)
	}
}

func TestFlow_ExplicitCommittish(t *testing.T) {
	repo := git.NewTestRepo(t)
	repo.CommitFile("a.go", bad(2), "base")
	repo.Git("checkout", "--quiet", "-b", "feature")
	repo.CommitFile("a.go", bad(1), "feature fix")
	repo.CommitFile("b.go", bad(0), "feature add")

	h := newHarness(t, scriptTool(t, "count", countScript))
	report, err := h.run(t, repo.Dir, "main")
	require.NoError(t, err)
	assert.Equal(t, repo.Git("rev-parse", "main"), report.Pair.Previous)
	assert.ElementsMatch(t, []string{"a.go", "b.go"}, report.Files)
}

func TestFlow_UncommittedChanges(t *testing.T) {
	repo := git.NewTestRepo(t)
	repo.CommitFile("a.go", bad(1), "one")
	head := repo.CommitFile("a.go", bad(1)+"// ok\n", "two")
	repo.Write("a.go", bad(4))
	before := repo.Git("diff-index", "HEAD", "--")

	h := newHarness(t, scriptTool(t, "count", countScript))
	report, err := h.run(t, repo.Dir, "")
	assert.ErrorIs(t, err, verdict.ErrRegression)
	assert.True(t, report.Pair.Uncommitted)
	assert.Equal(t, head, report.Pair.Previous)
	assert.Contains(t, h.out.String(), revision.UncommittedMarker)

	assert.Equal(t, before, repo.Git("diff-index", "HEAD", "--"))
	assert.Equal(t, head, repo.Git("rev-parse", "HEAD"))
}

func TestFlow_NothingToCheck(t *testing.T) {
	repo := git.NewTestRepo(t)
	repo.CommitFile("a.go", bad(1), "one")
	repo.CommitFile("README.md", "docs\n", "two")

	h := newHarness(t, scriptTool(t, "count", countScript))
	_, err := h.run(t, repo.Dir, "")
	assert.ErrorIs(t, err, changeset.ErrNothingToCheck)
	assert.Zero(t, h.tools.calls.Load(), "no tool may run")
}

func TestFlow_RootCommitHasNoParent(t *testing.T) {
	repo := git.NewTestRepo(t)
	repo.CommitFile("a.go", bad(1), "root")

	h := newHarness(t, scriptTool(t, "count", countScript))
	_, err := h.run(t, repo.Dir, "")
	assert.ErrorIs(t, err, revision.ErrNoParent)
}

func TestFlow_UnparsableScore(t *testing.T) {
	repo := git.NewTestRepo(t)
	repo.CommitFile("a.go", bad(1), "one")
	repo.CommitFile("a.go", bad(2), "two")

	h := newHarness(t, scriptTool(t, "broken", "#!/bin/sh\necho 'panic: boom'\n"))
	_, err := h.run(t, repo.Dir, "")

	var parseErr *verdict.ScoreParseError
	require.True(t, errors.As(err, &parseErr))
	assert.ErrorIs(t, err, metric.ErrScoreParse)
	assert.Contains(t, h.errOut.String(), "panic: boom")
}

func TestFlow_NoTools(t *testing.T) {
	h := newHarness(t)
	h.tools.err = metric.ErrToolUnavailable

	_, err := h.run(t, filepath.Join(t.TempDir(), "missing"), "")
	assert.ErrorIs(t, err, metric.ErrToolUnavailable)
}

func TestFlow_NotARepository(t *testing.T) {
	git.RequireGit(t)
	h := newHarness(t, scriptTool(t, "count", countScript))

	_, err := h.run(t, t.TempDir(), "")
	assert.ErrorIs(t, err, ErrNotRepository)
}

func TestFlow_CancelledBeforeStart(t *testing.T) {
	repo := git.NewTestRepo(t)
	repo.CommitFile("a.go", bad(1), "one")
	repo.CommitFile("a.go", bad(2), "two")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := newHarness(t, scriptTool(t, "count", countScript))
	_, err := NewFlow(h.tools, Options{Repo: repo.Dir, TempDir: h.tempDir, Logger: logging.Discard()}).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrNotRepository)
	assert.Zero(t, h.tools.calls.Load())

	entries, readErr := os.ReadDir(h.tempDir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestFlow_CancelledWhileToolRuns(t *testing.T) {
	repo := git.NewTestRepo(t)
	repo.CommitFile("a.go", bad(1), "one")
	repo.CommitFile("a.go", bad(2), "two")

	started := filepath.Join(t.TempDir(), "started")
	slow := scriptTool(t, "slow", "#!/bin/sh\ntouch '"+started+"'\nsleep 30 &\nsleep 30\necho '1 issues.'\n")
	h := newHarness(t, slow)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for ctx.Err() == nil {
			if _, err := os.Stat(started); err == nil {
				cancel()
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
	}()

	start := time.Now()
	_, err := NewFlow(h.tools, Options{Repo: repo.Dir, TempDir: h.tempDir, Logger: logging.Discard()}).Run(ctx)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, elapsed, 15*time.Second)
	assert.FileExists(t, started)

	entries, readErr := os.ReadDir(h.tempDir)
	require.NoError(t, readErr)
	assert.Empty(t, entries, "workspace must be removed after interruption")
}
