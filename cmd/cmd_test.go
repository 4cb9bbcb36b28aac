package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samzong/qualgate/internal/changeset"
	"github.com/samzong/qualgate/internal/clierr"
	"github.com/samzong/qualgate/internal/git"
	"github.com/samzong/qualgate/internal/metric"
	"github.com/samzong/qualgate/internal/revision"
	"github.com/samzong/qualgate/internal/verdict"
)

func TestVersion(t *testing.T) {
	assert.Equal(t, "dev", Version)
	assert.Equal(t, "unknown", BuildTime)
}

func TestRootCommand(t *testing.T) {
	assert.NotNil(t, rootCmd)
	assert.Equal(t, "qualgate [committish]", rootCmd.Use)
	assert.Contains(t, rootCmd.Long, "golangci-lint, gocyclo")
	assert.True(t, rootCmd.SilenceErrors)
	assert.True(t, rootCmd.SilenceUsage)
	assert.False(t, rootCmd.HasSubCommands())

	for _, name := range []string{"config", "repo", "depth", "suffix", "language", "exclude", "tools",
		"jobs", "keep-going", "parse-failure", "output", "no-color", "verbose"} {
		assert.NotNil(t, rootCmd.Flags().Lookup(name), name)
	}
}

func TestHandleErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"nil", nil, clierr.CodeOK},
		{"regression", fmt.Errorf("%w: lint", verdict.ErrRegression), clierr.CodeRegression},
		{"no tools", metric.ErrToolUnavailable, clierr.CodeNoTools},
		{"no parent", revision.ErrNoParent, clierr.CodeFatal},
		{"parse failure", &verdict.ScoreParseError{Tool: "lint"}, clierr.CodeFatal},
		{"interrupted", context.Canceled, clierr.CodeInterrupted},
		{"generic", errors.New("boom"), clierr.CodeFatal},
		{"explicit code", clierr.New(clierr.CodeNoTools, "x"), clierr.CodeNoTools},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := handleErrors(streams{out: &out, err: &out}, tt.err)
			assert.Equal(t, tt.code, clierr.ExitCodeOf(err))
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}

	t.Run("nothing to check", func(t *testing.T) {
		var out, errOut bytes.Buffer
		err := handleErrors(streams{out: &out, err: &errOut}, changeset.ErrNothingToCheck)
		assert.NoError(t, err)
		assert.Empty(t, out.String())
		assert.Equal(t, "nothing to check\n", errOut.String())
	})
}

// runCLI executes a fresh root command with isolated config state.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("TMPDIR", t.TempDir())

	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestExecute_TooManyArgs(t *testing.T) {
	_, _, err := runCLI(t, "a", "b")
	require.Error(t, err)
	assert.Equal(t, clierr.CodeFatal, clierr.ExitCodeOf(err))
}

func TestExecute_InvalidPolicy(t *testing.T) {
	_, _, err := runCLI(t, "--parse-failure", "ignore")
	require.Error(t, err)
	assert.Equal(t, clierr.CodeFatal, clierr.ExitCodeOf(err))
}

func TestExecute_Help(t *testing.T) {
	out, _, err := runCLI(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "--keep-going")
}

// toolRepo creates a repository whose .qualgate.yaml defines a "count"
// tool that reports the number of BAD lines in the changed files.
func toolRepo(t *testing.T) *git.TestRepo {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	script := filepath.Join(t.TempDir(), "count")
	body := "#!/bin/sh\nn=0\nfor f in \"$@\"; do c=$(grep -c BAD \"$f\"); n=$((n + c)); done\necho \"$n issues.\"\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))

	repo := git.NewTestRepo(t)
	repo.Write(".qualgate.yaml", fmt.Sprintf(`tools:
  count:
    binary: %s
    score_pattern: '(?m)^(\d+) issues'
`, script))
	repo.Commit("config")
	return repo
}

func TestExecute_Regression(t *testing.T) {
	repo := toolRepo(t)
	repo.CommitFile("a.go", "package a\n// BAD\n", "one")
	repo.CommitFile("a.go", "package a\n// BAD\n// BAD\n", "two")

	out, _, err := runCLI(t, "--repo", repo.Dir, "--tools", "count", "--output", "json")
	require.Error(t, err)
	assert.Equal(t, clierr.CodeRegression, clierr.ExitCodeOf(err))

	var report verdict.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.Passed)
	require.Len(t, report.Rows, 1)
	assert.Equal(t, 1.0, report.Rows[0].Previous)
	assert.Equal(t, 2.0, report.Rows[0].Current)
}

func TestExecute_Pass(t *testing.T) {
	repo := toolRepo(t)
	repo.CommitFile("a.go", "package a\n// BAD\n// BAD\n", "one")
	repo.CommitFile("a.go", "package a\n// BAD\n", "two")

	out, _, err := runCLI(t, "--repo", repo.Dir, "--tools", "count", "--no-color")
	require.NoError(t, err)
	assert.Contains(t, out, "Quality gate PASSED")
}

func TestExecute_NothingToCheck(t *testing.T) {
	repo := toolRepo(t)
	repo.CommitFile("a.go", "package a\n", "one")
	repo.CommitFile("README.md", "docs\n", "two")

	for _, format := range []string{"table", "json", "yaml"} {
		t.Run(format, func(t *testing.T) {
			out, errOut, err := runCLI(t, "--repo", repo.Dir, "--tools", "count", "--output", format)
			require.NoError(t, err)
			assert.Empty(t, out)
			assert.Contains(t, errOut, "nothing to check")
		})
	}
}

func TestExecute_NoParent(t *testing.T) {
	repo := toolRepo(t)

	_, _, err := runCLI(t, "--repo", repo.Dir, "--tools", "count")
	require.Error(t, err)
	assert.ErrorIs(t, err, revision.ErrNoParent)
	assert.Equal(t, clierr.CodeFatal, clierr.ExitCodeOf(err))
}

func TestExecute_NoToolInstalled(t *testing.T) {
	repo := toolRepo(t)
	repo.CommitFile("a.go", "package a\n", "one")
	t.Setenv("PATH", t.TempDir())

	_, _, err := runCLI(t, "--repo", repo.Dir, "--tools", "golangci-lint,gocyclo")
	require.Error(t, err)
	assert.Equal(t, clierr.CodeNoTools, clierr.ExitCodeOf(err))
}
