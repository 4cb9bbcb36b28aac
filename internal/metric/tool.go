// Package metric runs external analysis tools and extracts one numeric
// quality score from each run.
package metric

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/samzong/qualgate/internal/gitutil"
	"github.com/samzong/qualgate/internal/procgroup"
	"github.com/samzong/qualgate/internal/stringsutil"
)

var (
	// ErrToolUnavailable is returned when no configured tool is installed.
	ErrToolUnavailable = errors.New("no analysis tool available")
	// ErrScoreParse marks output that carries no score line.
	ErrScoreParse = errors.New("score not found in tool output")
)

// Target says how changed files are handed to a tool.
type Target string

const (
	TargetFiles    Target = "files"
	TargetPackages Target = "packages"
)

// Result is one tool run against one commit.
type Result struct {
	Tool     string  `json:"tool" yaml:"tool"`
	Commit   string  `json:"commit" yaml:"commit"`
	Score    float64 `json:"score" yaml:"score"`
	Parsed   bool    `json:"parsed" yaml:"parsed"`
	Skipped  bool    `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	ExitCode int     `json:"exit_code" yaml:"exit_code"`
	Raw      string  `json:"-" yaml:"-"`
}

// Tool adapts one external analyzer.
type Tool interface {
	Name() string
	Binary() string
	// HigherIsBetter reverses the regression comparison.
	HigherIsBetter() bool
	// Run analyzes paths (relative to dir) inside dir.
	Run(ctx context.Context, dir string, paths []string) (Result, error)
}

// CommandTool runs a binary over the changed files and reads the score
// from the first capture group of the last Pattern match.
type CommandTool struct {
	ToolName   string
	BinaryName string
	Args       []string
	Target     Target
	Pattern    *regexp.Regexp
	Higher     bool
	SilentZero bool
}

func (t *CommandTool) Name() string         { return t.ToolName }
func (t *CommandTool) Binary() string       { return t.BinaryName }
func (t *CommandTool) HigherIsBetter() bool { return t.Higher }

// Run executes the tool. A non-zero exit is recorded but is not an error;
// only a binary that cannot be started is.
func (t *CommandTool) Run(ctx context.Context, dir string, paths []string) (Result, error) {
	res := Result{Tool: t.ToolName}

	present := existingFiles(dir, paths)
	if len(present) == 0 {
		res.Parsed = true
		res.Skipped = true
		return res, nil
	}

	args := append(append([]string{}, t.Args...), t.targets(present)...)
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, t.BinaryName, args...)
	cmd.Dir = dir
	cmd.Stdout = &out
	cmd.Stderr = &out
	procgroup.Bind(cmd)

	err := cmd.Run()
	res.Raw = out.String()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		code := gitutil.ExitCode(err)
		if code < 0 {
			return res, fmt.Errorf("failed to run %s: %w", t.BinaryName, err)
		}
		res.ExitCode = code
	}

	res.Score, res.Parsed = t.parse(res.Raw)
	if !res.Parsed && t.SilentZero && res.ExitCode == 0 && strings.TrimSpace(res.Raw) == "" {
		res.Parsed = true
	}
	return res, nil
}

func (t *CommandTool) parse(output string) (float64, bool) {
	if t.Pattern == nil {
		return 0, false
	}
	matches := t.Pattern.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return 0, false
	}
	last := matches[len(matches)-1]
	if len(last) < 2 {
		return 0, false
	}
	score, err := strconv.ParseFloat(strings.TrimSpace(last[1]), 64)
	if err != nil {
		return 0, false
	}
	return score, true
}

func (t *CommandTool) targets(files []string) []string {
	if t.Target != TargetPackages {
		return files
	}
	dirs := make([]string, 0, len(files))
	for _, f := range files {
		d := filepath.Dir(f)
		if d == "." {
			dirs = append(dirs, ".")
			continue
		}
		dirs = append(dirs, "./"+filepath.ToSlash(d))
	}
	return stringsutil.UniqueStrings(dirs)
}

// existingFiles keeps the paths that are regular files under dir.
func existingFiles(dir string, paths []string) []string {
	present := make([]string, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(p)))
		if err == nil && info.Mode().IsRegular() {
			present = append(present, p)
		}
	}
	return present
}
