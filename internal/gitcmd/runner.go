package gitcmd

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/samzong/qualgate/internal/procgroup"
)

// Runner executes git commands with shared logging and output handling.
type Runner struct {
	Verbose bool
	Dir     string
	Env     []string
	Logger  *slog.Logger
}

// Result contains captured stdout/stderr for a git command.
type Result struct {
	Stdout []byte
	Stderr []byte
}

func (r Result) StdoutString(trim bool) string {
	output := string(r.Stdout)
	if trim {
		return strings.TrimSpace(output)
	}
	return output
}

func (r Result) StderrString(trim bool) string {
	output := string(r.Stderr)
	if trim {
		return strings.TrimSpace(output)
	}
	return output
}

// In returns a copy of the runner bound to dir.
func (r Runner) In(dir string) Runner {
	r.Dir = dir
	return r
}

// WithEnv returns a copy of the runner with extra environment entries.
func (r Runner) WithEnv(env ...string) Runner {
	merged := make([]string, 0, len(r.Env)+len(env))
	merged = append(merged, r.Env...)
	r.Env = append(merged, env...)
	return r
}

func (r Runner) withDefaults() Runner {
	if r.Logger == nil {
		r.Logger = slog.Default()
	}
	return r
}

func (r Runner) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "git", args...)
	if r.Dir != "" {
		cmd.Dir = r.Dir
	}
	// Keep git from prompting or paging inside a CI gate.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "GIT_PAGER=cat", "LC_ALL=C")
	cmd.Env = append(cmd.Env, r.Env...)
	procgroup.Bind(cmd)
	return cmd
}

func (r Runner) log(ctx context.Context, args []string) {
	if !r.Verbose {
		return
	}
	r = r.withDefaults()
	r.Logger.DebugContext(ctx, "running git", "args", strings.Join(args, " "), "dir", r.Dir)
}

func (r Runner) prepare(ctx context.Context, args []string, log bool) *exec.Cmd {
	r = r.withDefaults()
	if log {
		r.log(ctx, args)
	}
	return r.command(ctx, args...)
}

// Run executes a git command and captures stdout/stderr.
func (r Runner) Run(ctx context.Context, args ...string) (Result, error) {
	return r.run(ctx, args, false)
}

// RunLogged executes a git command, logs when verbose, and captures stdout/stderr.
func (r Runner) RunLogged(ctx context.Context, args ...string) (Result, error) {
	return r.run(ctx, args, true)
}

func (r Runner) run(ctx context.Context, args []string, log bool) (Result, error) {
	cmd := r.prepare(ctx, args, log)
	var outBuf bytes.Buffer
	var errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	if ctxErr := ctx.Err(); err != nil && ctxErr != nil {
		// Keep cancellation matchable with errors.Is through WrapGitError.
		err = fmt.Errorf("%w: %w", ctxErr, err)
	}
	return Result{Stdout: outBuf.Bytes(), Stderr: errBuf.Bytes()}, err
}
