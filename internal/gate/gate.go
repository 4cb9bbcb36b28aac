// Package gate runs one quality comparison end to end.
package gate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/samzong/qualgate/internal/capture"
	"github.com/samzong/qualgate/internal/changeset"
	"github.com/samzong/qualgate/internal/git"
	"github.com/samzong/qualgate/internal/metric"
	"github.com/samzong/qualgate/internal/revision"
	"github.com/samzong/qualgate/internal/verdict"
	"github.com/samzong/qualgate/internal/workspace"
)

// ErrNotRepository is returned when the source is not inside a git work tree.
var ErrNotRepository = errors.New("not a git repository")

// ToolSource yields the analysis tools a run may use.
type ToolSource interface {
	Available() ([]metric.Tool, error)
}

type Options struct {
	Repo       string
	Committish string
	Depth      int
	Filter     changeset.Filter
	Jobs       int
	KeepGoing  bool
	Policy     verdict.Policy
	Render     verdict.RenderOptions
	Verbose    bool
	// TempDir overrides where the workspace is created.
	TempDir   string
	OutWriter io.Writer
	ErrWriter io.Writer
	Logger    *slog.Logger
}

// Flow wires the workspace, capture, resolution, filtering, measurement
// and decision steps together.
type Flow struct {
	tools  ToolSource
	opts   Options
	logger *slog.Logger
}

func NewFlow(tools ToolSource, opts Options) *Flow {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.OutWriter == nil {
		opts.OutWriter = io.Discard
	}
	if opts.ErrWriter == nil {
		opts.ErrWriter = io.Discard
	}
	if opts.Repo == "" {
		opts.Repo = "."
	}
	return &Flow{tools: tools, opts: opts, logger: opts.Logger}
}

// Run performs the comparison and renders the verdict. The returned error
// wraps verdict.ErrRegression when quality regressed and
// changeset.ErrNothingToCheck when no relevant file changed.
func (f *Flow) Run(ctx context.Context) (verdict.Report, error) {
	if err := ctx.Err(); err != nil {
		return verdict.Report{}, err
	}
	tools, err := f.tools.Available()
	if err != nil {
		return verdict.Report{}, err
	}

	source := git.NewClient(git.Options{Verbose: f.opts.Verbose, Dir: f.opts.Repo, Logger: f.logger})
	if !source.IsGitRepository(ctx) {
		if err := ctx.Err(); err != nil {
			return verdict.Report{}, err
		}
		return verdict.Report{}, fmt.Errorf("%w: %s", ErrNotRepository, f.opts.Repo)
	}
	top, err := source.TopLevel(ctx)
	if err != nil {
		return verdict.Report{}, err
	}
	source = source.At(top)

	ws, err := workspace.Create(ctx, top, workspace.Options{
		Depth:   f.opts.Depth,
		Verbose: f.opts.Verbose,
		Logger:  f.logger,
		TempDir: f.opts.TempDir,
	})
	if err != nil {
		return verdict.Report{}, err
	}
	defer func() {
		if err := ws.Close(); err != nil {
			f.logger.Warn("failed to remove workspace", "dir", ws.Root, "error", err)
		}
	}()

	capturer := capture.New(f.logger)
	patch, err := capturer.Capture(ctx, source)
	if err != nil {
		return verdict.Report{}, err
	}
	if err := capturer.Replay(ctx, ws, patch); err != nil {
		return verdict.Report{}, err
	}

	pair, err := revision.NewResolver(f.logger).Resolve(ctx, ws, f.opts.Committish, patch != nil)
	if err != nil {
		return verdict.Report{}, err
	}
	f.logger.Info("comparing commits", "previous", pair.ShortPrevious(), "current", pair.DisplayCurrent())

	set, err := changeset.Compute(ctx, ws.Git(), pair, f.opts.Filter)
	if err != nil {
		return verdict.Report{Pair: pair, Passed: true}, err
	}
	f.logger.Info("files to check", "count", set.Len())

	evaluator := verdict.NewEvaluator(pair, set.Files, verdict.Options{
		Policy:    f.opts.Policy,
		KeepGoing: f.opts.KeepGoing,
		Logger:    f.logger,
	})
	checkout := f.checkouter(ws)
	if wt, ok := checkout.(*metric.WorktreeCheckout); ok {
		defer func() {
			n, err := wt.Cleanup(context.WithoutCancel(ctx))
			if err != nil {
				f.logger.Warn("failed to clean up worktrees", "error", err)
			} else if n > 0 {
				f.logger.Debug("removed leftover worktrees", "count", n)
			}
		}()
	}
	runner := metric.NewRunner(metric.RunnerOptions{
		Checkout: checkout,
		Jobs:     f.opts.Jobs,
		Logger:   f.logger,
	})
	if err := runner.Run(ctx, tools, pair, set.Files, evaluator.Visit); err != nil {
		var parseErr *verdict.ScoreParseError
		if errors.As(err, &parseErr) {
			fmt.Fprintf(f.opts.ErrWriter, "%s output:\n%s\n", parseErr.Tool, parseErr.Raw)
		}
		return evaluator.Report(), err
	}

	report := evaluator.Report()
	if err := verdict.Render(f.opts.OutWriter, report, f.opts.Render); err != nil {
		return report, fmt.Errorf("failed to write report: %w", err)
	}
	return report, report.Err()
}

func (f *Flow) checkouter(ws *workspace.Workspace) metric.Checkouter {
	if f.opts.Jobs > 1 {
		return metric.NewWorktreeCheckout(ws.Git(), ws.WorktreeRoot())
	}
	return metric.NewSharedCheckout(ws.Git())
}
