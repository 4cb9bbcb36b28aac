package metric

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/samzong/qualgate/internal/revision"
	"github.com/samzong/qualgate/internal/ui"
)

// ErrStop is returned by a visitor to end a run early without failing it.
var ErrStop = errors.New("stop")

// Side names the commit a result belongs to.
type Side string

const (
	SideCurrent  Side = "current"
	SidePrevious Side = "previous"
)

// Outcome pairs both runs of one tool.
type Outcome struct {
	Tool     Tool
	Current  Result
	Previous Result
}

// Visitor receives outcomes in tool order. Returning ErrStop ends the
// run; any other error aborts it.
type Visitor func(Outcome) error

type RunnerOptions struct {
	Checkout Checkouter
	// Jobs above 1 runs (tool, commit) pairs concurrently. The
	// checkouter must then support concurrent checkouts.
	Jobs   int
	Logger *slog.Logger
}

// Runner drives each tool over both sides of a commit pair.
type Runner struct {
	checkout Checkouter
	jobs     int
	logger   *slog.Logger
}

func NewRunner(opts RunnerOptions) *Runner {
	r := &Runner{checkout: opts.Checkout, jobs: opts.Jobs, logger: opts.Logger}
	if r.jobs < 1 {
		r.jobs = 1
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Run measures every tool on the current then the previous commit.
// Sequential runs visit each tool as soon as it finishes, so a visitor
// can stop later tools from running at all. Parallel runs visit in tool
// order after every run has completed.
func (r *Runner) Run(ctx context.Context, tools []Tool, pair revision.Pair, files []string, visit Visitor) error {
	var err error
	if r.jobs > 1 {
		err = r.runParallel(ctx, tools, pair, files, visit)
	} else {
		err = r.runSequential(ctx, tools, pair, files, visit)
	}
	if errors.Is(err, ErrStop) {
		return nil
	}
	return err
}

func (r *Runner) runSequential(ctx context.Context, tools []Tool, pair revision.Pair, files []string, visit Visitor) error {
	spin := ui.NewSpinner("Analyzing...")
	spin.Start()
	defer spin.Stop()

	for _, tool := range tools {
		var outcome Outcome
		var err error

		spin.UpdateMessage(fmt.Sprintf("Running %s on %s...", tool.Name(), pair.DisplayCurrent()))
		if outcome.Current, err = r.measure(ctx, tool, pair.Current, SideCurrent, files); err != nil {
			return err
		}
		spin.UpdateMessage(fmt.Sprintf("Running %s on %s...", tool.Name(), pair.ShortPrevious()))
		if outcome.Previous, err = r.measure(ctx, tool, pair.Previous, SidePrevious, files); err != nil {
			return err
		}
		outcome.Tool = tool

		spin.Stop()
		if err := visit(outcome); err != nil {
			return err
		}
		spin.Start()
	}
	return nil
}

func (r *Runner) runParallel(ctx context.Context, tools []Tool, pair revision.Pair, files []string, visit Visitor) error {
	outcomes := make([]Outcome, len(tools))
	progress := ui.NewProgress("Analyzing", 2*len(tools))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.jobs)

	for i, tool := range tools {
		outcomes[i].Tool = tool
		for _, side := range []Side{SideCurrent, SidePrevious} {
			commit := pair.Current
			slot := &outcomes[i].Current
			if side == SidePrevious {
				commit = pair.Previous
				slot = &outcomes[i].Previous
			}
			g.Go(func() error {
				if err := gCtx.Err(); err != nil {
					return err
				}
				res, err := r.measure(gCtx, tool, commit, side, files)
				progress.Done()
				if err != nil {
					return err
				}
				*slot = res
				return nil
			})
		}
	}

	err := g.Wait()
	progress.Close()
	if err != nil {
		return err
	}

	for _, outcome := range outcomes {
		if err := visit(outcome); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) measure(ctx context.Context, tool Tool, commit string, side Side, files []string) (Result, error) {
	dir, release, err := r.checkout.Checkout(ctx, commit, tool.Name()+"-"+string(side))
	if err != nil {
		return Result{}, fmt.Errorf("failed to check out %s for %s: %w", side, tool.Name(), err)
	}

	res, runErr := tool.Run(ctx, dir, files)
	if err := release(); err != nil {
		r.logger.Warn("failed to release checkout", "tool", tool.Name(), "side", side, "error", err)
	}
	if runErr != nil {
		return Result{}, fmt.Errorf("%s on %s commit: %w", tool.Name(), side, runErr)
	}

	res.Tool = tool.Name()
	res.Commit = commit
	r.logger.Debug("tool finished", "tool", tool.Name(), "side", side,
		"score", res.Score, "parsed", res.Parsed, "skipped", res.Skipped, "exit", res.ExitCode)
	return res, nil
}
