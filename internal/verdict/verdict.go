// Package verdict turns paired tool scores into a pass/fail decision.
package verdict

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samzong/qualgate/internal/metric"
	"github.com/samzong/qualgate/internal/revision"
)

// ErrRegression is returned when at least one tool scored worse.
var ErrRegression = errors.New("quality regressed")

type Status string

const (
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusSkipped Status = "skipped"
)

// Decide compares two scores of tool. Equal scores pass.
func Decide(tool metric.Tool, current, previous float64) Status {
	worse := current > previous
	if tool.HigherIsBetter() {
		worse = current < previous
	}
	if worse {
		return StatusFail
	}
	return StatusPass
}

// Policy says what an unparsable score does to the verdict.
type Policy string

const (
	// PolicyFail aborts the run.
	PolicyFail Policy = "fail"
	// PolicySkip leaves the tool out of the verdict.
	PolicySkip Policy = "skip"
	// PolicyZero counts the score as 0.
	PolicyZero Policy = "zero"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyFail, PolicySkip, PolicyZero:
		return p, nil
	case "":
		return PolicyFail, nil
	default:
		return "", fmt.Errorf("invalid parse failure policy %q (want fail, skip or zero)", s)
	}
}

// ScoreParseError reports tool output that carried no score.
type ScoreParseError struct {
	Tool   string
	Side   metric.Side
	Commit string
	Raw    string
}

func (e *ScoreParseError) Error() string {
	return fmt.Sprintf("%s: no score in output for %s commit %s", e.Tool, e.Side, shortHash(e.Commit))
}

func (e *ScoreParseError) Unwrap() error { return metric.ErrScoreParse }

// Comparison is one row of the verdict.
type Comparison struct {
	Tool           string   `json:"tool" yaml:"tool"`
	HigherIsBetter bool     `json:"higher_is_better" yaml:"higher_is_better"`
	Previous       float64  `json:"previous" yaml:"previous"`
	Current        float64  `json:"current" yaml:"current"`
	Status         Status   `json:"status" yaml:"status"`
	Note           string   `json:"note,omitempty" yaml:"note,omitempty"`
	NewFindings    []string `json:"new_findings,omitempty" yaml:"new_findings,omitempty"`
	Diagnostics    string   `json:"-" yaml:"-"`
}

// Report is the outcome of a whole run.
type Report struct {
	Pair   revision.Pair `json:"commits" yaml:"commits"`
	Files  []string      `json:"files" yaml:"files"`
	Rows   []Comparison  `json:"tools" yaml:"tools"`
	Passed bool          `json:"passed" yaml:"passed"`
}

// Regressions lists the tools that failed.
func (r Report) Regressions() []string {
	var names []string
	for _, row := range r.Rows {
		if row.Status == StatusFail {
			names = append(names, row.Tool)
		}
	}
	return names
}

type Options struct {
	Policy    Policy
	KeepGoing bool
	Logger    *slog.Logger
}

// Evaluator accumulates a Report from tool outcomes.
type Evaluator struct {
	opts   Options
	report Report
}

func NewEvaluator(pair revision.Pair, files []string, opts Options) *Evaluator {
	if opts.Policy == "" {
		opts.Policy = PolicyFail
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Evaluator{
		opts:   opts,
		report: Report{Pair: pair, Files: files, Passed: true},
	}
}

// Visit records one outcome. It returns metric.ErrStop after the first
// regression unless KeepGoing is set, and a *ScoreParseError when a score
// is missing under PolicyFail.
func (e *Evaluator) Visit(o metric.Outcome) error {
	row := Comparison{
		Tool:           o.Tool.Name(),
		HigherIsBetter: o.Tool.HigherIsBetter(),
		Previous:       o.Previous.Score,
		Current:        o.Current.Score,
		Diagnostics:    o.Current.Raw,
	}

	for _, side := range []struct {
		name metric.Side
		res  metric.Result
	}{{metric.SideCurrent, o.Current}, {metric.SidePrevious, o.Previous}} {
		if side.res.Parsed {
			continue
		}
		parseErr := &ScoreParseError{Tool: row.Tool, Side: side.name, Commit: side.res.Commit, Raw: side.res.Raw}
		switch e.opts.Policy {
		case PolicySkip:
			e.opts.Logger.Warn("ignoring tool with unparsable output", "tool", row.Tool, "side", side.name)
			row.Status = StatusSkipped
			row.Note = "score not found in output"
		case PolicyZero:
			e.opts.Logger.Warn("counting unparsable output as 0", "tool", row.Tool, "side", side.name)
		default:
			row.Status = StatusSkipped
			row.Note = parseErr.Error()
			e.report.Rows = append(e.report.Rows, row)
			return parseErr
		}
	}

	if row.Status != StatusSkipped {
		row.Status = Decide(o.Tool, row.Current, row.Previous)
		if o.Current.Skipped && o.Previous.Skipped {
			row.Note = "no changed file present"
		}
	}
	if row.Status == StatusFail {
		row.NewFindings = NewFindings(o.Previous.Raw, o.Current.Raw)
	}
	e.report.Rows = append(e.report.Rows, row)

	if row.Status == StatusFail {
		e.report.Passed = false
		if !e.opts.KeepGoing {
			return metric.ErrStop
		}
	}
	return nil
}

// Report returns the verdict so far.
func (e *Evaluator) Report() Report {
	return e.report
}

// Err returns ErrRegression when the verdict failed.
func (r Report) Err() error {
	if r.Passed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrRegression, strings.Join(r.Regressions(), ", "))
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
