package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/samzong/qualgate/internal/changeset"
	"github.com/samzong/qualgate/internal/clierr"
	"github.com/samzong/qualgate/internal/config"
	"github.com/samzong/qualgate/internal/gate"
	"github.com/samzong/qualgate/internal/git"
	"github.com/samzong/qualgate/internal/logging"
	"github.com/samzong/qualgate/internal/metric"
	"github.com/samzong/qualgate/internal/ui"
	"github.com/samzong/qualgate/internal/verdict"
)

// rootOptions holds flags that are not routed through viper.
type rootOptions struct {
	cfgFile string
	repo    string
	verbose bool
}

var (
	rootCmd = NewRootCmd()
	execCtx = context.Background()
)

// SetContext sets the context used by Execute.
func SetContext(ctx context.Context) {
	execCtx = ctx
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(execCtx)
}

// RootCmd returns the root command, for documentation generation.
func RootCmd() *cobra.Command {
	return rootCmd
}

// NewRootCmd builds the qualgate command and binds its flags to viper.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	var configErr error

	cmd := &cobra.Command{
		Use:   "qualgate [committish]",
		Short: "qualgate - static-analysis quality gate",
		Long: `qualgate compares lint and complexity scores of the current commit with
those of a previous commit and fails when quality regressed.

Without an argument the previous commit is HEAD's first parent. With a
committish it is the merge base of HEAD and that commit. Uncommitted
changes are included in the current side. All work happens in a
temporary clone; your repository is never modified.

Exit codes: 0 pass or nothing to check, 1 regression, 2 error,
3 no analysis tool installed, 130 interrupted.

Built-in tools: ` + builtinToolNames() + ".",
		Version:       fmt.Sprintf("%s (built at %s)", Version, BuildTime),
		Args:          cobra.MaximumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configErr = config.InitConfig(opts.cfgFile, repoRoot(cmd.Context(), opts.repo))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if configErr != nil {
				return clierr.Wrap(clierr.CodeFatal, "configuration error", configErr)
			}
			committish := ""
			if len(args) == 1 {
				committish = args[0]
			}
			std := streamsOf(cmd)
			return handleErrors(std, runGate(cmd.Context(), std, opts, committish))
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.cfgFile, "config", "",
		"Configuration file (default .qualgate.yaml in the repository, then the user config dir)")
	flags.StringVar(&opts.repo, "repo", ".", "Repository to check")
	flags.BoolVarP(&opts.verbose, "verbose", "V", false, "Show debug logs and every git command")

	flags.Int("depth", config.DefaultDepth, "History depth of the temporary clone (0 clones everything)")
	flags.StringSlice("suffix", []string{".go"}, "Analyze changed files with this suffix (repeatable)")
	flags.StringSlice("language", nil, "Only analyze files detected as this language (repeatable)")
	flags.StringSlice("exclude", nil, "Gitignore-style pattern of files to skip (repeatable)")
	flags.StringSlice("tools", nil, "Run only these tools (default all installed)")
	flags.Int("jobs", config.DefaultJobs, "Tool runs in parallel; above 1 each run gets its own worktree")
	flags.Bool("keep-going", false, "Evaluate every tool instead of stopping at the first regression")
	flags.String("parse-failure", config.DefaultParseFailure, "What an unparsable score does: fail, skip or zero")
	flags.StringP("output", "o", config.DefaultOutput, "Report format: table, json or yaml")
	flags.Bool("no-color", false, "Disable colored output")

	for key, flag := range map[string]string{
		"depth":         "depth",
		"suffixes":      "suffix",
		"languages":     "language",
		"exclude":       "exclude",
		"select":        "tools",
		"jobs":          "jobs",
		"keep_going":    "keep-going",
		"parse_failure": "parse-failure",
		"output":        "output",
		"no_color":      "no-color",
	} {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}

	return cmd
}

// repoRoot returns the work tree root of dir, or dir itself when git
// cannot tell.
func repoRoot(ctx context.Context, dir string) string {
	if ctx == nil {
		ctx = context.Background()
	}
	top, err := git.NewClient(git.Options{Dir: dir}).TopLevel(ctx)
	if err != nil {
		return dir
	}
	return top
}

func runGate(ctx context.Context, std streams, opts *rootOptions, committish string) error {
	cfg, err := config.GetConfig()
	if err != nil {
		return clierr.Wrap(clierr.CodeFatal, "configuration error", err)
	}

	logger := logging.New(std.err, opts.verbose)

	registry, err := metric.NewRegistry(metric.RegistryOptions{
		Overrides: cfg.Tools,
		Select:    cfg.Select,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	policy, err := verdict.ParsePolicy(cfg.ParseFailure)
	if err != nil {
		return err
	}

	flow := gate.NewFlow(registry, gate.Options{
		Repo:       opts.repo,
		Committish: committish,
		Depth:      cfg.Depth,
		Filter: changeset.Filter{
			Suffixes:     cfg.Suffixes,
			Languages:    cfg.Languages,
			Exclude:      cfg.Exclude,
			SkipVendored: cfg.SkipVendored,
		},
		Jobs:      cfg.Jobs,
		KeepGoing: cfg.KeepGoing,
		Policy:    policy,
		Render: verdict.RenderOptions{
			Format:      cfg.Output,
			Color:       !cfg.NoColor && !color.NoColor,
			Width:       ui.TerminalWidth(os.Stdout),
			Diagnostics: cfg.Output == verdict.FormatTable,
		},
		Verbose:   opts.verbose,
		OutWriter: std.out,
		ErrWriter: std.err,
		Logger:    logger,
	})

	_, err = flow.Run(ctx)
	return err
}

// handleErrors maps run errors onto process exit codes.
func handleErrors(std streams, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, changeset.ErrNothingToCheck):
		// stdout carries only the report, which may be json or yaml.
		fmt.Fprintln(std.err, "nothing to check")
		return nil
	case errors.Is(err, context.Canceled):
		return clierr.Wrap(clierr.CodeInterrupted, "", err)
	case errors.Is(err, verdict.ErrRegression):
		return clierr.Wrap(clierr.CodeRegression, "", err)
	case errors.Is(err, metric.ErrToolUnavailable):
		return clierr.Wrap(clierr.CodeNoTools, "install golangci-lint or gocyclo, or configure a tool",
			err)
	default:
		var coder clierr.ExitCoder
		if errors.As(err, &coder) {
			return err
		}
		return clierr.Wrap(clierr.CodeFatal, "", err)
	}
}

func builtinToolNames() string {
	var names []string
	for _, t := range metric.Builtin() {
		names = append(names, t.ToolName)
	}
	return strings.Join(names, ", ")
}
