package metric

import (
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"sort"

	"github.com/samzong/qualgate/internal/config"
	"github.com/samzong/qualgate/internal/stringsutil"
)

// Builtin returns the default tool adapters in evaluation order.
func Builtin() []*CommandTool {
	return []*CommandTool{
		{
			ToolName:   "golangci-lint",
			BinaryName: "golangci-lint",
			Args:       []string{"run", "--issues-exit-code=0", "--max-issues-per-linter=0", "--max-same-issues=0"},
			Target:     TargetPackages,
			Pattern:    regexp.MustCompile(`(?m)^(\d+) issues?[.:]`),
			SilentZero: true,
		},
		{
			ToolName:   "gocyclo",
			BinaryName: "gocyclo",
			Args:       []string{"-avg"},
			Target:     TargetFiles,
			Pattern:    regexp.MustCompile(`(?m)^Average: (\d+(?:\.\d+)?)`),
		},
	}
}

// Registry is the set of tools a run may use, resolved once at startup.
type Registry struct {
	tools    []*CommandTool
	lookPath func(string) (string, error)
	logger   *slog.Logger
}

type RegistryOptions struct {
	// Overrides merge into built-ins by name or define new tools.
	Overrides map[string]config.ToolConfig
	// Select restricts the registry to the named tools.
	Select   []string
	LookPath func(string) (string, error)
	Logger   *slog.Logger
}

// NewRegistry merges configuration into the built-in tools.
func NewRegistry(opts RegistryOptions) (*Registry, error) {
	r := &Registry{lookPath: opts.LookPath, logger: opts.Logger}
	if r.lookPath == nil {
		r.lookPath = exec.LookPath
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}

	byName := map[string]*CommandTool{}
	var order []string
	for _, tool := range Builtin() {
		byName[tool.ToolName] = tool
		order = append(order, tool.ToolName)
	}

	custom := make([]string, 0, len(opts.Overrides))
	for name := range opts.Overrides {
		if _, ok := byName[name]; !ok {
			custom = append(custom, name)
		}
	}
	sort.Strings(custom)
	order = append(order, custom...)

	for _, name := range order {
		override, ok := opts.Overrides[name]
		if !ok {
			continue
		}
		if override.Enabled != nil && !*override.Enabled {
			delete(byName, name)
			continue
		}
		tool, err := merge(name, byName[name], override)
		if err != nil {
			return nil, err
		}
		byName[name] = tool
	}

	selected := stringsutil.UniqueStrings(opts.Select)
	for _, name := range selected {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("unknown tool %q", name)
		}
	}

	for _, name := range order {
		tool, ok := byName[name]
		if !ok {
			continue
		}
		if len(selected) > 0 && !contains(selected, name) {
			continue
		}
		r.tools = append(r.tools, tool)
	}
	return r, nil
}

func merge(name string, base *CommandTool, cfg config.ToolConfig) (*CommandTool, error) {
	tool := &CommandTool{ToolName: name, BinaryName: name, Target: TargetFiles}
	if base != nil {
		copied := *base
		copied.Args = append([]string(nil), base.Args...)
		tool = &copied
	}

	if cfg.Binary != "" {
		tool.BinaryName = cfg.Binary
	}
	if cfg.Args != nil {
		tool.Args = append([]string(nil), cfg.Args...)
	}
	if cfg.Target != "" {
		tool.Target = Target(cfg.Target)
	}
	if cfg.ScorePattern != "" {
		pattern, err := regexp.Compile(cfg.ScorePattern)
		if err != nil {
			return nil, fmt.Errorf("tool %s: invalid score_pattern: %w", name, err)
		}
		if pattern.NumSubexp() < 1 {
			return nil, fmt.Errorf("tool %s: score_pattern needs a capture group", name)
		}
		tool.Pattern = pattern
	}
	if cfg.HigherIsBetter != nil {
		tool.Higher = *cfg.HigherIsBetter
	}
	if cfg.SilentZero != nil {
		tool.SilentZero = *cfg.SilentZero
	}
	if tool.Pattern == nil {
		return nil, fmt.Errorf("tool %s: score_pattern is required", name)
	}
	return tool, nil
}

// Names lists the configured tools in evaluation order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for _, t := range r.tools {
		names = append(names, t.ToolName)
	}
	return names
}

// Available returns the tools whose binary is on PATH. Missing tools are
// logged and skipped; when none remain it returns ErrToolUnavailable.
func (r *Registry) Available() ([]Tool, error) {
	var tools []Tool
	for _, t := range r.tools {
		if _, err := r.lookPath(t.BinaryName); err != nil {
			r.logger.Warn("tool not found, skipping", "tool", t.ToolName, "binary", t.BinaryName)
			continue
		}
		tools = append(tools, t)
	}
	if len(tools) == 0 {
		return nil, fmt.Errorf("%w (looked for %v)", ErrToolUnavailable, r.Names())
	}
	return tools, nil
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
