package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ToolConfig overrides or defines one analysis tool. Empty fields inherit
// the built-in definition of the same name.
type ToolConfig struct {
	Binary         string   `mapstructure:"binary"`
	Args           []string `mapstructure:"args"`
	Target         string   `mapstructure:"target"`
	ScorePattern   string   `mapstructure:"score_pattern"`
	HigherIsBetter *bool    `mapstructure:"higher_is_better"`
	// SilentZero scores a clean exit with no output as 0.
	SilentZero *bool `mapstructure:"silent_zero"`
	Enabled    *bool `mapstructure:"enabled"`
}

// Config holds every setting of a comparison run.
type Config struct {
	Depth        int                   `mapstructure:"depth"`
	Suffixes     []string              `mapstructure:"suffixes"`
	Languages    []string              `mapstructure:"languages"`
	Exclude      []string              `mapstructure:"exclude"`
	SkipVendored bool                  `mapstructure:"skip_vendored"`
	Select       []string              `mapstructure:"select"`
	Tools        map[string]ToolConfig `mapstructure:"tools"`
	Jobs         int                   `mapstructure:"jobs"`
	KeepGoing    bool                  `mapstructure:"keep_going"`
	ParseFailure string                `mapstructure:"parse_failure"`
	Output       string                `mapstructure:"output"`
	NoColor      bool                  `mapstructure:"no_color"`
}

const (
	DefaultDepth        = 50
	DefaultJobs         = 1
	DefaultParseFailure = "fail"
	DefaultOutput       = "table"
	RepoConfigName      = ".qualgate.yaml"
	DefaultConfigDir    = "qualgate"
	DefaultConfigName   = "config.yaml"
	EnvPrefix           = "QUALGATE"
)

var (
	parseFailurePolicies = []string{"fail", "skip", "zero"}
	outputFormats        = []string{"table", "json", "yaml"}
)

// InitConfig wires viper to the first config file found and the
// QUALGATE_* environment. A missing file is not an error.
func InitConfig(cfgFile, repoDir string) error {
	setDefaults()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	path := cfgFile
	if path == "" {
		path = findConfigFile(repoDir)
	}
	if path == "" {
		return nil
	}

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || (cfgFile == "" && os.IsNotExist(err)) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("depth", DefaultDepth)
	viper.SetDefault("suffixes", []string{".go"})
	viper.SetDefault("languages", []string{})
	viper.SetDefault("exclude", []string{})
	viper.SetDefault("skip_vendored", true)
	viper.SetDefault("select", []string{})
	viper.SetDefault("jobs", DefaultJobs)
	viper.SetDefault("keep_going", false)
	viper.SetDefault("parse_failure", DefaultParseFailure)
	viper.SetDefault("output", DefaultOutput)
	viper.SetDefault("no_color", false)
}

// findConfigFile returns the repository config if present, else the user config.
func findConfigFile(repoDir string) string {
	var candidates []string
	if repoDir != "" {
		candidates = append(candidates, filepath.Join(repoDir, RepoConfigName))
	}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, DefaultConfigDir, DefaultConfigName))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

// GetConfig decodes and validates the current configuration.
func GetConfig() (*Config, error) {
	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.ParseFailure = strings.ToLower(strings.TrimSpace(c.ParseFailure))
	c.Output = strings.ToLower(strings.TrimSpace(c.Output))
	c.Suffixes = trimAll(c.Suffixes)
	c.Languages = trimAll(c.Languages)
	c.Exclude = trimAll(c.Exclude)
	c.Select = trimAll(c.Select)
}

// Validate rejects settings a run cannot honor.
func (c *Config) Validate() error {
	if c.Depth < 0 {
		return fmt.Errorf("depth must not be negative: %d", c.Depth)
	}
	if c.Jobs < 1 {
		return fmt.Errorf("jobs must be at least 1: %d", c.Jobs)
	}
	if !contains(parseFailurePolicies, c.ParseFailure) {
		return fmt.Errorf("invalid parse_failure %q (want one of %s)", c.ParseFailure, strings.Join(parseFailurePolicies, ", "))
	}
	if !contains(outputFormats, c.Output) {
		return fmt.Errorf("invalid output %q (want one of %s)", c.Output, strings.Join(outputFormats, ", "))
	}
	for name, tool := range c.Tools {
		if tool.Target != "" && tool.Target != "files" && tool.Target != "packages" {
			return fmt.Errorf("tool %s: invalid target %q (want files or packages)", name, tool.Target)
		}
	}
	return nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		// Env values arrive as one comma separated string.
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
