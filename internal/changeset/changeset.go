// Package changeset selects the changed files a quality gate looks at.
package changeset

import (
	"context"
	"errors"
	"path"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
	"github.com/src-d/enry/v2"

	"github.com/samzong/qualgate/internal/git"
	"github.com/samzong/qualgate/internal/revision"
	"github.com/samzong/qualgate/internal/stringsutil"
)

// ErrNothingToCheck is returned when no changed file survives the filter.
var ErrNothingToCheck = errors.New("nothing to check")

// DefaultSuffixes selects Go sources.
var DefaultSuffixes = []string{".go"}

// Set is the ordered list of changed paths, relative to the repository root.
type Set struct {
	Files []string `json:"files" yaml:"files"`
}

func (s Set) Len() int { return len(s.Files) }

// Filter decides which changed paths are analyzed. A path is kept when it
// passes every configured check.
type Filter struct {
	Suffixes     []string
	Languages    []string
	Exclude      []string
	SkipVendored bool
}

type matcher struct {
	suffixes     []string
	languages    []string
	exclude      *ignore.GitIgnore
	skipVendored bool
}

func (f Filter) compile() *matcher {
	m := &matcher{
		suffixes:     f.Suffixes,
		languages:    f.Languages,
		skipVendored: f.SkipVendored,
	}
	if len(m.suffixes) == 0 {
		m.suffixes = DefaultSuffixes
	}
	if len(f.Exclude) > 0 {
		m.exclude = ignore.CompileIgnoreLines(f.Exclude...)
	}
	return m
}

func (m *matcher) keep(name string) bool {
	if !m.hasSuffix(name) {
		return false
	}
	if m.exclude != nil && m.exclude.MatchesPath(name) {
		return false
	}
	if m.skipVendored && enry.IsVendor(name) {
		return false
	}
	if len(m.languages) > 0 {
		lang := enry.GetLanguage(path.Base(name), nil)
		if lang == "" || !stringsutil.ContainsFold(m.languages, lang) {
			return false
		}
	}
	return true
}

func (m *matcher) hasSuffix(name string) bool {
	for _, suffix := range m.suffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// Apply filters names in order.
func (f Filter) Apply(names []string) Set {
	m := f.compile()
	files := make([]string, 0, len(names))
	for _, name := range names {
		if m.keep(name) {
			files = append(files, name)
		}
	}
	return Set{Files: files}
}

// Compute lists files changed between the pair's commits and filters them.
// Deleted files stay in the set; the metric runner narrows each side to
// the files that exist there.
func Compute(ctx context.Context, client *git.Client, pair revision.Pair, filter Filter) (Set, error) {
	names, err := client.DiffNames(ctx, pair.Previous, pair.Current)
	if err != nil {
		return Set{}, err
	}
	set := filter.Apply(names)
	if set.Len() == 0 {
		return set, ErrNothingToCheck
	}
	return set, nil
}
