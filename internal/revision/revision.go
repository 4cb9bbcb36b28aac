// Package revision picks the two commits a quality gate compares.
package revision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/samzong/qualgate/internal/git"
	"github.com/samzong/qualgate/internal/gitutil"
	"github.com/samzong/qualgate/internal/stringsutil"
	"github.com/samzong/qualgate/internal/workspace"
)

// ErrNoParent is returned when HEAD has no first parent to compare against.
var ErrNoParent = errors.New("current commit has no parent; pass a committish to compare against")

// UncommittedMarker is appended to the displayed current commit when the
// caller's uncommitted work was folded into it.
const UncommittedMarker = "+uncommitted"

const shortLen = 8

// Pair is the resolved (current, previous) commit pair.
type Pair struct {
	Current     string `json:"current" yaml:"current"`
	Previous    string `json:"previous" yaml:"previous"`
	Uncommitted bool   `json:"uncommitted" yaml:"uncommitted"`
}

// ShortCurrent is the abbreviated current hash.
func (p Pair) ShortCurrent() string {
	return stringsutil.ShortHash(p.Current, shortLen, "unknown")
}

// ShortPrevious is the abbreviated previous hash.
func (p Pair) ShortPrevious() string {
	return stringsutil.ShortHash(p.Previous, shortLen, "unknown")
}

// DisplayCurrent labels the current side for humans.
func (p Pair) DisplayCurrent() string {
	if p.Uncommitted {
		return p.ShortCurrent() + UncommittedMarker
	}
	return p.ShortCurrent()
}

func (p Pair) String() string {
	return p.ShortPrevious() + ".." + p.DisplayCurrent()
}

type Resolver struct {
	logger *slog.Logger
}

func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger}
}

// Resolve reads the current commit from the workspace HEAD (which already
// includes replayed uncommitted work) and derives the previous commit:
// the merge base with explicit when given, else HEAD's first parent.
func (r *Resolver) Resolve(ctx context.Context, ws *workspace.Workspace, explicit string, uncommitted bool) (Pair, error) {
	client := ws.Git()
	current, err := client.Head(ctx)
	if err != nil {
		return Pair{}, fmt.Errorf("failed to resolve current commit: %w", err)
	}
	pair := Pair{Current: current, Uncommitted: uncommitted}

	if explicit == "" {
		parent, err := client.ResolveCommit(ctx, "HEAD^1")
		if err != nil {
			if errors.Is(err, git.ErrUnknownRevision) {
				return Pair{}, ErrNoParent
			}
			return Pair{}, err
		}
		pair.Previous = parent
		r.logger.Debug("comparing against first parent", "previous", pair.ShortPrevious())
		return pair, nil
	}

	target, err := r.importCommit(ctx, ws, explicit)
	if err != nil {
		return Pair{}, err
	}

	base, err := client.MergeBase(ctx, current, target)
	if errors.Is(err, git.ErrNoMergeBase) && ws.IsShallow(ctx) {
		r.logger.Debug("merge base outside shallow history", "target", explicit)
		if err := ws.Deepen(ctx); err != nil {
			return Pair{}, err
		}
		base, err = client.MergeBase(ctx, current, target)
	}
	if err != nil {
		return Pair{}, fmt.Errorf("failed to find common ancestor with %s: %w", explicit, err)
	}

	pair.Previous = base
	r.logger.Debug("comparing against merge base", "target", explicit, "previous", pair.ShortPrevious())
	return pair, nil
}

// importCommit resolves rev in the caller's repository and makes sure the
// commit exists in the workspace, fetching it when the clone lacks it.
func (r *Resolver) importCommit(ctx context.Context, ws *workspace.Workspace, rev string) (string, error) {
	if err := gitutil.ValidateCommittish(rev); err != nil {
		return "", err
	}

	hash, err := ws.SourceGit().ResolveCommit(ctx, rev)
	if err != nil {
		return "", err
	}

	client := ws.Git()
	if client.HasCommit(ctx, hash) {
		return hash, nil
	}

	r.logger.Debug("fetching commit into workspace", "rev", rev, "hash", stringsutil.ShortHash(hash, shortLen, hash))
	if err := client.Fetch(ctx, "origin", ws.Depth, hash); err != nil {
		// Older servers refuse unadvertised object ids; fall back to every ref.
		r.logger.Debug("fetch by hash refused, fetching all refs", "error", err)
		if err := client.Fetch(ctx, "origin", ws.Depth, "+refs/heads/*:refs/remotes/origin/*", "+refs/tags/*:refs/tags/*"); err != nil {
			return "", err
		}
	}
	if !client.HasCommit(ctx, hash) {
		return "", fmt.Errorf("%w: %s is not reachable from any ref", git.ErrUnknownRevision, rev)
	}
	return hash, nil
}
