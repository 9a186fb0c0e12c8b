package gitkeywords

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gopasspw/gopass/pkg/set"
	"go.uber.org/zap"
)

// Querier is the part of Git the Reconciler needs.
type Querier interface {
	ListFiles(ctx context.Context) ([]string, error)
	ModifiedFiles(ctx context.Context, refA, refB string) (Diff, error)
	UncommittedChanges(ctx context.Context) ([]string, error)
}

var _ Querier = (*Git)(nil)

// Range is a pair of commit references. From and To may be equal, in which
// case the single commit is compared with its parent.
type Range struct {
	From string
	To   string
}

func (r Range) String() string {
	if r.From == r.To {
		return r.From
	}

	return r.From + ".." + r.To
}

// Reconciler decides which files must be checked out again after a git
// operation so the smudge filter sees the new commit metadata.
type Reconciler struct {
	git  Querier
	root string
	log  *zap.Logger
}

// NewReconciler returns a Reconciler for the work tree at root.
func NewReconciler(git Querier, root string, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}

	return &Reconciler{
		git:  git,
		root: root,
		log:  log,
	}
}

// Reconcile returns the sorted list of files changed by the given ranges
// that exist in the work tree and have no uncommitted changes.
func (r *Reconciler) Reconcile(ctx context.Context, ranges ...Range) ([]string, error) {
	candidates, err := r.candidates(ctx, ranges)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		r.log.Debug("no candidate files", zap.Int("ranges", len(ranges)))

		return []string{}, nil
	}

	dirty, err := r.git.UncommittedChanges(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list uncommitted changes: %w", err)
	}

	files := Subtract(candidates, dirty)
	r.log.Debug("reconciled files",
		zap.Int("candidates", len(candidates)),
		zap.Int("dirty", len(dirty)),
		zap.Strings("files", files))

	return files, nil
}

func (r *Reconciler) candidates(ctx context.Context, ranges []Range) ([]string, error) {
	var (
		out    []string
		listed bool
	)

	for _, rg := range ranges {
		diff, err := r.git.ModifiedFiles(ctx, rg.From, rg.To)
		if err != nil {
			return nil, fmt.Errorf("failed to list files modified by %s: %w", rg, err)
		}

		switch diff.Outcome {
		case DiffClean:
			r.log.Debug("nothing changed", zap.Stringer("range", rg))
		case DiffUnbornBranch:
			// no prior commit, every tracked file is new. Only ask once.
			if !listed {
				r.log.Debug("unborn branch, using all tracked files", zap.Stringer("range", rg))
				all, err := r.git.ListFiles(ctx)
				if err != nil {
					return nil, fmt.Errorf("failed to list tracked files: %w", err)
				}
				listed = true
				out = append(out, all...)
			}
		default:
			out = append(out, diff.Files...)
		}
	}

	return r.existing(out), nil
}

// existing drops every path that is not a regular file in the work tree.
// git happily reports files which have been deleted since.
func (r *Reconciler) existing(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		fi, err := os.Lstat(filepath.Join(r.root, filepath.FromSlash(p)))
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				r.log.Debug("cannot stat candidate", zap.String("file", p), zap.Error(err))
			}

			continue
		}
		if !fi.Mode().IsRegular() {
			continue
		}
		out = append(out, p)
	}

	return out
}

// Subtract returns the sorted, de-duplicated paths of candidates which are
// not in dirty.
func Subtract(candidates, dirty []string) []string {
	mask := set.Map(dirty)

	out := set.SortedFiltered(candidates, func(p string) bool {
		return !mask[p]
	})
	if out == nil {
		return []string{}
	}

	return out
}
