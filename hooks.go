package gitkeywords

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Event is a git hook name.
type Event string

// The hook events which refresh keyword expansions.
const (
	PostCheckout Event = "post-checkout"
	PostCommit   Event = "post-commit"
	PostMerge    Event = "post-merge"
	PostRewrite  Event = "post-rewrite"
)

// Events lists every hook installed by the Installer.
var Events = []Event{PostCheckout, PostCommit, PostMerge, PostRewrite}

// ParseEvent validates a hook name.
func ParseEvent(name string) (Event, error) {
	for _, e := range Events {
		if string(e) == name {
			return e, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownEvent, name)
}

// Ranges turns the arguments git passes to a hook into the commit ranges
// whose files must be refreshed. No ranges and no error means there is
// nothing to do. Only post-rewrite reads stdin.
func Ranges(event Event, args []string, stdin io.Reader) ([]Range, error) {
	switch event {
	case PostCheckout:
		if len(args) < 3 {
			return nil, fmt.Errorf("%w: %s wants <prev-head> <new-head> <flag>, got %d args", ErrInvalidHookArgs, event, len(args))
		}
		// a file checkout, commit metadata of the branch is not settled yet
		if args[2] == "0" {
			return nil, nil
		}

		return []Range{{From: args[0], To: args[1]}}, nil
	case PostCommit:
		return []Range{{From: "HEAD~1", To: "HEAD"}}, nil
	case PostMerge:
		return []Range{{From: "ORIG_HEAD", To: "HEAD"}}, nil
	case PostRewrite:
		if stdin == nil {
			return nil, nil
		}

		return rewrittenRanges(stdin)
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
}

// rewrittenRanges parses the "<old-sha> <new-sha> [<extra>]" lines of the
// post-rewrite hook into one single commit range per new commit.
func rewrittenRanges(r io.Reader) ([]Range, error) {
	var out []Range

	s := bufio.NewScanner(r)
	for s.Scan() {
		fields := strings.Fields(s.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: post-rewrite line %q", ErrInvalidHookArgs, s.Text())
		}
		out = append(out, Range{From: fields[1], To: fields[1]})
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rewritten commits: %w", err)
	}

	return out, nil
}

// checkouter is the part of Git the Refresher needs.
type checkouter interface {
	Checkout(ctx context.Context, path string) error
}

// Refresher removes files and checks them out again, which makes git run
// the smudge filter on them.
type Refresher struct {
	git  checkouter
	root string
	log  *zap.Logger
}

// NewRefresher returns a Refresher for the work tree at root.
func NewRefresher(git checkouter, root string, log *zap.Logger) *Refresher {
	if log == nil {
		log = zap.NewNop()
	}

	return &Refresher{
		git:  git,
		root: root,
		log:  log,
	}
}

// Refresh processes files in order and stops at the first failure.
func (r *Refresher) Refresh(ctx context.Context, files []string) error {
	for _, f := range files {
		fn := filepath.Join(r.root, filepath.FromSlash(f))
		// someone else may have removed it already
		if err := os.Remove(fn); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w %s: %w", ErrRefresh, f, err)
		}
		if err := r.git.Checkout(ctx, f); err != nil {
			return fmt.Errorf("%w %s: %w", ErrRefresh, f, err)
		}
		r.log.Debug("refreshed file", zap.String("file", f))
	}

	return nil
}

// Hook runs the refresh for one hook invocation.
type Hook struct {
	reconciler *Reconciler
	refresher  *Refresher
	log        *zap.Logger
}

// NewHook wires a Hook for the work tree at root.
func NewHook(git *Git, root string, log *zap.Logger) *Hook {
	if log == nil {
		log = zap.NewNop()
	}

	return &Hook{
		reconciler: NewReconciler(git, root, log),
		refresher:  NewRefresher(git, root, log),
		log:        log,
	}
}

// Run handles event and returns the number of refreshed files.
func (h *Hook) Run(ctx context.Context, event Event, args []string, stdin io.Reader) (int, error) {
	ranges, err := Ranges(event, args, stdin)
	if err != nil {
		return 0, err
	}
	if len(ranges) == 0 {
		h.log.Debug("nothing to do", zap.String("event", string(event)), zap.Strings("args", args))

		return 0, nil
	}

	files, err := h.reconciler.Reconcile(ctx, ranges...)
	if err != nil {
		return 0, err
	}

	if err := h.refresher.Refresh(ctx, files); err != nil {
		return 0, err
	}

	h.log.Info("refreshed keywords", zap.String("event", string(event)), zap.Int("files", len(files)))

	return len(files), nil
}
