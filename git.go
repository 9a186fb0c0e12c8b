package gitkeywords

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"

	// exit code of git for fatal errors like unknown revisions.
	gitFatalExitCode = 128
	// git diff-tree prints this (instead of paths) on some versions when
	// there is nothing to report.
	cleanMarker = "clean"
)

// logFormat are the git log format codes, in the order of the parsed fields.
var logFormat = []string{"%H", "%h", "%an", "%ae", "%ci"}

// DiffOutcome tags the result of a diff-tree query.
type DiffOutcome int

const (
	// DiffFiles means git reported a (possibly empty) list of files.
	DiffFiles DiffOutcome = iota
	// DiffClean means git reported the "clean" marker, i.e. no files.
	DiffClean
	// DiffUnbornBranch means one of the refs does not exist yet, e.g.
	// HEAD~1 on the very first commit.
	DiffUnbornBranch
)

func (o DiffOutcome) String() string {
	switch o {
	case DiffFiles:
		return "files"
	case DiffClean:
		return "clean"
	case DiffUnbornBranch:
		return "unborn-branch"
	}

	return fmt.Sprintf("DiffOutcome(%d)", int(o))
}

// Diff is the tagged result of Git.ModifiedFiles.
type Diff struct {
	Outcome DiffOutcome
	Files   []string
}

// Git wraps the handful of git commands the hooks and filters need.
type Git struct {
	runner Runner
	dir    string
	log    *zap.Logger
}

// NewGit returns a Git running its commands in dir.
func NewGit(r Runner, dir string, log *zap.Logger) *Git {
	if log == nil {
		log = zap.NewNop()
	}

	return &Git{
		runner: r,
		dir:    dir,
		log:    log,
	}
}

func (g *Git) run(ctx context.Context, args ...string) (Result, error) {
	c := Cmd{
		Argv: append([]string{"git"}, args...),
		Dir:  g.dir,
	}
	g.log.Debug("running git", zap.Stringer("cmd", c))

	res, err := g.runner.Run(ctx, c)
	if err != nil {
		g.log.Debug("git failed", zap.Stringer("cmd", c), zap.Int("exit_code", res.ExitCode), zap.Error(err))
	}

	return res, err
}

// ListFiles returns all tracked files.
func (g *Git) ListFiles(ctx context.Context) ([]string, error) {
	res, err := g.run(ctx, "ls-files", "-z")
	if err != nil {
		return nil, err
	}

	return splitPaths(res.Stdout), nil
}

// ModifiedFiles returns the files added, copied, modified, renamed or type
// changed between refA and refB. When both refs are equal only one is
// passed to git, which then compares that commit with its parent.
func (g *Git) ModifiedFiles(ctx context.Context, refA, refB string) (Diff, error) {
	if isNullRef(refA) || isNullRef(refB) {
		g.log.Debug("null ref, treating as unborn branch", zap.String("from", refA), zap.String("to", refB))

		return Diff{Outcome: DiffUnbornBranch}, nil
	}

	args := []string{"diff-tree", "-r", "-z", "--name-only", "--no-commit-id", "--diff-filter=ACMRT", refA}
	if refA != refB {
		args = append(args, refB)
	}

	res, err := g.run(ctx, args...)
	if err != nil {
		if isUnbornBranch(res, err) {
			return Diff{Outcome: DiffUnbornBranch}, nil
		}

		return Diff{}, err
	}

	files := splitPaths(res.Stdout)
	if len(files) > 0 && strings.TrimSpace(files[0]) == cleanMarker {
		return Diff{Outcome: DiffClean}, nil
	}

	return Diff{Outcome: DiffFiles, Files: files}, nil
}

// UncommittedChanges returns the paths git status reports as changed.
// Renames and copies report the new path.
func (g *Git) UncommittedChanges(ctx context.Context) ([]string, error) {
	res, err := g.run(ctx, "status", "-s", "-z")
	if err != nil {
		return nil, err
	}

	entries := splitPaths(res.Stdout)
	out := make([]string, 0, len(entries))
	for n := 0; n < len(entries); n++ {
		xy, p, ok := parseStatusEntry(entries[n])
		if !ok {
			continue
		}
		// the original path follows as its own entry
		if strings.ContainsAny(xy, "RC") {
			n++
		}
		out = append(out, p)
	}

	return out, nil
}

// parseStatusEntry splits a NUL terminated short status entry "XY path".
func parseStatusEntry(entry string) (string, string, bool) {
	if len(entry) < 4 || entry[2] != ' ' {
		return "", "", false
	}

	return entry[:2], entry[3:], true
}

// CommitMetadata returns the attributes of the last commit touching path.
// A file without any history yields nil and no error.
func (g *Git) CommitMetadata(ctx context.Context, path string) (*CommitAttributes, error) {
	format := strings.Join(logFormat, "%x1f") + "%x1e"
	res, err := g.run(ctx, "log", "--max-count=1", "--date=iso8601", "--format="+format, "--", path)
	if err != nil {
		return nil, err
	}

	return parseCommitMetadata(res.Stdout, path)
}

func parseCommitMetadata(out []byte, path string) (*CommitAttributes, error) {
	records := make([]string, 0, 1)
	for _, rec := range strings.Split(string(out), recordSep) {
		if rec = strings.TrimSpace(rec); rec != "" {
			records = append(records, rec)
		}
	}

	switch len(records) {
	case 0:
		return nil, nil //nolint:nilnil
	case 1:
	default:
		return nil, fmt.Errorf("%w: %d rows for %s", ErrMultipleCommits, len(records), path)
	}

	fields := strings.Split(records[0], fieldSep)
	if len(fields) != len(logFormat) {
		return nil, fmt.Errorf("%w: want %d fields, got %d", ErrMalformedLog, len(logFormat), len(fields))
	}

	return &CommitAttributes{
		Hash:        fields[0],
		ShortHash:   fields[1],
		AuthorName:  stripDomain(fields[2]),
		AuthorEmail: fields[3],
		Date:        fields[4],
		Path:        path,
	}, nil
}

// stripDomain turns a Windows style DOMAIN\user into user.
func stripDomain(name string) string {
	if i := strings.LastIndex(name, `\`); i >= 0 {
		return name[i+1:]
	}

	return name
}

// Checkout forces path to be checked out from the index again.
func (g *Git) Checkout(ctx context.Context, path string) error {
	_, err := g.run(ctx, "checkout", "-f", "--", path)

	return err
}

// HooksDir returns the hooks directory, honoring core.hooksPath and linked
// work trees. The path is relative to the work tree unless git decides
// otherwise.
func (g *Git) HooksDir(ctx context.Context) (string, error) {
	res, err := g.run(ctx, "rev-parse", "--git-path", "hooks")
	if err != nil {
		return "", err
	}

	lines := splitLines(res.Stdout)
	if len(lines) == 0 {
		return "", fmt.Errorf("%w: empty hooks path", ErrNotARepository)
	}

	return lines[0], nil
}

func isUnbornBranch(res Result, err error) bool {
	var cerr *CommandError
	if !errors.As(err, &cerr) || res.ExitCode != gitFatalExitCode {
		return false
	}

	stderr := strings.ToLower(string(res.Stderr))
	for _, hint := range []string{
		"unknown revision",
		"bad revision",
		"bad object",
		"ambiguous argument",
		"does not have any commits",
	} {
		if strings.Contains(stderr, hint) {
			return true
		}
	}

	return false
}

// isNullRef reports whether ref is git's all-zero object id, which the
// post-checkout hook passes as previous HEAD after a clone.
func isNullRef(ref string) bool {
	if len(ref) < 40 {
		return false
	}

	return strings.Trim(ref, "0") == ""
}

// splitPaths splits the NUL separated output of a -z git command. Paths are
// taken verbatim, git does not quote them in this mode.
func splitPaths(b []byte) []string {
	out := make([]string, 0, 16)
	for _, p := range bytes.Split(b, []byte{0}) {
		if len(p) == 0 {
			continue
		}
		out = append(out, string(p))
	}

	return out
}

func splitLines(b []byte) []string {
	out := make([]string, 0, 16)
	s := bufio.NewScanner(bytes.NewReader(b))
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for s.Scan() {
		line := strings.TrimRight(s.Text(), "\r")
		if line == "" {
			continue
		}
		out = append(out, line)
	}

	return out
}
