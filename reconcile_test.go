package gitkeywords

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubQuerier struct {
	tracked   []string
	diffs     map[Range]Diff
	dirty     []string
	listCalls int
	dirtyErr  error
}

func (s *stubQuerier) ListFiles(context.Context) ([]string, error) {
	s.listCalls++

	return s.tracked, nil
}

func (s *stubQuerier) ModifiedFiles(_ context.Context, refA, refB string) (Diff, error) {
	d, found := s.diffs[Range{From: refA, To: refB}]
	if !found {
		return Diff{}, &CommandError{Argv: []string{"git", "diff-tree"}, ExitCode: 129}
	}

	return d, nil
}

func (s *stubQuerier) UncommittedChanges(context.Context) ([]string, error) {
	return s.dirty, s.dirtyErr
}

func touch(t *testing.T, root string, files ...string) {
	t.Helper()

	for _, f := range files {
		fn := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(fn), 0o755))
		require.NoError(t, os.WriteFile(fn, []byte("$Id$\n"), 0o644))
	}
}

func TestSubtract(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name       string
		candidates []string
		dirty      []string
		want       []string
	}{
		{
			name:       "dirty file is dropped",
			candidates: []string{"a.py", "b.py", "c.py"},
			dirty:      []string{"b.py"},
			want:       []string{"a.py", "c.py"},
		},
		{
			name:       "sorted and unique",
			candidates: []string{"z.md", "a.md", "z.md"},
			want:       []string{"a.md", "z.md"},
		},
		{
			name:       "everything dirty",
			candidates: []string{"a"},
			dirty:      []string{"a", "b"},
			want:       []string{},
		},
		{
			name: "nothing at all",
			want: []string{},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := Subtract(tc.candidates, tc.dirty)
			assert.Equal(t, tc.want, got)
			for _, d := range tc.dirty {
				assert.NotContains(t, got, d)
			}
		})
	}
}

func TestReconcile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	touch(t, root, "a.py", "b.py", "c.py")

	q := &stubQuerier{
		diffs: map[Range]Diff{
			{From: "HEAD~1", To: "HEAD"}: {Outcome: DiffFiles, Files: []string{"c.py", "a.py", "b.py"}},
		},
		dirty: []string{"b.py"},
	}

	files, err := NewReconciler(q, root, nil).Reconcile(t.Context(), Range{From: "HEAD~1", To: "HEAD"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py", "c.py"}, files)
}

func TestReconcileClean(t *testing.T) {
	t.Parallel()

	q := &stubQuerier{
		diffs: map[Range]Diff{
			{From: "HEAD", To: "HEAD"}: {Outcome: DiffClean},
		},
		dirtyErr: errors.New("must not be called"),
	}

	files, err := NewReconciler(q, t.TempDir(), nil).Reconcile(t.Context(), Range{From: "HEAD", To: "HEAD"})
	require.NoError(t, err)
	assert.NotNil(t, files)
	assert.Empty(t, files)
}

func TestReconcileUnbornBranch(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	touch(t, root, "README.md")

	q := &stubQuerier{
		tracked: []string{"README.md", "deleted.md"},
		diffs: map[Range]Diff{
			{From: "HEAD~1", To: "HEAD"}: {Outcome: DiffUnbornBranch},
			{From: "abc", To: "abc"}:     {Outcome: DiffUnbornBranch},
		},
	}

	files, err := NewReconciler(q, root, nil).Reconcile(t.Context(),
		Range{From: "HEAD~1", To: "HEAD"},
		Range{From: "abc", To: "abc"},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md"}, files)
	assert.Equal(t, 1, q.listCalls)
}

func TestReconcileSkipsMissingAndSpecialFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	touch(t, root, "keep.txt", "sub/deep.txt")
	require.NoError(t, os.Mkdir(filepath.Join(root, "dir.txt"), 0o755))
	if err := os.Symlink("keep.txt", filepath.Join(root, "link.txt")); err != nil {
		t.Logf("no symlink support: %s", err)
	}

	q := &stubQuerier{
		diffs: map[Range]Diff{
			{From: "a", To: "b"}: {Outcome: DiffFiles, Files: []string{"keep.txt", "gone.txt", "dir.txt", "link.txt", "sub/deep.txt"}},
			{From: "b", To: "c"}: {Outcome: DiffFiles, Files: []string{"keep.txt"}},
		},
	}

	files, err := NewReconciler(q, root, nil).Reconcile(t.Context(), Range{From: "a", To: "b"}, Range{From: "b", To: "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.txt", "sub/deep.txt"}, files)
}

func TestReconcileErrors(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	touch(t, root, "a.py")

	q := &stubQuerier{}
	_, err := NewReconciler(q, root, nil).Reconcile(t.Context(), Range{From: "x", To: "y"})
	require.Error(t, err)
	assert.Equal(t, 129, ExitCode(err))

	q = &stubQuerier{
		diffs: map[Range]Diff{
			{From: "x", To: "y"}: {Outcome: DiffFiles, Files: []string{"a.py"}},
		},
		dirtyErr: &CommandError{Argv: []string{"git", "status"}, ExitCode: 128},
	}
	_, err = NewReconciler(q, root, nil).Reconcile(t.Context(), Range{From: "x", To: "y"})
	require.Error(t, err)
	assert.Equal(t, 128, ExitCode(err))
}

func TestRangeString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "HEAD", Range{From: "HEAD", To: "HEAD"}.String())
	assert.Equal(t, "ORIG_HEAD..HEAD", Range{From: "ORIG_HEAD", To: "HEAD"}.String())
}
