package gitkeywords

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var testAttrs = &CommitAttributes{
	Hash:        "abc123",
	ShortHash:   "abc1",
	AuthorName:  "J Doe",
	AuthorEmail: "j@x.com",
	Date:        "2024-01-01 10:00:00 -0500",
	Path:        "src/foo.py",
}

func staticLookup(attrs *CommitAttributes) LookupFunc {
	return func(context.Context, string) (*CommitAttributes, error) {
		return attrs, nil
	}
}

func smudge(t *testing.T, in string, attrs *CommitAttributes) string {
	t.Helper()

	buf := &bytes.Buffer{}
	require.NoError(t, NewFilter(nil).Smudge(t.Context(), buf, strings.NewReader(in), "src/foo.py", staticLookup(attrs)))

	return buf.String()
}

func clean(t *testing.T, in string) string {
	t.Helper()

	buf := &bytes.Buffer{}
	require.NoError(t, NewFilter(nil).Clean(buf, strings.NewReader(in), "src/foo.py"))

	return buf.String()
}

func TestSmudgeID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "version = $Id:       foo.py | 2024-01-01 10:00:00 -0500 | J Doe $\n",
		smudge(t, "version = $Id$\n", testAttrs))
}

func TestSmudgeWithoutHistory(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "version = $Id$\n", smudge(t, "version = $Id$\n", nil))
	// an old expansion is collapsed, not kept
	assert.Equal(t, "version = $Id$", smudge(t, "version = $Id: old $", nil))
}

func TestCleanID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "version = $Id$\n",
		clean(t, "version = $Id:       foo.py | 2024-01-01 10:00:00 -0500 | J Doe $\n"))
}

func TestExpandedValues(t *testing.T) {
	t.Parallel()

	repl := Expanded(testAttrs, "src/foo.py")
	for _, tc := range []struct {
		kw   Keyword
		want string
	}{
		{Author, "$Author:   J Doe <j@x.com> $"},
		{Date, "$Date:     2024-01-01 10:00:00 -0500 $"},
		{File, "$File:     foo.py $"},
		{Hash, "$Hash:     abc123 $"},
		{ID, "$Id:       foo.py | 2024-01-01 10:00:00 -0500 | J Doe $"},
		{Rev, "$Rev:      2024-01-01 10:00:00 -0500 $"},
		{Revision, "$Revision: 2024-01-01 10:00:00 -0500 $"},
		{Source, "$Source:   src/foo.py $"},
	} {
		assert.Equal(t, tc.want, repl[tc.kw], tc.kw)
	}
}

func TestSubstituteCaseInsensitive(t *testing.T) {
	t.Parallel()

	repl := Expanded(testAttrs, "src/foo.py")
	for _, in := range []string{"$AUTHOR$", "$author$", "$Author$", "$aUtHoR: someone else $"} {
		assert.Equal(t, "$Author:   J Doe <j@x.com> $", string(Substitute([]byte(in), repl)), in)
	}
}

func TestSubstituteLeavesOtherText(t *testing.T) {
	t.Parallel()

	repl := Unexpanded()
	for _, in := range []string{
		"",
		"no keywords here\n",
		"costs $5\n",
		"$Unknown$ $HOME$\n",
		"$Id is not closed\n",
		"price: $10 and $20\n",
	} {
		assert.Equal(t, in, string(Substitute([]byte(in), repl)), in)
	}
}

func TestSubstituteSeveralPerLine(t *testing.T) {
	t.Parallel()

	repl := Expanded(testAttrs, "src/foo.py")
	out := string(Substitute([]byte("$Rev$ by $Author$ ($Hash$)\n"), repl))
	assert.Equal(t, "$Rev:      2024-01-01 10:00:00 -0500 $ by $Author:   J Doe <j@x.com> $ ($Hash:     abc123 $)\n", out)
}

func TestCleanIdempotent(t *testing.T) {
	t.Parallel()

	for _, in := range []string{
		"version = $Id$\n",
		"$Date: 2020-01-01 $ and $Rev: 1 $\n",
		"nothing\n",
		"$Source$$File$\n",
	} {
		once := clean(t, in)
		assert.Equal(t, once, clean(t, once), in)
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	hostile := &CommitAttributes{
		Hash:        "abc$123",
		ShortHash:   "abc",
		AuthorName:  "Evil $Id$\nName",
		AuthorEmail: "e$@x.com\r",
		Date:        "2024-01-01",
	}

	for _, in := range []string{
		"version = $Id$\n",
		"$Author$ $Date$ $File$ $Hash$ $Id$ $Rev$ $Revision$ $Source$\n",
		"$Id$$Id$\n",
		"line one\r\n$Hash$\r\nline three",
		"$Id: stale | value $ $Hash$\n",
	} {
		for _, attrs := range []*CommitAttributes{testAttrs, hostile, nil} {
			assert.Equal(t, clean(t, in), clean(t, smudge(t, in, attrs)), in)
		}
	}
}

func TestSmudgeKeepsLineEndings(t *testing.T) {
	t.Parallel()

	out := smudge(t, "a\r\n$Hash$\r\nb", testAttrs)
	assert.Equal(t, "a\r\n$Hash:     abc123 $\r\nb", out)
}

func TestSmudgeLazyLookup(t *testing.T) {
	t.Parallel()

	calls := 0
	lookup := func(context.Context, string) (*CommitAttributes, error) {
		calls++

		return testAttrs, nil
	}

	f := NewFilter(nil)
	buf := &bytes.Buffer{}
	require.NoError(t, f.Smudge(t.Context(), buf, strings.NewReader("no keywords\n$ only one\n"), "x", lookup))
	assert.Equal(t, 0, calls)

	buf.Reset()
	require.NoError(t, f.Smudge(t.Context(), buf, strings.NewReader("$Id$\n$Hash$\n$Rev$\n"), "x", lookup))
	assert.Equal(t, 1, calls)
}

func TestSmudgeLookupError(t *testing.T) {
	t.Parallel()

	lookup := func(context.Context, string) (*CommitAttributes, error) {
		return nil, ErrMultipleCommits
	}

	err := NewFilter(nil).Smudge(t.Context(), &bytes.Buffer{}, strings.NewReader("$Id$\n"), "x", lookup)
	require.ErrorIs(t, err, ErrMultipleCommits)
	assert.Equal(t, 3, ExitCode(err))
}

func TestInvalidUTF8PassesThrough(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	f := NewFilter(zap.New(core))

	in := "$Id$ \xff\xfe\n$Id$ \xff\n$Hash$\n"
	buf := &bytes.Buffer{}
	require.NoError(t, f.Smudge(t.Context(), buf, strings.NewReader(in), "bin.txt", staticLookup(testAttrs)))

	assert.Equal(t, "$Id$ \xff\xfe\n$Id$ \xff\n$Hash:     abc123 $\n", buf.String())
	// logged once per stream
	assert.Equal(t, 1, logs.Len())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestFilterIOErrors(t *testing.T) {
	t.Parallel()

	f := NewFilter(nil)

	err := f.Clean(failingWriter{}, strings.NewReader("$Id$\n"), "")
	require.ErrorIs(t, err, ErrSubstitution)
	assert.Equal(t, 2, ExitCode(err))

	err = f.Clean(&bytes.Buffer{}, failingReader{}, "")
	require.ErrorIs(t, err, ErrSubstitution)
	assert.Contains(t, err.Error(), UnknownFile)
}

func TestKeywordUnexpanded(t *testing.T) {
	t.Parallel()

	for _, k := range Keywords {
		assert.Equal(t, "$"+string(k)+"$", k.Unexpanded())
		assert.Equal(t, k.Unexpanded(), Unexpanded()[k])
	}
}
