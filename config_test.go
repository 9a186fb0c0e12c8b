package gitkeywords

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertOnce(t *testing.T) {
	t.Parallel()

	c := &Config{
		noWrites: true,
	}

	require.NoError(t, c.Set("foo.bar", "baz"))
	assert.Equal(t, `[foo]
	bar = baz
`, c.raw.String())

	require.NoError(t, c.Set("foo.bar", "zab"))
	assert.Equal(t, `[foo]
	bar = zab
`, c.raw.String())
}

func TestSetReplacesAllValues(t *testing.T) {
	t.Parallel()

	c := ParseConfig(strings.NewReader(`[core]
	foo = bar
	foo = zab
	foo = 123
`))

	vs, found := c.GetAll("core.foo")
	assert.True(t, found)
	assert.Equal(t, []string{"bar", "zab", "123"}, vs)

	v, found := c.Get("core.foo")
	assert.True(t, found)
	assert.Equal(t, "123", v, "last value wins")

	require.NoError(t, c.Set("core.foo", "456"))
	vs, _ = c.GetAll("core.foo")
	assert.Equal(t, []string{"456"}, vs)
	assert.Equal(t, `[core]
	foo = 456
`, c.raw.String())
}

func TestInsertIntoExistingSection(t *testing.T) {
	t.Parallel()

	c := ParseConfig(strings.NewReader(`[core]
	a = 1
[filter "rcs-keywords"]
	clean = x
[user]
	name = me
`))

	require.NoError(t, c.Set("core.b", "2"))
	require.NoError(t, c.Set("filter.rcs-keywords.smudge", "y"))
	require.NoError(t, c.Set("alias.st", "status -s"))

	assert.Equal(t, `[core]
	a = 1
	b = 2
[filter "rcs-keywords"]
	clean = x
	smudge = y
[user]
	name = me
[alias]
	st = status -s
`, c.raw.String())
}

func TestNewSubsection(t *testing.T) {
	t.Parallel()

	c := ParseConfig(strings.NewReader(""))
	require.NoError(t, c.Set("filter.rcs-keywords.clean", ".git/filters/rcs-keywords filter clean %f"))

	assert.Equal(t, `[filter "rcs-keywords"]
	clean = .git/filters/rcs-keywords filter clean %f
`, c.raw.String())

	v, found := c.Get("filter.rcs-keywords.clean")
	assert.True(t, found)
	assert.Equal(t, ".git/filters/rcs-keywords filter clean %f", v)
}

func TestCommentsArePreserved(t *testing.T) {
	t.Parallel()

	c := ParseConfig(strings.NewReader(`# top comment
[core]
	; indented comment
	editor = vim # the best
	pager = "less;-R" ; quoted
`))

	v, _ := c.Get("core.editor")
	assert.Equal(t, "vim", v)
	v, _ = c.Get("core.pager")
	assert.Equal(t, "less;-R", v)

	require.NoError(t, c.Set("core.editor", "emacs"))
	assert.Equal(t, `# top comment
[core]
	; indented comment
	editor = emacs # the best
	pager = "less;-R" ; quoted
`, c.raw.String())
}

func TestParseValues(t *testing.T) {
	t.Parallel()

	c := ParseConfig(strings.NewReader(`orphan = outside of any section
[Core]
	Bare
	Editor = vim
	path = "C:\\Users\\me"
	quote = "say \"hi\""
[remote.Origin]
	url = git@example.com:x
	push = value
`))

	for _, tc := range []struct {
		key  string
		want string
	}{
		{key: "core.bare", want: "true"},
		{key: "CORE.EDITOR", want: "vim"},
		{key: "core.path", want: `C:\Users\me`},
		{key: "core.quote", want: `say "hi"`},
		{key: "remote.origin.url", want: "git@example.com:x"},
	} {
		v, found := c.Get(tc.key)
		assert.True(t, found, tc.key)
		assert.Equal(t, tc.want, v, tc.key)
	}

	assert.True(t, c.IsSet("core.bare"))
	assert.False(t, c.IsSet("core.missing"))
	assert.Equal(t, []string{"core.bare", "core.editor", "core.path", "core.quote", "remote.origin.push", "remote.origin.url"}, c.Keys())
}

func TestSetEscapes(t *testing.T) {
	t.Parallel()

	for _, value := range []string{
		"plain",
		"has # hash",
		"semi;colon",
		` leading space`,
		`back\slash`,
		`"quoted"`,
		"tab\tand\nnewline",
	} {
		c := ParseConfig(strings.NewReader(""))
		require.NoError(t, c.Set("test.value", value))

		reparsed := ParseConfig(strings.NewReader(c.raw.String()))
		v, found := reparsed.Get("test.value")
		assert.True(t, found, value)
		assert.Equal(t, value, v, c.raw.String())
	}
}

func TestUnset(t *testing.T) {
	t.Parallel()

	c := ParseConfig(strings.NewReader(`[core]
	a = 1
	b = 2
	a = 3
`))

	require.NoError(t, c.Unset("core.a"))
	require.NoError(t, c.Unset("core.missing"))
	assert.False(t, c.IsSet("core.a"))
	assert.Equal(t, `[core]
	b = 2
`, c.raw.String())
}

func TestRemoveSection(t *testing.T) {
	t.Parallel()

	in := `[core]
	a = 1
[filter "rcs-keywords"]
	clean = x
	smudge = y
[user]
	name = me
`
	c := ParseConfig(strings.NewReader(in))

	require.NoError(t, c.RemoveSection("filter", "other"))
	assert.Equal(t, in, c.raw.String())

	require.NoError(t, c.RemoveSection("Filter", "rcs-keywords"))
	assert.Equal(t, `[core]
	a = 1
[user]
	name = me
`, c.raw.String())
	assert.False(t, c.IsSet("filter.rcs-keywords.clean"))
	assert.True(t, c.IsSet("user.name"))
}

func TestOpenConfigCreatesFile(t *testing.T) {
	t.Parallel()

	fn := filepath.Join(t.TempDir(), "repo", ".git", "config")

	c, err := OpenConfig(fn)
	require.NoError(t, err)
	assert.Equal(t, fn, c.Path())
	assert.Empty(t, c.Keys())
	require.NoError(t, c.Set("rcs-keywords.loglevel", "debug"))

	buf, err := os.ReadFile(fn)
	require.NoError(t, err)
	assert.Equal(t, "[rcs-keywords]\n\tloglevel = debug\n", string(buf))

	c, err = LoadConfig(fn)
	require.NoError(t, err)
	v, _ := c.Get("rcs-keywords.loglevel")
	assert.Equal(t, "debug", v)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("GITKW_TEST_COUNT", "2")
	t.Setenv("GITKW_TEST_KEY_0", "rcs-keywords.LogLevel")
	t.Setenv("GITKW_TEST_VALUE_0", "debug")
	t.Setenv("GITKW_TEST_KEY_1", "user.name")
	t.Setenv("GITKW_TEST_VALUE_1", "")

	c := LoadConfigFromEnv("GITKW_TEST")
	v, found := c.Get("rcs-keywords.loglevel")
	assert.True(t, found)
	assert.Equal(t, "debug", v)
	assert.True(t, c.IsSet("user.name"))

	// never persisted
	require.NoError(t, c.Set("user.name", "x"))
	assert.Empty(t, c.Path())

	t.Setenv("GITKW_TEST_COUNT", "3")
	assert.Empty(t, LoadConfigFromEnv("GITKW_TEST").Keys())

	t.Setenv("GITKW_TEST_COUNT", "nope")
	assert.Empty(t, LoadConfigFromEnv("GITKW_TEST").Keys())
}
