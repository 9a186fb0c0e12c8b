package gitkeywords

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/gopasspw/gopass/pkg/debug"
	"github.com/gopasspw/gopass/pkg/set"
)

var (
	keyValueTpl = "\t%s = %s%s"
	// "The variable names are case-insensitive, allow only alphanumeric characters and -, and must start with an alphabetic character.".
	reValidKey = regexp.MustCompile(`^[a-z]+[a-z0-9-]*$`)
)

// Config is a single git config file, e.g. .git/config.
//
// The raw text is kept so rewriting the file only touches the lines that
// changed. Comments, ordering and unrelated sections survive a round trip.
//
// Config is not safe for concurrent use.
type Config struct {
	path     string
	noWrites bool // do not persist changes to disk (e.g. for tests)
	raw      strings.Builder
	vars     map[string][]string
}

// ParseConfig parses a git config from r. It never fails, lines it does
// not understand are kept verbatim but ignored.
func ParseConfig(r io.Reader) *Config {
	c := &Config{
		vars: make(map[string][]string, 16),
	}

	lines := parseConfig(r, func(l parsedLine) (string, bool) {
		c.vars[l.key] = append(c.vars[l.key], l.value)

		return l.raw, false
	})
	c.setRaw(lines)

	debug.V(3).Log("parsed config:\n%s\nvars: %+v", c.raw.String(), c.vars)

	return c
}

// LoadConfig reads the git config at fn.
func LoadConfig(fn string) (*Config, error) {
	fh, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer fh.Close() //nolint:errcheck

	c := ParseConfig(fh)
	c.path = fn

	return c, nil
}

// OpenConfig is like LoadConfig but a missing file yields an empty config
// which is created on the first write.
func OpenConfig(fn string) (*Config, error) {
	c, err := LoadConfig(fn)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	debug.V(1).Log("config %s does not exist yet", fn)

	return &Config{
		path: fn,
		vars: make(map[string][]string, 4),
	}, nil
}

// LoadConfigFromEnv reads the <prefix>_COUNT, <prefix>_KEY_<n> and
// <prefix>_VALUE_<n> environment overlay git reads on top of its files.
// Invalid or missing variables yield an empty config. The result is never
// written.
func LoadConfigFromEnv(envPrefix string) *Config {
	c := &Config{
		noWrites: true,
		vars:     map[string][]string{},
	}

	count, err := strconv.Atoi(os.Getenv(envPrefix + "_COUNT"))
	if err != nil || count < 1 {
		return c
	}

	for i := range count {
		key := canonicalizeKey(os.Getenv(fmt.Sprintf("%s_KEY_%d", envPrefix, i)))
		value, found := os.LookupEnv(fmt.Sprintf("%s_VALUE_%d", envPrefix, i))
		if key == "" || !found {
			debug.V(1).Log("invalid config overlay at index %d", i)

			return &Config{noWrites: true, vars: map[string][]string{}}
		}
		c.vars[key] = append(c.vars[key], value)
	}

	return c
}

// Path returns the file backing c, if any.
func (c *Config) Path() string {
	return c.path
}

// Get returns the last value of key. Like git, later values win.
func (c *Config) Get(key string) (string, bool) {
	vs := c.vars[canonicalizeKey(key)]
	if len(vs) < 1 {
		return "", false
	}

	return vs[len(vs)-1], true
}

// GetAll returns all values of key in file order.
func (c *Config) GetAll(key string) ([]string, bool) {
	vs, found := c.vars[canonicalizeKey(key)]

	return vs, found
}

// IsSet reports whether key is present, even with an empty value.
func (c *Config) IsSet(key string) bool {
	_, found := c.vars[canonicalizeKey(key)]

	return found
}

// Keys returns all keys, sorted.
func (c *Config) Keys() []string {
	return set.SortedKeys(c.vars)
}

// Set replaces all values of key with value, or adds it to the end of its
// section (creating the section if necessary). Changes are written to disk
// if the config has a path.
func (c *Config) Set(key, value string) error {
	ckey := canonicalizeKey(key)
	if ckey == "" {
		return fmt.Errorf("invalid key: %q", key)
	}

	if vs := c.vars[ckey]; len(vs) == 1 && vs[0] == value {
		debug.V(1).Log("key %q with value %q already present. Not re-writing.", ckey, value)

		return nil
	}

	_, present := c.vars[ckey]
	if c.vars == nil {
		c.vars = make(map[string][]string, 4)
	}
	c.vars[ckey] = []string{value}

	if !present {
		c.insert(ckey, value)

		return c.Write()
	}

	updated := false
	lines := parseConfig(strings.NewReader(c.raw.String()), func(l parsedLine) (string, bool) {
		if l.key != ckey {
			return l.raw, false
		}
		// first occurrence is rewritten, others are dropped
		if updated {
			return "", true
		}
		updated = true

		return formatKeyValue(l.name, value, l.comment), false
	})
	c.setRaw(lines)

	return c.Write()
}

// insert adds a new key below the last line of its section.
func (c *Config) insert(key, value string) {
	wSection, wSubsection, wKey := splitKey(key)

	lines := strings.Split(strings.TrimSuffix(c.raw.String(), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		lines = lines[:0]
	}

	at := -1
	var section, subsection string
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "[") {
			section, subsection, _ = parseSectionHeader(line)
		}
		if section == wSection && subsection == wSubsection && line != "" &&
			!strings.HasPrefix(line, "#") && !strings.HasPrefix(line, ";") {
			at = i
		}
	}

	kv := formatKeyValue(wKey, value, "")
	if at < 0 {
		header := fmt.Sprintf("[%s]", wSection)
		if wSubsection != "" {
			header = fmt.Sprintf("[%s %q]", wSection, wSubsection)
		}
		lines = append(lines, header, kv)
	} else {
		lines = append(lines[:at+1], append([]string{kv}, lines[at+1:]...)...)
	}

	c.setRaw(lines)
}

// Unset removes every value of key.
func (c *Config) Unset(key string) error {
	ckey := canonicalizeKey(key)
	if _, present := c.vars[ckey]; !present {
		return nil
	}
	delete(c.vars, ckey)

	lines := parseConfig(strings.NewReader(c.raw.String()), func(l parsedLine) (string, bool) {
		return l.raw, l.key == ckey
	})
	c.setRaw(lines)

	return c.Write()
}

// RemoveSection drops a whole section, like git config --remove-section.
// Removing a section which does not exist is not an error.
func (c *Config) RemoveSection(section, subsection string) error {
	section = strings.ToLower(section)
	prefix := section + "."
	if subsection != "" {
		prefix += subsection + "."
	}

	s := bufio.NewScanner(strings.NewReader(c.raw.String()))
	lines := make([]string, 0, 64)
	inside, removed := false, false
	for s.Scan() {
		line := s.Text()
		if t := strings.TrimSpace(line); strings.HasPrefix(t, "[") {
			sec, subs, _ := parseSectionHeader(t)
			inside = strings.ToLower(sec) == section && subs == subsection
			removed = removed || inside
		}
		if inside {
			continue
		}
		lines = append(lines, line)
	}
	if !removed {
		return nil
	}

	for k := range c.vars {
		if sec, subs, _ := splitKey(k); sec == section && subs == subsection {
			delete(c.vars, k)
		}
	}
	debug.V(1).Log("removed section %s from %s", strings.TrimSuffix(prefix, "."), c.path)

	c.setRaw(lines)

	return c.Write()
}

// Write persists the config, unless it has no path or writes are disabled.
func (c *Config) Write() error {
	if c.noWrites || c.path == "" {
		debug.V(3).Log("not writing changes to disk (noWrites %t, path %q)", c.noWrites, c.path)

		return nil
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory %q for %q: %w", filepath.Dir(c.path), c.path, err)
	}

	if err := os.WriteFile(c.path, []byte(c.raw.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write config to %s: %w", c.path, err)
	}

	debug.V(1).Log("wrote config to %s", c.path)

	return nil
}

func (c *Config) setRaw(lines []string) {
	c.raw = strings.Builder{}
	for _, l := range lines {
		c.raw.WriteString(l)
		c.raw.WriteString("\n")
	}
}

func formatKeyValue(key, value, comment string) string {
	return fmt.Sprintf(keyValueTpl, key, escapeValue(value), comment)
}

func parseSectionHeader(line string) (section, subsection string, skip bool) { //nolint:nonamedreturns
	line = strings.TrimSpace(line)
	if i := strings.Index(line, "]"); i > 0 {
		line = line[:i]
	}
	line = strings.TrimPrefix(line, "[")
	if line == "" {
		return "", "", true
	}

	section, subsection, found := strings.Cut(line, " ")
	if !found {
		// deprecated [section.subsection] syntax
		if sec, subs, ok := strings.Cut(line, "."); ok {
			return strings.ToLower(sec), strings.ToLower(subs), false
		}

		return strings.ToLower(line), "", false
	}

	subsection = strings.TrimSpace(subsection)
	subsection = strings.TrimPrefix(subsection, `"`)
	subsection = strings.TrimSuffix(subsection, `"`)
	subsection = strings.ReplaceAll(subsection, `\"`, `"`)
	subsection = strings.ReplaceAll(subsection, `\\`, `\`)

	return strings.ToLower(section), subsection, false
}

// parsedLine is a key-value line handed to a parseFunc.
type parsedLine struct {
	key     string // canonical, fully qualified key
	name    string // key name as written in the file
	value   string
	comment string
	raw     string
}

// parseFunc returns the line to keep in place of the parsed one, or
// skip to drop it.
type parseFunc func(l parsedLine) (newLine string, skip bool)

// parseConfig walks a git config line by line. Every line is kept
// unaltered unless it is a key-value line, in which case cb decides.
func parseConfig(in io.Reader, cb parseFunc) []string {
	s := bufio.NewScanner(in)

	lines := make([]string, 0, 64)
	var section, subsection string
	for s.Scan() {
		fullLine := s.Text()
		line := strings.TrimSpace(fullLine)

		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			lines = append(lines, fullLine)

			continue
		}

		if strings.HasPrefix(line, "[") {
			sec, subs, skip := parseSectionHeader(line)
			if !skip {
				section, subsection = sec, subs
			}
			lines = append(lines, fullLine)

			continue
		}

		k, v, found := strings.Cut(line, "=")
		if !found {
			// bare boolean
			k, v = line, "true"
		}
		name := strings.TrimSpace(k)
		k = strings.ToLower(name)
		if section == "" || !reValidKey.MatchString(k) {
			debug.V(3).Log("no valid KV-pair on line: %q", line)
			lines = append(lines, fullLine)

			continue
		}

		value, comment := splitValueComment(strings.TrimSpace(v))
		l := parsedLine{
			key:     joinKey(section, subsection, k),
			name:    name,
			value:   unescapeValue(value),
			comment: comment,
			raw:     fullLine,
		}

		newLine, skip := cb(l)
		if skip {
			continue
		}
		lines = append(lines, newLine)
	}

	return lines
}
