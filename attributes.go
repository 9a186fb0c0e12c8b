package gitkeywords

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gopasspw/gopass/pkg/debug"
)

// FilterName is the name of the git filter driver.
const FilterName = "rcs-keywords"

// DefaultPatterns are the file patterns registered by default.
var DefaultPatterns = []string{
	"*.sql", "*.ora", "*.txt", "*.md", "*.yml", "*.yaml", "*.hosts",
	"*.xml", "*.jsn", "*.json", "*.pl", "*.py", "*.sh",
}

// Attributes is the content of a gitattributes file.
type Attributes struct {
	path  string
	lines []string
}

// LoadAttributes reads the attributes file at fn. A missing file is empty.
func LoadAttributes(fn string) (*Attributes, error) {
	a := &Attributes{path: fn}

	fh, err := os.Open(fn)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return a, nil
		}

		return nil, err
	}
	defer fh.Close() //nolint:errcheck

	s := bufio.NewScanner(fh)
	for s.Scan() {
		a.lines = append(a.lines, s.Text())
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", fn, err)
	}

	return a, nil
}

// Patterns returns the patterns which select the keyword filter.
func (a *Attributes) Patterns() []string {
	var out []string
	for _, l := range a.lines {
		fields := strings.Fields(l)
		if len(fields) < 2 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		for _, attr := range fields[1:] {
			if attr == "filter="+FilterName {
				out = append(out, fields[0])

				break
			}
		}
	}

	return out
}

// SetPatterns replaces every line mentioning the filter with one line per
// pattern, padded so the attributes line up.
func (a *Attributes) SetPatterns(patterns []string) {
	a.RemoveFilter()

	width := 0
	for _, p := range patterns {
		width = max(width, len(p))
	}
	for _, p := range patterns {
		a.lines = append(a.lines, fmt.Sprintf("%-*s filter=%s", width, p, FilterName))
	}
}

// RemoveFilter drops every line mentioning the filter.
func (a *Attributes) RemoveFilter() {
	kept := a.lines[:0]
	for _, l := range a.lines {
		if strings.Contains(strings.ToLower(l), FilterName) {
			continue
		}
		kept = append(kept, l)
	}
	a.lines = kept
}

// Write persists the attributes file. An empty file is removed.
func (a *Attributes) Write() error {
	if len(a.lines) == 0 {
		if err := os.Remove(a.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", a.path, err)
		}

		return nil
	}

	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", a.path, err)
	}
	content := strings.Join(a.lines, "\n") + "\n"
	if err := os.WriteFile(a.path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", a.path, err)
	}
	debug.V(1).Log("wrote attributes to %s", a.path)

	return nil
}

// Match reports whether the repository relative path p is selected by one
// of the filter patterns. Patterns without a slash match the base name,
// others are anchored at the repository root.
func (a *Attributes) Match(p string) bool {
	for _, pattern := range a.Patterns() {
		if matchAttributePattern(pattern, p) {
			return true
		}
	}

	return false
}

func matchAttributePattern(pattern, p string) bool {
	subject := p
	if !strings.Contains(strings.TrimSuffix(pattern, "/"), "/") {
		subject = path.Base(p)
	} else {
		pattern = strings.TrimPrefix(pattern, "/")
	}

	ok, err := globMatch(pattern, subject)
	if err != nil {
		debug.V(1).Log("invalid attribute pattern %q: %s", pattern, err)

		return false
	}

	return ok
}
