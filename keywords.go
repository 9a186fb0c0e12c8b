package gitkeywords

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Keyword is one of the supported RCS keywords.
type Keyword string

// The supported keywords. Matching is case-insensitive, the rendered form
// always uses this spelling.
const (
	Author   Keyword = "Author"
	Date     Keyword = "Date"
	File     Keyword = "File"
	Hash     Keyword = "Hash"
	ID       Keyword = "Id"
	Rev      Keyword = "Rev"
	Revision Keyword = "Revision"
	Source   Keyword = "Source"
)

// Keywords lists all supported keywords in the order they are applied.
var Keywords = []Keyword{Author, ID, Date, Source, File, Revision, Rev, Hash}

// UnknownFile is the label used when git does not pass a file name.
const UnknownFile = "<unknown file>"

// Unexpanded returns the inert form of the keyword, e.g. $Id$.
func (k Keyword) Unexpanded() string {
	return "$" + string(k) + "$"
}

// expand renders the keyword with a value. The padding aligns the values
// of consecutive keyword lines.
func (k Keyword) expand(value string) string {
	return fmt.Sprintf("$%-10s%s $", string(k)+":", value)
}

// CommitAttributes is the commit metadata of one file, fetched from a single
// git log query.
type CommitAttributes struct {
	Hash        string
	ShortHash   string
	AuthorName  string
	AuthorEmail string
	Date        string
	Path        string
}

// keywordRule matches both the unexpanded ($Name$) and the expanded
// ($Name: ... $) form of every keyword. The body never crosses a '$' or a
// line break.
var keywordRule = func() *regexp.Regexp {
	names := make([]string, 0, len(Keywords))
	for _, k := range Keywords {
		names = append(names, string(k))
	}

	return regexp.MustCompile(`(?i)\$(` + strings.Join(names, "|") + `)(?::[^$\n]*)?\$`)
}()

// keywordByName resolves a case-insensitive match to its keyword.
var keywordByName = func() map[string]Keyword {
	m := make(map[string]Keyword, len(Keywords))
	for _, k := range Keywords {
		m[strings.ToLower(string(k))] = k
	}

	return m
}()

// Replacements maps every keyword to the text it is substituted with.
type Replacements map[Keyword]string

// Unexpanded returns replacements resetting every keyword to $Name$.
func Unexpanded() Replacements {
	r := make(Replacements, len(Keywords))
	for _, k := range Keywords {
		r[k] = k.Unexpanded()
	}

	return r
}

// Expanded returns the replacements for the given commit. If attrs is nil
// every keyword is rendered unexpanded.
func Expanded(attrs *CommitAttributes, filename string) Replacements {
	if attrs == nil {
		return Unexpanded()
	}

	base := sanitize(path.Base(strings.ReplaceAll(filename, `\`, "/")))
	date := sanitize(attrs.Date)
	author := sanitize(attrs.AuthorName)

	return Replacements{
		Hash:     Hash.expand(sanitize(attrs.Hash)),
		Author:   Author.expand(fmt.Sprintf("%s <%s>", author, sanitize(attrs.AuthorEmail))),
		Date:     Date.expand(date),
		Rev:      Rev.expand(date),
		Revision: Revision.expand(date),
		File:     File.expand(base),
		Source:   Source.expand(sanitize(filename)),
		ID:       ID.expand(fmt.Sprintf("%s | %s | %s", base, date, author)),
	}
}

// sanitize drops characters which would end a keyword early. Without them
// clean can always reduce an expansion back to $Name$.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '$', '\n', '\r':
			return -1
		}

		return r
	}, s)
}

// Substitute applies the replacements to a single line. Lines with fewer
// than two '$' can not hold a keyword and are returned as is.
func Substitute(line []byte, repl Replacements) []byte {
	if bytes.Count(line, []byte("$")) < 2 {
		return line
	}

	return keywordRule.ReplaceAllFunc(line, func(m []byte) []byte {
		name := m[1 : len(m)-1]
		if i := bytes.IndexByte(name, ':'); i >= 0 {
			name = name[:i]
		}
		r, found := repl[keywordByName[strings.ToLower(string(name))]]
		if !found {
			return m
		}

		return []byte(r)
	})
}

// LookupFunc fetches the commit attributes of a file.
type LookupFunc func(ctx context.Context, path string) (*CommitAttributes, error)

// Filter implements the clean and smudge directions of the keyword filter.
type Filter struct {
	log *zap.Logger
}

// NewFilter returns a Filter logging to log.
func NewFilter(log *zap.Logger) *Filter {
	if log == nil {
		log = zap.NewNop()
	}

	return &Filter{log: log}
}

// Clean resets every keyword in r to its unexpanded form. It never talks
// to git.
func (f *Filter) Clean(w io.Writer, r io.Reader, path string) error {
	repl := Unexpanded()

	return f.process(w, r, path, func() (Replacements, error) {
		return repl, nil
	})
}

// Smudge expands every keyword in r with the metadata of the last commit
// touching path. lookup is called at most once, for the first line that
// may contain a keyword.
func (f *Filter) Smudge(ctx context.Context, w io.Writer, r io.Reader, path string, lookup LookupFunc) error {
	var repl Replacements

	return f.process(w, r, path, func() (Replacements, error) {
		if repl != nil {
			return repl, nil
		}
		attrs, err := lookup(ctx, path)
		if err != nil {
			return nil, err
		}
		if attrs == nil {
			f.log.Debug("no commit history, keywords stay unexpanded", zap.String("file", path))
		}
		repl = Expanded(attrs, path)

		return repl, nil
	})
}

func (f *Filter) process(w io.Writer, r io.Reader, path string, replacements func() (Replacements, error)) error {
	if path == "" {
		path = UnknownFile
	}

	br := bufio.NewReaderSize(r, 64*1024)
	bw := bufio.NewWriterSize(w, 64*1024)

	var lines, skipped int
	for {
		line, rerr := br.ReadBytes('\n')
		if len(line) > 0 {
			lines++
			switch {
			case bytes.Count(line, []byte("$")) < 2:
			case !utf8.Valid(line):
				// pass the line through, aborting would break the checkout
				skipped++
				if skipped == 1 {
					f.log.Warn("line is not valid UTF-8, keywords not replaced",
						zap.String("file", path), zap.Int("line", lines))
				}
			default:
				repl, err := replacements()
				if err != nil {
					return err
				}
				line = Substitute(line, repl)
			}
			if _, err := bw.Write(line); err != nil {
				return fmt.Errorf("%w: writing %s: %w", ErrSubstitution, path, err)
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return fmt.Errorf("%w: reading %s: %w", ErrSubstitution, path, rerr)
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: writing %s: %w", ErrSubstitution, path, err)
	}

	f.log.Debug("filtered file", zap.String("file", path), zap.Int("lines", lines), zap.Int("skipped", skipped))

	return nil
}
