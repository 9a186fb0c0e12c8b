package gitkeywords

import (
	"strings"

	"github.com/gobwas/glob"
	"github.com/kballard/go-shellquote"
)

// globMatch implements a glob matcher that supports double-asterisk (**) patterns.
func globMatch(pattern, s string) (bool, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return false, err
	}

	return g.Match(s), nil
}

// quoteArgv renders argv as a single, shell quoted command line.
func quoteArgv(argv []string) string {
	return shellquote.Join(argv...)
}

// splitKey splits a fully qualified gitconfig key into two or three parts.
// A valid key consists of either a section and a key separated by a dot
// or section, subsection and key, all separated by a dot. Note that
// the subsection might contain dots itself, e.g. filter.rcs-keywords.clean
// or url.git@example.com:x.insteadof.
func splitKey(key string) (section, subsection, skey string) { //nolint:nonamedreturns
	n := strings.Index(key, ".")
	if n > 0 {
		section = key[:n]
	}

	if m := strings.LastIndex(key, "."); n != m && m > 0 && len(key) > m+1 {
		subsection = key[n+1 : m]
		skey = key[m+1:]

		return
	}

	skey = key[n+1:]

	return
}

// canonicalizeKey lowercases section and key name. Subsections are case
// sensitive and kept as is. Invalid keys yield the empty string.
func canonicalizeKey(key string) string {
	if key == "" {
		return ""
	}

	section, subsection, skey := splitKey(key)
	section = strings.ToLower(section)
	skey = strings.ToLower(skey)

	if section == "" || skey == "" {
		return ""
	}

	return joinKey(section, subsection, skey)
}

func joinKey(section, subsection, skey string) string {
	if subsection == "" {
		return section + "." + skey
	}

	return section + "." + subsection + "." + skey
}

// splitValueComment separates a raw value from a trailing comment. Comment
// characters inside double quotes are part of the value. The returned
// comment keeps its delimiter so it can be written back as is.
func splitValueComment(raw string) (string, string) {
	inQuotes := false
	for i, r := range raw {
		switch r {
		case '"':
			inQuotes = !inQuotes
		case '#', ';':
			if inQuotes {
				continue
			}
			return unquote(strings.TrimSpace(raw[:i])), " " + raw[i:]
		}
	}

	return unquote(strings.TrimSpace(raw)), ""
}

// unquote strips one pair of surrounding double quotes.
func unquote(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1]
	}

	return s
}

// unescapeValue handles the escape sequences git config recognizes
// (\" \\ \n \t \b).
func unescapeValue(value string) string {
	if !strings.Contains(value, `\`) {
		return value
	}

	return strings.NewReplacer(
		`\\`, `\`,
		`\"`, `"`,
		`\n`, "\n",
		`\t`, "\t",
		`\b`, "\b",
	).Replace(value)
}

// escapeValue quotes a value if git would otherwise misread it.
func escapeValue(value string) string {
	if !strings.ContainsAny(value, "\"\\#;\n\t") && strings.TrimSpace(value) == value {
		return value
	}

	value = strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"\n", `\n`,
		"\t", `\t`,
	).Replace(value)

	return `"` + value + `"`
}
