// Package gitkeywords implements RCS style keyword expansion for git
// repositories. Tokens like $Id$, $Author$ or $Date$ in tracked text files
// are expanded with the metadata of the last commit touching the file when
// it is checked out, and collapsed again before it is stored.
//
// # Filters
//
// Git calls the clean and smudge filters for every file matching a pattern
// with the filter=rcs-keywords attribute. Clean never talks to git, it
// resets every keyword to its unexpanded form:
//
//	$Id:       foo.py | 2024-01-01 10:00:00 -0500 | J Doe $  ->  $Id$
//
// Smudge fetches the last commit of the file once and expands every
// keyword. Clean is the inverse of smudge for any input, so the object
// database only ever stores unexpanded keywords.
//
// Supported keywords, matched case-insensitively:
//
//   - $Author$ - author name and email
//   - $Date$ - commit date in ISO-8601 format
//   - $File$ - base name of the file
//   - $Hash$ - full commit hash
//   - $Id$ - file, date and author
//   - $Rev$ and $Revision$ - short commit hash
//   - $Source$ - path of the file in the repository
//
// # Hooks
//
// Git does not run the smudge filter when a commit, merge or rewrite
// changes only the metadata of a file. The post-checkout, post-commit,
// post-merge and post-rewrite hooks work out which files changed between
// the refs git passes them, drop files with local modifications and check
// the rest out again. Files with uncommitted changes are never touched.
//
// The installer puts a small dispatcher script at .git/hooks/<event> which
// runs every executable in .git/hooks/<event>.d, so existing hooks keep
// working.
//
// # Configuration
//
// The log level and an optional log file are read from git config:
//
//	[rcs-keywords]
//		loglevel = debug
//		logfile = .git/rcs-keywords.log
//
// The GIT_CONFIG_COUNT, GIT_CONFIG_KEY_n and GIT_CONFIG_VALUE_n overlay takes
// precedence over .git/config, which takes precedence over ~/.gitconfig.
package gitkeywords
