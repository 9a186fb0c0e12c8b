package gitkeywords

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidInvocation indicates a malformed command, e.g. a single
	// string command containing a space.
	ErrInvalidInvocation = errors.New("invalid command invocation")
	// ErrLaunchFailed indicates the program could not be started at all.
	ErrLaunchFailed = errors.New("failed to launch command")
	// ErrMultipleCommits indicates git log returned more than one record for
	// a single file, single commit query.
	ErrMultipleCommits = errors.New("more than one row of git attributes returned")
	// ErrMalformedLog indicates a git log record with an unexpected field count.
	ErrMalformedLog = errors.New("malformed git log record")
	// ErrSubstitution indicates the keyword filter could not process its stream.
	ErrSubstitution = errors.New("keyword substitution failed")
	// ErrInvalidHookArgs indicates the hook arguments do not match git's contract.
	ErrInvalidHookArgs = errors.New("invalid hook arguments")
	// ErrUnknownEvent indicates an unsupported hook event name.
	ErrUnknownEvent = errors.New("unknown hook event")
	// ErrRefresh indicates a file could not be removed or checked out again.
	ErrRefresh = errors.New("failed to refresh file")
	// ErrNotARepository indicates the target directory has no .git directory.
	ErrNotARepository = errors.New("not a git repository")
)

// CommandError is returned when a command exits with a non-zero code.
type CommandError struct {
	Argv     []string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q exited with code %d", quoteArgv(e.Argv), e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}

	return msg
}

// ExitCode maps an error to the process exit code used by the hooks and
// filters. A nil error maps to zero.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var cerr *CommandError
	switch {
	case errors.Is(err, ErrInvalidInvocation):
		return 1
	case errors.Is(err, ErrMultipleCommits):
		return 3
	case errors.Is(err, ErrSubstitution):
		return 2
	case errors.As(err, &cerr):
		if cerr.ExitCode > 0 {
			return cerr.ExitCode
		}
	}

	return 1
}
