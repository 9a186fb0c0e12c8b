package gitkeywords

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Cmd describes a single program invocation. There is no shell involved,
// Argv[0] is the program and the rest are its arguments.
type Cmd struct {
	Argv  []string
	Dir   string
	Stdin io.Reader
}

// Command is a shorthand for a Cmd without a working directory or stdin.
func Command(argv ...string) Cmd {
	return Cmd{Argv: argv}
}

// String renders the command line, shell quoted.
func (c Cmd) String() string {
	return quoteArgv(c.Argv)
}

// Result holds the fully captured output of a finished command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner executes commands synchronously.
type Runner interface {
	Run(ctx context.Context, c Cmd) (Result, error)
}

// validate rejects invocations before anything is spawned.
func (c Cmd) validate() error {
	if len(c.Argv) == 0 || c.Argv[0] == "" {
		return fmt.Errorf("%w: empty command", ErrInvalidInvocation)
	}
	// a lone string with spaces is almost certainly a command line that
	// was meant to be split by a shell.
	if len(c.Argv) == 1 && strings.Contains(c.Argv[0], " ") {
		return fmt.Errorf("%w: %q contains a space", ErrInvalidInvocation, c.Argv[0])
	}

	return nil
}

// ExecRunner runs commands with os/exec. Dir is used when the Cmd does not
// specify its own working directory.
type ExecRunner struct {
	Dir string
}

// Run starts the command, waits for it and returns the captured output.
// On a non-zero exit the Result is returned together with a *CommandError.
func (r *ExecRunner) Run(ctx context.Context, c Cmd) (Result, error) {
	if err := c.validate(); err != nil {
		return Result{ExitCode: -1}, err
	}

	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...) //nolint:gosec
	cmd.Dir = r.Dir
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}
	cmd.Stdin = c.Stdin

	// exec drains both pipes into the buffers before Wait returns
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
	}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()

		return res, &CommandError{
			Argv:     c.Argv,
			ExitCode: res.ExitCode,
			Stderr:   stderr.String(),
		}
	}

	res.ExitCode = -1

	return res, fmt.Errorf("%w: %s: %w", ErrLaunchFailed, c, err)
}

// FuncRunner is a Runner backed by a function. It validates commands the
// same way ExecRunner does and is mostly useful in tests.
type FuncRunner func(ctx context.Context, c Cmd) (Result, error)

// Run implements Runner.
func (f FuncRunner) Run(ctx context.Context, c Cmd) (Result, error) {
	if err := c.validate(); err != nil {
		return Result{ExitCode: -1}, err
	}

	return f(ctx, c)
}

var (
	_ Runner = (*ExecRunner)(nil)
	_ Runner = FuncRunner(nil)
)
