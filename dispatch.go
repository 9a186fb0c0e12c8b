package gitkeywords

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
)

// Dispatcher runs every executable in <hooks>/<event>.d, so several tools
// can share one git hook.
type Dispatcher struct {
	runner   Runner
	hooksDir string
	stdout   io.Writer
	stderr   io.Writer
	log      *zap.Logger
}

// NewDispatcher returns a Dispatcher for the given hooks directory. Output
// of the hook programs is copied to stdout and stderr.
func NewDispatcher(r Runner, hooksDir string, stdout, stderr io.Writer, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	return &Dispatcher{
		runner:   r,
		hooksDir: hooksDir,
		stdout:   stdout,
		stderr:   stderr,
		log:      log,
	}
}

// Programs returns the executable hook programs for event, sorted by name.
func (d *Dispatcher) Programs(event string) ([]string, error) {
	dir := filepath.Join(d.hooksDir, event+".d")

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		fn := filepath.Join(dir, e.Name())
		fi, err := os.Stat(fn)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		if fi.Mode().Perm()&0o111 == 0 {
			d.log.Debug("skipping non-executable hook", zap.String("file", fn))

			continue
		}
		out = append(out, fn)
	}
	sort.Strings(out)

	return out, nil
}

// Dispatch runs the programs for event with args. stdin is read once and
// handed to every program. The first failure stops the loop; its
// *CommandError carries the exit code for git.
func (d *Dispatcher) Dispatch(ctx context.Context, event string, args []string, stdin io.Reader) error {
	progs, err := d.Programs(event)
	if err != nil {
		return err
	}
	if len(progs) == 0 {
		d.log.Debug("no hook programs", zap.String("event", event))

		return nil
	}

	var input []byte
	if stdin != nil {
		input, err = io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("failed to read hook input: %w", err)
		}
	}

	for _, p := range progs {
		c := Cmd{
			Argv:  append([]string{p}, args...),
			Stdin: bytes.NewReader(input),
		}
		res, err := d.runner.Run(ctx, c)
		_, _ = d.stdout.Write(res.Stdout)
		_, _ = d.stderr.Write(res.Stderr)
		if err != nil {
			d.log.Error("hook program failed", zap.String("event", event), zap.String("program", p), zap.Int("exit_code", res.ExitCode))

			return err
		}
		d.log.Debug("hook program done", zap.String("event", event), zap.String("program", p))
	}

	return nil
}
