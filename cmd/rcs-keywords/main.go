// Command rcs-keywords expands RCS style keywords like $Id$ in files tracked
// by git. It is installed into a repository as clean/smudge filter and as
// post-checkout, post-commit, post-merge and post-rewrite hook.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/gopasspw/gitkeywords"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// version is set at build time.
var version = "dev"

// app holds what every command needs. It is set up once before a command
// runs.
type app struct {
	logLevel string

	settings gitkeywords.Settings
	log      *zap.Logger
	closeLog func()
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	// commands taking git's hook arguments verbatim see the flag as an arg
	if cmd.DisableFlagParsing {
		if lvl, _ := splitLogLevel(args); lvl != "" {
			a.logLevel = lvl
		}
	}

	s, err := gitkeywords.LoadSettings(".")
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		lvl, err := zapcore.ParseLevel(a.logLevel)
		if err != nil {
			return fmt.Errorf("%w: --log-level %q: %w", gitkeywords.ErrInvalidInvocation, a.logLevel, err)
		}
		s.LogLevel = lvl
	}

	log, closer, err := s.Logger()
	if err != nil {
		return err
	}

	a.settings = s
	a.log = log
	a.closeLog = closer

	return nil
}

// splitLogLevel takes leading --log-level flags off args. The last one wins.
func splitLogLevel(args []string) (string, []string) {
	var lvl string
	for len(args) > 0 {
		switch {
		case args[0] == "--log-level" && len(args) > 1:
			lvl, args = args[1], args[2:]
		case strings.HasPrefix(args[0], "--log-level="):
			lvl, args = strings.TrimPrefix(args[0], "--log-level="), args[1:]
		default:
			return lvl, args
		}
	}

	return lvl, args
}

func (a *app) teardown() {
	if a.closeLog != nil {
		a.closeLog()
	}
}

func (a *app) git(dir string) *gitkeywords.Git {
	return gitkeywords.NewGit(&gitkeywords.ExecRunner{}, dir, a.log)
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:               "rcs-keywords",
		Short:             "Expand RCS keywords in git repositories",
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		newFilterCommand(a),
		newHookCommand(a),
		newDispatchCommand(a),
		newInstallCommand(a),
		newUninstallCommand(a),
		newStatusCommand(a),
		newFilesCommand(a),
		newVersionCommand(),
	)

	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// no settings or logger needed
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func run(ctx context.Context, args []string) error {
	a := &app{}
	defer a.teardown()

	root := newRootCommand(a)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
	case a.log != nil:
		a.log.Error("rcs-keywords failed", zap.Strings("args", args), zap.Error(err))
	default:
		// setup failed before a logger existed
		fmt.Fprintf(root.ErrOrStderr(), "rcs-keywords: %s\n", err)
	}

	return err
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		cancel()
		os.Exit(gitkeywords.ExitCode(err))
	}
}
