package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/gopasspw/gitkeywords"
	"github.com/spf13/cobra"
)

func newFilterCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Clean and smudge filters, invoked by git",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clean [file]",
		Short: "Collapse keywords to $Keyword$ (working tree to index)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := gitkeywords.NewFilter(a.log)

			return f.Clean(cmd.OutOrStdout(), cmd.InOrStdin(), fileArg(args))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "smudge [file]",
		Short: "Expand keywords from the last commit of file (index to working tree)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fileArg(args)
			git := a.git("")
			lookup := func(ctx context.Context, p string) (*gitkeywords.CommitAttributes, error) {
				if p == "" {
					return nil, nil //nolint:nilnil
				}

				return git.CommitMetadata(ctx, p)
			}

			f := gitkeywords.NewFilter(a.log)

			return f.Smudge(cmd.Context(), cmd.OutOrStdout(), cmd.InOrStdin(), path, lookup)
		},
	})

	return cmd
}

func fileArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}

	return ""
}

func newHookCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "hook <event> [args...]",
		Short: "Refresh keywords after a git operation",
		Long: "Refresh keywords after a git operation. The arguments are the ones git " +
			"passes to the hook, post-rewrite also reads the rewritten commits from stdin.",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, args = splitLogLevel(args)
			if len(args) == 0 {
				return fmt.Errorf("%w: missing hook event", gitkeywords.ErrInvalidInvocation)
			}

			event, err := gitkeywords.ParseEvent(args[0])
			if err != nil {
				return fmt.Errorf("%w: %w", gitkeywords.ErrInvalidInvocation, err)
			}

			h := gitkeywords.NewHook(a.git(""), ".", a.log)
			n, err := h.Run(cmd.Context(), event, args[1:], stdinOf(cmd))
			if err != nil {
				return err
			}
			if n > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "rcs-keywords: refreshed %d file(s)\n", n)
			}

			return nil
		},
	}
}

func newDispatchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:                "dispatch <event> [args...]",
		Short:              "Run every program in the <event>.d hook directory",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, args = splitLogLevel(args)
			if len(args) == 0 {
				return fmt.Errorf("%w: missing hook event", gitkeywords.ErrInvalidInvocation)
			}

			hooksDir, err := a.git("").HooksDir(cmd.Context())
			if err != nil {
				return err
			}

			d := gitkeywords.NewDispatcher(&gitkeywords.ExecRunner{}, hooksDir, cmd.OutOrStdout(), cmd.ErrOrStderr(), a.log)

			return d.Dispatch(cmd.Context(), args[0], args[1:], stdinOf(cmd))
		},
	}
}

// stdinOf returns nil when stdin is a terminal, nobody is going to type the
// hook input.
func stdinOf(cmd *cobra.Command) io.Reader {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok {
		if fi, err := f.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
			return nil
		}
	}

	return in
}
