package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/gopasspw/gitkeywords"
	"github.com/spf13/cobra"
)

func dirArg(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	return abs, nil
}

type installFlags struct {
	patterns   []string
	attributes string
	worktree   bool
}

func (f *installFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.attributes, "attributes", gitkeywords.DefaultAttributesFile, "attributes file, relative to the repository")
	cmd.Flags().BoolVar(&f.worktree, "gitattributes", false, "use the tracked .gitattributes instead of --attributes")
}

func (f *installFlags) installer(a *app, args []string) (*gitkeywords.Installer, error) {
	dir, err := dirArg(args)
	if err != nil {
		return nil, err
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}

	i := gitkeywords.NewInstaller(dir, exe, a.log)
	i.AttributesFile = f.attributes
	if f.worktree {
		i.AttributesFile = ".gitattributes"
	}
	if len(f.patterns) > 0 {
		i.Patterns = f.patterns
	}

	return i, nil
}

func newInstallCommand(a *app) *cobra.Command {
	f := &installFlags{}
	cmd := &cobra.Command{
		Use:   "install [dir]",
		Short: "Install the filter and hooks into a repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := f.installer(a, args)
			if err != nil {
				return err
			}
			if err := i.Install(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Installed %s in %s\n", gitkeywords.FilterName, i.WorkTree)

			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringSliceVarP(&f.patterns, "pattern", "p", nil, "file pattern to expand keywords in (repeatable, default: built-in list)")

	return cmd
}

func newUninstallCommand(a *app) *cobra.Command {
	f := &installFlags{}
	cmd := &cobra.Command{
		Use:   "uninstall [dir]",
		Short: "Remove the filter and hooks from a repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := f.installer(a, args)
			if err != nil {
				return err
			}
			if err := i.Uninstall(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from %s\n", gitkeywords.FilterName, i.WorkTree)

			return nil
		},
	}
	f.register(cmd)

	return cmd
}

func newStatusCommand(a *app) *cobra.Command {
	f := &installFlags{}
	cmd := &cobra.Command{
		Use:   "status [dir]",
		Short: "Show the installation state of a repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := f.installer(a, args)
			if err != nil {
				return err
			}
			st, err := i.Status()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, fst := range st.Filters {
				fmt.Fprintf(tw, "filter %s\t%s\t%s\n", fst.Direction, mark(fst.Installed), fst.Command)
			}
			for _, h := range st.Hooks {
				fmt.Fprintf(tw, "hook %s\t%s\tdispatcher %s\n", h.Event, mark(h.Installed), mark(h.Dispatcher))
			}
			for _, p := range st.Patterns {
				fmt.Fprintf(tw, "pattern\t%s\n", p)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if !st.Installed() {
				fmt.Fprintln(cmd.OutOrStdout(), "not installed")
			}

			return nil
		},
	}
	f.register(cmd)

	return cmd
}

func mark(ok bool) string {
	if ok {
		return "ok"
	}

	return "missing"
}

func newFilesCommand(a *app) *cobra.Command {
	f := &installFlags{}
	cmd := &cobra.Command{
		Use:   "files [dir]",
		Short: "List the tracked files the filter applies to",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := f.installer(a, args)
			if err != nil {
				return err
			}

			files, err := i.KeywordFiles(cmd.Context(), a.git(i.WorkTree))
			if err != nil {
				return err
			}
			for _, fn := range files {
				fmt.Fprintln(cmd.OutOrStdout(), fn)
			}

			return nil
		},
	}
	f.register(cmd)

	return cmd
}
