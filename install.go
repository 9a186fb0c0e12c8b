package gitkeywords

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	shlex "github.com/anmitsu/go-shlex"
	shutil "github.com/termie/go-shutil"
	"go.uber.org/zap"
)

const (
	// hookMarker identifies scripts written by the installer.
	hookMarker = "# installed by " + FilterName
	// hookEntry is the name of our program inside <event>.d.
	hookEntry = "50-" + FilterName

	// DefaultAttributesFile is where the patterns go unless configured
	// otherwise. It is not tracked, so installing does not dirty the tree.
	DefaultAttributesFile = ".git/info/attributes"
)

// filterProgram is the installed copy of the executable, relative to the
// work tree. Filters and hooks are run from the work tree root.
var filterProgram = filepath.ToSlash(filepath.Join(".git", "filters", FilterName))

// Installer wires the filters and hooks into a repository.
type Installer struct {
	// WorkTree is the root of the target repository.
	WorkTree string
	// Executable is the program copied into the filters directory.
	Executable string
	// Patterns select the files the filter applies to.
	Patterns []string
	// AttributesFile is relative to WorkTree. The default resolves to the
	// info directory of the repository, wherever that lives.
	AttributesFile string

	log *zap.Logger
	// repoDir holds config, hooks and info. Set by validate.
	repoDir string
}

// NewInstaller returns an Installer with the default patterns.
func NewInstaller(workTree, executable string, log *zap.Logger) *Installer {
	if log == nil {
		log = zap.NewNop()
	}

	return &Installer{
		WorkTree:       workTree,
		Executable:     executable,
		Patterns:       DefaultPatterns,
		AttributesFile: DefaultAttributesFile,
		log:            log,
	}
}

func (i *Installer) hooksDir() string {
	return filepath.Join(i.repoDir, "hooks")
}

func (i *Installer) filtersDir() string {
	return filepath.Join(i.repoDir, "filters")
}

// program is how scripts and the filter config refer to the installed
// copy. Outside of the plain .git layout the path is absolute.
func (i *Installer) program() string {
	if i.repoDir == filepath.Join(i.WorkTree, ".git") {
		return filterProgram
	}

	return filepath.ToSlash(filepath.Join(i.filtersDir(), FilterName))
}

func (i *Installer) attributesPath() string {
	fn := i.AttributesFile
	if fn == "" || fn == DefaultAttributesFile {
		return filepath.Join(i.repoDir, "info", "attributes")
	}

	return filepath.Join(i.WorkTree, filepath.FromSlash(fn))
}

func (i *Installer) validate() error {
	dir, err := resolveGitDir(i.WorkTree)
	if err != nil {
		i.log.Debug("no repository", zap.String("worktree", i.WorkTree), zap.Error(err))

		return fmt.Errorf("%w: %s", ErrNotARepository, i.WorkTree)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotARepository, i.WorkTree)
	}
	i.repoDir = dir

	return nil
}

// resolveGitDir returns the directory holding config, hooks and info of the
// repository at workTree. Linked work trees and submodules have a .git file
// pointing to their git directory, and a linked work tree's git directory
// names the shared one in its commondir file.
func resolveGitDir(workTree string) (string, error) {
	dotGit := filepath.Join(workTree, ".git")
	fi, err := os.Stat(dotGit)
	if err != nil {
		return "", err
	}
	if fi.IsDir() {
		return dotGit, nil
	}

	dir, err := readGitPointer(dotGit, "gitdir:", workTree)
	if err != nil {
		return "", err
	}

	common, err := readGitPointer(filepath.Join(dir, "commondir"), "", dir)
	if errors.Is(err, fs.ErrNotExist) {
		return dir, nil
	}
	if err != nil {
		return "", err
	}

	return common, nil
}

// readGitPointer reads a path from fn, relative paths are resolved against
// base.
func readGitPointer(fn, prefix, base string) (string, error) {
	buf, err := os.ReadFile(fn)
	if err != nil {
		return "", err
	}

	p := strings.TrimSpace(string(buf))
	if prefix != "" {
		rest, found := strings.CutPrefix(p, prefix)
		if !found {
			return "", fmt.Errorf("%s: missing %q", fn, prefix)
		}
		p = strings.TrimSpace(rest)
	}
	if p == "" {
		return "", fmt.Errorf("%s: empty path", fn)
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, filepath.FromSlash(p))
	}

	return filepath.Abs(p)
}

// Install copies the executable, writes the hook scripts, registers the
// patterns and configures the filter driver. It can be run repeatedly.
func (i *Installer) Install() error {
	if err := i.validate(); err != nil {
		return err
	}

	for _, dir := range []string{i.hooksDir(), i.filtersDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	if err := i.copyExecutable(); err != nil {
		return err
	}

	for _, e := range Events {
		if err := i.installHook(e); err != nil {
			return err
		}
	}

	attrs, err := LoadAttributes(i.attributesPath())
	if err != nil {
		return err
	}
	attrs.SetPatterns(i.Patterns)
	if err := attrs.Write(); err != nil {
		return err
	}

	if err := i.configureFilter(); err != nil {
		return err
	}

	i.log.Info("installed keyword filter", zap.String("worktree", i.WorkTree), zap.Strings("patterns", i.Patterns))

	return nil
}

func (i *Installer) copyExecutable() error {
	dst := filepath.Join(i.filtersDir(), FilterName)

	// re-running the installed copy must not copy it onto itself
	if sfi, err := os.Stat(i.Executable); err == nil {
		if dfi, err := os.Stat(dst); err == nil && os.SameFile(sfi, dfi) {
			return nil
		}
	}

	if err := shutil.CopyFile(i.Executable, dst, true); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", i.Executable, dst, err)
	}
	if err := os.Chmod(dst, 0o755); err != nil {
		return fmt.Errorf("failed to make %s executable: %w", dst, err)
	}

	return nil
}

func (i *Installer) installHook(e Event) error {
	hook := filepath.Join(i.hooksDir(), string(e))
	dir := hook + ".d"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	// keep a hook somebody else installed, the dispatcher runs it first
	if content, err := os.ReadFile(hook); err == nil && !strings.Contains(string(content), hookMarker) {
		saved := filepath.Join(dir, "00-"+string(e))
		if err := os.Rename(hook, saved); err != nil {
			return fmt.Errorf("failed to move existing hook %s: %w", hook, err)
		}
		i.log.Info("moved existing hook", zap.String("from", hook), zap.String("to", saved))
	}

	if err := writeScript(hook, []string{i.program(), "dispatch", string(e)}); err != nil {
		return err
	}

	return writeScript(filepath.Join(dir, hookEntry), []string{i.program(), "hook", string(e)})
}

func writeScript(fn string, argv []string) error {
	content := fmt.Sprintf("#!/bin/sh\n%s\nexec %s \"$@\"\n", hookMarker, quoteArgv(argv))
	if err := os.WriteFile(fn, []byte(content), 0o755); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write %s: %w", fn, err)
	}

	return nil
}

func (i *Installer) configFile() (*Config, error) {
	return OpenConfig(filepath.Join(i.repoDir, "config"))
}

func (i *Installer) configureFilter() error {
	cfg, err := i.configFile()
	if err != nil {
		return err
	}
	if err := cfg.RemoveSection("filter", FilterName); err != nil {
		return err
	}
	for _, dir := range []string{"clean", "smudge"} {
		cmd := quoteArgv([]string{i.program(), "filter", dir}) + " %f"
		if err := cfg.Set("filter."+FilterName+"."+dir, cmd); err != nil {
			return err
		}
	}

	return nil
}

// Uninstall removes everything Install added and restores hooks which were
// moved aside.
func (i *Installer) Uninstall() error {
	if err := i.validate(); err != nil {
		return err
	}

	cfg, err := i.configFile()
	if err != nil {
		return err
	}
	if err := cfg.RemoveSection("filter", FilterName); err != nil {
		return err
	}

	attrs, err := LoadAttributes(i.attributesPath())
	if err != nil {
		return err
	}
	attrs.RemoveFilter()
	if err := attrs.Write(); err != nil {
		return err
	}

	for _, e := range Events {
		if err := i.uninstallHook(e); err != nil {
			return err
		}
	}

	if err := removeIfExists(filepath.Join(i.filtersDir(), FilterName)); err != nil {
		return err
	}

	i.log.Info("removed keyword filter", zap.String("worktree", i.WorkTree))

	return nil
}

func (i *Installer) uninstallHook(e Event) error {
	hook := filepath.Join(i.hooksDir(), string(e))
	dir := hook + ".d"

	if err := removeIfExists(filepath.Join(dir, hookEntry)); err != nil {
		return err
	}

	content, err := os.ReadFile(hook)
	if err == nil && strings.Contains(string(content), hookMarker) {
		if err := os.Remove(hook); err != nil {
			return fmt.Errorf("failed to remove %s: %w", hook, err)
		}
		saved := filepath.Join(dir, "00-"+string(e))
		if _, err := os.Stat(saved); err == nil {
			if err := os.Rename(saved, hook); err != nil {
				return fmt.Errorf("failed to restore %s: %w", hook, err)
			}
		}
	}

	// only removes the directory if nothing else lives there
	if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		i.log.Debug("keeping hook directory", zap.String("dir", dir), zap.Error(err))
	}

	return nil
}

func removeIfExists(fn string) error {
	if err := os.Remove(fn); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", fn, err)
	}

	return nil
}

// FilterStatus describes one configured filter direction.
type FilterStatus struct {
	Direction string
	Command   string
	Program   string
	// Installed is true if Program exists in the work tree or is absolute
	// and exists.
	Installed bool
}

// HookStatus describes one hook event.
type HookStatus struct {
	Event      Event
	Dispatcher bool
	Installed  bool
}

// Status is the installation state of a repository.
type Status struct {
	Filters  []FilterStatus
	Hooks    []HookStatus
	Patterns []string
}

// Installed is true if both filters, all hooks and at least one pattern
// are in place.
func (s Status) Installed() bool {
	for _, f := range s.Filters {
		if !f.Installed {
			return false
		}
	}
	for _, h := range s.Hooks {
		if !h.Dispatcher || !h.Installed {
			return false
		}
	}

	return len(s.Filters) == 2 && len(s.Patterns) > 0
}

// Status inspects the repository without changing it.
func (i *Installer) Status() (Status, error) {
	var st Status
	if err := i.validate(); err != nil {
		return st, err
	}

	cfg, err := i.configFile()
	if err != nil {
		return st, err
	}
	for _, dir := range []string{"clean", "smudge"} {
		cmd, found := cfg.Get("filter." + FilterName + "." + dir)
		if !found {
			continue
		}
		fst := FilterStatus{Direction: dir, Command: cmd}
		if argv, err := shlex.Split(cmd, true); err == nil && len(argv) > 0 {
			fst.Program = argv[0]
			prog := fst.Program
			if !filepath.IsAbs(prog) {
				prog = filepath.Join(i.WorkTree, filepath.FromSlash(prog))
			}
			_, err := os.Stat(prog)
			fst.Installed = err == nil
		}
		st.Filters = append(st.Filters, fst)
	}

	for _, e := range Events {
		hook := filepath.Join(i.hooksDir(), string(e))
		hs := HookStatus{Event: e}
		if content, err := os.ReadFile(hook); err == nil {
			hs.Dispatcher = strings.Contains(string(content), hookMarker)
		}
		if _, err := os.Stat(filepath.Join(hook+".d", hookEntry)); err == nil {
			hs.Installed = true
		}
		st.Hooks = append(st.Hooks, hs)
	}

	attrs, err := LoadAttributes(i.attributesPath())
	if err != nil {
		return st, err
	}
	st.Patterns = attrs.Patterns()

	return st, nil
}

// fileLister is the part of Git KeywordFiles needs.
type fileLister interface {
	ListFiles(ctx context.Context) ([]string, error)
}

// KeywordFiles returns the tracked files selected by the installed
// patterns, in git's order.
func (i *Installer) KeywordFiles(ctx context.Context, git fileLister) ([]string, error) {
	if err := i.validate(); err != nil {
		return nil, err
	}

	attrs, err := LoadAttributes(i.attributesPath())
	if err != nil {
		return nil, err
	}

	files, err := git.ListFiles(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(files))
	for _, f := range files {
		if attrs.Match(f) {
			out = append(out, f)
		}
	}

	return out, nil
}
