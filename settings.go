package gitkeywords

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gopasspw/gopass/pkg/appdir"
	"github.com/gopasspw/gopass/pkg/debug"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// config keys read by LoadSettings.
	keyLogLevel = "rcs-keywords.loglevel"
	keyLogFile  = "rcs-keywords.logfile"

	envPrefix = "GIT_CONFIG"
)

// Settings is the runtime configuration. It is resolved once at startup
// and handed to every component, it never changes afterwards.
type Settings struct {
	// LogLevel is the minimum level written to stderr and the log file.
	LogLevel zapcore.Level
	// LogFile is an optional file receiving the log in addition to stderr.
	// Relative paths are relative to the work tree.
	LogFile string
}

// DefaultSettings only reports errors.
func DefaultSettings() Settings {
	return Settings{
		LogLevel: zapcore.ErrorLevel,
	}
}

// LoadSettings resolves the settings for the work tree at workdir from the
// GIT_CONFIG_COUNT overlay, the repository config and the global config, in
// that order of precedence. Unreadable configs are skipped.
func LoadSettings(workdir string) (Settings, error) {
	s := DefaultSettings()

	scopes := []*Config{LoadConfigFromEnv(envPrefix)}
	for _, fn := range []string{
		filepath.Join(workdir, ".git", "config"),
		filepath.Join(appdir.UserHome(), ".gitconfig"),
	} {
		c, err := LoadConfig(fn)
		if err != nil {
			debug.V(1).Log("skipping config %s: %s", fn, err)

			continue
		}
		scopes = append(scopes, c)
	}

	if v, found := lookup(scopes, keyLogLevel); found {
		lvl, err := zapcore.ParseLevel(v)
		if err != nil {
			return s, fmt.Errorf("invalid %s %q: %w", keyLogLevel, v, err)
		}
		s.LogLevel = lvl
	}

	if v, found := lookup(scopes, keyLogFile); found {
		s.LogFile = v
		if !filepath.IsAbs(v) {
			s.LogFile = filepath.Join(workdir, v)
		}
	}

	return s, nil
}

func lookup(scopes []*Config, key string) (string, bool) {
	for _, c := range scopes {
		if v, found := c.Get(key); found {
			return v, true
		}
	}

	return "", false
}

// Logger builds the logger for these settings. The returned function
// flushes and closes the log file.
func (s Settings) Logger() (*zap.Logger, func(), error) {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.TimeKey = "time"
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), s.LogLevel),
	}

	var fh *os.File
	if s.LogFile != "" {
		var err error
		fh, err = os.OpenFile(s.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", s.LogFile, err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(fh), s.LogLevel))
	}

	log := zap.New(zapcore.NewTee(cores...))
	closer := func() {
		_ = log.Sync()
		if fh != nil {
			_ = fh.Close()
		}
	}

	return log, closer, nil
}
