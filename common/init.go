package common

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/getlantern/oauthpopup/common/env"
	"github.com/getlantern/oauthpopup/internal"
)

const defaultLogLevel = "info"

var (
	initMutex   sync.Mutex
	initialized bool
	logFile     *lumberjack.Logger
)

// Init sets up the default slog logger. Logs go to stderr and, when logDir is not empty, to a
// size-rotated file in logDir. The level comes from OAUTHPOPUP_LOG_LEVEL when it is set and
// valid, otherwise from logLevel, otherwise info. An empty logDir falls back to
// OAUTHPOPUP_LOG_PATH.
func Init(logDir, logLevel string) error {
	initMutex.Lock()
	defer initMutex.Unlock()
	if initialized {
		return nil
	}
	if logDir == "" {
		logDir, _ = env.Get(env.LogPath)
	}
	var w io.Writer = os.Stderr
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
		logFile = &lumberjack.Logger{
			Filename:   filepath.Join(logDir, LogFileName),
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		w = io.MultiWriter(os.Stderr, logFile)
	}
	slog.SetDefault(internal.NewLogger(w, resolveLevel(logLevel)))
	initialized = true
	return nil
}

// Close closes the log file opened by Init, if any.
func Close() error {
	initMutex.Lock()
	defer initMutex.Unlock()
	initialized = false
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

func resolveLevel(level string) slog.Level {
	if envLvl, ok := env.Get(env.LogLevel); ok && envLvl != "" {
		lvl, err := internal.ParseLogLevel(envLvl)
		if err == nil {
			return lvl
		}
		slog.Warn("Failed to parse "+env.LogLevel, "error", err)
	}
	if level == "" {
		level = defaultLogLevel
	}
	lvl, err := internal.ParseLogLevel(level)
	if err != nil {
		slog.Warn("Failed to parse given log level", "error", err)
	}
	return lvl
}
