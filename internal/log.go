package internal

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

const (
	// slog does not define trace and fatal levels, so we define them here.
	LevelTrace = slog.LevelDebug - 4
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelFatal = slog.LevelError + 4
	LevelPanic = slog.LevelError + 8

	Disable = slog.LevelInfo + 1000 // A level that disables logging, used for testing or no-op logger.
)

// NewLogger returns a text logger writing to w. Times are UTC and the source attribute is
// reduced to the package, function and module-relative file.
func NewLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{
		AddSource:   true,
		Level:       level,
		ReplaceAttr: replaceAttr,
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.TimeKey:
		if t, ok := a.Value.Any().(time.Time); ok {
			a.Value = slog.StringValue(t.UTC().Format("2006-01-02 15:04:05.000 UTC"))
		}
	case slog.SourceKey:
		source, ok := a.Value.Any().(*slog.Source)
		if !ok {
			return a
		}
		a.Value = slog.GroupValue(sourceAttrs(source)...)
	case slog.LevelKey:
		// format the log level to account for the custom levels defined above, i.e. trace
		// otherwise, slog will print as "DEBUG-4" (trace) or similar
		if level, ok := a.Value.Any().(slog.Level); ok {
			a.Value = slog.StringValue(FormatLogLevel(level))
		}
	}
	return a
}

// sourceAttrs splits a fully qualified function such as
// github.com/getlantern/oauthpopup/popup/loopback.(*Opener).Open into its package and function.
func sourceAttrs(source *slog.Source) []slog.Attr {
	pkgPath, fn := source.Function, ""
	if i := strings.LastIndex(pkgPath, "/"); i >= 0 {
		if j := strings.Index(pkgPath[i:], "."); j >= 0 {
			pkgPath, fn = source.Function[:i+j], source.Function[i+j+1:]
		}
	} else if j := strings.Index(pkgPath, "."); j >= 0 {
		pkgPath, fn = pkgPath[:j], pkgPath[j+1:]
	}
	file := filepath.Base(source.File)
	if fn == "" {
		return []slog.Attr{slog.String("file", fmt.Sprintf("%s:%d", file, source.Line))}
	}
	return []slog.Attr{
		slog.String("pkg", filepath.Base(pkgPath)),
		slog.String("func", fn),
		slog.String("file", fmt.Sprintf("%s:%d", file, source.Line)),
	}
}

// ParseLogLevel parses a string representation of a log level and returns the corresponding slog.Level.
// If the level is not recognized, it returns LevelInfo.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "fatal":
		return LevelFatal, nil
	case "panic":
		return LevelPanic, nil
	case "disable", "none", "off":
		return Disable, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", level)
	}
}

func FormatLogLevel(level slog.Level) string {
	switch {
	case level < LevelDebug:
		return "TRACE"
	case level < LevelInfo:
		return "DEBUG"
	case level < LevelWarn:
		return "INFO"
	case level < LevelError:
		return "WARN"
	case level < LevelFatal:
		return "ERROR"
	case level < LevelPanic:
		return "FATAL"
	default:
		return "PANIC"
	}
}

// NoOpLogger returns a no-op logger that does not log anything.
func NoOpLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: Disable,
	}))
}
