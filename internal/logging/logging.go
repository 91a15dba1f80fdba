// Package logging adapts log/slog to the ports.Logger method set and checks
// custom loggers against it.
package logging

import (
	"context"
	"io"
	"log/slog"
	"reflect"
	"strings"

	"github.com/tjfontaine/oapipe/internal/core/domain"
	"github.com/tjfontaine/oapipe/internal/core/ports"
)

// Levels outside the four slog defines.
const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

// Logger implements ports.Logger on top of a *slog.Logger.
type Logger struct {
	logger *slog.Logger
}

// New wraps l. A nil l resolves slog.Default() on every call, which makes
// the result the documented process-wide default.
func New(l *slog.Logger) *Logger {
	return &Logger{logger: l}
}

// Default returns a logger bound to slog.Default().
func Default() ports.Logger {
	return New(nil)
}

// Discard returns a logger that drops everything.
func Discard() ports.Logger {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (l *Logger) base() *slog.Logger {
	if l.logger == nil {
		return slog.Default()
	}
	return l.logger
}

// Slog returns the underlying *slog.Logger.
func (l *Logger) Slog() *slog.Logger { return l.base() }

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	l.base().Log(context.Background(), level, msg, args...)
}

func (l *Logger) Trace(msg string, args ...any) { l.log(LevelTrace, msg, args...) }
func (l *Logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

// Fatal logs at LevelFatal. It does not exit the process.
func (l *Logger) Fatal(msg string, args ...any) { l.log(LevelFatal, msg, args...) }

// Child returns a logger with args bound to every record.
func (l *Logger) Child(args ...any) ports.Logger {
	return &Logger{logger: l.base().With(args...)}
}

var loggerType = reflect.TypeOf((*ports.Logger)(nil)).Elem()

// Validate checks candidate against the fixed logger method set and returns
// it as a ports.Logger. A *slog.Logger is accepted and wrapped.
func Validate(candidate any) (ports.Logger, error) {
	switch l := candidate.(type) {
	case nil:
		return nil, &domain.InvalidLoggerError{Missing: append([]string(nil), ports.LoggerMethods...)}
	case *slog.Logger:
		return New(l), nil
	}

	v := reflect.ValueOf(candidate)
	var missing []string
	for _, name := range ports.LoggerMethods {
		m := v.MethodByName(name)
		if !m.IsValid() {
			missing = append(missing, name)
			continue
		}
		want, _ := loggerType.MethodByName(name)
		if m.Type() != want.Type {
			missing = append(missing, name+" (signature)")
		}
	}
	if len(missing) > 0 {
		return nil, &domain.InvalidLoggerError{Missing: missing}
	}
	return candidate.(ports.Logger), nil
}

// ParseLevel maps a config level name to a slog level. Unknown names map to
// info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "fatal":
		return LevelFatal
	default:
		return slog.LevelInfo
	}
}

// NewHandler builds a JSON or text handler writing to w. Trace and fatal
// records carry their own level names.
func NewHandler(w io.Writer, format, level string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key != slog.LevelKey || len(groups) > 0 {
				return a
			}
			lvl, ok := a.Value.Any().(slog.Level)
			if !ok {
				return a
			}
			switch lvl {
			case LevelTrace:
				a.Value = slog.StringValue("TRACE")
			case LevelFatal:
				a.Value = slog.StringValue("FATAL")
			}
			return a
		},
	}
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}
