package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
)

// Output formats accepted by NewHandler.
const (
	FormatJSON = "json"
	FormatText = "text"
)

var (
	defaultLogLevel slog.LevelVar
	defaultLogger   atomic.Pointer[slog.Logger]
)

func init() {
	defaultLogLevel.Set(slog.LevelInfo)
	defaultLogger.Store(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     &defaultLogLevel,
	})))
}

type contextKey struct{}

var loggerKey = contextKey{}

// Ctx returns the logger from the context. If no logger is found, it returns the default logger.
func Ctx(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return defaultLogger.Load()
}

// With returns a new context with the given logger.
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// SetDefaultLogLevel changes the level of the default logger and of any
// handler built by NewHandler.
func SetDefaultLogLevel(level slog.Level) {
	defaultLogLevel.Set(level)
}

// SetDefault replaces the logger returned by Ctx when the context has none and
// also installs it as the slog default.
func SetDefault(l *slog.Logger) {
	defaultLogger.Store(l)
	slog.SetDefault(l)
}

// NewHandler builds a handler writing to w in the given format. The text
// format is meant for a terminal.
func NewHandler(w io.Writer, format string) (slog.Handler, error) {
	switch format {
	case FormatJSON, "":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{
			AddSource: true,
			Level:     &defaultLogLevel,
		}), nil
	case FormatText:
		return tint.NewHandler(w, &tint.Options{
			AddSource:  true,
			Level:      &defaultLogLevel,
			TimeFormat: time.TimeOnly,
		}), nil
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}
}
