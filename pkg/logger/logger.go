// Package logger builds the process-wide slog.Logger for Roomies Hub and
// provides attribute helpers and context propagation for it.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Format selects the slog handler.
type Format string

const (
	// FormatJSON is used in production (log aggregators).
	FormatJSON Format = "json"
	// FormatText is used in development.
	FormatText Format = "text"
)

// Options configures the logger.
type Options struct {
	Output    io.Writer
	Level     slog.Level
	Format    Format
	AddSource bool
	// Attrs are attached to every record (service name, instance id).
	Attrs []slog.Attr
}

// DefaultOptions returns sensible defaults for the logger.
func DefaultOptions() Options {
	return Options{
		Output: os.Stdout,
		Level:  slog.LevelInfo,
		Format: FormatText,
	}
}

// ForEnvironment returns options for the given app environment: JSON output
// in production, text otherwise. An empty level keeps info, or debug when
// debug is set.
func ForEnvironment(env, level string, debug bool) Options {
	opts := DefaultOptions()
	if env == "production" {
		opts.Format = FormatJSON
	}
	opts.Level = ParseLevel(level)
	if strings.TrimSpace(level) == "" && debug {
		opts.Level = slog.LevelDebug
	}
	return opts
}

// New creates a new slog.Logger with the given options.
func New(opts Options) *slog.Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     opts.Level,
		AddSource: opts.AddSource,
	}

	var handler slog.Handler
	if opts.Format == FormatJSON {
		handler = slog.NewJSONHandler(opts.Output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(opts.Output, handlerOpts)
	}
	if len(opts.Attrs) > 0 {
		handler = handler.WithAttrs(opts.Attrs)
	}
	return slog.New(handler)
}

// Setup creates the logger and installs it as slog.Default.
func Setup(opts Options) *slog.Logger {
	l := New(opts)
	slog.SetDefault(l)
	return l
}

// ParseLevel parses a string into a slog.Level. Unknown values map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Context key for logger.
type ctxKey struct{}

// WithContext returns a new context with the logger attached.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves the logger from context, or returns slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// RequestIDKey is a common field key for request tracing.
const RequestIDKey = "request_id"

// Roomies-related attribute helpers.
func UserID(id string) slog.Attr        { return slog.String("user_id", id) }
func HouseholdID(id string) slog.Attr   { return slog.String("household_id", id) }
func TaskID(id string) slog.Attr        { return slog.String("task_id", id) }
func RequestID(id string) slog.Attr     { return slog.String(RequestIDKey, id) }
func CorrelationID(id string) slog.Attr { return slog.String("correlation_id", id) }
func Component(name string) slog.Attr   { return slog.String("component", name) }
func Operation(name string) slog.Attr   { return slog.String("operation", name) }
func PointsDelta(delta int) slog.Attr   { return slog.Int("delta", delta) }
func WindowKey(key string) slog.Attr    { return slog.String("window", key) }
func Latency(d time.Duration) slog.Attr { return slog.Duration("latency", d) }
func Err(err error) slog.Attr           { return slog.Any("error", err) }
