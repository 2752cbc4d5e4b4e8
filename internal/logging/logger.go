// Package logging configures log/slog for surveyload.
//
// Loggers taken from a context carry the chi request id of an HTTP request
// and any attributes a load run attached to the context (run id, survey,
// table), so every entry of one request or one run can be correlated.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

// attrsKey holds the []slog.Attr attached with ContextWith.
type attrsKey struct{}

// RunIDKey is the attribute name of a load run id.
const RunIDKey = "run_id"

// Setup installs the default logger on stderr; stdout is left to command
// output such as run reports.
//
// level is debug, info, warn or error (default info); format is text or
// json (default text).
func Setup(level, format string) {
	SetupWriter(os.Stderr, level, format)
}

// SetupWriter is Setup with an explicit destination.
func SetupWriter(w io.Writer, level, format string) {
	slog.SetDefault(New(w, level, format))
}

// New builds a logger without installing it.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	level = strings.TrimSpace(level)
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// ContextWith returns a context whose loggers carry args in addition to
// whatever the parent context carries.
func ContextWith(ctx context.Context, args ...any) context.Context {
	prev, _ := ctx.Value(attrsKey{}).([]slog.Attr)
	attrs := make([]slog.Attr, len(prev), len(prev)+len(args)/2)
	copy(attrs, prev)

	r := slog.Record{}
	r.Add(args...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	return context.WithValue(ctx, attrsKey{}, attrs)
}

// ContextWithRunID tags ctx with the id of a load run.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return ContextWith(ctx, RunIDKey, runID)
}

// RunIDFromContext returns the run id set by ContextWithRunID, or "".
func RunIDFromContext(ctx context.Context) string {
	attrs, _ := ctx.Value(attrsKey{}).([]slog.Attr)
	for i := len(attrs) - 1; i >= 0; i-- {
		if attrs[i].Key == RunIDKey {
			return attrs[i].Value.String()
		}
	}
	return ""
}

// FromContext returns the default logger with the request id and the
// context's attributes.
//
//	logger := logging.FromContext(r.Context())
//	logger.Info("listing tables", "survey", surveyID)
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	if attrs, _ := ctx.Value(attrsKey{}).([]slog.Attr); len(attrs) > 0 {
		args := make([]any, len(attrs))
		for i, a := range attrs {
			args[i] = a
		}
		logger = logger.With(args...)
	}
	return logger
}

// WithFields is FromContext plus args, for a logger scoped to one survey or
// table.
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}
