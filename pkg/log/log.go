// Package log configures the process-wide slog handler and enriches
// loggers with trace correlation.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/muesli/termenv"
	"go.opentelemetry.io/otel/trace"

	charmlog "github.com/charmbracelet/log"
)

// traceIDLen truncates trace ids in log lines for readability.
const traceIDLen = 8

var levels = map[string]slog.Level{
	"error":   slog.LevelError,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"info":    slog.LevelInfo,
	"debug":   slog.LevelDebug,
}

// AllLevels and AllFormats feed flag help and shell completion.
var (
	AllLevels  = []string{"error", "warn", "info", "debug"}
	AllFormats = []string{"json", "logfmt", "text"}
)

// CreateHandlerWithStrings builds a [slog.Handler] from the CLI-facing
// level and format names. The text format renders through charmbracelet's
// handler; json and logfmt use the slog builtins with source locations.
func CreateHandlerWithStrings(w io.Writer, logLevel, logFormat string) (slog.Handler, error) {
	lvl, ok := levels[strings.ToLower(logLevel)]
	if !ok {
		return nil, fmt.Errorf("unknown log level %q, expected one of: %s",
			logLevel, strings.Join(AllLevels, ", "))
	}

	switch strings.ToLower(logFormat) {
	case "json":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{
			AddSource: true,
			Level:     lvl,
		}), nil

	case "logfmt":
		return slog.NewTextHandler(w, &slog.HandlerOptions{
			AddSource: true,
			Level:     lvl,
		}), nil

	case "text":
		logger := charmlog.NewWithOptions(w, charmlog.Options{
			Level:           charmlog.Level(int32(lvl)), //nolint:gosec // G115: slog levels are small.
			Formatter:       charmlog.TextFormatter,
			ReportTimestamp: true,
			TimeFormat:      time.StampMilli,
		})
		logger.SetColorProfile(termenv.ColorProfile())

		return logger, nil
	}

	return nil, fmt.Errorf("unknown log format %q, expected one of: %s",
		logFormat, strings.Join(AllFormats, ", "))
}

// WithContext returns the default logger, annotated with the trace id of
// the active span when one exists.
func WithContext(ctx context.Context) *slog.Logger {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return slog.Default()
	}

	traceID := span.SpanContext().TraceID().String()
	if len(traceID) > traceIDLen {
		traceID = traceID[:traceIDLen]
	}

	return slog.With(slog.String("trace_id", traceID))
}
