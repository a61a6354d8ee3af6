// Package logging provides structured logging configuration using log/slog.
//
// Upload runs carry their batch id, and each layer task its layer id, in the
// context so every log entry of a run can be correlated. Requests served by
// the fake platform in remotetest also carry chi's request id.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

type ctxKey int

const (
	batchKey ctxKey = iota
	layerKey
)

// Setup configures the global slog logger based on level and format.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
//
// Logs go to stderr; stdout is left for command output.
func Setup(level, format string) {
	slog.SetDefault(slog.New(NewHandler(os.Stderr, level, format)))
}

// NewHandler returns a text or JSON handler writing to w.
func NewHandler(w io.Writer, level, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}
	if strings.ToLower(format) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithBatch returns a context whose loggers include the batch id.
func WithBatch(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, batchKey, batchID)
}

// WithLayer returns a context whose loggers include the layer id.
func WithLayer(ctx context.Context, layerID string) context.Context {
	return context.WithValue(ctx, layerKey, layerID)
}

// BatchID returns the batch id stored by WithBatch, or "".
func BatchID(ctx context.Context) string {
	id, _ := ctx.Value(batchKey).(string)
	return id
}

// FromContext returns a logger enriched with the run context.
//
// Usage:
//
//	ctx = logging.WithLayer(ctx, layer.ID)
//	logging.FromContext(ctx).Info("layer created", "remote_id", id)
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()

	if id := BatchID(ctx); id != "" {
		logger = logger.With("batch_id", id)
	}
	if id, _ := ctx.Value(layerKey).(string); id != "" {
		logger = logger.With("layer_id", id)
	}

	// Chi's RequestID middleware stores the ID in context
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}

	return logger
}

// WithFields returns a logger with additional structured fields.
//
// Usage:
//
//	lsLogger := logging.WithFields(ctx, "loss_set_id", id)
//	lsLogger.Info("loss set created")
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}
