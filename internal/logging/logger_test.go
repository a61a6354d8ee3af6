package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func captureDefault(t *testing.T, level, format string) *bytes.Buffer {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	slog.SetDefault(slog.New(NewHandler(&buf, level, format)))
	return &buf
}

func TestFromContext_AddsRunAttributes(t *testing.T) {
	buf := captureDefault(t, "info", "json")

	ctx := WithLayer(WithBatch(context.Background(), "ABCDEF"), "L1")
	WithFields(ctx, "loss_set_id", "LS1").Info("loss set created")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON log line %q: %v", buf.String(), err)
	}
	for key, want := range map[string]string{
		"batch_id":    "ABCDEF",
		"layer_id":    "L1",
		"loss_set_id": "LS1",
		"msg":         "loss set created",
	} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %q", key, entry[key], want)
		}
	}
}

func TestFromContext_Empty(t *testing.T) {
	buf := captureDefault(t, "info", "text")

	FromContext(context.Background()).Info("plain")
	if strings.Contains(buf.String(), "batch_id") || strings.Contains(buf.String(), "layer_id") {
		t.Errorf("unexpected attributes in %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewHandler_FiltersLevel(t *testing.T) {
	buf := captureDefault(t, "warn", "text")

	slog.Info("hidden")
	slog.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("log output = %q", buf.String())
	}
}
