package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/Alignflow/internal/domain"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"CRITICAL", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_Formats(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := NewLogger(LogOptions{Level: "INFO", Format: "json", Output: &buf})
	logger.Debug("hidden")
	logger.Info("shown", "key", "value")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected one JSON record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "shown" || rec["key"] != "value" {
		t.Errorf("unexpected record %v", rec)
	}

	buf.Reset()
	logger = NewLogger(LogOptions{Level: "INFO", Format: "text", Output: &buf})
	logger.Info("plain")
	if !strings.Contains(buf.String(), "msg=plain") {
		t.Errorf("expected text record, got %q", buf.String())
	}
}

func TestWithTask(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	task := &domain.Task{ID: uuid.New(), RunID: uuid.New(), NodeID: "rewrite.primary", Kind: "rewrite.records"}
	WithTask(base, task).Info("x")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["node_id"] != "rewrite.primary" || rec["kind"] != "rewrite.records" || rec["run_id"] != task.RunID.String() {
		t.Errorf("unexpected attributes %v", rec)
	}
}

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()) != slog.Default() {
		t.Error("expected default logger without one in context")
	}

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := WithLogger(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Error("expected logger from context")
	}
}
