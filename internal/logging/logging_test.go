package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_DefaultLevel(t *testing.T) {
	logger := New("", "text")
	if logger == nil {
		t.Fatal("Expected non-nil logger")
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Unknown level should fall back to info, not debug")
	}
}

func TestNew_DebugLevel(t *testing.T) {
	logger := New("debug", "text")
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Expected debug level to be enabled")
	}
}

func TestNew_ErrorLevel(t *testing.T) {
	logger := New("error", "json")
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Expected info level to be disabled at error level")
	}
}

func TestWithRequestID_And_RequestID(t *testing.T) {
	ctx := context.Background()

	if id := RequestID(ctx); id != "" {
		t.Errorf("Expected empty request ID, got %q", id)
	}

	ctx = WithRequestID(ctx, "req-123")
	if id := RequestID(ctx); id != "req-123" {
		t.Errorf("Expected req-123, got %q", id)
	}
}

func TestWithSessionID_And_SessionID(t *testing.T) {
	ctx := context.Background()

	if id := SessionID(ctx); id != "" {
		t.Errorf("Expected empty session ID, got %q", id)
	}

	ctx = WithSessionID(ctx, "sess-9")
	if id := SessionID(ctx); id != "sess-9" {
		t.Errorf("Expected sess-9, got %q", id)
	}
}

func TestWithLogger_And_FromContext(t *testing.T) {
	ctx := context.Background()

	if logger := FromContext(ctx); logger == nil {
		t.Fatal("Expected default logger")
	}

	custom := New("debug", "json")
	ctx = WithLogger(ctx, custom)

	if retrieved := FromContext(ctx); retrieved != custom {
		t.Error("Expected custom logger from context")
	}
}

func TestL_AttachesCorrelationIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := WithLogger(context.Background(), logger)
	ctx = WithRequestID(ctx, "req-456")
	ctx = WithSessionID(ctx, "sess-456")

	L(ctx).Info("step done")

	out := buf.String()
	if !strings.Contains(out, "request_id=req-456") {
		t.Errorf("Expected request_id in output, got %q", out)
	}
	if !strings.Contains(out, "session_id=sess-456") {
		t.Errorf("Expected session_id in output, got %q", out)
	}
}

func TestL_WithoutIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	ctx := WithLogger(context.Background(), logger)

	L(ctx).Info("bare")

	out := buf.String()
	if strings.Contains(out, "request_id") || strings.Contains(out, "session_id") {
		t.Errorf("Expected no correlation fields, got %q", out)
	}
}
