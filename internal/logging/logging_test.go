package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestRequestID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := RequestID(ctx); got != "" {
		t.Errorf("empty context should have no request id, got %q", got)
	}

	ctx = WithRequestID(ctx, "req-123")
	if got := RequestID(ctx); got != "req-123" {
		t.Errorf("RequestID = %q, want req-123", got)
	}
}

func TestFromContext_Default(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext should never return nil")
	}
}

func TestWithLogger(t *testing.T) {
	logger := New("debug", "json")
	ctx := WithLogger(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Error("FromContext should return the stored logger")
	}
}

func TestNew_Levels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		if New(level, "text") == nil {
			t.Errorf("New(%q) returned nil", level)
		}
	}
}

func TestL_AttachesRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-9")
	ctx = WithLogger(ctx, slog.Default())
	if L(ctx) == nil {
		t.Fatal("L returned nil")
	}
}
