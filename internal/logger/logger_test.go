package logger

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestInit(t *testing.T) {
	logger := Init("test-service", slog.LevelInfo)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestLoadID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	// No load ID set
	if id := LoadID(ctx); id != "" {
		t.Errorf("expected empty load id, got %q", id)
	}

	// Set and retrieve
	ctx = WithLoadID(ctx, "test-load-123")
	if id := LoadID(ctx); id != "test-load-123" {
		t.Errorf("expected 'test-load-123', got %q", id)
	}
}

func TestNewLoadID(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC)
	id := NewLoadID("NIFTY", ts)

	if id == "" {
		t.Fatal("expected non-empty load id")
	}
	if !strings.HasPrefix(id, "NIFTY-") {
		t.Errorf("expected load id to start with 'NIFTY-', got %s", id)
	}
	// Verify it contains the nano timestamp
	if !strings.Contains(id, "123456789") {
		t.Errorf("expected load id to contain nanoseconds, got %s", id)
	}
}

func TestWithLoad(t *testing.T) {
	ctx := context.Background()

	// No load ID
	attrs := WithLoad(ctx)
	if attrs != nil {
		t.Errorf("expected nil attrs when no load id, got %v", attrs)
	}

	// With load ID set
	ctx = WithLoadID(ctx, "abc-123")
	attrs = WithLoad(ctx)
	if len(attrs) == 0 {
		t.Fatal("expected non-empty attrs with load id set")
	}
}
