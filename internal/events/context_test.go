package events

import (
	"context"
	"testing"
)

func TestSessionIDRoundTrip(t *testing.T) {
	ctx := ContextWithSessionID(context.Background(), "sess_abc123")
	got := SessionIDFromContext(ctx)
	if got != "sess_abc123" {
		t.Errorf("got %q, want %q", got, "sess_abc123")
	}
}

func TestSessionIDFromEmptyContext(t *testing.T) {
	got := SessionIDFromContext(context.Background())
	if got != "" {
		t.Errorf("got %q, want empty string", got)
	}
}

func TestLoggerNeverNil(t *testing.T) {
	if Logger(context.Background()) == nil {
		t.Fatal("nil logger without session")
	}
	if Logger(ContextWithSessionID(context.Background(), "sess_1")) == nil {
		t.Fatal("nil logger with session")
	}
}
