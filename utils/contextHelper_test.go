package utils

import (
	"context"
	"testing"
)

func TestTriggeredByRoundTrip(t *testing.T) {
	ctx := context.Background()
	if _, ok := GetTriggeredByFromContext(ctx); ok {
		t.Fatal("empty context reported a trigger")
	}

	ctx = SetTriggeredByInContext(ctx, "scheduler")
	by, ok := GetTriggeredByFromContext(ctx)
	if !ok || by != "scheduler" {
		t.Fatalf("trigger = %q ok=%t, want scheduler", by, ok)
	}
}

func TestCorrelationIdRoundTrip(t *testing.T) {
	ctx := SetCorrelationIdInContext(context.Background(), "abc-123")
	id, ok := GetCorrelationIdFromContext(ctx)
	if !ok || id != "abc-123" {
		t.Fatalf("correlation id = %q ok=%t", id, ok)
	}
}
