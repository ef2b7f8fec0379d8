package actor

import (
	"context"
	"testing"
)

func TestWithIDAndIDFromContext(t *testing.T) {
	ctx := WithID(context.Background(), "nurse-7")

	got, ok := IDFromContext(ctx)
	if !ok {
		t.Fatalf("expected actor id to be present")
	}
	if got != "nurse-7" {
		t.Fatalf("expected nurse-7, got %s", got)
	}
	if OrSystem(ctx) != "nurse-7" {
		t.Fatalf("expected OrSystem to return the actor")
	}
}

func TestIDFromContext_EmptyOrMissing(t *testing.T) {
	ctx := context.Background()
	if _, ok := IDFromContext(ctx); ok {
		t.Fatalf("expected missing actor id to return false")
	}
	if OrSystem(ctx) != System {
		t.Fatalf("expected system fallback")
	}

	ctx = context.WithValue(ctx, actorKey, 42)
	if _, ok := IDFromContext(ctx); ok {
		t.Fatalf("expected non-string actor id to return false")
	}

	ctx = WithID(context.Background(), "")
	if _, ok := IDFromContext(ctx); ok {
		t.Fatalf("expected empty actor id to return false")
	}
}
