package ctxutil

import (
	"context"
	"testing"

	"chorddht/internal/domain"
)

func testID(t *testing.T) domain.ID {
	t.Helper()
	sp, err := domain.NewSpace(8, 3)
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	return sp.FromUint64(7)
}

func TestEnsureTraceIDAttachesOnce(t *testing.T) {
	id := testID(t)
	ctx := context.Background()

	ctx = EnsureTraceID(ctx, id)
	first := TraceIDFromContext(ctx)
	if first == "" {
		t.Fatalf("expected a trace ID to be attached")
	}

	ctx = EnsureTraceID(ctx, id)
	second := TraceIDFromContext(ctx)
	if second != first {
		t.Fatalf("expected trace ID to stay stable across calls, got %q then %q", first, second)
	}
}

func TestHopCounter(t *testing.T) {
	ctx := StartHopCounter(context.Background())
	if got := HopsFromContext(ctx); got != 0 {
		t.Fatalf("expected hop counter to start at 0, got %d", got)
	}

	ctx = IncHops(ctx)
	ctx = IncHops(ctx)
	if got := HopsFromContext(ctx); got != 2 {
		t.Fatalf("expected hop counter at 2, got %d", got)
	}
}

func TestHopsFromContextUnset(t *testing.T) {
	if got := HopsFromContext(context.Background()); got != -1 {
		t.Fatalf("expected -1 for a context with no hop counter, got %d", got)
	}
}

func TestIncHopsWithoutCounterIsNoop(t *testing.T) {
	ctx := IncHops(context.Background())
	if got := HopsFromContext(ctx); got != -1 {
		t.Fatalf("expected IncHops on an uncounted context to remain uncounted, got %d", got)
	}
}

func TestStartHopCounterIdempotent(t *testing.T) {
	ctx := StartHopCounter(context.Background())
	ctx = IncHops(ctx)
	ctx = StartHopCounter(ctx)
	if got := HopsFromContext(ctx); got != 1 {
		t.Fatalf("expected StartHopCounter to leave an existing counter untouched, got %d", got)
	}
}
