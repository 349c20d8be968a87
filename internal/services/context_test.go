package services_test

import (
	"context"
	"testing"

	"montage/internal/services"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithTaskID(ctx, 7)
	ctx = services.WithUnitID(ctx, 21)
	ctx = services.WithStage(ctx, "synthesize")
	ctx = services.WithRequestID(ctx, "req-1")

	if id, ok := services.TaskIDFromContext(ctx); !ok || id != 7 {
		t.Fatalf("task id = %d, %v", id, ok)
	}
	if id, ok := services.UnitIDFromContext(ctx); !ok || id != 21 {
		t.Fatalf("unit id = %d, %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "synthesize" {
		t.Fatalf("stage = %q, %v", stage, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-1" {
		t.Fatalf("request id = %q, %v", rid, ok)
	}
}

func TestContextMissingValues(t *testing.T) {
	ctx := context.Background()
	if _, ok := services.TaskIDFromContext(ctx); ok {
		t.Fatal("expected no task id")
	}
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage")
	}
}
