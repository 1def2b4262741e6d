package services_test

import (
	"context"
	"testing"

	"docflow/internal/services"
)

func TestScopeAccumulates(t *testing.T) {
	base := services.WithDocumentID(context.Background(), "doc-1")
	ctx := services.WithRequestID(services.WithStage(base, "extracting"), "req-123")

	want := services.Scope{DocumentID: "doc-1", Stage: "extracting", RequestID: "req-123"}
	if got := services.ScopeFromContext(ctx); got != want {
		t.Fatalf("scope = %+v, want %+v", got, want)
	}
	if _, ok := services.StageFromContext(base); ok {
		t.Fatal("parent context must not see child stage")
	}
}

func TestScopeBlankValuesIgnored(t *testing.T) {
	ctx := services.WithStage(services.WithDocumentID(context.Background(), "doc-1"), "refining")
	ctx = services.WithStage(ctx, "")
	ctx = services.WithDocumentID(ctx, "")
	if stage, _ := services.StageFromContext(ctx); stage != "refining" {
		t.Fatalf("blank stage overwrote value: %q", stage)
	}
	if id, _ := services.DocumentIDFromContext(ctx); id != "doc-1" {
		t.Fatalf("blank id overwrote value: %q", id)
	}
	if _, ok := services.RequestIDFromContext(context.Background()); ok {
		t.Fatal("expected no request id on empty context")
	}
}

func TestWithNewRequestIDDiffers(t *testing.T) {
	a, _ := services.RequestIDFromContext(services.WithNewRequestID(context.Background()))
	b, _ := services.RequestIDFromContext(services.WithNewRequestID(context.Background()))
	if a == "" || a == b {
		t.Fatalf("expected distinct request ids, got %q and %q", a, b)
	}
}
