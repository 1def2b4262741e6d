package services

import (
	"context"

	"github.com/google/uuid"
)

// Scope carries the correlation fields attached to a pipeline call.
type Scope struct {
	DocumentID string
	Stage      string
	RequestID  string
}

type scopeKey struct{}

// ScopeFromContext returns the scope stored on ctx, or the zero scope.
func ScopeFromContext(ctx context.Context) Scope {
	if ctx == nil {
		return Scope{}
	}
	if s, ok := ctx.Value(scopeKey{}).(Scope); ok {
		return s
	}
	return Scope{}
}

func withScope(ctx context.Context, mutate func(*Scope)) context.Context {
	s := ScopeFromContext(ctx)
	mutate(&s)
	return context.WithValue(ctx, scopeKey{}, s)
}

// WithDocumentID sets the document identifier. Blank ids leave ctx untouched.
func WithDocumentID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return withScope(ctx, func(s *Scope) { s.DocumentID = id })
}

// WithStage sets the stage name. Blank names leave ctx untouched.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return withScope(ctx, func(s *Scope) { s.Stage = stage })
}

// WithRequestID sets the correlation id sent to downstream services.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return withScope(ctx, func(s *Scope) { s.RequestID = id })
}

// WithNewRequestID assigns a fresh random correlation id.
func WithNewRequestID(ctx context.Context) context.Context {
	return WithRequestID(ctx, uuid.NewString())
}

func DocumentIDFromContext(ctx context.Context) (string, bool) {
	id := ScopeFromContext(ctx).DocumentID
	return id, id != ""
}

func StageFromContext(ctx context.Context) (string, bool) {
	stage := ScopeFromContext(ctx).Stage
	return stage, stage != ""
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	rid := ScopeFromContext(ctx).RequestID
	return rid, rid != ""
}
