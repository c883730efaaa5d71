package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	orgIDKey ctxKey = iota
	workflowRunIDKey
	actionRunIDKey
)

// WithOrgID returns a context with the org ID set.
func WithOrgID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, orgIDKey, id)
}

// WithWorkflowRunID returns a context with the workflow run ID set.
func WithWorkflowRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workflowRunIDKey, id)
}

// WithActionRunID returns a context with the action run ID set.
func WithActionRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, actionRunIDKey, id)
}

// OrgID extracts the org ID from the context, or "" if absent.
func OrgID(ctx context.Context) string {
	v, _ := ctx.Value(orgIDKey).(string)
	return v
}

// WorkflowRunID extracts the workflow run ID from the context, or "" if absent.
func WorkflowRunID(ctx context.Context) string {
	v, _ := ctx.Value(workflowRunIDKey).(string)
	return v
}

// ActionRunID extracts the action run ID from the context, or "" if absent.
func ActionRunID(ctx context.Context) string {
	v, _ := ctx.Value(actionRunIDKey).(string)
	return v
}

// WithIDs sets all three correlation IDs on the context at once.
func WithIDs(ctx context.Context, orgID, workflowRunID, actionRunID string) context.Context {
	ctx = WithOrgID(ctx, orgID)
	ctx = WithWorkflowRunID(ctx, workflowRunID)
	ctx = WithActionRunID(ctx, actionRunID)
	return ctx
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if orgID := OrgID(ctx); orgID != "" {
		logger = logger.With(slog.String("org_id", orgID))
	}
	if runID := WorkflowRunID(ctx); runID != "" {
		logger = logger.With(slog.String("workflow_run_id", runID))
	}
	if arID := ActionRunID(ctx); arID != "" {
		logger = logger.With(slog.String("action_run_id", arID))
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := OrgID(ctx); v != "" {
		r.AddAttrs(slog.String("org_id", v))
	}
	if v := WorkflowRunID(ctx); v != "" {
		r.AddAttrs(slog.String("workflow_run_id", v))
	}
	if v := ActionRunID(ctx); v != "" {
		r.AddAttrs(slog.String("action_run_id", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
