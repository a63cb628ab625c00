package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
)

type ctxKey int

const (
	formIDKey ctxKey = iota
	responseIDKey
	workflowIDKey
)

// WithFormID returns a context carrying the form ID.
func WithFormID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, formIDKey, id)
}

// WithResponseID returns a context carrying the response ID.
func WithResponseID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, responseIDKey, id)
}

// WithWorkflowID returns a context carrying the workflow ID.
func WithWorkflowID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workflowIDKey, id)
}

// FormID extracts the form ID from the context, or "" if absent.
func FormID(ctx context.Context) string {
	v, _ := ctx.Value(formIDKey).(string)
	return v
}

// ResponseID extracts the response ID from the context, or "" if absent.
func ResponseID(ctx context.Context) string {
	v, _ := ctx.Value(responseIDKey).(string)
	return v
}

// WorkflowID extracts the workflow ID from the context, or "" if absent.
func WorkflowID(ctx context.Context) string {
	v, _ := ctx.Value(workflowIDKey).(string)
	return v
}

// WithIDs sets the form and response correlation IDs at once.
func WithIDs(ctx context.Context, formID, responseID string) context.Context {
	ctx = WithFormID(ctx, formID)
	return WithResponseID(ctx, responseID)
}

func attrs(ctx context.Context) []slog.Attr {
	var out []slog.Attr
	if v := FormID(ctx); v != "" {
		out = append(out, slog.String("form_id", v))
	}
	if v := ResponseID(ctx); v != "" {
		out = append(out, slog.String("response_id", v))
	}
	if v := WorkflowID(ctx); v != "" {
		out = append(out, slog.String("workflow_id", v))
	}
	return out
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range attrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// OrDefault returns logger, or a stderr text logger at info level when nil.
func OrDefault(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// New builds a correlation-aware JSON logger writing to w.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(NewCorrelationHandler(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
}

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
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
	r.AddAttrs(attrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
