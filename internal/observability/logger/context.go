package logger

import (
	"context"

	"chatflow-access-api/internal/observability/requestid"

	"go.uber.org/zap"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	scopeKey
	rootErrorKey
)

// Scope is the caller and resource a request acts on. Empty members are
// omitted from log entries.
type Scope struct {
	CourseID   string
	UserID     string
	ChatflowID string
}

// ScopeFrom returns the scope attached to ctx.
func ScopeFrom(ctx context.Context) Scope {
	s, _ := ctx.Value(scopeKey).(Scope)
	return s
}

func withScope(ctx context.Context, update func(*Scope)) context.Context {
	s := ScopeFrom(ctx)
	update(&s)
	return context.WithValue(ctx, scopeKey, s)
}

// ContextWithCourse tags ctx with the course a request is scoped to.
func ContextWithCourse(ctx context.Context, courseID string) context.Context {
	return withScope(ctx, func(s *Scope) { s.CourseID = courseID })
}

// ContextWithUser tags ctx with the acting user.
func ContextWithUser(ctx context.Context, userID string) context.Context {
	return withScope(ctx, func(s *Scope) { s.UserID = userID })
}

// ContextWithChatflow tags ctx with the chatflow being checked.
func ContextWithChatflow(ctx context.Context, chatflowID string) context.Context {
	return withScope(ctx, func(s *Scope) { s.ChatflowID = chatflowID })
}

// RequestID returns the request id of ctx, or "".
func RequestID(ctx context.Context) string {
	return requestid.FromContext(ctx)
}

// ContextWithRequestID attaches a request id to ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return requestid.WithID(ctx, id)
}

func scopeFields(ctx context.Context) []Field {
	fields := make([]Field, 0, 4)
	if id := RequestID(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	s := ScopeFrom(ctx)
	if s.CourseID != "" {
		fields = append(fields, zap.String("course_id", s.CourseID))
	}
	if s.UserID != "" {
		fields = append(fields, zap.String("user_id", s.UserID))
	}
	if s.ChatflowID != "" {
		fields = append(fields, zap.String("chatflow_id", s.ChatflowID))
	}
	return fields
}

// FromContext returns the request logger, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Nop()
}

// IntoContext stores l for FromContext.
func IntoContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

type rootErrorSlot struct {
	err error
}

// TrackRootError reserves a slot that handlers deeper in the chain fill
// with RecordRootError, so the access log can report the cause of a 5xx.
func TrackRootError(ctx context.Context) context.Context {
	return context.WithValue(ctx, rootErrorKey, &rootErrorSlot{})
}

// RecordRootError stores err if ctx was prepared by TrackRootError.
func RecordRootError(ctx context.Context, err error) {
	if slot, ok := ctx.Value(rootErrorKey).(*rootErrorSlot); ok {
		slot.err = err
	}
}

// RootError returns the recorded error, if any.
func RootError(ctx context.Context) error {
	if slot, ok := ctx.Value(rootErrorKey).(*rootErrorSlot); ok {
		return slot.err
	}
	return nil
}
