package observability

import (
	"context"

	"github.com/google/uuid"
)

// Attribute keys shared by logs and metric tags.
const (
	CorrelationIDKey = "correlation_id"
	RequestIDKey     = "request_id"
	MessageTypeKey   = "message_type"
	ImageIDKey       = "image_id"
	DurationKey      = "duration_ms"
	ErrorKey         = "error"
	StatusKey        = "status"
)

// ctxKey scopes the context values of this package.
type ctxKey int

const (
	correlationCtx ctxKey = iota
	requestCtx
	messageTypeCtx
)

func withValue(ctx context.Context, key ctxKey, v string) context.Context {
	return context.WithValue(ctx, key, v)
}

func valueOf(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

// WithCorrelationID stores id on ctx, generating one when id is empty. The
// correlation id follows a request through every message it causes.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return withValue(ctx, correlationCtx, id)
}

func CorrelationIDFromContext(ctx context.Context) string {
	return valueOf(ctx, correlationCtx)
}

// WithRequestID stores id on ctx, generating one when id is empty.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return withValue(ctx, requestCtx, id)
}

func RequestIDFromContext(ctx context.Context) string {
	return valueOf(ctx, requestCtx)
}

// WithMessageType stores the tag of the message being handled.
func WithMessageType(ctx context.Context, tag string) context.Context {
	return withValue(ctx, messageTypeCtx, tag)
}

func MessageTypeFromContext(ctx context.Context) string {
	return valueOf(ctx, messageTypeCtx)
}

// NewRequestContext gives an inbound request a fresh request id and the
// caller's correlation id, or a new one when the caller sent none.
func NewRequestContext(ctx context.Context, correlationID string) context.Context {
	return WithCorrelationID(WithRequestID(ctx, ""), correlationID)
}
