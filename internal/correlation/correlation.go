package correlation

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

// IDKey is the context key for the correlation ID
const IDKey ContextKey = "correlation_id"

// truncatedLen is how many characters of the ID are shown to end users
const truncatedLen = 8

// New generates a new correlation ID
func New() string {
	return uuid.New().String()
}

// WithID adds a correlation ID to the context
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, IDKey, id)
}

// FromContext retrieves the correlation ID from the context
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(IDKey).(string); ok {
		return id
	}
	return ""
}

// FromContextOrNew retrieves the correlation ID from the context, generating
// a fresh one when the context carries none.
func FromContextOrNew(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := New()
	return WithID(ctx, id), id
}

// Truncate shortens a correlation ID for user-facing error strings.
// Full IDs stay in the logs only.
func Truncate(id string) string {
	if id == "" {
		return "unknown"
	}
	if len(id) <= truncatedLen {
		return id
	}
	return id[:truncatedLen]
}
