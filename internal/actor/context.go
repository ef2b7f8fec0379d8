// Package actor carries the identity of whoever triggered a scheduling
// operation through the request context.
package actor

import "context"

type ctxKey string

const actorKey ctxKey = "careflow.actor_id"

// System is recorded when no caller identity is available.
const System = "system"

// WithID stores the actor id in context.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, actorKey, id)
}

// IDFromContext extracts the actor id if present.
func IDFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(actorKey)
	if val == nil {
		return "", false
	}
	id, ok := val.(string)
	return id, ok && id != ""
}

// OrSystem returns the actor id in ctx or System.
func OrSystem(ctx context.Context) string {
	if id, ok := IDFromContext(ctx); ok {
		return id
	}
	return System
}
