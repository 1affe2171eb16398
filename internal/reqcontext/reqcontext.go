// Package reqcontext carries request-scoped identifiers through a context.Context:
// request id, tenant id, and the authenticated actor. Every middleware, log line,
// and authorization decision in this service reads from here instead of threading
// extra function parameters.
package reqcontext

import "context"

type ctxKey int

const (
	requestIDKey ctxKey = iota
	tenantIDKey
	actorTypeKey
	actorIDKey
	roleKey
)

// ActorType distinguishes a human user session from an API-key-bearing caller.
type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeAPIKey ActorType = "api_key"
	ActorTypeSystem ActorType = "system"
)

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

func TenantIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(tenantIDKey).(string)
	return v
}

func WithActor(ctx context.Context, actorType ActorType, actorID, role string) context.Context {
	ctx = context.WithValue(ctx, actorTypeKey, actorType)
	ctx = context.WithValue(ctx, actorIDKey, actorID)
	ctx = context.WithValue(ctx, roleKey, role)
	return ctx
}

func ActorFromContext(ctx context.Context) (actorType ActorType, actorID string) {
	t, _ := ctx.Value(actorTypeKey).(ActorType)
	id, _ := ctx.Value(actorIDKey).(string)
	return t, id
}

func RoleFromContext(ctx context.Context) string {
	v, _ := ctx.Value(roleKey).(string)
	return v
}
