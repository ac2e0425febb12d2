// Package auditcontext carries request-scoped identity fields into audit entries.
package auditcontext

import "context"

type contextKey string

const (
	requestIDKey contextKey = "audit_request_id"
	ipAddressKey contextKey = "audit_ip_address"
	userAgentKey contextKey = "audit_user_agent"
	actorKey     contextKey = "audit_actor"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

func WithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipAddressKey, ip)
}

func IPAddressFromContext(ctx context.Context) string {
	value, _ := ctx.Value(ipAddressKey).(string)
	return value
}

func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, userAgentKey, ua)
}

func UserAgentFromContext(ctx context.Context) string {
	value, _ := ctx.Value(userAgentKey).(string)
	return value
}

func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

func ActorFromContext(ctx context.Context) string {
	value, _ := ctx.Value(actorKey).(string)
	return value
}
