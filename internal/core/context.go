package core

import "context"

type contextKey string

const (
	ctxKeyActor     contextKey = "actor"
	ctxKeyIPAddress contextKey = "client_ip"
)

// ContextWithActor records the authenticated operator that started a request.
func ContextWithActor(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, ctxKeyActor, user)
}

// ContextWithIPAddress records the client address of a request.
func ContextWithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyIPAddress, ip)
}

// ActorFromContext returns the operator name, or "" when unauthenticated.
func ActorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyActor).(string); ok {
		return v
	}
	return ""
}

// IPAddressFromContext returns the client address, or "".
func IPAddressFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyIPAddress).(string); ok {
		return v
	}
	return ""
}

// requestAttrs returns the request identity as slog key/value pairs.
func requestAttrs(ctx context.Context) []any {
	var attrs []any
	if actor := ActorFromContext(ctx); actor != "" {
		attrs = append(attrs, "actor", actor)
	}
	if ip := IPAddressFromContext(ctx); ip != "" {
		attrs = append(attrs, "client_ip", ip)
	}
	return attrs
}
