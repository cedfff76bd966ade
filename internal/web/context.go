package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/roster/internal/core"
)

// WithRequestMetadata copies the client address onto ctx for operation logs.
// The operator name is added by the auth middleware.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	return core.ContextWithIPAddress(ctx, r.RemoteAddr) // already rewritten by TrustedRealIP
}
