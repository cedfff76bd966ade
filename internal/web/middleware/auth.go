package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/roster/internal/auth"
	"github.com/JonMunkholm/roster/internal/core"
)

// BasicAuth returns middleware that checks HTTP basic credentials against
// authn and records the operator on the request context.
// If required is false, requests without credentials pass through; supplied
// credentials are still checked.
func BasicAuth(authn auth.Authenticator, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok {
				if !required {
					next.ServeHTTP(w, r)
					return
				}
				slog.Warn("auth: missing credentials",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				unauthorized(w)
				return
			}

			if authn == nil || !authn.Authenticate(user, pass) {
				slog.Warn("auth: invalid credentials",
					"path", r.URL.Path,
					"method", r.Method,
					"user", user,
					"remote_addr", r.RemoteAddr,
				)
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(core.ContextWithActor(r.Context(), user)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	msg := core.MapError(core.ErrUnauthorized)
	w.Header().Set("WWW-Authenticate", `Basic realm="roster", charset="UTF-8"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   msg.Message,
		"message": msg.Message,
		"action":  msg.Action,
		"code":    msg.Code,
	})
}
