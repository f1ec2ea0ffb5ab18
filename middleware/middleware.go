// Package middleware provides net/http guards over the session layer.
package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/veltrix/authcore/session"
)

type contextKey struct{}

var claimsKey contextKey

// ClaimsFromContext returns the session claims injected by
// RequireSession, or nil outside a guarded handler.
func ClaimsFromContext(ctx context.Context) *session.Claims {
	claims, _ := ctx.Value(claimsKey).(*session.Claims)
	return claims
}

// RequireSession verifies the session cookies on every request and
// injects the access claims into the request context. Anonymous
// requests get 401; revoked sessions are redirected to loginPath with
// their cookies already cleared.
func RequireSession(m *session.Manager, loginPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := m.Verify(r.Context(), w, r)
			if err != nil {
				if errors.Is(err, session.ErrRevoked) {
					http.Redirect(w, r, loginPath, http.StatusFound)
					return
				}
				http.Error(w, "try again later", http.StatusServiceUnavailable)
				return
			}
			if claims == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
		})
	}
}

// RequireRole wraps RequireSession-guarded handlers with a role check.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil || claims.Role != role {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
