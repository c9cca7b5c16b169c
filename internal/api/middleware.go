package api

import (
	"net/http"
	"strings"

	"attendance.service/internal/identity"
	"github.com/gorilla/mux"
)

// AuthMiddleware verifies the bearer token and attaches the caller identity
// to the request context. The token carries only the uid; roles are always
// re-resolved server-side.
func AuthMiddleware(secret string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || token == "" {
				http.Error(w, "Missing bearer token", http.StatusUnauthorized)
				return
			}

			ident, err := identity.ParseToken(secret, token)
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			ctx := identity.WithIdentity(r.Context(), *ident)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
