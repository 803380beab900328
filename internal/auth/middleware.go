package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/chatbattles/chatbattles/internal/httputil"
)

// Middleware returns chi middleware that resolves an optional session token.
// Requests without an Authorization header pass through as anonymous; a
// present-but-invalid token is rejected.
func Middleware(store SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := w.Header().Get("X-Request-ID")

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token == authHeader || token == "" {
				httputil.WriteAuthError(w, reqID, "Invalid Authorization format. Use: Authorization: Bearer <session-token>")
				return
			}

			tokenHash := HashToken(token)
			meta, err := store.Lookup(r.Context(), tokenHash)
			if err != nil {
				slog.Error("session lookup failed", "error", err, "token_prefix", TokenPrefix(token))
				httputil.WriteInternalError(w, reqID, "Internal error during authentication")
				return
			}
			if meta == nil {
				slog.Warn("auth failed: session not found", "token_prefix", TokenPrefix(token))
				httputil.WriteAuthError(w, reqID, "Invalid or expired session")
				return
			}

			id := &Identity{
				SessionID: meta.ID,
				UserID:    meta.UserID,
				IsAdmin:   meta.IsAdmin,
			}

			ctx := ContextWithIdentity(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin gates a route on an authenticated admin session.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := w.Header().Get("X-Request-ID")

		id, ok := IdentityFromContext(r.Context())
		if !ok {
			httputil.WriteAuthError(w, reqID, "Admin access requires an authenticated session")
			return
		}
		if !id.IsAdmin {
			httputil.WriteForbiddenError(w, reqID, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
