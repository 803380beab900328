package auth

import "context"

type contextKey string

const identityContextKey contextKey = "chatbattles_identity"

// Identity holds the authenticated identity for a request. Requests without a
// session carry no Identity and are treated as anonymous.
type Identity struct {
	SessionID string
	UserID    string
	IsAdmin   bool
}

func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(*Identity)
	return id, ok
}

// UserID returns the authenticated user id, or "" for anonymous requests.
func UserID(ctx context.Context) string {
	if id, ok := IdentityFromContext(ctx); ok {
		return id.UserID
	}
	return ""
}
