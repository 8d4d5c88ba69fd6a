package auth

import (
	"context"
	"net/http"
	"strings"
)

const TokenHeader = "X-BOARD-TOKEN"

// Identity is the authenticated user acting on a request. The zero value is anonymous.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (i Identity) IsAnonymous() bool {
	return i.ID == ""
}

type identityCtxKey struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, identity)
}

// IdentityFromContext returns the anonymous identity if none was attached.
func IdentityFromContext(ctx context.Context) Identity {
	identity, _ := ctx.Value(identityCtxKey{}).(Identity)
	return identity
}

// TokenFromRequest reads the session token from X-BOARD-TOKEN, falling back to a bearer Authorization header.
func TokenFromRequest(r *http.Request) string {
	if token := r.Header.Get(TokenHeader); token != "" {
		return token
	}
	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}
