package auth

import "context"

var _ IdentityChecker = (*LoginChecker)(nil)
var _ IdentityChecker = (*StaticChecker)(nil)

// IdentityChecker resolves a session token. An unknown or expired token yields the anonymous identity and no error.
type IdentityChecker interface {
	Identity(ctx context.Context, token string) (Identity, error)
}

// StaticChecker serves a fixed token -> identity map, used for local dev and tests.
type StaticChecker struct {
	Sessions map[string]Identity
}

func NewStaticChecker() *StaticChecker {
	return &StaticChecker{
		Sessions: map[string]Identity{},
	}
}

func (c *StaticChecker) Identity(_ context.Context, token string) (Identity, error) {
	return c.Sessions[token], nil
}
