package auth

import "context"

var principalCtxKey = &contextKey{"principal"}

type contextKey struct {
	name string
}

// WithPrincipal returns a copy of ctx carrying p
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey, p)
}

// PrincipalFromContext returns the principal stored by WithPrincipal
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalCtxKey).(*Principal)
	return p, ok && p != nil
}
