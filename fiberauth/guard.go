package fiberauth

import (
	"context"
	"strings"

	auth "github.com/dinarest/contacts-auth"
	"github.com/gofiber/fiber/v2"
)

// IdentityResolver resolves bearer tokens. *auth.AuthManager implements it.
type IdentityResolver interface {
	ResolveCurrentIdentity(ctx context.Context, token string) (*auth.Principal, error)
	ResolveCurrentAdmin(ctx context.Context, token string) (*auth.AdminPrincipal, error)
}

// IdentityHandler receives the principal resolved for the request
type IdentityHandler func(c *fiber.Ctx, p *auth.Principal) error

// AdminHandler receives a principal that passed the admin check
type AdminHandler func(c *fiber.Ctx, p *auth.AdminPrincipal) error

// Guard wraps handlers that need the current identity. Resolution errors are
// returned to fiber so the app ErrorHandler renders them.
type Guard struct {
	resolver IdentityResolver
}

func NewGuard(resolver IdentityResolver) *Guard {
	return &Guard{resolver: resolver}
}

// Identity requires any valid access token. The principal is also stored in
// the request's user context, see auth.PrincipalFromContext.
func (g *Guard) Identity(h IdentityHandler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := BearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return auth.ErrUnauthorized
		}

		principal, err := g.resolver.ResolveCurrentIdentity(c.UserContext(), token)
		if err != nil {
			return err
		}

		c.SetUserContext(auth.WithPrincipal(c.UserContext(), principal))

		return h(c, principal)
	}
}

// Admin requires an access token whose identity holds the admin role
func (g *Guard) Admin(h AdminHandler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := BearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return auth.ErrUnauthorized
		}

		admin, err := g.resolver.ResolveCurrentAdmin(c.UserContext(), token)
		if err != nil {
			return err
		}

		c.SetUserContext(auth.WithPrincipal(c.UserContext(), admin.Principal()))

		return h(c, admin)
	}
}

// BearerToken extracts the token from an Authorization header value. The
// scheme is matched case-insensitively.
func BearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}

	return token, true
}
