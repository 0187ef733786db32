package auth

import (
	"time"

	"github.com/google/uuid"
)

// Principal is the resolved identity behind a bearer token. It is passed
// explicitly to the operations that need the current user and is bounded by
// the expiry of the token it was resolved from.
type Principal struct {
	user      User
	expiresAt time.Time
}

// NewPrincipal snapshots user for a token expiring at expiresAt
func NewPrincipal(user User, expiresAt time.Time) *Principal {
	user.PasswordHash = ""
	return &Principal{user: user, expiresAt: expiresAt}
}

// User returns a copy of the resolved identity record
func (p *Principal) User() User {
	return p.user
}

func (p *Principal) ID() uuid.UUID        { return p.user.ID }
func (p *Principal) Username() string     { return p.user.Username }
func (p *Principal) Email() string        { return p.user.Email }
func (p *Principal) Role() Role           { return p.user.Role }
func (p *Principal) Confirmed() bool      { return p.user.Confirmed }
func (p *Principal) Avatar() string       { return p.user.Avatar }
func (p *Principal) ExpiresAt() time.Time { return p.expiresAt }

// ValidAt reports whether the governing token is still live at now
func (p *Principal) ValidAt(now time.Time) bool {
	return p != nil && now.Before(p.expiresAt)
}

type principal = Principal

// AdminPrincipal is a Principal that passed the admin role check. Its field
// is unexported so only AuthManager.ResolveCurrentAdmin can build one.
type AdminPrincipal struct {
	*principal
}

// Principal returns the underlying identity
func (a *AdminPrincipal) Principal() *Principal {
	if a == nil {
		return nil
	}
	return a.principal
}
