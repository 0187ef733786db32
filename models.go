package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the stored identity record
type User struct {
	bun.BaseModel     `bun:"table:users,alias:usr"`
	ID                uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Username          string    `bun:"username,notnull" json:"username"`
	Email             string    `bun:"email,notnull" json:"email"`
	PasswordHash      string    `bun:"password_hash,notnull" json:"-"`
	Role              Role      `bun:"role,notnull,default:'user'" json:"role"`
	Confirmed         bool      `bun:"confirmed,notnull,default:false" json:"confirmed"`
	Avatar            string    `bun:"avatar,nullzero" json:"avatar,omitempty"`
	PasswordChangedAt time.Time `bun:"password_changed_at,nullzero" json:"password_changed_at,omitempty"`
	CreatedAt         time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt         time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// IsAdmin reports whether the user holds the admin role
func (u *User) IsAdmin() bool {
	return u != nil && u.Role.IsAdmin()
}

// EnsureRole defaults unknown or empty roles to RoleUser
func (u *User) EnsureRole() {
	if u == nil {
		return
	}
	if !u.Role.IsValid() {
		u.Role = RoleUser
	}
}

// NormalizeIdentifier trims and lowercases a username or email for
// case-insensitive comparisons.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

func prepareUserDefaults(record *User, now time.Time) {
	if record == nil {
		return
	}

	record.Username = strings.TrimSpace(record.Username)
	record.Email = strings.TrimSpace(record.Email)
	record.EnsureRole()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}

	record.UpdatedAt = now
}
