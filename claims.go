package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the key/value claim set carried by a token
type Claims = jwt.MapClaims

const (
	ClaimSubject   = "sub"
	ClaimIssuedAt  = "iat"
	ClaimExpiresAt = "exp"
	ClaimIssuer    = "iss"
)

// ClaimsSubject returns the sub claim, or an empty string when it is missing
// or not a string.
func ClaimsSubject(c Claims) string {
	sub, err := c.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}

// ClaimsIssuedAt returns the iat claim and whether it was present
func ClaimsIssuedAt(c Claims) (time.Time, bool) {
	if _, ok := c[ClaimIssuedAt]; !ok {
		return time.Time{}, false
	}
	iat, err := c.GetIssuedAt()
	if err != nil || iat == nil {
		return time.Time{}, false
	}
	return iat.Time, true
}

// ClaimsExpires returns the exp claim or the zero time
func ClaimsExpires(c Claims) time.Time {
	exp, err := c.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func cloneClaims(c Claims) Claims {
	out := make(Claims, len(c)+2)
	for k, v := range c {
		out[k] = v
	}
	return out
}
