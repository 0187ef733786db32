package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// DefaultSigningMethod is used when no algorithm is configured
const DefaultSigningMethod = "HS256"

// TokenCodec signs claim sets into compact bearer tokens and verifies them
type TokenCodec interface {
	// Encode adds exp (now + ttl) to a copy of claims and signs it
	Encode(claims Claims, ttl time.Duration) (string, error)
	// Decode verifies signature and expiry atomically
	Decode(token string) (Claims, error)
}

// TokenService is the HMAC TokenCodec. The signing key is loaded once at
// startup and handed in here, never read from ambient state.
type TokenService struct {
	signingKey []byte
	method     jwt.SigningMethod
	issuer     string
	clock      Clock
	logger     Logger
	parser     *jwt.Parser
}

var _ TokenCodec = (*TokenService)(nil)

// NewTokenService creates a new TokenService instance. algorithm must name an
// HMAC method (HS256, HS384, HS512); empty selects HS256.
func NewTokenService(signingKey []byte, algorithm, issuer string, clock Clock, logger Logger) (*TokenService, error) {
	if len(signingKey) == 0 {
		return nil, goerrors.New("signing key is required", goerrors.CategoryBadInput)
	}

	method, err := hmacMethod(algorithm)
	if err != nil {
		return nil, err
	}

	ts := &TokenService{
		signingKey: append([]byte(nil), signingKey...),
		method:     method,
		issuer:     issuer,
		clock:      normalizeClock(clock),
		logger:     normalizeLogger(logger),
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return ts.clock.Now() }),
	}
	if issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(issuer))
	}
	ts.parser = jwt.NewParser(parserOptions...)

	return ts, nil
}

// Encode signs claims with an expiry ttl from now. ttl must be at least one
// second since exp is carried with second precision and must lie after now.
func (ts *TokenService) Encode(claims Claims, ttl time.Duration) (string, error) {
	if ttl < time.Second {
		return "", goerrors.New("token TTL must be at least one second", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"ttl": ttl.String()})
	}

	now := ts.clock.Now()
	expiresAt := now.Add(ttl)

	toEncode := cloneClaims(claims)
	toEncode[ClaimExpiresAt] = jwt.NewNumericDate(expiresAt)
	if ts.issuer != "" {
		toEncode[ClaimIssuer] = ts.issuer
	}

	token := jwt.NewWithClaims(ts.method, toEncode)

	signedString, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

// Decode parses and validates a token string. Callers only learn that the
// token was expired or malformed; the underlying reason is logged.
func (ts *TokenService) Decode(tokenString string) (Claims, error) {
	claims := Claims{}

	token, err := ts.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return ts.signingKey, nil
	})

	if err != nil {
		if goerrors.Is(err, jwt.ErrTokenExpired) {
			ts.logger.Debug("TokenService decode rejected expired token")
			return nil, ErrTokenExpired
		}
		ts.logger.Debug("TokenService decode rejected token", "error", err)
		return nil, ErrTokenMalformed
	}

	if !token.Valid {
		ts.logger.Error("TokenService decode could not validate claims")
		return nil, ErrTokenMalformed
	}

	return claims, nil
}

// Algorithm returns the JWT alg header value used when signing
func (ts *TokenService) Algorithm() string {
	return ts.method.Alg()
}

func hmacMethod(algorithm string) (jwt.SigningMethod, error) {
	alg := strings.ToUpper(strings.TrimSpace(algorithm))
	if alg == "" {
		alg = DefaultSigningMethod
	}

	method := jwt.GetSigningMethod(alg)
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, goerrors.New(fmt.Sprintf("unsupported signing method: %s", algorithm), goerrors.CategoryBadInput)
	}

	return method, nil
}
