package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultAccessTokenTTL is used when CreateAccessToken gets no override
	DefaultAccessTokenTTL = 15 * time.Minute
	// DefaultEmailTokenTTL is the lifetime of email verification tokens
	DefaultEmailTokenTTL = 7 * 24 * time.Hour
	// DefaultResetTokenTTL is the lifetime of password reset tokens
	DefaultResetTokenTTL = time.Hour

	// exp and iat carry second precision
	claimsTTLTolerance = time.Second

	tracerName = "github.com/dinarest/contacts-auth"
)

// AuthManager issues tokens, authenticates credentials and resolves bearer
// tokens to principals. It is safe for concurrent use.
type AuthManager struct {
	repo      IdentityRepository
	tokens    TokenCodec
	hasher    PasswordHasher
	cache     IdentityCache
	clock     Clock
	logger    Logger
	activity  ActivitySink
	tracer    trace.Tracer
	accessTTL time.Duration
	emailTTL  time.Duration
	resetTTL  time.Duration

	ownsCache    bool
	fallbackOnce sync.Once
	fallbackHash string
}

// NewAuthManager returns an AuthManager with a bcrypt hasher and an in-memory
// identity cache.
func NewAuthManager(repo IdentityRepository, tokens TokenCodec) *AuthManager {
	return &AuthManager{
		repo:      repo,
		tokens:    tokens,
		hasher:    BcryptHasher{},
		cache:     NewMemoryIdentityCache(DefaultCacheMaxEntries, SystemClock),
		clock:     SystemClock,
		logger:    defLogger{},
		activity:  noopActivitySink{},
		tracer:    otel.Tracer(tracerName),
		accessTTL: DefaultAccessTokenTTL,
		emailTTL:  DefaultEmailTokenTTL,
		resetTTL:  DefaultResetTokenTTL,
		ownsCache: true,
	}
}

func (m *AuthManager) WithLogger(logger Logger) *AuthManager {
	m.logger = normalizeLogger(logger)
	return m
}

// WithClock sets the clock used for activity timestamps and for the final
// expiry check on resolved principals. Pass the same clock to the
// TokenService and the IdentityCache.
func (m *AuthManager) WithClock(clock Clock) *AuthManager {
	m.clock = normalizeClock(clock)
	if m.ownsCache {
		m.cache = NewMemoryIdentityCache(DefaultCacheMaxEntries, m.clock).WithLogger(m.logger)
	}
	return m
}

func (m *AuthManager) WithHasher(hasher PasswordHasher) *AuthManager {
	if hasher != nil {
		m.hasher = hasher
	}
	return m
}

// WithIdentityCache replaces the identity cache. nil disables caching.
func (m *AuthManager) WithIdentityCache(cache IdentityCache) *AuthManager {
	if cache == nil {
		cache = NoopIdentityCache{}
	}
	m.cache = cache
	m.ownsCache = false
	return m
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (m *AuthManager) WithActivitySink(sink ActivitySink) *AuthManager {
	m.activity = normalizeActivitySink(sink)
	return m
}

func (m *AuthManager) WithTracer(tracer trace.Tracer) *AuthManager {
	if tracer != nil {
		m.tracer = tracer
	}
	return m
}

// WithTokenTTLs overrides token lifetimes. Zero values keep the current one.
func (m *AuthManager) WithTokenTTLs(access, email, reset time.Duration) *AuthManager {
	if access > 0 {
		m.accessTTL = access
	}
	if email > 0 {
		m.emailTTL = email
	}
	if reset > 0 {
		m.resetTTL = reset
	}
	return m
}

// Repository returns the identity repository
func (m *AuthManager) Repository() IdentityRepository {
	return m.repo
}

// HashPassword hashes plaintext with the configured hasher
func (m *AuthManager) HashPassword(plaintext string) (string, error) {
	return m.hasher.Hash(plaintext)
}

// CreateAccessToken issues an access token for username. A zero expiresIn
// uses the default lifetime.
func (m *AuthManager) CreateAccessToken(username string, expiresIn time.Duration) (string, error) {
	if strings.TrimSpace(username) == "" {
		return "", goerrors.New("username is required", goerrors.CategoryBadInput)
	}

	ttl := expiresIn
	if ttl == 0 {
		ttl = m.accessTTL
	}

	return m.tokens.Encode(Claims{ClaimSubject: username}, ttl)
}

// Authenticate verifies a username and password pair. Unknown users and wrong
// passwords both yield ErrInvalidCredentials; a correct password for an
// unconfirmed account yields ErrEmailNotConfirmed.
func (m *AuthManager) Authenticate(ctx context.Context, username, password string) (*User, error) {
	ctx, span := m.tracer.Start(ctx, "auth.Authenticate")
	defer span.End()

	user, err := m.repo.FindByUsername(ctx, username)
	if err != nil {
		if !goerrors.Is(err, ErrIdentityNotFound) {
			m.logger.Error("Authenticate find identity error", "error", err)
			return nil, m.fail(span, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user during authentication"))
		}
		// keep the cost of an unknown user close to that of a wrong password
		m.hasher.Verify(password, m.randomHash())
		m.loginFailed(ctx, nil, username, "unknown_user")
		return nil, m.fail(span, ErrInvalidCredentials)
	}

	if !m.hasher.Verify(password, user.PasswordHash) {
		m.loginFailed(ctx, user, username, "password_mismatch")
		return nil, m.fail(span, ErrInvalidCredentials)
	}

	if !user.Confirmed {
		m.loginFailed(ctx, user, username, "email_not_confirmed")
		return nil, m.fail(span, ErrEmailNotConfirmed)
	}

	span.SetAttributes(attribute.String("auth.user_id", user.ID.String()))

	return user, nil
}

// Login authenticates the credentials and mints an access token
func (m *AuthManager) Login(ctx context.Context, username, password string) (string, error) {
	user, err := m.Authenticate(ctx, username, password)
	if err != nil {
		return "", err
	}

	token, err := m.CreateAccessToken(user.Username, 0)
	if err != nil {
		m.logger.Error("Login failed to mint access token", "error", err)
		m.loginFailed(ctx, user, username, "token_mint_failed")
		return "", err
	}

	recordActivity(ctx, m.activity, m.logger, m.clock, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor:     actorFromUser(user),
		UserID:    user.ID.String(),
		Metadata:  map[string]any{"identifier": username},
	})

	return token, nil
}

// ResolveCurrentIdentity resolves a bearer token to a Principal. Decode
// failures and unknown subjects yield ErrUnauthorized.
func (m *AuthManager) ResolveCurrentIdentity(ctx context.Context, token string) (*Principal, error) {
	ctx, span := m.tracer.Start(ctx, "auth.ResolveCurrentIdentity")
	defer span.End()

	if strings.TrimSpace(token) == "" {
		return nil, m.fail(span, ErrUnauthorized)
	}

	principal, err := m.cache.Resolve(ctx, token, m.lookupPrincipal)
	if err != nil {
		return nil, m.fail(span, err)
	}

	if !principal.ValidAt(m.clock.Now()) {
		m.logger.Debug("ResolveCurrentIdentity rejected expired principal", "user_id", principal.ID().String())
		return nil, m.fail(span, ErrUnauthorized)
	}

	span.SetAttributes(attribute.String("auth.user_id", principal.ID().String()))

	return principal, nil
}

// ResolveCurrentAdmin resolves token and requires the admin role
func (m *AuthManager) ResolveCurrentAdmin(ctx context.Context, token string) (*AdminPrincipal, error) {
	ctx, span := m.tracer.Start(ctx, "auth.ResolveCurrentAdmin")
	defer span.End()

	principal, err := m.ResolveCurrentIdentity(ctx, token)
	if err != nil {
		return nil, m.fail(span, err)
	}

	if !principal.Role().IsAdmin() {
		m.logger.Info("ResolveCurrentAdmin denied non admin", "user_id", principal.ID().String(), "role", principal.Role().String())
		return nil, m.fail(span, ErrForbidden)
	}

	return &AdminPrincipal{principal: principal}, nil
}

// CreateEmailVerificationToken issues a token proving control of email
func (m *AuthManager) CreateEmailVerificationToken(email string) (string, error) {
	return m.createEmailToken(email, m.emailTTL)
}

// ExtractEmailFromVerificationToken returns the email a verification token
// was issued for.
func (m *AuthManager) ExtractEmailFromVerificationToken(token string) (string, error) {
	email, _, err := m.decodeEmailToken(token, m.emailTTL)
	if err != nil {
		m.logger.Debug("verification token rejected", "error", err)
		return "", ErrInvalidVerificationToken
	}
	return email, nil
}

// CreatePasswordResetToken issues a short lived token authorizing a password
// change for email.
func (m *AuthManager) CreatePasswordResetToken(email string) (string, error) {
	return m.createEmailToken(email, m.resetTTL)
}

// ValidatePasswordResetToken returns the email a reset token was issued for
func (m *AuthManager) ValidatePasswordResetToken(token string) (string, error) {
	email, _, err := m.decodeResetToken(token)
	if err != nil {
		return "", err
	}
	return email, nil
}

func (m *AuthManager) decodeResetToken(token string) (string, time.Time, error) {
	email, issuedAt, err := m.decodeEmailToken(token, m.resetTTL)
	if err != nil {
		m.logger.Debug("reset token rejected", "error", err)
		return "", time.Time{}, ErrInvalidResetToken
	}
	return email, issuedAt, nil
}

func (m *AuthManager) createEmailToken(email string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(email) == "" {
		return "", goerrors.New("email is required", goerrors.CategoryBadInput)
	}

	claims := Claims{
		ClaimSubject:  email,
		ClaimIssuedAt: m.clock.Now().Unix(),
	}

	return m.tokens.Encode(claims, ttl)
}

// decodeEmailToken checks the {sub, iat, exp} shape and that the token was
// not issued with a lifetime longer than maxTTL.
func (m *AuthManager) decodeEmailToken(token string, maxTTL time.Duration) (string, time.Time, error) {
	claims, err := m.tokens.Decode(token)
	if err != nil {
		return "", time.Time{}, err
	}

	email := ClaimsSubject(claims)
	if email == "" {
		return "", time.Time{}, goerrors.New("token has no subject", goerrors.CategoryValidation)
	}

	issuedAt, ok := ClaimsIssuedAt(claims)
	if !ok {
		return "", time.Time{}, goerrors.New("token has no issued at claim", goerrors.CategoryValidation)
	}

	if lifetime := ClaimsExpires(claims).Sub(issuedAt); lifetime > maxTTL+claimsTTLTolerance {
		return "", time.Time{}, goerrors.New("token lifetime exceeds its class", goerrors.CategoryValidation).
			WithMetadata(map[string]any{"lifetime": lifetime.String(), "max": maxTTL.String()})
	}

	return email, issuedAt, nil
}

// lookupPrincipal is the cache miss path: decode an access token and fetch
// the identity named by its subject.
func (m *AuthManager) lookupPrincipal(ctx context.Context, token string) (*Principal, error) {
	claims, err := m.tokens.Decode(token)
	if err != nil {
		m.logger.Debug("access token rejected", "error", err)
		return nil, ErrUnauthorized
	}

	username := ClaimsSubject(claims)
	if username == "" {
		m.logger.Debug("access token rejected, missing subject")
		return nil, ErrUnauthorized
	}

	if _, ok := ClaimsIssuedAt(claims); ok {
		m.logger.Debug("access token rejected, claim shape belongs to an email token")
		return nil, ErrUnauthorized
	}

	user, err := m.repo.FindByUsername(ctx, username)
	if err != nil {
		if goerrors.Is(err, ErrIdentityNotFound) {
			m.logger.Debug("access token subject not found", "username", username)
			return nil, ErrUnauthorized
		}
		m.logger.Error("lookup principal find identity error", "error", err)
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for token")
	}

	return NewPrincipal(*user, ClaimsExpires(claims)), nil
}

func (m *AuthManager) randomHash() string {
	m.fallbackOnce.Do(func() {
		m.fallbackHash = RandomPasswordHash(m.hasher)
	})
	return m.fallbackHash
}

func (m *AuthManager) loginFailed(ctx context.Context, user *User, identifier, reason string) {
	m.logger.Info("Login rejected", "identifier", identifier, "reason", reason)

	userID := ""
	if user != nil {
		userID = user.ID.String()
	}

	recordActivity(ctx, m.activity, m.logger, m.clock, ActivityEvent{
		EventType: ActivityEventLoginFailure,
		Actor:     actorFromUser(user),
		UserID:    userID,
		Metadata: map[string]any{
			"identifier": identifier,
			"reason":     reason,
		},
	})
}

func (m *AuthManager) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
