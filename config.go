package auth

import (
	"context"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	goerrors "github.com/goliatone/go-errors"
)

// Cache backends accepted by Config.CacheBackend
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
	CacheBackendNone   = "none"
)

// Config holds the settings needed to assemble the auth stack. Load it once
// at startup with LoadConfig and pass it down.
type Config struct {
	SecretKey       string        `env:"AUTH_SECRET_KEY"`
	Algorithm       string        `env:"AUTH_ALGORITHM"         envDefault:"HS256"`
	Issuer          string        `env:"AUTH_ISSUER"`
	AccessTokenTTL  time.Duration `env:"AUTH_ACCESS_TOKEN_TTL"  envDefault:"15m"`
	EmailTokenTTL   time.Duration `env:"AUTH_EMAIL_TOKEN_TTL"   envDefault:"168h"`
	ResetTokenTTL   time.Duration `env:"AUTH_RESET_TOKEN_TTL"   envDefault:"1h"`
	CacheBackend    string        `env:"AUTH_CACHE_BACKEND"     envDefault:"memory"`
	CacheMaxEntries int           `env:"AUTH_CACHE_MAX_ENTRIES" envDefault:"10000"`
	RedisURL        string        `env:"REDIS_URL"`
	RedisPrefix     string        `env:"AUTH_REDIS_PREFIX"      envDefault:"auth:identity:"`
	DatabaseURL     string        `env:"DATABASE_URL"           envDefault:"file::memory:?cache=shared"`
	BcryptCost      int           `env:"AUTH_BCRYPT_COST"`
	BaseURL         string        `env:"APP_BASE_URL"           envDefault:"http://localhost:8000"`
	HTTPAddr        string        `env:"HTTP_ADDR"              envDefault:":8000"`
	DevMailLog      bool          `env:"AUTH_DEV_MAIL_LOG"`

	SMTP SMTPConfig
}

// LoadConfig reads Config from the environment and validates it
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "parse env")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate rejects configurations the stack cannot start with
func (c Config) Validate() error {
	if strings.TrimSpace(c.SecretKey) == "" {
		return goerrors.New("AUTH_SECRET_KEY is required", goerrors.CategoryBadInput)
	}

	if _, err := hmacMethod(c.Algorithm); err != nil {
		return err
	}

	ttls := map[string]time.Duration{
		"AUTH_ACCESS_TOKEN_TTL": c.AccessTokenTTL,
		"AUTH_EMAIL_TOKEN_TTL":  c.EmailTokenTTL,
		"AUTH_RESET_TOKEN_TTL":  c.ResetTokenTTL,
	}
	for name, ttl := range ttls {
		if ttl < time.Second {
			return goerrors.New("token lifetime must be at least one second", goerrors.CategoryBadInput).
				WithMetadata(map[string]any{"setting": name, "value": ttl.String()})
		}
	}

	switch c.CacheBackend {
	case CacheBackendMemory, CacheBackendNone, "":
	case CacheBackendRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return goerrors.New("REDIS_URL is required for the redis cache backend", goerrors.CategoryBadInput)
		}
	default:
		return goerrors.New("unknown cache backend", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"backend": c.CacheBackend})
	}

	if c.CacheMaxEntries < 0 {
		return goerrors.New("AUTH_CACHE_MAX_ENTRIES must not be negative", goerrors.CategoryBadInput)
	}

	return nil
}

// NewTokenService builds the TokenCodec described by c
func (c Config) NewTokenService(clock Clock, logger Logger) (*TokenService, error) {
	return NewTokenService([]byte(c.SecretKey), c.Algorithm, c.Issuer, clock, logger)
}

// NewIdentityCache builds the configured cache backend. The returned close
// function releases the redis connection when one was opened.
func (c Config) NewIdentityCache(ctx context.Context, clock Clock, logger Logger) (IdentityCache, func() error, error) {
	noClose := func() error { return nil }

	switch c.CacheBackend {
	case CacheBackendNone:
		return NoopIdentityCache{}, noClose, nil
	case CacheBackendRedis:
		client, err := NewRedisClient(ctx, c.RedisURL)
		if err != nil {
			return nil, noClose, err
		}
		cache := NewRedisIdentityCache(client, c.RedisPrefix, clock).WithLogger(logger)
		return cache, client.Close, nil
	default:
		return NewMemoryIdentityCache(c.CacheMaxEntries, clock).WithLogger(logger), noClose, nil
	}
}

// NewEmailDispatcher returns the SMTP dispatcher. Without SMTP settings it
// fails unless DevMailLog is set, in which case links are logged in full.
func (c Config) NewEmailDispatcher(logger Logger) (EmailDispatcher, error) {
	if c.SMTP.Enabled() {
		return NewEmailDispatcher(c.SMTP, logger), nil
	}

	if !c.DevMailLog {
		return nil, goerrors.New("SMTP_HOST and SMTP_FROM are required unless AUTH_DEV_MAIL_LOG is set", goerrors.CategoryBadInput)
	}

	logger = normalizeLogger(logger)
	logger.Warn("AUTH_DEV_MAIL_LOG is set, email links with live tokens are written to the log")
	return LogDispatcher{Logger: logger, ShowLinks: true}, nil
}

// NewAuthManager wires repo, tokens and cache with the configured lifetimes
// and bcrypt cost.
func (c Config) NewAuthManager(repo IdentityRepository, tokens TokenCodec, cache IdentityCache, clock Clock, logger Logger) *AuthManager {
	return NewAuthManager(repo, tokens).
		WithLogger(logger).
		WithClock(clock).
		WithHasher(NewBcryptHasher(c.BcryptCost)).
		WithIdentityCache(cache).
		WithTokenTTLs(c.AccessTokenTTL, c.EmailTokenTTL, c.ResetTokenTTL)
}
