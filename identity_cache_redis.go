package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisCachePrefix namespaces identity cache keys
const DefaultRedisCachePrefix = "auth:identity:"

// RedisCommander is the subset of the go-redis client used by the cache
type RedisCommander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisIdentityCache shares resolved principals across processes. Keys are a
// digest of the token so raw bearer tokens never reach redis, and each key
// expires together with its token.
type RedisIdentityCache struct {
	client RedisCommander
	prefix string
	clock  Clock
	logger Logger
}

var _ IdentityCache = (*RedisIdentityCache)(nil)

type redisPrincipal struct {
	User      User      `json:"user"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewRedisClient returns a configured go-redis client from URL (e.g., redis://localhost:6379/0).
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, goerrors.New("empty redis url", goerrors.CategoryBadInput)
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid redis url")
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "redis ping failed")
	}

	return client, nil
}

// NewRedisIdentityCache wraps client. An empty prefix uses DefaultRedisCachePrefix.
func NewRedisIdentityCache(client RedisCommander, prefix string, clock Clock) *RedisIdentityCache {
	if prefix == "" {
		prefix = DefaultRedisCachePrefix
	}
	return &RedisIdentityCache{
		client: client,
		prefix: prefix,
		clock:  normalizeClock(clock),
		logger: defLogger{},
	}
}

func (c *RedisIdentityCache) WithLogger(logger Logger) *RedisIdentityCache {
	c.logger = normalizeLogger(logger)
	return c
}

// Resolve serves a live cached principal or runs lookup and stores the
// result. Redis failures degrade to a plain lookup.
func (c *RedisIdentityCache) Resolve(ctx context.Context, token string, lookup LookupFunc) (*Principal, error) {
	key := c.key(token)

	if principal, ok := c.get(ctx, key); ok {
		return principal, nil
	}

	principal, err := lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if principal == nil {
		return nil, ErrIdentityNotFound
	}

	c.put(context.WithoutCancel(ctx), key, principal)

	return principal, nil
}

func (c *RedisIdentityCache) get(ctx context.Context, key string) (*Principal, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !goerrors.Is(err, redis.Nil) {
			c.logger.Warn("identity cache read failed", "error", err)
		}
		return nil, false
	}

	var entry redisPrincipal
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("identity cache entry could not be decoded", "error", err)
		return nil, false
	}

	principal := NewPrincipal(entry.User, entry.ExpiresAt)
	if !principal.ValidAt(c.clock.Now()) {
		if err := c.client.Del(ctx, key).Err(); err != nil {
			c.logger.Warn("identity cache stale entry delete failed", "error", err)
		}
		return nil, false
	}

	return principal, true
}

func (c *RedisIdentityCache) put(ctx context.Context, key string, principal *Principal) {
	ttl := principal.ExpiresAt().Sub(c.clock.Now())
	if ttl <= 0 {
		return
	}

	raw, err := json.Marshal(redisPrincipal{
		User:      principal.User(),
		ExpiresAt: principal.ExpiresAt(),
	})
	if err != nil {
		c.logger.Warn("identity cache entry could not be encoded", "error", err)
		return
	}

	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.logger.Warn("identity cache write failed", "error", err)
	}
}

func (c *RedisIdentityCache) key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return c.prefix + hex.EncodeToString(sum[:])
}
