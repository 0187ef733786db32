package auth

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheMaxEntries bounds the in-memory identity cache
const DefaultCacheMaxEntries = 10000

// LookupFunc resolves a raw token to a Principal, typically by decoding it
// and fetching the identity from the repository.
type LookupFunc func(ctx context.Context, token string) (*Principal, error)

// IdentityCache memoizes identity resolution keyed by the exact token string.
// An entry is only ever served while its governing token has not expired.
type IdentityCache interface {
	Resolve(ctx context.Context, token string, lookup LookupFunc) (*Principal, error)
}

// NoopIdentityCache always calls lookup
type NoopIdentityCache struct{}

func (NoopIdentityCache) Resolve(ctx context.Context, token string, lookup LookupFunc) (*Principal, error) {
	return lookup(ctx, token)
}

// MemoryIdentityCache is a process-local IdentityCache. Eviction is lazy: an
// expired entry is dropped when it is next read, or when the cache is full
// and room is needed for a new entry.
type MemoryIdentityCache struct {
	entries    *xsync.MapOf[string, *Principal]
	group      singleflight.Group
	clock      Clock
	logger     Logger
	maxEntries int
}

var _ IdentityCache = (*MemoryIdentityCache)(nil)

// NewMemoryIdentityCache creates a cache holding at most maxEntries
// principals. A non-positive maxEntries uses DefaultCacheMaxEntries.
func NewMemoryIdentityCache(maxEntries int, clock Clock) *MemoryIdentityCache {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheMaxEntries
	}
	return &MemoryIdentityCache{
		entries:    xsync.NewMapOf[string, *Principal](),
		clock:      normalizeClock(clock),
		logger:     defLogger{},
		maxEntries: maxEntries,
	}
}

func (c *MemoryIdentityCache) WithLogger(logger Logger) *MemoryIdentityCache {
	c.logger = normalizeLogger(logger)
	return c
}

// Resolve returns the cached principal for token if it is still live,
// otherwise it runs lookup and caches a successful result.
//
// Concurrent misses for the same token share one lookup. The shared lookup is
// detached from the caller's cancellation so an abandoned request still
// finishes its write; the caller itself returns as soon as ctx is done.
func (c *MemoryIdentityCache) Resolve(ctx context.Context, token string, lookup LookupFunc) (*Principal, error) {
	if principal, ok := c.get(token); ok {
		return principal, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(token, func() (any, error) {
		principal, err := lookup(detached, token)
		if err != nil {
			return nil, err
		}
		if principal == nil {
			return nil, ErrIdentityNotFound
		}
		c.put(token, principal)
		return principal, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Principal), nil
	}
}

// Len reports the number of entries, expired ones included
func (c *MemoryIdentityCache) Len() int {
	return c.entries.Size()
}

// Forget drops the entry for token
func (c *MemoryIdentityCache) Forget(token string) {
	c.entries.Delete(token)
}

func (c *MemoryIdentityCache) get(token string) (*Principal, bool) {
	principal, ok := c.entries.Load(token)
	if !ok {
		return nil, false
	}

	if !principal.ValidAt(c.clock.Now()) {
		c.entries.Delete(token)
		return nil, false
	}

	return principal, true
}

func (c *MemoryIdentityCache) put(token string, principal *Principal) {
	now := c.clock.Now()
	if !principal.ValidAt(now) {
		return
	}

	if c.entries.Size() >= c.maxEntries {
		c.evict(now)
	}

	c.entries.Store(token, principal)
}

// evict drops expired entries first and then arbitrary ones until there is
// room for one more.
func (c *MemoryIdentityCache) evict(now time.Time) {
	c.entries.Range(func(key string, value *Principal) bool {
		if !value.ValidAt(now) {
			c.entries.Delete(key)
		}
		return true
	})

	if c.entries.Size() < c.maxEntries {
		return
	}

	excess := c.entries.Size() - c.maxEntries + 1
	c.entries.Range(func(key string, _ *Principal) bool {
		c.entries.Delete(key)
		excess--
		return excess > 0
	})

	c.logger.Debug("identity cache full, evicted live entries", "max_entries", c.maxEntries)
}
