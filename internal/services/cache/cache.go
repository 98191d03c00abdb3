package cache

import (
	"fmt"
	"time"

	"github.com/autoanosis/ai-relay-go/internal/config"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// NonceGuard remembers token nonces until their token can no longer verify.
type NonceGuard interface {
	// Claim records (uid, nonce) and reports whether it was unseen.
	Claim(uid int64, nonce string, expires, now time.Time) bool
	// Release forgets a claim so the token can be presented again.
	Release(uid int64, nonce string)
}

// Cache implements NonceGuard on an expiring in-memory cache
type Cache struct {
	enabled bool
	cache   *cache.Cache
	logger  *logrus.Logger
}

// NewNonceGuard creates a new guard; when disabled every claim succeeds.
func NewNonceGuard(cfg *config.IdentityConfig, logger *logrus.Logger) *Cache {
	if !cfg.RejectReplayedNonce {
		return &Cache{enabled: false}
	}

	return &Cache{
		enabled: true,
		cache:   cache.New(cache.NoExpiration, 5*time.Minute),
		logger:  logger,
	}
}

// Claim returns false if the nonce was already claimed for uid. An empty
// nonce cannot be tracked and is always accepted.
func (c *Cache) Claim(uid int64, nonce string, expires, now time.Time) bool {
	if !c.enabled || nonce == "" {
		return true
	}

	ttl := expires.Sub(now)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := c.cache.Add(generateKey(uid, nonce), struct{}{}, ttl); err != nil {
		c.logger.WithField("uid", uid).Warn("Replayed token nonce")
		return false
	}
	return true
}

// Release drops a claim made for a turn that did not complete
func (c *Cache) Release(uid int64, nonce string) {
	if !c.enabled || nonce == "" {
		return
	}
	c.cache.Delete(generateKey(uid, nonce))
}

// ItemCount returns the number of remembered nonces
func (c *Cache) ItemCount() int {
	if !c.enabled {
		return 0
	}
	return c.cache.ItemCount()
}

func generateKey(uid int64, nonce string) string {
	return fmt.Sprintf("%d:%s", uid, nonce)
}
