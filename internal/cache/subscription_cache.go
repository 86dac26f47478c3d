package cache

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	subscriptiondomain "github.com/smallbiznis/meterly/internal/subscription/domain"
)

const (
	defaultSubscriptionSize = 10_000
	defaultSubscriptionTTL  = 30 * time.Second
)

// SubscriptionCache stores hot-path subscription lookups for limit checks.
type SubscriptionCache interface {
	Get(userID string) (subscriptiondomain.Subscription, bool)
	Set(subscription subscriptiondomain.Subscription)
	Invalidate(userID string)
}

type subscriptionCache struct {
	entries *expirable.LRU[string, subscriptiondomain.Subscription]
}

// NewSubscriptionCache returns a bounded in-memory cache. Non-positive size
// or ttl fall back to defaults.
func NewSubscriptionCache(size int, ttl time.Duration) SubscriptionCache {
	if size <= 0 {
		size = defaultSubscriptionSize
	}
	if ttl <= 0 {
		ttl = defaultSubscriptionTTL
	}
	return &subscriptionCache{
		entries: expirable.NewLRU[string, subscriptiondomain.Subscription](size, nil, ttl),
	}
}

func (c *subscriptionCache) Get(userID string) (subscriptiondomain.Subscription, bool) {
	return c.entries.Get(cacheKey(userID))
}

func (c *subscriptionCache) Set(subscription subscriptiondomain.Subscription) {
	if subscription.ID == 0 {
		return
	}
	c.entries.Add(cacheKey(subscription.UserID), subscription)
}

func (c *subscriptionCache) Invalidate(userID string) {
	c.entries.Remove(cacheKey(userID))
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, trimmed)
	}
	return strings.Join(values, "|")
}
