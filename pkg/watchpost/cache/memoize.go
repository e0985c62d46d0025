package cache

import (
	"strings"
	"time"
)

// KeyTemplate renders a cache key by substituting `{name}` placeholders
// against a call's named arguments, the same templating vocabulary as
// pkg/watchpost/hostname's Template strategy.
func KeyTemplate(template string, args map[string]string) string {
	pairs := make([]string, 0, len(args)*2)
	for k, v := range args {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// Compute produces a value on a cache miss; it returns the value to store
// and cache, plus any error that should prevent storing it.
type Compute func() ([]byte, error)

// Memoize wraps compute with the cache under key: on a live hit it returns
// the cached bytes without calling compute; on a miss it calls compute,
// stores the result under ttl, and returns it. When returnExpired is false,
// an expired entry goes through the cache's grace read (served once, then
// evicted, so the next call computes). When returnExpired is true, any
// stored entry, expired or not, is returned without being evicted, and
// compute runs only when nothing is stored under key.
func (c *Cache) Memoize(key string, ttl time.Duration, returnExpired bool, compute Compute) ([]byte, error) {
	if returnExpired {
		if entry, ok := c.Get(key, true); ok {
			return entry.Value, nil
		}
	} else if entry, ok := c.Get(key, false); ok {
		return entry.Value, nil
	}

	value, err := compute()
	if err != nil {
		return nil, err
	}
	if err := c.Store(key, value, ttl); err != nil {
		return value, nil
	}
	return value, nil
}
