package redis

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/evermind-ai/evermind/internal/domain/models"
)

// TemplateCache stores canned greeting/ack/farewell replies keyed by message
// class and affinity state. Entries live in Redis when a client is supplied;
// a process-local map mirrors every write so a Redis outage degrades reads
// instead of failing them.
type TemplateCache struct {
	rdb *redis.Client // nil means local-only

	mu    sync.RWMutex
	local map[string]localEntry
}

type localEntry struct {
	value     string
	expiresAt time.Time
}

func NewTemplateCache(rdb *redis.Client) *TemplateCache {
	return &TemplateCache{
		rdb:   rdb,
		local: make(map[string]localEntry),
	}
}

func templateKey(class string, state models.AffinityState) string {
	return keyPrefix + "greeting:" + class + ":" + string(state)
}

// Get returns the cached template for the key, if any.
func (c *TemplateCache) Get(ctx context.Context, class string, state models.AffinityState) (string, bool) {
	key := templateKey(class, state)

	if c.rdb != nil {
		val, err := c.rdb.Get(ctx, key).Result()
		if err == nil {
			return val, true
		}
		if err != redis.Nil {
			log.Printf("warning: template cache: redis get failed, using local fallback: %v", err)
		}
	}

	c.mu.RLock()
	entry, ok := c.local[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.value, true
}

// Set stores the template under the key for ttl. The local mirror is always
// written so the process survives Redis going away between Set and Get.
func (c *TemplateCache) Set(ctx context.Context, class string, state models.AffinityState, text string, ttl time.Duration) {
	key := templateKey(class, state)

	c.mu.Lock()
	c.local[key] = localEntry{value: text, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()

	if c.rdb != nil {
		if err := c.rdb.Set(ctx, key, text, ttl).Err(); err != nil {
			log.Printf("warning: template cache: redis set failed: %v", err)
		}
	}
}
