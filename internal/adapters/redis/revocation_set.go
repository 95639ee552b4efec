package redis

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationSet tracks revoked auth tokens until their TTL passes. Redis
// makes revocations visible across instances; without it the set is
// process-local, which still fences the instance that performed the revoke.
type RevocationSet struct {
	rdb *redis.Client // nil means local-only

	mu    sync.RWMutex
	local map[string]time.Time // token id -> expiry
}

func NewRevocationSet(rdb *redis.Client) *RevocationSet {
	return &RevocationSet{
		rdb:   rdb,
		local: make(map[string]time.Time),
	}
}

func revocationKey(tokenID string) string {
	return keyPrefix + "revoked:" + tokenID
}

// Revoke marks the token id revoked for ttl.
func (s *RevocationSet) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	s.mu.Lock()
	s.local[tokenID] = time.Now().Add(ttl)
	// Opportunistic sweep keeps the map from accumulating dead tokens.
	now := time.Now()
	for id, exp := range s.local {
		if now.After(exp) {
			delete(s.local, id)
		}
	}
	s.mu.Unlock()

	if s.rdb != nil {
		if err := s.rdb.Set(ctx, revocationKey(tokenID), "1", ttl).Err(); err != nil {
			return err
		}
	}
	return nil
}

// IsRevoked reports whether the token id is currently revoked.
func (s *RevocationSet) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if s.rdb != nil {
		n, err := s.rdb.Exists(ctx, revocationKey(tokenID)).Result()
		if err == nil {
			if n > 0 {
				return true, nil
			}
		} else {
			log.Printf("warning: revocation set: redis lookup failed, using local fallback: %v", err)
		}
	}

	s.mu.RLock()
	exp, ok := s.local[tokenID]
	s.mu.RUnlock()
	return ok && time.Now().Before(exp), nil
}
