package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dkeye/signalrelay/internal/domain"
)

// CachedVerifier remembers successful verifications for a short TTL so a
// reconnect storm does not hammer the identity provider. Failures are never
// cached.
type CachedVerifier struct {
	next  Verifier
	cache *expirable.LRU[string, domain.User]
}

func NewCachedVerifier(next Verifier, size int, ttl time.Duration) *CachedVerifier {
	return &CachedVerifier{
		next:  next,
		cache: expirable.NewLRU[string, domain.User](size, nil, ttl),
	}
}

func (v *CachedVerifier) Verify(ctx context.Context, token string) (domain.User, error) {
	key := cacheKey(token)
	if u, ok := v.cache.Get(key); ok {
		return u, nil
	}
	u, err := v.next.Verify(ctx, token)
	if err != nil {
		return domain.User{}, err
	}
	v.cache.Add(key, u)
	return u, nil
}

// Tokens are bearer secrets; keep only their digest in memory.
func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
