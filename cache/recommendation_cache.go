package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/phuslu/log"
	"github.com/redis/go-redis/v9"
)

// RecommendationCache stores generated advice keyed by the prompt context hash,
// so identical analysis inputs do not hit the generator twice.
type RecommendationCache struct {
	redis *RedisClient
	ttl   time.Duration
}

func NewRecommendationCache(redis *RedisClient, ttl time.Duration) *RecommendationCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RecommendationCache{redis: redis, ttl: ttl}
}

type cachedAdvice struct {
	Provider    string    `json:"provider"`
	Advice      string    `json:"advice"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Get returns cached advice for a context string
func (c *RecommendationCache) Get(ctx context.Context, contextText string) (string, bool) {
	if c == nil || c.redis == nil {
		return "", false
	}
	var v cachedAdvice
	if err := c.redis.Get(ctx, adviceKey(contextText), &v); err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Debug().Err(err).Msg("Advice cache read failed")
		}
		return "", false
	}
	return v.Advice, true
}

// Set caches successful advice. Error strings are never cached.
func (c *RecommendationCache) Set(ctx context.Context, contextText, provider, advice string) error {
	if c == nil || c.redis == nil {
		return ErrNotInitialized
	}
	return c.redis.Set(ctx, adviceKey(contextText), cachedAdvice{
		Provider:    provider,
		Advice:      advice,
		GeneratedAt: time.Now().UTC(),
	}, c.ttl)
}

func adviceKey(contextText string) string {
	return "advice:" + GenerateDataHash(contextText)
}

// GenerateDataHash hashes the JSON form of data into a short hex key
func GenerateDataHash(data any) string {
	b, err := json.Marshal(data)
	if err != nil {
		b = []byte(fmt.Sprint(data))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}
