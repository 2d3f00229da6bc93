package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"novel-ai-core/internal/domain/ports/repository"
	"novel-ai-core/internal/infra/cache"
)

// EmbeddingCache is the shared second tier behind the in-process cache.
// Redis trouble degrades to a miss; the cache is an optimization, never a
// hard dependency.
type EmbeddingCache struct {
	client RedisClient
	ttl    time.Duration
	log    *zerolog.Logger
}

var _ repository.EmbeddingCache = (*EmbeddingCache)(nil)

func NewEmbeddingCache(client RedisClient, ttl time.Duration, log *zerolog.Logger) *EmbeddingCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &EmbeddingCache{client: client, ttl: ttl, log: log}
}

func embKey(modelID, text string) string {
	return "emb:" + cache.Key(modelID, text)
}

func (c *EmbeddingCache) Get(ctx context.Context, modelID, text string) ([]float32, bool) {
	data, err := c.client.Get(ctx, embKey(modelID, text))
	if err != nil {
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal([]byte(data), &vec); err != nil {
		c.log.Warn().Err(err).Msg("corrupt cached embedding, dropping")
		_ = c.client.Del(ctx, embKey(modelID, text))
		return nil, false
	}
	return vec, true
}

func (c *EmbeddingCache) Put(ctx context.Context, modelID, text string, vec []float32) {
	if len(vec) == 0 {
		return
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, embKey(modelID, text), data, c.ttl); err != nil {
		c.log.Warn().Err(err).Msg("embedding cache write failed")
	}
}
