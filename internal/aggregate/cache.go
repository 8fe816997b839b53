package aggregate

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/your-org/signage/internal/store"
)

// Cache stores finished aggregation results in the shared store under
// TTL-scoped keys. Misses and store failures look the same to the engine:
// it just recomputes.
type Cache struct {
	store *store.Store
}

func NewCache(s *store.Store) *Cache {
	return &Cache{store: s}
}

func (c *Cache) Get(ctx context.Context, key string) (*Result, bool) {
	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		slog.Error("aggregation cache get", "cacheKey", key, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}

	var result Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		slog.Warn("decode cached aggregation", "cacheKey", key, "error", err)
		return nil, false
	}
	return &result, true
}

func (c *Cache) Put(ctx context.Context, key string, result *Result, ttl time.Duration) {
	data, err := json.Marshal(result)
	if err != nil {
		slog.Error("encode aggregation result", "cacheKey", key, "error", err)
		return
	}
	if err := c.store.SetEX(ctx, key, string(data), ttl); err != nil {
		slog.Error("aggregation cache put", "cacheKey", key, "error", err)
	}
}
