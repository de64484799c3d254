package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yasailab/veggiecast/internal/models"
)

// PredictionCacheEntry wraps a cached prediction with cache metadata.
type PredictionCacheEntry struct {
	Prediction models.Prediction `json:"prediction"`
	CachedAt   time.Time         `json:"cached_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// PredictionCacheStats tracks cache performance metrics
type PredictionCacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
	mu     sync.RWMutex
}

// RedisPredictionCache caches computed predictions in Redis, keyed by
// (vegetable, target period). Activating or deactivating a model version
// must invalidate the affected vegetable's entries.
type RedisPredictionCache struct {
	redis  *redis.Client
	ttl    time.Duration
	stats  *PredictionCacheStats
	prefix string
}

// NewRedisPredictionCache creates a new Redis-based prediction cache
func NewRedisPredictionCache(redisClient *redis.Client, ttl time.Duration) *RedisPredictionCache {
	return &RedisPredictionCache{
		redis:  redisClient,
		ttl:    ttl,
		stats:  &PredictionCacheStats{},
		prefix: "prediction_cache:",
	}
}

func (c *RedisPredictionCache) key(vegetableID int, period models.Period) string {
	return fmt.Sprintf("%s%d:%s", c.prefix, vegetableID, period)
}

// Get retrieves a cached prediction for one forecast target.
func (c *RedisPredictionCache) Get(ctx context.Context, vegetableID int, period models.Period) (*models.Prediction, bool) {
	data, err := c.redis.Get(ctx, c.key(vegetableID, period)).Result()
	if err == redis.Nil {
		c.stats.mu.Lock()
		c.stats.Misses++
		c.stats.mu.Unlock()
		return nil, false
	}
	if err != nil {
		log.Printf("Redis error getting prediction for vegetable %d %s: %v", vegetableID, period, err)
		c.stats.mu.Lock()
		c.stats.Misses++
		c.stats.mu.Unlock()
		return nil, false
	}

	var entry PredictionCacheEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		log.Printf("Error deserializing cached prediction for vegetable %d %s: %v", vegetableID, period, err)
		c.stats.mu.Lock()
		c.stats.Misses++
		c.stats.mu.Unlock()
		return nil, false
	}

	c.stats.mu.Lock()
	c.stats.Hits++
	c.stats.mu.Unlock()

	return &entry.Prediction, true
}

// Set stores a prediction with the configured TTL.
func (c *RedisPredictionCache) Set(ctx context.Context, prediction *models.Prediction) {
	now := time.Now()
	entry := PredictionCacheEntry{
		Prediction: *prediction,
		CachedAt:   now,
		ExpiresAt:  now.Add(c.ttl),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("Error serializing prediction for vegetable %d %s: %v", prediction.VegetableID, prediction.Period, err)
		return
	}

	err = c.redis.Set(ctx, c.key(prediction.VegetableID, prediction.Period), data, c.ttl).Err()
	if err != nil {
		log.Printf("Redis error setting prediction for vegetable %d %s: %v", prediction.VegetableID, prediction.Period, err)
		return
	}

	c.stats.mu.Lock()
	c.stats.Sets++
	c.stats.mu.Unlock()
}

// InvalidateVegetable drops every cached prediction for one vegetable.
// Called after model activation changes so stale model output is never
// served.
func (c *RedisPredictionCache) InvalidateVegetable(ctx context.Context, vegetableID int) error {
	pattern := fmt.Sprintf("%s%d:*", c.prefix, vegetableID)

	var keys []string
	iter := c.redis.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("error scanning prediction cache keys: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("error invalidating prediction cache: %w", err)
	}

	log.Printf("Invalidated %d cached predictions for vegetable %d", len(keys), vegetableID)
	return nil
}

// Clear removes all cached predictions (useful for testing or cache invalidation)
func (c *RedisPredictionCache) Clear(ctx context.Context) error {
	pattern := c.prefix + "*"

	var keys []string
	iter := c.redis.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("error scanning prediction cache keys: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("error clearing prediction cache: %w", err)
	}

	return nil
}

// GetStats returns current cache statistics
func (c *RedisPredictionCache) GetStats() PredictionCacheStats {
	c.stats.mu.RLock()
	defer c.stats.mu.RUnlock()
	return PredictionCacheStats{
		Hits:   c.stats.Hits,
		Misses: c.stats.Misses,
		Sets:   c.stats.Sets,
	}
}

// LogStats logs current cache performance statistics
func (c *RedisPredictionCache) LogStats() {
	stats := c.GetStats()
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}

	log.Printf("Prediction Cache Stats - Hits: %d, Misses: %d, Sets: %d, Hit Rate: %.2f%%",
		stats.Hits, stats.Misses, stats.Sets, hitRate)
}
