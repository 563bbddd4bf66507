package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/erp/ingestor/internal/domain/ingestion"
	"github.com/erp/ingestor/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultKeyPrefix = "ingest:"
	defaultTTL       = 24 * time.Hour
	pingTimeout      = 5 * time.Second
)

// RedisResponseCache implements ingestion.ResponseCache using Redis.
// Entries are JSON encoded and expire after the configured TTL.
type RedisResponseCache struct {
	client     *redis.Client
	ownsClient bool // true if we created the client and should close it
	ttl        time.Duration
	keyPrefix  string
	logger     *zap.Logger
}

// NewRedisResponseCache connects to Redis and verifies the connection
func NewRedisResponseCache(redisCfg config.RedisConfig, cacheCfg config.CacheConfig, logger *zap.Logger) (*RedisResponseCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr(),
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	c := NewRedisResponseCacheWithClient(client, cacheCfg, logger)
	c.ownsClient = true
	return c, nil
}

// NewRedisResponseCacheWithClient creates a cache with an existing Redis client.
// The caller retains ownership of the client.
func NewRedisResponseCacheWithClient(client *redis.Client, cacheCfg config.CacheConfig, logger *zap.Logger) *RedisResponseCache {
	ttl := cacheCfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	prefix := cacheCfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisResponseCache{
		client:    client,
		ttl:       ttl,
		keyPrefix: prefix,
		logger:    logger.Named("response_cache"),
	}
}

func (c *RedisResponseCache) cacheKey(key string) string {
	return c.keyPrefix + key
}

// Get returns the cached response for key. A missing key is a miss, not an error.
func (c *RedisResponseCache) Get(ctx context.Context, key string) (*ingestion.ProviderResponse, bool, error) {
	cacheKey := c.cacheKey(key)

	data, err := c.client.Get(ctx, cacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		c.logger.Debug("Cache miss", zap.String("key", key))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get response from cache: %w", err)
	}

	var resp ingestion.ProviderResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.logger.Warn("Dropping corrupted cache entry", zap.String("key", key), zap.Error(err))
		_ = c.client.Del(ctx, cacheKey)
		return nil, false, nil
	}

	c.logger.Debug("Cache hit", zap.String("key", key))
	return &resp, true, nil
}

// Set stores resp under key with the configured TTL
func (c *RedisResponseCache) Set(ctx context.Context, key string, resp *ingestion.ProviderResponse) error {
	if resp == nil {
		return nil
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	if err := c.client.Set(ctx, c.cacheKey(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set response in cache: %w", err)
	}
	return nil
}

// Close closes the Redis client if the cache created it
func (c *RedisResponseCache) Close() error {
	if c.ownsClient {
		return c.client.Close()
	}
	return nil
}
