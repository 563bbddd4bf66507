package cache

import (
	"fmt"
	"io"

	"github.com/erp/ingestor/internal/domain/ingestion"
	"github.com/erp/ingestor/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Supported cache backends
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// ResponseCacheFactory creates response caches based on configuration
type ResponseCacheFactory struct {
	redisConfig           config.RedisConfig
	cacheConfig           config.CacheConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// ResponseCacheFactoryOption is a functional option for configuring the factory
type ResponseCacheFactoryOption func(*ResponseCacheFactory)

// WithLogger sets the logger for the factory and the caches it creates
func WithLogger(logger *zap.Logger) ResponseCacheFactoryOption {
	return func(f *ResponseCacheFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to the in-memory cache when Redis is unavailable.
// Default is true (allow fallback)
func WithInMemoryFallback(allow bool) ResponseCacheFactoryOption {
	return func(f *ResponseCacheFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewResponseCacheFactory creates a new factory
func NewResponseCacheFactory(redisCfg config.RedisConfig, cacheCfg config.CacheConfig, opts ...ResponseCacheFactoryOption) *ResponseCacheFactory {
	f := &ResponseCacheFactory{
		redisConfig:           redisCfg,
		cacheConfig:           cacheCfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// CreateCache returns the configured cache and a closer for its resources.
// It returns a nil cache when caching is disabled. A redis backend that cannot
// be reached falls back to the in-memory cache unless fallback is disabled.
func (f *ResponseCacheFactory) CreateCache() (ingestion.ResponseCache, io.Closer, error) {
	if !f.cacheConfig.Enabled {
		f.logger.Info("response cache disabled")
		return nil, nopCloser{}, nil
	}

	if f.cacheConfig.Backend == BackendMemory {
		f.logger.Info("using in-memory response cache")
		return NewInMemoryResponseCache(f.cacheConfig.TTL), nopCloser{}, nil
	}

	c, err := NewRedisResponseCache(f.redisConfig, f.cacheConfig, f.logger)
	if err == nil {
		f.logger.Info("using Redis response cache", zap.String("addr", f.redisConfig.Addr()))
		return c, c, nil
	}

	if !f.allowInMemoryFallback {
		return nil, nil, fmt.Errorf("redis response cache unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory response cache", zap.Error(err))
	return NewInMemoryResponseCache(f.cacheConfig.TTL), nopCloser{}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
