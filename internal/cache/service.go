// Package cache wraps Redis for the two hot read paths: website analyses,
// which are expensive model calls, and per-run aggregate stats. Everything is
// stored as JSON; the cache is strictly an accelerator and misses are never
// errors.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bamarler/geo-optimizer/internal/config"
	"github.com/bamarler/geo-optimizer/internal/domain"
	apperrors "github.com/bamarler/geo-optimizer/pkg/errors"
)

const (
	analysisKeyPrefix = "geotest:analysis:"
	statsKeyPrefix    = "geotest:stats:"

	analysisTTL = 24 * time.Hour
	statsTTL    = 5 * time.Minute
)

type CacheService struct {
	client *redis.Client
	logger *zap.Logger
}

func NewCacheService(cfg config.RedisConfig, logger *zap.Logger) (*CacheService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, apperrors.NewCacheError("failed to connect to Redis", "ping", "", err)
	}

	logger.Info("Redis connected",
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
		zap.Int("db", cfg.DB),
	)

	return &CacheService{
		client: client,
		logger: logger,
	}, nil
}

func (c *CacheService) Get(ctx context.Context, key string, dest any) (bool, error) {
	value, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.logger.Error("Cache get failed", zap.String("key", key), zap.Error(err))
		return false, apperrors.NewCacheError("get failed", "get", key, err)
	}

	if dest != nil {
		if err := json.Unmarshal([]byte(value), dest); err != nil {
			c.logger.Error("Cache unmarshal failed", zap.String("key", key), zap.Error(err))
			return false, apperrors.NewCacheError("unmarshal failed", "get", key, err)
		}
	}
	return true, nil
}

func (c *CacheService) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	jsonData, err := json.Marshal(value)
	if err != nil {
		return apperrors.NewCacheError("marshal failed", "set", key, err)
	}

	if err := c.client.Set(ctx, key, jsonData, ttl).Err(); err != nil {
		c.logger.Error("Cache set failed", zap.String("key", key), zap.Error(err))
		return apperrors.NewCacheError("set failed", "set", key, err)
	}
	return nil
}

func (c *CacheService) Del(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Error("Cache delete failed", zap.String("key", key), zap.Error(err))
		return apperrors.NewCacheError("delete failed", "del", key, err)
	}
	return nil
}

func (c *CacheService) Exists(ctx context.Context, key string) (bool, error) {
	count, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		c.logger.Error("Cache exists failed", zap.String("key", key), zap.Error(err))
		return false, apperrors.NewCacheError("exists failed", "exists", key, err)
	}
	return count > 0, nil
}

// GetWebsiteAnalysis returns the cached analysis for url, or (nil, false) on
// a miss. Cache errors degrade to misses.
func (c *CacheService) GetWebsiteAnalysis(ctx context.Context, url string) (*domain.WebsiteAnalysis, bool) {
	var analysis domain.WebsiteAnalysis
	hit, err := c.Get(ctx, analysisKeyPrefix+url, &analysis)
	if err != nil || !hit {
		return nil, false
	}
	return &analysis, true
}

// SetWebsiteAnalysis caches the analysis. Failures are logged, not surfaced.
func (c *CacheService) SetWebsiteAnalysis(ctx context.Context, analysis *domain.WebsiteAnalysis) {
	if err := c.Set(ctx, analysisKeyPrefix+analysis.URL, analysis, analysisTTL); err != nil {
		c.logger.Warn("failed to cache website analysis",
			zap.String("url", analysis.URL), zap.Error(err))
	}
}

// GetRunStats returns cached aggregate stats for a run, or (nil, false).
func (c *CacheService) GetRunStats(ctx context.Context, runID string) (*domain.AggregateStats, bool) {
	var stats domain.AggregateStats
	hit, err := c.Get(ctx, statsKeyPrefix+runID, &stats)
	if err != nil || !hit {
		return nil, false
	}
	return &stats, true
}

// SetRunStats caches aggregate stats. A short TTL keeps stats near-live while
// a run is still appending results.
func (c *CacheService) SetRunStats(ctx context.Context, runID string, stats *domain.AggregateStats) {
	if err := c.Set(ctx, statsKeyPrefix+runID, stats, statsTTL); err != nil {
		c.logger.Warn("failed to cache run stats",
			zap.String("run_id", runID), zap.Error(err))
	}
}

func (c *CacheService) IsConnected(ctx context.Context) bool {
	return c.client.Ping(ctx).Err() == nil
}

func (c *CacheService) Close() error {
	if err := c.client.Close(); err != nil {
		c.logger.Error("Failed to close Redis connection", zap.Error(err))
		return err
	}
	c.logger.Info("Redis disconnected")
	return nil
}
