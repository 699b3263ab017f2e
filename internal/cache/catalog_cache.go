package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"storefront-catalog/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// catalogKey holds every cached storefront view in one hash so a write can drop them all at once.
const catalogKey = "catalog:storefront"

const treeField = "tree"

// CatalogCache caches the end-user (deleted-filtered) catalog views.
type CatalogCache interface {
	GetTree(ctx context.Context) ([]*domain.MainCategory, bool)
	SetTree(ctx context.Context, tree []*domain.MainCategory)
	GetSubcategory(ctx context.Context, key domain.SubcategoryKey) (*domain.Subcategory, bool)
	SetSubcategory(ctx context.Context, key domain.SubcategoryKey, s *domain.Subcategory)
	Invalidate(ctx context.Context)
}

type redisCatalogCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCatalogCache creates a CatalogCache backed by redis. Redis failures
// are logged and behave like cache misses.
func NewRedisCatalogCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) CatalogCache {
	return &redisCatalogCache{client: client, ttl: ttl, logger: logger.Named("catalog_cache")}
}

func (c *redisCatalogCache) GetTree(ctx context.Context) ([]*domain.MainCategory, bool) {
	var tree []*domain.MainCategory
	if !c.get(ctx, treeField, &tree) {
		return nil, false
	}
	return tree, true
}

func (c *redisCatalogCache) SetTree(ctx context.Context, tree []*domain.MainCategory) {
	c.set(ctx, treeField, tree)
}

func (c *redisCatalogCache) GetSubcategory(ctx context.Context, key domain.SubcategoryKey) (*domain.Subcategory, bool) {
	var s domain.Subcategory
	if !c.get(ctx, subcategoryField(key), &s) {
		return nil, false
	}
	s.Key = key
	return &s, true
}

func (c *redisCatalogCache) SetSubcategory(ctx context.Context, key domain.SubcategoryKey, s *domain.Subcategory) {
	c.set(ctx, subcategoryField(key), s)
}

// Invalidate drops every cached view. Call it after any committed catalog write.
func (c *redisCatalogCache) Invalidate(ctx context.Context) {
	if err := c.client.Del(ctx, catalogKey).Err(); err != nil {
		c.logger.Error("Failed to invalidate catalog cache", zap.Error(err))
	}
}

func (c *redisCatalogCache) get(ctx context.Context, field string, dst any) bool {
	data, err := c.client.HGet(ctx, catalogKey, field).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Catalog cache read failed", zap.String("field", field), zap.Error(err))
		}
		return false
	}

	if err := json.Unmarshal(data, dst); err != nil {
		c.logger.Warn("Discarding undecodable catalog cache entry", zap.String("field", field), zap.Error(err))
		return false
	}
	return true
}

func (c *redisCatalogCache) set(ctx context.Context, field string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Error("Failed to encode catalog cache entry", zap.String("field", field), zap.Error(err))
		return
	}

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, catalogKey, field, data)
	pipe.Expire(ctx, catalogKey, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("Catalog cache write failed", zap.String("field", field), zap.Error(err))
	}
}

func subcategoryField(key domain.SubcategoryKey) string {
	return "subcategory:" + key.String()
}
