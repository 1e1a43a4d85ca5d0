package db

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/cache"
	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/models"
)

// productCache is the slice of cache.RedisCache the decorator needs.
type productCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}) error
}

// CachedInventoryRepository puts a read-through cache in front of an
// InventoryReader.
type CachedInventoryRepository struct {
	repo   InventoryReader
	cache  productCache
	logger *zap.Logger
}

func NewCachedInventoryRepository(repo InventoryReader, c productCache, logger *zap.Logger) *CachedInventoryRepository {
	return &CachedInventoryRepository{
		repo:   repo,
		cache:  c,
		logger: logger,
	}
}

func productKey(name string) string {
	return fmt.Sprintf("product:%s", name)
}

// GetByName returns a single product (with caching)
func (r *CachedInventoryRepository) GetByName(ctx context.Context, name string) (*models.Product, error) {
	key := productKey(name)

	var product models.Product
	err := r.cache.Get(ctx, key, &product)
	if err == nil {
		r.logger.Debug("cache hit", zap.String("product", name))
		return &product, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		r.logger.Warn("cache error", zap.String("product", name), zap.Error(err))
	}

	r.logger.Debug("cache miss, fetching from DB", zap.String("product", name))
	p, err := r.repo.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}

	if err := r.cache.Set(ctx, key, p); err != nil {
		r.logger.Warn("failed to cache product", zap.String("product", name), zap.Error(err))
	}

	return p, nil
}
