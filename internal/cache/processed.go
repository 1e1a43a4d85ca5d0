package cache

import (
	"context"
	"time"
)

const processedKeyPrefix = "orderqueue:processed:"

// ProcessedSet remembers message ids whose processing completed, so a
// redelivered message can be recognized under at-least-once delivery.
type ProcessedSet struct {
	cache *RedisCache
	ttl   time.Duration
}

func NewProcessedSet(cache *RedisCache, ttl time.Duration) *ProcessedSet {
	return &ProcessedSet{cache: cache, ttl: ttl}
}

// Seen reports whether messageID was already completed.
func (s *ProcessedSet) Seen(ctx context.Context, messageID string) (bool, error) {
	return s.cache.Exists(ctx, processedKeyPrefix+messageID)
}

// MarkDone records messageID as completed.
func (s *ProcessedSet) MarkDone(ctx context.Context, messageID string) error {
	_, err := s.cache.Claim(ctx, processedKeyPrefix+messageID, s.ttl)
	return err
}
