package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	models "social-service/model"
	"social-service/repository"
)

const (
	PROFILE_SUMMARY_KEY = "profile-summary:%s" // <userID>

	DefaultTTL = 5 * time.Minute
)

func ProfileSummaryKey(userID string) string {
	return fmt.Sprintf(PROFILE_SUMMARY_KEY, userID)
}

// ProfileCache stores participant summaries as JSON in Redis.
type ProfileCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewProfileCache(rdb *redis.Client, ttl time.Duration) *ProfileCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ProfileCache{rdb: rdb, ttl: ttl}
}

// Get returns nil, nil on a miss.
func (c *ProfileCache) Get(ctx context.Context, userID string) (*models.ParticipantSummary, error) {
	value, err := c.rdb.Get(ctx, ProfileSummaryKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var summary models.ParticipantSummary
	if err := json.Unmarshal([]byte(value), &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (c *ProfileCache) Set(ctx context.Context, summary *models.ParticipantSummary) error {
	valueJSON, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, ProfileSummaryKey(summary.ID), valueJSON, c.ttl).Err()
}

func (c *ProfileCache) Invalidate(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = ProfileSummaryKey(id)
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// CachedLookup is a read-through repository.ProfileLookup. Redis failures
// never fail a lookup; they are logged and the wrapped lookup answers.
type CachedLookup struct {
	next   repository.ProfileLookup
	cache  *ProfileCache
	logger *zap.Logger
}

func NewCachedLookup(next repository.ProfileLookup, cache *ProfileCache, logger *zap.Logger) *CachedLookup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedLookup{next: next, cache: cache, logger: logger}
}

func (l *CachedLookup) LookupSummary(ctx context.Context, userID string) (*models.ParticipantSummary, error) {
	cached, err := l.cache.Get(ctx, userID)
	if err != nil {
		l.logger.Warn("profile cache read failed", zap.String("user_id", userID), zap.Error(err))
	} else if cached != nil {
		return cached, nil
	}

	summary, err := l.next.LookupSummary(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := l.cache.Set(ctx, summary); err != nil {
		l.logger.Warn("profile cache write failed", zap.String("user_id", userID), zap.Error(err))
	}
	return summary, nil
}

// Invalidate drops cached summaries after a profile changes.
func (l *CachedLookup) Invalidate(ctx context.Context, userIDs ...string) {
	if err := l.cache.Invalidate(ctx, userIDs...); err != nil {
		l.logger.Warn("profile cache invalidation failed", zap.Strings("user_ids", userIDs), zap.Error(err))
	}
}
