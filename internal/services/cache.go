package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/schoolhub/schoolhub-backend/internal/clients/redis"
	"github.com/schoolhub/schoolhub-backend/internal/pkg/logger"
)

// CacheService fronts the redis document cache for the HTTP layer and the
// pipeline. Every method is a no-op when redis is not configured, and cache
// failures are logged rather than surfaced: the database stays authoritative.
type CacheService interface {
	GetListPage(ctx context.Context, tenantID, schoolID uuid.UUID, key string, dest any) bool
	SetListPage(ctx context.Context, tenantID, schoolID uuid.UUID, key string, val any)
	Invalidate(ctx context.Context, tenantID, schoolID uuid.UUID)
}

type cacheService struct {
	log   *logger.Logger
	cache redis.DocumentCache
	ttl   time.Duration
}

func NewCacheService(baseLog *logger.Logger, cache redis.DocumentCache, ttl time.Duration) CacheService {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &cacheService{
		log:   baseLog.With("service", "CacheService"),
		cache: cache,
		ttl:   ttl,
	}
}

func (s *cacheService) GetListPage(ctx context.Context, tenantID, schoolID uuid.UUID, key string, dest any) bool {
	if s.cache == nil {
		return false
	}
	hit, err := s.cache.GetJSON(ctx, redis.ScopeKey(tenantID.String(), schoolID.String(), key), dest)
	if err != nil {
		s.log.Warn("cache read failed", "key", key, "error", err)
		return false
	}
	return hit
}

func (s *cacheService) SetListPage(ctx context.Context, tenantID, schoolID uuid.UUID, key string, val any) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetJSON(ctx, redis.ScopeKey(tenantID.String(), schoolID.String(), key), val, s.ttl); err != nil {
		s.log.Warn("cache write failed", "key", key, "error", err)
	}
}

func (s *cacheService) Invalidate(ctx context.Context, tenantID, schoolID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateScope(ctx, tenantID.String(), schoolID.String()); err != nil {
		s.log.Warn("cache invalidation failed",
			"tenant_id", tenantID,
			"school_id", schoolID,
			"error", err,
		)
		return
	}
	s.log.Debug("invalidated document cache scope", "tenant_id", tenantID, "school_id", schoolID)
}
