package app

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/medicore/hms/internal/rbac"
)

// NewPermissionCache builds the resolver cache selected by
// PERMISSION_CACHE_DRIVER. With a client, the memory driver keeps its version
// counters in Redis so a bump on one instance invalidates every instance
// before the mutating request returns.
func NewPermissionCache(cfg *Config, client *redis.Client) (rbac.Cache, error) {
	switch cfg.PermissionCacheDriver {
	case CacheDriverRedis:
		if client == nil {
			return nil, fmt.Errorf("permission cache: redis driver needs a client")
		}
		return rbac.NewRedisCache(client), nil
	case CacheDriverMemory:
		cache := rbac.NewMemoryCache(cfg.PermissionCacheSize, cfg.PermissionCacheTTL)
		if client == nil {
			return cache, nil
		}
		return cache.WithSharedVersions(client), nil
	case CacheDriverNone:
		return rbac.NoopCache{}, nil
	}
	return nil, fmt.Errorf("permission cache: unknown driver %q", cfg.PermissionCacheDriver)
}
