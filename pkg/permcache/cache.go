package permcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/meridianerp/meridian/pkg/apperrors"
	"github.com/meridianerp/meridian/pkg/config"
	"github.com/meridianerp/meridian/pkg/observability"
)

// FieldFlags records the per-action grants for a single field. Absence of
// flags means the field is denied for that action.
type FieldFlags struct {
	CanCreate bool `json:"can_create"`
	CanRead   bool `json:"can_read"`
	CanUpdate bool `json:"can_update"`
}

const (
	kindPerm       = "perm"
	kindActiveOrgs = "activeorgs"
	kindFieldGrant = "fieldgrant"
)

// Cache is the process-external permission cache. Every read degrades
// gracefully: a Redis failure is reported as a miss so callers fall back to
// the database, and the failure is logged, never surfaced to the request.
// Invalidation is explicit and happens in the same request lifecycle as the
// mutation; the TTL is only a backstop.
type Cache struct {
	client  *redis.Client
	ttl     time.Duration
	grants  *lru.Cache[string, map[string]FieldFlags]
	logger  *observability.Logger
	metrics *observability.Metrics
}

// New connects to Redis and builds the cache. An unreachable Redis at
// startup is a configuration error; once running, outages degrade to
// misses instead.
func New(redisCfg config.RedisConfig, cacheCfg config.CacheConfig, logger *observability.Logger, metrics *observability.Metrics) (*Cache, error) {
	opts, err := redis.ParseURL(redisCfg.URL)
	if err != nil {
		return nil, apperrors.NewConfiguration("invalid redis URL", err)
	}

	if redisCfg.Password != "" {
		opts.Password = redisCfg.Password
	}
	if redisCfg.DB > 0 {
		opts.DB = redisCfg.DB
	}
	if redisCfg.PoolSize > 0 {
		opts.PoolSize = redisCfg.PoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, apperrors.NewConfiguration("failed to connect to redis", err)
	}

	grants, err := lru.New[string, map[string]FieldFlags](cacheCfg.FieldGrantLRUSize)
	if err != nil {
		return nil, apperrors.NewConfiguration("invalid field grant LRU size", err)
	}

	return &Cache{
		client:  client,
		ttl:     cacheCfg.TTL,
		grants:  grants,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// NewWithClient builds a cache around an existing Redis client; used by
// tests with a miniredis-backed client.
func NewWithClient(client *redis.Client, ttl time.Duration, lruSize int, logger *observability.Logger, metrics *observability.Metrics) (*Cache, error) {
	grants, err := lru.New[string, map[string]FieldFlags](lruSize)
	if err != nil {
		return nil, apperrors.NewConfiguration("invalid field grant LRU size", err)
	}
	return &Cache{client: client, ttl: ttl, grants: grants, logger: logger, metrics: metrics}, nil
}

func permKey(userID, orgID int64) string {
	return fmt.Sprintf("perm:%d:%d", userID, orgID)
}

func activeOrgsKey(userID int64) string {
	return fmt.Sprintf("activeorgs:%d", userID)
}

func fieldVersionKey(userID int64) string {
	return fmt.Sprintf("fieldver:%d", userID)
}

func fieldGrantKey(userID int64, resourceType string, version int64) string {
	return fmt.Sprintf("fieldperm:%d:%s:v%d", userID, resourceType, version)
}

func (c *Cache) hit(kind string) {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(kind).Inc()
	}
}

func (c *Cache) miss(kind string) {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues(kind).Inc()
	}
}

func (c *Cache) invalidated(kind string) {
	if c.metrics != nil {
		c.metrics.CacheInvalidationsTotal.WithLabelValues(kind).Inc()
	}
}

func (c *Cache) warn(op string, err error) {
	if c.logger != nil {
		c.logger.WithError(err).Warnf("Permission cache %s failed, degrading to miss", op)
	}
}

// GetPermSet retrieves the cached permission codes for a (user, org) pair.
// The second return is false on a miss or any Redis failure.
func (c *Cache) GetPermSet(ctx context.Context, userID, orgID int64) (map[string]struct{}, bool) {
	data, err := c.client.Get(ctx, permKey(userID, orgID)).Result()
	if err == redis.Nil {
		c.miss(kindPerm)
		return nil, false
	}
	if err != nil {
		c.warn("get", err)
		c.miss(kindPerm)
		return nil, false
	}

	var codes []string
	if err := json.Unmarshal([]byte(data), &codes); err != nil {
		c.client.Del(ctx, permKey(userID, orgID))
		c.miss(kindPerm)
		return nil, false
	}

	set := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		set[code] = struct{}{}
	}
	c.hit(kindPerm)
	return set, true
}

// SetPermSet stores the permission codes for a (user, org) pair. An empty
// slice is cached too: a user with no permissions should not hit the
// database on every check.
func (c *Cache) SetPermSet(ctx context.Context, userID, orgID int64, codes []string) {
	if codes == nil {
		codes = []string{}
	}
	data, err := json.Marshal(codes)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, permKey(userID, orgID), data, c.ttl).Err(); err != nil {
		c.warn("set", err)
	}
}

// InvalidatePermSet drops the cached permission codes for one (user, org)
// pair. Callers invoke this synchronously after the mutation commits.
func (c *Cache) InvalidatePermSet(ctx context.Context, userID, orgID int64) error {
	c.invalidated(kindPerm)
	if err := c.client.Del(ctx, permKey(userID, orgID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate permission set: %w", err)
	}
	return nil
}

// GetActiveOrgs retrieves the cached active organization IDs for a user.
func (c *Cache) GetActiveOrgs(ctx context.Context, userID int64) ([]int64, bool) {
	data, err := c.client.Get(ctx, activeOrgsKey(userID)).Result()
	if err == redis.Nil {
		c.miss(kindActiveOrgs)
		return nil, false
	}
	if err != nil {
		c.warn("get", err)
		c.miss(kindActiveOrgs)
		return nil, false
	}

	var orgIDs []int64
	if err := json.Unmarshal([]byte(data), &orgIDs); err != nil {
		c.client.Del(ctx, activeOrgsKey(userID))
		c.miss(kindActiveOrgs)
		return nil, false
	}

	c.hit(kindActiveOrgs)
	return orgIDs, true
}

// SetActiveOrgs stores the active organization IDs for a user.
func (c *Cache) SetActiveOrgs(ctx context.Context, userID int64, orgIDs []int64) {
	if orgIDs == nil {
		orgIDs = []int64{}
	}
	data, err := json.Marshal(orgIDs)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, activeOrgsKey(userID), data, c.ttl).Err(); err != nil {
		c.warn("set", err)
	}
}

// InvalidateActiveOrgs drops the cached active organization IDs for a user.
func (c *Cache) InvalidateActiveOrgs(ctx context.Context, userID int64) error {
	c.invalidated(kindActiveOrgs)
	if err := c.client.Del(ctx, activeOrgsKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate active organizations: %w", err)
	}
	return nil
}

// fieldVersion reads the user's field-grant generation counter. A missing
// counter reads as generation zero.
func (c *Cache) fieldVersion(ctx context.Context, userID int64) (int64, bool) {
	version, err := c.client.Get(ctx, fieldVersionKey(userID)).Int64()
	if err == redis.Nil {
		return 0, true
	}
	if err != nil {
		c.warn("get version", err)
		return 0, false
	}
	return version, true
}

// GetFieldGrants retrieves the cached field grant map for a user and
// resource type. Keys carry the user's generation counter, so stale
// generations are unreachable the moment the counter moves; the in-process
// LRU in front of Redis is versioned the same way.
func (c *Cache) GetFieldGrants(ctx context.Context, userID int64, resourceType string) (map[string]FieldFlags, bool) {
	version, ok := c.fieldVersion(ctx, userID)
	if !ok {
		c.miss(kindFieldGrant)
		return nil, false
	}

	key := fieldGrantKey(userID, resourceType, version)
	if cached, ok := c.grants.Get(key); ok {
		c.hit(kindFieldGrant)
		return cached, true
	}

	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		c.miss(kindFieldGrant)
		return nil, false
	}
	if err != nil {
		c.warn("get", err)
		c.miss(kindFieldGrant)
		return nil, false
	}

	var grants map[string]FieldFlags
	if err := json.Unmarshal([]byte(data), &grants); err != nil {
		c.client.Del(ctx, key)
		c.miss(kindFieldGrant)
		return nil, false
	}

	c.grants.Add(key, grants)
	c.hit(kindFieldGrant)
	return grants, true
}

// SetFieldGrants stores the field grant map for a user and resource type
// under the user's current generation.
func (c *Cache) SetFieldGrants(ctx context.Context, userID int64, resourceType string, grants map[string]FieldFlags) {
	version, ok := c.fieldVersion(ctx, userID)
	if !ok {
		return
	}
	if grants == nil {
		grants = map[string]FieldFlags{}
	}

	data, err := json.Marshal(grants)
	if err != nil {
		return
	}

	key := fieldGrantKey(userID, resourceType, version)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.warn("set", err)
		return
	}
	c.grants.Add(key, grants)
}

// BumpFieldVersion advances the user's field-grant generation, orphaning
// every cached grant map for the user across all resource types in one
// O(1) operation. Orphaned keys expire with their TTL.
func (c *Cache) BumpFieldVersion(ctx context.Context, userID int64) error {
	c.invalidated(kindFieldGrant)
	if err := c.client.Incr(ctx, fieldVersionKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to bump field grant version: %w", err)
	}
	return nil
}

// Client exposes the underlying Redis client for the health checker.
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Ping verifies the Redis connection; used by the readiness probe.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
