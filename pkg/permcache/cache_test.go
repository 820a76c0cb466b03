package permcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cache, err := NewWithClient(client, 5*time.Minute, 64, nil, nil)
	require.NoError(t, err)
	return cache, mr
}

func TestPermSetRoundTrip(t *testing.T) {
	cache, _ := setupCache(t)
	ctx := context.Background()

	_, ok := cache.GetPermSet(ctx, 1, 10)
	assert.False(t, ok, "expected miss before set")

	cache.SetPermSet(ctx, 1, 10, []string{"products.view_product", "products.add_product"})

	set, ok := cache.GetPermSet(ctx, 1, 10)
	require.True(t, ok)
	assert.Contains(t, set, "products.view_product")
	assert.Contains(t, set, "products.add_product")
	assert.Len(t, set, 2)
}

func TestPermSetEmptyIsCached(t *testing.T) {
	cache, _ := setupCache(t)
	ctx := context.Background()

	cache.SetPermSet(ctx, 1, 10, nil)

	set, ok := cache.GetPermSet(ctx, 1, 10)
	require.True(t, ok, "empty permission set should still be a hit")
	assert.Empty(t, set)
}

func TestInvalidatePermSet(t *testing.T) {
	cache, _ := setupCache(t)
	ctx := context.Background()

	cache.SetPermSet(ctx, 1, 10, []string{"products.view_product"})
	cache.SetPermSet(ctx, 1, 20, []string{"products.view_product"})

	require.NoError(t, cache.InvalidatePermSet(ctx, 1, 10))

	_, ok := cache.GetPermSet(ctx, 1, 10)
	assert.False(t, ok, "invalidated pair should miss")

	_, ok = cache.GetPermSet(ctx, 1, 20)
	assert.True(t, ok, "other organization should be untouched")
}

func TestActiveOrgsRoundTrip(t *testing.T) {
	cache, _ := setupCache(t)
	ctx := context.Background()

	cache.SetActiveOrgs(ctx, 1, []int64{10, 20})

	orgs, ok := cache.GetActiveOrgs(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, []int64{10, 20}, orgs)

	require.NoError(t, cache.InvalidateActiveOrgs(ctx, 1))
	_, ok = cache.GetActiveOrgs(ctx, 1)
	assert.False(t, ok)
}

func TestFieldGrantsVersioned(t *testing.T) {
	cache, _ := setupCache(t)
	ctx := context.Background()

	grants := map[string]FieldFlags{
		"cost_price": {CanRead: true},
		"name":       {CanCreate: true, CanRead: true, CanUpdate: true},
	}
	cache.SetFieldGrants(ctx, 1, "products.product", grants)

	got, ok := cache.GetFieldGrants(ctx, 1, "products.product")
	require.True(t, ok)
	assert.Equal(t, grants, got)

	// bumping the generation orphans every cached grant map for the user
	require.NoError(t, cache.BumpFieldVersion(ctx, 1))

	_, ok = cache.GetFieldGrants(ctx, 1, "products.product")
	assert.False(t, ok, "stale generation should be unreachable")

	// a fresh set under the new generation works
	cache.SetFieldGrants(ctx, 1, "products.product", grants)
	got, ok = cache.GetFieldGrants(ctx, 1, "products.product")
	require.True(t, ok)
	assert.Equal(t, grants, got)
}

func TestFieldGrantsIsolatedPerUser(t *testing.T) {
	cache, _ := setupCache(t)
	ctx := context.Background()

	cache.SetFieldGrants(ctx, 1, "products.product", map[string]FieldFlags{"name": {CanRead: true}})
	cache.SetFieldGrants(ctx, 2, "products.product", map[string]FieldFlags{"name": {CanRead: true}})

	require.NoError(t, cache.BumpFieldVersion(ctx, 1))

	_, ok := cache.GetFieldGrants(ctx, 1, "products.product")
	assert.False(t, ok)

	_, ok = cache.GetFieldGrants(ctx, 2, "products.product")
	assert.True(t, ok, "other user's grants should survive")
}

func TestRedisOutageDegradesToMiss(t *testing.T) {
	cache, mr := setupCache(t)
	ctx := context.Background()

	cache.SetPermSet(ctx, 1, 10, []string{"products.view_product"})
	mr.Close()

	_, ok := cache.GetPermSet(ctx, 1, 10)
	assert.False(t, ok, "outage should read as a miss, not an error")

	_, ok = cache.GetActiveOrgs(ctx, 1)
	assert.False(t, ok)

	_, ok = cache.GetFieldGrants(ctx, 1, "products.product")
	assert.False(t, ok)

	// invalidation reports the failure so callers can log it
	assert.Error(t, cache.InvalidatePermSet(ctx, 1, 10))
	assert.Error(t, cache.BumpFieldVersion(ctx, 1))
}

func TestCorruptCacheEntryTreatedAsMiss(t *testing.T) {
	cache, mr := setupCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("perm:1:10", "not json"))

	_, ok := cache.GetPermSet(ctx, 1, 10)
	assert.False(t, ok)
}
