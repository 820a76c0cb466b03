// Package permcache caches resolved permission state in Redis: permission
// code sets per (user, organization), active organization sets per user,
// and field grant maps per (user, resource type). Field grant keys carry a
// per-user generation counter so one INCR invalidates every resource type
// at once. All failures degrade to cache misses.
package permcache
