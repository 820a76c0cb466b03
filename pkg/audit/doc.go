// Package audit records access-control mutations. Membership changes,
// role and permission assignments, and field-permission edits each leave
// an entry alongside the cache invalidation they trigger, giving
// administrators a trail of who could do what, and since when.
package audit
