// Package rbac is the organization-scoped access control core: roles and
// their model-level permissions, field-level grants, organization context
// resolution, and the authorizer predicates the scoping layer builds on.
// Checks fail closed; cached state is evicted synchronously with the
// grant mutation that made it stale.
package rbac
