// Package products implements the product catalog, the reference
// organization-scoped resource. Every other scoped business entity
// follows the same shape: a store that takes the scope filter, handlers
// that route every operation through the enforcer, and serialization
// through the field filter.
package products
