// Package orgs manages organizations, the tenant boundary every scoped
// resource references. Deleting a referenced organization is blocked at
// the schema level to protect historical data.
package orgs
