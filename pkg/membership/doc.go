// Package membership manages who belongs to which organization and with
// what role. Memberships are the sole source of organization access: every
// permission and scoping decision starts from the caller's active
// membership rows. Mutations notify the registered Hooks synchronously so
// cached permission state is evicted before the response returns.
package membership
