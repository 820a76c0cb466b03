package migrate

import (
	"context"
	"fmt"

	"github.com/meridianerp/meridian/pkg/rbac"
)

// standardPermissions is the built-in permission catalogue. Roles select
// from it; resources register their CRUD verbs here.
var standardPermissions = []struct {
	codename    string
	description string
}{
	{"products.view_product", "Can view products"},
	{"products.add_product", "Can add products"},
	{"products.change_product", "Can change products"},
	{"products.delete_product", "Can delete products"},
	{"organizations.view_organization", "Can view organizations"},
	{"organizations.change_organization", "Can change organizations"},
	{"memberships.view_membership", "Can view organization members"},
	{"memberships.add_membership", "Can add organization members"},
	{"memberships.change_membership", "Can change organization members"},
	{"memberships.delete_membership", "Can remove organization members"},
}

// SeedPermissions inserts the standard permission catalogue, skipping
// entries that already exist. Safe to run on every startup.
func SeedPermissions(ctx context.Context, store *rbac.Store) error {
	for _, perm := range standardPermissions {
		if _, err := store.EnsurePermission(ctx, perm.codename, perm.description); err != nil {
			return fmt.Errorf("failed to seed permission %s: %w", perm.codename, err)
		}
	}
	return nil
}
