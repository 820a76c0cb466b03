package rbac

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	_ "github.com/mattn/go-sqlite3"

	"github.com/meridianerp/meridian/pkg/auth"
	"github.com/meridianerp/meridian/pkg/membership"
	"github.com/meridianerp/meridian/pkg/observability"
	"github.com/meridianerp/meridian/pkg/orgs"
	"github.com/meridianerp/meridian/pkg/permcache"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

// testEnv bundles the stores, cache, and RBAC components wired the same
// way the server wires them, backed by sqlite and miniredis.
type testEnv struct {
	db         *sql.DB
	members    *membership.Store
	orgs       *orgs.Store
	store      *Store
	cache      *permcache.Cache
	resolver   *ContextResolver
	authorizer *Authorizer
	inv        *Invalidator
	redis      *miniredis.Miniredis
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL,
			email TEXT,
			is_superuser INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE organizations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT 'company',
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE roles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			description TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			codename TEXT NOT NULL UNIQUE,
			description TEXT
		);

		CREATE TABLE role_permissions (
			role_id INTEGER NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
			permission_id INTEGER NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
			PRIMARY KEY (role_id, permission_id)
		);

		CREATE TABLE field_permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			role_id INTEGER NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
			resource_type TEXT NOT NULL,
			field_name TEXT NOT NULL,
			can_create INTEGER NOT NULL DEFAULT 0,
			can_read INTEGER NOT NULL DEFAULT 0,
			can_update INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE (role_id, resource_type, field_name)
		);

		CREATE TABLE memberships (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			organization_id INTEGER NOT NULL,
			role_id INTEGER,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE UNIQUE INDEX idx_memberships_active
			ON memberships(user_id, organization_id) WHERE is_active;
	`)
	if err != nil {
		t.Fatalf("Failed to create test schema: %v", err)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cache, err := permcache.NewWithClient(client, 5*time.Minute, 64, nil, nil)
	if err != nil {
		t.Fatalf("Failed to build cache: %v", err)
	}

	members := membership.NewStore(db)
	orgStore := orgs.NewStore(db)
	store := NewStore(db)
	inv := NewInvalidator(cache, members, testLogger())
	members.SetHooks(inv)
	store.SetInvalidator(inv)

	return &testEnv{
		db:         db,
		members:    members,
		orgs:       orgStore,
		store:      store,
		cache:      cache,
		resolver:   NewContextResolver(members, orgStore, cache),
		authorizer: NewAuthorizer(members, store, cache, testLogger(), nil),
		inv:        inv,
		redis:      mr,
	}
}

func (e *testEnv) user(t *testing.T, username string, superuser bool) *auth.User {
	t.Helper()
	result, err := e.db.Exec(`INSERT INTO users (username, is_superuser) VALUES ($1, $2)`, username, superuser)
	if err != nil {
		t.Fatalf("Failed to seed user: %v", err)
	}
	id, _ := result.LastInsertId()
	return &auth.User{ID: id, Username: username, IsSuperuser: superuser, IsActive: true}
}

func (e *testEnv) org(t *testing.T, name string) int64 {
	t.Helper()
	org := &orgs.Organization{Name: name, Kind: orgs.KindCompany}
	if err := e.orgs.Create(context.Background(), org); err != nil {
		t.Fatalf("Failed to seed organization: %v", err)
	}
	return org.ID
}

func (e *testEnv) role(t *testing.T, name string, codes ...string) int64 {
	t.Helper()
	role, err := e.store.CreateRole(context.Background(), &CreateRoleRequest{Name: name})
	if err != nil {
		t.Fatalf("Failed to seed role: %v", err)
	}
	for _, code := range codes {
		if _, err := e.store.EnsurePermission(context.Background(), code, ""); err != nil {
			t.Fatalf("Failed to seed permission: %v", err)
		}
	}
	if len(codes) > 0 {
		if err := e.store.SetRolePermissions(context.Background(), role.ID, codes); err != nil {
			t.Fatalf("Failed to assign permissions: %v", err)
		}
	}
	return role.ID
}

func (e *testEnv) member(t *testing.T, userID, orgID int64, roleID *int64) {
	t.Helper()
	m := &membership.Membership{UserID: userID, OrganizationID: orgID, RoleID: roleID}
	if err := e.members.Add(context.Background(), m); err != nil {
		t.Fatalf("Failed to seed membership: %v", err)
	}
}
