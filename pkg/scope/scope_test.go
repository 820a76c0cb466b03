package scope

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	_ "github.com/mattn/go-sqlite3"

	"github.com/meridianerp/meridian/pkg/apperrors"
	"github.com/meridianerp/meridian/pkg/auth"
	"github.com/meridianerp/meridian/pkg/membership"
	"github.com/meridianerp/meridian/pkg/observability"
	"github.com/meridianerp/meridian/pkg/orgs"
	"github.com/meridianerp/meridian/pkg/permcache"
	"github.com/meridianerp/meridian/pkg/rbac"
)

type testEnv struct {
	db       *sql.DB
	members  *membership.Store
	orgs     *orgs.Store
	rbac     *rbac.Store
	enforcer *Enforcer
	fields   *FieldFilter
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
			username TEXT NOT NULL
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
			role_id INTEGER NOT NULL,
			permission_id INTEGER NOT NULL,
			PRIMARY KEY (role_id, permission_id)
		);
		CREATE TABLE field_permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			role_id INTEGER NOT NULL,
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

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	members := membership.NewStore(db)
	orgStore := orgs.NewStore(db)
	rbacStore := rbac.NewStore(db)
	inv := rbac.NewInvalidator(cache, members, logger)
	members.SetHooks(inv)
	rbacStore.SetInvalidator(inv)

	resolver := rbac.NewContextResolver(members, orgStore, cache)
	authorizer := rbac.NewAuthorizer(members, rbacStore, cache, logger, nil)

	return &testEnv{
		db:       db,
		members:  members,
		orgs:     orgStore,
		rbac:     rbacStore,
		enforcer: NewEnforcer(resolver, authorizer),
		fields:   NewFieldFilter(authorizer),
	}
}

func (e *testEnv) user(t *testing.T, username string, superuser bool) *auth.User {
	t.Helper()
	result, err := e.db.Exec(`INSERT INTO users (username) VALUES ($1)`, username)
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
	role, err := e.rbac.CreateRole(context.Background(), &rbac.CreateRoleRequest{Name: name})
	if err != nil {
		t.Fatalf("Failed to seed role: %v", err)
	}
	for _, code := range codes {
		if _, err := e.rbac.EnsurePermission(context.Background(), code, ""); err != nil {
			t.Fatalf("Failed to seed permission: %v", err)
		}
	}
	if len(codes) > 0 {
		if err := e.rbac.SetRolePermissions(context.Background(), role.ID, codes); err != nil {
			t.Fatalf("Failed to assign permissions: %v", err)
		}
	}
	return role.ID
}

func (e *testEnv) member(t *testing.T, userID, orgID int64, roleID int64) {
	t.Helper()
	m := &membership.Membership{UserID: userID, OrganizationID: orgID, RoleID: &roleID}
	if err := e.members.Add(context.Background(), m); err != nil {
		t.Fatalf("Failed to seed membership: %v", err)
	}
}

// scopedRow is a minimal OrgScoped stand-in.
type scopedRow struct{ orgID int64 }

func (r scopedRow) OrgID() int64 { return r.orgID }

func TestReadFilterSuperuserUnrestricted(t *testing.T) {
	env := setupTestEnv(t)

	root := env.user(t, "root", true)
	filter, err := env.enforcer.ReadFilter(context.Background(), root)
	if err != nil {
		t.Fatalf("ReadFilter failed: %v", err)
	}
	if !filter.All {
		t.Error("Expected unrestricted filter for superuser")
	}

	clause, args := filter.SQL("organization_id", 1)
	if clause != "" || args != nil {
		t.Errorf("Expected empty fragment, got %q %v", clause, args)
	}
}

func TestReadFilterZeroOrgsMatchesNothing(t *testing.T) {
	env := setupTestEnv(t)

	alice := env.user(t, "alice", false)
	filter, err := env.enforcer.ReadFilter(context.Background(), alice)
	if err != nil {
		t.Fatalf("ReadFilter failed: %v", err)
	}

	clause, args := filter.SQL("organization_id", 1)
	if clause != "1 = 0" || len(args) != 0 {
		t.Errorf("Expected contradiction for empty set, got %q %v", clause, args)
	}
}

func TestReadFilterSQLPlaceholders(t *testing.T) {
	filter := &Filter{OrgIDs: []int64{10, 20}}
	clause, args := filter.SQL("p.organization_id", 3)
	if clause != "p.organization_id IN ($3, $4)" {
		t.Errorf("Unexpected clause %q", clause)
	}
	if len(args) != 2 || args[0] != int64(10) || args[1] != int64(20) {
		t.Errorf("Unexpected args %v", args)
	}
}

func TestAuthorizeCreateMultiOrg(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	bob := env.user(t, "bob", false)
	acme := env.org(t, "Acme")
	globex := env.org(t, "Globex")
	editor := env.role(t, "editor", "products.add_product")
	viewer := env.role(t, "viewer", "products.view_product")
	env.member(t, bob.ID, acme, editor)
	env.member(t, bob.ID, globex, viewer)

	// no organization specified: validation error
	_, err := env.enforcer.AuthorizeCreate(ctx, bob, "products.product", nil)
	if !apperrors.IsValidation(err) {
		t.Errorf("Expected validation error without hint, got %v", err)
	}

	// Globex membership lacks add_product: denial
	_, err = env.enforcer.AuthorizeCreate(ctx, bob, "products.product", &globex)
	if !apperrors.IsPermissionDenied(err) {
		t.Errorf("Expected denial in Globex, got %v", err)
	}

	// Acme works
	orgID, err := env.enforcer.AuthorizeCreate(ctx, bob, "products.product", &acme)
	if err != nil || orgID != acme {
		t.Errorf("Expected create pinned to Acme, got (%d, %v)", orgID, err)
	}
}

func TestAuthorizeReadCollapsesForeignOrgToNotFound(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	alice := env.user(t, "alice", false)
	acme := env.org(t, "Acme")
	globex := env.org(t, "Globex")
	viewer := env.role(t, "viewer", "products.view_product")
	env.member(t, alice.ID, acme, viewer)

	err := env.enforcer.AuthorizeRead(ctx, alice, "products.product", scopedRow{orgID: globex})
	if !apperrors.IsNotFound(err) {
		t.Errorf("Expected foreign organization to read as not found, got %v", err)
	}

	if err := env.enforcer.AuthorizeRead(ctx, alice, "products.product", scopedRow{orgID: acme}); err != nil {
		t.Errorf("Expected read in own organization to pass, got %v", err)
	}
}

func TestAuthorizeUpdateUsesStoredOrganization(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	alice := env.user(t, "alice", false)
	acme := env.org(t, "Acme")
	viewer := env.role(t, "viewer", "products.view_product")
	env.member(t, alice.ID, acme, viewer)

	// view permission alone does not allow mutation
	err := env.enforcer.AuthorizeUpdate(ctx, alice, "products.product", scopedRow{orgID: acme})
	if !apperrors.IsPermissionDenied(err) {
		t.Errorf("Expected denial without change permission, got %v", err)
	}

	err = env.enforcer.AuthorizeDelete(ctx, alice, "products.product", scopedRow{orgID: acme})
	if !apperrors.IsPermissionDenied(err) {
		t.Errorf("Expected denial without delete permission, got %v", err)
	}
}

func TestFilterReadableDropsUngrantedFields(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	alice := env.user(t, "alice", false)
	acme := env.org(t, "Acme")
	editor := env.role(t, "editor", "products.view_product")
	env.member(t, alice.ID, acme, editor)

	if _, err := env.rbac.UpsertFieldPermission(ctx, editor, &rbac.UpsertFieldPermissionRequest{
		ResourceType: "products.product",
		FieldName:    "cost_price",
		CanRead:      true,
	}); err != nil {
		t.Fatalf("UpsertFieldPermission failed: %v", err)
	}

	record := map[string]interface{}{
		"id":              int64(1),
		"organization_id": acme,
		"cost_price":      10.5,
		"supplier_notes":  "confidential",
	}
	always := []string{"id", "organization_id"}

	filtered, err := env.fields.FilterReadable(ctx, alice, "products.product", record, always)
	if err != nil {
		t.Fatalf("FilterReadable failed: %v", err)
	}

	if _, ok := filtered["cost_price"]; !ok {
		t.Error("Expected granted field to survive")
	}
	if _, ok := filtered["supplier_notes"]; ok {
		t.Error("Expected ungranted field to be dropped")
	}
	if _, ok := filtered["id"]; !ok {
		t.Error("Expected always-visible field to survive")
	}
}

func TestCheckWritableNamesOffendingFields(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	alice := env.user(t, "alice", false)
	acme := env.org(t, "Acme")
	editor := env.role(t, "editor", "products.change_product")
	env.member(t, alice.ID, acme, editor)

	if _, err := env.rbac.UpsertFieldPermission(ctx, editor, &rbac.UpsertFieldPermissionRequest{
		ResourceType: "products.product",
		FieldName:    "cost_price",
		CanRead:      true,
		CanUpdate:    false,
	}); err != nil {
		t.Fatalf("UpsertFieldPermission failed: %v", err)
	}
	if _, err := env.rbac.UpsertFieldPermission(ctx, editor, &rbac.UpsertFieldPermissionRequest{
		ResourceType: "products.product",
		FieldName:    "name",
		CanUpdate:    true,
	}); err != nil {
		t.Fatalf("UpsertFieldPermission failed: %v", err)
	}

	// updating a granted field is fine
	err := env.fields.CheckWritable(ctx, alice, rbac.FieldUpdate, "products.product", []string{"name"}, nil)
	if err != nil {
		t.Errorf("Expected granted field update to pass, got %v", err)
	}

	// cost_price is readable but not updatable
	err = env.fields.CheckWritable(ctx, alice, rbac.FieldUpdate, "products.product", []string{"name", "cost_price"}, nil)
	var ve *apperrors.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Expected validation error, got %v", err)
	}
	if ve.Field != "cost_price" {
		t.Errorf("Expected offending field to be named, got %q", ve.Field)
	}
}

func TestFieldFilterSuperuserBypass(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	root := env.user(t, "root", true)
	record := map[string]interface{}{"anything": 1}

	filtered, err := env.fields.FilterReadable(ctx, root, "products.product", record, nil)
	if err != nil {
		t.Fatalf("FilterReadable failed: %v", err)
	}
	if len(filtered) != 1 {
		t.Error("Expected superuser to see every field")
	}

	if err := env.fields.CheckWritable(ctx, root, rbac.FieldUpdate, "products.product", []string{"anything"}, nil); err != nil {
		t.Errorf("Expected superuser writes to pass, got %v", err)
	}
}
