package products

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/mattn/go-sqlite3"

	"github.com/meridianerp/meridian/pkg/auth"
	"github.com/meridianerp/meridian/pkg/contextkeys"
	"github.com/meridianerp/meridian/pkg/membership"
	"github.com/meridianerp/meridian/pkg/observability"
	"github.com/meridianerp/meridian/pkg/orgs"
	"github.com/meridianerp/meridian/pkg/permcache"
	"github.com/meridianerp/meridian/pkg/rbac"
	"github.com/meridianerp/meridian/pkg/scope"
)

type testEnv struct {
	db       *sql.DB
	router   *mux.Router
	members  *membership.Store
	orgs     *orgs.Store
	rbac     *rbac.Store
	products *Store
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
		CREATE TABLE products (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			organization_id INTEGER NOT NULL REFERENCES organizations(id) ON DELETE RESTRICT,
			name TEXT NOT NULL,
			sku TEXT NOT NULL,
			description TEXT,
			cost_price REAL NOT NULL DEFAULT 0,
			sale_price REAL NOT NULL DEFAULT 0,
			quantity INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
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
	enforcer := scope.NewEnforcer(resolver, authorizer)
	fields := scope.NewFieldFilter(authorizer)

	productStore := NewStore(db)
	handlers := NewHandlers(productStore, enforcer, fields, logger)

	router := mux.NewRouter()
	handlers.RegisterRoutes(router)

	return &testEnv{
		db:       db,
		router:   router,
		members:  members,
		orgs:     orgStore,
		rbac:     rbacStore,
		products: productStore,
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

func (e *testEnv) member(t *testing.T, userID, orgID, roleID int64) {
	t.Helper()
	m := &membership.Membership{UserID: userID, OrganizationID: orgID, RoleID: &roleID}
	if err := e.members.Add(context.Background(), m); err != nil {
		t.Fatalf("Failed to seed membership: %v", err)
	}
}

func (e *testEnv) seedProduct(t *testing.T, orgID int64, name string) int64 {
	t.Helper()
	p := &Product{Name: name, SKU: name + "-sku"}
	if err := e.products.Create(context.Background(), orgID, p); err != nil {
		t.Fatalf("Failed to seed product: %v", err)
	}
	return p.ID
}

// do performs a request as the given user, mimicking the auth middleware.
func (e *testEnv) do(t *testing.T, user *auth.User, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req = req.WithContext(contextkeys.WithAuth(req.Context(), &auth.Principal{User: user}))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestCreateMultiOrgUser(t *testing.T) {
	env := setupTestEnv(t)

	bob := env.user(t, "bob", false)
	acme := env.org(t, "Acme")
	globex := env.org(t, "Globex")
	editor := env.role(t, "editor", "products.add_product", "products.view_product")
	viewer := env.role(t, "viewer", "products.view_product")
	env.member(t, bob.ID, acme, editor)
	env.member(t, bob.ID, globex, viewer)

	// no organization specified: validation error naming the field
	rec := env.do(t, bob, http.MethodPost, "/products", map[string]interface{}{
		"name": "Widget", "sku": "W-1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["field"] != "organization" {
		t.Errorf("Expected error to name organization, got %v", body)
	}

	// Globex: member, but Viewer lacks add_product
	rec = env.do(t, bob, http.MethodPost, "/products", map[string]interface{}{
		"name": "Widget", "sku": "W-1", "organization_id": globex,
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for Globex, got %d: %s", rec.Code, rec.Body.String())
	}

	// Acme: 201 with the organization pinned
	rec = env.do(t, bob, http.MethodPost, "/products", map[string]interface{}{
		"name": "Widget", "sku": "W-1", "organization_id": acme,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201 for Acme, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); int64(body["organization_id"].(float64)) != acme {
		t.Errorf("Expected product pinned to Acme, got %v", body["organization_id"])
	}
}

func TestCreateSingleOrgImplicit(t *testing.T) {
	env := setupTestEnv(t)

	alice := env.user(t, "alice", false)
	acme := env.org(t, "Acme")
	editor := env.role(t, "editor", "products.add_product", "products.view_product")
	env.member(t, alice.ID, acme, editor)

	rec := env.do(t, alice, http.MethodPost, "/products", map[string]interface{}{
		"name": "Widget", "sku": "W-1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected implicit organization, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); int64(body["organization_id"].(float64)) != acme {
		t.Errorf("Expected sole organization, got %v", body["organization_id"])
	}

	// claiming a different organization fails validation
	other := env.org(t, "Globex")
	rec = env.do(t, alice, http.MethodPost, "/products", map[string]interface{}{
		"name": "Widget2", "sku": "W-2", "organization_id": other,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for mismatched organization, got %d", rec.Code)
	}
}

func TestListScopedToActiveOrgs(t *testing.T) {
	env := setupTestEnv(t)

	alice := env.user(t, "alice", false)
	acme := env.org(t, "Acme")
	globex := env.org(t, "Globex")
	viewer := env.role(t, "viewer", "products.view_product")
	env.member(t, alice.ID, acme, viewer)

	env.seedProduct(t, acme, "acme-widget")
	env.seedProduct(t, globex, "globex-widget")

	rec := env.do(t, alice, http.MethodGet, "/products", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if int(body["count"].(float64)) != 1 {
		t.Errorf("Expected only Acme products, got %v", body)
	}
}

func TestListZeroOrgsReturnsEmpty(t *testing.T) {
	env := setupTestEnv(t)

	alice := env.user(t, "alice", false)
	acme := env.org(t, "Acme")
	env.seedProduct(t, acme, "widget")

	rec := env.do(t, alice, http.MethodGet, "/products", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 with empty list, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); int(body["count"].(float64)) != 0 {
		t.Errorf("Expected empty result set, got %v", body)
	}
}

func TestSuperuserListsEverything(t *testing.T) {
	env := setupTestEnv(t)

	root := env.user(t, "root", true)
	acme := env.org(t, "Acme")
	globex := env.org(t, "Globex")
	env.seedProduct(t, acme, "a1")
	env.seedProduct(t, acme, "a2")
	env.seedProduct(t, globex, "g1")

	rec := env.do(t, root, http.MethodGet, "/products", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); int(body["count"].(float64)) != 3 {
		t.Errorf("Expected all products for superuser, got %v", body)
	}
}

func TestGetForeignOrgIndistinguishableFromMissing(t *testing.T) {
	env := setupTestEnv(t)

	alice := env.user(t, "alice", false)
	acme := env.org(t, "Acme")
	globex := env.org(t, "Globex")
	viewer := env.role(t, "viewer", "products.view_product")
	env.member(t, alice.ID, acme, viewer)

	foreign := env.seedProduct(t, globex, "secret")

	foreignRec := env.do(t, alice, http.MethodGet, fmt.Sprintf("/products/%d", foreign), nil)
	missingRec := env.do(t, alice, http.MethodGet, "/products/99999", nil)

	if foreignRec.Code != http.StatusNotFound || missingRec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 for both, got %d and %d", foreignRec.Code, missingRec.Code)
	}
	if foreignRec.Body.String() != missingRec.Body.String() {
		t.Error("Expected identical responses for foreign and missing products")
	}
}

func TestFieldLevelReadAndUpdate(t *testing.T) {
	env := setupTestEnv(t)

	alice := env.user(t, "alice", false)
	acme := env.org(t, "Acme")
	editor := env.role(t, "editor", "products.view_product", "products.change_product")
	env.member(t, alice.ID, acme, editor)

	// editor may read cost_price but not update it
	for _, req := range []*rbac.UpsertFieldPermissionRequest{
		{ResourceType: ResourceType, FieldName: "cost_price", CanRead: true},
		{ResourceType: ResourceType, FieldName: "name", CanRead: true, CanUpdate: true},
	} {
		if _, err := env.rbac.UpsertFieldPermission(context.Background(), editor, req); err != nil {
			t.Fatalf("UpsertFieldPermission failed: %v", err)
		}
	}

	productID := env.seedProduct(t, acme, "widget")

	rec := env.do(t, alice, http.MethodGet, fmt.Sprintf("/products/%d", productID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if _, ok := body["cost_price"]; !ok {
		t.Error("Expected cost_price in response for granted reader")
	}
	if _, ok := body["sku"]; ok {
		t.Error("Expected ungranted sku to be dropped")
	}

	// updating the granted field works
	rec = env.do(t, alice, http.MethodPatch, fmt.Sprintf("/products/%d", productID), map[string]interface{}{
		"name": "renamed",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 for granted update, got %d: %s", rec.Code, rec.Body.String())
	}

	// updating cost_price is rejected naming the field
	rec = env.do(t, alice, http.MethodPatch, fmt.Sprintf("/products/%d", productID), map[string]interface{}{
		"cost_price": 10,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for ungranted field, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["field"] != "cost_price" {
		t.Errorf("Expected offending field named, got %v", body)
	}
}

func TestUpdateCannotMoveOrganization(t *testing.T) {
	env := setupTestEnv(t)

	alice := env.user(t, "alice", false)
	acme := env.org(t, "Acme")
	globex := env.org(t, "Globex")
	editor := env.role(t, "editor", "products.view_product", "products.change_product")
	env.member(t, alice.ID, acme, editor)

	productID := env.seedProduct(t, acme, "widget")

	rec := env.do(t, alice, http.MethodPatch, fmt.Sprintf("/products/%d", productID), map[string]interface{}{
		"organization_id": globex,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for organization change, got %d", rec.Code)
	}

	p, err := env.products.Get(context.Background(), productID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if p.OrganizationID != acme {
		t.Errorf("Expected organization unchanged, got %d", p.OrganizationID)
	}
}

func TestDeactivatedMembershipLosesAccess(t *testing.T) {
	env := setupTestEnv(t)

	bob := env.user(t, "bob", false)
	acme := env.org(t, "Acme")
	editor := env.role(t, "editor", "products.view_product", "products.change_product", "products.delete_product")
	env.member(t, bob.ID, acme, editor)

	productID := env.seedProduct(t, acme, "widget")

	// access works while active
	rec := env.do(t, bob, http.MethodGet, fmt.Sprintf("/products/%d", productID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 while active, got %d", rec.Code)
	}

	if err := env.members.Deactivate(context.Background(), bob.ID, acme); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}

	// the very next request no longer sees Acme data
	rec = env.do(t, bob, http.MethodGet, "/products", nil)
	if body := decodeBody(t, rec); int(body["count"].(float64)) != 0 {
		t.Errorf("Expected list to exclude Acme after deactivation, got %v", body)
	}

	rec = env.do(t, bob, http.MethodDelete, fmt.Sprintf("/products/%d", productID), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected delete to fail after deactivation, got %d", rec.Code)
	}
}
