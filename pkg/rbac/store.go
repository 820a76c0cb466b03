package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/meridianerp/meridian/pkg/apperrors"
	"github.com/meridianerp/meridian/pkg/audit"
	"github.com/meridianerp/meridian/pkg/membership"
	"github.com/meridianerp/meridian/pkg/observability"
)

// Store persists roles, permissions, and field grants. Mutations to
// permission state notify the invalidator in the same request lifecycle so
// cached grants are never honored after a committed change.
type Store struct {
	db       *sql.DB
	inv      *Invalidator
	auditor  audit.Recorder
	auditLog *observability.Logger
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SetInvalidator attaches the cache invalidator; wired at startup.
func (s *Store) SetInvalidator(inv *Invalidator) {
	s.inv = inv
}

// SetAudit attaches an audit recorder. Failed audit writes are logged and
// never fail the mutation they describe.
func (s *Store) SetAudit(rec audit.Recorder, logger *observability.Logger) {
	s.auditor = rec
	s.auditLog = logger
}

func (s *Store) recordAudit(ctx context.Context, entry audit.Entry) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Record(ctx, entry); err != nil && s.auditLog != nil {
		s.auditLog.WithError(err).WithField("action", entry.Action).Error("Failed to record audit entry")
	}
}

// CreateRole creates a role
func (s *Store) CreateRole(ctx context.Context, req *CreateRoleRequest) (*Role, error) {
	if req.Name == "" {
		return nil, apperrors.NewValidation("name", "role name is required")
	}

	now := time.Now()
	role := &Role{Name: req.Name, Description: req.Description, CreatedAt: now, UpdatedAt: now}

	query := `
		INSERT INTO roles (name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query, role.Name, role.Description, now, now).Scan(&role.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.NewValidation("name", "role %q already exists", req.Name)
		}
		return nil, fmt.Errorf("failed to create role: %w", err)
	}

	s.recordAudit(ctx, audit.Entry{Action: audit.ActionRoleCreated, RoleID: &role.ID, Detail: role.Name})
	return role, nil
}

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	query := `SELECT id, name, description, created_at, updated_at FROM roles WHERE id = $1`

	var role Role
	var description sql.NullString
	err := s.db.QueryRowContext(ctx, query, roleID).Scan(
		&role.ID, &role.Name, &description, &role.CreatedAt, &role.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("role", roleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	if description.Valid {
		role.Description = description.String
	}
	return &role, nil
}

// ListRoles retrieves all roles
func (s *Store) ListRoles(ctx context.Context) ([]*Role, error) {
	query := `SELECT id, name, description, created_at, updated_at FROM roles ORDER BY name ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		role := &Role{}
		var description sql.NullString
		if err := rows.Scan(&role.ID, &role.Name, &description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		if description.Valid {
			role.Description = description.String
		}
		roles = append(roles, role)
	}

	return roles, rows.Err()
}

// DeleteRole removes a role. Memberships referencing it fall back to no
// role, which grants nothing.
func (s *Store) DeleteRole(ctx context.Context, roleID int64) error {
	holders, err := s.holdersForInvalidation(ctx, roleID)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NewNotFound("role", roleID)
	}

	if s.inv != nil {
		s.inv.invalidateHolders(ctx, holders)
	}
	s.recordAudit(ctx, audit.Entry{Action: audit.ActionRoleDeleted, RoleID: &roleID})
	return nil
}

// EnsurePermission creates a permission codename if it does not exist and
// returns its ID either way. Used by migrations and the admin surface.
func (s *Store) EnsurePermission(ctx context.Context, codename, description string) (int64, error) {
	if codename == "" {
		return 0, apperrors.NewValidation("codename", "permission codename is required")
	}

	var id int64
	insert := `
		INSERT INTO permissions (codename, description)
		SELECT $1, $2
		WHERE NOT EXISTS (SELECT 1 FROM permissions WHERE codename = $1)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, insert, codename, description).Scan(&id)
	if err == sql.ErrNoRows {
		err = s.db.QueryRowContext(ctx, `SELECT id FROM permissions WHERE codename = $1`, codename).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to ensure permission: %w", err)
	}
	return id, nil
}

// ListPermissions retrieves all permission definitions
func (s *Store) ListPermissions(ctx context.Context) ([]*Permission, error) {
	query := `SELECT id, codename, description FROM permissions ORDER BY codename ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var perms []*Permission
	for rows.Next() {
		p := &Permission{}
		var description sql.NullString
		if err := rows.Scan(&p.ID, &p.Codename, &description); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		if description.Valid {
			p.Description = description.String
		}
		perms = append(perms, p)
	}

	return perms, rows.Err()
}

// RolePermissions retrieves the permission codenames attached to a role
func (s *Store) RolePermissions(ctx context.Context, roleID int64) ([]string, error) {
	query := `
		SELECT p.codename
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.codename ASC
	`

	rows, err := s.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan permission code: %w", err)
		}
		codes = append(codes, code)
	}

	return codes, rows.Err()
}

// SetRolePermissions replaces a role's permission set with the named
// codenames in one transaction. Unknown codenames are a validation error.
func (s *Store) SetRolePermissions(ctx context.Context, roleID int64, codenames []string) error {
	if _, err := s.GetRole(ctx, roleID); err != nil {
		return err
	}

	permIDs, err := s.permissionIDs(ctx, codenames)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to clear role permissions: %w", err)
	}
	for _, permID := range permIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`,
			roleID, permID,
		); err != nil {
			return fmt.Errorf("failed to assign permission: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role permissions: %w", err)
	}

	if s.inv != nil {
		s.inv.RolePermissionsChanged(ctx, roleID)
	}
	s.recordAudit(ctx, audit.Entry{
		Action: audit.ActionRolePermsSet,
		RoleID: &roleID,
		Detail: strings.Join(codenames, ","),
	})
	return nil
}

func (s *Store) permissionIDs(ctx context.Context, codenames []string) ([]int64, error) {
	if len(codenames) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(codenames))
	args := make([]interface{}, len(codenames))
	for i, code := range codenames {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = code
	}

	query := fmt.Sprintf(
		`SELECT id, codename FROM permissions WHERE codename IN (%s)`,
		strings.Join(placeholders, ", "),
	)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to look up permissions: %w", err)
	}
	defer rows.Close()

	found := make(map[string]int64, len(codenames))
	for rows.Next() {
		var id int64
		var code string
		if err := rows.Scan(&id, &code); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		found[code] = id
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(codenames))
	for _, code := range codenames {
		id, ok := found[code]
		if !ok {
			return nil, apperrors.NewValidation("codenames", "unknown permission %q", code)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// UpsertFieldPermission creates or updates the grant for one (role,
// resource type, field) triple; the triple is unique by construction.
func (s *Store) UpsertFieldPermission(ctx context.Context, roleID int64, req *UpsertFieldPermissionRequest) (*FieldPermission, error) {
	if req.ResourceType == "" {
		return nil, apperrors.NewValidation("resource_type", "resource type is required")
	}
	if req.FieldName == "" {
		return nil, apperrors.NewValidation("field_name", "field name is required")
	}
	if _, err := s.GetRole(ctx, roleID); err != nil {
		return nil, err
	}

	now := time.Now()
	fp := &FieldPermission{
		RoleID:       roleID,
		ResourceType: req.ResourceType,
		FieldName:    req.FieldName,
		CanCreate:    req.CanCreate,
		CanRead:      req.CanRead,
		CanUpdate:    req.CanUpdate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	query := `
		INSERT INTO field_permissions (role_id, resource_type, field_name, can_create, can_read, can_update, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (role_id, resource_type, field_name) DO UPDATE SET
			can_create = excluded.can_create,
			can_read = excluded.can_read,
			can_update = excluded.can_update,
			updated_at = excluded.updated_at
		RETURNING id, created_at
	`
	err := s.db.QueryRowContext(ctx, query,
		fp.RoleID, fp.ResourceType, fp.FieldName,
		fp.CanCreate, fp.CanRead, fp.CanUpdate, now, now,
	).Scan(&fp.ID, &fp.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert field permission: %w", err)
	}

	if s.inv != nil {
		s.inv.FieldPermissionsChanged(ctx, roleID)
	}
	s.recordAudit(ctx, audit.Entry{
		Action: audit.ActionFieldPermSet,
		RoleID: &roleID,
		Detail: fp.ResourceType + "." + fp.FieldName,
	})
	return fp, nil
}

// ListFieldPermissions retrieves a role's field grants
func (s *Store) ListFieldPermissions(ctx context.Context, roleID int64) ([]*FieldPermission, error) {
	query := `
		SELECT id, role_id, resource_type, field_name, can_create, can_read, can_update, created_at, updated_at
		FROM field_permissions
		WHERE role_id = $1
		ORDER BY resource_type ASC, field_name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list field permissions: %w", err)
	}
	defer rows.Close()

	var perms []*FieldPermission
	for rows.Next() {
		fp := &FieldPermission{}
		if err := rows.Scan(
			&fp.ID, &fp.RoleID, &fp.ResourceType, &fp.FieldName,
			&fp.CanCreate, &fp.CanRead, &fp.CanUpdate, &fp.CreatedAt, &fp.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan field permission: %w", err)
		}
		perms = append(perms, fp)
	}

	return perms, rows.Err()
}

// DeleteFieldPermission removes one field grant
func (s *Store) DeleteFieldPermission(ctx context.Context, roleID, fieldPermID int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM field_permissions WHERE id = $1 AND role_id = $2`,
		fieldPermID, roleID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete field permission: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NewNotFound("field permission", fieldPermID)
	}

	if s.inv != nil {
		s.inv.FieldPermissionsChanged(ctx, roleID)
	}
	s.recordAudit(ctx, audit.Entry{Action: audit.ActionFieldPermDeleted, RoleID: &roleID})
	return nil
}

// FieldGrantsForRoles resolves the union of field grants across the given
// roles for one resource type. OR-union applies flag by flag; a field with
// no row anywhere stays denied.
func (s *Store) FieldGrantsForRoles(ctx context.Context, roleIDs []int64, resourceType string) (map[string]FieldFlags, error) {
	grants := make(map[string]FieldFlags)
	if len(roleIDs) == 0 {
		return grants, nil
	}

	placeholders := make([]string, len(roleIDs))
	args := make([]interface{}, 0, len(roleIDs)+1)
	for i, id := range roleIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args = append(args, id)
	}
	args = append(args, resourceType)

	query := fmt.Sprintf(`
		SELECT field_name, can_create, can_read, can_update
		FROM field_permissions
		WHERE role_id IN (%s) AND resource_type = $%d
	`, strings.Join(placeholders, ", "), len(roleIDs)+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve field grants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var field string
		var flags FieldFlags
		if err := rows.Scan(&field, &flags.CanCreate, &flags.CanRead, &flags.CanUpdate); err != nil {
			return nil, fmt.Errorf("failed to scan field grant: %w", err)
		}
		merged := grants[field]
		merged.CanCreate = merged.CanCreate || flags.CanCreate
		merged.CanRead = merged.CanRead || flags.CanRead
		merged.CanUpdate = merged.CanUpdate || flags.CanUpdate
		grants[field] = merged
	}

	return grants, rows.Err()
}

func (s *Store) holdersForInvalidation(ctx context.Context, roleID int64) ([]membership.UserOrg, error) {
	if s.inv == nil {
		return nil, nil
	}
	return s.inv.holders(ctx, roleID)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
