package membership

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/meridianerp/meridian/pkg/apperrors"
	"github.com/meridianerp/meridian/pkg/audit"
	"github.com/meridianerp/meridian/pkg/observability"
)

// Hooks receives synchronous notifications after membership mutations
// commit. The RBAC invalidator implements this to evict cached permission
// state; eviction happens in the same request lifecycle as the write, never
// deferred to TTL expiry.
type Hooks interface {
	MembershipChanged(ctx context.Context, userID, orgID int64)
}

// Store handles membership persistence
type Store struct {
	db       *sql.DB
	hooks    Hooks
	auditor  audit.Recorder
	auditLog *observability.Logger
}

// NewStore creates a new membership store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SetHooks attaches post-commit mutation hooks. Must be called during
// startup wiring, before the store serves requests.
func (s *Store) SetHooks(hooks Hooks) {
	s.hooks = hooks
}

// SetAudit attaches an audit recorder. Failed audit writes are logged and
// never fail the mutation they describe.
func (s *Store) SetAudit(rec audit.Recorder, logger *observability.Logger) {
	s.auditor = rec
	s.auditLog = logger
}

func (s *Store) notify(ctx context.Context, userID, orgID int64) {
	if s.hooks != nil {
		s.hooks.MembershipChanged(ctx, userID, orgID)
	}
}

func (s *Store) recordAudit(ctx context.Context, entry audit.Entry) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Record(ctx, entry); err != nil && s.auditLog != nil {
		s.auditLog.WithError(err).WithField("action", entry.Action).Error("Failed to record audit entry")
	}
}

// Add creates an active membership. Adding a user who already has an
// active membership in the organization is a validation error; reactivate
// or change the role instead.
func (s *Store) Add(ctx context.Context, m *Membership) error {
	query := `
		INSERT INTO memberships (user_id, organization_id, role_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, organization_id) WHERE is_active DO NOTHING
		RETURNING id
	`
	now := time.Now()
	err := s.db.QueryRowContext(ctx, query, m.UserID, m.OrganizationID, m.RoleID, true, now, now).Scan(&m.ID)
	if err == sql.ErrNoRows {
		return apperrors.NewValidation("user_id", "user %d is already a member of organization %d", m.UserID, m.OrganizationID)
	}
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}

	m.IsActive = true
	m.CreatedAt = now
	m.UpdatedAt = now

	s.notify(ctx, m.UserID, m.OrganizationID)
	s.recordAudit(ctx, audit.Entry{
		Action:         audit.ActionMemberAdded,
		UserID:         &m.UserID,
		OrganizationID: &m.OrganizationID,
		RoleID:         m.RoleID,
	})
	return nil
}

// GetActive retrieves the single active membership for a (user, org) pair
func (s *Store) GetActive(ctx context.Context, userID, orgID int64) (*Membership, error) {
	query := `
		SELECT id, user_id, organization_id, role_id, is_active, created_at, updated_at
		FROM memberships
		WHERE user_id = $1 AND organization_id = $2 AND is_active
	`

	var m Membership
	var roleID sql.NullInt64
	err := s.db.QueryRowContext(ctx, query, userID, orgID).Scan(
		&m.ID, &m.UserID, &m.OrganizationID, &roleID, &m.IsActive, &m.CreatedAt, &m.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("membership", fmt.Sprintf("user %d in organization %d", userID, orgID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}

	if roleID.Valid {
		id := roleID.Int64
		m.RoleID = &id
	}
	return &m, nil
}

// ActiveOrgIDs returns the IDs of every organization the user holds an
// active membership in, ordered for deterministic cache values.
func (s *Store) ActiveOrgIDs(ctx context.Context, userID int64) ([]int64, error) {
	query := `
		SELECT organization_id
		FROM memberships
		WHERE user_id = $1 AND is_active
		ORDER BY organization_id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active organizations: %w", err)
	}
	defer rows.Close()

	var orgIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan organization id: %w", err)
		}
		orgIDs = append(orgIDs, id)
	}

	return orgIDs, rows.Err()
}

// UpdateRole reassigns the role of an active membership in place
func (s *Store) UpdateRole(ctx context.Context, userID, orgID int64, roleID *int64) error {
	query := `
		UPDATE memberships SET role_id = $1, updated_at = $2
		WHERE user_id = $3 AND organization_id = $4 AND is_active
	`
	result, err := s.db.ExecContext(ctx, query, roleID, time.Now(), userID, orgID)
	if err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NewNotFound("membership", fmt.Sprintf("user %d in organization %d", userID, orgID))
	}

	s.notify(ctx, userID, orgID)
	s.recordAudit(ctx, audit.Entry{
		Action:         audit.ActionMemberRoleChanged,
		UserID:         &userID,
		OrganizationID: &orgID,
		RoleID:         roleID,
	})
	return nil
}

// Deactivate removes a user from an organization by deactivating the
// membership row. The row is kept for history.
func (s *Store) Deactivate(ctx context.Context, userID, orgID int64) error {
	query := `
		UPDATE memberships SET is_active = $1, updated_at = $2
		WHERE user_id = $3 AND organization_id = $4 AND is_active
	`
	result, err := s.db.ExecContext(ctx, query, false, time.Now(), userID, orgID)
	if err != nil {
		return fmt.Errorf("failed to deactivate membership: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NewNotFound("membership", fmt.Sprintf("user %d in organization %d", userID, orgID))
	}

	s.notify(ctx, userID, orgID)
	s.recordAudit(ctx, audit.Entry{
		Action:         audit.ActionMemberRemoved,
		UserID:         &userID,
		OrganizationID: &orgID,
	})
	return nil
}

// ListMembers retrieves active members of an organization with identity
func (s *Store) ListMembers(ctx context.Context, orgID int64) ([]*Member, error) {
	query := `
		SELECT m.id, m.user_id, m.organization_id, m.role_id, m.is_active, m.created_at, m.updated_at,
		       u.username, u.email
		FROM memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.organization_id = $1 AND m.is_active
		ORDER BY m.created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		member := &Member{}
		var roleID sql.NullInt64
		var email sql.NullString
		if err := rows.Scan(
			&member.ID, &member.UserID, &member.OrganizationID, &roleID,
			&member.IsActive, &member.CreatedAt, &member.UpdatedAt,
			&member.Username, &email,
		); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		if roleID.Valid {
			id := roleID.Int64
			member.RoleID = &id
		}
		if email.Valid {
			member.Email = email.String
		}
		members = append(members, member)
	}

	return members, rows.Err()
}

// PermissionCodes returns the permission codenames granted to the user in
// the organization through their active membership's role. No membership or
// a role-less membership yields an empty set.
func (s *Store) PermissionCodes(ctx context.Context, userID, orgID int64) ([]string, error) {
	query := `
		SELECT p.codename
		FROM memberships m
		JOIN role_permissions rp ON rp.role_id = m.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE m.user_id = $1 AND m.organization_id = $2 AND m.is_active
		ORDER BY p.codename ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve permission codes: %w", err)
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

// ActiveRoleIDs returns the distinct role IDs held by the user across all
// active memberships; input to field-grant union resolution.
func (s *Store) ActiveRoleIDs(ctx context.Context, userID int64) ([]int64, error) {
	query := `
		SELECT DISTINCT role_id
		FROM memberships
		WHERE user_id = $1 AND is_active AND role_id IS NOT NULL
		ORDER BY role_id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active roles: %w", err)
	}
	defer rows.Close()

	var roleIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan role id: %w", err)
		}
		roleIDs = append(roleIDs, id)
	}

	return roleIDs, rows.Err()
}

// HoldersOfRole returns every (user, organization) pair whose active
// membership carries the role. Invalidation fans out over this set when the
// role's permission or field grants change.
func (s *Store) HoldersOfRole(ctx context.Context, roleID int64) ([]UserOrg, error) {
	query := `
		SELECT user_id, organization_id
		FROM memberships
		WHERE role_id = $1 AND is_active
	`

	rows, err := s.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role holders: %w", err)
	}
	defer rows.Close()

	var holders []UserOrg
	for rows.Next() {
		var uo UserOrg
		if err := rows.Scan(&uo.UserID, &uo.OrganizationID); err != nil {
			return nil, fmt.Errorf("failed to scan role holder: %w", err)
		}
		holders = append(holders, uo)
	}

	return holders, rows.Err()
}
