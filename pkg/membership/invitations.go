package membership

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/meridianerp/meridian/pkg/apperrors"
	"github.com/meridianerp/meridian/pkg/audit"
)

// InvitationTTL is how long an invitation stays acceptable.
const InvitationTTL = 7 * 24 * time.Hour

func generateInviteToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate invitation token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// Invite creates a pending invitation for an email address. A second
// pending invitation for the same (organization, email) is rejected.
func (s *Store) Invite(ctx context.Context, orgID int64, req *InviteRequest, invitedBy int64) (*Invitation, error) {
	if req.Email == "" {
		return nil, apperrors.NewValidation("email", "email is required")
	}

	token, err := generateInviteToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	inv := &Invitation{
		OrganizationID: orgID,
		Email:          req.Email,
		RoleID:         req.RoleID,
		Token:          token,
		InvitedBy:      invitedBy,
		InvitedAt:      now,
		ExpiresAt:      now.Add(InvitationTTL),
	}

	query := `
		INSERT INTO membership_invitations (organization_id, email, role_id, token, invited_by, invited_at, expires_at)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE NOT EXISTS (
			SELECT 1 FROM membership_invitations
			WHERE organization_id = $1 AND email = $2 AND accepted_at IS NULL AND expires_at > $6
		)
		RETURNING id
	`
	err = s.db.QueryRowContext(ctx, query,
		inv.OrganizationID, inv.Email, inv.RoleID, inv.Token, inv.InvitedBy, inv.InvitedAt, inv.ExpiresAt,
	).Scan(&inv.ID)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewValidation("email", "a pending invitation already exists for %s", req.Email)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}

	s.recordAudit(ctx, audit.Entry{
		Action:         audit.ActionInviteSent,
		UserID:         &invitedBy,
		OrganizationID: &orgID,
		RoleID:         req.RoleID,
		Detail:         req.Email,
	})
	return inv, nil
}

// GetInvitation looks up a pending invitation by its token. Expired and
// accepted invitations are not found.
func (s *Store) GetInvitation(ctx context.Context, token string) (*Invitation, error) {
	query := `
		SELECT id, organization_id, email, role_id, token, invited_by, invited_at, expires_at
		FROM membership_invitations
		WHERE token = $1 AND accepted_at IS NULL AND expires_at > $2
	`

	var inv Invitation
	var roleID sql.NullInt64
	err := s.db.QueryRowContext(ctx, query, token, time.Now()).Scan(
		&inv.ID, &inv.OrganizationID, &inv.Email, &roleID,
		&inv.Token, &inv.InvitedBy, &inv.InvitedAt, &inv.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("invitation", token)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}

	if roleID.Valid {
		id := roleID.Int64
		inv.RoleID = &id
	}
	return &inv, nil
}

// AcceptInvitation redeems an invitation for the authenticated user,
// creating the membership and marking the invitation accepted in one
// transaction.
func (s *Store) AcceptInvitation(ctx context.Context, token string, userID int64) (*Membership, error) {
	inv, err := s.GetInvitation(ctx, token)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	m := &Membership{
		UserID:         userID,
		OrganizationID: inv.OrganizationID,
		RoleID:         inv.RoleID,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	memberQuery := `
		INSERT INTO memberships (user_id, organization_id, role_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, organization_id) WHERE is_active DO NOTHING
		RETURNING id
	`
	err = tx.QueryRowContext(ctx, memberQuery, m.UserID, m.OrganizationID, m.RoleID, true, now, now).Scan(&m.ID)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewValidation("token", "user %d is already a member of organization %d", userID, inv.OrganizationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create membership: %w", err)
	}

	acceptQuery := `
		UPDATE membership_invitations SET accepted_at = $1, accepted_by = $2
		WHERE id = $3 AND accepted_at IS NULL
	`
	result, err := tx.ExecContext(ctx, acceptQuery, now, userID, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to accept invitation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, apperrors.NewNotFound("invitation", token)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit invitation acceptance: %w", err)
	}

	s.notify(ctx, userID, inv.OrganizationID)
	s.recordAudit(ctx, audit.Entry{
		Action:         audit.ActionInviteAccepted,
		UserID:         &userID,
		OrganizationID: &inv.OrganizationID,
		RoleID:         inv.RoleID,
	})
	return m, nil
}

// RevokeInvitation removes a pending invitation
func (s *Store) RevokeInvitation(ctx context.Context, orgID, invitationID int64) error {
	query := `
		DELETE FROM membership_invitations
		WHERE id = $1 AND organization_id = $2 AND accepted_at IS NULL
	`
	result, err := s.db.ExecContext(ctx, query, invitationID, orgID)
	if err != nil {
		return fmt.Errorf("failed to revoke invitation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NewNotFound("invitation", fmt.Sprintf("%d", invitationID))
	}

	s.recordAudit(ctx, audit.Entry{
		Action:         audit.ActionInviteRevoked,
		OrganizationID: &orgID,
	})
	return nil
}

// ListInvitations returns the pending invitations of an organization
func (s *Store) ListInvitations(ctx context.Context, orgID int64) ([]*Invitation, error) {
	query := `
		SELECT id, organization_id, email, role_id, invited_by, invited_at, expires_at
		FROM membership_invitations
		WHERE organization_id = $1 AND accepted_at IS NULL AND expires_at > $2
		ORDER BY invited_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, orgID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*Invitation
	for rows.Next() {
		inv := &Invitation{}
		var roleID sql.NullInt64
		if err := rows.Scan(
			&inv.ID, &inv.OrganizationID, &inv.Email, &roleID,
			&inv.InvitedBy, &inv.InvitedAt, &inv.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		if roleID.Valid {
			id := roleID.Int64
			inv.RoleID = &id
		}
		invitations = append(invitations, inv)
	}

	return invitations, rows.Err()
}

// CleanupExpiredInvitations deletes unaccepted invitations past expiry.
// Run periodically from the scheduler.
func (s *Store) CleanupExpiredInvitations(ctx context.Context) (int64, error) {
	query := `DELETE FROM membership_invitations WHERE accepted_at IS NULL AND expires_at <= $1`
	result, err := s.db.ExecContext(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to clean up expired invitations: %w", err)
	}
	return result.RowsAffected()
}
