package orgs

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/meridianerp/meridian/pkg/apperrors"
)

// Store handles organization persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new organization store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create persists a new organization
func (s *Store) Create(ctx context.Context, org *Organization) error {
	if org.Name == "" {
		return apperrors.NewValidation("name", "name is required")
	}
	if org.Kind == "" {
		org.Kind = KindCompany
	}

	query := `
		INSERT INTO organizations (name, kind, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	now := time.Now()
	err := s.db.QueryRowContext(ctx, query, org.Name, org.Kind, true, now, now).Scan(&org.ID)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}

	org.IsActive = true
	org.CreatedAt = now
	org.UpdatedAt = now
	return nil
}

// Get retrieves an organization by ID
func (s *Store) Get(ctx context.Context, orgID int64) (*Organization, error) {
	query := `
		SELECT id, name, kind, is_active, created_at, updated_at
		FROM organizations
		WHERE id = $1
	`

	var org Organization
	err := s.db.QueryRowContext(ctx, query, orgID).Scan(
		&org.ID, &org.Name, &org.Kind, &org.IsActive, &org.CreatedAt, &org.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("organization", orgID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	return &org, nil
}

// Exists reports whether an organization exists, active or not.
func (s *Store) Exists(ctx context.Context, orgID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM organizations WHERE id = $1`, orgID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check organization: %w", err)
	}
	return true, nil
}

// List retrieves all organizations
func (s *Store) List(ctx context.Context) ([]*Organization, error) {
	query := `
		SELECT id, name, kind, is_active, created_at, updated_at
		FROM organizations
		ORDER BY name ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*Organization
	for rows.Next() {
		var org Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.Kind, &org.IsActive, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, &org)
	}

	return orgs, rows.Err()
}

// Update applies partial changes to an organization
func (s *Store) Update(ctx context.Context, orgID int64, req *UpdateOrgRequest) (*Organization, error) {
	org, err := s.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		if *req.Name == "" {
			return nil, apperrors.NewValidation("name", "name must not be empty")
		}
		org.Name = *req.Name
	}
	if req.Kind != nil {
		org.Kind = *req.Kind
	}
	if req.IsActive != nil {
		org.IsActive = *req.IsActive
	}
	org.UpdatedAt = time.Now()

	query := `UPDATE organizations SET name = $1, kind = $2, is_active = $3, updated_at = $4 WHERE id = $5`
	if _, err := s.db.ExecContext(ctx, query, org.Name, org.Kind, org.IsActive, org.UpdatedAt, org.ID); err != nil {
		return nil, fmt.Errorf("failed to update organization: %w", err)
	}

	return org, nil
}

// Delete removes an organization. Scoped resources reference organizations
// with ON DELETE RESTRICT, so a populated tenant cannot be deleted; the
// violation surfaces as a validation error instead of a 500.
func (s *Store) Delete(ctx context.Context, orgID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM organizations WHERE id = $1`, orgID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperrors.NewValidation("organization", "organization %d still has scoped resources", orgID)
		}
		return fmt.Errorf("failed to delete organization: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NewNotFound("organization", orgID)
	}
	return nil
}

// isForeignKeyViolation matches the restrict-on-delete error from both
// postgres (SQLSTATE 23503) and sqlite (used in tests).
func isForeignKeyViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "23503") ||
		strings.Contains(msg, "violates foreign key constraint") ||
		strings.Contains(msg, "FOREIGN KEY constraint failed")
}
