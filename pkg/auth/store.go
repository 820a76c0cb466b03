package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/meridianerp/meridian/pkg/apperrors"
)

// Store handles user and API token persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new auth store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, userID int64) (*User, error) {
	query := `
		SELECT id, username, email, full_name, is_superuser, is_active, created_at, updated_at, last_login_at
		FROM users
		WHERE id = $1
	`

	var user User
	var email, fullName sql.NullString
	var lastLogin sql.NullTime

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.ID,
		&user.Username,
		&email,
		&fullName,
		&user.IsSuperuser,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
		&lastLogin,
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("user", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if email.Valid {
		user.Email = email.String
	}
	if fullName.Valid {
		user.FullName = fullName.String
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		user.LastLoginAt = &t
	}

	return &user, nil
}

// CreateToken creates and persists a new API token for a user, returning
// the one-time plaintext token alongside the stored record.
func (s *Store) CreateToken(ctx context.Context, userID int64, name string, expiresAt *time.Time) (*APIToken, string, error) {
	token, tokenHash, tokenPrefix, err := GenerateToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	apiToken := &APIToken{
		UserID:      userID,
		TokenHash:   tokenHash,
		TokenPrefix: tokenPrefix,
		Name:        name,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now(),
	}

	query := `
		INSERT INTO api_tokens (user_id, token_hash, token_prefix, name, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err = s.db.QueryRowContext(ctx, query,
		apiToken.UserID, apiToken.TokenHash, apiToken.TokenPrefix,
		apiToken.Name, apiToken.ExpiresAt, apiToken.CreatedAt,
	).Scan(&apiToken.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create token: %w", err)
	}

	return apiToken, token, nil
}

// Authenticate resolves a plaintext bearer token to its principal. Revoked
// and expired tokens, and tokens of deactivated users, fail closed.
func (s *Store) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if err := ValidateTokenFormat(token); err != nil {
		return nil, apperrors.NewPermissionDenied("invalid token")
	}

	query := `
		SELECT t.id, t.user_id, t.token_prefix, t.name, t.expires_at, t.last_used_at, t.created_at, t.revoked_at,
		       u.id, u.username, u.email, u.full_name, u.is_superuser, u.is_active, u.created_at, u.updated_at
		FROM api_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.token_hash = $1
	`

	var apiToken APIToken
	var user User
	var email, fullName sql.NullString
	var expiresAt, lastUsedAt, revokedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, query, HashToken(token)).Scan(
		&apiToken.ID, &apiToken.UserID, &apiToken.TokenPrefix, &apiToken.Name,
		&expiresAt, &lastUsedAt, &apiToken.CreatedAt, &revokedAt,
		&user.ID, &user.Username, &email, &fullName,
		&user.IsSuperuser, &user.IsActive, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewPermissionDenied("invalid token")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	if expiresAt.Valid {
		t := expiresAt.Time
		apiToken.ExpiresAt = &t
	}
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		apiToken.LastUsedAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		apiToken.RevokedAt = &t
	}
	if email.Valid {
		user.Email = email.String
	}
	if fullName.Valid {
		user.FullName = fullName.String
	}

	if !apiToken.Valid(time.Now()) {
		return nil, apperrors.NewPermissionDenied("token expired or revoked")
	}
	if !user.IsActive {
		return nil, apperrors.NewPermissionDenied("user is deactivated")
	}

	// Best effort; a failed touch never fails authentication.
	s.touchToken(ctx, apiToken.ID)

	return &Principal{User: &user, Token: &apiToken}, nil
}

// RevokeToken marks a token revoked
func (s *Store) RevokeToken(ctx context.Context, tokenID int64) error {
	query := `UPDATE api_tokens SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`
	result, err := s.db.ExecContext(ctx, query, time.Now(), tokenID)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NewNotFound("token", tokenID)
	}
	return nil
}

func (s *Store) touchToken(ctx context.Context, tokenID int64) {
	query := `UPDATE api_tokens SET last_used_at = $1 WHERE id = $2`
	_, _ = s.db.ExecContext(ctx, query, time.Now(), tokenID)
}
