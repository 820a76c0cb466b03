package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Recorder accepts audit entries. Stores that mutate access-control state
// carry an optional Recorder; a nil recorder disables auditing.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Store persists audit entries in the audit_log table
type Store struct {
	db *sql.DB
}

// NewStore creates an audit store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts an audit entry. Failures are returned to the caller,
// which logs them; a failed audit write never rolls back the mutation it
// describes.
func (s *Store) Record(ctx context.Context, entry Entry) error {
	query := `
		INSERT INTO audit_log (action, user_id, organization_id, role_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		entry.Action, entry.UserID, entry.OrganizationID, entry.RoleID,
		nullableString(entry.Detail), createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// List returns entries matching the filter, newest first
func (s *Store) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `
		SELECT id, action, user_id, organization_id, role_id, detail, created_at
		FROM audit_log
	`
	var conditions []string
	var args []interface{}

	if filter.Action != "" {
		args = append(args, filter.Action)
		conditions = append(conditions, fmt.Sprintf("action = $%d", len(args)))
	}
	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.OrganizationID != nil {
		args = append(args, *filter.OrganizationID)
		conditions = append(conditions, fmt.Sprintf("organization_id = $%d", len(args)))
	}

	for i, cond := range conditions {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}

	query += " ORDER BY created_at DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var userID, orgID, roleID sql.NullInt64
		var detail sql.NullString

		if err := rows.Scan(
			&entry.ID, &entry.Action, &userID, &orgID, &roleID, &detail, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		if userID.Valid {
			entry.UserID = &userID.Int64
		}
		if orgID.Valid {
			entry.OrganizationID = &orgID.Int64
		}
		if roleID.Valid {
			entry.RoleID = &roleID.Int64
		}
		if detail.Valid {
			entry.Detail = detail.String
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
