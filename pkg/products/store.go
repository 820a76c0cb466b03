package products

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/meridianerp/meridian/pkg/apperrors"
	"github.com/meridianerp/meridian/pkg/scope"
)

// Store handles product persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new product store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const productColumns = `id, organization_id, name, sku, description, cost_price, sale_price, quantity, created_at, updated_at`

func scanProduct(scanner interface{ Scan(...interface{}) error }) (*Product, error) {
	p := &Product{}
	var description sql.NullString
	err := scanner.Scan(
		&p.ID, &p.OrganizationID, &p.Name, &p.SKU, &description,
		&p.CostPrice, &p.SalePrice, &p.Quantity, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if description.Valid {
		p.Description = description.String
	}
	return p, nil
}

// List retrieves products visible through the caller's scope filter.
func (s *Store) List(ctx context.Context, filter *scope.Filter) ([]*Product, error) {
	query := fmt.Sprintf(`SELECT %s FROM products`, productColumns)
	clause, args := filter.SQL("organization_id", 1)
	if clause != "" {
		query += " WHERE " + clause
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var items []*Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		items = append(items, p)
	}

	return items, rows.Err()
}

// Get retrieves a product by ID
func (s *Store) Get(ctx context.Context, productID int64) (*Product, error) {
	query := fmt.Sprintf(`SELECT %s FROM products WHERE id = $1`, productColumns)
	p, err := scanProduct(s.db.QueryRowContext(ctx, query, productID))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("product", productID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

// Create persists a new product under the given organization. The
// organization comes from the scoping layer, never from the payload.
func (s *Store) Create(ctx context.Context, orgID int64, p *Product) error {
	if p.Name == "" {
		return apperrors.NewValidation("name", "product name is required")
	}
	if p.SKU == "" {
		return apperrors.NewValidation("sku", "product SKU is required")
	}

	now := time.Now()
	query := `
		INSERT INTO products (organization_id, name, sku, description, cost_price, sale_price, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		orgID, p.Name, p.SKU, p.Description, p.CostPrice, p.SalePrice, p.Quantity, now, now,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}

	p.OrganizationID = orgID
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

// mutable maps payload field names to their columns. organization_id is
// deliberately absent: the owning organization is immutable.
var mutable = map[string]string{
	"name":        "name",
	"sku":         "sku",
	"description": "description",
	"cost_price":  "cost_price",
	"sale_price":  "sale_price",
	"quantity":    "quantity",
}

// Update applies a partial update. Fields outside the mutable set are a
// validation error; the organization column is never touched.
func (s *Store) Update(ctx context.Context, productID int64, fields map[string]interface{}) (*Product, error) {
	if len(fields) == 0 {
		return s.Get(ctx, productID)
	}

	sets := make([]string, 0, len(fields)+1)
	args := make([]interface{}, 0, len(fields)+2)
	i := 1
	for field, value := range fields {
		column, ok := mutable[field]
		if !ok {
			return nil, apperrors.NewValidation(field, "field %q cannot be updated", field)
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", column, i))
		args = append(args, value)
		i++
	}
	sets = append(sets, fmt.Sprintf("updated_at = $%d", i))
	args = append(args, time.Now())
	i++
	args = append(args, productID)

	query := fmt.Sprintf(`UPDATE products SET %s WHERE id = $%d`, strings.Join(sets, ", "), i)
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, apperrors.NewNotFound("product", productID)
	}

	return s.Get(ctx, productID)
}

// Delete removes a product
func (s *Store) Delete(ctx context.Context, productID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NewNotFound("product", productID)
	}
	return nil
}
