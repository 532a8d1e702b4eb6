package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the requested product does not exist or is inactive.
	ErrNotFound = errors.New("catalog: product not found")
	// ErrInsufficientStock signals a stock decrement would go negative.
	ErrInsufficientStock = errors.New("catalog: insufficient stock")
)

// Repository provides access to supplier product rows.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const productColumns = `id, supplier_id, name, category, price, stock, city, is_active, created_at, updated_at`

// ActiveByIDs fetches active products for the given ids.
func (r *Repository) ActiveByIDs(ctx context.Context, ids []string) ([]Product, error) {
	const query = `
		SELECT ` + productColumns + `
		FROM products
		WHERE id = ANY($1) AND is_active
	`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("catalog: query by ids: %w", err)
	}
	defer rows.Close()

	return collectProducts(rows)
}

// ActiveByNames fetches every active product across all suppliers whose name
// matches one of the given names. This is the comparable universe the
// assignment engine ranks over.
func (r *Repository) ActiveByNames(ctx context.Context, names []string) ([]Product, error) {
	const query = `
		SELECT ` + productColumns + `
		FROM products
		WHERE name = ANY($1) AND is_active
	`

	rows, err := r.pool.Query(ctx, query, names)
	if err != nil {
		return nil, fmt.Errorf("catalog: query by names: %w", err)
	}
	defer rows.Close()

	return collectProducts(rows)
}

// DecrementStock re-validates and decrements stock for one product inside
// the caller's transaction. The conditional UPDATE is the stock re-check the
// creation flow requires: a concurrent depletion makes the row vanish from
// the predicate and the call fails with ErrInsufficientStock.
func (r *Repository) DecrementStock(ctx context.Context, tx pgx.Tx, productID string, quantity int) (Product, error) {
	const query = `
		UPDATE products
		SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND is_active AND stock >= $2
		RETURNING ` + productColumns + `
	`

	p, err := scanProduct(tx.QueryRow(ctx, query, productID, quantity))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if checkErr := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM products WHERE id = $1 AND is_active)`, productID,
			).Scan(&exists); checkErr != nil {
				return Product{}, fmt.Errorf("catalog: verify product: %w", checkErr)
			}
			if !exists {
				return Product{}, ErrNotFound
			}
			return Product{}, ErrInsufficientStock
		}
		return Product{}, fmt.Errorf("catalog: decrement stock: %w", err)
	}
	return p, nil
}

// IncrementStock restores stock for one product inside the caller's
// transaction (order cancellation).
func (r *Repository) IncrementStock(ctx context.Context, tx pgx.Tx, productID string, quantity int) error {
	tag, err := tx.Exec(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1
	`, productID, quantity)
	if err != nil {
		return fmt.Errorf("catalog: increment stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectProducts(rows pgx.Rows) ([]Product, error) {
	out := make([]Product, 0, 8)
	for rows.Next() {
		var p Product
		if err := rows.Scan(
			&p.ID, &p.SupplierID, &p.Name, &p.Category, &p.Price,
			&p.Stock, &p.City, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("catalog: scan product: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate products: %w", err)
	}
	return out, nil
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(
		&p.ID, &p.SupplierID, &p.Name, &p.Category, &p.Price,
		&p.Stock, &p.City, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return Product{}, err
	}
	return p, nil
}
