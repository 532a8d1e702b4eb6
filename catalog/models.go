package catalog

import "time"

// Product mirrors the products table. Suppliers list independent catalog
// rows; the product name is the matching key across suppliers.
type Product struct {
	ID         string
	SupplierID string
	Name       string
	Category   string
	Price      float64
	Stock      int
	City       string
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
