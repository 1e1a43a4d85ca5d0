package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/models"
)

// InventoryReader looks up stock for a product name.
type InventoryReader interface {
	GetByName(ctx context.Context, name string) (*models.Product, error)
}

// InventoryRepository reads the products table. It never writes: order
// processing keeps no state outside the queue.
type InventoryRepository struct {
	db *sql.DB
}

func NewInventoryRepository(database *sql.DB) *InventoryRepository {
	return &InventoryRepository{db: database}
}

// GetByName returns a single product, or nil when it is not stocked.
func (r *InventoryRepository) GetByName(ctx context.Context, name string) (*models.Product, error) {
	query := "SELECT id, name, price, quantity, created_at FROM products WHERE name = $1"

	var p models.Product
	err := r.db.QueryRowContext(ctx, query, name).Scan(&p.ID, &p.Name, &p.Price, &p.Quantity, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	return &p, nil
}
