package models

import "time"

// Product is an inventory row consulted by the inventory validation step.
type Product struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
}

// InStock reports whether the row can cover qty units.
func (p Product) InStock(qty int) bool {
	return p.Quantity >= qty
}
