package orderdesk

import (
	"context"
	"fmt"
)

// Inventory is the stock collaborator. Stock must be an idempotent
// read; ErrProductNotFound signals a permanently unknown product, any
// other error is treated as a failed check.
type Inventory interface {
	Stock(ctx context.Context, productID string) (int, error)
}

// MemoryInventory is a map-backed Inventory for fixtures and the local
// dry-run mode.
type MemoryInventory struct {
	stock map[string]int
}

func NewMemoryInventory(stock map[string]int) *MemoryInventory {
	inv := &MemoryInventory{stock: map[string]int{}}
	for id, qty := range stock {
		inv.stock[id] = qty
	}
	return inv
}

func (m *MemoryInventory) Stock(ctx context.Context, productID string) (int, error) {
	qty, ok := m.stock[productID]
	if !ok {
		return 0, fmt.Errorf("product %s: %w", productID, ErrProductNotFound)
	}
	return qty, nil
}

func (m *MemoryInventory) SetStock(productID string, qty int) {
	m.stock[productID] = qty
}
