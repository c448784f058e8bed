package orderdesk

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubInventory struct {
	stock map[string]int
	errs  map[string]error
	calls map[string]int
}

func newStubInventory(stock map[string]int) *stubInventory {
	return &stubInventory{
		stock: stock,
		errs:  map[string]error{},
		calls: map[string]int{},
	}
}

func (s *stubInventory) Stock(ctx context.Context, productID string) (int, error) {
	s.calls[productID]++
	if err := s.errs[productID]; err != nil {
		return 0, err
	}
	stock, ok := s.stock[productID]
	if !ok {
		return 0, fmt.Errorf("product %s: %w", productID, ErrProductNotFound)
	}
	return stock, nil
}

func newTestEngine(t *testing.T, inventory Inventory) *Engine {
	t.Helper()
	engine, err := NewEngine(EngineOptions{
		Inventory:   inventory,
		Retrier:     newTestRetrier(),
		StockPolicy: Policy{MaxAttempts: 2},
		Now:         func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return engine
}

func TestValidateItem(t *testing.T) {
	inventory := newStubInventory(map[string]int{"P1": 10, "P2": 3})
	engine := newTestEngine(t, inventory)
	ctx := context.Background()

	cases := []struct {
		name          string
		productID     string
		requested     int
		wantStatus    ItemStatus
		wantFulfilled int
	}{
		{"zero quantity", "P1", 0, ItemInvalidQuantity, 0},
		{"negative quantity", "P1", -2, ItemInvalidQuantity, 0},
		{"unknown product", "PX", 1, ItemInvalidProduct, 0},
		{"fully available", "P1", 4, ItemAvailable, 4},
		{"exact stock", "P2", 3, ItemAvailable, 3},
		{"partial", "P2", 5, ItemPartial, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, fulfilled := engine.ValidateItem(ctx, tc.productID, tc.requested)
			assert.Equal(t, tc.wantStatus, status)
			assert.Equal(t, tc.wantFulfilled, fulfilled)
		})
	}
}

func TestValidateItemSkipsInventoryOnBadQuantity(t *testing.T) {
	inventory := newStubInventory(map[string]int{"P1": 10})
	engine := newTestEngine(t, inventory)

	engine.ValidateItem(context.Background(), "P1", 0)
	assert.Zero(t, inventory.calls["P1"], "invalid quantities never reach the inventory")
}

func TestValidateItemCheckFailedAfterRetries(t *testing.T) {
	inventory := newStubInventory(nil)
	inventory.errs["P1"] = Transient(errors.New("db offline"))
	engine := newTestEngine(t, inventory)

	status, fulfilled := engine.ValidateItem(context.Background(), "P1", 2)
	assert.Equal(t, ItemCheckFailed, status)
	assert.Zero(t, fulfilled)
	assert.Equal(t, 2, inventory.calls["P1"], "transient failures are retried before giving up")
}

func TestValidateItemDoesNotRetryUnknownProduct(t *testing.T) {
	inventory := newStubInventory(nil)
	engine := newTestEngine(t, inventory)

	status, _ := engine.ValidateItem(context.Background(), "PX", 1)
	assert.Equal(t, ItemInvalidProduct, status)
	assert.Equal(t, 1, inventory.calls["PX"])
}

func TestProcessOrderFulfilled(t *testing.T) {
	inventory := newStubInventory(map[string]int{"P1": 10, "P2": 2})
	engine := newTestEngine(t, inventory)

	result, err := engine.ProcessOrder(context.Background(), "O1", []OrderItemRequest{
		{ProductID: "P1", Quantity: 4},
		{ProductID: "P2", Quantity: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, OrderFulfilled, result.Status)
	require.Len(t, result.Items, 2)
	assert.Equal(t, 6, result.Items[0].RemainingStock)
	assert.Equal(t, 0, result.Items[1].RemainingStock)
	assert.False(t, result.Timestamp.IsZero())
}

func TestProcessOrderPartialStock(t *testing.T) {
	inventory := newStubInventory(map[string]int{"P1": 3})
	engine := newTestEngine(t, inventory)

	result, err := engine.ProcessOrder(context.Background(), "O1", []OrderItemRequest{
		{ProductID: "P1", Quantity: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, OrderPartial, result.Status)
	require.Len(t, result.Items, 1)
	item := result.Items[0]
	assert.Equal(t, ItemPartial, item.Status)
	assert.Equal(t, 5, item.Requested)
	assert.Equal(t, 3, item.Fulfilled)
	assert.Equal(t, 0, item.RemainingStock)
}

func TestProcessOrderStatusNeverRecovers(t *testing.T) {
	inventory := newStubInventory(map[string]int{"P1": 10})
	engine := newTestEngine(t, inventory)

	result, err := engine.ProcessOrder(context.Background(), "O1", []OrderItemRequest{
		{ProductID: "PX", Quantity: 1},
		{ProductID: "P1", Quantity: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, OrderFailed, result.Status, "a later available item cannot undo failed")
	require.Len(t, result.Items, 2, "every item is still evaluated")
	assert.Equal(t, ItemInvalidProduct, result.Items[0].Status)
	assert.Equal(t, ItemAvailable, result.Items[1].Status)
}

func TestProcessOrderInvalidQuantityDowngradesToPartial(t *testing.T) {
	inventory := newStubInventory(map[string]int{"P1": 10, "P2": 10})
	engine := newTestEngine(t, inventory)

	result, err := engine.ProcessOrder(context.Background(), "O1", []OrderItemRequest{
		{ProductID: "P1", Quantity: 2},
		{ProductID: "P2", Quantity: 0},
	})
	require.NoError(t, err)
	assert.Equal(t, OrderPartial, result.Status)
}

func TestProcessOrderLedger(t *testing.T) {
	inventory := newStubInventory(map[string]int{"P1": 10})
	engine := newTestEngine(t, inventory)
	ctx := context.Background()

	_, ok := engine.Processed("O1")
	assert.False(t, ok)

	_, err := engine.ProcessOrder(ctx, "O1", []OrderItemRequest{{ProductID: "P1", Quantity: 1}})
	require.NoError(t, err)
	_, err = engine.ProcessOrder(ctx, "O1", []OrderItemRequest{
		{ProductID: "P1", Quantity: 1},
		{ProductID: "P1", Quantity: 2},
	})
	require.NoError(t, err)

	result, ok := engine.Processed("O1")
	require.True(t, ok)
	assert.Len(t, result.Items, 2, "reprocessing replaces the ledger entry")
}

func TestBulkProcessIsolatesProcessingErrors(t *testing.T) {
	inventory := newStubInventory(map[string]int{"P1": 10, "P3": 10})
	inventory.errs["PX"] = Transient(errors.New("db offline"))
	engine := newTestEngine(t, inventory)

	report, err := engine.BulkProcess(context.Background(), []OrderRequest{
		{OrderID: "O1", Items: []OrderItemRequest{{ProductID: "P1", Quantity: 2}}},
		{OrderID: "O2", Items: []OrderItemRequest{{ProductID: "PX", Quantity: 1}}},
		{OrderID: "O3", Items: []OrderItemRequest{{ProductID: "P3", Quantity: 1}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.SuccessCount)
	assert.Equal(t, 1, report.FailedCount)

	failed := report.Orders["O2"]
	assert.Equal(t, OrderProcessingError, failed.Status)
	assert.NotEmpty(t, failed.Err)
	assert.Empty(t, failed.Items)

	assert.Equal(t, OrderFulfilled, report.Orders["O1"].Status)
	assert.Equal(t, OrderFulfilled, report.Orders["O3"].Status)
}

func TestBulkProcessInventoryChanges(t *testing.T) {
	inventory := newStubInventory(map[string]int{"P1": 3, "P2": 2})
	engine := newTestEngine(t, inventory)

	report, err := engine.BulkProcess(context.Background(), []OrderRequest{
		{OrderID: "O1", Items: []OrderItemRequest{
			{ProductID: "P1", Quantity: 5},
			{ProductID: "P2", Quantity: 2},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, report.SuccessCount)
	assert.Equal(t, 1, report.FailedCount, "partial orders count as failed")
	assert.Equal(t, map[string]int{"P1": 2, "P2": 0}, report.InventoryChanges)
}

func TestBulkProcessPartialOrdersAreNotSuccesses(t *testing.T) {
	inventory := newStubInventory(map[string]int{"P1": 1})
	engine := newTestEngine(t, inventory)

	report, err := engine.BulkProcess(context.Background(), []OrderRequest{
		{OrderID: "O1", Items: []OrderItemRequest{{ProductID: "P1", Quantity: 5}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, report.SuccessCount)
	assert.Equal(t, 1, report.FailedCount)
	assert.Equal(t, OrderPartial, report.Orders["O1"].Status)
}

func TestBulkProcessStopsOnCancelledContext(t *testing.T) {
	inventory := newStubInventory(nil)
	ctx, cancel := context.WithCancel(context.Background())
	inventory.errs["P1"] = context.Canceled
	cancel()
	engine := newTestEngine(t, inventory)

	_, err := engine.BulkProcess(ctx, []OrderRequest{
		{OrderID: "O1", Items: []OrderItemRequest{{ProductID: "P1", Quantity: 1}}},
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInventorySnapshot(t *testing.T) {
	inventory := newStubInventory(map[string]int{"P1": 7})
	engine := newTestEngine(t, inventory)

	snapshot, err := engine.InventorySnapshot(context.Background(), []string{"P1", "PX"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"P1": 7, "PX": 0}, snapshot)
}

func TestMemoryInventory(t *testing.T) {
	inventory := NewMemoryInventory(map[string]int{"P1": 5})
	inventory.SetStock("P2", 3)

	stock, err := inventory.Stock(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, 5, stock)

	stock, err = inventory.Stock(context.Background(), "P2")
	require.NoError(t, err)
	assert.Equal(t, 3, stock)

	_, err = inventory.Stock(context.Background(), "PX")
	assert.ErrorIs(t, err, ErrProductNotFound)
}
