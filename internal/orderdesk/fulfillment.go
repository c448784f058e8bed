package orderdesk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type ItemStatus string

const (
	ItemAvailable       ItemStatus = "available"
	ItemPartial         ItemStatus = "partial"
	ItemInvalidQuantity ItemStatus = "invalid_quantity"
	ItemInvalidProduct  ItemStatus = "invalid_product"
	ItemCheckFailed     ItemStatus = "check_failed"
)

type OrderStatus string

const (
	OrderFulfilled       OrderStatus = "fulfilled"
	OrderPartial         OrderStatus = "partial"
	OrderFailed          OrderStatus = "failed"
	OrderProcessingError OrderStatus = "processing_error"
)

// OrderItemRequest is one requested line of an inbound order.
type OrderItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// OrderItem is the processed report for one line. RemainingStock comes
// from a second stock read taken after the fulfillment decision, so it
// can disagree with the stock level the decision was based on; there is
// no snapshot isolation across an order.
type OrderItem struct {
	ProductID      string     `json:"product_id"`
	Requested      int        `json:"requested"`
	Fulfilled      int        `json:"fulfilled"`
	Status         ItemStatus `json:"status"`
	RemainingStock int        `json:"remaining_stock"`
}

type OrderRequest struct {
	OrderID string             `json:"order_id"`
	Items   []OrderItemRequest `json:"items"`
}

type OrderResult struct {
	OrderID   string      `json:"order_id"`
	Status    OrderStatus `json:"status"`
	Items     []OrderItem `json:"items"`
	Timestamp time.Time   `json:"timestamp"`
	Err       string      `json:"error,omitempty"`
}

// BulkReport aggregates a bulk run. InventoryChanges maps product id to
// the signed requested-minus-fulfilled delta summed over every
// successfully processed order.
type BulkReport struct {
	SuccessCount     int
	FailedCount      int
	Orders           map[string]OrderResult
	InventoryChanges map[string]int
}

type EngineOptions struct {
	Inventory   Inventory
	Logger      *zap.Logger
	Retrier     *Retrier
	StockPolicy Policy
	Pacer       *Pacer
	ItemDelay   time.Duration
	Now         func() time.Time
}

// Engine validates and fulfills orders against live stock. It owns the
// processed-order ledger; it never owns or caches stock data.
type Engine struct {
	inventory   Inventory
	logger      *zap.Logger
	retrier     *Retrier
	stockPolicy Policy
	pacer       *Pacer
	itemDelay   time.Duration
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error

	ledger map[string]OrderResult
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Inventory == nil {
		return nil, fmt.Errorf("%w: inventory is required", ErrInvalidInput)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Retrier == nil {
		opts.Retrier = NewRetrier(opts.Logger)
	}
	if opts.StockPolicy.Retryable == nil {
		// An unknown product is a permanent answer, not a flaky one.
		opts.StockPolicy.Retryable = func(err error) bool {
			return !errors.Is(err, ErrProductNotFound)
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		inventory:   opts.Inventory,
		logger:      opts.Logger,
		retrier:     opts.Retrier,
		stockPolicy: opts.StockPolicy,
		pacer:       opts.Pacer,
		itemDelay:   opts.ItemDelay,
		now:         opts.Now,
		sleep:       sleepContext,
		ledger:      map[string]OrderResult{},
	}, nil
}

func (e *Engine) currentStock(ctx context.Context, productID string) (int, error) {
	var stock int
	err := e.retrier.Do(ctx, e.stockPolicy, "product:"+productID, func(ctx context.Context) error {
		var stockErr error
		stock, stockErr = e.inventory.Stock(ctx, productID)
		return stockErr
	})
	return stock, err
}

// ValidateItem evaluates a single line against live stock. A
// non-positive quantity is rejected without any remote call. Transient
// read failures that survive retry become check_failed, distinct from
// the permanent invalid_product.
func (e *Engine) ValidateItem(ctx context.Context, productID string, requested int) (ItemStatus, int) {
	if requested <= 0 {
		return ItemInvalidQuantity, 0
	}
	stock, err := e.currentStock(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return ItemInvalidProduct, 0
		}
		return ItemCheckFailed, 0
	}
	if stock >= requested {
		return ItemAvailable, requested
	}
	if stock < 0 {
		stock = 0
	}
	return ItemPartial, stock
}

// ProcessOrder evaluates every item left to right with no early exit,
// so the full per-line report is always available. The order status is
// monotone non-improving: any non-available item downgrades it to
// partial, any invalid product to failed, and failed never recovers.
func (e *Engine) ProcessOrder(ctx context.Context, orderID string, items []OrderItemRequest) (OrderResult, error) {
	processed := make([]OrderItem, 0, len(items))
	overall := OrderFulfilled

	for _, item := range items {
		status, fulfilled := e.ValidateItem(ctx, item.ProductID, item.Quantity)

		if status != ItemAvailable && overall != OrderFailed {
			overall = OrderPartial
		}
		if status == ItemInvalidProduct {
			overall = OrderFailed
		}

		// Deliberate second read: RemainingStock reports the state of
		// the world after fulfillment, not the value the decision used.
		remaining := 0
		stock, err := e.currentStock(ctx, item.ProductID)
		switch {
		case err == nil:
			remaining = stock - fulfilled
		case errors.Is(err, ErrProductNotFound):
			remaining = 0
		default:
			return OrderResult{}, fmt.Errorf("order %s: remaining stock for %s: %w", orderID, item.ProductID, err)
		}

		processed = append(processed, OrderItem{
			ProductID:      item.ProductID,
			Requested:      item.Quantity,
			Fulfilled:      fulfilled,
			Status:         status,
			RemainingStock: remaining,
		})

		if err := e.sleep(ctx, e.itemDelay); err != nil {
			return OrderResult{}, err
		}
	}

	result := OrderResult{
		OrderID:   orderID,
		Status:    overall,
		Items:     processed,
		Timestamp: e.now(),
	}
	e.ledger[orderID] = result
	return result, nil
}

// BulkProcess runs orders independently: a failure inside one order is
// recorded as a processing_error entry for that order only and the
// batch continues. A pacing pause follows every Nth order regardless
// of how those orders fared.
func (e *Engine) BulkProcess(ctx context.Context, orders []OrderRequest) (BulkReport, error) {
	report := BulkReport{
		Orders:           map[string]OrderResult{},
		InventoryChanges: map[string]int{},
	}

	for _, order := range orders {
		result, err := e.ProcessOrder(ctx, order.OrderID, order.Items)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			e.logger.Warn("order processing failed",
				zap.String("order_id", order.OrderID),
				zap.Error(err))
			report.FailedCount++
			report.Orders[order.OrderID] = OrderResult{
				OrderID: order.OrderID,
				Status:  OrderProcessingError,
				Err:     err.Error(),
			}
		} else {
			report.Orders[order.OrderID] = result
			if result.Status == OrderFulfilled {
				report.SuccessCount++
			} else {
				report.FailedCount++
			}
			for _, item := range result.Items {
				report.InventoryChanges[item.ProductID] += item.Requested - item.Fulfilled
			}
		}

		if e.pacer.Due(len(report.Orders)) {
			if err := e.pacer.Pause(ctx); err != nil {
				return report, err
			}
		}
	}
	return report, nil
}

// Processed returns the ledger entry for an order from the current run.
func (e *Engine) Processed(orderID string) (OrderResult, bool) {
	result, ok := e.ledger[orderID]
	return result, ok
}

// InventorySnapshot reads current stock for several products in one
// pass. Unknown products are reported as zero.
func (e *Engine) InventorySnapshot(ctx context.Context, productIDs []string) (map[string]int, error) {
	snapshot := make(map[string]int, len(productIDs))
	for _, productID := range productIDs {
		stock, err := e.currentStock(ctx, productID)
		if err != nil {
			if errors.Is(err, ErrProductNotFound) {
				snapshot[productID] = 0
				continue
			}
			return nil, err
		}
		snapshot[productID] = stock
	}
	return snapshot, nil
}
