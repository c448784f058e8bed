package orderdesk

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresStockTableName   = "orderdesk_stock"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresInventory reads stock levels from a Postgres table. The
// connection and table are initialized lazily on first use.
type PostgresInventory struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresInventory(dsn string) (*PostgresInventory, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresInventory{
		dsn:       dsn,
		tableName: postgresStockTableName,
		openDB:    sql.Open,
	}, nil
}

func (p *PostgresInventory) Stock(ctx context.Context, productID string) (int, error) {
	if p == nil {
		return 0, ErrInvalidInput
	}
	if err := p.ensureReady(); err != nil {
		return 0, Transient(err)
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT quantity FROM %s WHERE product_id = $1", postgresQuoteIdentifier(p.tableName))
	var quantity int
	err := p.db.QueryRowContext(opCtx, query, productID).Scan(&quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("product %s: %w", productID, ErrProductNotFound)
	}
	if err != nil {
		return 0, Transient(err)
	}
	return quantity, nil
}

// SetStock upserts one product's quantity. Used by provisioning
// tooling, not by the fulfillment path, which never writes stock back.
func (p *PostgresInventory) SetStock(ctx context.Context, productID string, quantity int) error {
	if p == nil {
		return ErrInvalidInput
	}
	if err := p.ensureReady(); err != nil {
		return Transient(err)
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (product_id, quantity, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (product_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = NOW()`, postgresQuoteIdentifier(p.tableName))
	_, err := p.db.ExecContext(opCtx, query, productID, quantity)
	if err != nil {
		return Transient(err)
	}
	return nil
}

func (p *PostgresInventory) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *PostgresInventory) ensureReady() error {
	if p == nil {
		return ErrInvalidInput
	}
	p.initOnce.Do(func() {
		db, err := p.openDB("postgres", p.dsn)
		if err != nil {
			p.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				product_id TEXT PRIMARY KEY,
				quantity INTEGER NOT NULL DEFAULT 0,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresQuoteIdentifier(p.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			p.initErr = err
			return
		}
		p.db = db
	})
	return p.initErr
}

func postgresQuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
