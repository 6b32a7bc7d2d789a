package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/brennholz-api/internal/db"
)

// MaxNumberAttempts bounds order number regeneration after collisions.
const MaxNumberAttempts = 5

// ErrNumberExhausted is returned when every generated order number collided.
var ErrNumberExhausted = errors.New("order number attempts exhausted")

// Store persists orders.
type Store interface {
	// Create inserts the order and its lines inside tx. next yields a fresh
	// order number for every attempt.
	Create(ctx context.Context, tx pgx.Tx, o *Order, next func() string) error
	GetByNumber(ctx context.Context, number string) (Order, error)
	List(ctx context.Context, status Status, limit, offset int) ([]Order, int, error)
	LockByNumber(ctx context.Context, q db.DBTX, number string) (Order, error)
	SetStatus(ctx context.Context, q db.DBTX, id string, status Status) error
	MarkStockReserved(ctx context.Context, q db.DBTX, number string) (bool, error)
}

// PGStore implements Store on Postgres.
type PGStore struct {
	DB db.DBTX
}

var _ Store = PGStore{}

const insertOrder = `
INSERT INTO orders (
    order_number, customer_id, customer_email, status, subtotal, discount_code, discount_amount,
    shipping_cost, goods_tax, shipping_tax, tax_amount, total, vat_rate, prices_include_tax,
    totals, stock_reserved, delivery_address, billing_address, payment_method, delivery_method, notes
) VALUES (
    $1, $2, $3, $4, $5, NULLIF($6, ''), $7,
    $8, $9, $10, $11, $12, $13, $14,
    $15, $16, $17, $18, $19, $20, NULLIF($21, '')
)
RETURNING id::text, created_at, updated_at`

const insertLine = `
INSERT INTO order_items (order_id, product_id, product_name, unit, quantity, unit_price, total_price, tax_included, tier_name)
VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6, $7, $8, $9)`

// Create implements Store. Each attempt runs in a savepoint so a number
// collision does not abort the surrounding transaction.
func (s PGStore) Create(ctx context.Context, tx pgx.Tx, o *Order, next func() string) error {
	if o.Status == "" {
		o.Status = StatusPending
	}
	for attempt := 0; attempt < MaxNumberAttempts; attempt++ {
		o.Number = next()
		sp, err := tx.Begin(ctx)
		if err != nil {
			return fmt.Errorf("savepoint: %w", err)
		}
		err = insertOrderRow(ctx, sp, o)
		if err == nil {
			if err := sp.Commit(ctx); err != nil {
				return fmt.Errorf("release savepoint: %w", err)
			}
			return insertLines(ctx, tx, o)
		}
		_ = sp.Rollback(ctx)
		if !db.IsUniqueViolation(err, "orders_order_number_key") {
			return fmt.Errorf("insert order: %w", err)
		}
	}
	return ErrNumberExhausted
}

func insertOrderRow(ctx context.Context, q db.DBTX, o *Order) error {
	t := o.Totals
	return q.QueryRow(ctx, insertOrder,
		o.Number, o.CustomerID, o.CustomerEmail, string(o.Status), t.Subtotal, o.DiscountCode, t.DiscountAmount,
		t.ShippingGross, t.GoodsTax, t.ShippingTax, t.TaxAmount, t.Total, t.VATRate, t.PricesIncludeTax,
		t, o.StockReserved, o.DeliveryAddress, o.BillingAddress, o.PaymentMethod, o.DeliveryMethod, o.Notes,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
}

func insertLines(ctx context.Context, tx pgx.Tx, o *Order) error {
	if len(o.Lines) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range o.Lines {
		batch.Queue(insertLine, o.ID, l.ProductID, l.ProductName, l.Unit, l.Quantity, l.UnitPrice, l.TotalPrice, l.TaxIncluded, l.TierName)
	}
	br := tx.SendBatch(ctx, batch)
	for range o.Lines {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert order line: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("insert order lines: %w", err)
	}
	return nil
}

const orderColumns = `
o.id::text, o.order_number, o.customer_id::text, COALESCE(c.customer_number, ''), o.customer_email, o.status,
o.discount_code, o.totals, o.delivery_address, o.billing_address, o.payment_method, o.delivery_method,
COALESCE(o.notes, ''), o.stock_reserved, o.created_at, o.updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o        Order
		status   string
		discount *string
	)
	err := row.Scan(&o.ID, &o.Number, &o.CustomerID, &o.CustomerNumber, &o.CustomerEmail, &status,
		&discount, &o.Totals, &o.DeliveryAddress, &o.BillingAddress, &o.PaymentMethod, &o.DeliveryMethod,
		&o.Notes, &o.StockReserved, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	o.Status = Status(status)
	if discount != nil {
		o.DiscountCode = *discount
	}
	return o, nil
}

// GetByNumber loads an order with its lines.
func (s PGStore) GetByNumber(ctx context.Context, number string) (Order, error) {
	return getWithLines(ctx, s.DB, number, false)
}

// LockByNumber loads an order with its lines and locks the row until the
// surrounding transaction ends.
func (s PGStore) LockByNumber(ctx context.Context, q db.DBTX, number string) (Order, error) {
	if q == nil {
		q = s.DB
	}
	return getWithLines(ctx, q, number, true)
}

func getWithLines(ctx context.Context, q db.DBTX, number string, lock bool) (Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders o LEFT JOIN customers c ON c.id = o.customer_id WHERE o.order_number = $1`
	if lock {
		query += ` FOR UPDATE OF o`
	}
	o, err := scanOrder(q.QueryRow(ctx, query, number))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Order{}, err
		}
		return Order{}, fmt.Errorf("get order: %w", err)
	}

	rows, err := q.Query(ctx, `
SELECT COALESCE(product_id::text, ''), product_name, unit, quantity, unit_price, total_price, tax_included, tier_name
FROM order_items WHERE order_id = $1 ORDER BY id`, o.ID)
	if err != nil {
		return Order{}, fmt.Errorf("list order lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ProductID, &l.ProductName, &l.Unit, &l.Quantity, &l.UnitPrice, &l.TotalPrice, &l.TaxIncluded, &l.TierName); err != nil {
			return Order{}, fmt.Errorf("scan order line: %w", err)
		}
		o.Lines = append(o.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return Order{}, fmt.Errorf("iterate order lines: %w", err)
	}
	return o, nil
}

// List returns orders newest first, optionally filtered by status, and the
// total number of matches.
func (s PGStore) List(ctx context.Context, status Status, limit, offset int) ([]Order, int, error) {
	var total int
	if err := s.DB.QueryRow(ctx, `SELECT count(*) FROM orders WHERE ($1 = '' OR status = $1)`, string(status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}
	rows, err := s.DB.Query(ctx, `SELECT `+orderColumns+`
FROM orders o LEFT JOIN customers c ON c.id = o.customer_id
WHERE ($1 = '' OR o.status = $1)
ORDER BY o.created_at DESC
LIMIT $2 OFFSET $3`, string(status), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	out := make([]Order, 0, limit)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}

// SetStatus writes a new status.
func (s PGStore) SetStatus(ctx context.Context, q db.DBTX, id string, status Status) error {
	if q == nil {
		q = s.DB
	}
	tag, err := q.Exec(ctx, `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkStockReserved records that stock for the order has been taken from the
// ledger so a cancellation returns it. It reports false when the flag was
// already set, which lets callers take stock at most once.
func (s PGStore) MarkStockReserved(ctx context.Context, q db.DBTX, number string) (bool, error) {
	if q == nil {
		q = s.DB
	}
	tag, err := q.Exec(ctx, `UPDATE orders SET stock_reserved = TRUE, updated_at = now()
WHERE order_number = $1 AND NOT stock_reserved`, number)
	if err != nil {
		return false, fmt.Errorf("mark stock reserved: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkDiscountUsageRecorded flips the order's discount usage flag and reports
// false when it was already set.
func (s PGStore) MarkDiscountUsageRecorded(ctx context.Context, q db.DBTX, number string) (bool, error) {
	if q == nil {
		q = s.DB
	}
	tag, err := q.Exec(ctx, `UPDATE orders SET discount_usage_recorded = TRUE, updated_at = now()
WHERE order_number = $1 AND NOT discount_usage_recorded`, number)
	if err != nil {
		return false, fmt.Errorf("mark discount usage recorded: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
