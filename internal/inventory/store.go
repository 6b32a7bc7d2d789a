package inventory

import (
	"context"
	"fmt"

	"github.com/noah-isme/brennholz-api/internal/db"
)

// Store reads and appends to the inventory ledger.
type Store interface {
	LiveStock(ctx context.Context, productIDs []string) (map[string]LiveStock, error)
	// Reserve appends an out movement only when enough stock remains.
	Reserve(ctx context.Context, q db.DBTX, productID string, qty int, ref string) error
	// Decrement appends an out movement unconditionally.
	Decrement(ctx context.Context, q db.DBTX, productID string, qty int, ref string) error
	// Release returns stock with an in movement.
	Release(ctx context.Context, q db.DBTX, productID string, qty int, ref string) error
	Reconcile(ctx context.Context) (int, error)
}

// PGStore implements Store on Postgres.
type PGStore struct {
	DB db.DBTX
}

var _ Store = PGStore{}

// LiveStock loads the denormalised stock column and the ledger for each product.
func (s PGStore) LiveStock(ctx context.Context, productIDs []string) (map[string]LiveStock, error) {
	out := make(map[string]LiveStock, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}

	rows, err := s.DB.Query(ctx, `
SELECT id::text, name, stock_quantity
FROM products
WHERE id = ANY($1::uuid[])`, productIDs)
	if err != nil {
		return nil, fmt.Errorf("query product stock: %w", err)
	}
	for rows.Next() {
		var (
			id    string
			stock LiveStock
		)
		if err := rows.Scan(&id, &stock.Name, &stock.StockQuantity); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan product stock: %w", err)
		}
		out[id] = stock
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product stock: %w", err)
	}

	rows, err = s.DB.Query(ctx, `
SELECT product_id::text, movement_type, quantity, reference_id, created_at
FROM inventory_movements
WHERE product_id = ANY($1::uuid[])
ORDER BY created_at`, productIDs)
	if err != nil {
		return nil, fmt.Errorf("query movements: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			m    Movement
			kind string
		)
		if err := rows.Scan(&m.ProductID, &kind, &m.Quantity, &m.ReferenceID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		m.Type = MovementType(kind)
		stock := out[m.ProductID]
		stock.Movements = append(stock.Movements, m)
		out[m.ProductID] = stock
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate movements: %w", err)
	}
	return out, nil
}

// Reserve locks the product row, refolds the ledger and appends an out
// movement when at least qty units remain. Must run inside a transaction.
func (s PGStore) Reserve(ctx context.Context, q db.DBTX, productID string, qty int, ref string) error {
	return s.move(ctx, q, productID, MovementOut, qty, ref, true)
}

// Decrement appends an out movement without checking availability.
func (s PGStore) Decrement(ctx context.Context, q db.DBTX, productID string, qty int, ref string) error {
	return s.move(ctx, q, productID, MovementOut, qty, ref, false)
}

// Release appends an in movement returning qty units.
func (s PGStore) Release(ctx context.Context, q db.DBTX, productID string, qty int, ref string) error {
	return s.move(ctx, q, productID, MovementIn, qty, ref, false)
}

func (s PGStore) move(ctx context.Context, q db.DBTX, productID string, kind MovementType, qty int, ref string, guard bool) error {
	if q == nil {
		q = s.DB
	}
	if qty <= 0 {
		return nil
	}

	var column int
	if err := q.QueryRow(ctx, `SELECT stock_quantity FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&column); err != nil {
		if db.IsNoRows(err) {
			return fmt.Errorf("product %s: %w", productID, ErrInsufficientStock)
		}
		return fmt.Errorf("lock product: %w", err)
	}

	var (
		entries int
		ledger  int
	)
	if err := q.QueryRow(ctx, `
SELECT count(*), COALESCE(SUM(CASE WHEN movement_type = 'out' THEN -quantity ELSE quantity END), 0)
FROM inventory_movements
WHERE product_id = $1`, productID).Scan(&entries, &ledger); err != nil {
		return fmt.Errorf("fold ledger: %w", err)
	}

	available := ledger
	if entries == 0 {
		available = column
		// seed the ledger so it stays authoritative after this movement
		if column != 0 {
			if err := insertMovement(ctx, q, productID, MovementAdjustment, column, "", "opening balance"); err != nil {
				return err
			}
		}
	}

	delta := qty
	if kind == MovementOut {
		if guard && available < qty {
			return fmt.Errorf("product %s: requested %d, available %d: %w", productID, qty, available, ErrInsufficientStock)
		}
		delta = -qty
	}

	if err := insertMovement(ctx, q, productID, kind, qty, ref, ""); err != nil {
		return err
	}
	if _, err := q.Exec(ctx, `UPDATE products SET stock_quantity = $2, updated_at = now() WHERE id = $1`, productID, available+delta); err != nil {
		return fmt.Errorf("update stock column: %w", err)
	}
	return nil
}

func insertMovement(ctx context.Context, q db.DBTX, productID string, kind MovementType, qty int, ref, note string) error {
	var refArg, noteArg *string
	if ref != "" {
		refArg = &ref
	}
	if note != "" {
		noteArg = &note
	}
	if _, err := q.Exec(ctx, `
INSERT INTO inventory_movements (product_id, movement_type, quantity, reference_id, note)
VALUES ($1, $2, $3, $4, $5)`, productID, string(kind), qty, refArg, noteArg); err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}
	return nil
}

// Reconcile rewrites products.stock_quantity from the ledger where they drifted
// and returns the number of corrected products.
func (s PGStore) Reconcile(ctx context.Context) (int, error) {
	tag, err := s.DB.Exec(ctx, `
UPDATE products p
SET stock_quantity = l.stock, updated_at = now()
FROM (
    SELECT product_id, SUM(CASE WHEN movement_type = 'out' THEN -quantity ELSE quantity END) AS stock
    FROM inventory_movements
    GROUP BY product_id
) l
WHERE p.id = l.product_id AND p.stock_quantity <> l.stock`)
	if err != nil {
		return 0, fmt.Errorf("reconcile stock: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
