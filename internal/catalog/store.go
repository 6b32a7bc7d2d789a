package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/noah-isme/brennholz-api/internal/db"
	"github.com/noah-isme/brennholz-api/internal/pricing"
)

// ErrNotFound is returned when a product does not exist or is inactive.
var ErrNotFound = errors.New("product not found")

// Product is a sellable firewood article.
type Product struct {
	ID               string        `json:"id"`
	Slug             string        `json:"slug"`
	Name             string        `json:"name"`
	Unit             string        `json:"unit"`
	BasePrice        pricing.Money `json:"basePrice"`
	MinOrderQuantity int           `json:"minOrderQuantity"`
	DiscountEligible bool          `json:"quantityDiscountEligible"`
	StockQuantity    int           `json:"stockQuantity"`
	Active           bool          `json:"active"`
}

// Store reads products.
type Store interface {
	ListActive(ctx context.Context) ([]Product, error)
	GetBySlug(ctx context.Context, slug string) (Product, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]Product, error)
}

// PGStore implements Store on Postgres.
type PGStore struct {
	DB db.DBTX
}

var _ Store = PGStore{}

const productColumns = `id::text, slug, name, unit, base_price, min_order_quantity,
       quantity_discount_eligible, stock_quantity, active`

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.Unit, &p.BasePrice, &p.MinOrderQuantity,
		&p.DiscountEligible, &p.StockQuantity, &p.Active)
	return p, err
}

// ListActive returns active products ordered by name.
func (s PGStore) ListActive(ctx context.Context) ([]Product, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+productColumns+` FROM products WHERE active ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()
	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetBySlug loads one active product.
func (s PGStore) GetBySlug(ctx context.Context, slug string) (Product, error) {
	p, err := scanProduct(s.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE slug = $1 AND active`, slug))
	if err != nil {
		if db.IsNoRows(err) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// GetByIDs loads products keyed by id, inactive ones included so checkout can
// report them precisely.
func (s PGStore) GetByIDs(ctx context.Context, ids []string) (map[string]Product, error) {
	out := make(map[string]Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.DB.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}
