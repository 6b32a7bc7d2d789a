package discount

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/brennholz-api/internal/db"
	"github.com/noah-isme/brennholz-api/internal/pricing"
)

// Store reads discount codes and bumps their usage counters.
type Store interface {
	GetByCode(ctx context.Context, code string) (Code, error)
	IncrementUsage(ctx context.Context, q db.DBTX, code string) (bool, error)
}

// PGStore implements Store on Postgres.
type PGStore struct {
	DB db.DBTX
}

const selectCode = `
SELECT id::text, code, discount_type, discount_value, minimum_order_amount,
       valid_from, valid_until, usage_limit, usage_count, active
FROM discount_codes
WHERE upper(code) = $1`

// GetByCode loads a code case-insensitively.
func (s PGStore) GetByCode(ctx context.Context, code string) (Code, error) {
	var (
		c       Code
		kind    string
		minimum decimal.NullDecimal
		limit   *int32
		used    int32
	)
	err := s.DB.QueryRow(ctx, selectCode, Normalize(code)).Scan(
		&c.ID, &c.Code, &kind, &c.Value, &minimum,
		&c.ValidFrom, &c.ValidUntil, &limit, &used, &c.Active,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return Code{}, ErrNotFound
		}
		return Code{}, fmt.Errorf("get discount code: %w", err)
	}
	c.Type = pricing.DiscountType(kind)
	if minimum.Valid {
		m := minimum.Decimal
		c.MinimumOrderAmount = &m
	}
	c.UsageCount = int(used)
	if limit != nil {
		l := int(*limit)
		c.UsageLimit = &l
	}
	return c, nil
}

const incrementUsage = `
UPDATE discount_codes
SET usage_count = usage_count + 1
WHERE upper(code) = $1
  AND (usage_limit IS NULL OR usage_count < usage_limit)`

// IncrementUsage bumps the usage counter unless the limit is already reached.
// It reports whether a row was updated. A nil q runs on the store's pool.
func (s PGStore) IncrementUsage(ctx context.Context, q db.DBTX, code string) (bool, error) {
	if q == nil {
		q = s.DB
	}
	tag, err := q.Exec(ctx, incrementUsage, Normalize(code))
	if err != nil {
		return false, fmt.Errorf("increment discount usage: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

var _ Store = PGStore{}
