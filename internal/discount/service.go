package discount

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/noah-isme/brennholz-api/internal/db"
	"github.com/noah-isme/brennholz-api/internal/pricing"
)

// PreviewResult describes the outcome of evaluating a code without mutating state.
type PreviewResult struct {
	Code                  string               `json:"code"`
	Type                  pricing.DiscountType `json:"discountType"`
	Value                 pricing.Money        `json:"discountValue"`
	DiscountAmount        pricing.Money        `json:"discountAmount"`
	SubtotalAfterDiscount pricing.Money        `json:"subtotalAfterDiscount"`
}

// MarshalJSON writes the amounts with two decimals. Value stays as entered
// since it may be a percentage.
func (r PreviewResult) MarshalJSON() ([]byte, error) {
	type plain PreviewResult
	return json.Marshal(struct {
		plain
		DiscountAmount        pricing.Cents `json:"discountAmount"`
		SubtotalAfterDiscount pricing.Cents `json:"subtotalAfterDiscount"`
	}{plain(r), pricing.Cents(r.DiscountAmount), pricing.Cents(r.SubtotalAfterDiscount)})
}

// Service evaluates and settles discount codes.
type Service struct {
	Store Store
	Now   func() time.Time
}

// Resolve loads the code and checks it against subtotal. An empty code
// resolves to nil without error.
func (s *Service) Resolve(ctx context.Context, code string, subtotal pricing.Money) (*Code, error) {
	if strings.TrimSpace(code) == "" {
		return nil, nil
	}
	if s == nil || s.Store == nil {
		return nil, errors.New("discount service not configured")
	}
	c, err := s.Store.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(s.now(), subtotal); err != nil {
		return nil, err
	}
	return &c, nil
}

// Preview performs a dry-run evaluation for the given subtotal.
func (s *Service) Preview(ctx context.Context, code string, subtotal pricing.Money) (PreviewResult, error) {
	if strings.TrimSpace(code) == "" {
		return PreviewResult{}, ErrNotFound
	}
	c, err := s.Resolve(ctx, code, subtotal)
	if err != nil {
		return PreviewResult{}, err
	}
	amount := pricing.DiscountAmount(subtotal, c.ToPricing())
	return PreviewResult{
		Code:                  c.Code,
		Type:                  c.Type,
		Value:                 c.Value,
		DiscountAmount:        amount,
		SubtotalAfterDiscount: pricing.Round2(subtotal.Sub(amount)),
	}, nil
}

// RecordUsage increments the usage counter after an order was placed with
// code, on q when it is set.
func (s *Service) RecordUsage(ctx context.Context, q db.DBTX, code string) error {
	if strings.TrimSpace(code) == "" {
		return nil
	}
	if s == nil || s.Store == nil {
		return errors.New("discount service not configured")
	}
	updated, err := s.Store.IncrementUsage(ctx, q, code)
	if err != nil {
		return err
	}
	if !updated {
		return ErrUsageLimitReached
	}
	return nil
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
