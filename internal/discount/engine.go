package discount

import (
	"errors"
	"strings"
	"time"

	"github.com/noah-isme/brennholz-api/internal/pricing"
)

var (
	// ErrNotFound is returned when no discount code matches.
	ErrNotFound = errors.New("discount code not found")
	// ErrInactive is returned for disabled codes or before the validity window opens.
	ErrInactive = errors.New("discount code not active")
	// ErrExpired is returned once the validity window has closed.
	ErrExpired = errors.New("discount code expired")
	// ErrUsageLimitReached indicates the code has exhausted its usage quota.
	ErrUsageLimitReached = errors.New("discount code usage limit reached")
	// ErrMinimumOrderUnmet indicates the subtotal is below the code's minimum order amount.
	ErrMinimumOrderUnmet = errors.New("discount code minimum order amount not met")
)

// Code is a stored discount code with its applicability constraints.
type Code struct {
	ID                 string               `json:"id"`
	Code               string               `json:"code"`
	Type               pricing.DiscountType `json:"discountType"`
	Value              pricing.Money        `json:"discountValue"`
	MinimumOrderAmount *pricing.Money       `json:"minimumOrderAmount,omitempty"`
	ValidFrom          time.Time            `json:"validFrom"`
	ValidUntil         time.Time            `json:"validUntil"`
	UsageLimit         *int                 `json:"usageLimit,omitempty"`
	UsageCount         int                  `json:"usageCount"`
	Active             bool                 `json:"active"`
}

// Validate reports whether the code applies at now to an order with the given subtotal.
func (c Code) Validate(now time.Time, subtotal pricing.Money) error {
	if !c.Active || now.Before(c.ValidFrom) {
		return ErrInactive
	}
	if now.After(c.ValidUntil) {
		return ErrExpired
	}
	if c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit {
		return ErrUsageLimitReached
	}
	if c.MinimumOrderAmount != nil && subtotal.LessThan(*c.MinimumOrderAmount) {
		return ErrMinimumOrderUnmet
	}
	return nil
}

// ToPricing converts the code into the calculator's discount input.
func (c Code) ToPricing() *pricing.Discount {
	return &pricing.Discount{Code: c.Code, Type: c.Type, Value: c.Value}
}

// Normalize canonicalises user input before lookup.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Reason maps a validation error to a stable machine readable reason.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInactive):
		return "inactive"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrUsageLimitReached):
		return "usage_limit_reached"
	case errors.Is(err, ErrMinimumOrderUnmet):
		return "minimum_order_not_met"
	default:
		return ""
	}
}
