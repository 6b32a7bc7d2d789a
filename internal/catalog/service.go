package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/noah-isme/brennholz-api/internal/cache"
	"github.com/noah-isme/brennholz-api/internal/common"
	"github.com/noah-isme/brennholz-api/internal/pricing"
)

// Service serves product data through the JSON cache.
type Service struct {
	Store  Store
	Cache  *cache.JSON
	Policy pricing.Policy
}

// TierRow is one entry of the quantity price table shown on a product page.
type TierRow struct {
	FromQuantity int           `json:"fromQuantity"`
	ToQuantity   *int          `json:"toQuantity,omitempty"`
	Price        pricing.Money `json:"price"`
	TierName     string        `json:"tierName"`
	Adjustment   string        `json:"adjustment"`
}

// MarshalJSON writes the band price with two decimals.
func (r TierRow) MarshalJSON() ([]byte, error) {
	type plain TierRow
	return json.Marshal(struct {
		plain
		Price pricing.Cents `json:"price"`
	}{plain(r), pricing.Cents(r.Price)})
}

// ProductDetail is a product together with its quantity price table.
type ProductDetail struct {
	Product
	Tiers []TierRow `json:"tiers"`
}

// Products lists active products.
func (s *Service) Products(ctx context.Context) ([]Product, error) {
	return cache.Remember(ctx, s.Cache, "products", s.Store.ListActive)
}

// Product loads an active product by slug.
func (s *Service) Product(ctx context.Context, slug string) (ProductDetail, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return ProductDetail{}, common.NewAppError("BAD_REQUEST", "slug is required", http.StatusBadRequest, nil)
	}
	p, err := cache.Remember(ctx, s.Cache, "product:"+slug, func(ctx context.Context) (Product, error) {
		return s.Store.GetBySlug(ctx, slug)
	})
	if err != nil {
		return ProductDetail{}, mapError(err)
	}
	return ProductDetail{Product: p, Tiers: s.tierTable(p)}, nil
}

// Price computes the unit price for quantity of the product. cartQuantity is
// the total cart quantity used for the minimum order check; zero means the
// line quantity alone.
func (s *Service) Price(ctx context.Context, slug string, quantity, cartQuantity int) (pricing.UnitPrice, error) {
	if quantity <= 0 {
		return pricing.UnitPrice{}, common.ValidationError("INVALID_QUANTITY", "quantity must be positive", nil)
	}
	detail, err := s.Product(ctx, slug)
	if err != nil {
		return pricing.UnitPrice{}, err
	}
	if cartQuantity <= 0 {
		cartQuantity = quantity
	}
	return s.policy().UnitPrice(pricing.UnitPriceInput{
		BasePrice:           detail.BasePrice,
		Quantity:            quantity,
		MinOrderQuantity:    detail.MinOrderQuantity,
		QuantityForMinCheck: cartQuantity,
		DiscountEligible:    detail.DiscountEligible,
	}), nil
}

func (s *Service) tierTable(p Product) []TierRow {
	six, twentyFour := 6, 24
	bands := []struct {
		from int
		to   *int
	}{{3, &six}, {7, &twentyFour}, {25, nil}}

	rows := make([]TierRow, 0, len(bands))
	for _, b := range bands {
		if b.to != nil && *b.to < p.MinOrderQuantity {
			continue
		}
		from := max(b.from, p.MinOrderQuantity)
		up := s.policy().UnitPrice(pricing.UnitPriceInput{
			BasePrice:           p.BasePrice,
			Quantity:            from,
			MinOrderQuantity:    p.MinOrderQuantity,
			QuantityForMinCheck: from,
			DiscountEligible:    p.DiscountEligible,
		})
		rows = append(rows, TierRow{FromQuantity: from, ToQuantity: b.to, Price: up.Price, TierName: up.TierName, Adjustment: up.AdjustmentText})
	}
	return rows
}

func (s *Service) policy() pricing.Policy {
	if s.Policy != nil {
		return s.Policy
	}
	return pricing.DefaultPolicy
}

func mapError(err error) error {
	if errors.Is(err, ErrNotFound) {
		return common.NewAppError("NOT_FOUND", "product not found", http.StatusNotFound, err)
	}
	return err
}
