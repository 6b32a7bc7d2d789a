package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// UnitPriceInput carries what is needed to price one cart line.
//
// QuantityForMinCheck is usually the total cart quantity while Quantity is
// the line quantity; the two only differ for multi-line carts.
type UnitPriceInput struct {
	BasePrice           Money
	Quantity            int
	MinOrderQuantity    int
	QuantityForMinCheck int
	DiscountEligible    bool
}

// UnitPrice is the adjusted unit price and how it was derived.
type UnitPrice struct {
	Price          Money  `json:"price"`
	TierName       string `json:"tierName"`
	AdjustmentText string `json:"adjustmentText"`
	CanOrder       bool   `json:"canOrder"`
}

// Policy prices a single line from its quantity.
type Policy interface {
	UnitPrice(in UnitPriceInput) UnitPrice
}

const (
	TierInvalid  = "Invalid"
	TierSmall    = "Kleinmenge"
	TierStandard = "Normalpreis"
	TierBulk     = "Großmenge"
)

var (
	smallQuantitySurcharge = decimal.RequireFromString("1.30")
	bulkDiscountPerUnit    = decimal.RequireFromString("2.50")
)

// FixedBands is the storefront's quantity band policy. The bands are not read
// from the pricing_tiers table:
//
//	3..6   base price +30%
//	7..24  base price
//	25+    base price -2.50 when the product is discount eligible
type FixedBands struct{}

// DefaultPolicy is the policy used by checkout.
var DefaultPolicy Policy = FixedBands{}

// UnitPrice implements Policy.
func (FixedBands) UnitPrice(in UnitPriceInput) UnitPrice {
	if in.QuantityForMinCheck < in.MinOrderQuantity {
		return UnitPrice{
			Price:          in.BasePrice,
			TierName:       TierInvalid,
			AdjustmentText: fmt.Sprintf("Mindestbestellmenge %d", in.MinOrderQuantity),
			CanOrder:       false,
		}
	}

	q := in.Quantity
	price := in.BasePrice
	tier := TierStandard
	text := "Normalpreis"
	switch {
	case q >= 3 && q <= 6:
		price = in.BasePrice.Mul(smallQuantitySurcharge)
		tier = TierSmall
		text = "30% Zuschlag"
	case q >= 7 && q <= 24:
	case q >= 25 && in.DiscountEligible:
		price = in.BasePrice.Sub(bulkDiscountPerUnit)
		tier = TierBulk
		text = "€2,50 Rabatt"
	case q >= 25:
	default:
		// below 3 with the min check passed on the cart total: no band applies
	}

	return UnitPrice{
		Price:          Round2(floorZero(price)),
		TierName:       tier,
		AdjustmentText: text,
		CanOrder:       true,
	}
}

// ComputeUnitPrice prices a line with DefaultPolicy.
func ComputeUnitPrice(basePrice Money, quantity, minOrderQuantity, quantityForMinCheck int, discountEligible bool) UnitPrice {
	return DefaultPolicy.UnitPrice(UnitPriceInput{
		BasePrice:           basePrice,
		Quantity:            quantity,
		MinOrderQuantity:    minOrderQuantity,
		QuantityForMinCheck: quantityForMinCheck,
		DiscountEligible:    discountEligible,
	})
}
