package pricing

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// DiscountType distinguishes percentage from fixed amount discounts.
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Line is a priced cart line.
type Line struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Unit      string `json:"unit"`
	UnitPrice Money  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
}

// Total returns the rounded line total.
func (l Line) Total() Money {
	if l.Quantity <= 0 {
		return zero
	}
	return Round2(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
}

// Discount is an already validated discount to apply to the subtotal.
type Discount struct {
	Code  string       `json:"code"`
	Type  DiscountType `json:"type"`
	Value Money        `json:"value"`
}

// TaxConfig selects how VAT is derived. When PricesIncludeTax is set the
// catalogue prices are gross and tax is extracted from them, otherwise tax is
// added on top.
type TaxConfig struct {
	VATRate          Money `json:"vatRate"`
	PricesIncludeTax bool  `json:"pricesIncludeTax"`
}

// Totals is the monetary breakdown of an order.
type Totals struct {
	Subtotal              Money `json:"subtotal"`
	DiscountAmount        Money `json:"discountAmount"`
	SubtotalAfterDiscount Money `json:"subtotalAfterDiscount"`
	GoodsNet              Money `json:"goodsNet"`
	GoodsGross            Money `json:"goodsGross"`
	GoodsTax              Money `json:"goodsTax"`
	ShippingNet           Money `json:"shippingNet"`
	ShippingGross         Money `json:"shippingGross"`
	ShippingTax           Money `json:"shippingTax"`
	NetTotal              Money `json:"netTotal"`
	TaxAmount             Money `json:"taxAmount"`
	Total                 Money `json:"total"`
	PricesIncludeTax      bool  `json:"pricesIncludeTax"`
	VATRate               Money `json:"vatRate"`
}

// MarshalJSON writes every amount with two decimals.
func (t Totals) MarshalJSON() ([]byte, error) {
	type plain Totals
	return json.Marshal(struct {
		plain
		Subtotal              Cents `json:"subtotal"`
		DiscountAmount        Cents `json:"discountAmount"`
		SubtotalAfterDiscount Cents `json:"subtotalAfterDiscount"`
		GoodsNet              Cents `json:"goodsNet"`
		GoodsGross            Cents `json:"goodsGross"`
		GoodsTax              Cents `json:"goodsTax"`
		ShippingNet           Cents `json:"shippingNet"`
		ShippingGross         Cents `json:"shippingGross"`
		ShippingTax           Cents `json:"shippingTax"`
		NetTotal              Cents `json:"netTotal"`
		TaxAmount             Cents `json:"taxAmount"`
		Total                 Cents `json:"total"`
	}{
		plain(t),
		Cents(t.Subtotal), Cents(t.DiscountAmount), Cents(t.SubtotalAfterDiscount),
		Cents(t.GoodsNet), Cents(t.GoodsGross), Cents(t.GoodsTax),
		Cents(t.ShippingNet), Cents(t.ShippingGross), Cents(t.ShippingTax),
		Cents(t.NetTotal), Cents(t.TaxAmount), Cents(t.Total),
	})
}

// Subtotal sums the rounded line totals.
func Subtotal(lines []Line) Money {
	sum := zero
	for _, l := range lines {
		sum = sum.Add(l.Total())
	}
	return Round2(sum)
}

// DiscountAmount computes the discount for the given subtotal, capped so the
// discounted subtotal never drops below zero.
func DiscountAmount(subtotal Money, d *Discount) Money {
	if d == nil {
		return zero
	}
	var amount Money
	switch d.Type {
	case DiscountPercentage:
		amount = Round2(subtotal.Mul(d.Value).Div(hundred))
	case DiscountFixed:
		amount = Round2(d.Value)
	default:
		return zero
	}
	amount = floorZero(amount)
	if amount.GreaterThan(subtotal) {
		amount = subtotal
	}
	return amount
}

// ComputeTotals derives subtotal, discount, shipping and tax. Every step is
// rounded to the cent before it feeds the next one.
func ComputeTotals(lines []Line, discount *Discount, shipping Money, tax TaxConfig) Totals {
	subtotal := Subtotal(lines)
	discountAmount := DiscountAmount(subtotal, discount)
	after := Round2(floorZero(subtotal.Sub(discountAmount)))
	shipping = Round2(floorZero(shipping))
	rate := tax.VATRate

	t := Totals{
		Subtotal:              subtotal,
		DiscountAmount:        discountAmount,
		SubtotalAfterDiscount: after,
		PricesIncludeTax:      tax.PricesIncludeTax,
		VATRate:               rate,
	}

	if tax.PricesIncludeTax {
		divisor := decimal.NewFromInt(1).Add(rate.Div(hundred))
		t.GoodsGross = after
		t.GoodsNet = Round2(after.Div(divisor))
		t.GoodsTax = Round2(t.GoodsGross.Sub(t.GoodsNet))
		t.ShippingGross = shipping
		t.ShippingNet = Round2(shipping.Div(divisor))
		t.ShippingTax = Round2(t.ShippingGross.Sub(t.ShippingNet))
		t.NetTotal = Round2(t.GoodsNet.Add(t.ShippingNet))
		t.TaxAmount = Round2(t.GoodsTax.Add(t.ShippingTax))
		t.Total = Round2(t.GoodsGross.Add(t.ShippingGross))
		return t
	}

	t.GoodsNet = after
	t.ShippingNet = shipping
	t.NetTotal = Round2(after.Add(shipping))
	t.TaxAmount = Round2(t.NetTotal.Mul(rate).Div(hundred))
	t.GoodsTax = Round2(after.Mul(rate).Div(hundred))
	t.ShippingTax = Round2(t.TaxAmount.Sub(t.GoodsTax))
	t.GoodsGross = Round2(after.Add(t.GoodsTax))
	t.ShippingGross = Round2(shipping.Add(t.ShippingTax))
	t.Total = Round2(t.NetTotal.Add(t.TaxAmount))
	return t
}
