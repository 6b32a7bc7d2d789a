// Package postorder runs the side effects of a placed order as queue tasks.
// None of them can fail the order: failures are logged, counted and retried
// by the queue.
package postorder

import (
	"github.com/noah-isme/brennholz-api/internal/analytics"
	"github.com/noah-isme/brennholz-api/internal/loyalty"
	"github.com/noah-isme/brennholz-api/internal/notify"
	"github.com/noah-isme/brennholz-api/internal/order"
	"github.com/noah-isme/brennholz-api/internal/pricing"
)

// Task kinds.
const (
	KindOrderEmail        = "order-email"
	KindDiscountUsage     = "discount-usage"
	KindAnalyticsPurchase = "analytics-purchase"
	KindLoyaltyAward      = "loyalty-award"
	KindStockDecrement    = "stock-decrement"
)

// Kinds lists every side effect task kind.
func Kinds() []string {
	return []string{KindOrderEmail, KindDiscountUsage, KindAnalyticsPurchase, KindLoyaltyAward, KindStockDecrement}
}

type discountUsage struct {
	OrderNumber string `json:"orderNumber"`
	Code        string `json:"code"`
}

type loyaltyAward struct {
	CustomerNumber string         `json:"customerNumber"`
	OrderNumber    string         `json:"orderNumber"`
	Total          pricing.Money  `json:"total"`
	Lines          []loyalty.Line `json:"lines"`
}

type stockLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type stockDecrement struct {
	OrderNumber string      `json:"orderNumber"`
	Lines       []stockLine `json:"lines"`
}

// Placed is a committed order together with what its side effects need.
type Placed struct {
	Order           order.Order
	CustomerName    string
	ConfirmationURL string
}

func (p Placed) mail() notify.OrderMail {
	lines := make([]notify.MailLine, 0, len(p.Order.Lines))
	for _, l := range p.Order.Lines {
		lines = append(lines, notify.MailLine{Name: l.ProductName, Unit: l.Unit, Quantity: l.Quantity, UnitPrice: l.UnitPrice, Total: l.TotalPrice})
	}
	return notify.OrderMail{
		OrderNumber:     p.Order.Number,
		Email:           p.Order.CustomerEmail,
		CustomerName:    p.CustomerName,
		Lines:           lines,
		Totals:          p.Order.Totals,
		DiscountCode:    p.Order.DiscountCode,
		PaymentMethod:   p.Order.PaymentMethod,
		DeliveryMethod:  p.Order.DeliveryMethod,
		ConfirmationURL: p.ConfirmationURL,
	}
}

func (p Placed) purchase() analytics.Purchase {
	items := make([]analytics.Item, 0, len(p.Order.Lines))
	for _, l := range p.Order.Lines {
		items = append(items, analytics.Item{ProductID: l.ProductID, Name: l.ProductName, Quantity: l.Quantity, Price: l.UnitPrice})
	}
	return analytics.Purchase{
		OrderNumber: p.Order.Number,
		Currency:    "EUR",
		Value:       p.Order.Totals.Total,
		Tax:         p.Order.Totals.TaxAmount,
		Shipping:    p.Order.Totals.ShippingGross,
		Coupon:      p.Order.DiscountCode,
		Items:       items,
	}
}

func (p Placed) loyalty() loyaltyAward {
	lines := make([]loyalty.Line, 0, len(p.Order.Lines))
	for _, l := range p.Order.Lines {
		lines = append(lines, loyalty.Line{ProductID: l.ProductID, Quantity: l.Quantity, Total: l.TotalPrice})
	}
	return loyaltyAward{
		CustomerNumber: p.Order.CustomerNumber,
		OrderNumber:    p.Order.Number,
		Total:          p.Order.Totals.Total,
		Lines:          lines,
	}
}

func (p Placed) stock() stockDecrement {
	lines := make([]stockLine, 0, len(p.Order.Lines))
	for _, l := range p.Order.Lines {
		if l.ProductID == "" {
			continue
		}
		lines = append(lines, stockLine{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return stockDecrement{OrderNumber: p.Order.Number, Lines: lines}
}
