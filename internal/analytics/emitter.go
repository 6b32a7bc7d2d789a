// Package analytics forwards purchase conversions to the tracking service.
package analytics

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/noah-isme/brennholz-api/internal/pricing"
	"github.com/noah-isme/brennholz-api/internal/resilience"
)

// Item is one purchased line.
type Item struct {
	ProductID string        `json:"item_id"`
	Name      string        `json:"item_name"`
	Quantity  int           `json:"quantity"`
	Price     pricing.Money `json:"price"`
}

// Purchase is the conversion event sent after an order is placed.
type Purchase struct {
	OrderNumber string        `json:"transaction_id"`
	Currency    string        `json:"currency"`
	Value       pricing.Money `json:"value"`
	Tax         pricing.Money `json:"tax"`
	Shipping    pricing.Money `json:"shipping"`
	Coupon      string        `json:"coupon,omitempty"`
	Items       []Item        `json:"items"`
}

// Emitter publishes purchase events.
type Emitter interface {
	EmitPurchase(ctx context.Context, p Purchase) error
}

// HTTPEmitter posts purchases to a collector endpoint.
type HTTPEmitter struct {
	Client   resilience.HTTPClient
	Endpoint string
	Secret   string
}

// EmitPurchase implements Emitter. The order number doubles as idempotency
// key so a retried task is counted once by the collector.
func (e HTTPEmitter) EmitPurchase(ctx context.Context, p Purchase) error {
	if e.Endpoint == "" {
		return errors.New("analytics: endpoint not configured")
	}
	if p.Currency == "" {
		p.Currency = "EUR"
	}
	return e.Client.PostJSON(ctx, resilience.SignedRequest{
		URL:            e.Endpoint,
		IdempotencyKey: p.OrderNumber,
		Secret:         e.Secret,
		Body:           map[string]any{"event": "purchase", "ecommerce": p},
	}, nil)
}

// LogEmitter records purchases in the log when no collector is configured.
type LogEmitter struct {
	Logger zerolog.Logger
}

// EmitPurchase implements Emitter.
func (l LogEmitter) EmitPurchase(_ context.Context, p Purchase) error {
	l.Logger.Info().Str("order_number", p.OrderNumber).Str("value", p.Value.StringFixed(2)).Int("items", len(p.Items)).Msg("analytics_purchase")
	return nil
}
