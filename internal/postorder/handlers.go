package postorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/brennholz-api/internal/analytics"
	"github.com/noah-isme/brennholz-api/internal/db"
	"github.com/noah-isme/brennholz-api/internal/discount"
	"github.com/noah-isme/brennholz-api/internal/loyalty"
	"github.com/noah-isme/brennholz-api/internal/notify"
	"github.com/noah-isme/brennholz-api/internal/obs"
	"github.com/noah-isme/brennholz-api/internal/queue"
)

// OrderMailer sends the order confirmation mail.
type OrderMailer interface {
	SendOrderConfirmation(ctx context.Context, m notify.OrderMail) error
}

// UsageRecorder settles discount code usage.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, q db.DBTX, code string) error
}

// StockDecrementer appends unconditional out movements.
type StockDecrementer interface {
	Decrement(ctx context.Context, q db.DBTX, productID string, qty int, ref string) error
}

// OrderFlags flips the once-only flags of an order. Each call reports whether
// the flag was still unset.
type OrderFlags interface {
	MarkStockReserved(ctx context.Context, q db.DBTX, number string) (bool, error)
	MarkDiscountUsageRecorded(ctx context.Context, q db.DBTX, number string) (bool, error)
}

// Handlers executes side effect tasks.
type Handlers struct {
	Mailer    OrderMailer
	Discounts UsageRecorder
	Analytics analytics.Emitter
	Loyalty   loyalty.Client
	Inventory StockDecrementer
	Orders    OrderFlags
	DB        db.TxBeginner
	Logger    zerolog.Logger
}

// For returns the queue handler for kind.
func (h Handlers) For(kind string) (queue.Handler, error) {
	var run func(context.Context, []byte) (string, error)
	switch kind {
	case KindOrderEmail:
		run = h.orderEmail
	case KindDiscountUsage:
		run = h.discountUsage
	case KindAnalyticsPurchase:
		run = h.analyticsPurchase
	case KindLoyaltyAward:
		run = h.loyaltyAward
	case KindStockDecrement:
		run = h.stockDecrement
	default:
		return nil, fmt.Errorf("postorder: unknown task kind %q", kind)
	}
	return func(ctx context.Context, t queue.Task) error {
		number, err := run(ctx, t.Payload)
		if err != nil {
			obs.ObserveSideEffect(kind, "failed")
			h.Logger.Warn().Err(err).Str("kind", kind).Str("order_number", number).Int("attempt", t.Attempt).Msg("side_effect_failed")
			return err
		}
		obs.ObserveSideEffect(kind, "ok")
		return nil
	}, nil
}

func decode[T any](payload []byte) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("postorder: decode payload: %w", err)
	}
	return v, nil
}

func (h Handlers) orderEmail(ctx context.Context, payload []byte) (string, error) {
	m, err := decode[notify.OrderMail](payload)
	if err != nil {
		return "", err
	}
	if h.Mailer == nil {
		return m.OrderNumber, nil
	}
	return m.OrderNumber, h.Mailer.SendOrderConfirmation(ctx, m)
}

// discountUsage counts each order once: the increment commits together with
// the order's usage flag, so a redelivered task is a no-op.
func (h Handlers) discountUsage(ctx context.Context, payload []byte) (string, error) {
	p, err := decode[discountUsage](payload)
	if err != nil {
		return "", err
	}
	if h.Discounts == nil {
		return p.OrderNumber, nil
	}
	if h.DB == nil || h.Orders == nil {
		return p.OrderNumber, errors.New("postorder: discount usage not configured")
	}
	err = db.WithTx(ctx, h.DB, func(tx pgx.Tx) error {
		flipped, err := h.Orders.MarkDiscountUsageRecorded(ctx, tx, p.OrderNumber)
		if err != nil || !flipped {
			return err
		}
		err = h.Discounts.RecordUsage(ctx, tx, p.Code)
		if errors.Is(err, discount.ErrUsageLimitReached) {
			// The order already holds the discount; the counter just stays capped.
			h.Logger.Warn().Str("order_number", p.OrderNumber).Str("code", p.Code).Msg("discount_usage_limit_reached")
			return nil
		}
		return err
	})
	return p.OrderNumber, err
}

func (h Handlers) analyticsPurchase(ctx context.Context, payload []byte) (string, error) {
	p, err := decode[analytics.Purchase](payload)
	if err != nil {
		return "", err
	}
	if h.Analytics == nil {
		return p.OrderNumber, nil
	}
	return p.OrderNumber, h.Analytics.EmitPurchase(ctx, p)
}

func (h Handlers) loyaltyAward(ctx context.Context, payload []byte) (string, error) {
	p, err := decode[loyaltyAward](payload)
	if err != nil {
		return "", err
	}
	if h.Loyalty == nil || p.CustomerNumber == "" {
		return p.OrderNumber, nil
	}
	res, err := h.Loyalty.AwardPoints(ctx, p.CustomerNumber, p.OrderNumber, p.Total, p.Lines)
	if err != nil {
		return p.OrderNumber, err
	}
	h.Logger.Info().Str("order_number", p.OrderNumber).Int("points", res.PointsAwarded).Msg("loyalty_points_awarded")
	return p.OrderNumber, nil
}

// stockDecrement is safe to retry: the order's stock flag is flipped in the
// same transaction as the movements, so a second run finds it set and stops.
func (h Handlers) stockDecrement(ctx context.Context, payload []byte) (string, error) {
	p, err := decode[stockDecrement](payload)
	if err != nil {
		return "", err
	}
	if h.DB == nil || h.Orders == nil || h.Inventory == nil {
		return p.OrderNumber, errors.New("postorder: stock decrement not configured")
	}
	err = db.WithTx(ctx, h.DB, func(tx pgx.Tx) error {
		flipped, err := h.Orders.MarkStockReserved(ctx, tx, p.OrderNumber)
		if err != nil || !flipped {
			return err
		}
		for _, l := range p.Lines {
			if err := h.Inventory.Decrement(ctx, tx, l.ProductID, l.Quantity, p.OrderNumber); err != nil {
				return fmt.Errorf("decrement %s: %w", l.ProductID, err)
			}
		}
		return nil
	})
	return p.OrderNumber, err
}
