package order

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/brennholz-api/internal/db"
	"github.com/noah-isme/brennholz-api/internal/events"
	"github.com/noah-isme/brennholz-api/internal/obs"
)

// StockReleaser returns reserved stock to the ledger.
type StockReleaser interface {
	Release(ctx context.Context, q db.DBTX, productID string, qty int, ref string) error
}

// EventEmitter publishes domain events.
type EventEmitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Service serves the order read side and admin status changes.
type Service struct {
	Store     Store
	DB        db.TxBeginner
	Inventory StockReleaser
	Events    EventEmitter
	Tokens    Tokens
	Logger    zerolog.Logger
}

// StatusChange is the payload of order status events.
type StatusChange struct {
	OrderNumber   string `json:"orderNumber"`
	CustomerEmail string `json:"customerEmail"`
	From          Status `json:"from"`
	To            Status `json:"to"`
	StockReleased bool   `json:"stockReleased"`
}

// Confirmation returns the order a confirmation token grants access to.
func (s *Service) Confirmation(ctx context.Context, token string) (Order, error) {
	claims, err := s.Tokens.Verify(token)
	if err != nil {
		return Order{}, err
	}
	o, err := s.Store.GetByNumber(ctx, claims.OrderNumber)
	if err != nil {
		return Order{}, err
	}
	if !strings.EqualFold(o.CustomerEmail, claims.Email) {
		return Order{}, ErrInvalidToken
	}
	return o, nil
}

// Get loads an order by number.
func (s *Service) Get(ctx context.Context, number string) (Order, error) {
	return s.Store.GetByNumber(ctx, number)
}

// List pages through orders, optionally filtered by status.
func (s *Service) List(ctx context.Context, status Status, page, perPage int) ([]Order, int, error) {
	if status != "" && !status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return s.Store.List(ctx, status, perPage, (page-1)*perPage)
}

// ChangeStatus moves an order along its lifecycle. Cancelling an order whose
// stock was taken returns every line to the ledger in the same transaction.
func (s *Service) ChangeStatus(ctx context.Context, number string, to Status) (Order, error) {
	if !to.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	var (
		updated  Order
		from     Status
		released bool
	)
	err := db.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		o, err := s.Store.LockByNumber(ctx, tx, number)
		if err != nil {
			return err
		}
		from = o.Status
		if !CanTransition(o.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
		}
		if to == StatusCancelled && o.StockReserved && s.Inventory != nil {
			for _, l := range o.Lines {
				if l.ProductID == "" {
					continue
				}
				if err := s.Inventory.Release(ctx, tx, l.ProductID, l.Quantity, o.Number); err != nil {
					return fmt.Errorf("release stock: %w", err)
				}
			}
			released = true
		}
		if err := s.Store.SetStatus(ctx, tx, o.ID, to); err != nil {
			return err
		}
		o.Status = to
		updated = o
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	obs.ObserveStatusTransition(string(from), string(to))
	s.emit(ctx, StatusChange{
		OrderNumber:   updated.Number,
		CustomerEmail: updated.CustomerEmail,
		From:          from,
		To:            to,
		StockReleased: released,
	})
	return updated, nil
}

func (s *Service) emit(ctx context.Context, change StatusChange) {
	if s.Events == nil {
		return
	}
	topic, ok := events.OrderStatusTopic(string(change.To))
	if !ok {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, change.OrderNumber, change); err != nil {
		s.Logger.Warn().Err(err).Str("order_number", change.OrderNumber).Str("topic", topic).Msg("order_event_failed")
	}
}

// IsClientError reports whether err stems from caller input rather than a failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrInvalidToken)
}
