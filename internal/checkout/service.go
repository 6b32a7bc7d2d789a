package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/brennholz-api/internal/catalog"
	"github.com/noah-isme/brennholz-api/internal/common"
	"github.com/noah-isme/brennholz-api/internal/customer"
	"github.com/noah-isme/brennholz-api/internal/db"
	"github.com/noah-isme/brennholz-api/internal/discount"
	"github.com/noah-isme/brennholz-api/internal/events"
	"github.com/noah-isme/brennholz-api/internal/inventory"
	"github.com/noah-isme/brennholz-api/internal/lock"
	"github.com/noah-isme/brennholz-api/internal/obs"
	"github.com/noah-isme/brennholz-api/internal/order"
	"github.com/noah-isme/brennholz-api/internal/postorder"
	"github.com/noah-isme/brennholz-api/internal/pricing"
	"github.com/noah-isme/brennholz-api/internal/settings"
)

// Error codes returned by checkout.
const (
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeEmptyCart          = "EMPTY_CART"
	CodeProductUnavailable = "PRODUCT_UNAVAILABLE"
	CodeMinOrderQuantity   = "MIN_ORDER_QUANTITY"
	CodeDiscountInvalid    = "DISCOUNT_INVALID"
	CodeStockConflict      = "STOCK_CONFLICT"
	CodeInProgress         = "CHECKOUT_IN_PROGRESS"
	CodePersistFailed      = "ORDER_PERSIST_FAILED"
)

// maxTxAttempts bounds reruns of the order transaction after a deadlock or
// serialization failure.
const maxTxAttempts = 3

// CartLine is one product and quantity in the cart.
type CartLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Cart is what the quote endpoint prices.
type Cart struct {
	Lines          []CartLine `json:"lines"`
	DiscountCode   string     `json:"discountCode,omitempty"`
	DeliveryMethod string     `json:"deliveryMethod,omitempty"`
}

// PricedLine is a cart line with its band price applied.
type PricedLine struct {
	ProductID      string        `json:"productId"`
	Name           string        `json:"name"`
	Unit           string        `json:"unit"`
	Quantity       int           `json:"quantity"`
	BasePrice      pricing.Money `json:"basePrice"`
	UnitPrice      pricing.Money `json:"unitPrice"`
	LineTotal      pricing.Money `json:"lineTotal"`
	TierName       string        `json:"tierName"`
	AdjustmentText string        `json:"adjustmentText"`
	CanOrder       bool          `json:"canOrder"`
}

// MarshalJSON writes the line amounts with two decimals.
func (l PricedLine) MarshalJSON() ([]byte, error) {
	type plain PricedLine
	return json.Marshal(struct {
		plain
		BasePrice pricing.Cents `json:"basePrice"`
		UnitPrice pricing.Cents `json:"unitPrice"`
		LineTotal pricing.Cents `json:"lineTotal"`
	}{plain(l), pricing.Cents(l.BasePrice), pricing.Cents(l.UnitPrice), pricing.Cents(l.LineTotal)})
}

// Quote is the priced cart.
type Quote struct {
	Lines            []PricedLine   `json:"lines"`
	TotalQuantity    int            `json:"totalQuantity"`
	MinOrderQuantity int            `json:"minOrderQuantity"`
	CanOrder         bool           `json:"canOrder"`
	DiscountCode     string         `json:"discountCode,omitempty"`
	Totals           pricing.Totals `json:"totals"`
}

// Submission is the whole checkout: the cart plus every wizard form.
type Submission struct {
	Lines           []CartLine          `json:"lines"`
	DiscountCode    string              `json:"discountCode,omitempty"`
	Address         AddressForm         `json:"address"`
	Billing         BillingForm         `json:"billing"`
	DeliveryPayment DeliveryPaymentForm `json:"deliveryPayment"`
	Confirm         ConfirmForm         `json:"confirm"`
}

// Result is returned once the order is committed.
type Result struct {
	OrderNumber       string         `json:"orderNumber"`
	Totals            pricing.Totals `json:"totals"`
	ConfirmationToken string         `json:"confirmationToken,omitempty"`
}

// SettingsSource yields the checkout settings snapshot.
type SettingsSource interface {
	Snapshot(ctx context.Context) (settings.Snapshot, error)
}

// ProductSource loads products by id.
type ProductSource interface {
	GetByIDs(ctx context.Context, ids []string) (map[string]catalog.Product, error)
}

// DiscountResolver validates a discount code against a subtotal.
type DiscountResolver interface {
	Resolve(ctx context.Context, code string, subtotal pricing.Money) (*discount.Code, error)
}

// StockGate reads live stock and reserves it inside a transaction.
type StockGate interface {
	LiveStock(ctx context.Context, productIDs []string) (map[string]inventory.LiveStock, error)
	Reserve(ctx context.Context, q db.DBTX, productID string, qty int, ref string) error
}

// CustomerEnsurer upserts the customer by email.
type CustomerEnsurer interface {
	Ensure(ctx context.Context, in customer.Input) (*customer.Customer, error)
}

// OrderCreator inserts an order with its lines.
type OrderCreator interface {
	Create(ctx context.Context, tx pgx.Tx, o *order.Order, next func() string) error
}

// Locker guards a key for the duration of fn.
type Locker interface {
	TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// EventEmitter records domain events.
type EventEmitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Dispatcher schedules post-order side effects.
type Dispatcher interface {
	Dispatch(ctx context.Context, p postorder.Placed)
}

// Service prices carts and places orders.
type Service struct {
	Settings  SettingsSource
	Products  ProductSource
	Discounts DiscountResolver
	Stock     StockGate
	Customers CustomerEnsurer
	Orders    OrderCreator
	DB        db.TxBeginner
	Locker    Locker
	Events    EventEmitter
	Effects   Dispatcher
	Tokens    order.Tokens
	Numbers   order.NumberGenerator
	Policy    pricing.Policy
	Validator *validator.Validate
	Logger    zerolog.Logger

	// ReserveStock reserves stock inside the order transaction. When off,
	// stock is decremented by a side effect task after the order committed.
	ReserveStock bool
	LockTTL      time.Duration
	// ConfirmationURL is the storefront page that shows an order by token.
	ConfirmationURL string
}

// Quote prices the cart for display. It performs no writes and reports a
// cart below the minimum order quantity through CanOrder instead of failing.
func (s *Service) Quote(ctx context.Context, cart Cart) (Quote, error) {
	snap, err := s.Settings.Snapshot(ctx)
	if err != nil {
		return Quote{}, fmt.Errorf("load settings: %w", err)
	}
	q, _, err := s.price(ctx, snap, cart)
	return q, err
}

// ValidateStep checks a single wizard form. Delivery methods are checked
// against the configured shipping table.
func (s *Service) ValidateStep(ctx context.Context, step Step, form any) error {
	var methods []string
	if step == StepDeliveryPayment {
		snap, err := s.Settings.Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		methods = snap.DeliveryMethods()
	}
	w := NewWizard(s.validator(), methods)
	w.Step = step
	return formAppError(w.Advance(form))
}

// Submit places the order. Validation, minimum quantity, discount and stock
// failures abort before any write. Once the order committed, side effects
// are dispatched and never fail the submission.
func (s *Service) Submit(ctx context.Context, sub Submission) (Result, error) {
	ctx, span := obs.StartSpan(ctx, "checkout.submit", attribute.Int("checkout.lines", len(sub.Lines)))
	defer span.End()

	start := time.Now()
	res, err := s.submit(ctx, sub)
	result := outcome(err)
	obs.ObserveCheckout(result, obs.DurationMillis(time.Since(start)))
	span.SetAttributes(attribute.String("checkout.result", result))
	if res.OrderNumber != "" {
		span.SetAttributes(attribute.String("order.number", res.OrderNumber))
	}
	if err != nil && !common.IsAppError(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "checkout failed")
	}
	return res, err
}

func (s *Service) submit(ctx context.Context, sub Submission) (Result, error) {
	snap, err := s.Settings.Snapshot(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load settings: %w", err)
	}

	w := NewWizard(s.validator(), snap.DeliveryMethods())
	for _, form := range []any{sub.Address, sub.Billing, sub.DeliveryPayment, sub.Confirm} {
		if err := w.Advance(form); err != nil {
			return Result{}, formAppError(err)
		}
	}

	cart := Cart{Lines: sub.Lines, DiscountCode: sub.DiscountCode, DeliveryMethod: w.DeliveryPayment.DeliveryMethod}
	q, code, err := s.price(ctx, snap, cart)
	if err != nil {
		return Result{}, err
	}
	if !q.CanOrder {
		return Result{}, common.ValidationError(CodeMinOrderQuantity, "order is below the minimum order quantity", map[string]int{
			"minOrderQuantity": q.MinOrderQuantity,
			"totalQuantity":    q.TotalQuantity,
		})
	}

	requested := requestedStock(q.Lines)
	if err := s.checkStock(ctx, requested, "precheck"); err != nil {
		return Result{}, err
	}

	var res Result
	place := func(ctx context.Context) error {
		var err error
		res, err = s.place(ctx, w, snap, q, code, requested)
		return err
	}
	email := customer.NormalizeEmail(w.Address.Email)
	if s.Locker != nil {
		err = s.Locker.TryWithLock(ctx, lock.CheckoutKey(email), s.lockTTL(), place)
	} else {
		err = place(ctx)
	}
	w.Finish(err)
	if errors.Is(err, lock.ErrHeld) {
		return Result{}, common.ConflictError(CodeInProgress, "a checkout for this email is already in progress", nil)
	}
	return res, err
}

func (s *Service) place(ctx context.Context, w *Wizard, snap settings.Snapshot, q Quote, code *discount.Code, requested []inventory.Requested) (Result, error) {
	addr := w.Address
	o := order.Order{
		CustomerEmail:   customer.NormalizeEmail(addr.Email),
		Status:          order.StatusPending,
		Totals:          q.Totals,
		DeliveryAddress: orderAddress(addr),
		BillingAddress:  orderAddress(w.BillingAddress()),
		PaymentMethod:   w.DeliveryPayment.PaymentMethod,
		DeliveryMethod:  w.DeliveryPayment.DeliveryMethod,
		Notes:           strings.TrimSpace(w.Confirm.Notes),
		StockReserved:   s.ReserveStock,
	}
	if code != nil {
		o.DiscountCode = code.Code
	}
	for _, l := range q.Lines {
		o.Lines = append(o.Lines, order.Line{
			ProductID:   l.ProductID,
			ProductName: l.Name,
			Unit:        l.Unit,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			TotalPrice:  l.LineTotal,
			TaxIncluded: snap.PricesIncludeTax,
			TierName:    l.TierName,
		})
	}

	cust, err := s.Customers.Ensure(ctx, customer.Input{
		Email:      addr.Email,
		FirstName:  addr.FirstName,
		LastName:   addr.LastName,
		Phone:      addr.Phone,
		Street:     addr.Street,
		PostalCode: addr.PostalCode,
		City:       addr.City,
		Country:    addr.Country,
	})
	if err != nil {
		s.Logger.Error().Err(err).Str("email", o.CustomerEmail).Msg("customer_upsert_failed")
		return Result{}, common.InternalError(CodePersistFailed, "order could not be saved, please try again", err)
	}
	if cust != nil {
		o.CustomerID = &cust.ID
		o.CustomerNumber = cust.CustomerNumber
	}

	// Rows are locked in product id order so two carts sharing products
	// cannot wait on each other.
	lockOrder := slices.SortedFunc(slices.Values(requested), func(a, b inventory.Requested) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})
	var reserveFailed *reserveError
	for attempt := 1; ; attempt++ {
		err = db.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
			if err := s.Orders.Create(ctx, tx, &o, s.Numbers.Next); err != nil {
				return err
			}
			if !s.ReserveStock {
				return nil
			}
			for _, r := range lockOrder {
				if err := s.Stock.Reserve(ctx, tx, r.ProductID, r.Quantity, o.Number); err != nil {
					return &reserveError{Requested: r, Err: err}
				}
			}
			return nil
		})
		if attempt >= maxTxAttempts || !db.IsRetryable(err) {
			break
		}
		s.Logger.Warn().Err(err).Int("attempt", attempt).Msg("order_tx_retry")
	}
	if errors.As(err, &reserveFailed) && errors.Is(err, inventory.ErrInsufficientStock) {
		return Result{}, s.reserveConflict(ctx, requested, reserveFailed.Requested)
	}
	if err != nil {
		s.Logger.Error().Err(err).Str("email", o.CustomerEmail).Msg("order_persist_failed")
		return Result{}, common.InternalError(CodePersistFailed, "order could not be saved, please try again", err)
	}

	log := s.Logger.With().Str("order_number", o.Number).Logger()
	log.Info().Str("total", o.Totals.Total.String()).Bool("stock_reserved", o.StockReserved).Msg("order_placed")

	if s.Events != nil {
		payload := map[string]any{
			"orderNumber":   o.Number,
			"customerEmail": o.CustomerEmail,
			"total":         o.Totals.Total,
		}
		if _, err := s.Events.Emit(ctx, events.TopicOrderCreated, o.ID, payload); err != nil {
			log.Warn().Err(err).Msg("order_event_failed")
		}
	}

	token, err := s.Tokens.Issue(o.Number, o.CustomerEmail)
	if err != nil {
		log.Warn().Err(err).Msg("confirmation_token_failed")
		token = ""
	}

	if s.Effects != nil {
		s.Effects.Dispatch(ctx, postorder.Placed{
			Order:           o,
			CustomerName:    strings.TrimSpace(addr.FirstName + " " + addr.LastName),
			ConfirmationURL: s.confirmationLink(token),
		})
	}

	return Result{OrderNumber: o.Number, Totals: o.Totals, ConfirmationToken: token}, nil
}

// price looks up products, applies the band policy with the whole cart
// quantity as min-check quantity and computes totals.
func (s *Service) price(ctx context.Context, snap settings.Snapshot, cart Cart) (Quote, *discount.Code, error) {
	lines := make([]CartLine, 0, len(cart.Lines))
	total := 0
	for _, l := range cart.Lines {
		l.ProductID = strings.TrimSpace(l.ProductID)
		if l.ProductID == "" || l.Quantity <= 0 {
			continue
		}
		lines = append(lines, l)
		total += l.Quantity
	}
	if len(lines) == 0 {
		return Quote{}, nil, common.ValidationError(CodeEmptyCart, "cart is empty", nil)
	}

	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	products, err := s.Products.GetByIDs(ctx, ids)
	if err != nil {
		return Quote{}, nil, fmt.Errorf("load products: %w", err)
	}

	q := Quote{TotalQuantity: total, CanOrder: true}
	var missing []string
	priced := make([]pricing.Line, 0, len(lines))
	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok || !p.Active {
			missing = append(missing, l.ProductID)
			continue
		}
		minQty := p.MinOrderQuantity
		if minQty <= 0 {
			minQty = snap.MinOrderQuantity
		}
		q.MinOrderQuantity = max(q.MinOrderQuantity, minQty)
		up := s.policy().UnitPrice(pricing.UnitPriceInput{
			BasePrice:           p.BasePrice,
			Quantity:            l.Quantity,
			MinOrderQuantity:    minQty,
			QuantityForMinCheck: total,
			DiscountEligible:    p.DiscountEligible,
		})
		pl := pricing.Line{ProductID: p.ID, Name: p.Name, Unit: p.Unit, UnitPrice: up.Price, Quantity: l.Quantity}
		priced = append(priced, pl)
		q.Lines = append(q.Lines, PricedLine{
			ProductID:      p.ID,
			Name:           p.Name,
			Unit:           p.Unit,
			Quantity:       l.Quantity,
			BasePrice:      p.BasePrice,
			UnitPrice:      up.Price,
			LineTotal:      pl.Total(),
			TierName:       up.TierName,
			AdjustmentText: up.AdjustmentText,
			CanOrder:       up.CanOrder,
		})
		q.CanOrder = q.CanOrder && up.CanOrder
	}
	if len(missing) > 0 {
		return Quote{}, nil, common.ValidationError(CodeProductUnavailable, "some products are no longer available", map[string][]string{"productIds": missing})
	}

	shipping := pricing.Money{}
	if method := strings.TrimSpace(cart.DeliveryMethod); method != "" {
		cost, ok := snap.ShippingCost(method)
		if !ok {
			return Quote{}, nil, formAppError(&FormError{Step: StepDeliveryPayment, Fields: []FieldError{{Field: "deliveryMethod", Rule: "oneof"}}})
		}
		shipping = cost
	}

	code, err := s.resolveDiscount(ctx, cart.DiscountCode, pricing.Subtotal(priced))
	if err != nil {
		return Quote{}, nil, err
	}
	var d *pricing.Discount
	if code != nil {
		d = code.ToPricing()
		q.DiscountCode = code.Code
	}
	q.Totals = pricing.ComputeTotals(priced, d, shipping, snap.Tax())
	return q, code, nil
}

func (s *Service) resolveDiscount(ctx context.Context, raw string, subtotal pricing.Money) (*discount.Code, error) {
	raw = discount.Normalize(raw)
	if raw == "" || s.Discounts == nil {
		return nil, nil
	}
	code, err := s.Discounts.Resolve(ctx, raw, subtotal)
	if err != nil {
		if reason := discount.Reason(err); reason != "" {
			return nil, common.ValidationError(CodeDiscountInvalid, err.Error(), map[string]string{"code": raw, "reason": reason})
		}
		return nil, fmt.Errorf("resolve discount: %w", err)
	}
	return code, nil
}

func (s *Service) checkStock(ctx context.Context, requested []inventory.Requested, reason string) error {
	issues, err := s.stockIssues(ctx, requested)
	if err != nil {
		return err
	}
	if len(issues) == 0 {
		return nil
	}
	return stockConflict(issues, reason)
}

func (s *Service) stockIssues(ctx context.Context, requested []inventory.Requested) ([]inventory.Issue, error) {
	ids := make([]string, 0, len(requested))
	for _, r := range requested {
		ids = append(ids, r.ProductID)
	}
	live, err := s.Stock.LiveStock(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load stock: %w", err)
	}
	return inventory.ValidateStock(requested, live), nil
}

// reserveConflict rebuilds the issue list after a reservation lost a race.
func (s *Service) reserveConflict(ctx context.Context, requested []inventory.Requested, failed inventory.Requested) error {
	issues, err := s.stockIssues(ctx, requested)
	if err != nil || len(issues) == 0 {
		issues = []inventory.Issue{{
			ProductID: failed.ProductID,
			Name:      failed.Name,
			Requested: failed.Quantity,
			Kind:      inventory.IssueInsufficient,
		}}
	}
	return stockConflict(issues, "reserve")
}

func stockConflict(issues []inventory.Issue, reason string) error {
	obs.ObserveStockConflict(reason)
	return common.ConflictError(CodeStockConflict, "some products are not available in the requested quantity", map[string]any{"issues": issues}).
		WithErr(&inventory.ConflictError{Issues: issues})
}

// requestedStock sums quantities per product, keeping first-seen order.
func requestedStock(lines []PricedLine) []inventory.Requested {
	idx := make(map[string]int, len(lines))
	out := make([]inventory.Requested, 0, len(lines))
	for _, l := range lines {
		if i, ok := idx[l.ProductID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		idx[l.ProductID] = len(out)
		out = append(out, inventory.Requested{ProductID: l.ProductID, Name: l.Name, Quantity: l.Quantity})
	}
	return out
}

type reserveError struct {
	Requested inventory.Requested
	Err       error
}

func (e *reserveError) Error() string {
	return "reserve " + e.Requested.ProductID + ": " + e.Err.Error()
}

func (e *reserveError) Unwrap() error { return e.Err }

func formAppError(err error) error {
	if err == nil {
		return nil
	}
	var fe *FormError
	if errors.As(err, &fe) {
		return common.ValidationError(CodeValidationFailed, "please check the highlighted fields", map[string]any{
			"step":   fe.Step.String(),
			"fields": fe.Fields,
		})
	}
	if errors.Is(err, ErrOutOfOrder) {
		return common.NewAppError(CodeValidationFailed, err.Error(), http.StatusUnprocessableEntity, err)
	}
	return err
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var appErr *common.AppError
	if errors.As(err, &appErr) && appErr.Code != "" {
		return strings.ToLower(appErr.Code)
	}
	return "error"
}

func orderAddress(a AddressForm) order.Address {
	country := strings.ToUpper(strings.TrimSpace(a.Country))
	if country == "" {
		country = "DE"
	}
	return order.Address{
		FirstName:  strings.TrimSpace(a.FirstName),
		LastName:   strings.TrimSpace(a.LastName),
		Company:    strings.TrimSpace(a.Company),
		Street:     strings.TrimSpace(a.Street),
		PostalCode: strings.TrimSpace(a.PostalCode),
		City:       strings.TrimSpace(a.City),
		Country:    country,
		Email:      customer.NormalizeEmail(a.Email),
		Phone:      strings.TrimSpace(a.Phone),
	}
}

func (s *Service) confirmationLink(token string) string {
	if s.ConfirmationURL == "" || token == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(s.ConfirmationURL, "?") {
		sep = "&"
	}
	return s.ConfirmationURL + sep + "token=" + url.QueryEscape(token)
}

func (s *Service) policy() pricing.Policy {
	if s.Policy != nil {
		return s.Policy
	}
	return pricing.DefaultPolicy
}

func (s *Service) validator() *validator.Validate {
	if s.Validator != nil {
		return s.Validator
	}
	return NewValidator()
}

func (s *Service) lockTTL() time.Duration {
	if s.LockTTL > 0 {
		return s.LockTTL
	}
	return 30 * time.Second
}
