package checkout

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/brennholz-api/internal/catalog"
	"github.com/noah-isme/brennholz-api/internal/customer"
	"github.com/noah-isme/brennholz-api/internal/db"
	"github.com/noah-isme/brennholz-api/internal/discount"
	"github.com/noah-isme/brennholz-api/internal/events"
	"github.com/noah-isme/brennholz-api/internal/inventory"
	"github.com/noah-isme/brennholz-api/internal/order"
	"github.com/noah-isme/brennholz-api/internal/postorder"
	"github.com/noah-isme/brennholz-api/internal/pricing"
	"github.com/noah-isme/brennholz-api/internal/settings"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type staticSettings settings.Snapshot

func (s staticSettings) Snapshot(context.Context) (settings.Snapshot, error) {
	return settings.Snapshot(s), nil
}

func defaultSnapshot() settings.Snapshot {
	return settings.Snapshot{
		VATRate:          pricing.MustParse("19"),
		PricesIncludeTax: true,
		ShippingCosts: map[string]pricing.Money{
			"standard": pricing.MustParse("43.50"),
			"pickup":   pricing.MustParse("0"),
		},
		MinOrderQuantity: 3,
	}
}

type productMap map[string]catalog.Product

func (p productMap) GetByIDs(_ context.Context, ids []string) (map[string]catalog.Product, error) {
	out := map[string]catalog.Product{}
	for _, id := range ids {
		if prod, ok := p[id]; ok {
			out[id] = prod
		}
	}
	return out, nil
}

func defaultProducts() productMap {
	return productMap{
		"p-buche": {ID: "p-buche", Name: "Buche 33cm", Unit: "SRM", BasePrice: pricing.MustParse("30"), DiscountEligible: true, Active: true},
		"p-eiche": {ID: "p-eiche", Name: "Eiche 25cm", Unit: "SRM", BasePrice: pricing.MustParse("45"), Active: true},
	}
}

type discountMap map[string]discount.Code

func (d discountMap) Resolve(_ context.Context, code string, subtotal pricing.Money) (*discount.Code, error) {
	c, ok := d[code]
	if !ok {
		return nil, discount.ErrNotFound
	}
	if err := c.Validate(time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC), subtotal); err != nil {
		return nil, err
	}
	return &c, nil
}

func defaultDiscounts() discountMap {
	return discountMap{"WINTER10": {
		Code:       "WINTER10",
		Type:       pricing.DiscountPercentage,
		Value:      pricing.MustParse("10"),
		ValidFrom:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ValidUntil: time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		Active:     true,
	}}
}

type reservation struct {
	product string
	qty     int
	ref     string
}

type fakeStock struct {
	mu         sync.Mutex
	live       map[string]inventory.LiveStock
	failFor    string
	transient  []error
	reserved   []reservation
	liveCalled int
}

func (f *fakeStock) LiveStock(_ context.Context, ids []string) (map[string]inventory.LiveStock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.liveCalled++
	out := map[string]inventory.LiveStock{}
	for _, id := range ids {
		if l, ok := f.live[id]; ok {
			out[id] = l
		}
	}
	return out, nil
}

func (f *fakeStock) Reserve(_ context.Context, _ db.DBTX, productID string, qty int, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if productID == f.failFor {
		return inventory.ErrInsufficientStock
	}
	if len(f.transient) > 0 {
		err := f.transient[0]
		f.transient = f.transient[1:]
		return err
	}
	f.reserved = append(f.reserved, reservation{productID, qty, ref})
	return nil
}

func plentyOfStock() *fakeStock {
	return &fakeStock{live: map[string]inventory.LiveStock{
		"p-buche": {Name: "Buche 33cm", StockQuantity: 100},
		"p-eiche": {Name: "Eiche 25cm", StockQuantity: 100},
	}}
}

type fakeCustomers struct {
	denied bool
	err    error
	inputs []customer.Input
}

func (f *fakeCustomers) Ensure(_ context.Context, in customer.Input) (*customer.Customer, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	if f.denied {
		return nil, nil
	}
	return &customer.Customer{ID: "c-1", CustomerNumber: "KD-0001", Email: customer.NormalizeEmail(in.Email)}, nil
}

type fakeOrders struct {
	err     error
	created []order.Order
}

func (f *fakeOrders) Create(_ context.Context, _ pgx.Tx, o *order.Order, next func() string) error {
	if f.err != nil {
		return f.err
	}
	o.Number = next()
	o.ID = "o-" + o.Number
	f.created = append(f.created, *o)
	return nil
}

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(context.Context) error   { t.committed = true; return nil }
func (t *fakeTx) Rollback(context.Context) error { t.rolledBack = true; return nil }

type fakeBeginner struct{ txs []*fakeTx }

func (b *fakeBeginner) Begin(context.Context) (pgx.Tx, error) {
	tx := &fakeTx{}
	b.txs = append(b.txs, tx)
	return tx, nil
}

type recordedEvent struct {
	topic       string
	aggregateID string
	payload     any
}

type fakeEvents struct {
	emitted []recordedEvent
	err     error
}

func (f *fakeEvents) Emit(_ context.Context, topic, aggregateID string, payload any) (events.Event, error) {
	f.emitted = append(f.emitted, recordedEvent{topic, aggregateID, payload})
	return events.Event{Topic: topic, AggregateID: aggregateID}, f.err
}

type fakeDispatcher struct {
	placed []postorder.Placed
}

func (f *fakeDispatcher) Dispatch(_ context.Context, p postorder.Placed) {
	f.placed = append(f.placed, p)
}

type harness struct {
	svc        *Service
	stock      *fakeStock
	customers  *fakeCustomers
	orders     *fakeOrders
	tx         *fakeBeginner
	events     *fakeEvents
	dispatcher *fakeDispatcher
}

func newHarness() *harness {
	h := &harness{
		stock:      plentyOfStock(),
		customers:  &fakeCustomers{},
		orders:     &fakeOrders{},
		tx:         &fakeBeginner{},
		events:     &fakeEvents{},
		dispatcher: &fakeDispatcher{},
	}
	now := func() time.Time { return time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC) }
	h.svc = &Service{
		Settings:        staticSettings(defaultSnapshot()),
		Products:        defaultProducts(),
		Discounts:       defaultDiscounts(),
		Stock:           h.stock,
		Customers:       h.customers,
		Orders:          h.orders,
		DB:              h.tx,
		Events:          h.events,
		Effects:         h.dispatcher,
		Tokens:          order.Tokens{Secret: testSecret, TTL: time.Hour, Now: now},
		Numbers:         order.NumberGenerator{Now: now, Rand: func(int) int { return 42 }},
		Logger:          zerolog.Nop(),
		ReserveStock:    true,
		ConfirmationURL: "https://brennholz.example/bestellung",
	}
	return h
}

func validSubmission() Submission {
	return Submission{
		Lines:        []CartLine{{ProductID: "p-buche", Quantity: 10}},
		DiscountCode: "winter10",
		Address: AddressForm{
			FirstName:  "Anna",
			LastName:   "Berg",
			Email:      "Anna.Berg@Example.de",
			Phone:      "0171 2345678",
			Street:     "Waldweg 3",
			PostalCode: "79098",
			City:       "Freiburg",
		},
		Billing:         BillingForm{SameAsDelivery: true},
		DeliveryPayment: DeliveryPaymentForm{DeliveryMethod: "standard", PaymentMethod: PaymentInvoice},
		Confirm:         ConfirmForm{TermsAccepted: true, Notes: "Bitte hinter das Haus"},
	}
}

var errBoom = errors.New("boom")
