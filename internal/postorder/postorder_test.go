package postorder

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/brennholz-api/internal/analytics"
	"github.com/noah-isme/brennholz-api/internal/db"
	"github.com/noah-isme/brennholz-api/internal/discount"
	"github.com/noah-isme/brennholz-api/internal/loyalty"
	"github.com/noah-isme/brennholz-api/internal/notify"
	"github.com/noah-isme/brennholz-api/internal/order"
	"github.com/noah-isme/brennholz-api/internal/pricing"
	"github.com/noah-isme/brennholz-api/internal/queue"
)

func placedOrder() Placed {
	return Placed{
		Order: order.Order{
			Number:         "BK-202610-0042",
			CustomerNumber: "K-1001",
			CustomerEmail:  "anna@example.de",
			DiscountCode:   "WINTER10",
			PaymentMethod:  "invoice",
			DeliveryMethod: "standard",
			Totals:         pricing.Totals{Total: pricing.MustParse("313.5"), TaxAmount: pricing.MustParse("20.51")},
			Lines: []order.Line{
				{ProductID: "p-1", ProductName: "Buche 33cm", Unit: "SRM", Quantity: 3, UnitPrice: pricing.MustParse("95"), TotalPrice: pricing.MustParse("285")},
			},
		},
		CustomerName: "Anna Berg",
	}
}

type recordingQueue struct {
	mu    sync.Mutex
	kinds []string
	fail  string
}

func (q *recordingQueue) EnqueueJSON(_ context.Context, kind, _ string, _ any) error {
	if kind == q.fail {
		return errors.New("redis down")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.kinds = append(q.kinds, kind)
	return nil
}

func (q *recordingQueue) sorted() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := append([]string(nil), q.kinds...)
	sort.Strings(out)
	return out
}

func TestDispatchEnqueuesEveryApplicableTask(t *testing.T) {
	q := &recordingQueue{}
	Dispatcher{Queue: q, Logger: zerolog.Nop()}.Dispatch(context.Background(), placedOrder())

	require.Equal(t, []string{KindAnalyticsPurchase, KindDiscountUsage, KindLoyaltyAward, KindOrderEmail, KindStockDecrement}, q.sorted())
}

func TestDispatchSkipsInapplicableTasks(t *testing.T) {
	p := placedOrder()
	p.Order.DiscountCode = ""
	p.Order.CustomerNumber = ""
	p.Order.StockReserved = true

	q := &recordingQueue{}
	Dispatcher{Queue: q, Logger: zerolog.Nop()}.Dispatch(context.Background(), p)

	require.Equal(t, []string{KindAnalyticsPurchase, KindOrderEmail}, q.sorted())
}

func TestDispatchSurvivesEnqueueFailureAndCancelledContext(t *testing.T) {
	q := &recordingQueue{fail: KindOrderEmail}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	Dispatcher{Queue: q, Logger: zerolog.Nop()}.Dispatch(ctx, placedOrder())

	require.NotContains(t, q.sorted(), KindOrderEmail)
	require.Contains(t, q.sorted(), KindLoyaltyAward)
}

func TestDispatchWithRedisQueueDeduplicatesPerOrder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	d := Dispatcher{Queue: queue.Enqueuer{R: client, Prefix: "bk"}, Logger: zerolog.Nop()}
	d.Dispatch(context.Background(), placedOrder())
	d.Dispatch(context.Background(), placedOrder())

	for _, kind := range Kinds() {
		n, err := client.ZCard(context.Background(), "bk:queue:"+kind).Result()
		require.NoError(t, err)
		require.EqualValues(t, 1, n, kind)
	}
}

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
	onCommit   []func()
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	for _, fn := range t.onCommit {
		fn()
	}
	return nil
}

func (t *fakeTx) Rollback(context.Context) error { t.rolledBack = true; return nil }

type fakeBeginner struct{ txs []*fakeTx }

func (b *fakeBeginner) Begin(context.Context) (pgx.Tx, error) {
	tx := &fakeTx{}
	b.txs = append(b.txs, tx)
	return tx, nil
}

type flagStore struct{ reserved, counted map[string]bool }

func newFlagStore() *flagStore {
	return &flagStore{reserved: map[string]bool{}, counted: map[string]bool{}}
}

func (s *flagStore) MarkStockReserved(_ context.Context, _ db.DBTX, number string) (bool, error) {
	if s.reserved[number] {
		return false, nil
	}
	s.reserved[number] = true
	return true, nil
}

// MarkDiscountUsageRecorded only keeps the flag when the surrounding
// transaction commits, like the Postgres row would.
func (s *flagStore) MarkDiscountUsageRecorded(_ context.Context, q db.DBTX, number string) (bool, error) {
	if s.counted[number] {
		return false, nil
	}
	tx, ok := q.(*fakeTx)
	if !ok {
		return false, errors.New("flag must be set inside a transaction")
	}
	tx.onCommit = append(tx.onCommit, func() { s.counted[number] = true })
	return true, nil
}

type movement struct {
	product string
	qty     int
	ref     string
}

type recordingInventory struct {
	moves []movement
	err   error
}

func (r *recordingInventory) Decrement(_ context.Context, _ db.DBTX, productID string, qty int, ref string) error {
	if r.err != nil {
		return r.err
	}
	r.moves = append(r.moves, movement{productID, qty, ref})
	return nil
}

func task(t *testing.T, v any) queue.Task {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return queue.Task{Payload: raw, Attempt: 1}
}

func TestStockDecrementRunsOnce(t *testing.T) {
	beginner := &fakeBeginner{}
	inv := &recordingInventory{}
	h := Handlers{Inventory: inv, Orders: newFlagStore(), DB: beginner, Logger: zerolog.Nop()}
	run, err := h.For(KindStockDecrement)
	require.NoError(t, err)

	tk := task(t, placedOrder().stock())
	require.NoError(t, run(context.Background(), tk))
	require.NoError(t, run(context.Background(), tk))

	require.Equal(t, []movement{{"p-1", 3, "BK-202610-0042"}}, inv.moves)
	require.Len(t, beginner.txs, 2)
	require.True(t, beginner.txs[0].committed)
}

func TestStockDecrementFailureRollsBack(t *testing.T) {
	beginner := &fakeBeginner{}
	h := Handlers{
		Inventory: &recordingInventory{err: errors.New("boom")},
		Orders:    newFlagStore(),
		DB:        beginner,
		Logger:    zerolog.Nop(),
	}
	run, err := h.For(KindStockDecrement)
	require.NoError(t, err)

	require.Error(t, run(context.Background(), task(t, placedOrder().stock())))
	require.True(t, beginner.txs[0].rolledBack)
	require.False(t, beginner.txs[0].committed)
}

type usageFunc func(ctx context.Context, q db.DBTX, code string) error

func (f usageFunc) RecordUsage(ctx context.Context, q db.DBTX, code string) error { return f(ctx, q, code) }

func TestDiscountUsageLimitIsNotRetried(t *testing.T) {
	var seen string
	beginner := &fakeBeginner{}
	h := Handlers{Discounts: usageFunc(func(_ context.Context, _ db.DBTX, code string) error {
		seen = code
		return discount.ErrUsageLimitReached
	}), Orders: newFlagStore(), DB: beginner, Logger: zerolog.Nop()}
	run, err := h.For(KindDiscountUsage)
	require.NoError(t, err)

	require.NoError(t, run(context.Background(), task(t, discountUsage{OrderNumber: "BK-202610-0042", Code: "WINTER10"})))
	require.Equal(t, "WINTER10", seen)
	require.True(t, beginner.txs[0].committed)
}

func TestDiscountUsageCountsEachOrderOnce(t *testing.T) {
	beginner := &fakeBeginner{}
	var counted []db.DBTX
	h := Handlers{Discounts: usageFunc(func(_ context.Context, q db.DBTX, _ string) error {
		counted = append(counted, q)
		return nil
	}), Orders: newFlagStore(), DB: beginner, Logger: zerolog.Nop()}
	run, err := h.For(KindDiscountUsage)
	require.NoError(t, err)

	tk := task(t, discountUsage{OrderNumber: "BK-202610-0042", Code: "WINTER10"})
	require.NoError(t, run(context.Background(), tk))
	require.NoError(t, run(context.Background(), tk))

	require.Len(t, counted, 1)
	require.Same(t, beginner.txs[0], counted[0])
	require.Len(t, beginner.txs, 2)
}

func TestDiscountUsageFailureLeavesOrderUncounted(t *testing.T) {
	beginner := &fakeBeginner{}
	calls := 0
	h := Handlers{Discounts: usageFunc(func(context.Context, db.DBTX, string) error {
		calls++
		if calls == 1 {
			return errors.New("connection reset")
		}
		return nil
	}), Orders: newFlagStore(), DB: beginner, Logger: zerolog.Nop()}
	run, err := h.For(KindDiscountUsage)
	require.NoError(t, err)

	tk := task(t, discountUsage{OrderNumber: "BK-202610-0042", Code: "WINTER10"})
	require.Error(t, run(context.Background(), tk))
	require.True(t, beginner.txs[0].rolledBack)

	require.NoError(t, run(context.Background(), tk))
	require.Equal(t, 2, calls)
	require.True(t, beginner.txs[1].committed)
}

type loyaltyFunc func(customer, number string, total pricing.Money, lines []loyalty.Line) (loyalty.Result, error)

func (f loyaltyFunc) AwardPoints(_ context.Context, customer, number string, total pricing.Money, lines []loyalty.Line) (loyalty.Result, error) {
	return f(customer, number, total, lines)
}

func TestLoyaltyAwardFailureIsReturnedForRetry(t *testing.T) {
	calls := 0
	h := Handlers{Loyalty: loyaltyFunc(func(customer, number string, total pricing.Money, lines []loyalty.Line) (loyalty.Result, error) {
		calls++
		require.Equal(t, "K-1001", customer)
		require.True(t, total.Equal(pricing.MustParse("313.5")))
		require.Len(t, lines, 1)
		return loyalty.Result{}, loyalty.ErrRejected
	}), Logger: zerolog.Nop()}
	run, err := h.For(KindLoyaltyAward)
	require.NoError(t, err)

	require.ErrorIs(t, run(context.Background(), task(t, placedOrder().loyalty())), loyalty.ErrRejected)
	require.Equal(t, 1, calls)
}

type mailFunc func(m notify.OrderMail) error

func (f mailFunc) SendOrderConfirmation(_ context.Context, m notify.OrderMail) error { return f(m) }

type purchaseFunc func(p analytics.Purchase) error

func (f purchaseFunc) EmitPurchase(_ context.Context, p analytics.Purchase) error { return f(p) }

func TestMailAndAnalyticsPayloads(t *testing.T) {
	var mail notify.OrderMail
	var purchase analytics.Purchase
	h := Handlers{
		Mailer:    mailFunc(func(m notify.OrderMail) error { mail = m; return nil }),
		Analytics: purchaseFunc(func(p analytics.Purchase) error { purchase = p; return nil }),
		Logger:    zerolog.Nop(),
	}
	p := placedOrder()

	run, err := h.For(KindOrderEmail)
	require.NoError(t, err)
	require.NoError(t, run(context.Background(), task(t, p.mail())))
	require.Equal(t, "anna@example.de", mail.Email)
	require.Equal(t, "Anna Berg", mail.CustomerName)
	require.Len(t, mail.Lines, 1)

	run, err = h.For(KindAnalyticsPurchase)
	require.NoError(t, err)
	require.NoError(t, run(context.Background(), task(t, p.purchase())))
	require.Equal(t, "BK-202610-0042", purchase.OrderNumber)
	require.Equal(t, "WINTER10", purchase.Coupon)
	require.True(t, purchase.Value.Equal(pricing.MustParse("313.5")))
}

func TestUnknownKind(t *testing.T) {
	_, err := Handlers{}.For("nope")
	require.Error(t, err)
}
