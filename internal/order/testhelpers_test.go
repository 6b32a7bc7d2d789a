package order_test

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/brennholz-api/internal/db"
	"github.com/noah-isme/brennholz-api/internal/events"
	"github.com/noah-isme/brennholz-api/internal/order"
)

// fakeTx only tracks commit and rollback; stores under test never touch SQL.
type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(context.Context) error   { t.committed = true; return nil }
func (t *fakeTx) Rollback(context.Context) error { t.rolledBack = true; return nil }

type fakeBeginner struct {
	txs []*fakeTx
}

func (b *fakeBeginner) Begin(context.Context) (pgx.Tx, error) {
	tx := &fakeTx{}
	b.txs = append(b.txs, tx)
	return tx, nil
}

type memStore struct {
	mu     sync.Mutex
	orders map[string]order.Order
}

func newMemStore(orders ...order.Order) *memStore {
	s := &memStore{orders: map[string]order.Order{}}
	for _, o := range orders {
		s.orders[o.Number] = o
	}
	return s
}

func (s *memStore) Create(_ context.Context, _ pgx.Tx, o *order.Order, next func() string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < order.MaxNumberAttempts; i++ {
		n := next()
		if _, taken := s.orders[n]; taken {
			continue
		}
		o.Number = n
		if o.ID == "" {
			o.ID = "id-" + n
		}
		if o.Status == "" {
			o.Status = order.StatusPending
		}
		s.orders[n] = *o
		return nil
	}
	return order.ErrNumberExhausted
}

func (s *memStore) GetByNumber(_ context.Context, number string) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[number]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	return o, nil
}

func (s *memStore) List(_ context.Context, status order.Status, limit, offset int) ([]order.Order, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []order.Order
	for _, o := range s.orders {
		if status == "" || o.Status == status {
			all = append(all, o)
		}
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *memStore) LockByNumber(ctx context.Context, _ db.DBTX, number string) (order.Order, error) {
	return s.GetByNumber(ctx, number)
}

func (s *memStore) SetStatus(_ context.Context, _ db.DBTX, id string, status order.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for n, o := range s.orders {
		if o.ID == id {
			o.Status = status
			s.orders[n] = o
			return nil
		}
	}
	return order.ErrNotFound
}

func (s *memStore) MarkStockReserved(_ context.Context, _ db.DBTX, number string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[number]
	if !ok || o.StockReserved {
		return false, nil
	}
	o.StockReserved = true
	s.orders[number] = o
	return true, nil
}

type release struct {
	ProductID string
	Qty       int
	Ref       string
}

type recordingReleaser struct {
	released []release
}

func (r *recordingReleaser) Release(_ context.Context, _ db.DBTX, productID string, qty int, ref string) error {
	r.released = append(r.released, release{productID, qty, ref})
	return nil
}

type recordingEmitter struct {
	topics []string
	last   any
}

func (e *recordingEmitter) Emit(_ context.Context, topic, aggregateID string, payload any) (events.Event, error) {
	e.topics = append(e.topics, topic)
	e.last = payload
	return events.Event{Topic: topic, AggregateID: aggregateID}, nil
}
