package postorder

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/brennholz-api/internal/obs"
)

// Enqueuer publishes JSON tasks. queue.Enqueuer implements it.
type Enqueuer interface {
	EnqueueJSON(ctx context.Context, kind, idempotencyKey string, v any) error
}

// Dispatcher enqueues the side effects of a placed order.
type Dispatcher struct {
	Queue   Enqueuer
	Logger  zerolog.Logger
	Timeout time.Duration
}

type job struct {
	kind    string
	payload any
}

func jobsFor(p Placed) []job {
	jobs := []job{
		{KindOrderEmail, p.mail()},
		{KindAnalyticsPurchase, p.purchase()},
	}
	if p.Order.DiscountCode != "" {
		jobs = append(jobs, job{KindDiscountUsage, discountUsage{OrderNumber: p.Order.Number, Code: p.Order.DiscountCode}})
	}
	if p.Order.CustomerNumber != "" {
		jobs = append(jobs, job{KindLoyaltyAward, p.loyalty()})
	}
	if !p.Order.StockReserved {
		jobs = append(jobs, job{KindStockDecrement, p.stock()})
	}
	return jobs
}

// Dispatch enqueues every applicable side effect concurrently and returns
// once all enqueue calls finished. It never fails: an enqueue error is logged
// and counted. The caller's cancellation does not abort enqueueing.
func (d Dispatcher) Dispatch(ctx context.Context, p Placed) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	var g errgroup.Group
	for _, j := range jobsFor(p) {
		g.Go(func() error {
			if err := d.Queue.EnqueueJSON(ctx, j.kind, p.Order.Number, j.payload); err != nil {
				obs.ObserveSideEffect(j.kind, "enqueue_failed")
				d.Logger.Warn().Err(err).Str("order_number", p.Order.Number).Str("kind", j.kind).Msg("side_effect_enqueue_failed")
				return nil
			}
			obs.ObserveSideEffect(j.kind, "enqueued")
			return nil
		})
	}
	_ = g.Wait()
}
