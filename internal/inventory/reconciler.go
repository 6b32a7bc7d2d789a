package inventory

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/brennholz-api/internal/obs"
)

// TaskReconcile is the asynq task type that triggers a stock reconciliation.
const TaskReconcile = "inventory:reconcile"

// NewReconcileTask builds the periodic reconciliation task.
func NewReconcileTask() *asynq.Task {
	return asynq.NewTask(TaskReconcile, nil, asynq.MaxRetry(3), asynq.Timeout(2*time.Minute))
}

// Reconciler corrects drift between the ledger and products.stock_quantity.
type Reconciler struct {
	Store  Store
	Logger zerolog.Logger
}

// Run performs one reconciliation pass.
func (r Reconciler) Run(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := r.Store.Reconcile(ctx)
	if err != nil {
		r.Logger.Error().Err(err).Msg("inventory_reconcile_failed")
		return 0, err
	}
	obs.ObserveReconciled(n)
	r.Logger.Info().Int("corrected", n).Dur("took", time.Since(start)).Msg("inventory_reconciled")
	return n, nil
}

// ProcessTask implements asynq.Handler.
func (r Reconciler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	_, err := r.Run(ctx)
	return err
}
