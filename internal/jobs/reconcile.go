package jobs

import (
	"context"
	"time"
)

// StaleReconciler сверяет зависшие платежи со шлюзом.
type StaleReconciler interface {
	ReconcileStale(ctx context.Context, grace time.Duration) (int, error)
}

// ReconcileJob периодически дожимает платежи, по которым не пришёл webhook,
// и операции capture/refund с неизвестным исходом.
type ReconcileJob struct {
	reconciler StaleReconciler
	interval   time.Duration
	grace      time.Duration
}

func NewReconcileJob(reconciler StaleReconciler, interval, grace time.Duration) *ReconcileJob {
	return &ReconcileJob{
		reconciler: reconciler,
		interval:   interval,
		grace:      grace,
	}
}

func (j *ReconcileJob) Name() string { return "payment_reconcile" }

func (j *ReconcileJob) NextRun(now time.Time) time.Time {
	return now.Add(j.interval)
}

func (j *ReconcileJob) Run(ctx context.Context) error {
	_, err := j.reconciler.ReconcileStale(ctx, j.grace)
	return err
}
