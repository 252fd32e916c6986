package alert

import (
	"context"

	"go.uber.org/zap"

	"safechain/internal/ledger"
	"safechain/internal/models"
	"safechain/internal/store"
	"safechain/pkg/metrics"
)

// Reconciler sweeps alerts whose ledger fate was never observed in-process:
// attempts stuck mid-submission and timeout failures with an uncertain
// write. A transaction that landed after the caller walked away is promoted
// to confirmed; one the pool dropped is settled as a certain failure. It
// also reports (but does not delete) orphaned media objects.
type Reconciler struct {
	store   *store.Store
	gateway *ledger.Gateway
	log     *zap.Logger
	m       *metrics.Metrics
}

// NewReconciler creates the reconciliation job.
func NewReconciler(st *store.Store, gw *ledger.Gateway, log *zap.Logger, m *metrics.Metrics) *Reconciler {
	return &Reconciler{store: st, gateway: gw, log: log, m: m}
}

// Run performs one sweep. Wired into the cron scheduler.
func (r *Reconciler) Run(ctx context.Context) {
	alerts, err := r.store.ListUnresolvedAlerts(ctx)
	if err != nil {
		r.log.Error("listing unresolved alerts failed", zap.Error(err))
		return
	}

	for _, a := range alerts {
		status, err := r.gateway.Status(ctx, a.LedgerTxRef)
		if err != nil {
			r.log.Debug("status sweep lookup failed",
				zap.String("alert_id", a.AlertID),
				zap.String("tx_ref", a.LedgerTxRef),
				zap.Error(err),
			)
			continue
		}
		switch status {
		case ledger.StatusConfirmed:
			promoted, err := r.store.ReconcileConfirmed(ctx, a.AlertID, a.LedgerTxRef)
			if err != nil {
				r.log.Error("reconciling confirmed alert failed", zap.String("alert_id", a.AlertID), zap.Error(err))
				continue
			}
			if promoted {
				r.log.Info("alert confirmed by reconciliation",
					zap.String("alert_id", a.AlertID),
					zap.String("tx_ref", a.LedgerTxRef),
				)
			}
		case ledger.StatusFailed:
			// The pool dropped it: no write happened, the failure is certain.
			if a.State == models.StateLedgerSubmitting {
				if _, err := r.store.FailIfNonTerminal(ctx, a.AlertID, models.ReasonRejected, false); err != nil {
					r.log.Error("settling dropped alert failed", zap.String("alert_id", a.AlertID), zap.Error(err))
				}
			}
		}
	}

	if r.m != nil {
		if n, err := r.store.CountOrphanedMedia(ctx); err == nil {
			r.m.OrphanedMedia.Set(float64(n))
		}
	}
}
