// Package reward issues HELP-token rewards to verified responders,
// guarding against double pay at the application layer on top of the
// gateway's lease-based guard.
package reward

import (
	"context"
	"time"

	"go.uber.org/zap"

	"safechain/internal/ledger"
	"safechain/internal/models"
	"safechain/internal/store"
	"safechain/pkg/errors"
	"safechain/pkg/metrics"
)

// Issuer submits reward transactions and tracks issuance records.
type Issuer struct {
	store          *store.Store
	gateway        *ledger.Gateway
	log            *zap.Logger
	m              *metrics.Metrics
	confirmTimeout time.Duration
}

// NewIssuer creates a reward issuer.
func NewIssuer(st *store.Store, gw *ledger.Gateway, log *zap.Logger, m *metrics.Metrics, confirmTimeout time.Duration) *Issuer {
	if confirmTimeout <= 0 {
		confirmTimeout = 30 * time.Second
	}
	return &Issuer{store: st, gateway: gw, log: log, m: m, confirmTimeout: confirmTimeout}
}

// Issue pays a responder for a confirmed response to an alert. At most one
// record ever exists per (alert, responder) pair; a repeat call returns the
// existing record with CodeAlreadyIssued. The record is persisted only
// after the ledger confirms, so a rejected transaction leaves no ghost
// issuance behind.
func (i *Issuer) Issue(ctx context.Context, alertID, responderID string, amount uint64) (*models.RewardRecord, error) {
	if alertID == "" || responderID == "" {
		return nil, errors.WithCode(errors.CodeValidation, "alert id and responder id are required")
	}
	if amount == 0 {
		return nil, errors.WithCode(errors.CodeValidation, "reward amount must be positive")
	}
	if _, err := i.store.GetAlert(ctx, alertID); err != nil {
		return nil, err
	}

	if existing, err := i.store.GetReward(ctx, alertID, responderID); err == nil {
		return existing, errors.WithCodef(errors.CodeAlreadyIssued, "reward already issued for alert %s responder %s", alertID, responderID)
	} else if !errors.IsCode(err, errors.CodeNotFound) {
		return nil, err
	}

	rec := &models.RewardRecord{
		AlertID:     alertID,
		ResponderID: responderID,
		Amount:      amount,
	}

	txRef, err := i.gateway.SubmitReward(ctx, rec)
	if err != nil {
		return nil, err
	}

	status, err := i.gateway.AwaitConfirmation(ctx, txRef, i.confirmTimeout)
	if status != ledger.StatusConfirmed {
		return nil, err
	}

	rec.IssuanceTxRef = txRef
	if err := i.store.CreateReward(ctx, rec); err != nil {
		if errors.IsCode(err, errors.CodeAlreadyIssued) {
			// Lost a race with a concurrent issuer; the lease guarantees
			// both observed the same on-ledger transaction.
			existing, getErr := i.store.GetReward(ctx, alertID, responderID)
			if getErr != nil {
				return nil, getErr
			}
			return existing, err
		}
		return nil, err
	}

	if i.m != nil {
		i.m.RewardsIssued.Inc()
	}
	i.log.Info("reward issued",
		zap.String("alert_id", alertID),
		zap.String("responder_id", responderID),
		zap.Uint64("amount", amount),
		zap.String("tx_ref", txRef),
	)
	return rec, nil
}

// VerifyResponder records a responder's credential proof on the ledger and
// returns the transaction reference.
func (i *Issuer) VerifyResponder(ctx context.Context, responderID, proof string) (string, error) {
	if responderID == "" || proof == "" {
		return "", errors.WithCode(errors.CodeValidation, "responder id and proof are required")
	}
	txRef, err := i.gateway.SubmitResponderVerification(ctx, responderID, proof)
	if err != nil {
		return "", err
	}
	status, err := i.gateway.AwaitConfirmation(ctx, txRef, i.confirmTimeout)
	if status != ledger.StatusConfirmed {
		return "", err
	}
	return txRef, nil
}
