package store

import (
	"context"
	stderrors "errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"safechain/internal/models"
	"safechain/pkg/errors"
	"safechain/pkg/util"
)

// Store persists alerts, media objects and reward records through gorm.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	db, err := util.OpenDatabase(&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}, driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&models.Alert{},
		&models.AlertEvent{},
		&models.MediaObject{},
		&models.RewardRecord{},
	); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// CreateAlert inserts a new alert in StateCreated and records the first
// audit event.
func (s *Store) CreateAlert(ctx context.Context, alert *models.Alert) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(alert).Error; err != nil {
			return err
		}
		return tx.Create(&models.AlertEvent{AlertID: alert.AlertID, State: alert.State}).Error
	})
}

// GetAlert loads an alert by its idempotency key.
func (s *Store) GetAlert(ctx context.Context, alertID string) (*models.Alert, error) {
	var alert models.Alert
	err := s.db.WithContext(ctx).Where("alert_id = ?", alertID).First(&alert).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.WithCodef(errors.CodeNotFound, "alert %s not found", alertID)
	}
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

// ListAlertsByOriginator returns an originator's alert history, newest first.
func (s *Store) ListAlertsByOriginator(ctx context.Context, originator string) ([]models.Alert, error) {
	var alerts []models.Alert
	err := s.db.WithContext(ctx).
		Where("originator = ?", originator).
		Order("created_at DESC").
		Find(&alerts).Error
	return alerts, err
}

// ListAlertEvents returns the transition audit trail for one alert.
func (s *Store) ListAlertEvents(ctx context.Context, alertID string) ([]models.AlertEvent, error) {
	var events []models.AlertEvent
	err := s.db.WithContext(ctx).
		Where("alert_id = ?", alertID).
		Order("id ASC").
		Find(&events).Error
	return events, err
}

// UpdateAlertState applies a transition and appends the audit event.
func (s *Store) UpdateAlertState(ctx context.Context, alertID string, updates map[string]interface{}, state models.AlertState, reason string) error {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["state"] = state
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Alert{}).Where("alert_id = ?", alertID).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errors.WithCodef(errors.CodeNotFound, "alert %s not found", alertID)
		}
		return tx.Create(&models.AlertEvent{AlertID: alertID, State: state, Reason: reason}).Error
	})
}

// FailIfNonTerminal marks an alert failed unless it already reached a
// terminal state. Used by the timeout/cancellation path, which must not
// clobber a confirmation that raced ahead of it.
func (s *Store) FailIfNonTerminal(ctx context.Context, alertID string, reason models.FailReason, writeUncertain bool) (bool, error) {
	var transitioned bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Alert{}).
			Where("alert_id = ? AND state NOT IN ?", alertID, []models.AlertState{models.StateConfirmed, models.StateFailed}).
			Updates(map[string]interface{}{
				"state":           models.StateFailed,
				"fail_reason":     reason,
				"write_uncertain": writeUncertain,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		transitioned = true
		return tx.Create(&models.AlertEvent{AlertID: alertID, State: models.StateFailed, Reason: string(reason)}).Error
	})
	return transitioned, err
}

// ReconcileConfirmed promotes an alert to StateConfirmed. Confirmed is the
// strongest terminal state: it overrides a timeout- or cancel-induced
// failure recorded while the submission was still in flight.
func (s *Store) ReconcileConfirmed(ctx context.Context, alertID, txRef string) (bool, error) {
	var promoted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Alert{}).
			Where("alert_id = ? AND state <> ?", alertID, models.StateConfirmed).
			Updates(map[string]interface{}{
				"state":           models.StateConfirmed,
				"ledger_tx_ref":   txRef,
				"fail_reason":     "",
				"write_uncertain": false,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		promoted = true
		return tx.Create(&models.AlertEvent{AlertID: alertID, State: models.StateConfirmed, Reason: "reconciled"}).Error
	})
	return promoted, err
}

// RecordTxRef attaches the ledger transaction reference to an alert that is
// still in flight. Terminal states are never touched: a timeout the waiter
// already recorded must not be regressed to ledger_submitting.
func (s *Store) RecordTxRef(ctx context.Context, alertID, txRef string) (bool, error) {
	var recorded bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Alert{}).
			Where("alert_id = ? AND state NOT IN ?", alertID, []models.AlertState{models.StateConfirmed, models.StateFailed}).
			Update("ledger_tx_ref", txRef)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		recorded = true
		return tx.Create(&models.AlertEvent{AlertID: alertID, State: models.StateLedgerSubmitting, Reason: "submitted"}).Error
	})
	return recorded, err
}

// ResetAlert returns a failed alert to StateCreated for a caller-driven
// retry, clearing the previous attempt's outcome.
func (s *Store) ResetAlert(ctx context.Context, alertID string) error {
	return s.UpdateAlertState(ctx, alertID, map[string]interface{}{
		"fail_reason":     "",
		"write_uncertain": false,
		"ledger_tx_ref":   "",
	}, models.StateCreated, "retry")
}

// ListUnresolvedAlerts returns alerts the reconciliation job should poll:
// stuck mid-submission, or failed with an uncertain write and a known tx ref.
func (s *Store) ListUnresolvedAlerts(ctx context.Context) ([]models.Alert, error) {
	var alerts []models.Alert
	err := s.db.WithContext(ctx).
		Where("(state = ? OR (state = ? AND write_uncertain = ?)) AND ledger_tx_ref <> ''",
			models.StateLedgerSubmitting, models.StateFailed, true).
		Find(&alerts).Error
	return alerts, err
}

// SaveMediaObject records an encrypted media object. Duplicate cipher refs
// are a no-op: content addressing makes rewrites of identical bytes benign.
func (s *Store) SaveMediaObject(ctx context.Context, obj *models.MediaObject) error {
	err := s.db.WithContext(ctx).Create(obj).Error
	if isUniqueViolation(err) {
		return nil
	}
	return err
}

// GetMediaObjectByRef loads a media object by its cipher ref.
func (s *Store) GetMediaObjectByRef(ctx context.Context, cipherRef string) (*models.MediaObject, error) {
	var obj models.MediaObject
	err := s.db.WithContext(ctx).Where("cipher_ref = ?", cipherRef).First(&obj).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.WithCodef(errors.CodeNotFound, "media object %s not found", cipherRef)
	}
	if err != nil {
		return nil, err
	}
	return &obj, nil
}

// CountOrphanedMedia counts media objects whose alert never reached the
// ledger. They stay retrievable; the number is reported, not acted on.
func (s *Store) CountOrphanedMedia(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.MediaObject{}).
		Joins("JOIN alerts ON alerts.alert_id = media_objects.alert_id").
		Where("alerts.state = ? AND alerts.write_uncertain = ?", models.StateFailed, false).
		Count(&n).Error
	return n, err
}

// GetReward loads the reward record for an (alert, responder) pair.
func (s *Store) GetReward(ctx context.Context, alertID, responderID string) (*models.RewardRecord, error) {
	var rec models.RewardRecord
	err := s.db.WithContext(ctx).
		Where("alert_id = ? AND responder_id = ?", alertID, responderID).
		First(&rec).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.WithCodef(errors.CodeNotFound, "no reward for alert %s responder %s", alertID, responderID)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateReward persists a confirmed issuance. A unique-index violation means
// another issuer won the race and is reported as CodeAlreadyIssued.
func (s *Store) CreateReward(ctx context.Context, rec *models.RewardRecord) error {
	err := s.db.WithContext(ctx).Create(rec).Error
	if isUniqueViolation(err) {
		return errors.WithCodef(errors.CodeAlreadyIssued, "reward already issued for alert %s responder %s", rec.AlertID, rec.ResponderID)
	}
	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
