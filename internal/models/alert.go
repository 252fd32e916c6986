package models

import "time"

// AlertState is the lifecycle position of one alert attempt.
type AlertState string

const (
	StateCreated          AlertState = "created"
	StateMediaPending     AlertState = "media_pending"
	StateLedgerSubmitting AlertState = "ledger_submitting"
	StateConfirmed        AlertState = "confirmed"
	StateFailed           AlertState = "failed"
)

// Terminal reports whether the state admits no further transitions
// (except the confirmed-overrides-timeout reconciliation).
func (s AlertState) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// FailReason distinguishes why an attempt ended in StateFailed.
type FailReason string

const (
	ReasonMediaStoreError   FailReason = "media_store_error"
	ReasonRejected          FailReason = "rejected"
	ReasonLedgerUnavailable FailReason = "ledger_unavailable"
	ReasonTimeout           FailReason = "timeout"
	ReasonCancelled         FailReason = "cancelled"
)

// Alert is one emergency event and its submission lifecycle. Rows are never
// deleted; failed attempts stay queryable for audit and operator retry.
type Alert struct {
	ID         uint       `gorm:"primaryKey"`
	AlertID    string     `gorm:"uniqueIndex;size:64"` // caller-generated idempotency key
	Originator string     `gorm:"index;size:64"`       // ledger account identifier
	Latitude   float64
	Longitude  float64
	Message    string     `gorm:"size:280"`
	MediaRef   string     `gorm:"size:64"`             // cipher_ref of the attached MediaObject, if any
	State      AlertState `gorm:"index;size:24"`
	FailReason FailReason `gorm:"size:24"`

	// WriteUncertain marks failed attempts where a ledger write may have
	// happened but confirmation was never observed. Operators use it to
	// decide whether a manual duplicate check is warranted.
	WriteUncertain bool

	LedgerTxRef string `gorm:"size:64"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AlertEvent is an append-only audit record of one state transition.
type AlertEvent struct {
	ID        uint       `gorm:"primaryKey"`
	AlertID   string     `gorm:"index;size:64"`
	State     AlertState `gorm:"size:24"`
	Reason    string     `gorm:"size:64"`
	CreatedAt time.Time
}

// MediaObject is an encrypted payload plus its plaintext content address.
// Immutable once written. Referenced, never owned, by Alert.MediaRef.
type MediaObject struct {
	ID          uint   `gorm:"primaryKey"`
	AlertID     string `gorm:"index;size:64"`
	PlainDigest string `gorm:"size:64"`
	CipherRef   string `gorm:"uniqueIndex;size:64"`
	KeyRef      string `gorm:"size:64"` // opaque provider reference, never key material
	CreatedAt   time.Time
}

// RewardRecord tracks reward issuance. The composite unique index is the
// application-layer guard against double pay.
type RewardRecord struct {
	ID            uint   `gorm:"primaryKey"`
	AlertID       string `gorm:"uniqueIndex:idx_alert_responder;size:64"`
	ResponderID   string `gorm:"uniqueIndex:idx_alert_responder;size:64"`
	Amount        uint64
	IssuanceTxRef string `gorm:"size:64"`
	CreatedAt     time.Time
}
