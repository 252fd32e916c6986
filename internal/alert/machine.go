// Package alert drives one emergency alert attempt from trigger to a
// terminal state: validate, encrypt and store media, register on the
// ledger, await confirmation.
package alert

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"safechain/internal/ledger"
	"safechain/internal/models"
	"safechain/internal/store"
	"safechain/pkg/cache"
	"safechain/pkg/errors"
	"safechain/pkg/metrics"
	"safechain/pkg/vault"
)

// MaxMessageBytes is the on-chain note budget for the alert message.
const MaxMessageBytes = 280

// TriggerRequest carries everything a caller provides when raising an
// alert. AlertID is the idempotency key; when empty the handler layer
// generates one before calling Trigger.
type TriggerRequest struct {
	AlertID    string
	Originator string
	Latitude   float64
	Longitude  float64
	Message    string
	Media      []byte
	Timeout    time.Duration // wall-clock budget; zero means the machine default
}

// Machine runs the per-alert state machine. One logical attempt exists per
// alert ID at a time: concurrent triggers with the same ID join the
// in-flight attempt and observe its outcome.
type Machine struct {
	store          *store.Store
	vault          *vault.Vault
	gateway        *ledger.Gateway
	log            *zap.Logger
	m              *metrics.Metrics
	results        cache.Cache // confirmed alerts, keyed by alert id
	events         EventSink
	notifier       Notifier
	defaultTimeout time.Duration
	confirmTimeout time.Duration

	mu       sync.Mutex
	inflight map[string]*flight
}

// flight is one in-progress attempt shared by every concurrent caller.
type flight struct {
	alertID   string
	done      chan struct{}
	cancel    context.CancelFunc
	submitted atomic.Bool // a submission has left the process
	counted   atomic.Bool // terminal outcome already recorded in metrics

	// set before done is closed
	alert *models.Alert
	err   error
}

// Options tunes the machine.
type Options struct {
	DefaultTimeout time.Duration
	ConfirmTimeout time.Duration

	// ResultCache, when set, keeps confirmed alerts in front of the store.
	ResultCache cache.Cache

	// Events, when set, receives every state transition for live streaming.
	Events EventSink

	// Notifier, when set, is told about terminal outcomes.
	Notifier Notifier
}

// NewMachine creates an alert state machine.
func NewMachine(st *store.Store, v *vault.Vault, gw *ledger.Gateway, log *zap.Logger, m *metrics.Metrics, opts Options) *Machine {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 45 * time.Second
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 30 * time.Second
	}
	return &Machine{
		store:          st,
		vault:          v,
		gateway:        gw,
		log:            log,
		m:              m,
		results:        opts.ResultCache,
		events:         opts.Events,
		notifier:       opts.Notifier,
		defaultTimeout: opts.DefaultTimeout,
		confirmTimeout: opts.ConfirmTimeout,
		inflight:       make(map[string]*flight),
	}
}

// Trigger runs or joins the alert attempt for req.AlertID and blocks until
// a terminal state, the caller's timeout, or cancellation. Validation
// happens before any I/O.
func (m *Machine) Trigger(ctx context.Context, req TriggerRequest) (*models.Alert, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	f, existing, err := m.join(ctx, req)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return m.await(ctx, f, req.Timeout)
}

// join returns either the flight to wait on or, for attempts that already
// reached StateConfirmed (or are non-terminal without a local flight, e.g.
// after a restart), the stored alert.
func (m *Machine) join(ctx context.Context, req TriggerRequest) (*flight, *models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := m.inflight[req.AlertID]; ok {
		return f, nil, nil
	}

	if m.results != nil {
		if v, ok := m.results.Get(ctx, "alert:"+req.AlertID); ok {
			if cached, ok := v.(*models.Alert); ok && cached.State == models.StateConfirmed {
				return nil, cached, nil
			}
		}
	}

	alert, err := m.store.GetAlert(ctx, req.AlertID)
	switch {
	case err == nil && alert.State == models.StateConfirmed:
		return nil, alert, nil
	case err == nil && alert.State == models.StateFailed:
		// Caller-driven retry restarts from scratch.
		if err := m.store.ResetAlert(ctx, req.AlertID); err != nil {
			return nil, nil, err
		}
	case err == nil:
		// Non-terminal with no local flight: another process (or a prior
		// incarnation) owns it. Report the current state, do not start a
		// second submission.
		return nil, alert, nil
	case errors.IsCode(err, errors.CodeNotFound):
		created := &models.Alert{
			AlertID:    req.AlertID,
			Originator: req.Originator,
			Latitude:   req.Latitude,
			Longitude:  req.Longitude,
			Message:    req.Message,
			State:      models.StateCreated,
		}
		if err := m.store.CreateAlert(ctx, created); err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, err
	}

	rctx, rcancel := context.WithCancel(context.Background())
	f := &flight{alertID: req.AlertID, done: make(chan struct{}), cancel: rcancel}
	m.inflight[req.AlertID] = f
	go m.run(rctx, f, req)
	return f, nil, nil
}

// await blocks on the flight. On timeout or cancellation the attempt is
// marked failed locally, but the submission keeps running detached and
// reconciles the record to confirmed if it lands.
func (m *Machine) await(ctx context.Context, f *flight, timeout time.Duration) (*models.Alert, error) {
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.done:
		return f.alert, f.err

	case <-timer.C:
		return m.abandon(f, models.ReasonTimeout, errors.WithCodef(errors.CodeTimeout, "alert %s not terminal within %s", f.alertID, timeout))

	case <-ctx.Done():
		return m.abandon(f, models.ReasonCancelled, errors.WrapCode(ctx.Err(), errors.CodeCancelled, "alert attempt cancelled"))
	}
}

// abandon records a timeout/cancel failure without retracting anything
// already sent to the ledger. Work that has not produced a submission yet
// is cancelled outright.
func (m *Machine) abandon(f *flight, reason models.FailReason, cause *errors.Error) (*models.Alert, error) {
	if !f.submitted.Load() {
		f.cancel()
	}
	ctx := context.Background()
	transitioned, err := m.store.FailIfNonTerminal(ctx, f.alertID, reason, f.submitted.Load())
	if err != nil {
		m.log.Error("recording abandoned attempt failed", zap.String("alert_id", f.alertID), zap.Error(err))
	}
	if transitioned && m.m != nil && f.counted.CompareAndSwap(false, true) {
		m.m.AlertsTotal.WithLabelValues(string(models.StateFailed)).Inc()
	}
	alert, err := m.store.GetAlert(ctx, f.alertID)
	if err != nil {
		return nil, cause
	}
	m.publish(alert.AlertID, alert.State, alert.FailReason, alert.LedgerTxRef)
	return alert, cause
}

// run executes the pipeline on a context independent of the caller's. The
// context stays cancellable while nothing has left the process; once a
// submission is on the wire an abandoning caller must not retract it, so
// abandon only cancels pre-submission work.
func (m *Machine) run(ctx context.Context, f *flight, req TriggerRequest) {
	defer f.cancel()
	alert, err := m.execute(ctx, f, req)

	f.alert, f.err = alert, err
	m.mu.Lock()
	delete(m.inflight, f.alertID)
	m.mu.Unlock()
	close(f.done)

	// Bookkeeping after the fact must not fail just because the attempt
	// itself was cancelled.
	bg := context.Background()
	if alert != nil && alert.State == models.StateConfirmed && m.results != nil {
		m.results.Set(bg, "alert:"+alert.AlertID, alert, time.Hour)
	}
	if alert != nil {
		m.publish(alert.AlertID, alert.State, alert.FailReason, alert.LedgerTxRef)
		if alert.State.Terminal() && m.notifier != nil {
			if err := m.notifier.AlertTerminal(bg, alert.AlertID, string(alert.State), string(alert.FailReason)); err != nil {
				m.log.Warn("terminal notification failed", zap.String("alert_id", alert.AlertID), zap.Error(err))
			}
		}
	}
	if m.m != nil && alert != nil && alert.State.Terminal() && f.counted.CompareAndSwap(false, true) {
		m.m.AlertsTotal.WithLabelValues(string(alert.State)).Inc()
	}
}

func (m *Machine) execute(ctx context.Context, f *flight, req TriggerRequest) (*models.Alert, error) {
	mediaRef := ""
	if len(req.Media) > 0 {
		if err := m.store.UpdateAlertState(ctx, f.alertID, nil, models.StateMediaPending, ""); err != nil {
			return m.fail(ctx, f, models.ReasonMediaStoreError, err)
		}
		m.publish(f.alertID, models.StateMediaPending, "", "")

		obj, err := m.vault.Store(ctx, req.Media)
		if err != nil {
			// The alert is abandoned rather than submitted without its
			// media; the caller must learn the evidence was not recorded.
			return m.fail(ctx, f, models.ReasonMediaStoreError,
				errors.WrapCode(err, errors.CodeMediaStore, "storing alert media failed"))
		}
		if err := m.store.SaveMediaObject(ctx, &models.MediaObject{
			AlertID:     f.alertID,
			PlainDigest: obj.PlainDigest,
			CipherRef:   obj.CipherRef,
			KeyRef:      obj.KeyRef,
		}); err != nil {
			return m.fail(ctx, f, models.ReasonMediaStoreError, err)
		}
		mediaRef = obj.CipherRef
		if m.m != nil {
			m.m.MediaStored.Inc()
		}
	}

	updates := map[string]interface{}{}
	if mediaRef != "" {
		updates["media_ref"] = mediaRef
	}
	if err := m.store.UpdateAlertState(ctx, f.alertID, updates, models.StateLedgerSubmitting, ""); err != nil {
		return m.fail(ctx, f, models.ReasonLedgerUnavailable, err)
	}
	m.publish(f.alertID, models.StateLedgerSubmitting, "", "")

	alert, err := m.store.GetAlert(ctx, f.alertID)
	if err != nil {
		return m.fail(ctx, f, models.ReasonLedgerUnavailable, err)
	}

	f.submitted.Store(true)
	txRef, err := m.gateway.SubmitAlert(ctx, alert)
	if err != nil {
		if errors.IsCode(err, errors.CodeRejected) {
			// The node examined and refused the transaction: nothing was
			// written, and retrying the same envelope is pointless.
			f.submitted.Store(false)
			return m.fail(ctx, f, models.ReasonRejected, err)
		}
		return m.fail(ctx, f, models.ReasonLedgerUnavailable, err)
	}

	// Record the ref before waiting so the reconcile job can pick the
	// transaction up if confirmation is never observed here. The write is
	// conditional: a timeout the waiter recorded meanwhile stays terminal,
	// only a later confirmation may override it.
	recorded, err := m.store.RecordTxRef(ctx, f.alertID, txRef)
	if err != nil {
		m.log.Error("recording tx ref failed", zap.String("alert_id", f.alertID), zap.Error(err))
	}
	if recorded {
		m.publish(f.alertID, models.StateLedgerSubmitting, "", txRef)
	}

	status, confirmErr := m.gateway.AwaitConfirmation(ctx, txRef, m.confirmTimeout)
	switch status {
	case ledger.StatusConfirmed:
		if _, err := m.store.ReconcileConfirmed(ctx, f.alertID, txRef); err != nil {
			return m.fail(ctx, f, models.ReasonLedgerUnavailable, err)
		}
		return m.store.GetAlert(ctx, f.alertID)

	case ledger.StatusFailed:
		// Dropped from the pool: the ledger did not write it.
		f.submitted.Store(false)
		return m.fail(ctx, f, models.ReasonRejected, confirmErr)

	default:
		return m.fail(ctx, f, models.ReasonLedgerUnavailable, confirmErr)
	}
}

// fail records a terminal failure from inside the pipeline and returns the
// stored alert alongside the cause. A confirmation that raced ahead (or a
// timeout recorded by the waiter) is never overwritten. The bookkeeping
// runs on a fresh context so a cancelled attempt still gets recorded.
func (m *Machine) fail(_ context.Context, f *flight, reason models.FailReason, cause error) (*models.Alert, error) {
	ctx := context.Background()
	uncertain := f.submitted.Load()
	if _, err := m.store.FailIfNonTerminal(ctx, f.alertID, reason, uncertain); err != nil {
		m.log.Error("recording failure failed", zap.String("alert_id", f.alertID), zap.Error(err))
	}
	alert, err := m.store.GetAlert(ctx, f.alertID)
	if err != nil {
		return nil, cause
	}
	return alert, cause
}

// GetAlert returns the stored alert for polling callers.
func (m *Machine) GetAlert(ctx context.Context, alertID string) (*models.Alert, error) {
	return m.store.GetAlert(ctx, alertID)
}

func validateRequest(req TriggerRequest) error {
	if req.AlertID == "" {
		return errors.WithCode(errors.CodeValidation, "alert id is required")
	}
	if req.Originator == "" {
		return errors.WithCode(errors.CodeValidation, "originator account is required")
	}
	if math.IsNaN(req.Latitude) || math.IsInf(req.Latitude, 0) ||
		math.IsNaN(req.Longitude) || math.IsInf(req.Longitude, 0) {
		return errors.WithCode(errors.CodeValidation, "coordinates must be finite")
	}
	if req.Latitude < -90 || req.Latitude > 90 {
		return errors.WithCodef(errors.CodeValidation, "latitude %v out of range", req.Latitude)
	}
	if req.Longitude < -180 || req.Longitude > 180 {
		return errors.WithCodef(errors.CodeValidation, "longitude %v out of range", req.Longitude)
	}
	if len(req.Message) > MaxMessageBytes {
		return errors.WithCodef(errors.CodeValidation, "message is %d bytes, limit is %d", len(req.Message), MaxMessageBytes)
	}
	return nil
}
