package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safechain/internal/models"
	"safechain/pkg/errors"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open("", "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	return st
}

func createAlert(t *testing.T, st *Store, state models.AlertState) *models.Alert {
	t.Helper()
	alert := &models.Alert{
		AlertID:    uuid.NewString(),
		Originator: "ACCT-1",
		State:      state,
	}
	require.NoError(t, st.CreateAlert(context.Background(), alert))
	return alert
}

func TestAlertIDIsUnique(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	alert := createAlert(t, st, models.StateCreated)
	err := st.CreateAlert(ctx, &models.Alert{AlertID: alert.AlertID, Originator: "ACCT-2", State: models.StateCreated})
	assert.Error(t, err)
}

func TestFailIfNonTerminal(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	alert := createAlert(t, st, models.StateLedgerSubmitting)

	transitioned, err := st.FailIfNonTerminal(ctx, alert.AlertID, models.ReasonTimeout, true)
	require.NoError(t, err)
	assert.True(t, transitioned)

	got, err := st.GetAlert(ctx, alert.AlertID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, got.State)
	assert.Equal(t, models.ReasonTimeout, got.FailReason)
	assert.True(t, got.WriteUncertain)

	// Terminal states are not failed twice.
	transitioned, err = st.FailIfNonTerminal(ctx, alert.AlertID, models.ReasonCancelled, false)
	require.NoError(t, err)
	assert.False(t, transitioned)
}

func TestConfirmedOverridesTimeoutFailure(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	alert := createAlert(t, st, models.StateLedgerSubmitting)

	_, err := st.FailIfNonTerminal(ctx, alert.AlertID, models.ReasonTimeout, true)
	require.NoError(t, err)

	promoted, err := st.ReconcileConfirmed(ctx, alert.AlertID, "TX-000042")
	require.NoError(t, err)
	assert.True(t, promoted)

	got, err := st.GetAlert(ctx, alert.AlertID)
	require.NoError(t, err)
	assert.Equal(t, models.StateConfirmed, got.State)
	assert.Equal(t, "TX-000042", got.LedgerTxRef)
	assert.Empty(t, got.FailReason)
	assert.False(t, got.WriteUncertain)

	// Idempotent: a second reconcile is a no-op.
	promoted, err = st.ReconcileConfirmed(ctx, alert.AlertID, "TX-000042")
	require.NoError(t, err)
	assert.False(t, promoted)
}

func TestEventsAreAppendOnlyAudit(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	alert := createAlert(t, st, models.StateCreated)

	require.NoError(t, st.UpdateAlertState(ctx, alert.AlertID, nil, models.StateLedgerSubmitting, ""))
	_, err := st.ReconcileConfirmed(ctx, alert.AlertID, "TX-1")
	require.NoError(t, err)

	events, err := st.ListAlertEvents(ctx, alert.AlertID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, models.StateCreated, events[0].State)
	assert.Equal(t, models.StateLedgerSubmitting, events[1].State)
	assert.Equal(t, models.StateConfirmed, events[2].State)
}

func TestRewardUniquePerAlertResponder(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	alert := createAlert(t, st, models.StateConfirmed)

	rec := &models.RewardRecord{AlertID: alert.AlertID, ResponderID: "RESP-1", Amount: 10, IssuanceTxRef: "TX-1"}
	require.NoError(t, st.CreateReward(ctx, rec))

	dup := &models.RewardRecord{AlertID: alert.AlertID, ResponderID: "RESP-1", Amount: 10, IssuanceTxRef: "TX-2"}
	err := st.CreateReward(ctx, dup)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeAlreadyIssued))

	// Different responder on the same alert is fine.
	other := &models.RewardRecord{AlertID: alert.AlertID, ResponderID: "RESP-2", Amount: 10, IssuanceTxRef: "TX-3"}
	assert.NoError(t, st.CreateReward(ctx, other))
}

func TestListUnresolvedAlerts(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	submitting := createAlert(t, st, models.StateLedgerSubmitting)
	require.NoError(t, st.UpdateAlertState(ctx, submitting.AlertID,
		map[string]interface{}{"ledger_tx_ref": "TX-A"}, models.StateLedgerSubmitting, "submitted"))

	uncertain := createAlert(t, st, models.StateLedgerSubmitting)
	require.NoError(t, st.UpdateAlertState(ctx, uncertain.AlertID,
		map[string]interface{}{"ledger_tx_ref": "TX-B"}, models.StateLedgerSubmitting, "submitted"))
	_, err := st.FailIfNonTerminal(ctx, uncertain.AlertID, models.ReasonTimeout, true)
	require.NoError(t, err)

	// Certain failures and confirmed alerts are not swept.
	certain := createAlert(t, st, models.StateLedgerSubmitting)
	_, err = st.FailIfNonTerminal(ctx, certain.AlertID, models.ReasonRejected, false)
	require.NoError(t, err)
	confirmed := createAlert(t, st, models.StateLedgerSubmitting)
	_, err = st.ReconcileConfirmed(ctx, confirmed.AlertID, "TX-C")
	require.NoError(t, err)

	unresolved, err := st.ListUnresolvedAlerts(ctx)
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, a := range unresolved {
		ids[a.AlertID] = true
	}
	assert.True(t, ids[submitting.AlertID])
	assert.True(t, ids[uncertain.AlertID])
	assert.False(t, ids[certain.AlertID])
	assert.False(t, ids[confirmed.AlertID])
}

func TestMediaObjectDuplicateRefIsNoop(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	obj := &models.MediaObject{AlertID: "a-1", PlainDigest: "d", CipherRef: "ref-1", KeyRef: "k"}
	require.NoError(t, st.SaveMediaObject(ctx, obj))
	require.NoError(t, st.SaveMediaObject(ctx, &models.MediaObject{AlertID: "a-1", PlainDigest: "d", CipherRef: "ref-1", KeyRef: "k"}))

	got, err := st.GetMediaObjectByRef(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, "d", got.PlainDigest)
}
