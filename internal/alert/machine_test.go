package alert

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"safechain/internal/ledger"
	"safechain/internal/ledger/ledgertest"
	"safechain/internal/models"
	"safechain/internal/store"
	"safechain/pkg/errors"
	"safechain/pkg/hashstore"
	"safechain/pkg/metrics"
	"safechain/pkg/vault"
)

type fixture struct {
	node    *ledgertest.Node
	store   *store.Store
	vault   *vault.Vault
	metrics *metrics.Metrics
	machine *Machine
}

func newFixture(t *testing.T, media hashstore.Store) *fixture {
	t.Helper()
	node := ledgertest.Start()
	t.Cleanup(node.Close)

	st, err := store.Open("", "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)

	if media == nil {
		media = hashstore.NewMemoryStore()
	}
	v := vault.New(media, vault.NewMemoryKeyProvider())

	m := metrics.New()
	gw := ledger.New(ledger.Config{
		BaseURL:      node.URL(),
		AppID:        7,
		MaxAttempts:  3,
		BaseDelay:    time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	}, zap.NewNop(), m)

	machine := NewMachine(st, v, gw, zap.NewNop(), m, Options{
		DefaultTimeout: 5 * time.Second,
		ConfirmTimeout: time.Second,
	})
	return &fixture{node: node, store: st, vault: v, metrics: m, machine: machine}
}

// waitForState polls until the stored alert reaches the wanted state.
func waitForState(t *testing.T, st *store.Store, alertID string, want models.AlertState) *models.Alert {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		a, err := st.GetAlert(context.Background(), alertID)
		require.NoError(t, err)
		if a.State == want {
			return a
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("alert %s never reached state %s", alertID, want)
	return nil
}

func baseRequest() TriggerRequest {
	return TriggerRequest{
		AlertID:    uuid.NewString(),
		Originator: "ACCT-ORIGINATOR",
		Latitude:   40.7128,
		Longitude:  -74.0060,
		Message:    "fire on 5th floor",
	}
}

func TestTriggerConfirmed(t *testing.T) {
	fx := newFixture(t, nil)

	alert, err := fx.machine.Trigger(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.Equal(t, models.StateConfirmed, alert.State)
	assert.NotEmpty(t, alert.LedgerTxRef)
	assert.False(t, alert.WriteUncertain)

	events, err := fx.store.ListAlertEvents(context.Background(), alert.AlertID)
	require.NoError(t, err)
	var states []models.AlertState
	for _, e := range events {
		states = append(states, e.State)
	}
	assert.Equal(t, []models.AlertState{
		models.StateCreated,
		models.StateLedgerSubmitting,
		models.StateLedgerSubmitting,
		models.StateConfirmed,
	}, states)
}

func TestMessageBoundary(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	ok := baseRequest()
	ok.Message = strings.Repeat("a", MaxMessageBytes)
	alert, err := fx.machine.Trigger(ctx, ok)
	require.NoError(t, err)
	assert.Equal(t, models.StateConfirmed, alert.State)

	attempts := fx.node.SubmitAttempts()

	tooLong := baseRequest()
	tooLong.Message = strings.Repeat("a", MaxMessageBytes+1)
	_, err = fx.machine.Trigger(ctx, tooLong)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
	assert.Equal(t, attempts, fx.node.SubmitAttempts(), "validation failures must not reach the network")
}

func TestCoordinateValidation(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	for _, tc := range []struct {
		name     string
		lat, lng float64
	}{
		{"latitude too high", 90.5, 0},
		{"latitude too low", -91, 0},
		{"longitude too high", 0, 180.5},
		{"longitude too low", 0, -181},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := baseRequest()
			req.Latitude, req.Longitude = tc.lat, tc.lng
			_, err := fx.machine.Trigger(ctx, req)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodeValidation))
		})
	}
	assert.Equal(t, 0, fx.node.SubmitAttempts())
}

func TestTriggerWithMedia(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	req := baseRequest()
	req.Media = []byte("dashcam footage")
	alert, err := fx.machine.Trigger(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.StateConfirmed, alert.State)
	require.NotEmpty(t, alert.MediaRef)

	obj, err := fx.store.GetMediaObjectByRef(ctx, alert.MediaRef)
	require.NoError(t, err)

	plaintext, err := fx.vault.Retrieve(ctx, vault.MediaObject{
		PlainDigest: obj.PlainDigest,
		CipherRef:   obj.CipherRef,
		KeyRef:      obj.KeyRef,
	})
	require.NoError(t, err)
	assert.Equal(t, req.Media, plaintext)

	subs := fx.node.Submissions()
	require.Len(t, subs, 1)
	assert.Contains(t, subs[0].Args, alert.MediaRef)
}

type failPutStore struct {
	hashstore.Store
}

func (f *failPutStore) Put(ctx context.Context, data []byte) (hashstore.Address, error) {
	return "", errors.New("backend down")
}

func TestMediaFailureAbandonsAlert(t *testing.T) {
	fx := newFixture(t, &failPutStore{Store: hashstore.NewMemoryStore()})
	ctx := context.Background()

	req := baseRequest()
	req.Media = []byte("footage")
	alert, err := fx.machine.Trigger(ctx, req)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeMediaStore))
	require.NotNil(t, alert)
	assert.Equal(t, models.StateFailed, alert.State)
	assert.Equal(t, models.ReasonMediaStoreError, alert.FailReason)
	assert.Empty(t, alert.MediaRef, "a failed alert must not reference media that was never stored")
	assert.False(t, alert.WriteUncertain)
	assert.Equal(t, 0, fx.node.SubmitAttempts())
}

func TestConcurrentTriggersShareOneSubmission(t *testing.T) {
	fx := newFixture(t, nil)
	fx.node.ConfirmAfterPolls = 2

	req := baseRequest()
	var wg sync.WaitGroup
	results := make([]*models.Alert, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = fx.machine.Trigger(context.Background(), req)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		assert.Equal(t, models.StateConfirmed, results[i].State)
	}
	assert.Equal(t, results[0].LedgerTxRef, results[1].LedgerTxRef)
	assert.Len(t, fx.node.Submissions(), 1, "exactly one ledger submission for one alert id")
}

func TestRetriggerAfterConfirmedReturnsCachedResult(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	req := baseRequest()
	first, err := fx.machine.Trigger(ctx, req)
	require.NoError(t, err)

	attempts := fx.node.SubmitAttempts()
	second, err := fx.machine.Trigger(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.LedgerTxRef, second.LedgerTxRef)
	assert.Equal(t, attempts, fx.node.SubmitAttempts(), "confirmed alerts must not be resubmitted")
}

func TestTransientFailuresRecover(t *testing.T) {
	fx := newFixture(t, nil)
	fx.node.FailuresBeforeAccept = 2

	alert, err := fx.machine.Trigger(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.Equal(t, models.StateConfirmed, alert.State)
	assert.Equal(t, 3, fx.node.SubmitAttempts())
	assert.Len(t, fx.node.Submissions(), 1)
}

func TestRejectionIsTerminalAndCertain(t *testing.T) {
	fx := newFixture(t, nil)
	fx.node.RejectWith = "malformed application args"

	alert, err := fx.machine.Trigger(context.Background(), baseRequest())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeRejected))
	require.NotNil(t, alert)
	assert.Equal(t, models.StateFailed, alert.State)
	assert.Equal(t, models.ReasonRejected, alert.FailReason)
	assert.False(t, alert.WriteUncertain, "an explicit rejection means nothing was written")
	assert.Equal(t, 1, fx.node.SubmitAttempts())
}

func TestExhaustedBudgetIsUncertain(t *testing.T) {
	fx := newFixture(t, nil)
	fx.node.FailuresBeforeAccept = 100

	alert, err := fx.machine.Trigger(context.Background(), baseRequest())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeLedgerUnavailable))
	require.NotNil(t, alert)
	assert.Equal(t, models.StateFailed, alert.State)
	assert.Equal(t, models.ReasonLedgerUnavailable, alert.FailReason)
	assert.True(t, alert.WriteUncertain, "an unobserved fate warrants an operator duplicate check")
}

func TestRetryAfterFailure(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	fx.node.RejectWith = "application not opted in"

	req := baseRequest()
	_, err := fx.machine.Trigger(ctx, req)
	require.Error(t, err)

	fx.node.RejectWith = ""
	alert, err := fx.machine.Trigger(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.StateConfirmed, alert.State)
	assert.Empty(t, alert.FailReason)
}

func TestTimeoutNeverRegressesTerminalState(t *testing.T) {
	fx := newFixture(t, nil)
	fx.node.SubmitDelay = 200 * time.Millisecond

	req := baseRequest()
	req.Timeout = 30 * time.Millisecond
	alert, err := fx.machine.Trigger(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeTimeout))
	require.NotNil(t, alert)
	assert.Equal(t, models.StateFailed, alert.State)
	assert.Equal(t, models.ReasonTimeout, alert.FailReason)
	assert.True(t, alert.WriteUncertain, "submission was on the wire when the budget expired")

	// The detached submission lands later and promotes the record.
	final := waitForState(t, fx.store, req.AlertID, models.StateConfirmed)
	assert.NotEmpty(t, final.LedgerTxRef)
	assert.False(t, final.WriteUncertain)

	// The audit trail must stay ordered: once failed was recorded, the only
	// admissible later transition is the confirmation override.
	events, err := fx.store.ListAlertEvents(context.Background(), req.AlertID)
	require.NoError(t, err)
	var states []models.AlertState
	for _, e := range events {
		states = append(states, e.State)
	}
	assert.Equal(t, []models.AlertState{
		models.StateCreated,
		models.StateLedgerSubmitting,
		models.StateFailed,
		models.StateConfirmed,
	}, states)
}

type blockingPutStore struct {
	hashstore.Store
}

func (b *blockingPutStore) Put(ctx context.Context, data []byte) (hashstore.Address, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestCancellationStopsUnsubmittedWork(t *testing.T) {
	fx := newFixture(t, &blockingPutStore{Store: hashstore.NewMemoryStore()})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	req := baseRequest()
	req.Media = []byte("footage")
	alert, err := fx.machine.Trigger(ctx, req)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeCancelled))
	require.NotNil(t, alert)
	assert.Equal(t, models.StateFailed, alert.State)
	assert.Equal(t, models.ReasonCancelled, alert.FailReason)
	assert.False(t, alert.WriteUncertain, "nothing was submitted, the failure is certain")

	// Cancelling the caller aborts the pipeline before it reaches the
	// node: the blocked media write unblocks and nothing is submitted.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, fx.node.SubmitAttempts())
}

func TestTimedOutAttemptCountedOnce(t *testing.T) {
	fx := newFixture(t, nil)
	fx.node.SubmitDelay = 200 * time.Millisecond

	req := baseRequest()
	req.Timeout = 30 * time.Millisecond
	_, err := fx.machine.Trigger(context.Background(), req)
	require.Error(t, err)
	waitForState(t, fx.store, req.AlertID, models.StateConfirmed)

	failed := testutil.ToFloat64(fx.metrics.AlertsTotal.WithLabelValues(string(models.StateFailed)))
	confirmed := testutil.ToFloat64(fx.metrics.AlertsTotal.WithLabelValues(string(models.StateConfirmed)))
	assert.Equal(t, 1.0, failed+confirmed, "one attempt, one terminal outcome in the counter")
}
