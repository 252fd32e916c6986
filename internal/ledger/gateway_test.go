package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"safechain/internal/ledger/ledgertest"
	"safechain/internal/models"
	"safechain/pkg/errors"
)

func testGateway(node *ledgertest.Node) *Gateway {
	return New(Config{
		BaseURL:      node.URL(),
		AppID:        7,
		MaxAttempts:  3,
		BaseDelay:    time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	}, zap.NewNop(), nil)
}

func testAlert() *models.Alert {
	return &models.Alert{
		AlertID:    "alert-001",
		Originator: "ACCT-ORIGINATOR",
		Latitude:   40.7128,
		Longitude:  -74.0060,
		Message:    "fire on 5th floor",
	}
}

func TestSubmitAlertSuccess(t *testing.T) {
	node := ledgertest.Start()
	defer node.Close()
	g := testGateway(node)

	txRef, err := g.SubmitAlert(context.Background(), testAlert())
	require.NoError(t, err)
	assert.NotEmpty(t, txRef)

	subs := node.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, "register_sos", subs[0].Method)
	assert.Equal(t, "ACCT-ORIGINATOR", subs[0].Sender)
	assert.Equal(t, uint64(7), subs[0].AppID)
	assert.Contains(t, subs[0].Args, "40.7128")
}

func TestSubmitRetriesTransientFailures(t *testing.T) {
	node := ledgertest.Start()
	defer node.Close()
	node.FailuresBeforeAccept = 2
	g := testGateway(node)

	txRef, err := g.SubmitAlert(context.Background(), testAlert())
	require.NoError(t, err)
	assert.NotEmpty(t, txRef)
	assert.Equal(t, 3, node.SubmitAttempts())
	assert.Len(t, node.Submissions(), 1, "exactly one logical transaction recorded")
}

func TestSubmitExhaustsRetryBudget(t *testing.T) {
	node := ledgertest.Start()
	defer node.Close()
	node.FailuresBeforeAccept = 100
	g := testGateway(node)

	_, err := g.SubmitAlert(context.Background(), testAlert())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeLedgerUnavailable))
	assert.Equal(t, 3, node.SubmitAttempts())
}

func TestSubmitRejectionIsNotRetried(t *testing.T) {
	node := ledgertest.Start()
	defer node.Close()
	node.RejectWith = "malformed application args"
	g := testGateway(node)

	_, err := g.SubmitAlert(context.Background(), testAlert())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeRejected))
	assert.Equal(t, 1, node.SubmitAttempts(), "rejections must not be retried")
}

func TestResubmissionReusesLease(t *testing.T) {
	node := ledgertest.Start()
	defer node.Close()
	g := testGateway(node)

	first, err := g.SubmitAlert(context.Background(), testAlert())
	require.NoError(t, err)
	second, err := g.SubmitAlert(context.Background(), testAlert())
	require.NoError(t, err)

	assert.Equal(t, first, second, "same domain key must map to the same tx ref")
	assert.Len(t, node.Submissions(), 1)
}

func TestAwaitConfirmation(t *testing.T) {
	node := ledgertest.Start()
	defer node.Close()
	node.ConfirmAfterPolls = 2
	g := testGateway(node)

	txRef, err := g.SubmitAlert(context.Background(), testAlert())
	require.NoError(t, err)

	status, err := g.AwaitConfirmation(context.Background(), txRef, time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, status)
}

func TestAwaitConfirmationTimeout(t *testing.T) {
	node := ledgertest.Start()
	defer node.Close()
	node.ConfirmAfterPolls = 1 << 30
	g := testGateway(node)

	txRef, err := g.SubmitAlert(context.Background(), testAlert())
	require.NoError(t, err)

	status, err := g.AwaitConfirmation(context.Background(), txRef, 30*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, StatusPending, status)
	assert.True(t, errors.IsCode(err, errors.CodeLedgerUnavailable))
}

func TestLeaseDerivationIsStable(t *testing.T) {
	a := deriveLease("alert", "alert-001")
	b := deriveLease("alert", "alert-001")
	c := deriveLease("alert", "alert-002")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	// Separator prevents boundary ambiguity between concatenated parts.
	assert.NotEqual(t, deriveLease("reward", "ab", "c"), deriveLease("reward", "a", "bc"))
}
