package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"

	"safechain/internal/models"
	"safechain/pkg/errors"
	"safechain/pkg/metrics"
)

// Status is the observed fate of a submitted transaction.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
)

// Config tunes the gateway. MaxAttempts bounds the retry budget for one
// logical submission; delays grow exponentially between attempts.
type Config struct {
	BaseURL      string
	Token        string
	AppID        uint64
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 200 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	return c
}

// Gateway builds, submits and polls ledger transactions against a remote
// node. Transient node failures are retried with bounded exponential
// backoff; because every envelope carries a lease derived from its domain
// key, a retry after an ambiguous failure cannot double-register. Explicit
// rejections are never retried.
type Gateway struct {
	cfg    Config
	client *http.Client
	log    *zap.Logger
	m      *metrics.Metrics
}

// New creates a gateway for the configured node.
func New(cfg Config, log *zap.Logger, m *metrics.Metrics) *Gateway {
	return &Gateway{
		cfg:    cfg.withDefaults(),
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
		m:      m,
	}
}

// SubmitAlert registers an alert on the ledger and returns the tx ref.
func (g *Gateway) SubmitAlert(ctx context.Context, alert *models.Alert) (string, error) {
	return g.submit(ctx, alertEnvelope(g.cfg.AppID, alert))
}

// SubmitReward issues a responder reward on the ledger.
func (g *Gateway) SubmitReward(ctx context.Context, rec *models.RewardRecord) (string, error) {
	return g.submit(ctx, rewardEnvelope(g.cfg.AppID, rec))
}

// SubmitResponderVerification records a responder's credential proof.
func (g *Gateway) SubmitResponderVerification(ctx context.Context, responderID, proof string) (string, error) {
	return g.submit(ctx, verifyEnvelope(g.cfg.AppID, responderID, proof))
}

type submitResponse struct {
	TxID string `json:"txId"`
}

type pendingResponse struct {
	ConfirmedRound uint64 `json:"confirmedRound"`
	PoolError      string `json:"poolError"`
}

type nodeError struct {
	Message string `json:"message"`
}

func (g *Gateway) submit(ctx context.Context, env Envelope) (string, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return "", errors.WrapCode(err, errors.CodeRejected, "encoding transaction envelope failed")
	}

	var lastErr error
	for attempt := 0; attempt < g.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if g.m != nil {
				g.m.LedgerRetries.Inc()
			}
			if err := g.sleep(ctx, g.backoff(attempt)); err != nil {
				return "", errors.WrapCode(err, errors.CodeCancelled, "submission cancelled during backoff")
			}
		}

		txRef, err := g.postTransaction(ctx, body)
		if err == nil {
			if g.m != nil {
				g.m.LedgerSubmissions.WithLabelValues(env.Method, "accepted").Inc()
			}
			return txRef, nil
		}
		if errors.IsCode(err, errors.CodeRejected) {
			if g.m != nil {
				g.m.LedgerSubmissions.WithLabelValues(env.Method, "rejected").Inc()
			}
			return "", err
		}
		if ctx.Err() != nil {
			return "", errors.WrapCode(ctx.Err(), errors.CodeCancelled, "submission cancelled")
		}
		lastErr = err
		g.log.Warn("ledger submission attempt failed",
			zap.String("method", env.Method),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	if g.m != nil {
		g.m.LedgerSubmissions.WithLabelValues(env.Method, "unavailable").Inc()
	}
	return "", errors.WrapCode(lastErr, errors.CodeLedgerUnavailable, "ledger node unavailable after retry budget")
}

func (g *Gateway) postTransaction(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/v2/transactions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.Token != "" {
		req.Header.Set("X-Algo-API-Token", g.cfg.Token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var out submitResponse
		if err := json.Unmarshal(data, &out); err != nil {
			return "", err
		}
		if out.TxID == "" {
			return "", errors.New("node accepted transaction without a txId")
		}
		return out.TxID, nil

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", errors.Errorf("node returned %d: %s", resp.StatusCode, nodeMessage(data))

	default:
		// 4xx: the node examined the transaction and refused it.
		return "", errors.WithCodef(errors.CodeRejected, "ledger rejected transaction: %s", nodeMessage(data))
	}
}

// AwaitConfirmation polls the node until the transaction confirms, is
// dropped from the pool, or the timeout expires. Expiry yields
// StatusPending: the transaction may still land later.
func (g *Gateway) AwaitConfirmation(ctx context.Context, txRef string, timeout time.Duration) (Status, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := g.pollOnce(ctx, txRef)
		if err == nil && status == StatusConfirmed {
			if g.m != nil {
				g.m.ConfirmLatency.Observe(time.Since(start).Seconds())
			}
			return StatusConfirmed, nil
		}
		if err == nil && status == StatusFailed {
			return StatusFailed, errors.WithCodef(errors.CodeRejected, "transaction %s dropped by the ledger", txRef)
		}
		if err != nil {
			g.log.Debug("confirmation poll failed", zap.String("tx_ref", txRef), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return StatusPending, errors.WrapCode(ctx.Err(), errors.CodeLedgerUnavailable, "confirmation not observed in time")
		case <-ticker.C:
		}
	}
}

// Status performs a single status lookup without waiting. The
// reconciliation job uses it to sweep unresolved transactions.
func (g *Gateway) Status(ctx context.Context, txRef string) (Status, error) {
	return g.pollOnce(ctx, txRef)
}

func (g *Gateway) pollOnce(ctx context.Context, txRef string) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.BaseURL+"/v2/transactions/pending/"+txRef, nil)
	if err != nil {
		return StatusPending, err
	}
	if g.cfg.Token != "" {
		req.Header.Set("X-Algo-API-Token", g.cfg.Token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return StatusPending, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return StatusPending, err
	}
	if resp.StatusCode != http.StatusOK {
		return StatusPending, errors.Errorf("status lookup returned %d: %s", resp.StatusCode, nodeMessage(data))
	}

	var out pendingResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return StatusPending, err
	}
	if out.PoolError != "" {
		return StatusFailed, nil
	}
	if out.ConfirmedRound > 0 {
		return StatusConfirmed, nil
	}
	return StatusPending, nil
}

// backoff returns the delay before the given attempt, exponential with
// jitter, capped at MaxDelay.
func (g *Gateway) backoff(attempt int) time.Duration {
	d := g.cfg.BaseDelay << (attempt - 1)
	if d > g.cfg.MaxDelay || d <= 0 {
		d = g.cfg.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}

func (g *Gateway) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nodeMessage(data []byte) string {
	var ne nodeError
	if err := json.Unmarshal(data, &ne); err == nil && ne.Message != "" {
		return ne.Message
	}
	return string(data)
}
